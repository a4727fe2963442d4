package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a random identifier carrying a short type prefix, e.g. "bill-3f0c...".
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// Short returns the first block of a fresh UUID, upper-cased, for human-facing numbers.
func Short() string {
	id := uuid.New()
	return fmt.Sprintf("%X", id[:4])
}
