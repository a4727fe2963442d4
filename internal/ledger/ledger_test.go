package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
)

func part(avail, reserved, sold int) domain.Part {
	return domain.Part{
		ID:             "part-1",
		AvailableStock: avail,
		ReservedStock:  reserved,
		SoldStock:      sold,
		TotalStock:     avail + reserved + sold,
	}
}

func TestDeltasKeepTotalConsistent(t *testing.T) {
	cases := []struct {
		name  string
		delta domain.StockDelta
		want  domain.Part
	}{
		{"sell", Sell(3), part(7, 2, 4)},
		{"reserve", Reserve(3), part(7, 5, 1)},
		{"complete", CompleteReservation(2), part(10, 0, 3)},
		{"cancel", CancelReservation(2), part(12, 0, 1)},
		{"refund restock", RefundRestock(1), part(11, 2, 0)},
		{"restock", Restock(5), part(15, 2, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Apply(part(10, 2, 1), tc.delta, time.Time{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.True(t, Consistent(got))
		})
	}
}

func TestOnlyRestockChangesTotal(t *testing.T) {
	assert.Zero(t, Sell(4).Total())
	assert.Zero(t, Reserve(4).Total())
	assert.Zero(t, CompleteReservation(4).Total())
	assert.Zero(t, CancelReservation(4).Total())
	assert.Zero(t, RefundRestock(4).Total())
	assert.Equal(t, 4, Restock(4).Total())
}

func TestApplyRejectsNegativeCounters(t *testing.T) {
	start := part(10, 0, 0)

	got, err := Apply(start, Sell(11), time.Time{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrInsufficientStock))
	assert.Equal(t, start, got)

	var stockErr *store.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 11, stockErr.Requested)
	assert.Equal(t, 10, stockErr.Available)

	_, err = Apply(start, CompleteReservation(1), time.Time{})
	assert.True(t, errors.Is(err, store.ErrInsufficientStock))

	_, err = Apply(start, RefundRestock(1), time.Time{})
	assert.True(t, errors.Is(err, store.ErrInsufficientStock))
}

func TestApplyExactlyDrainsStock(t *testing.T) {
	got, err := Apply(part(10, 0, 0), Sell(10), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableStock)
	assert.Equal(t, 10, got.SoldStock)
	assert.Equal(t, 10, got.TotalStock)
}

func TestApplyStampsUpdatedAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	got, err := Apply(part(1, 0, 0), Restock(1), now)
	require.NoError(t, err)
	assert.Equal(t, now, got.UpdatedAt)
}
