package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOverRefund        = errors.New("refund exceeds purchased quantity")
	ErrInvalidState      = errors.New("invalid state")
	ErrValidation        = errors.New("validation failed")
	// ErrConflict marks a transaction aborted by the database because of a
	// concurrent writer. Safe to retry.
	ErrConflict = errors.New("concurrent modification")
)

type InsufficientStockError struct {
	PartID    string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for part %s: requested %d, available %d", e.PartID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

type OverRefundError struct {
	PartID          string
	Purchased       int
	AlreadyRefunded int
	Requested       int
}

func (e *OverRefundError) Error() string {
	return fmt.Sprintf("over-refund for part %s: purchased %d, already refunded %d, requested %d",
		e.PartID, e.Purchased, e.AlreadyRefunded, e.Requested)
}

func (e *OverRefundError) Unwrap() error {
	return ErrOverRefund
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid is shorthand for a field-level ValidationError.
func Invalid(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

type InvalidStateError struct {
	Entity string
	ID     string
	Status string
	Reason string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("%s %s is %s", e.Entity, e.ID, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// IsRetryable reports whether a caller may safely retry the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrInsufficientStock)
}
