// Package ledger holds the stock movement rules for a part. Every stock change in
// the system is expressed as one of these deltas and applied through Apply, so the
// counters always satisfy total = available + reserved + sold with none negative.
package ledger

import (
	"time"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
)

func Sell(qty int) domain.StockDelta {
	return domain.StockDelta{Available: -qty, Sold: qty}
}

func Reserve(qty int) domain.StockDelta {
	return domain.StockDelta{Available: -qty, Reserved: qty}
}

func CompleteReservation(qty int) domain.StockDelta {
	return domain.StockDelta{Reserved: -qty, Sold: qty}
}

func CancelReservation(qty int) domain.StockDelta {
	return domain.StockDelta{Reserved: -qty, Available: qty}
}

// RefundRestock returns refunded units to the shelf.
func RefundRestock(qty int) domain.StockDelta {
	return domain.StockDelta{Available: qty, Sold: -qty}
}

func Restock(qty int) domain.StockDelta {
	return domain.StockDelta{Available: qty}
}

// Apply returns part with delta applied, or an InsufficientStockError naming the
// counter source when the result would go negative. The input is never modified.
func Apply(part domain.Part, delta domain.StockDelta, now time.Time) (domain.Part, error) {
	next := part
	next.AvailableStock += delta.Available
	next.ReservedStock += delta.Reserved
	next.SoldStock += delta.Sold
	next.TotalStock += delta.Total()

	switch {
	case next.AvailableStock < 0:
		return part, &store.InsufficientStockError{PartID: part.ID, Requested: -delta.Available, Available: part.AvailableStock}
	case next.ReservedStock < 0:
		return part, &store.InsufficientStockError{PartID: part.ID, Requested: -delta.Reserved, Available: part.ReservedStock}
	case next.SoldStock < 0:
		return part, &store.InsufficientStockError{PartID: part.ID, Requested: -delta.Sold, Available: part.SoldStock}
	}
	if next.TotalStock != next.AvailableStock+next.ReservedStock+next.SoldStock {
		return part, &store.InvalidStateError{Entity: "part", ID: part.ID, Status: "inconsistent", Reason: "stock counters do not add up"}
	}
	if !now.IsZero() {
		next.UpdatedAt = now
	}
	return next, nil
}

// Consistent reports whether the counters satisfy the ledger invariants.
func Consistent(part domain.Part) bool {
	return part.AvailableStock >= 0 && part.ReservedStock >= 0 && part.SoldStock >= 0 &&
		part.TotalStock == part.AvailableStock+part.ReservedStock+part.SoldStock
}
