package domain

import "github.com/shopspring/decimal"

const (
	BillStatusActive            = "active"
	BillStatusPartiallyRefunded = "partially_refunded"
	BillStatusRefunded          = "refunded"
)

const (
	RefundTypeFull    = "full"
	RefundTypePartial = "partial"
)

const (
	ReservationStatusReserved  = "reserved"
	ReservationStatusCompleted = "completed"
	ReservationStatusCancelled = "cancelled"
)

const (
	ProvenanceContainer = "container"
	ProvenanceLocal     = "local"
)

const (
	ActionCreate              = "CREATE"
	ActionUpdate              = "UPDATE"
	ActionDelete              = "DELETE"
	ActionSell                = "SELL"
	ActionRestock             = "RESTOCK"
	ActionReserve             = "RESERVE"
	ActionCompleteReservation = "COMPLETE_RESERVATION"
	ActionCancelReservation   = "CANCEL_RESERVATION"
	ActionPartialRefund       = "PARTIAL_REFUND"
	ActionFullRefund          = "FULL_REFUND"
)

const (
	TableParts        = "parts"
	TableBills        = "bills"
	TableRefunds      = "refunds"
	TableReservations = "reservations"
	TableUsers        = "users"
)

// DeriveBillStatus is the single rule mapping a bill's totals to its status.
func DeriveBillStatus(totalAmount decimal.Decimal, totalRefunded decimal.Decimal) string {
	switch {
	case totalRefunded.Sign() <= 0:
		return BillStatusActive
	case totalRefunded.GreaterThanOrEqual(totalAmount):
		return BillStatusRefunded
	default:
		return BillStatusPartiallyRefunded
	}
}

// Provenance reports whether the part's stock came from a container or a local purchase.
func (p Part) Provenance() string {
	if p.LocalPurchase {
		return ProvenanceLocal
	}
	return ProvenanceContainer
}
