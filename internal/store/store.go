package store

import (
	"context"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/domain"
)

// Repository is the persistence boundary. Multi-step mutations run through
// WithinTx so that stock movements and the records they back commit together.
type Repository interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	ListParts(ctx context.Context, filter domain.PartFilter) ([]domain.Part, error)
	GetPart(ctx context.Context, id string) (*domain.Part, error)
	CreatePart(ctx context.Context, part domain.Part) (*domain.Part, error)
	// UpdatePart writes catalog fields only; stock counters and provenance are untouched.
	UpdatePart(ctx context.Context, part domain.Part) (*domain.Part, error)

	GetBill(ctx context.Context, id string) (*domain.Bill, error)
	ListBills(ctx context.Context, filter domain.BillFilter) ([]domain.Bill, error)
	UpdateBillDetails(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	// ListRefundsByBill returns refunds oldest first, each carrying only the items
	// recorded under its own refund_id.
	ListRefundsByBill(ctx context.Context, billID string) ([]domain.Refund, error)

	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	ListReservations(ctx context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) (*domain.User, error)
	DeleteUser(ctx context.Context, id string) error
	// UserHasActivity reports whether any audit entry, bill, reservation or refund references the user.
	UserHasActivity(ctx context.Context, id string) (bool, error)
}

// Tx is the view of the repository inside one atomic unit of work. Reads through
// Tx lock the rows they return where the backend supports it.
type Tx interface {
	GetPart(ctx context.Context, id string) (*domain.Part, error)
	// AdjustStock is the only path that mutates stock counters. It fails with an
	// InsufficientStockError when any counter would drop below zero.
	AdjustStock(ctx context.Context, partID string, delta domain.StockDelta) (*domain.Part, error)

	CreateBill(ctx context.Context, bill domain.Bill) error
	GetBill(ctx context.Context, id string) (*domain.Bill, error)
	SetBillRefundTotals(ctx context.Context, billID string, totalRefunded decimal.Decimal, status string) error
	// RefundedQtyByPart sums refund item quantities per part across every refund of the bill.
	RefundedQtyByPart(ctx context.Context, billID string) (map[string]int, error)
	CreateRefund(ctx context.Context, refund domain.Refund) error

	CreateReservation(ctx context.Context, reservation domain.Reservation) error
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	// CloseReservation moves a reservation out of the reserved state. It fails with
	// ErrInvalidState when the stored status is not reserved.
	CloseReservation(ctx context.Context, id string, status string, billID string) error
}
