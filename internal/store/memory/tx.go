package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/ledger"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

// memTx stages every write in copies and publishes them only on commit, so a
// failed unit of work leaves the committed maps untouched. The store's write
// lock is held for the whole transaction.
type memTx struct {
	s            *Store
	now          time.Time
	parts        map[string]domain.Part
	bills        map[string]domain.Bill
	refunds      map[string]domain.Refund
	reservations map[string]domain.Reservation
}

var _ store.Tx = (*memTx)(nil)

func newTx(s *Store) *memTx {
	return &memTx{
		s:            s,
		now:          time.Now().UTC(),
		parts:        make(map[string]domain.Part),
		bills:        make(map[string]domain.Bill),
		refunds:      make(map[string]domain.Refund),
		reservations: make(map[string]domain.Reservation),
	}
}

func (t *memTx) commit() {
	for id, p := range t.parts {
		t.s.parts[id] = p
	}
	for id, b := range t.bills {
		t.s.bills[id] = b
	}
	for id, r := range t.refunds {
		t.s.refunds[id] = r
	}
	for id, r := range t.reservations {
		t.s.reservations[id] = r
	}
}

func (t *memTx) part(id string) (domain.Part, bool) {
	if p, ok := t.parts[id]; ok {
		return p, true
	}
	p, ok := t.s.parts[id]
	return p, ok
}

func (t *memTx) GetPart(_ context.Context, id string) (*domain.Part, error) {
	p, ok := t.part(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := clonePart(p)
	return &dup, nil
}

func (t *memTx) AdjustStock(_ context.Context, partID string, delta domain.StockDelta) (*domain.Part, error) {
	current, ok := t.part(partID)
	if !ok {
		return nil, store.ErrNotFound
	}
	next, err := ledger.Apply(clonePart(current), delta, t.now)
	if err != nil {
		return nil, err
	}
	t.parts[partID] = next
	dup := clonePart(next)
	return &dup, nil
}

func (t *memTx) bill(id string) (domain.Bill, bool) {
	if b, ok := t.bills[id]; ok {
		return b, true
	}
	b, ok := t.s.bills[id]
	return b, ok
}

func (t *memTx) CreateBill(_ context.Context, bill domain.Bill) error {
	if _, exists := t.bill(bill.ID); exists {
		return store.Invalid("id", "bill already exists")
	}
	if bill.BillNumber != "" && billNumberTaken(t.s.bills, t.bills, bill.BillNumber) {
		return store.Invalid("bill_number", "bill number already exists")
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = t.now
	}
	bill.UpdatedAt = bill.CreatedAt
	for i := range bill.Items {
		bill.Items[i].BillID = bill.ID
		if bill.Items[i].ID == "" {
			bill.Items[i].ID = xid.New("bitm")
		}
	}
	t.bills[bill.ID] = cloneBill(bill)
	return nil
}

func (t *memTx) GetBill(_ context.Context, id string) (*domain.Bill, error) {
	b, ok := t.bill(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneBill(b)
	return &dup, nil
}

func (t *memTx) SetBillRefundTotals(_ context.Context, billID string, totalRefunded decimal.Decimal, status string) error {
	b, ok := t.bill(billID)
	if !ok {
		return store.ErrNotFound
	}
	if totalRefunded.GreaterThan(b.TotalAmount) {
		return &store.InvalidStateError{Entity: "bill", ID: billID, Status: b.Status, Reason: "refunded total exceeds bill total"}
	}
	b = cloneBill(b)
	b.TotalRefunded = totalRefunded
	b.Status = status
	b.UpdatedAt = t.now
	t.bills[billID] = b
	return nil
}

func (t *memTx) RefundedQtyByPart(_ context.Context, billID string) (map[string]int, error) {
	refunded := make(map[string]int)
	add := func(r domain.Refund) {
		if r.BillID != billID {
			return
		}
		for _, item := range r.Items {
			refunded[item.PartID] += item.Quantity
		}
	}
	for id, r := range t.s.refunds {
		if _, shadowed := t.refunds[id]; shadowed {
			continue
		}
		add(r)
	}
	for _, r := range t.refunds {
		add(r)
	}
	return refunded, nil
}

func (t *memTx) CreateRefund(_ context.Context, refund domain.Refund) error {
	if _, exists := t.bill(refund.BillID); !exists {
		return store.ErrNotFound
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = t.now
	}
	items := make([]domain.RefundItem, len(refund.Items))
	for i, item := range refund.Items {
		item.RefundID = refund.ID
		if item.ID == "" {
			item.ID = xid.New("ritm")
		}
		items[i] = item
	}
	refund.Items = items
	t.refunds[refund.ID] = refund
	return nil
}

func (t *memTx) reservation(id string) (domain.Reservation, bool) {
	if r, ok := t.reservations[id]; ok {
		return r, true
	}
	r, ok := t.s.reservations[id]
	return r, ok
}

func (t *memTx) CreateReservation(_ context.Context, reservation domain.Reservation) error {
	if _, exists := t.reservation(reservation.ID); exists {
		return store.Invalid("id", "reservation already exists")
	}
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = t.now
	}
	reservation.UpdatedAt = reservation.CreatedAt
	for i := range reservation.Items {
		reservation.Items[i].ReservationID = reservation.ID
		if reservation.Items[i].ID == "" {
			reservation.Items[i].ID = xid.New("rsvi")
		}
	}
	t.reservations[reservation.ID] = cloneReservation(reservation)
	return nil
}

func (t *memTx) GetReservation(_ context.Context, id string) (*domain.Reservation, error) {
	r, ok := t.reservation(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneReservation(r)
	return &dup, nil
}

func (t *memTx) CloseReservation(_ context.Context, id string, status string, billID string) error {
	r, ok := t.reservation(id)
	if !ok {
		return store.ErrNotFound
	}
	if r.Status != domain.ReservationStatusReserved {
		return &store.InvalidStateError{Entity: "reservation", ID: id, Status: r.Status}
	}
	r = cloneReservation(r)
	closedAt := t.now
	r.Status = status
	r.BillID = billID
	r.ClosedAt = &closedAt
	r.UpdatedAt = closedAt
	t.reservations[id] = r
	return nil
}
