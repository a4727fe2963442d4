package sqlstore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/ledger"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

type txRepo struct {
	c conn
}

var _ store.Tx = (*txRepo)(nil)

func (t *txRepo) GetPart(ctx context.Context, id string) (*domain.Part, error) {
	return getPart(ctx, t.c, id, true)
}

// AdjustStock locks the part row, validates the delta with the ledger rules and
// then applies it with an update guarded on the same conditions, so the row can
// never be written negative even if a lock was not taken.
func (t *txRepo) AdjustStock(ctx context.Context, partID string, delta domain.StockDelta) (*domain.Part, error) {
	current, err := getPart(ctx, t.c, partID, true)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	next, err := ledger.Apply(*current, delta, now)
	if err != nil {
		return nil, err
	}

	res, err := t.c.exec(ctx, `
		UPDATE parts
		SET available_stock = available_stock + $2,
			reserved_stock = reserved_stock + $3,
			sold_stock = sold_stock + $4,
			total_stock = total_stock + $5,
			updated_at = $6
		WHERE id = $1
			AND available_stock + $2 >= 0
			AND reserved_stock + $3 >= 0
			AND sold_stock + $4 >= 0
	`, partID, delta.Available, delta.Reserved, delta.Sold, delta.Total(), now)
	if err != nil {
		return nil, classify(t.c.dialect, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, store.ErrConflict
	}
	return &next, nil
}

func (t *txRepo) CreateBill(ctx context.Context, bill domain.Bill) error {
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}
	bill.UpdatedAt = bill.CreatedAt

	_, err := t.c.exec(ctx, `
		INSERT INTO bills (id, bill_number, customer_name, customer_phone, status, total_amount, total_refunded,
			reservation_id, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, bill.ID, nullIfEmpty(bill.BillNumber), bill.CustomerName, nullIfEmpty(bill.CustomerPhone), bill.Status,
		bill.TotalAmount, bill.TotalRefunded, nullIfEmpty(bill.ReservationID), nullIfEmpty(bill.CreatedBy),
		bill.CreatedAt, bill.UpdatedAt)
	if err != nil {
		return classify(t.c.dialect, err)
	}

	for _, item := range bill.Items {
		if item.ID == "" {
			item.ID = xid.New("bitm")
		}
		_, err := t.c.exec(ctx, `
			INSERT INTO bill_items (id, bill_id, part_id, quantity, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, item.ID, bill.ID, item.PartID, item.Quantity, item.UnitPrice, item.TotalPrice)
		if err != nil {
			return classify(t.c.dialect, err)
		}
	}
	return nil
}

func (t *txRepo) GetBill(ctx context.Context, id string) (*domain.Bill, error) {
	return getBill(ctx, t.c, id, true)
}

func (t *txRepo) SetBillRefundTotals(ctx context.Context, billID string, totalRefunded decimal.Decimal, status string) error {
	res, err := t.c.exec(ctx, `
		UPDATE bills
		SET total_refunded = $2, status = $3, updated_at = $4
		WHERE id = $1
	`, billID, totalRefunded, status, time.Now().UTC())
	if err != nil {
		return classify(t.c.dialect, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *txRepo) RefundedQtyByPart(ctx context.Context, billID string) (map[string]int, error) {
	rows, err := t.c.query(ctx, `
		SELECT ri.part_id, COALESCE(SUM(ri.quantity), 0)
		FROM refund_items ri
		JOIN refunds r ON r.id = ri.refund_id
		WHERE r.bill_id = $1
		GROUP BY ri.part_id
	`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var partID string
		var qty int
		if err := rows.Scan(&partID, &qty); err != nil {
			return nil, err
		}
		result[partID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *txRepo) CreateRefund(ctx context.Context, refund domain.Refund) error {
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}
	_, err := t.c.exec(ctx, `
		INSERT INTO refunds (id, bill_id, refund_type, refund_amount, refund_reason, refunded_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, refund.ID, refund.BillID, refund.RefundType, refund.RefundAmount, refund.RefundReason,
		nullIfEmpty(refund.RefundedBy), refund.CreatedAt)
	if err != nil {
		return classify(t.c.dialect, err)
	}

	for _, item := range refund.Items {
		if item.ID == "" {
			item.ID = xid.New("ritm")
		}
		// refund_id always comes from the refund inserted above.
		_, err := t.c.exec(ctx, `
			INSERT INTO refund_items (id, refund_id, part_id, quantity, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, item.ID, refund.ID, item.PartID, item.Quantity, item.UnitPrice, item.TotalPrice)
		if err != nil {
			return classify(t.c.dialect, err)
		}
	}
	return nil
}

func (t *txRepo) CreateReservation(ctx context.Context, reservation domain.Reservation) error {
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = time.Now().UTC()
	}
	reservation.UpdatedAt = reservation.CreatedAt

	_, err := t.c.exec(ctx, `
		INSERT INTO reservations (id, customer_name, customer_phone, status, deposit_amount, notes, bill_id,
			created_by, created_at, updated_at, closed_at)
		VALUES ($1,$2,$3,$4,$5,$6,NULL,$7,$8,$9,NULL)
	`, reservation.ID, reservation.CustomerName, nullIfEmpty(reservation.CustomerPhone), reservation.Status,
		reservation.DepositAmount, nullIfEmpty(reservation.Notes), nullIfEmpty(reservation.CreatedBy),
		reservation.CreatedAt, reservation.UpdatedAt)
	if err != nil {
		return classify(t.c.dialect, err)
	}

	for _, item := range reservation.Items {
		if item.ID == "" {
			item.ID = xid.New("rsvi")
		}
		_, err := t.c.exec(ctx, `
			INSERT INTO reservation_items (id, reservation_id, part_id, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5)
		`, item.ID, reservation.ID, item.PartID, item.Quantity, item.UnitPrice)
		if err != nil {
			return classify(t.c.dialect, err)
		}
	}
	return nil
}

func (t *txRepo) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	return getReservation(ctx, t.c, id, true)
}

// CloseReservation only matches rows still in the reserved state, so a second
// terminal transition affects nothing and is reported as invalid state.
func (t *txRepo) CloseReservation(ctx context.Context, id string, status string, billID string) error {
	now := time.Now().UTC()
	res, err := t.c.exec(ctx, `
		UPDATE reservations
		SET status = $2, bill_id = $3, closed_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5
	`, id, status, nullIfEmpty(billID), now, domain.ReservationStatusReserved)
	if err != nil {
		return classify(t.c.dialect, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	current, err := getReservation(ctx, t.c, id, false)
	if err != nil {
		return err
	}
	return &store.InvalidStateError{Entity: "reservation", ID: id, Status: current.Status}
}
