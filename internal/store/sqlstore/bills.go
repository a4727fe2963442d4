package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
)

const billColumns = `id, bill_number, customer_name, customer_phone, status, total_amount, total_refunded,
	reservation_id, created_by, created_at, updated_at`

func scanBill(row rowScanner) (domain.Bill, error) {
	var b domain.Bill
	var billNumber, phone, reservationID, createdBy sql.NullString
	err := row.Scan(&b.ID, &billNumber, &b.CustomerName, &phone, &b.Status, &b.TotalAmount, &b.TotalRefunded,
		&reservationID, &createdBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return domain.Bill{}, err
	}
	b.BillNumber = billNumber.String
	b.CustomerPhone = phone.String
	b.ReservationID = reservationID.String
	b.CreatedBy = createdBy.String
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func getBill(ctx context.Context, c conn, id string, lock bool) (*domain.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE id = $1`
	if lock {
		query += c.dialect.ForUpdate
	}
	b, err := scanBill(c.queryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	items, err := billItems(ctx, c, id)
	if err != nil {
		return nil, err
	}
	b.Items = items
	return &b, nil
}

func billItems(ctx context.Context, c conn, billID string) ([]domain.BillItem, error) {
	rows, err := c.query(ctx, `
		SELECT id, bill_id, part_id, quantity, unit_price, total_price
		FROM bill_items
		WHERE bill_id = $1
		ORDER BY id
	`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.BillItem, 0, 4)
	for rows.Next() {
		var item domain.BillItem
		if err := rows.Scan(&item.ID, &item.BillID, &item.PartID, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// refundsForBill rebuilds refund history. Items are attached to their refund
// strictly through refund_items.refund_id.
func refundsForBill(ctx context.Context, c conn, billID string) ([]domain.Refund, error) {
	rows, err := c.query(ctx, `
		SELECT id, bill_id, refund_type, refund_amount, refund_reason, refunded_by, created_at
		FROM refunds
		WHERE bill_id = $1
		ORDER BY created_at, id
	`, billID)
	if err != nil {
		return nil, err
	}
	refunds := make([]domain.Refund, 0, 2)
	index := make(map[string]int)
	for rows.Next() {
		var r domain.Refund
		var refundedBy sql.NullString
		if err := rows.Scan(&r.ID, &r.BillID, &r.RefundType, &r.RefundAmount, &r.RefundReason, &refundedBy, &r.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		r.RefundedBy = refundedBy.String
		r.CreatedAt = r.CreatedAt.UTC()
		r.Items = make([]domain.RefundItem, 0, 2)
		index[r.ID] = len(refunds)
		refunds = append(refunds, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(refunds) == 0 {
		return refunds, nil
	}

	itemRows, err := c.query(ctx, `
		SELECT ri.id, ri.refund_id, ri.part_id, ri.quantity, ri.unit_price, ri.total_price
		FROM refund_items ri
		JOIN refunds r ON r.id = ri.refund_id
		WHERE r.bill_id = $1
		ORDER BY ri.refund_id, ri.id
	`, billID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var item domain.RefundItem
		if err := itemRows.Scan(&item.ID, &item.RefundID, &item.PartID, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, err
		}
		i, ok := index[item.RefundID]
		if !ok {
			continue
		}
		refunds[i].Items = append(refunds[i].Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	return refunds, nil
}

func (s *Store) GetBill(ctx context.Context, id string) (*domain.Bill, error) {
	c := s.conn()
	bill, err := getBill(ctx, c, id, false)
	if err != nil {
		return nil, err
	}
	refunds, err := refundsForBill(ctx, c, id)
	if err != nil {
		return nil, err
	}
	bill.Refunds = refunds
	return bill, nil
}

func (s *Store) ListBills(ctx context.Context, bf domain.BillFilter) ([]domain.Bill, error) {
	var f filter
	if bf.Status != "" {
		f.add(`status = $%d`, bf.Status)
	}
	if bf.From != nil {
		f.add(`created_at >= $%d`, bf.From.UTC())
	}
	if bf.To != nil {
		f.add(`created_at < $%d`, bf.To.UTC())
	}
	query := `SELECT ` + billColumns + ` FROM bills` + f.where() + ` ORDER BY created_at DESC, id DESC`
	query += f.page(bf.Limit, bf.Offset)

	rows, err := s.conn().query(ctx, query, f.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 32)
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bills, nil
}

func (s *Store) UpdateBillDetails(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	res, err := s.conn().exec(ctx, `
		UPDATE bills
		SET customer_name = $2, customer_phone = $3, bill_number = $4, updated_at = $5
		WHERE id = $1
	`, bill.ID, bill.CustomerName, nullIfEmpty(bill.CustomerPhone), nullIfEmpty(bill.BillNumber), time.Now().UTC())
	if err != nil {
		return nil, s.classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetBill(ctx, bill.ID)
}

func (s *Store) ListRefundsByBill(ctx context.Context, billID string) ([]domain.Refund, error) {
	c := s.conn()
	var exists string
	if err := c.queryRow(ctx, `SELECT id FROM bills WHERE id = $1`, billID).Scan(&exists); err != nil {
		return nil, notFound(err)
	}
	return refundsForBill(ctx, c, billID)
}
