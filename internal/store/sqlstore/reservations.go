package sqlstore

import (
	"context"
	"database/sql"

	"carparts/backend/internal/domain"
)

const reservationColumns = `id, customer_name, customer_phone, status, deposit_amount, notes, bill_id,
	created_by, created_at, updated_at, closed_at`

func scanReservation(row rowScanner) (domain.Reservation, error) {
	var r domain.Reservation
	var phone, notes, billID, createdBy sql.NullString
	var closedAt sql.NullTime
	err := row.Scan(&r.ID, &r.CustomerName, &phone, &r.Status, &r.DepositAmount, &notes, &billID,
		&createdBy, &r.CreatedAt, &r.UpdatedAt, &closedAt)
	if err != nil {
		return domain.Reservation{}, err
	}
	r.CustomerPhone = phone.String
	r.Notes = notes.String
	r.BillID = billID.String
	r.CreatedBy = createdBy.String
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		r.ClosedAt = &at
	}
	return r, nil
}

func getReservation(ctx context.Context, c conn, id string, lock bool) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	if lock {
		query += c.dialect.ForUpdate
	}
	r, err := scanReservation(c.queryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	items, err := reservationItems(ctx, c, id)
	if err != nil {
		return nil, err
	}
	r.Items = items
	return &r, nil
}

func reservationItems(ctx context.Context, c conn, reservationID string) ([]domain.ReservationItem, error) {
	rows, err := c.query(ctx, `
		SELECT id, reservation_id, part_id, quantity, unit_price
		FROM reservation_items
		WHERE reservation_id = $1
		ORDER BY id
	`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ReservationItem, 0, 4)
	for rows.Next() {
		var item domain.ReservationItem
		if err := rows.Scan(&item.ID, &item.ReservationID, &item.PartID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	return getReservation(ctx, s.conn(), id, false)
}

func (s *Store) ListReservations(ctx context.Context, rf domain.ReservationFilter) ([]domain.Reservation, error) {
	var f filter
	if rf.ActiveOnly {
		f.add(`status = $%d`, domain.ReservationStatusReserved)
	}
	query := `SELECT ` + reservationColumns + ` FROM reservations` + f.where() + ` ORDER BY created_at DESC, id DESC`
	query += f.page(rf.Limit, rf.Offset)

	c := s.conn()
	rows, err := c.query(ctx, query, f.args...)
	if err != nil {
		return nil, err
	}
	reservations := make([]domain.Reservation, 0, 32)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range reservations {
		items, err := reservationItems(ctx, c, reservations[i].ID)
		if err != nil {
			return nil, err
		}
		reservations[i].Items = items
	}
	return reservations, nil
}
