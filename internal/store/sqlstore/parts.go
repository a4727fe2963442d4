package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

const partColumns = `id, name, manufacturer, part_number, total_stock, available_stock, reserved_stock, sold_stock,
	cost_price, recommended_price, container_no, local_purchase, parent_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPart(row rowScanner) (domain.Part, error) {
	var p domain.Part
	var partNumber, containerNo, parentID sql.NullString
	var cost decimal.NullDecimal
	err := row.Scan(
		&p.ID, &p.Name, &p.Manufacturer, &partNumber,
		&p.TotalStock, &p.AvailableStock, &p.ReservedStock, &p.SoldStock,
		&cost, &p.RecommendedPrice, &containerNo, &p.LocalPurchase, &parentID,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Part{}, err
	}
	p.PartNumber = partNumber.String
	p.ContainerNo = containerNo.String
	p.ParentID = parentID.String
	if cost.Valid {
		c := cost.Decimal
		p.CostPrice = &c
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func nullCost(cost *decimal.Decimal) decimal.NullDecimal {
	if cost == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *cost, Valid: true}
}

func getPart(ctx context.Context, c conn, id string, lock bool) (*domain.Part, error) {
	query := `SELECT ` + partColumns + ` FROM parts WHERE id = $1`
	if lock {
		query += c.dialect.ForUpdate
	}
	p, err := scanPart(c.queryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) ListParts(ctx context.Context, pf domain.PartFilter) ([]domain.Part, error) {
	var f filter
	if q := strings.ToLower(strings.TrimSpace(pf.Query)); q != "" {
		f.add(`(LOWER(name) LIKE $%[1]d OR LOWER(manufacturer) LIKE $%[1]d OR LOWER(COALESCE(part_number, '')) LIKE $%[1]d)`, "%"+q+"%")
	}
	switch pf.Provenance {
	case domain.ProvenanceLocal:
		f.add(`local_purchase = $%d`, true)
	case domain.ProvenanceContainer:
		f.add(`local_purchase = $%d`, false)
	}
	if pf.ContainerNo != "" {
		f.add(`container_no = $%d`, pf.ContainerNo)
	}
	if pf.InStock {
		f.add(`available_stock >= $%d`, 1)
	}
	query := `SELECT ` + partColumns + ` FROM parts` + f.where() + ` ORDER BY name, id`
	query += f.page(pf.Limit, pf.Offset)

	rows, err := s.conn().query(ctx, query, f.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	parts := make([]domain.Part, 0, 64)
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return parts, nil
}

func (s *Store) GetPart(ctx context.Context, id string) (*domain.Part, error) {
	return getPart(ctx, s.conn(), id, false)
}

func (s *Store) CreatePart(ctx context.Context, part domain.Part) (*domain.Part, error) {
	if part.ID == "" {
		part.ID = xid.New("part")
	}
	if part.TotalStock != part.AvailableStock+part.ReservedStock+part.SoldStock {
		return nil, store.Invalid("total_stock", "must equal available + reserved + sold")
	}
	if part.CreatedAt.IsZero() {
		part.CreatedAt = time.Now().UTC()
	}
	part.UpdatedAt = part.CreatedAt

	_, err := s.conn().exec(ctx, `
		INSERT INTO parts (id, name, manufacturer, part_number, total_stock, available_stock, reserved_stock, sold_stock,
			cost_price, recommended_price, container_no, local_purchase, parent_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, part.ID, part.Name, part.Manufacturer, nullIfEmpty(part.PartNumber),
		part.TotalStock, part.AvailableStock, part.ReservedStock, part.SoldStock,
		nullCost(part.CostPrice), part.RecommendedPrice, nullIfEmpty(part.ContainerNo), part.LocalPurchase,
		nullIfEmpty(part.ParentID), part.CreatedAt, part.UpdatedAt)
	if err != nil {
		return nil, s.classify(err)
	}
	return &part, nil
}

func (s *Store) UpdatePart(ctx context.Context, part domain.Part) (*domain.Part, error) {
	res, err := s.conn().exec(ctx, `
		UPDATE parts
		SET name = $2, manufacturer = $3, part_number = $4, recommended_price = $5, cost_price = $6,
			parent_id = $7, updated_at = $8
		WHERE id = $1
	`, part.ID, part.Name, part.Manufacturer, nullIfEmpty(part.PartNumber), part.RecommendedPrice,
		nullCost(part.CostPrice), nullIfEmpty(part.ParentID), time.Now().UTC())
	if err != nil {
		return nil, s.classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetPart(ctx, part.ID)
}
