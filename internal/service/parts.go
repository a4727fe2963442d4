package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carparts/backend/internal/access"
	"carparts/backend/internal/domain"
	"carparts/backend/internal/ledger"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

type stockSnapshot struct {
	TotalStock     int `json:"total_stock"`
	AvailableStock int `json:"available_stock"`
	ReservedStock  int `json:"reserved_stock"`
	SoldStock      int `json:"sold_stock"`
}

func stockOf(p domain.Part) stockSnapshot {
	return stockSnapshot{
		TotalStock:     p.TotalStock,
		AvailableStock: p.AvailableStock,
		ReservedStock:  p.ReservedStock,
		SoldStock:      p.SoldStock,
	}
}

func (s *Service) ListParts(ctx context.Context, filter domain.PartFilter) ([]domain.Part, error) {
	actor, err := requireRole(ctx, domain.RoleGeneral)
	if err != nil {
		return nil, err
	}
	switch filter.Provenance {
	case "", domain.ProvenanceContainer, domain.ProvenanceLocal:
	default:
		return nil, store.Invalid("provenance", "must be container or local")
	}
	filter.Limit = normalizeLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	parts, err := s.repo.ListParts(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range parts {
		parts[i] = redactPart(actor, parts[i])
	}
	return parts, nil
}

func (s *Service) GetPart(ctx context.Context, id string) (domain.Part, error) {
	actor, err := requireRole(ctx, domain.RoleGeneral)
	if err != nil {
		return domain.Part{}, err
	}
	part, err := s.repo.GetPart(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Part{}, err
	}
	return redactPart(actor, *part), nil
}

func (s *Service) CreatePart(ctx context.Context, req domain.PartCreateRequest) (domain.Part, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Part{}, err
	}
	if req.CostPrice != nil && !access.CanSetCostPrice(actor.Role) {
		return domain.Part{}, fmt.Errorf("%w: only superadmin may set cost_price", access.ErrPermission)
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Manufacturer = strings.TrimSpace(req.Manufacturer)
	req.PartNumber = strings.TrimSpace(req.PartNumber)
	req.ContainerNo = strings.TrimSpace(req.ContainerNo)
	req.ParentID = strings.TrimSpace(req.ParentID)

	if req.Name == "" {
		return domain.Part{}, store.Invalid("name", "is required")
	}
	if req.InitialStock < 0 {
		return domain.Part{}, store.Invalid("initial_stock", "must not be negative")
	}
	if req.RecommendedPrice.IsNegative() {
		return domain.Part{}, store.Invalid("recommended_price", "must not be negative")
	}
	if req.CostPrice != nil && req.CostPrice.IsNegative() {
		return domain.Part{}, store.Invalid("cost_price", "must not be negative")
	}
	if req.LocalPurchase && req.ContainerNo != "" {
		return domain.Part{}, store.Invalid("container_no", "must be empty for a local purchase")
	}
	if req.ParentID != "" {
		if _, err := s.repo.GetPart(ctx, req.ParentID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Part{}, store.Invalid("parent_id", "parent part does not exist")
			}
			return domain.Part{}, err
		}
	}

	now := s.now()
	created, err := s.repo.CreatePart(ctx, domain.Part{
		ID:               xid.New("part"),
		Name:             req.Name,
		Manufacturer:     req.Manufacturer,
		PartNumber:       req.PartNumber,
		TotalStock:       req.InitialStock,
		AvailableStock:   req.InitialStock,
		CostPrice:        req.CostPrice,
		RecommendedPrice: req.RecommendedPrice,
		ContainerNo:      req.ContainerNo,
		LocalPurchase:    req.LocalPurchase,
		ParentID:         req.ParentID,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return domain.Part{}, err
	}

	s.logAudit(ctx, domain.ActionCreate, domain.TableParts, created.ID, nil, created)
	return redactPart(actor, *created), nil
}

// UpdatePart applies the allow-listed catalog fields. Stock counters and
// provenance have no path through here.
func (s *Service) UpdatePart(ctx context.Context, id string, req domain.PartUpdateRequest) (domain.Part, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Part{}, err
	}
	if req.CostPrice != nil && !access.CanSetCostPrice(actor.Role) {
		return domain.Part{}, fmt.Errorf("%w: only superadmin may set cost_price", access.ErrPermission)
	}

	existing, err := s.repo.GetPart(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Part{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Part{}, store.Invalid("name", "must not be empty")
		}
		updated.Name = name
	}
	if req.Manufacturer != nil {
		updated.Manufacturer = strings.TrimSpace(*req.Manufacturer)
	}
	if req.PartNumber != nil {
		updated.PartNumber = strings.TrimSpace(*req.PartNumber)
	}
	if req.RecommendedPrice != nil {
		if req.RecommendedPrice.IsNegative() {
			return domain.Part{}, store.Invalid("recommended_price", "must not be negative")
		}
		updated.RecommendedPrice = *req.RecommendedPrice
	}
	if req.CostPrice != nil {
		if req.CostPrice.IsNegative() {
			return domain.Part{}, store.Invalid("cost_price", "must not be negative")
		}
		cost := *req.CostPrice
		updated.CostPrice = &cost
	}
	if req.ParentID != nil {
		parentID := strings.TrimSpace(*req.ParentID)
		if parentID == updated.ID {
			return domain.Part{}, store.Invalid("parent_id", "a part cannot be its own parent")
		}
		if parentID != "" {
			if _, err := s.repo.GetPart(ctx, parentID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return domain.Part{}, store.Invalid("parent_id", "parent part does not exist")
				}
				return domain.Part{}, err
			}
		}
		updated.ParentID = parentID
	}

	saved, err := s.repo.UpdatePart(ctx, updated)
	if err != nil {
		return domain.Part{}, err
	}

	s.logAudit(ctx, domain.ActionUpdate, domain.TableParts, saved.ID, existing, saved)
	return redactPart(actor, *saved), nil
}

// Restock receives new units onto the shelf; total grows with available.
func (s *Service) Restock(ctx context.Context, id string, req domain.RestockRequest) (domain.Part, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Part{}, err
	}
	if req.Quantity <= 0 {
		return domain.Part{}, store.Invalid("quantity", "must be greater than zero")
	}

	var before, after domain.Part
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		current, err := tx.GetPart(ctx, id)
		if err != nil {
			return err
		}
		before = *current
		next, err := tx.AdjustStock(ctx, id, ledger.Restock(req.Quantity))
		if err != nil {
			return err
		}
		after = *next
		return nil
	})
	if err != nil {
		return domain.Part{}, err
	}

	s.logAudit(ctx, domain.ActionRestock, domain.TableParts, id, stockOf(before), struct {
		stockSnapshot
		Quantity int    `json:"quantity"`
		Note     string `json:"note,omitempty"`
	}{stockOf(after), req.Quantity, strings.TrimSpace(req.Note)})
	return redactPart(actor, after), nil
}
