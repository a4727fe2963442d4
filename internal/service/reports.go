package service

import (
	"context"
	"encoding/json"
	"time"

	"carparts/backend/internal/access"
	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
)

const maxSalesReportRange = 366 * 24 * time.Hour

func (s *Service) ListAuditLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLog, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	filter.Limit = normalizeLimit(filter.Limit)
	entries, err := s.repo.ListAuditLogs(ctx, filter)
	if err != nil {
		return nil, err
	}
	if access.CanSeeCostPrice(actor.Role) {
		return entries, nil
	}
	for i := range entries {
		entries[i].OldValues = withoutCostPrice(entries[i].OldValues)
		entries[i].NewValues = withoutCostPrice(entries[i].NewValues)
	}
	return entries, nil
}

// withoutCostPrice drops a top-level cost_price from a part snapshot.
func withoutCostPrice(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return raw
	}
	if _, ok := fields["cost_price"]; !ok {
		return raw
	}
	delete(fields, "cost_price")
	redacted, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return redacted
}

func (s *Service) InventoryReport(ctx context.Context) (domain.InventoryReport, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.InventoryReport{}, err
	}
	return s.reports.Inventory(ctx, access.CanSeeCostPrice(actor.Role))
}

// SalesReport summarises bills created in [from, to). A zero to means now and
// a zero from means thirty days before to.
func (s *Service) SalesReport(ctx context.Context, from time.Time, to time.Time) (domain.SalesReport, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.SalesReport{}, err
	}
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if !to.After(from) {
		return domain.SalesReport{}, store.Invalid("to", "must be after from")
	}
	if to.Sub(from) > maxSalesReportRange {
		return domain.SalesReport{}, store.Invalid("from", "range must not exceed one year")
	}
	return s.reports.Sales(ctx, from.UTC(), to.UTC())
}
