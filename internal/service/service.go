package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/access"
	"carparts/backend/internal/domain"
	"carparts/backend/internal/report"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	walkInCustomer   = "Walk-in Customer"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo    store.Repository
	reports *report.Engine
	now     func() time.Time
}

func New(repo store.Repository, reports *report.Engine) *Service {
	if reports == nil {
		reports = report.NewEngine(repo, nil, 0, 2)
	}
	return &Service{
		repo:    repo,
		reports: reports,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// requireRole returns the caller when it holds at least role.
func requireRole(ctx context.Context, role domain.Role) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", access.ErrPermission)
	}
	if err := access.Require(actor, role); err != nil {
		return domain.Actor{}, err
	}
	return actor, nil
}

// logAudit records one entry for a committed change. Failures are logged and
// swallowed; the business operation has already succeeded.
func (s *Service) logAudit(ctx context.Context, action string, table string, recordID string, oldValues any, newValues any) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:        xid.New("aud"),
		UserID:    actor.UserID,
		Username:  actor.Username,
		Action:    action,
		TableName: table,
		RecordID:  recordID,
		OldValues: snapshot(oldValues),
		NewValues: snapshot(newValues),
		IPAddress: actor.IPAddress,
		UserAgent: actor.UserAgent,
		CreatedAt: s.now(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s record=%s/%s: %v", action, table, recordID, err)
	}
}

func snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		log.Printf("[audit] WARN: failed to encode snapshot: %v", err)
		return nil
	}
	if string(raw) == "null" {
		return nil
	}
	return raw
}

// redactPart hides cost_price from anyone below superadmin.
func redactPart(actor domain.Actor, part domain.Part) domain.Part {
	if !access.CanSeeCostPrice(actor.Role) {
		part.CostPrice = nil
	}
	return part
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// validateLineItems checks a sale or reservation request and returns the items
// ordered by part id. Stock rows are always locked in that order so concurrent
// multi-item operations cannot deadlock each other.
func validateLineItems(items []domain.LineItemRequest) ([]domain.LineItemRequest, error) {
	if len(items) == 0 {
		return nil, store.Invalid("items", "at least one item is required")
	}
	seen := make(map[string]struct{}, len(items))
	result := make([]domain.LineItemRequest, 0, len(items))
	for i, item := range items {
		item.PartID = strings.TrimSpace(item.PartID)
		if item.PartID == "" {
			return nil, store.Invalid(fmt.Sprintf("items[%d].part_id", i), "is required")
		}
		if item.Quantity <= 0 {
			return nil, store.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		if !item.UnitPrice.IsPositive() {
			return nil, store.Invalid(fmt.Sprintf("items[%d].unit_price", i), "must be greater than zero")
		}
		if _, dup := seen[item.PartID]; dup {
			return nil, store.Invalid(fmt.Sprintf("items[%d].part_id", i), "part appears more than once")
		}
		seen[item.PartID] = struct{}{}
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PartID < result[j].PartID })
	return result, nil
}

func lineTotal(qty int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty)))
}

func generateBillNumber(at time.Time) string {
	return fmt.Sprintf("BILL-%s-%s", at.Format("20060102"), xid.Short())
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
