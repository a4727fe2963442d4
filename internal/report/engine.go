package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/cache"
	"carparts/backend/internal/domain"
)

// Source is the read side the engine summarises.
type Source interface {
	ListParts(ctx context.Context, filter domain.PartFilter) ([]domain.Part, error)
	ListBills(ctx context.Context, filter domain.BillFilter) ([]domain.Bill, error)
}

type Engine struct {
	source            Source
	cache             cache.ReportCache
	cacheTTL          time.Duration
	lowStockThreshold int
	now               func() time.Time
}

func NewEngine(source Source, cacheStore cache.ReportCache, cacheTTL time.Duration, lowStockThreshold int) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if lowStockThreshold < 0 {
		lowStockThreshold = 0
	}

	return &Engine{
		source:            source,
		cache:             cacheStore,
		cacheTTL:          cacheTTL,
		lowStockThreshold: lowStockThreshold,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// Inventory summarises stock across the catalog. Cost figures are computed only
// when includeCost is set, and the two variants are cached under separate keys.
func (e *Engine) Inventory(ctx context.Context, includeCost bool) (domain.InventoryReport, error) {
	cacheKey := fmt.Sprintf("report:inventory:cost=%t", includeCost)
	var cached domain.InventoryReport
	if e.lookup(ctx, cacheKey, &cached) {
		return cached, nil
	}

	parts, err := e.source.ListParts(ctx, domain.PartFilter{})
	if err != nil {
		return domain.InventoryReport{}, err
	}

	rep := domain.InventoryReport{
		GeneratedAt:  e.now().Format(time.RFC3339),
		PartCount:    len(parts),
		StockValue:   decimal.Zero,
		ByProvenance: make([]domain.ProvenanceSummary, 0, 8),
		LowStock:     make([]domain.LowStockPart, 0, 8),
	}
	costValue := decimal.Zero
	groups := make(map[string]*domain.ProvenanceSummary)
	for _, p := range parts {
		rep.TotalStock += p.TotalStock
		rep.AvailableStock += p.AvailableStock
		rep.ReservedStock += p.ReservedStock
		rep.SoldStock += p.SoldStock

		onHand := decimal.NewFromInt(int64(p.AvailableStock + p.ReservedStock))
		rep.StockValue = rep.StockValue.Add(p.RecommendedPrice.Mul(onHand))
		if includeCost && p.CostPrice != nil {
			costValue = costValue.Add(p.CostPrice.Mul(onHand))
		}

		key := p.Provenance() + "|" + p.ContainerNo
		group, ok := groups[key]
		if !ok {
			group = &domain.ProvenanceSummary{Provenance: p.Provenance(), ContainerNo: p.ContainerNo}
			groups[key] = group
		}
		group.PartCount++
		group.AvailableStock += p.AvailableStock
		group.SoldStock += p.SoldStock

		if p.AvailableStock <= e.lowStockThreshold {
			rep.LowStock = append(rep.LowStock, domain.LowStockPart{
				PartID:         p.ID,
				Name:           p.Name,
				PartNumber:     p.PartNumber,
				AvailableStock: p.AvailableStock,
			})
		}
	}
	if includeCost {
		rep.CostValue = &costValue
	}

	for _, group := range groups {
		rep.ByProvenance = append(rep.ByProvenance, *group)
	}
	sort.Slice(rep.ByProvenance, func(i, j int) bool {
		a, b := rep.ByProvenance[i], rep.ByProvenance[j]
		if a.Provenance != b.Provenance {
			return a.Provenance < b.Provenance
		}
		return a.ContainerNo < b.ContainerNo
	})
	sort.Slice(rep.LowStock, func(i, j int) bool {
		a, b := rep.LowStock[i], rep.LowStock[j]
		if a.AvailableStock != b.AvailableStock {
			return a.AvailableStock < b.AvailableStock
		}
		return a.Name < b.Name
	})

	e.store(ctx, cacheKey, rep)
	return rep, nil
}

// Sales summarises bills created in [from, to). Refunds count against the day
// the bill was created.
func (e *Engine) Sales(ctx context.Context, from time.Time, to time.Time) (domain.SalesReport, error) {
	from, to = from.UTC(), to.UTC()
	cacheKey := fmt.Sprintf("report:sales:%d:%d", from.Unix(), to.Unix())
	var cached domain.SalesReport
	if e.lookup(ctx, cacheKey, &cached) {
		return cached, nil
	}

	bills, err := e.source.ListBills(ctx, domain.BillFilter{From: &from, To: &to})
	if err != nil {
		return domain.SalesReport{}, err
	}

	rep := domain.SalesReport{
		From:           from.Format(time.RFC3339),
		To:             to.Format(time.RFC3339),
		Bills:          len(bills),
		GrossAmount:    decimal.Zero,
		RefundedAmount: decimal.Zero,
		ByStatus: map[string]int{
			domain.BillStatusActive:            0,
			domain.BillStatusPartiallyRefunded: 0,
			domain.BillStatusRefunded:          0,
		},
	}
	for _, b := range bills {
		rep.GrossAmount = rep.GrossAmount.Add(b.TotalAmount)
		rep.RefundedAmount = rep.RefundedAmount.Add(b.TotalRefunded)
		rep.ByStatus[b.Status]++
	}
	rep.NetAmount = rep.GrossAmount.Sub(rep.RefundedAmount)

	e.store(ctx, cacheKey, rep)
	return rep, nil
}

func (e *Engine) lookup(ctx context.Context, key string, dst any) bool {
	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		log.Printf("[report] WARN: cache get key=%s: %v", key, err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Printf("[report] WARN: cache decode key=%s: %v", key, err)
		return false
	}
	return true
}

func (e *Engine) store(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = e.cache.Set(ctx, key, payload, e.cacheTTL)
}
