package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/ledger"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

// billLine is a bill's purchase of one part, summed across its items.
type billLine struct {
	quantity  int
	unitPrice decimal.Decimal
}

// Refund returns money and stock against a bill. Quantities already refunded
// are read inside the transaction from the refund_items of this bill, so the
// cumulative refund for a part can never pass what was bought.
func (s *Service) Refund(ctx context.Context, billID string, req domain.RefundRequest) (domain.Refund, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Refund{}, err
	}

	req.RefundType = strings.ToLower(strings.TrimSpace(req.RefundType))
	req.RefundReason = strings.TrimSpace(req.RefundReason)
	switch req.RefundType {
	case domain.RefundTypeFull:
	case domain.RefundTypePartial:
		if len(req.RefundItems) == 0 {
			return domain.Refund{}, store.Invalid("refund_items", "at least one item is required for a partial refund")
		}
	default:
		return domain.Refund{}, store.Invalid("refund_type", "must be full or partial")
	}
	if req.RefundReason == "" {
		return domain.Refund{}, store.Invalid("refund_reason", "is required")
	}

	var (
		refund domain.Refund
		before domain.Bill
		after  domain.Bill
	)
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		bill, err := tx.GetBill(ctx, billID)
		if err != nil {
			return err
		}
		if bill.Status == domain.BillStatusRefunded {
			return &store.InvalidStateError{Entity: "bill", ID: bill.ID, Status: bill.Status, Reason: "bill is already fully refunded"}
		}
		before = *bill

		refunded, err := tx.RefundedQtyByPart(ctx, bill.ID)
		if err != nil {
			return err
		}
		lines := purchasedLines(bill.Items)

		refund = domain.Refund{
			ID:           xid.New("rfd"),
			BillID:       bill.ID,
			RefundType:   req.RefundType,
			RefundReason: req.RefundReason,
			RefundedBy:   actor.UserID,
			CreatedAt:    s.now(),
		}

		remaining := bill.TotalAmount.Sub(bill.TotalRefunded)
		if req.RefundType == domain.RefundTypeFull {
			refund.Items = fullRefundItems(refund.ID, lines, refunded)
			refund.RefundAmount = remaining
		} else {
			items, err := partialRefundItems(refund.ID, req.RefundItems, lines, refunded)
			if err != nil {
				return err
			}
			refund.Items = items
			refund.RefundAmount = decimal.Zero
			for _, item := range items {
				refund.RefundAmount = refund.RefundAmount.Add(item.TotalPrice)
			}
		}

		if !refund.RefundAmount.IsPositive() {
			return &store.InvalidStateError{Entity: "bill", ID: bill.ID, Status: bill.Status, Reason: "nothing left to refund"}
		}
		if refund.RefundAmount.GreaterThan(remaining) {
			return store.Invalid("refund_amount", fmt.Sprintf("exceeds the remaining refundable amount %s", remaining.StringFixed(2)))
		}
		if req.RefundAmount != nil && !req.RefundAmount.Equal(refund.RefundAmount) {
			return store.Invalid("refund_amount", fmt.Sprintf("does not match the refunded items total %s", refund.RefundAmount.StringFixed(2)))
		}

		for _, item := range refund.Items {
			if _, err := tx.AdjustStock(ctx, item.PartID, ledger.RefundRestock(item.Quantity)); err != nil {
				return err
			}
		}
		if err := tx.CreateRefund(ctx, refund); err != nil {
			return err
		}

		totalRefunded := bill.TotalRefunded.Add(refund.RefundAmount)
		status := domain.DeriveBillStatus(bill.TotalAmount, totalRefunded)
		if err := tx.SetBillRefundTotals(ctx, bill.ID, totalRefunded, status); err != nil {
			return err
		}
		after = before
		after.TotalRefunded = totalRefunded
		after.Status = status
		return nil
	})
	if err != nil {
		return domain.Refund{}, err
	}

	action := domain.ActionPartialRefund
	if refund.RefundType == domain.RefundTypeFull {
		action = domain.ActionFullRefund
	}
	s.logAudit(ctx, action, domain.TableBills, billID,
		billTotals(before),
		struct {
			Status        string          `json:"status"`
			TotalRefunded decimal.Decimal `json:"total_refunded"`
			Refund        domain.Refund   `json:"refund"`
		}{after.Status, after.TotalRefunded, refund})
	return refund, nil
}

func billTotals(bill domain.Bill) map[string]any {
	return map[string]any{
		"status":         bill.Status,
		"total_amount":   bill.TotalAmount,
		"total_refunded": bill.TotalRefunded,
	}
}

func purchasedLines(items []domain.BillItem) map[string]billLine {
	lines := make(map[string]billLine, len(items))
	for _, item := range items {
		line, ok := lines[item.PartID]
		if !ok {
			line.unitPrice = item.UnitPrice
		}
		line.quantity += item.Quantity
		lines[item.PartID] = line
	}
	return lines
}

// fullRefundItems restores only what earlier refunds left behind.
func fullRefundItems(refundID string, lines map[string]billLine, refunded map[string]int) []domain.RefundItem {
	partIDs := make([]string, 0, len(lines))
	for partID := range lines {
		partIDs = append(partIDs, partID)
	}
	sort.Strings(partIDs)

	var items []domain.RefundItem
	for _, partID := range partIDs {
		line := lines[partID]
		qty := line.quantity - refunded[partID]
		if qty <= 0 {
			continue
		}
		items = append(items, domain.RefundItem{
			ID:         xid.New("ritm"),
			RefundID:   refundID,
			PartID:     partID,
			Quantity:   qty,
			UnitPrice:  line.unitPrice,
			TotalPrice: lineTotal(qty, line.unitPrice),
		})
	}
	return items
}

// partialRefundItems validates the requested lines against the bill. A zero
// unit price means the price paid.
func partialRefundItems(refundID string, requested []domain.LineItemRequest, lines map[string]billLine, refunded map[string]int) ([]domain.RefundItem, error) {
	seen := make(map[string]struct{}, len(requested))
	items := make([]domain.RefundItem, 0, len(requested))
	for i, req := range requested {
		partID := strings.TrimSpace(req.PartID)
		field := fmt.Sprintf("refund_items[%d]", i)
		if partID == "" {
			return nil, store.Invalid(field+".part_id", "is required")
		}
		if _, dup := seen[partID]; dup {
			return nil, store.Invalid(field+".part_id", "part appears more than once")
		}
		seen[partID] = struct{}{}
		if req.Quantity <= 0 {
			return nil, store.Invalid(field+".quantity", "must be greater than zero")
		}

		line, ok := lines[partID]
		if !ok {
			return nil, store.Invalid(field+".part_id", "part "+partID+" is not on this bill")
		}
		if refunded[partID]+req.Quantity > line.quantity {
			return nil, &store.OverRefundError{
				PartID:          partID,
				Purchased:       line.quantity,
				AlreadyRefunded: refunded[partID],
				Requested:       req.Quantity,
			}
		}

		price := req.UnitPrice
		switch {
		case price.IsZero():
			price = line.unitPrice
		case price.IsNegative():
			return nil, store.Invalid(field+".unit_price", "must not be negative")
		case price.GreaterThan(line.unitPrice):
			return nil, store.Invalid(field+".unit_price", "must not exceed the price paid")
		}

		items = append(items, domain.RefundItem{
			ID:         xid.New("ritm"),
			RefundID:   refundID,
			PartID:     partID,
			Quantity:   req.Quantity,
			UnitPrice:  price,
			TotalPrice: lineTotal(req.Quantity, price),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].PartID < items[j].PartID })
	return items, nil
}
