package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/ledger"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

// Sell moves every line from available to sold and records the bill in a single
// transaction. Any failing line rolls back the whole sale.
func (s *Service) Sell(ctx context.Context, req domain.SaleRequest) (domain.Bill, error) {
	actor, err := requireRole(ctx, domain.RoleGeneral)
	if err != nil {
		return domain.Bill{}, err
	}
	items, err := validateLineItems(req.Items)
	if err != nil {
		return domain.Bill{}, err
	}

	now := s.now()
	bill := domain.Bill{
		ID:            xid.New("bill"),
		BillNumber:    defaultString(req.BillNumber, generateBillNumber(now)),
		CustomerName:  defaultString(req.CustomerName, walkInCustomer),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Status:        domain.BillStatusActive,
		TotalAmount:   decimal.Zero,
		TotalRefunded: decimal.Zero,
		CreatedBy:     actor.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, item := range items {
		total := lineTotal(item.Quantity, item.UnitPrice)
		bill.Items = append(bill.Items, domain.BillItem{
			ID:         xid.New("bitm"),
			BillID:     bill.ID,
			PartID:     item.PartID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: total,
		})
		bill.TotalAmount = bill.TotalAmount.Add(total)
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		for _, item := range items {
			if _, err := tx.AdjustStock(ctx, item.PartID, ledger.Sell(item.Quantity)); err != nil {
				return err
			}
		}
		return tx.CreateBill(ctx, bill)
	})
	if err != nil {
		return domain.Bill{}, err
	}

	s.logAudit(ctx, domain.ActionSell, domain.TableBills, bill.ID, nil, bill)
	return bill, nil
}

// QuickSell sells a single unit of one part at the given price. It is a
// one-line Sell and produces a bill like any other sale.
func (s *Service) QuickSell(ctx context.Context, partID string, req domain.QuickSellRequest) (domain.Part, error) {
	actor, err := requireRole(ctx, domain.RoleGeneral)
	if err != nil {
		return domain.Part{}, err
	}
	bill, err := s.Sell(ctx, domain.SaleRequest{
		Items:         []domain.LineItemRequest{{PartID: partID, Quantity: 1, UnitPrice: req.SoldPrice}},
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
	})
	if err != nil {
		return domain.Part{}, err
	}

	part, err := s.repo.GetPart(ctx, bill.Items[0].PartID)
	if err != nil {
		return domain.Part{}, err
	}
	return redactPart(actor, *part), nil
}
