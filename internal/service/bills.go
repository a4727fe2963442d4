package service

import (
	"context"
	"strings"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
)

func (s *Service) GetBill(ctx context.Context, id string) (domain.Bill, error) {
	if _, err := requireRole(ctx, domain.RoleGeneral); err != nil {
		return domain.Bill{}, err
	}
	bill, err := s.repo.GetBill(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Bill{}, err
	}
	return *bill, nil
}

func (s *Service) ListBills(ctx context.Context, filter domain.BillFilter) ([]domain.Bill, error) {
	if _, err := requireRole(ctx, domain.RoleGeneral); err != nil {
		return nil, err
	}
	switch filter.Status {
	case "", domain.BillStatusActive, domain.BillStatusPartiallyRefunded, domain.BillStatusRefunded:
	default:
		return nil, store.Invalid("status", "unknown bill status")
	}
	if filter.From != nil && filter.To != nil && !filter.To.After(*filter.From) {
		return nil, store.Invalid("to", "must be after from")
	}
	filter.Limit = normalizeLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListBills(ctx, filter)
}

func (s *Service) ListRefunds(ctx context.Context, billID string) ([]domain.Refund, error) {
	if _, err := requireRole(ctx, domain.RoleGeneral); err != nil {
		return nil, err
	}
	billID = strings.TrimSpace(billID)
	if _, err := s.repo.GetBill(ctx, billID); err != nil {
		return nil, err
	}
	return s.repo.ListRefundsByBill(ctx, billID)
}

// UpdateBill edits customer metadata only. Items, amounts and status belong to
// the sale and refund paths.
func (s *Service) UpdateBill(ctx context.Context, id string, req domain.BillUpdateRequest) (domain.Bill, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Bill{}, err
	}

	existing, err := s.repo.GetBill(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Bill{}, err
	}

	updated := *existing
	if req.CustomerName != nil {
		name := strings.TrimSpace(*req.CustomerName)
		if name == "" {
			return domain.Bill{}, store.Invalid("customer_name", "must not be empty")
		}
		updated.CustomerName = name
	}
	if req.CustomerPhone != nil {
		updated.CustomerPhone = strings.TrimSpace(*req.CustomerPhone)
	}
	if req.BillNumber != nil {
		number := strings.TrimSpace(*req.BillNumber)
		if number == "" {
			return domain.Bill{}, store.Invalid("bill_number", "must not be empty")
		}
		updated.BillNumber = number
	}

	saved, err := s.repo.UpdateBillDetails(ctx, updated)
	if err != nil {
		return domain.Bill{}, err
	}

	s.logAudit(ctx, domain.ActionUpdate, domain.TableBills, saved.ID, billDetails(*existing), billDetails(*saved))
	return *saved, nil
}

func billDetails(bill domain.Bill) map[string]string {
	return map[string]string{
		"customer_name":  bill.CustomerName,
		"customer_phone": bill.CustomerPhone,
		"bill_number":    bill.BillNumber,
	}
}
