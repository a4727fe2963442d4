package service

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/ledger"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

// Reserve holds stock for a customer: each line moves from available to reserved.
func (s *Service) Reserve(ctx context.Context, req domain.ReservationRequest) (domain.Reservation, error) {
	actor, err := requireRole(ctx, domain.RoleGeneral)
	if err != nil {
		return domain.Reservation{}, err
	}
	items, err := validateLineItems(req.Items)
	if err != nil {
		return domain.Reservation{}, err
	}
	customer := strings.TrimSpace(req.CustomerName)
	if customer == "" {
		return domain.Reservation{}, store.Invalid("customer_name", "is required")
	}
	if req.DepositAmount.IsNegative() {
		return domain.Reservation{}, store.Invalid("deposit_amount", "must not be negative")
	}

	now := s.now()
	reservation := domain.Reservation{
		ID:            xid.New("rsv"),
		CustomerName:  customer,
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Status:        domain.ReservationStatusReserved,
		DepositAmount: req.DepositAmount,
		Notes:         strings.TrimSpace(req.Notes),
		CreatedBy:     actor.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, item := range items {
		reservation.Items = append(reservation.Items, domain.ReservationItem{
			ID:            xid.New("rsvi"),
			ReservationID: reservation.ID,
			PartID:        item.PartID,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
		})
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		for _, item := range items {
			if _, err := tx.AdjustStock(ctx, item.PartID, ledger.Reserve(item.Quantity)); err != nil {
				return err
			}
		}
		return tx.CreateReservation(ctx, reservation)
	})
	if err != nil {
		return domain.Reservation{}, err
	}

	s.logAudit(ctx, domain.ActionReserve, domain.TableReservations, reservation.ID, nil, reservation)
	return reservation, nil
}

// CompleteReservation turns a reservation into a sale. Reserved units move to
// sold, a bill is written and the reservation is closed, all in one
// transaction. Final prices may override the reserved ones per part.
func (s *Service) CompleteReservation(ctx context.Context, id string, req domain.CompleteReservationRequest) (domain.Bill, error) {
	actor, err := requireRole(ctx, domain.RoleGeneral)
	if err != nil {
		return domain.Bill{}, err
	}

	overrides := make(map[string]decimal.Decimal, len(req.Items))
	for _, item := range req.Items {
		if !item.UnitPrice.IsPositive() {
			return domain.Bill{}, store.Invalid("items.unit_price", "must be greater than zero")
		}
		overrides[strings.TrimSpace(item.PartID)] = item.UnitPrice
	}

	var bill domain.Bill
	var before domain.Reservation
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		reservation, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if reservation.Status != domain.ReservationStatusReserved {
			return &store.InvalidStateError{Entity: "reservation", ID: id, Status: reservation.Status}
		}
		before = *reservation
		for partID := range overrides {
			if !reservationHasPart(reservation, partID) {
				return store.Invalid("items.part_id", "part "+partID+" is not on the reservation")
			}
		}

		now := s.now()
		bill = domain.Bill{
			ID:            xid.New("bill"),
			BillNumber:    defaultString(req.BillNumber, generateBillNumber(now)),
			CustomerName:  reservation.CustomerName,
			CustomerPhone: reservation.CustomerPhone,
			Status:        domain.BillStatusActive,
			TotalAmount:   decimal.Zero,
			TotalRefunded: decimal.Zero,
			ReservationID: reservation.ID,
			CreatedBy:     actor.UserID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		for _, item := range sortedReservationItems(reservation.Items) {
			if _, err := tx.AdjustStock(ctx, item.PartID, ledger.CompleteReservation(item.Quantity)); err != nil {
				return err
			}
			price := item.UnitPrice
			if override, ok := overrides[item.PartID]; ok {
				price = override
			}
			total := lineTotal(item.Quantity, price)
			bill.Items = append(bill.Items, domain.BillItem{
				ID:         xid.New("bitm"),
				BillID:     bill.ID,
				PartID:     item.PartID,
				Quantity:   item.Quantity,
				UnitPrice:  price,
				TotalPrice: total,
			})
			bill.TotalAmount = bill.TotalAmount.Add(total)
		}

		if err := tx.CreateBill(ctx, bill); err != nil {
			return err
		}
		return tx.CloseReservation(ctx, id, domain.ReservationStatusCompleted, bill.ID)
	})
	if err != nil {
		return domain.Bill{}, err
	}

	s.logAudit(ctx, domain.ActionCompleteReservation, domain.TableReservations, id,
		map[string]string{"status": before.Status},
		map[string]string{"status": domain.ReservationStatusCompleted, "bill_id": bill.ID})
	return bill, nil
}

// CancelReservation returns every reserved unit to available stock.
func (s *Service) CancelReservation(ctx context.Context, id string) (domain.Reservation, error) {
	if _, err := requireRole(ctx, domain.RoleGeneral); err != nil {
		return domain.Reservation{}, err
	}

	var previous string
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		reservation, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if reservation.Status != domain.ReservationStatusReserved {
			return &store.InvalidStateError{Entity: "reservation", ID: id, Status: reservation.Status}
		}
		previous = reservation.Status
		for _, item := range sortedReservationItems(reservation.Items) {
			if _, err := tx.AdjustStock(ctx, item.PartID, ledger.CancelReservation(item.Quantity)); err != nil {
				return err
			}
		}
		return tx.CloseReservation(ctx, id, domain.ReservationStatusCancelled, "")
	})
	if err != nil {
		return domain.Reservation{}, err
	}

	s.logAudit(ctx, domain.ActionCancelReservation, domain.TableReservations, id,
		map[string]string{"status": previous},
		map[string]string{"status": domain.ReservationStatusCancelled})

	reservation, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return domain.Reservation{}, err
	}
	return *reservation, nil
}

func (s *Service) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	if _, err := requireRole(ctx, domain.RoleGeneral); err != nil {
		return domain.Reservation{}, err
	}
	reservation, err := s.repo.GetReservation(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Reservation{}, err
	}
	return *reservation, nil
}

func (s *Service) ListReservations(ctx context.Context, filter domain.ReservationFilter) ([]domain.Reservation, error) {
	if _, err := requireRole(ctx, domain.RoleGeneral); err != nil {
		return nil, err
	}
	filter.Limit = normalizeLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListReservations(ctx, filter)
}

func reservationHasPart(reservation *domain.Reservation, partID string) bool {
	for _, item := range reservation.Items {
		if item.PartID == partID {
			return true
		}
	}
	return false
}

func sortedReservationItems(items []domain.ReservationItem) []domain.ReservationItem {
	sorted := append([]domain.ReservationItem(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartID < sorted[j].PartID })
	return sorted
}
