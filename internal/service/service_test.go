package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"carparts/backend/internal/access"
	"carparts/backend/internal/domain"
	"carparts/backend/internal/ledger"
	"carparts/backend/internal/store"
	"carparts/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.New()
	return New(repo, nil), repo
}

func as(role domain.Role) context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID:   "usr-" + string(role),
		Username: string(role),
		Role:     role,
	})
}

func addPart(t *testing.T, repo *memory.Store, id string, stock int, price int64) {
	t.Helper()
	cost := decimal.NewFromInt(price / 2)
	_, err := repo.CreatePart(context.Background(), domain.Part{
		ID:               id,
		Name:             "Part " + id,
		Manufacturer:     "Denso",
		TotalStock:       stock,
		AvailableStock:   stock,
		CostPrice:        &cost,
		RecommendedPrice: decimal.NewFromInt(price),
		ContainerNo:      "CNT-1",
	})
	if err != nil {
		t.Fatalf("create part %s: %v", id, err)
	}
}

func mustPart(t *testing.T, repo *memory.Store, id string) domain.Part {
	t.Helper()
	part, err := repo.GetPart(context.Background(), id)
	if err != nil {
		t.Fatalf("get part %s: %v", id, err)
	}
	if !ledger.Consistent(*part) {
		t.Fatalf("part %s breaks the stock invariant: %+v", id, *part)
	}
	return *part
}

func line(partID string, qty int, price int64) domain.LineItemRequest {
	return domain.LineItemRequest{PartID: partID, Quantity: qty, UnitPrice: decimal.NewFromInt(price)}
}

func TestSellSingleUnit(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-x", 10, 100)

	bill, err := svc.Sell(as(domain.RoleGeneral), domain.SaleRequest{
		CustomerName: "John",
		Items:        []domain.LineItemRequest{line("part-x", 1, 100)},
	})
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if !bill.TotalAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected total 100, got %s", bill.TotalAmount)
	}
	if bill.Status != domain.BillStatusActive || bill.CustomerName != "John" || bill.BillNumber == "" {
		t.Fatalf("unexpected bill header: %+v", bill)
	}
	if bill.CreatedBy != "usr-general" {
		t.Fatalf("expected created_by to be the seller id, got %q", bill.CreatedBy)
	}

	part := mustPart(t, repo, "part-x")
	if part.AvailableStock != 9 || part.SoldStock != 1 || part.TotalStock != 10 {
		t.Fatalf("unexpected counters after sale: %+v", part)
	}
}

func TestSellMoreThanAvailableIsRejected(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-x", 10, 100)

	_, err := svc.Sell(as(domain.RoleGeneral), domain.SaleRequest{
		Items: []domain.LineItemRequest{line("part-x", 11, 100)},
	})
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if stockErr.Available != 10 || stockErr.Requested != 11 {
		t.Fatalf("unexpected error detail: %+v", stockErr)
	}
	if !store.IsRetryable(err) {
		t.Fatalf("insufficient stock should be retryable")
	}
	if part := mustPart(t, repo, "part-x"); part.AvailableStock != 10 {
		t.Fatalf("expected stock unchanged at 10, got %d", part.AvailableStock)
	}
}

func TestSellRollsBackEveryLineWhenOneFails(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-a", 5, 100)
	addPart(t, repo, "part-b", 1, 100)

	_, err := svc.Sell(as(domain.RoleGeneral), domain.SaleRequest{
		Items: []domain.LineItemRequest{line("part-a", 2, 100), line("part-b", 2, 100)},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if part := mustPart(t, repo, "part-a"); part.AvailableStock != 5 || part.SoldStock != 0 {
		t.Fatalf("first line was not rolled back: %+v", part)
	}
	bills, err := svc.ListBills(as(domain.RoleGeneral), domain.BillFilter{})
	if err != nil {
		t.Fatalf("list bills: %v", err)
	}
	if len(bills) != 0 {
		t.Fatalf("expected no bill after a failed sale, got %d", len(bills))
	}
}

func TestSellValidatesItems(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-a", 5, 100)
	ctx := as(domain.RoleGeneral)

	cases := map[string][]domain.LineItemRequest{
		"empty":          nil,
		"zero quantity":  {line("part-a", 0, 100)},
		"zero price":     {line("part-a", 1, 0)},
		"duplicate part": {line("part-a", 1, 100), line("part-a", 1, 100)},
		"missing part":   {line("", 1, 100)},
	}
	for name, items := range cases {
		if _, err := svc.Sell(ctx, domain.SaleRequest{Items: items}); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	if _, err := svc.Sell(ctx, domain.SaleRequest{Items: []domain.LineItemRequest{line("part-missing", 1, 100)}}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown part, got %v", err)
	}
}

func TestSellRequiresActor(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-a", 5, 100)

	_, err := svc.Sell(context.Background(), domain.SaleRequest{Items: []domain.LineItemRequest{line("part-a", 1, 100)}})
	if !errors.Is(err, access.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestQuickSellCreatesBill(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-a", 3, 100)
	ctx := as(domain.RoleGeneral)

	part, err := svc.QuickSell(ctx, "part-a", domain.QuickSellRequest{SoldPrice: decimal.NewFromInt(90)})
	if err != nil {
		t.Fatalf("quick sell failed: %v", err)
	}
	if part.AvailableStock != 2 || part.SoldStock != 1 {
		t.Fatalf("unexpected counters: %+v", part)
	}
	if part.CostPrice != nil {
		t.Fatalf("general user must not see cost price")
	}

	bills, err := svc.ListBills(ctx, domain.BillFilter{})
	if err != nil || len(bills) != 1 {
		t.Fatalf("expected one bill, got %d (%v)", len(bills), err)
	}
	if bills[0].CustomerName != walkInCustomer || !bills[0].TotalAmount.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("unexpected quick sell bill: %+v", bills[0])
	}
}

func TestReservationLifecycle(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-y", 5, 50)
	ctx := as(domain.RoleGeneral)

	reservation, err := svc.Reserve(ctx, domain.ReservationRequest{
		CustomerName:  "Jane",
		DepositAmount: decimal.NewFromInt(20),
		Items:         []domain.LineItemRequest{line("part-y", 2, 50)},
	})
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if reservation.Status != domain.ReservationStatusReserved {
		t.Fatalf("expected reserved status, got %s", reservation.Status)
	}
	if part := mustPart(t, repo, "part-y"); part.AvailableStock != 3 || part.ReservedStock != 2 {
		t.Fatalf("unexpected counters after reserve: %+v", part)
	}

	cancelled, err := svc.CancelReservation(ctx, reservation.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.ReservationStatusCancelled || cancelled.ClosedAt == nil {
		t.Fatalf("unexpected cancelled reservation: %+v", cancelled)
	}
	if part := mustPart(t, repo, "part-y"); part.AvailableStock != 5 || part.ReservedStock != 0 {
		t.Fatalf("cancel did not restore stock: %+v", part)
	}
	if _, err := svc.CancelReservation(ctx, reservation.ID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on second cancel, got %v", err)
	}

	second, err := svc.Reserve(ctx, domain.ReservationRequest{
		CustomerName: "Jane",
		Items:        []domain.LineItemRequest{line("part-y", 2, 50)},
	})
	if err != nil {
		t.Fatalf("second reserve failed: %v", err)
	}
	bill, err := svc.CompleteReservation(ctx, second.ID, domain.CompleteReservationRequest{})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if bill.ReservationID != second.ID || len(bill.Items) != 1 || bill.Items[0].Quantity != 2 {
		t.Fatalf("bill does not mirror the reservation: %+v", bill)
	}
	if !bill.TotalAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected total 100, got %s", bill.TotalAmount)
	}
	if part := mustPart(t, repo, "part-y"); part.AvailableStock != 3 || part.ReservedStock != 0 || part.SoldStock != 2 {
		t.Fatalf("unexpected counters after completion: %+v", part)
	}

	completed, err := svc.GetReservation(ctx, second.ID)
	if err != nil {
		t.Fatalf("get reservation: %v", err)
	}
	if completed.Status != domain.ReservationStatusCompleted || completed.BillID != bill.ID {
		t.Fatalf("unexpected completed reservation: %+v", completed)
	}
	if _, err := svc.CompleteReservation(ctx, second.ID, domain.CompleteReservationRequest{}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on second completion, got %v", err)
	}
	if _, err := svc.CancelReservation(ctx, second.ID); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state cancelling a completed reservation, got %v", err)
	}

	active, err := svc.ListReservations(ctx, domain.ReservationFilter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("list reservations: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active reservations, got %d", len(active))
	}
}

func TestCompleteReservationWithFinalPrice(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-a", 5, 100)
	addPart(t, repo, "part-b", 5, 40)
	ctx := as(domain.RoleGeneral)

	reservation, err := svc.Reserve(ctx, domain.ReservationRequest{
		CustomerName: "Rudi",
		Items:        []domain.LineItemRequest{line("part-a", 1, 100), line("part-b", 2, 40)},
	})
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	if _, err := svc.CompleteReservation(ctx, reservation.ID, domain.CompleteReservationRequest{
		Items: []domain.LineItemRequest{line("part-c", 1, 10)},
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for a part not on the reservation, got %v", err)
	}

	bill, err := svc.CompleteReservation(ctx, reservation.ID, domain.CompleteReservationRequest{
		Items: []domain.LineItemRequest{line("part-a", 0, 90)},
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if !bill.TotalAmount.Equal(decimal.NewFromInt(170)) {
		t.Fatalf("expected 90 + 2*40 = 170, got %s", bill.TotalAmount)
	}
}

func TestReserveValidatesCustomer(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-a", 5, 100)

	_, err := svc.Reserve(as(domain.RoleGeneral), domain.ReservationRequest{
		Items: []domain.LineItemRequest{line("part-a", 1, 100)},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func sellFor(t *testing.T, svc *Service, items ...domain.LineItemRequest) domain.Bill {
	t.Helper()
	bill, err := svc.Sell(as(domain.RoleGeneral), domain.SaleRequest{CustomerName: "Customer", Items: items})
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	return bill
}

func partialRefund(items ...domain.LineItemRequest) domain.RefundRequest {
	return domain.RefundRequest{RefundType: domain.RefundTypePartial, RefundReason: "damaged", RefundItems: items}
}

func TestPartialRefundCannotExceedPurchasedQuantity(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-p", 10, 100)
	bill := sellFor(t, svc, line("part-p", 3, 100))
	ctx := as(domain.RoleAdmin)

	first, err := svc.Refund(ctx, bill.ID, partialRefund(line("part-p", 2, 0)))
	if err != nil {
		t.Fatalf("first refund failed: %v", err)
	}
	if len(first.Items) != 1 || first.Items[0].Quantity != 2 || first.Items[0].RefundID != first.ID {
		t.Fatalf("unexpected first refund items: %+v", first.Items)
	}

	_, err = svc.Refund(ctx, bill.ID, partialRefund(line("part-p", 2, 0)))
	var overErr *store.OverRefundError
	if !errors.As(err, &overErr) {
		t.Fatalf("expected over-refund error, got %v", err)
	}
	if overErr.Purchased != 3 || overErr.AlreadyRefunded != 2 || overErr.Requested != 2 {
		t.Fatalf("unexpected over-refund detail: %+v", overErr)
	}

	if part := mustPart(t, repo, "part-p"); part.AvailableStock != 9 || part.SoldStock != 1 {
		t.Fatalf("expected only the first refund restored: %+v", part)
	}
	refunds, err := svc.ListRefunds(ctx, bill.ID)
	if err != nil {
		t.Fatalf("list refunds: %v", err)
	}
	if len(refunds) != 1 {
		t.Fatalf("expected one refund, got %d", len(refunds))
	}
}

func TestRefundItemsBelongToTheirRefund(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-a", 5, 100)
	addPart(t, repo, "part-b", 5, 70)
	bill := sellFor(t, svc, line("part-a", 1, 100), line("part-b", 1, 70))
	ctx := as(domain.RoleAdmin)

	first, err := svc.Refund(ctx, bill.ID, partialRefund(line("part-a", 1, 0)))
	if err != nil {
		t.Fatalf("refund a: %v", err)
	}
	second, err := svc.Refund(ctx, bill.ID, partialRefund(line("part-b", 1, 0)))
	if err != nil {
		t.Fatalf("refund b: %v", err)
	}

	loaded, err := svc.GetBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if len(loaded.Refunds) != 2 {
		t.Fatalf("expected two refunds, got %d", len(loaded.Refunds))
	}
	for _, refund := range loaded.Refunds {
		if len(refund.Items) != 1 {
			t.Fatalf("refund %s has %d items", refund.ID, len(refund.Items))
		}
		want := map[string]string{first.ID: "part-a", second.ID: "part-b"}[refund.ID]
		if refund.Items[0].PartID != want || refund.Items[0].RefundID != refund.ID {
			t.Fatalf("refund %s carries %+v, want %s", refund.ID, refund.Items[0], want)
		}
	}
	if loaded.Status != domain.BillStatusRefunded {
		t.Fatalf("expected bill fully refunded, got %s", loaded.Status)
	}
}

func TestFullRefundRestoresOnlyTheRemainder(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-p", 10, 100)
	bill := sellFor(t, svc, line("part-p", 5, 100))
	ctx := as(domain.RoleAdmin)

	if _, err := svc.Refund(ctx, bill.ID, partialRefund(line("part-p", 2, 0))); err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	partial, err := svc.GetBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if partial.Status != domain.BillStatusPartiallyRefunded || !partial.TotalRefunded.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected bill after partial refund: %s %s", partial.Status, partial.TotalRefunded)
	}

	full, err := svc.Refund(ctx, bill.ID, domain.RefundRequest{RefundType: domain.RefundTypeFull, RefundReason: "returned"})
	if err != nil {
		t.Fatalf("full refund: %v", err)
	}
	if len(full.Items) != 1 || full.Items[0].Quantity != 3 {
		t.Fatalf("expected the full refund to restore 3, got %+v", full.Items)
	}
	if !full.RefundAmount.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected refund amount 300, got %s", full.RefundAmount)
	}
	if part := mustPart(t, repo, "part-p"); part.AvailableStock != 10 || part.SoldStock != 0 {
		t.Fatalf("unexpected counters after full refund: %+v", part)
	}

	loaded, err := svc.GetBill(ctx, bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	sum := decimal.Zero
	for _, refund := range loaded.Refunds {
		sum = sum.Add(refund.RefundAmount)
	}
	if !sum.Equal(loaded.TotalRefunded) || !loaded.TotalRefunded.Equal(loaded.TotalAmount) {
		t.Fatalf("refund totals disagree: sum=%s refunded=%s total=%s", sum, loaded.TotalRefunded, loaded.TotalAmount)
	}
	if loaded.Status != domain.DeriveBillStatus(loaded.TotalAmount, sum) {
		t.Fatalf("persisted status %s does not match derived status", loaded.Status)
	}

	_, err = svc.Refund(ctx, bill.ID, domain.RefundRequest{RefundType: domain.RefundTypeFull, RefundReason: "again"})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state refunding a refunded bill, got %v", err)
	}
}

func TestPartialRefundRollsBackOnLaterLine(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-a", 5, 100)
	addPart(t, repo, "part-b", 5, 100)
	bill := sellFor(t, svc, line("part-a", 2, 100), line("part-b", 1, 100))

	_, err := svc.Refund(as(domain.RoleAdmin), bill.ID, partialRefund(line("part-a", 1, 0), line("part-b", 2, 0)))
	if !errors.Is(err, store.ErrOverRefund) {
		t.Fatalf("expected over-refund, got %v", err)
	}
	if part := mustPart(t, repo, "part-a"); part.AvailableStock != 3 {
		t.Fatalf("part-a restock was not rolled back: %+v", part)
	}
	loaded, err := svc.GetBill(as(domain.RoleAdmin), bill.ID)
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if len(loaded.Refunds) != 0 || loaded.Status != domain.BillStatusActive {
		t.Fatalf("bill changed by a rejected refund: %+v", loaded)
	}
}

func TestRefundValidation(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-a", 5, 100)
	bill := sellFor(t, svc, line("part-a", 2, 100))
	admin := as(domain.RoleAdmin)

	if _, err := svc.Refund(as(domain.RoleGeneral), bill.ID, partialRefund(line("part-a", 1, 0))); !errors.Is(err, access.ErrPermission) {
		t.Fatalf("expected permission error for general user, got %v", err)
	}
	if _, err := svc.Refund(admin, "bill-missing", partialRefund(line("part-a", 1, 0))); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	wrongAmount := decimal.NewFromInt(150)
	req := partialRefund(line("part-a", 1, 0))
	req.RefundAmount = &wrongAmount
	if _, err := svc.Refund(admin, bill.ID, req); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for mismatched amount, got %v", err)
	}

	invalid := []domain.RefundRequest{
		{RefundType: "store-credit", RefundReason: "x"},
		{RefundType: domain.RefundTypePartial, RefundReason: "x"},
		{RefundType: domain.RefundTypeFull},
		partialRefund(line("part-a", 1, 150)),
		partialRefund(line("part-z", 1, 0)),
	}
	for i, r := range invalid {
		if _, err := svc.Refund(admin, bill.ID, r); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}

	lower := partialRefund(line("part-a", 1, 60))
	refund, err := svc.Refund(admin, bill.ID, lower)
	if err != nil {
		t.Fatalf("refund at a lower price: %v", err)
	}
	if !refund.RefundAmount.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected 60, got %s", refund.RefundAmount)
	}
}

func TestCreatePartPermissions(t *testing.T) {
	svc, _ := newTestService()
	cost := decimal.NewFromInt(60)
	req := domain.PartCreateRequest{
		Name:             "Brake Disc",
		Manufacturer:     "Brembo",
		InitialStock:     4,
		RecommendedPrice: decimal.NewFromInt(100),
		ContainerNo:      "CNT-9",
	}

	if _, err := svc.CreatePart(as(domain.RoleGeneral), req); !errors.Is(err, access.ErrPermission) {
		t.Fatalf("expected general user to be rejected, got %v", err)
	}

	withCost := req
	withCost.CostPrice = &cost
	if _, err := svc.CreatePart(as(domain.RoleAdmin), withCost); !errors.Is(err, access.ErrPermission) {
		t.Fatalf("expected admin setting cost price to be rejected, got %v", err)
	}

	created, err := svc.CreatePart(as(domain.RoleSuperadmin), withCost)
	if err != nil {
		t.Fatalf("superadmin create: %v", err)
	}
	if created.CostPrice == nil || !created.CostPrice.Equal(cost) {
		t.Fatalf("superadmin should see cost price, got %+v", created.CostPrice)
	}
	if created.TotalStock != 4 || created.AvailableStock != 4 || !ledger.Consistent(created) {
		t.Fatalf("unexpected initial counters: %+v", created)
	}

	seen, err := svc.GetPart(as(domain.RoleAdmin), created.ID)
	if err != nil {
		t.Fatalf("admin get: %v", err)
	}
	if seen.CostPrice != nil {
		t.Fatalf("admin must not see cost price")
	}
}

func TestCreatePartValidatesProvenance(t *testing.T) {
	svc, _ := newTestService()
	ctx := as(domain.RoleAdmin)

	_, err := svc.CreatePart(ctx, domain.PartCreateRequest{
		Name:          "Wiper",
		LocalPurchase: true,
		ContainerNo:   "CNT-1",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for local purchase with container, got %v", err)
	}

	_, err = svc.CreatePart(ctx, domain.PartCreateRequest{Name: "Wiper", ParentID: "part-missing"})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for unknown parent, got %v", err)
	}

	local, err := svc.CreatePart(ctx, domain.PartCreateRequest{Name: "Wiper", LocalPurchase: true})
	if err != nil {
		t.Fatalf("create local part: %v", err)
	}
	parts, err := svc.ListParts(ctx, domain.PartFilter{Provenance: domain.ProvenanceLocal})
	if err != nil {
		t.Fatalf("list parts: %v", err)
	}
	if len(parts) != 1 || parts[0].ID != local.ID {
		t.Fatalf("expected only the local part, got %+v", parts)
	}
	if _, err := svc.ListParts(ctx, domain.PartFilter{Provenance: "ship"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for unknown provenance, got %v", err)
	}
}

func TestUpdatePartKeepsStockAndCost(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-a", 5, 100)

	name := "Renamed"
	price := decimal.NewFromInt(120)
	updated, err := svc.UpdatePart(as(domain.RoleAdmin), "part-a", domain.PartUpdateRequest{Name: &name, RecommendedPrice: &price})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != name || !updated.RecommendedPrice.Equal(price) || updated.AvailableStock != 5 {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	stored := mustPart(t, repo, "part-a")
	if stored.CostPrice == nil || !stored.CostPrice.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("admin edit must not clear cost price, got %+v", stored.CostPrice)
	}

	cost := decimal.NewFromInt(55)
	if _, err := svc.UpdatePart(as(domain.RoleAdmin), "part-a", domain.PartUpdateRequest{CostPrice: &cost}); !errors.Is(err, access.ErrPermission) {
		t.Fatalf("expected admin cost update to be rejected, got %v", err)
	}
	self := "part-a"
	if _, err := svc.UpdatePart(as(domain.RoleAdmin), "part-a", domain.PartUpdateRequest{ParentID: &self}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected self-parent to be rejected, got %v", err)
	}
}

func TestRestock(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-a", 2, 100)
	sellFor(t, svc, line("part-a", 1, 100))

	part, err := svc.Restock(as(domain.RoleAdmin), "part-a", domain.RestockRequest{Quantity: 4})
	if err != nil {
		t.Fatalf("restock: %v", err)
	}
	if part.AvailableStock != 5 || part.SoldStock != 1 || part.TotalStock != 6 {
		t.Fatalf("unexpected counters after restock: %+v", part)
	}
	if _, err := svc.Restock(as(domain.RoleAdmin), "part-a", domain.RestockRequest{}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}
	if _, err := svc.Restock(as(domain.RoleGeneral), "part-a", domain.RestockRequest{Quantity: 1}); !errors.Is(err, access.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestUpdateBillEditsMetadataOnly(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-a", 5, 100)
	bill := sellFor(t, svc, line("part-a", 1, 100))
	other := sellFor(t, svc, line("part-a", 1, 100))
	ctx := as(domain.RoleAdmin)

	name := "Budi"
	number := "INV-001"
	updated, err := svc.UpdateBill(ctx, bill.ID, domain.BillUpdateRequest{CustomerName: &name, BillNumber: &number})
	if err != nil {
		t.Fatalf("update bill: %v", err)
	}
	if updated.CustomerName != name || updated.BillNumber != number || !updated.TotalAmount.Equal(bill.TotalAmount) {
		t.Fatalf("unexpected bill after edit: %+v", updated)
	}

	if _, err := svc.UpdateBill(ctx, other.ID, domain.BillUpdateRequest{BillNumber: &number}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected duplicate bill number to be rejected, got %v", err)
	}

	entries, err := svc.ListAuditLogs(ctx, domain.AuditFilter{TableName: domain.TableBills, RecordID: bill.ID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 2 || entries[0].Action != domain.ActionUpdate {
		t.Fatalf("expected UPDATE above SELL in the audit trail, got %+v", entries)
	}
	var before map[string]string
	if err := json.Unmarshal(entries[0].OldValues, &before); err != nil {
		t.Fatalf("decode old values: %v", err)
	}
	if before["customer_name"] != "Customer" {
		t.Fatalf("old snapshot should carry the previous name, got %v", before)
	}
}

type failingAuditRepo struct {
	*memory.Store
}

func (failingAuditRepo) CreateAuditLog(context.Context, domain.AuditLog) error {
	return errors.New("audit sink unavailable")
}

func TestAuditFailureDoesNotAbortSale(t *testing.T) {
	repo := memory.New()
	addPart(t, repo, "part-a", 5, 100)
	svc := New(failingAuditRepo{repo}, nil)

	if _, err := svc.Sell(as(domain.RoleGeneral), domain.SaleRequest{Items: []domain.LineItemRequest{line("part-a", 1, 100)}}); err != nil {
		t.Fatalf("sale should succeed without the audit sink: %v", err)
	}
	if part := mustPart(t, repo, "part-a"); part.SoldStock != 1 {
		t.Fatalf("sale was not committed: %+v", part)
	}
}

func TestAuditLogHidesCostFromAdmin(t *testing.T) {
	svc, _ := newTestService()
	cost := decimal.NewFromInt(10)
	created, err := svc.CreatePart(as(domain.RoleSuperadmin), domain.PartCreateRequest{Name: "Fuse", CostPrice: &cost})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	entries, err := svc.ListAuditLogs(as(domain.RoleAdmin), domain.AuditFilter{RecordID: created.ID})
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry, got %d (%v)", len(entries), err)
	}
	var fields map[string]any
	if err := json.Unmarshal(entries[0].NewValues, &fields); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := fields["cost_price"]; ok {
		t.Fatalf("admin audit view leaked cost_price")
	}

	entries, err = svc.ListAuditLogs(as(domain.RoleSuperadmin), domain.AuditFilter{RecordID: created.ID})
	if err != nil {
		t.Fatalf("superadmin list: %v", err)
	}
	if err := json.Unmarshal(entries[0].NewValues, &fields); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := fields["cost_price"]; !ok {
		t.Fatalf("superadmin should see cost_price in audit snapshots")
	}

	if _, err := svc.ListAuditLogs(as(domain.RoleGeneral), domain.AuditFilter{}); !errors.Is(err, access.ErrPermission) {
		t.Fatalf("expected general user to be rejected, got %v", err)
	}
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-hot", 5, 100)
	ctx := as(domain.RoleGeneral)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Sell(ctx, domain.SaleRequest{Items: []domain.LineItemRequest{line("part-hot", 1, 100)}})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, store.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 5 {
		t.Fatalf("expected exactly 5 sales, got %d", succeeded)
	}
	if part := mustPart(t, repo, "part-hot"); part.AvailableStock != 0 || part.SoldStock != 5 {
		t.Fatalf("unexpected counters: %+v", part)
	}
}

func TestReportsRespectCostVisibility(t *testing.T) {
	svc, repo := newTestService()
	addPart(t, repo, "part-a", 4, 100)
	sellFor(t, svc, line("part-a", 1, 100))

	if _, err := svc.InventoryReport(as(domain.RoleGeneral)); !errors.Is(err, access.ErrPermission) {
		t.Fatalf("expected general user to be rejected, got %v", err)
	}
	adminReport, err := svc.InventoryReport(as(domain.RoleAdmin))
	if err != nil {
		t.Fatalf("admin inventory: %v", err)
	}
	if adminReport.CostValue != nil {
		t.Fatalf("admin report must not carry cost value")
	}
	superReport, err := svc.InventoryReport(as(domain.RoleSuperadmin))
	if err != nil {
		t.Fatalf("superadmin inventory: %v", err)
	}
	if superReport.CostValue == nil {
		t.Fatalf("superadmin report should carry cost value")
	}

	sales, err := svc.SalesReport(as(domain.RoleAdmin), time.Time{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sales report: %v", err)
	}
	if sales.Bills != 1 || !sales.GrossAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected sales report: %+v", sales)
	}
}
