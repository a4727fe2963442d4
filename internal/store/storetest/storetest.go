// Package storetest holds the behaviour every store.Repository must share. Each
// backend's tests call Run with a fresh repository.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/ledger"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

// Run exercises repo. It only creates records with fresh ids, so it is safe to
// point at a shared database.
func Run(t *testing.T, repo store.Repository) {
	t.Run("rollback leaves nothing behind", func(t *testing.T) { testRollback(t, repo) })
	t.Run("adjust stock guards counters", func(t *testing.T) { testAdjustStock(t, repo) })
	t.Run("refund items partitioned by refund", func(t *testing.T) { testRefundPartition(t, repo) })
	t.Run("reservation closes once", func(t *testing.T) { testCloseReservation(t, repo) })
	t.Run("bill number unique", func(t *testing.T) { testBillNumberUnique(t, repo) })
	t.Run("part filters", func(t *testing.T) { testPartFilters(t, repo) })
	t.Run("users and activity", func(t *testing.T) { testUsers(t, repo) })
	t.Run("audit log filters", func(t *testing.T) { testAuditLogs(t, repo) })
	t.Run("concurrent sales never oversell", func(t *testing.T) { testConcurrentSales(t, repo) })
}

func CreatePart(t *testing.T, repo store.Repository, stock int, mutate ...func(*domain.Part)) domain.Part {
	t.Helper()
	cost := decimal.NewFromInt(60)
	part := domain.Part{
		ID:               xid.New("part"),
		Name:             "Brake Pad",
		Manufacturer:     "Akebono",
		PartNumber:       "ACT-" + xid.Short(),
		TotalStock:       stock,
		AvailableStock:   stock,
		CostPrice:        &cost,
		RecommendedPrice: decimal.NewFromInt(100),
		ContainerNo:      "CNT-" + xid.Short(),
	}
	for _, fn := range mutate {
		fn(&part)
	}
	created, err := repo.CreatePart(context.Background(), part)
	require.NoError(t, err)
	return *created
}

func billFor(parts ...domain.Part) domain.Bill {
	id := xid.New("bill")
	bill := domain.Bill{
		ID:           id,
		BillNumber:   "INV-" + xid.Short() + xid.Short(),
		CustomerName: "John",
		Status:       domain.BillStatusActive,
	}
	for _, p := range parts {
		bill.Items = append(bill.Items, domain.BillItem{
			ID:         xid.New("bitm"),
			BillID:     id,
			PartID:     p.ID,
			Quantity:   1,
			UnitPrice:  p.RecommendedPrice,
			TotalPrice: p.RecommendedPrice,
		})
		bill.TotalAmount = bill.TotalAmount.Add(p.RecommendedPrice)
	}
	return bill
}

func testRollback(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	part := CreatePart(t, repo, 10)
	bill := billFor(part)

	boom := errors.New("boom")
	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.AdjustStock(ctx, part.ID, ledger.Sell(1)); err != nil {
			return err
		}
		if err := tx.CreateBill(ctx, bill); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.GetPart(ctx, part.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.AvailableStock)
	assert.Equal(t, 0, got.SoldStock)

	_, err = repo.GetBill(ctx, bill.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAdjustStock(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	part := CreatePart(t, repo, 10)

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustStock(ctx, part.ID, ledger.Sell(11))
		return err
	})
	var stockErr *store.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 10, stockErr.Available)
	assert.True(t, store.IsRetryable(err))

	err = repo.WithinTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustStock(ctx, xid.New("part"), ledger.Sell(1))
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		updated, err := tx.AdjustStock(ctx, part.ID, ledger.Reserve(3))
		if err != nil {
			return err
		}
		assert.Equal(t, 7, updated.AvailableStock)
		assert.Equal(t, 3, updated.ReservedStock)
		return nil
	}))

	got, err := repo.GetPart(ctx, part.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.AvailableStock)
	assert.Equal(t, 3, got.ReservedStock)
	assert.Equal(t, 10, got.TotalStock)
	assert.True(t, ledger.Consistent(*got))
}

func testRefundPartition(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	partA := CreatePart(t, repo, 5)
	partB := CreatePart(t, repo, 5)
	bill := billFor(partA, partB)
	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.CreateBill(ctx, bill)
	}))

	refund := func(part domain.Part) domain.Refund {
		id := xid.New("rfd")
		return domain.Refund{
			ID:           id,
			BillID:       bill.ID,
			RefundType:   domain.RefundTypePartial,
			RefundAmount: part.RecommendedPrice,
			RefundReason: "damaged",
			Items: []domain.RefundItem{{
				ID:         xid.New("ritm"),
				RefundID:   id,
				PartID:     part.ID,
				Quantity:   1,
				UnitPrice:  part.RecommendedPrice,
				TotalPrice: part.RecommendedPrice,
			}},
		}
	}
	first := refund(partA)
	second := refund(partB)
	second.CreatedAt = time.Now().UTC().Add(time.Second)
	for _, r := range []domain.Refund{first, second} {
		r := r
		require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
			return tx.CreateRefund(ctx, r)
		}))
	}

	refunds, err := repo.ListRefundsByBill(ctx, bill.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 2)
	assert.Equal(t, first.ID, refunds[0].ID)
	require.Len(t, refunds[0].Items, 1)
	assert.Equal(t, partA.ID, refunds[0].Items[0].PartID)
	assert.Equal(t, first.ID, refunds[0].Items[0].RefundID)
	require.Len(t, refunds[1].Items, 1)
	assert.Equal(t, partB.ID, refunds[1].Items[0].PartID)
	assert.Equal(t, second.ID, refunds[1].Items[0].RefundID)

	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		qty, err := tx.RefundedQtyByPart(ctx, bill.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, map[string]int{partA.ID: 1, partB.ID: 1}, qty)
		return nil
	}))

	got, err := repo.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)
	assert.Len(t, got.Refunds, 2)
}

func testCloseReservation(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	part := CreatePart(t, repo, 5)
	reservation := domain.Reservation{
		ID:            xid.New("rsv"),
		CustomerName:  "Jane",
		Status:        domain.ReservationStatusReserved,
		DepositAmount: decimal.NewFromInt(20),
		Items: []domain.ReservationItem{{
			ID:        xid.New("rsvi"),
			PartID:    part.ID,
			Quantity:  2,
			UnitPrice: part.RecommendedPrice,
		}},
	}
	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.CreateReservation(ctx, reservation)
	}))
	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.CloseReservation(ctx, reservation.ID, domain.ReservationStatusCancelled, "")
	}))

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.CloseReservation(ctx, reservation.ID, domain.ReservationStatusCancelled, "")
	})
	assert.ErrorIs(t, err, store.ErrInvalidState)

	got, err := repo.GetReservation(ctx, reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusCancelled, got.Status)
	require.NotNil(t, got.ClosedAt)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.True(t, got.DepositAmount.Equal(decimal.NewFromInt(20)))

	active, err := repo.ListReservations(ctx, domain.ReservationFilter{ActiveOnly: true})
	require.NoError(t, err)
	for _, r := range active {
		assert.NotEqual(t, reservation.ID, r.ID)
	}
}

func testBillNumberUnique(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	part := CreatePart(t, repo, 5)
	first := billFor(part)
	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.CreateBill(ctx, first)
	}))

	dup := billFor(part)
	dup.BillNumber = first.BillNumber
	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.CreateBill(ctx, dup)
	})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func testPartFilters(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	container := "CNT-" + xid.Short() + xid.Short()
	inStock := CreatePart(t, repo, 3, func(p *domain.Part) { p.ContainerNo = container; p.Name = "Spark Plug" })
	CreatePart(t, repo, 0, func(p *domain.Part) { p.ContainerNo = container; p.Name = "Spark Plug Wire" })

	parts, err := repo.ListParts(ctx, domain.PartFilter{ContainerNo: container})
	require.NoError(t, err)
	assert.Len(t, parts, 2)

	parts, err = repo.ListParts(ctx, domain.PartFilter{ContainerNo: container, InStock: true})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, inStock.ID, parts[0].ID)
	require.NotNil(t, parts[0].CostPrice)
	assert.True(t, parts[0].CostPrice.Equal(decimal.NewFromInt(60)))

	parts, err = repo.ListParts(ctx, domain.PartFilter{ContainerNo: container, Query: "WIRE"})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "Spark Plug Wire", parts[0].Name)

	parts, err = repo.ListParts(ctx, domain.PartFilter{ContainerNo: container, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, parts, 1)

	local := CreatePart(t, repo, 1, func(p *domain.Part) { p.LocalPurchase = true; p.ContainerNo = ""; p.ParentID = inStock.ID })
	parts, err = repo.ListParts(ctx, domain.PartFilter{Provenance: domain.ProvenanceLocal, Query: local.PartNumber})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, inStock.ID, parts[0].ParentID)

	name := "Spark Plug Iridium"
	inStock.Name = name
	inStock.CostPrice = nil
	updated, err := repo.UpdatePart(ctx, inStock)
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Nil(t, updated.CostPrice)
	assert.Equal(t, 3, updated.AvailableStock)
}

func testUsers(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	username := "user-" + xid.Short()
	user, err := repo.CreateUser(ctx, domain.User{Username: username, Password: "hash", Role: domain.RoleGeneral, Active: true})
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, domain.User{Username: username, Password: "hash", Role: domain.RoleGeneral})
	assert.ErrorIs(t, err, store.ErrValidation)

	active, err := repo.UserHasActivity(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, active)

	user.Role = domain.RoleAdmin
	user.Active = false
	user.Password = ""
	updated, err := repo.UpdateUser(ctx, *user)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, updated.Role)
	assert.False(t, updated.Active)
	assert.Equal(t, "hash", updated.Password)

	part := CreatePart(t, repo, 1)
	bill := billFor(part)
	bill.CreatedBy = user.ID
	require.NoError(t, repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.CreateBill(ctx, bill)
	}))
	active, err = repo.UserHasActivity(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, active)

	other, err := repo.CreateUser(ctx, domain.User{Username: "user-" + xid.Short(), Password: "hash", Role: domain.RoleGeneral, Active: true})
	require.NoError(t, err)
	require.NoError(t, repo.DeleteUser(ctx, other.ID))
	_, err = repo.GetUserByID(ctx, other.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAuditLogs(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	recordID := xid.New("part")
	require.NoError(t, repo.CreateAuditLog(ctx, domain.AuditLog{
		Username:  "admin",
		Action:    domain.ActionCreate,
		TableName: domain.TableParts,
		RecordID:  recordID,
		NewValues: []byte(`{"name":"Brake Pad"}`),
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}))
	require.NoError(t, repo.CreateAuditLog(ctx, domain.AuditLog{
		Username:  "admin",
		Action:    domain.ActionRestock,
		TableName: domain.TableParts,
		RecordID:  recordID,
	}))

	logs, err := repo.ListAuditLogs(ctx, domain.AuditFilter{TableName: domain.TableParts, RecordID: recordID})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.ActionRestock, logs[0].Action)
	assert.JSONEq(t, `{"name":"Brake Pad"}`, string(logs[1].NewValues))

	logs, err = repo.ListAuditLogs(ctx, domain.AuditFilter{RecordID: recordID, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func testConcurrentSales(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	part := CreatePart(t, repo, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.WithinTx(ctx, func(tx store.Tx) error {
				_, err := tx.AdjustStock(ctx, part.ID, ledger.Sell(1))
				return err
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := repo.GetPart(ctx, part.ID)
	require.NoError(t, err)
	assert.Equal(t, succeeded, got.SoldStock)
	assert.Equal(t, 5-succeeded, got.AvailableStock)
	assert.LessOrEqual(t, succeeded, 5)
	assert.True(t, ledger.Consistent(*got))
}
