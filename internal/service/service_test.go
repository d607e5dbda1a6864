package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store/memory"
)

const (
	shopA = "shop-a"
	shopB = "shop-b"
)

var (
	adminActor = domain.Actor{UserID: "admin", Name: "Owner", Role: domain.RoleAdmin}
	managerA   = domain.Actor{UserID: "manager-a", Role: domain.RoleManager, ShopID: shopA}
	techA      = domain.Actor{UserID: "tech-a", Role: domain.RoleTechnician, ShopID: shopA}
	techB      = domain.Actor{UserID: "tech-b", Role: domain.RoleTechnician, ShopID: shopB}
)

var fixedNow = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) snapshot() []domain.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.ChangeEvent(nil), p.events...)
}

func as(actor domain.Actor) context.Context {
	return WithActor(context.Background(), actor)
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	svc := New(memory.New(), opts...)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func seedItem(t *testing.T, svc *Service, shopID string, name string, stock int) domain.InventoryItem {
	t.Helper()
	item, err := svc.CreateItem(as(adminActor), domain.ItemCreateRequest{
		Name:              name,
		Category:          domain.CategorySpare,
		ShopID:            shopID,
		Stock:             stock,
		ReorderLevel:      1,
		SellingPriceCents: 150000,
	})
	require.NoError(t, err)
	return item
}

func stockOf(t *testing.T, svc *Service, id string) int {
	t.Helper()
	item, err := svc.GetItem(as(adminActor), id)
	require.NoError(t, err)
	return item.Stock
}

func rowAt(t *testing.T, svc *Service, name string, shopID string) (domain.InventoryItem, bool) {
	t.Helper()
	items, err := svc.ListItems(as(adminActor), domain.ItemFilter{ShopID: shopID, Name: name})
	require.NoError(t, err)
	for _, item := range items {
		if item.ShopID == shopID {
			return item, true
		}
	}
	return domain.InventoryItem{}, false
}

func TestOperationsRequirePrincipal(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ListItems(context.Background(), domain.ItemFilter{})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAdjustStockNeverGoesNegative(t *testing.T) {
	svc := newTestService(t)
	item := seedItem(t, svc, shopA, "Nokia 105 Battery", 2)

	_, err := svc.AdjustStock(as(managerA), domain.StockAdjustRequest{StockKey: domain.StockKey{ItemID: item.ID}, Delta: -3, Reason: "damaged"})
	var stockErr *store.StockError
	require.ErrorAs(t, err, &stockErr)
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	require.Equal(t, 2, stockErr.Available)
	require.Equal(t, 3, stockErr.Requested)
	require.Equal(t, 2, stockOf(t, svc, item.ID))

	resp, err := svc.AdjustStock(as(managerA), domain.StockAdjustRequest{StockKey: domain.StockKey{Name: "nokia 105 battery", ShopID: shopA}, Delta: 1, Reason: "recount"})
	require.NoError(t, err)
	require.Equal(t, 3, resp.NewStock)

	_, err = svc.AdjustStock(as(techA), domain.StockAdjustRequest{StockKey: domain.StockKey{ItemID: item.ID}, Delta: 1, Reason: "recount"})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestCreateItemHidesAdminCostFromStaff(t *testing.T) {
	svc := newTestService(t)
	item, err := svc.CreateItem(as(adminActor), domain.ItemCreateRequest{
		Name: "Infinix Hot 40", Category: domain.CategoryPhone, ShopID: shopA, Stock: 2, AdminCostPriceCents: 1200000,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1200000, item.AdminCostPriceCents)

	seen, err := svc.GetItem(as(techA), item.ID)
	require.NoError(t, err)
	require.Zero(t, seen.AdminCostPriceCents)

	_, err = svc.CreateItem(as(managerA), domain.ItemCreateRequest{Name: "Pool Thing", Category: domain.CategorySpare, Stock: 1})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestPurchaseLandsInPool(t *testing.T) {
	svc := newTestService(t)

	purchase, err := svc.CreatePurchase(as(managerA), domain.PurchaseCreateRequest{
		SupplierID: "sup-1",
		ShopID:     shopA,
		Lines:      []domain.PurchaseLine{{ItemName: " Oppo  A17 Screen ", Category: domain.CategorySpare, Qty: 5, CostPriceCents: 100000}},
	})
	require.NoError(t, err)
	require.EqualValues(t, 500000, purchase.TotalCents)
	require.Len(t, purchase.Lines, 1)

	pool, ok := rowAt(t, svc, "Oppo A17 Screen", domain.PoolShopID)
	require.True(t, ok)
	require.Equal(t, purchase.Lines[0].ItemID, pool.ID)
	require.Equal(t, 5, pool.Stock)
	require.True(t, pool.PendingAllocation)

	_, err = svc.CreatePurchase(as(adminActor), domain.PurchaseCreateRequest{
		SupplierID: "sup-1",
		Lines:      []domain.PurchaseLine{{ItemID: pool.ID, Qty: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, 7, stockOf(t, svc, pool.ID))

	_, shopRow := rowAt(t, svc, "Oppo A17 Screen", shopA)
	require.False(t, shopRow)

	_, err = svc.CreatePurchase(as(techA), domain.PurchaseCreateRequest{
		SupplierID: "sup-1",
		Lines:      []domain.PurchaseLine{{ItemName: "Anything", Category: domain.CategorySpare, Qty: 1}},
	})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAllocationApprovalMovesStockExactlyOnce(t *testing.T) {
	svc := newTestService(t)
	pool := seedItem(t, svc, domain.PoolShopID, "iPhone 11 Screen", 10)
	seedItem(t, svc, shopA, "iPhone 11 Screen", 3)

	allocation, err := svc.RequestAllocation(as(managerA), domain.AllocationCreateRequest{
		ItemID:       pool.ID,
		TotalQty:     6,
		Destinations: []domain.AllocationLine{{ShopID: shopB, Qty: 2}, {ShopID: shopA, Qty: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, domain.AllocationPending, allocation.Status)
	require.Equal(t, 10, stockOf(t, svc, pool.ID))

	_, err = svc.ApproveAllocation(as(managerA), allocation.ID)
	require.ErrorIs(t, err, ErrUnauthorized)

	resp, err := svc.ApproveAllocation(as(adminActor), allocation.ID)
	require.NoError(t, err)
	require.False(t, resp.AlreadyProcessed)
	require.Equal(t, domain.AllocationApproved, resp.Allocation.Status)

	require.Equal(t, 4, stockOf(t, svc, pool.ID))
	rowA, _ := rowAt(t, svc, "iPhone 11 Screen", shopA)
	require.Equal(t, 7, rowA.Stock)
	rowB, ok := rowAt(t, svc, "iPhone 11 Screen", shopB)
	require.True(t, ok)
	require.Equal(t, 2, rowB.Stock)

	again, err := svc.ApproveAllocation(as(adminActor), allocation.ID)
	require.NoError(t, err)
	require.True(t, again.AlreadyProcessed)
	require.Equal(t, 4, stockOf(t, svc, pool.ID))

	_, err = svc.RejectAllocation(as(adminActor), allocation.ID)
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
}

func TestAllocationRaceOnlyOneWins(t *testing.T) {
	svc := newTestService(t)
	pool := seedItem(t, svc, domain.PoolShopID, "Tecno Spark Screen", 10)

	ids := make([]string, 2)
	for i, shopID := range []string{shopA, shopB} {
		allocation, err := svc.RequestAllocation(as(adminActor), domain.AllocationCreateRequest{
			ItemID:       pool.ID,
			TotalQty:     6,
			Destinations: []domain.AllocationLine{{ShopID: shopID, Qty: 6}},
		})
		require.NoError(t, err)
		ids[i] = allocation.ID
	}

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.ApproveAllocation(as(adminActor), id)
		}()
	}
	wg.Wait()

	succeeded, exceeded := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrAllocationExceedsPool):
			exceeded++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, exceeded)

	left, err := svc.GetItem(as(adminActor), pool.ID)
	require.NoError(t, err)
	require.Equal(t, 4, left.Stock)
	require.True(t, left.PendingAllocation)

	pending, err := svc.ListAllocations(as(adminActor), domain.AllocationPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestRequestAllocationValidation(t *testing.T) {
	svc := newTestService(t)
	pool := seedItem(t, svc, domain.PoolShopID, "Redmi Note Screen", 5)
	shopItem := seedItem(t, svc, shopA, "Redmi Note Screen", 5)

	cases := []struct {
		name string
		req  domain.AllocationCreateRequest
		want error
	}{
		{"sum mismatch", domain.AllocationCreateRequest{ItemID: pool.ID, TotalQty: 4, Destinations: []domain.AllocationLine{{ShopID: shopA, Qty: 3}}}, store.ErrInvalidInput},
		{"duplicate shop", domain.AllocationCreateRequest{ItemID: pool.ID, TotalQty: 2, Destinations: []domain.AllocationLine{{ShopID: shopA, Qty: 1}, {ShopID: shopA, Qty: 1}}}, store.ErrInvalidInput},
		{"exceeds pool", domain.AllocationCreateRequest{ItemID: pool.ID, TotalQty: 6, Destinations: []domain.AllocationLine{{ShopID: shopA, Qty: 6}}}, store.ErrAllocationExceedsPool},
		{"not pool stock", domain.AllocationCreateRequest{ItemID: shopItem.ID, TotalQty: 1, Destinations: []domain.AllocationLine{{ShopID: shopB, Qty: 1}}}, store.ErrInvalidInput},
		{"unknown item", domain.AllocationCreateRequest{ItemID: "itm-missing", TotalQty: 1, Destinations: []domain.AllocationLine{{ShopID: shopB, Qty: 1}}}, store.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.RequestAllocation(as(adminActor), tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := svc.RequestAllocation(as(techA), domain.AllocationCreateRequest{ItemID: pool.ID, TotalQty: 1, Destinations: []domain.AllocationLine{{ShopID: shopA, Qty: 1}}})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAllocatingWholePoolClearsPendingFlag(t *testing.T) {
	svc := newTestService(t)
	pool := seedItem(t, svc, domain.PoolShopID, "Type-C Cable", 10)

	allocation, err := svc.RequestAllocation(as(adminActor), domain.AllocationCreateRequest{
		ItemID: pool.ID, TotalQty: 10, Destinations: []domain.AllocationLine{{ShopID: shopA, Qty: 10}},
	})
	require.NoError(t, err)
	_, err = svc.ApproveAllocation(as(adminActor), allocation.ID)
	require.NoError(t, err)

	left, err := svc.GetItem(as(adminActor), pool.ID)
	require.NoError(t, err)
	require.Zero(t, left.Stock)
	require.False(t, left.PendingAllocation)
}

func TestRejectedAllocationMovesNothing(t *testing.T) {
	svc := newTestService(t)
	pool := seedItem(t, svc, domain.PoolShopID, "Earphones", 4)

	allocation, err := svc.RequestAllocation(as(managerA), domain.AllocationCreateRequest{
		ItemID: pool.ID, TotalQty: 2, Destinations: []domain.AllocationLine{{ShopID: shopA, Qty: 2}},
	})
	require.NoError(t, err)

	resp, err := svc.RejectAllocation(as(adminActor), allocation.ID)
	require.NoError(t, err)
	require.Equal(t, domain.AllocationRejected, resp.Allocation.Status)
	require.Equal(t, 4, stockOf(t, svc, pool.ID))

	_, err = svc.ApproveAllocation(as(adminActor), allocation.ID)
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
}

func TestExchangeHappyPathCreatesDestinationRow(t *testing.T) {
	svc := newTestService(t)
	charger := seedItem(t, svc, shopA, "Oraimo Charger", 5)

	exchange, err := svc.CreateExchange(as(techA), domain.ExchangeCreateRequest{
		FromShopID: shopA,
		ToShopID:   shopB,
		Items:      []domain.ExchangeLine{{ItemID: charger.ID, Qty: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, domain.ExchangePending, exchange.Status)
	require.Equal(t, "Oraimo Charger", exchange.Lines[0].ItemName)
	require.Equal(t, 5, stockOf(t, svc, charger.ID))

	confirmed, err := svc.ConfirmReceipt(as(techB), exchange.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ExchangeConfirmed, confirmed.Exchange.Status)
	require.Equal(t, techB.UserID, confirmed.Exchange.ConfirmedBy)

	completed, err := svc.CompleteExchange(as(adminActor), exchange.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ExchangeCompleted, completed.Exchange.Status)

	require.Equal(t, 2, stockOf(t, svc, charger.ID))
	dest, ok := rowAt(t, svc, "Oraimo Charger", shopB)
	require.True(t, ok)
	require.Equal(t, 3, dest.Stock)
	require.Equal(t, charger.Category, dest.Category)

	again, err := svc.CompleteExchange(as(adminActor), exchange.ID)
	require.NoError(t, err)
	require.True(t, again.AlreadyProcessed)
	require.Equal(t, 2, stockOf(t, svc, charger.ID))
}

func TestCompleteExchangeRequiresConfirmation(t *testing.T) {
	svc := newTestService(t)
	item := seedItem(t, svc, shopA, "Screen Protector", 10)

	exchange, err := svc.CreateExchange(as(techA), domain.ExchangeCreateRequest{
		FromShopID: shopA, ToShopID: shopB, Items: []domain.ExchangeLine{{ItemID: item.ID, Qty: 4}},
	})
	require.NoError(t, err)

	_, err = svc.CompleteExchange(as(adminActor), exchange.ID)
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
	require.Equal(t, 10, stockOf(t, svc, item.ID))

	got, err := svc.GetExchange(as(adminActor), exchange.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ExchangePending, got.Status)
}

func TestConfirmReceiptOnlyByReceivingShop(t *testing.T) {
	svc := newTestService(t)
	item := seedItem(t, svc, shopA, "Back Cover", 3)

	exchange, err := svc.CreateExchange(as(techA), domain.ExchangeCreateRequest{
		FromShopID: shopA, ToShopID: shopB, Items: []domain.ExchangeLine{{ItemID: item.ID, Qty: 1}},
	})
	require.NoError(t, err)

	_, err = svc.ConfirmReceipt(as(techA), exchange.ID)
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = svc.ConfirmReceipt(as(adminActor), exchange.ID)
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.ConfirmReceipt(as(techB), exchange.ID)
	require.NoError(t, err)
	again, err := svc.ConfirmReceipt(as(techB), exchange.ID)
	require.NoError(t, err)
	require.True(t, again.AlreadyProcessed)
}

func TestCreateExchangeRejectsForeignOrShortLines(t *testing.T) {
	svc := newTestService(t)
	mine := seedItem(t, svc, shopA, "SIM Ejector", 2)
	theirs := seedItem(t, svc, shopB, "SIM Ejector", 9)

	_, err := svc.CreateExchange(as(techA), domain.ExchangeCreateRequest{
		FromShopID: shopA, ToShopID: shopB, Items: []domain.ExchangeLine{{ItemID: theirs.ID, Qty: 1}},
	})
	require.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = svc.CreateExchange(as(techA), domain.ExchangeCreateRequest{
		FromShopID: shopA, ToShopID: shopB, Items: []domain.ExchangeLine{{ItemID: mine.ID, Qty: 3}},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = svc.CreateExchange(as(techA), domain.ExchangeCreateRequest{
		FromShopID: shopA, ToShopID: shopA, Items: []domain.ExchangeLine{{ItemID: mine.ID, Qty: 1}},
	})
	require.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = svc.CreateExchange(as(techB), domain.ExchangeCreateRequest{
		FromShopID: shopA, ToShopID: shopB, Items: []domain.ExchangeLine{{ItemID: mine.ID, Qty: 1}},
	})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestCompleteExchangeShortfallRollsBackEveryLine(t *testing.T) {
	svc := newTestService(t)
	first := seedItem(t, svc, shopA, "Charging Port", 5)
	second := seedItem(t, svc, shopA, "Loudspeaker", 5)

	exchange, err := svc.CreateExchange(as(techA), domain.ExchangeCreateRequest{
		FromShopID: shopA,
		ToShopID:   shopB,
		Items:      []domain.ExchangeLine{{ItemID: first.ID, Qty: 2}, {ItemID: second.ID, Qty: 3}},
	})
	require.NoError(t, err)
	_, err = svc.ConfirmReceipt(as(techB), exchange.ID)
	require.NoError(t, err)

	_, err = svc.AdjustStock(as(managerA), domain.StockAdjustRequest{StockKey: domain.StockKey{ItemID: second.ID}, Delta: -4, Reason: "sold at counter"})
	require.NoError(t, err)

	_, err = svc.CompleteExchange(as(adminActor), exchange.ID)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	require.Equal(t, 5, stockOf(t, svc, first.ID))
	require.Equal(t, 1, stockOf(t, svc, second.ID))
	_, created := rowAt(t, svc, "Charging Port", shopB)
	require.False(t, created)

	got, err := svc.GetExchange(as(adminActor), exchange.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ExchangeConfirmed, got.Status)
}

func TestRejectedExchangeIsTerminal(t *testing.T) {
	svc := newTestService(t)
	item := seedItem(t, svc, shopA, "Camera Lens", 2)

	exchange, err := svc.CreateExchange(as(techA), domain.ExchangeCreateRequest{
		FromShopID: shopA, ToShopID: shopB, Items: []domain.ExchangeLine{{ItemID: item.ID, Qty: 1}},
	})
	require.NoError(t, err)

	resp, err := svc.RejectExchange(as(adminActor), exchange.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ExchangeRejected, resp.Exchange.Status)

	_, err = svc.ConfirmReceipt(as(techB), exchange.ID)
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
	_, err = svc.CompleteExchange(as(adminActor), exchange.ID)
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
	require.Equal(t, 2, stockOf(t, svc, item.ID))

	listed, err := svc.ListExchanges(as(techB), "", domain.ExchangeRejected)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func newRepairRequest() domain.RepairCreateRequest {
	return domain.RepairCreateRequest{
		CustomerName:   "Wanjiku",
		CustomerPhone:  "0712000111",
		DeviceModel:    "iPhone 11",
		Issue:          "cracked screen",
		LaborCostCents: 200000,
	}
}

func TestRepairWithOutsourcedPart(t *testing.T) {
	svc := newTestService(t)
	screen := seedItem(t, svc, shopA, "iPhone 11 Screen", 3)

	req := newRepairRequest()
	req.Parts = []domain.RepairPart{
		{ItemName: "iphone 11 screen", Qty: 1, CostCents: 800000, Source: domain.PartSourceInHouse},
		{ItemName: "Back Glass", Qty: 1, Source: domain.PartSourceOutsourced, SupplierID: "sup-1"},
	}
	repair, err := svc.CreateRepair(as(techA), req)
	require.NoError(t, err)

	require.Equal(t, shopA, repair.ShopID)
	require.Equal(t, domain.RepairReceived, repair.Status)
	require.Equal(t, domain.PaymentStatusPending, repair.PaymentStatus)
	require.EqualValues(t, 1000000, repair.TotalCostCents)
	require.EqualValues(t, 1000000, repair.BalanceCents)
	require.Equal(t, screen.ID, repair.Parts[0].ItemID)
	require.Equal(t, 2, stockOf(t, svc, screen.ID))

	debts, err := svc.ListDebts(as(adminActor), domain.SupplierDebtFilter{RepairID: repair.ID})
	require.NoError(t, err)
	require.Len(t, debts, 1)
	require.Equal(t, "sup-1", debts[0].SupplierID)
	require.Equal(t, "Back Glass", debts[0].ItemName)
	require.True(t, debts[0].AwaitingCost())
	require.False(t, debts[0].Paid)
}

func TestRepairShortPartLeavesNoTrace(t *testing.T) {
	svc := newTestService(t)
	battery := seedItem(t, svc, shopA, "Samsung A14 Battery", 5)
	seedItem(t, svc, shopA, "Samsung A14 Screen", 0)

	req := newRepairRequest()
	req.Parts = []domain.RepairPart{
		{ItemName: "Samsung A14 Battery", Qty: 1, CostCents: 250000, Source: domain.PartSourceInHouse},
		{ItemName: "Samsung A14 Screen", Qty: 1, CostCents: 600000, Source: domain.PartSourceInHouse},
		{ItemName: "Frame", Qty: 1, Source: domain.PartSourceOutsourced, SupplierID: "sup-1"},
	}
	_, err := svc.CreateRepair(as(techA), req)
	var stockErr *store.StockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, "Samsung A14 Screen", stockErr.ItemName)

	require.Equal(t, 5, stockOf(t, svc, battery.ID))
	repairs, err := svc.ListRepairs(as(adminActor), domain.RepairFilter{})
	require.NoError(t, err)
	require.Empty(t, repairs)
	debts, err := svc.ListDebts(as(adminActor), domain.SupplierDebtFilter{})
	require.NoError(t, err)
	require.Empty(t, debts)

	req.Parts = []domain.RepairPart{{ItemName: "Never Stocked", Qty: 1, Source: domain.PartSourceInHouse}}
	_, err = svc.CreateRepair(as(techA), req)
	require.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestLastUnitRaceBetweenRepairs(t *testing.T) {
	svc := newTestService(t)
	screen := seedItem(t, svc, shopA, "Infinix Hot 30 Screen", 1)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := newRepairRequest()
			req.Parts = []domain.RepairPart{{ItemName: "Infinix Hot 30 Screen", Qty: 1, CostCents: 450000, Source: domain.PartSourceInHouse}}
			_, errs[i] = svc.CreateRepair(as(techA), req)
		}()
	}
	wg.Wait()

	succeeded, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, short)
	require.Zero(t, stockOf(t, svc, screen.ID))

	repairs, err := svc.ListRepairs(as(adminActor), domain.RepairFilter{})
	require.NoError(t, err)
	require.Len(t, repairs, 1)
}

func TestRepairBalanceTracksPayments(t *testing.T) {
	svc := newTestService(t)
	agreed := int64(500000)

	req := newRepairRequest()
	req.LaborCostCents = 450000
	req.TotalAgreedAmountCents = &agreed
	req.AmountPaidCents = 100000
	repair, err := svc.CreateRepair(as(techA), req)
	require.NoError(t, err)
	require.EqualValues(t, 400000, repair.BalanceCents)
	require.Equal(t, domain.PaymentStatusPartial, repair.PaymentStatus)
	require.Equal(t, domain.RepairReceived, repair.Status)

	_, err = svc.RecordPayment(as(techA), repair.ID, domain.RepairPaymentRequest{AmountCents: 500000, Method: domain.PaymentMpesa})
	require.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = svc.RecordPayment(as(techB), repair.ID, domain.RepairPaymentRequest{AmountCents: 1000, Method: domain.PaymentMpesa})
	require.ErrorIs(t, err, ErrUnauthorized)

	paid, err := svc.RecordPayment(as(techA), repair.ID, domain.RepairPaymentRequest{AmountCents: 400000, Method: domain.PaymentMpesa, Reference: "QWE123"})
	require.NoError(t, err)
	require.Zero(t, paid.Repair.BalanceCents)
	require.Equal(t, domain.PaymentStatusPaid, paid.Repair.PaymentStatus)
	require.Equal(t, domain.RepairFullyPaid, paid.Repair.Status)

	payments, err := svc.ListPayments(as(adminActor), domain.PaymentFilter{RelatedTo: domain.RelatedRepair, RelatedID: repair.ID})
	require.NoError(t, err)
	require.Len(t, payments, 2)
	var sum int64
	for _, p := range payments {
		sum += p.AmountCents
	}
	require.Equal(t, paid.Repair.AmountPaidCents, sum)
	require.Equal(t, paid.Repair.EffectiveTotal(), paid.Repair.AmountPaidCents+paid.Repair.BalanceCents)
}

func TestRepairPaidUpfrontStartsFullyPaid(t *testing.T) {
	svc := newTestService(t)

	req := newRepairRequest()
	req.AmountPaidCents = 200000
	req.PaymentMethod = domain.PaymentCash
	repair, err := svc.CreateRepair(as(techA), req)
	require.NoError(t, err)
	require.Equal(t, domain.RepairFullyPaid, repair.Status)

	req = newRepairRequest()
	req.PaymentTiming = domain.PaymentTimingUpfront
	repair, err = svc.CreateRepair(as(techA), req)
	require.NoError(t, err)
	require.Equal(t, domain.RepairPaymentPending, repair.Status)

	req = newRepairRequest()
	req.AmountPaidCents = 300000
	_, err = svc.CreateRepair(as(techA), req)
	require.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestCollectionRequiresFullPaymentAndIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	repair, err := svc.CreateRepair(as(techA), newRepairRequest())
	require.NoError(t, err)

	_, err = svc.ConfirmCollection(as(techA), repair.ID)
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)

	_, err = svc.RecordPayment(as(techA), repair.ID, domain.RepairPaymentRequest{AmountCents: 200000, Method: domain.PaymentCash})
	require.NoError(t, err)

	collected, err := svc.ConfirmCollection(as(techA), repair.ID)
	require.NoError(t, err)
	require.False(t, collected.AlreadyProcessed)
	require.True(t, collected.Repair.Collected)
	require.Equal(t, domain.RepairCollected, collected.Repair.Status)
	require.NotNil(t, collected.Repair.CollectedAt)

	again, err := svc.ConfirmCollection(as(techA), repair.ID)
	require.NoError(t, err)
	require.True(t, again.AlreadyProcessed)
	require.Equal(t, domain.RepairCollected, again.Repair.Status)
}

func TestRepairStatusTransitions(t *testing.T) {
	svc := newTestService(t)
	repair, err := svc.CreateRepair(as(techA), newRepairRequest())
	require.NoError(t, err)

	resp, err := svc.UpdateRepairStatus(as(techA), repair.ID, "in_progress")
	require.NoError(t, err)
	require.Equal(t, domain.RepairInProgress, resp.Repair.Status)

	same, err := svc.UpdateRepairStatus(as(techA), repair.ID, domain.RepairInProgress)
	require.NoError(t, err)
	require.True(t, same.AlreadyProcessed)

	_, err = svc.UpdateRepairStatus(as(techA), repair.ID, domain.RepairFullyPaid)
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
	_, err = svc.UpdateRepairStatus(as(techA), repair.ID, domain.RepairCollected)
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)

	_, err = svc.UpdateRepairStatus(as(techA), repair.ID, domain.RepairCompleted)
	require.NoError(t, err)
	resp, err = svc.UpdateRepairStatus(as(techA), repair.ID, domain.RepairPaymentPending)
	require.NoError(t, err)
	require.Equal(t, domain.RepairPaymentPending, resp.Repair.Status)

	_, err = svc.UpdateRepairStatus(as(techB), repair.ID, domain.RepairInProgress)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestPaidUpfrontRepairStillMovesThroughBench(t *testing.T) {
	svc := newTestService(t)
	req := newRepairRequest()
	req.AmountPaidCents = 200000
	req.PaymentMethod = domain.PaymentCash
	repair, err := svc.CreateRepair(as(techA), req)
	require.NoError(t, err)
	require.Equal(t, domain.RepairFullyPaid, repair.Status)

	resp, err := svc.UpdateRepairStatus(as(techA), repair.ID, domain.RepairInProgress)
	require.NoError(t, err)
	require.Equal(t, domain.RepairInProgress, resp.Repair.Status)

	_, err = svc.UpdateRepairStatus(as(techA), repair.ID, domain.RepairCompleted)
	require.NoError(t, err)
	resp, err = svc.UpdateRepairStatus(as(techA), repair.ID, domain.RepairPaymentPending)
	require.NoError(t, err)
	require.Equal(t, domain.RepairFullyPaid, resp.Repair.Status)

	collected, err := svc.ConfirmCollection(as(techA), repair.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RepairCollected, collected.Repair.Status)

	_, err = svc.UpdateRepairStatus(as(techA), repair.ID, domain.RepairInProgress)
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
}

func TestSubmittedPaymentNeedsAdminApproval(t *testing.T) {
	svc := newTestService(t)
	repair, err := svc.CreateRepair(as(techA), newRepairRequest())
	require.NoError(t, err)

	submitted, err := svc.SubmitPaymentForApproval(as(techA), repair.ID, domain.RepairPaymentRequest{Method: domain.PaymentMpesa, Reference: "SLK42"})
	require.NoError(t, err)
	require.NotNil(t, submitted.Repair.PendingTransaction)
	require.EqualValues(t, 200000, submitted.Repair.PendingTransaction.AmountCents)
	require.EqualValues(t, 200000, submitted.Repair.BalanceCents)

	_, err = svc.SubmitPaymentForApproval(as(techA), repair.ID, domain.RepairPaymentRequest{Method: domain.PaymentCash})
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)

	pending, err := svc.ListPendingApprovals(as(adminActor), "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, repair.ID, pending[0].ID)
	_, err = svc.ListPendingApprovals(as(techA), "")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.ApprovePayment(as(techA), repair.ID)
	require.ErrorIs(t, err, ErrUnauthorized)

	approved, err := svc.ApprovePayment(as(adminActor), repair.ID)
	require.NoError(t, err)
	require.True(t, approved.Repair.PaymentApproved)
	require.Nil(t, approved.Repair.PendingTransaction)
	require.Zero(t, approved.Repair.BalanceCents)
	require.Equal(t, domain.RepairFullyPaid, approved.Repair.Status)

	again, err := svc.ApprovePayment(as(adminActor), repair.ID)
	require.NoError(t, err)
	require.True(t, again.AlreadyProcessed)

	payments, err := svc.ListPayments(as(adminActor), domain.PaymentFilter{RelatedID: repair.ID})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, "SLK42", payments[0].Reference)
}

func TestCounterPaymentLeavesRoomForPendingApproval(t *testing.T) {
	svc := newTestService(t)
	repair, err := svc.CreateRepair(as(techA), newRepairRequest())
	require.NoError(t, err)

	_, err = svc.SubmitPaymentForApproval(as(techA), repair.ID, domain.RepairPaymentRequest{AmountCents: 150000, Method: domain.PaymentMpesa, Reference: "SLK43"})
	require.NoError(t, err)

	_, err = svc.RecordPayment(as(techA), repair.ID, domain.RepairPaymentRequest{AmountCents: 200000, Method: domain.PaymentCash})
	require.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = svc.RecordPayment(as(techA), repair.ID, domain.RepairPaymentRequest{AmountCents: 60000, Method: domain.PaymentCash})
	require.ErrorIs(t, err, store.ErrInvalidInput)

	paid, err := svc.RecordPayment(as(techA), repair.ID, domain.RepairPaymentRequest{AmountCents: 50000, Method: domain.PaymentCash})
	require.NoError(t, err)
	require.EqualValues(t, 150000, paid.Repair.BalanceCents)

	approved, err := svc.ApprovePayment(as(adminActor), repair.ID)
	require.NoError(t, err)
	require.Zero(t, approved.Repair.BalanceCents)
	require.Equal(t, domain.RepairFullyPaid, approved.Repair.Status)
}

func TestDiscardPendingPayment(t *testing.T) {
	svc := newTestService(t)
	repair, err := svc.CreateRepair(as(techA), newRepairRequest())
	require.NoError(t, err)

	_, err = svc.SubmitPaymentForApproval(as(techA), repair.ID, domain.RepairPaymentRequest{Method: domain.PaymentMpesa, Reference: "WRONG1"})
	require.NoError(t, err)

	_, err = svc.DiscardPendingPayment(as(techA), repair.ID)
	require.ErrorIs(t, err, ErrUnauthorized)

	discarded, err := svc.DiscardPendingPayment(as(adminActor), repair.ID)
	require.NoError(t, err)
	require.False(t, discarded.AlreadyProcessed)
	require.Nil(t, discarded.Repair.PendingTransaction)
	require.EqualValues(t, 200000, discarded.Repair.BalanceCents)

	pending, err := svc.ListPendingApprovals(as(adminActor), "")
	require.NoError(t, err)
	require.Empty(t, pending)

	again, err := svc.DiscardPendingPayment(as(adminActor), repair.ID)
	require.NoError(t, err)
	require.True(t, again.AlreadyProcessed)

	_, err = svc.RecordPayment(as(techA), repair.ID, domain.RepairPaymentRequest{AmountCents: 200000, Method: domain.PaymentMpesa, Reference: "RIGHT1"})
	require.NoError(t, err)

	payments, err := svc.ListPayments(as(adminActor), domain.PaymentFilter{RelatedID: repair.ID})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, "RIGHT1", payments[0].Reference)
}

func TestCustomerStatusUpdate(t *testing.T) {
	svc := newTestService(t)
	repair, err := svc.CreateRepair(as(techA), newRepairRequest())
	require.NoError(t, err)
	require.Equal(t, domain.CustomerWaiting, repair.CustomerStatus)

	resp, err := svc.SetCustomerStatus(as(techA), repair.ID, domain.CustomerStatusRequest{CustomerStatus: domain.CustomerComingBack})
	require.NoError(t, err)
	require.Equal(t, domain.CustomerComingBack, resp.Repair.CustomerStatus)

	_, err = svc.SetCustomerStatus(as(techA), repair.ID, domain.CustomerStatusRequest{CustomerStatus: "gone"})
	require.ErrorIs(t, err, store.ErrInvalidInput)
}

func outsourcedRepair(t *testing.T, svc *Service) domain.Repair {
	t.Helper()
	req := newRepairRequest()
	req.Parts = []domain.RepairPart{{ItemName: "Back Glass", Qty: 1, Source: domain.PartSourceOutsourced, SupplierID: "sup-1"}}
	repair, err := svc.CreateRepair(as(techA), req)
	require.NoError(t, err)
	return repair
}

func TestUpdatePartCostRepricesDebtOnly(t *testing.T) {
	svc := newTestService(t)
	repair := outsourcedRepair(t, svc)

	_, err := svc.UpdatePartCost(as(techA), repair.ID, domain.PartCostRequest{ItemName: "Back Glass", CostPerUnitCents: 300000, Qty: 1})
	require.ErrorIs(t, err, ErrUnauthorized)

	resp, err := svc.UpdatePartCost(as(adminActor), repair.ID, domain.PartCostRequest{ItemName: "back glass", CostPerUnitCents: 300000, Qty: 1})
	require.NoError(t, err)
	require.EqualValues(t, 300000, resp.Repair.Parts[0].CostCents)
	require.EqualValues(t, 200000, resp.Repair.TotalCostCents)
	require.EqualValues(t, 200000, resp.Repair.BalanceCents)

	debts, err := svc.ListDebts(as(adminActor), domain.SupplierDebtFilter{RepairID: repair.ID})
	require.NoError(t, err)
	require.Len(t, debts, 1)
	require.EqualValues(t, 300000, debts[0].TotalCostCents)

	same, err := svc.UpdatePartCost(as(adminActor), repair.ID, domain.PartCostRequest{ItemName: "Back Glass", CostPerUnitCents: 300000, Qty: 1})
	require.NoError(t, err)
	require.True(t, same.AlreadyProcessed)

	_, err = svc.MarkDebtPaid(as(adminActor), debts[0].ID)
	require.NoError(t, err)
	_, err = svc.UpdatePartCost(as(adminActor), repair.ID, domain.PartCostRequest{ItemName: "Back Glass", CostPerUnitCents: 350000, Qty: 1})
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
}

func TestUpdatePartCostCascadesWhenConfigured(t *testing.T) {
	svc := newTestService(t, WithConfig(Config{RepriceCascadesToTicket: true}))
	repair := outsourcedRepair(t, svc)

	resp, err := svc.UpdatePartCost(as(adminActor), repair.ID, domain.PartCostRequest{ItemName: "Back Glass", CostPerUnitCents: 150000, Qty: 2})
	require.NoError(t, err)
	require.EqualValues(t, 500000, resp.Repair.TotalCostCents)
	require.EqualValues(t, 500000, resp.Repair.BalanceCents)
	require.Equal(t, 2, resp.Repair.Parts[0].Qty)

	untracked, err := svc.UpdatePartCost(as(adminActor), repair.ID, domain.PartCostRequest{ItemName: "Adhesive", CostPerUnitCents: 5000, Qty: 1})
	require.ErrorIs(t, err, store.ErrInvalidInput)
	require.Empty(t, untracked.Repair.ID)

	added, err := svc.UpdatePartCost(as(adminActor), repair.ID, domain.PartCostRequest{ItemName: "Adhesive", CostPerUnitCents: 5000, Qty: 1, SupplierID: "sup-2"})
	require.NoError(t, err)
	require.Len(t, added.Repair.Parts, 2)
	require.EqualValues(t, 505000, added.Repair.TotalCostCents)

	debts, err := svc.ListDebts(as(adminActor), domain.SupplierDebtFilter{RepairID: repair.ID})
	require.NoError(t, err)
	require.Len(t, debts, 2)
}

func TestPartCostCascadeReopensPaidTicket(t *testing.T) {
	svc := newTestService(t, WithConfig(Config{RepriceCascadesToTicket: true}))
	repair := outsourcedRepair(t, svc)

	paid, err := svc.RecordPayment(as(techA), repair.ID, domain.RepairPaymentRequest{AmountCents: 200000, Method: domain.PaymentCash})
	require.NoError(t, err)
	require.Equal(t, domain.RepairFullyPaid, paid.Repair.Status)

	resp, err := svc.UpdatePartCost(as(adminActor), repair.ID, domain.PartCostRequest{ItemName: "Back Glass", CostPerUnitCents: 150000, Qty: 1})
	require.NoError(t, err)
	require.EqualValues(t, 150000, resp.Repair.BalanceCents)
	require.Equal(t, domain.PaymentStatusPartial, resp.Repair.PaymentStatus)
	require.Equal(t, domain.RepairPaymentPending, resp.Repair.Status)

	_, err = svc.ConfirmCollection(as(techA), repair.ID)
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
}

func TestPartCostOnCollectedTicketRepricesDebtOnly(t *testing.T) {
	svc := newTestService(t, WithConfig(Config{RepriceCascadesToTicket: true}))
	repair := outsourcedRepair(t, svc)

	_, err := svc.RecordPayment(as(techA), repair.ID, domain.RepairPaymentRequest{AmountCents: 200000, Method: domain.PaymentCash})
	require.NoError(t, err)
	_, err = svc.ConfirmCollection(as(techA), repair.ID)
	require.NoError(t, err)

	resp, err := svc.UpdatePartCost(as(adminActor), repair.ID, domain.PartCostRequest{ItemName: "Back Glass", CostPerUnitCents: 150000, Qty: 1})
	require.NoError(t, err)
	require.Equal(t, domain.RepairCollected, resp.Repair.Status)
	require.EqualValues(t, 200000, resp.Repair.TotalCostCents)
	require.Zero(t, resp.Repair.BalanceCents)
	require.EqualValues(t, 150000, resp.Repair.Parts[0].CostCents)

	debts, err := svc.ListDebts(as(adminActor), domain.SupplierDebtFilter{RepairID: repair.ID})
	require.NoError(t, err)
	require.Len(t, debts, 1)
	require.EqualValues(t, 150000, debts[0].TotalCostCents)
}

func TestDeleteRepairKeepsSupplierDebts(t *testing.T) {
	svc := newTestService(t)
	repair := outsourcedRepair(t, svc)

	require.ErrorIs(t, svc.DeleteRepair(as(techA), repair.ID), ErrUnauthorized)
	require.NoError(t, svc.DeleteRepair(as(adminActor), repair.ID))

	_, err := svc.GetRepair(as(adminActor), repair.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	debts, err := svc.ListDebts(as(adminActor), domain.SupplierDebtFilter{RepairID: repair.ID})
	require.NoError(t, err)
	require.Len(t, debts, 1)
	require.Equal(t, repair.ID, debts[0].RepairID)

	require.ErrorIs(t, svc.DeleteRepair(as(adminActor), repair.ID), store.ErrNotFound)
}

func TestRepairsAreScopedToShop(t *testing.T) {
	svc := newTestService(t)
	repair, err := svc.CreateRepair(as(techA), newRepairRequest())
	require.NoError(t, err)

	_, err = svc.GetRepair(as(techB), repair.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	listed, err := svc.ListRepairs(as(techB), domain.RepairFilter{ShopID: shopA})
	require.NoError(t, err)
	require.Empty(t, listed)

	req := newRepairRequest()
	req.ShopID = shopA
	_, err = svc.CreateRepair(as(techB), req)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestExchangesAndAllocationsAreScopedToShop(t *testing.T) {
	svc := newTestService(t)
	techC := domain.Actor{UserID: "tech-c", Role: domain.RoleTechnician, ShopID: "shop-c"}
	charger := seedItem(t, svc, shopA, "Oraimo Charger", 5)

	exchange, err := svc.CreateExchange(as(techA), domain.ExchangeCreateRequest{
		FromShopID: shopA,
		ToShopID:   shopB,
		Items:      []domain.ExchangeLine{{ItemID: charger.ID, Qty: 2}},
	})
	require.NoError(t, err)

	_, err = svc.GetExchange(as(techB), exchange.ID)
	require.NoError(t, err)
	_, err = svc.GetExchange(as(techC), exchange.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	pool := seedItem(t, svc, domain.PoolShopID, "Tecno Spark Screen", 10)
	allocation, err := svc.RequestAllocation(as(adminActor), domain.AllocationCreateRequest{
		ItemID:       pool.ID,
		TotalQty:     3,
		Destinations: []domain.AllocationLine{{ShopID: shopA, Qty: 3}},
	})
	require.NoError(t, err)

	_, err = svc.GetAllocation(as(techA), allocation.ID)
	require.NoError(t, err)
	_, err = svc.GetAllocation(as(techB), allocation.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	listed, err := svc.ListAllocations(as(techB), "")
	require.NoError(t, err)
	require.Empty(t, listed)
	listed, err = svc.ListAllocations(as(managerA), "")
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestSupplierDebtLifecycle(t *testing.T) {
	svc := newTestService(t)

	debt, err := svc.AddDebt(as(managerA), domain.SupplierDebtCreateRequest{SupplierID: "sup-2", ItemName: "Oppo Screen", Quantity: 3})
	require.NoError(t, err)
	require.True(t, debt.AwaitingCost())

	_, err = svc.AddDebt(as(techA), domain.SupplierDebtCreateRequest{SupplierID: "sup-2", ItemName: "Oppo Screen", Quantity: 1})
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = svc.AddDebt(as(managerA), domain.SupplierDebtCreateRequest{SupplierID: "sup-2", ItemName: "Oppo Screen", Quantity: 1, RepairID: "rep-missing"})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.MarkDebtPaid(as(adminActor), debt.ID)
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
	_, err = svc.SetDebtCost(as(managerA), debt.ID, 1000)
	require.ErrorIs(t, err, ErrUnauthorized)

	costed, err := svc.SetDebtCost(as(adminActor), debt.ID, 1000)
	require.NoError(t, err)
	require.EqualValues(t, 3000, costed.Debt.TotalCostCents)

	same, err := svc.SetDebtCost(as(adminActor), debt.ID, 1000)
	require.NoError(t, err)
	require.True(t, same.AlreadyProcessed)

	summary, err := svc.UnpaidTotalsBySupplier(as(adminActor))
	require.NoError(t, err)
	require.Len(t, summary.Suppliers, 1)
	require.EqualValues(t, 3000, summary.TotalCents)

	paid, err := svc.MarkDebtPaid(as(adminActor), debt.ID)
	require.NoError(t, err)
	require.True(t, paid.Debt.Paid)
	require.Equal(t, adminActor.UserID, paid.Debt.PaidBy)

	again, err := svc.MarkDebtPaid(as(adminActor), debt.ID)
	require.NoError(t, err)
	require.True(t, again.AlreadyProcessed)

	_, err = svc.SetDebtCost(as(adminActor), debt.ID, 2000)
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
}

func TestUnpaidTotalsCountDebtsAwaitingCost(t *testing.T) {
	svc := newTestService(t)

	for _, qty := range []int{1, 2} {
		_, err := svc.AddDebt(as(adminActor), domain.SupplierDebtCreateRequest{SupplierID: "sup-b", ItemName: "Battery", Quantity: qty})
		require.NoError(t, err)
	}
	costed, err := svc.AddDebt(as(adminActor), domain.SupplierDebtCreateRequest{SupplierID: "sup-a", ItemName: "Screen", Quantity: 2})
	require.NoError(t, err)
	_, err = svc.SetDebtCost(as(adminActor), costed.ID, 45000)
	require.NoError(t, err)

	summary, err := svc.UnpaidTotalsBySupplier(as(adminActor))
	require.NoError(t, err)
	require.Equal(t, []domain.SupplierDebtTotal{
		{SupplierID: "sup-a", UnpaidCents: 90000, Debts: 1},
		{SupplierID: "sup-b", Debts: 2, AwaitingCost: 2},
	}, summary.Suppliers)
	require.EqualValues(t, 90000, summary.TotalCents)

	daily, err := svc.SettlementSummary(context.Background(), "2026-10-15")
	require.NoError(t, err)
	require.Equal(t, "2026-10-15", daily.Date)
	require.Len(t, daily.Suppliers, 2)

	other, err := svc.UnpaidTotalsBySupplierOn(as(adminActor), "2026-10-14")
	require.NoError(t, err)
	require.Empty(t, other.Suppliers)

	_, err = svc.UnpaidTotalsBySupplierOn(as(adminActor), "15/10/2026")
	require.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = svc.UnpaidTotalsBySupplier(as(managerA))
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestSaleConsumesStockAndBooksPayment(t *testing.T) {
	svc := newTestService(t)
	charger := seedItem(t, svc, shopA, "Type-C Charger", 25)

	resp, err := svc.CreateSale(as(techA), domain.SaleCreateRequest{
		PaymentType: domain.PaymentCash,
		Lines: []domain.SaleLine{
			{ItemName: "type-c charger", Qty: 2, UnitPriceCents: 80000, Source: domain.PartSourceInHouse},
			{ItemName: "Phone Case", Qty: 1, UnitPriceCents: 50000, Source: domain.PartSourceOutsourced, SupplierID: "sup-3"},
		},
	})
	require.NoError(t, err)
	require.EqualValues(t, 210000, resp.Sale.TotalCents)
	require.Equal(t, charger.ID, resp.Sale.Lines[0].ItemID)
	require.Equal(t, 23, stockOf(t, svc, charger.ID))
	require.Len(t, resp.Debts, 1)
	require.Equal(t, resp.Sale.ID, resp.Debts[0].SaleID)
	require.EqualValues(t, 210000, resp.Payment.AmountCents)
	require.False(t, resp.Payment.Deposited)

	got, err := svc.GetSale(as(techA), resp.Sale.ID)
	require.NoError(t, err)
	require.Equal(t, resp.Sale.TotalCents, got.TotalCents)
	_, err = svc.GetSale(as(techB), resp.Sale.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.CreateSale(as(techA), domain.SaleCreateRequest{
		PaymentType: domain.PaymentMpesa,
		Lines:       []domain.SaleLine{{ItemName: "Type-C Charger", Qty: 30, UnitPriceCents: 80000, Source: domain.PartSourceInHouse}},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	require.Equal(t, 23, stockOf(t, svc, charger.ID))
}

func TestDailyTotalsAndCashDeposits(t *testing.T) {
	svc := newTestService(t)
	seedItem(t, svc, shopA, "Earbuds", 10)

	_, err := svc.CreateSale(as(techA), domain.SaleCreateRequest{
		PaymentType: domain.PaymentCash,
		Lines:       []domain.SaleLine{{ItemName: "Earbuds", Qty: 1, UnitPriceCents: 120000, Source: domain.PartSourceInHouse}},
	})
	require.NoError(t, err)
	_, err = svc.CreateSale(as(techA), domain.SaleCreateRequest{
		PaymentType:      domain.PaymentMpesa,
		PaymentReference: "RKT88",
		Lines:            []domain.SaleLine{{ItemName: "Earbuds", Qty: 2, UnitPriceCents: 120000, Source: domain.PartSourceInHouse}},
	})
	require.NoError(t, err)

	totals, err := svc.DailyTotals(as(managerA), "", shopB)
	require.NoError(t, err)
	require.Equal(t, "2026-10-15", totals.Date)
	require.Equal(t, shopA, totals.ShopID)
	require.EqualValues(t, 120000, totals.CashCents)
	require.EqualValues(t, 240000, totals.MpesaCents)
	require.EqualValues(t, 360000, totals.TotalCents)
	require.EqualValues(t, 120000, totals.PendingCashCents)
	require.Equal(t, 2, totals.Payments)

	_, err = svc.DailyTotals(as(techA), "", "")
	require.ErrorIs(t, err, ErrUnauthorized)

	pending, err := svc.PendingCashDeposits(as(adminActor), shopA)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = svc.MarkDeposited(as(managerA), pending[0].ID)
	require.ErrorIs(t, err, ErrUnauthorized)
	deposited, err := svc.MarkDeposited(as(adminActor), pending[0].ID)
	require.NoError(t, err)
	require.True(t, deposited.Payment.Deposited)
	require.NotNil(t, deposited.Payment.DepositDate)

	again, err := svc.MarkDeposited(as(adminActor), pending[0].ID)
	require.NoError(t, err)
	require.True(t, again.AlreadyProcessed)

	pending, err = svc.PendingCashDeposits(as(adminActor), shopA)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestLowStockItemsExcludesPool(t *testing.T) {
	svc := newTestService(t)
	seedItem(t, svc, domain.PoolShopID, "Pool Screen", 0)
	low := seedItem(t, svc, shopA, "Low Battery", 1)
	seedItem(t, svc, shopA, "Plenty Cable", 20)

	items, err := svc.LowStockItems(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, low.ID, items[0].ID)
}

func TestAuthorizePolicy(t *testing.T) {
	managerB := domain.Actor{UserID: "manager-b", Role: domain.RoleManager, ShopID: shopB}
	cases := []struct {
		actor  domain.Actor
		op     Operation
		shopID string
		allow  bool
	}{
		{adminActor, OpApproveAllocation, "", true},
		{managerA, OpApproveAllocation, "", false},
		{managerA, OpRequestAllocation, "", true},
		{techA, OpRequestAllocation, "", false},
		{managerA, OpAdjustStock, shopA, true},
		{managerB, OpAdjustStock, shopA, false},
		{managerA, OpCreateItem, domain.PoolShopID, false},
		{techA, OpViewPaymentTotals, shopA, false},
		{techA, OpCreateRepair, shopA, true},
		{techA, OpCreateRepair, shopB, false},
		{adminActor, OpCreateRepair, shopB, true},
		{techB, OpConfirmReceipt, shopB, true},
		{adminActor, OpConfirmReceipt, shopB, false},
		{managerA, OpMarkDeposited, "", false},
		{adminActor, OpDiscardPayment, shopA, true},
		{managerA, OpDiscardPayment, shopA, false},
		{adminActor, Operation("unknown"), "", false},
	}
	for _, tc := range cases {
		err := authorize(tc.actor, tc.op, tc.shopID)
		if tc.allow {
			require.NoError(t, err, "%s as %s at %q", tc.op, tc.actor.UserID, tc.shopID)
		} else {
			require.ErrorIs(t, err, ErrUnauthorized, "%s as %s at %q", tc.op, tc.actor.UserID, tc.shopID)
		}
	}
}

func TestEventsPublishedOnlyAfterCommit(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newTestService(t, WithPublisher(pub))
	item := seedItem(t, svc, shopA, "Tempered Glass", 1)
	created := len(pub.snapshot())

	_, err := svc.AdjustStock(as(managerA), domain.StockAdjustRequest{StockKey: domain.StockKey{ItemID: item.ID}, Delta: -2, Reason: "broken"})
	require.Error(t, err)
	require.Len(t, pub.snapshot(), created)

	_, err = svc.AdjustStock(as(managerA), domain.StockAdjustRequest{StockKey: domain.StockKey{ItemID: item.ID}, Delta: -1, Reason: "broken"})
	require.NoError(t, err)
	events := pub.snapshot()
	require.Len(t, events, created+1)
	last := events[len(events)-1]
	require.Equal(t, "inventory_item", last.Entity)
	require.Equal(t, "adjusted", last.Action)
	require.Equal(t, shopA, last.ShopID)
	require.Equal(t, fixedNow, last.At)
}

func TestAuditLogRecordsMutations(t *testing.T) {
	svc := newTestService(t)
	pool := seedItem(t, svc, domain.PoolShopID, "Vivo Y17 Screen", 3)

	allocation, err := svc.RequestAllocation(as(managerA), domain.AllocationCreateRequest{
		ItemID: pool.ID, TotalQty: 3, Destinations: []domain.AllocationLine{{ShopID: shopA, Qty: 3}},
	})
	require.NoError(t, err)
	_, err = svc.ApproveAllocation(as(adminActor), allocation.ID)
	require.NoError(t, err)

	logs, err := svc.ListAuditLogs(as(adminActor), "", "2026-10-15", 0)
	require.NoError(t, err)
	actions := make(map[string]string, len(logs))
	for _, entry := range logs {
		actions[entry.Action] = entry.ActorID
	}
	require.Equal(t, managerA.UserID, actions["allocation_request"])
	require.Equal(t, adminActor.UserID, actions["allocation_approve"])

	_, err = svc.ListAuditLogs(as(adminActor), "", "yesterday", 0)
	require.ErrorIs(t, err, store.ErrInvalidInput)
}
