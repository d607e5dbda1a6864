package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/notify"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type settlementStub struct {
	dates   []string
	summary domain.SupplierDebtSummary
	err     error
}

func (s *settlementStub) SettlementSummary(_ context.Context, date string) (domain.SupplierDebtSummary, error) {
	s.dates = append(s.dates, date)
	if s.err != nil {
		return domain.SupplierDebtSummary{}, s.err
	}
	summary := s.summary
	summary.Date = date
	return summary, nil
}

type lowStockStub struct {
	items []domain.InventoryItem
	shop  string
}

func (s *lowStockStub) LowStockItems(_ context.Context, shopID string) ([]domain.InventoryItem, error) {
	s.shop = shopID
	return s.items, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, event domain.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func newSnapshotStore(t *testing.T) *notify.Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return notify.NewRedisFromClient(client)
}

func TestFormatKES(t *testing.T) {
	require.Equal(t, "KES 1,234.50", FormatKES(123450))
	require.Equal(t, "KES 0.05", FormatKES(5))
	require.Equal(t, "KES 2,500,000.00", FormatKES(250000000))
	require.Equal(t, "-KES 1,000.00", FormatKES(-100000))
}

func TestSettlementJobStoresSnapshot(t *testing.T) {
	snapshots := newSnapshotStore(t)
	source := &settlementStub{summary: domain.SupplierDebtSummary{
		Suppliers:  []domain.SupplierDebtTotal{{SupplierID: "sup-1", UnpaidCents: 450000, Debts: 2, AwaitingCost: 1}},
		TotalCents: 450000,
	}}
	job := NewSettlementJob(source, snapshots, quietLogger, nil)
	job.clock = func() time.Time { return time.Date(2026, 3, 9, 20, 30, 0, 0, time.UTC) }

	task, err := NewSettlementTask("")
	require.NoError(t, err)
	require.Equal(t, TaskDailySettlement, task.Type())
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []string{"2026-03-09"}, source.dates)

	var stored domain.SupplierDebtSummary
	found, err := snapshots.LoadSnapshot(context.Background(), notify.SettlementKey("2026-03-09"), &stored)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 450000, stored.TotalCents)
	require.Len(t, stored.Suppliers, 1)
}

func TestSettlementJobUsesPayloadDate(t *testing.T) {
	snapshots := newSnapshotStore(t)
	source := &settlementStub{}
	job := NewSettlementJob(source, snapshots, quietLogger, nil)

	task, err := NewSettlementTask("2026-01-31")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []string{"2026-01-31"}, source.dates)

	var stored domain.SupplierDebtSummary
	found, err := snapshots.LoadSnapshot(context.Background(), notify.SettlementKey("2026-01-31"), &stored)
	require.NoError(t, err)
	require.True(t, found)
}

func TestSettlementJobFailureStoresNothing(t *testing.T) {
	snapshots := newSnapshotStore(t)
	boom := errors.New("store offline")
	job := NewSettlementJob(&settlementStub{err: boom}, snapshots, quietLogger, nil)

	task, err := NewSettlementTask("2026-02-01")
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)

	var stored domain.SupplierDebtSummary
	found, err := snapshots.LoadSnapshot(context.Background(), notify.SettlementKey("2026-02-01"), &stored)
	require.NoError(t, err)
	require.False(t, found)
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	settlement := NewSettlementJob(&settlementStub{}, newSnapshotStore(t), quietLogger, nil)
	err := settlement.Handle(context.Background(), asynq.NewTask(TaskDailySettlement, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	scan := NewLowStockScanJob(&lowStockStub{}, nil, quietLogger, nil)
	err = scan.Handle(context.Background(), asynq.NewTask(TaskLowStockScan, []byte("[")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLowStockScanNotifiesEachShopOnce(t *testing.T) {
	source := &lowStockStub{items: []domain.InventoryItem{
		{Name: "Samsung A14 Battery", ShopID: "shop-westlands", Stock: 1, ReorderLevel: 3},
		{Name: "Tecno Spark 20", ShopID: "shop-westlands", Stock: 0, ReorderLevel: 1},
		{Name: "iPhone 11 Screen", ShopID: "shop-cbd", Stock: 2, ReorderLevel: 2},
	}}
	pub := &capturePublisher{}
	job := NewLowStockScanJob(source, pub, quietLogger, nil)
	now := time.Date(2026, 3, 9, 7, 0, 0, 0, time.UTC)
	job.clock = func() time.Time { return now }

	task, err := NewLowStockScanTask("")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Empty(t, source.shop)

	require.Len(t, pub.events, 2)
	require.Equal(t, "shop-cbd", pub.events[0].ShopID)
	require.Equal(t, "shop-westlands", pub.events[1].ShopID)
	for _, event := range pub.events {
		require.Equal(t, "low_stock", event.Action)
		require.Equal(t, now, event.At)
	}
}

func TestLowStockScanIgnoresPublishFailures(t *testing.T) {
	source := &lowStockStub{items: []domain.InventoryItem{{Name: "Charger", ShopID: "shop-cbd", Stock: 0, ReorderLevel: 2}}}
	pub := &capturePublisher{err: errors.New("redis down")}
	job := NewLowStockScanJob(source, pub, quietLogger, nil)

	body, err := json.Marshal(LowStockScanPayload{ShopID: "shop-cbd"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskLowStockScan, body)))
	require.Equal(t, "shop-cbd", source.shop)
	require.Len(t, pub.events, 1)
}

func TestUnconfiguredJobsFail(t *testing.T) {
	var scan *LowStockScanJob
	require.Error(t, scan.Handle(context.Background(), asynq.NewTask(TaskLowStockScan, nil)))

	settlement := NewSettlementJob(&settlementStub{}, nil, quietLogger, nil)
	require.Error(t, settlement.Handle(context.Background(), asynq.NewTask(TaskDailySettlement, nil)))
}

func TestNewWorkerRejectsBadCronSpec(t *testing.T) {
	mr := miniredis.RunT(t)
	task, err := NewLowStockScanTask("")
	require.NoError(t, err)

	_, err = NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()},
		Logger:    quietLogger,
		Cron:      []CronRegistration{{Spec: "every morning", Task: task}},
	})
	require.Error(t, err)
}

func TestClientRejectsUnknownTask(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer client.Close()

	_, err := client.Trigger(context.Background(), "mail:send", "")
	require.Error(t, err)
}
