package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/metrics"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/notify"
)

// LowStockSource lists shop rows at or below their reorder level.
type LowStockSource interface {
	LowStockItems(ctx context.Context, shopID string) ([]domain.InventoryItem, error)
}

// LowStockScanJob logs low rows and tells each affected shop over the change
// stream.
type LowStockScanJob struct {
	Source    LowStockSource
	Publisher notify.Publisher
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	clock     func() time.Time
}

func NewLowStockScanJob(source LowStockSource, publisher notify.Publisher, logger *slog.Logger, m *metrics.Metrics) *LowStockScanJob {
	if publisher == nil {
		publisher = notify.Noop{}
	}
	return &LowStockScanJob{
		Source:    source,
		Publisher: publisher,
		Logger:    logger,
		Metrics:   m,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Source == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("low stock scan payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	defer func() { observeJob(j.Metrics, TaskLowStockScan, err) }()

	logger := jobLogger(j.Logger).With(slog.String("task", TaskLowStockScan))
	items, err := j.Source.LowStockItems(ctx, payload.ShopID)
	if err != nil {
		logger.Error("low stock scan failed", slog.Any("error", err))
		return err
	}

	byShop := make(map[string]int)
	for _, item := range items {
		byShop[item.ShopID]++
		logger.Warn("low stock",
			slog.String("shop_id", item.ShopID),
			slog.String("item", item.Name),
			slog.Int("stock", item.Stock),
			slog.Int("reorder_level", item.ReorderLevel),
		)
	}

	shops := make([]string, 0, len(byShop))
	for shopID := range byShop {
		shops = append(shops, shopID)
	}
	sort.Strings(shops)
	now := j.clock()
	for _, shopID := range shops {
		event := domain.ChangeEvent{Entity: "inventory_item", ID: shopID, Action: "low_stock", ShopID: shopID, At: now}
		if err := j.Publisher.Publish(ctx, event); err != nil {
			logger.Warn("publish low stock", slog.String("shop_id", shopID), slog.Any("error", err))
		}
	}

	logger.Info("low stock scan completed", slog.Int("items", len(items)), slog.Int("shops", len(shops)))
	return nil
}
