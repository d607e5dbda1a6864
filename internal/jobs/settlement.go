package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/metrics"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/notify"
)

// SettlementSource builds the unpaid supplier summary for one day.
type SettlementSource interface {
	SettlementSummary(ctx context.Context, date string) (domain.SupplierDebtSummary, error)
}

// SnapshotWriter persists job output for the API to serve.
type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, key string, value any, ttl time.Duration) error
}

// SettlementJob stores the daily supplier settlement summary under
// notify.SettlementKey(date).
type SettlementJob struct {
	Source    SettlementSource
	Snapshots SnapshotWriter
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	clock     func() time.Time
}

func NewSettlementJob(source SettlementSource, snapshots SnapshotWriter, logger *slog.Logger, m *metrics.Metrics) *SettlementJob {
	return &SettlementJob{
		Source:    source,
		Snapshots: snapshots,
		Logger:    logger,
		Metrics:   m,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

func (j *SettlementJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Source == nil || j.Snapshots == nil {
		return errors.New("daily settlement: handler not configured")
	}
	var payload SettlementPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("daily settlement payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.Date == "" {
		payload.Date = j.clock().Format("2006-01-02")
	}
	defer func() { observeJob(j.Metrics, TaskDailySettlement, err) }()

	logger := jobLogger(j.Logger).With(slog.String("task", TaskDailySettlement), slog.String("date", payload.Date))
	summary, err := j.Source.SettlementSummary(ctx, payload.Date)
	if err != nil {
		logger.Error("settlement summary failed", slog.Any("error", err))
		return err
	}
	if err := j.Snapshots.SaveSnapshot(ctx, notify.SettlementKey(summary.Date), summary, settlementTTL); err != nil {
		logger.Error("save settlement snapshot", slog.Any("error", err))
		return err
	}

	for _, supplier := range summary.Suppliers {
		logger.Info("supplier unpaid",
			slog.String("supplier_id", supplier.SupplierID),
			slog.String("unpaid", FormatKES(supplier.UnpaidCents)),
			slog.Int("debts", supplier.Debts),
			slog.Int("awaiting_cost", supplier.AwaitingCost),
		)
	}
	logger.Info("settlement stored", slog.Int("suppliers", len(summary.Suppliers)), slog.String("total", FormatKES(summary.TotalCents)))
	return nil
}

func jobLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

func observeJob(m *metrics.Metrics, task string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ObserveOperation("job:"+task, outcome)
}
