package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/config"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/jobs"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/metrics"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/notify"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/service"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store/memory"
	pgstore "github.com/Lawremwaos/phonemart-admin-sub000/internal/store/postgres"
)

// Usage:
//
//	worker                       run the scheduler and task server
//	worker trigger <task> [arg]  enqueue one task and exit
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg, os.Stdout)
	if cfg.RedisAddr == "" {
		logger.Error("REDIS_ADDR is required for the worker")
		os.Exit(1)
	}
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 && os.Args[1] == "trigger" {
		if err := trigger(ctx, redisOpts, os.Args[2:], logger); err != nil {
			logger.Error("trigger", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, redisOpts, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func trigger(ctx context.Context, redisOpts asynq.RedisClientOpt, args []string, logger *slog.Logger) error {
	if len(args) == 0 {
		return errors.New("usage: worker trigger <" + jobs.TaskLowStockScan + "|" + jobs.TaskDailySettlement + "> [arg]")
	}
	arg := ""
	if len(args) > 1 {
		arg = args[1]
	}
	client := jobs.NewClient(redisOpts)
	defer client.Close()

	info, err := client.Trigger(ctx, args[0], arg)
	if err != nil {
		return err
	}
	logger.Info("task enqueued", slog.String("type", info.Type), slog.String("id", info.ID), slog.String("queue", info.Queue))
	return nil
}

func run(ctx context.Context, cfg config.Config, redisOpts asynq.RedisClientOpt, logger *slog.Logger) error {
	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		defer func() {
			if err := closeRepo(); err != nil {
				logger.Warn("close repository", slog.Any("error", err))
			}
		}()
	}

	rds := notify.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()
	if err := rds.Ping(ctx); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	m := metrics.New()
	svc := service.New(repo, service.WithLogger(logger), service.WithMetrics(m), service.WithPublisher(rds))
	lowStock := jobs.NewLowStockScanJob(svc, rds, logger, m)
	settlement := jobs.NewSettlementJob(svc, rds, logger, m)

	lowStockTask, err := jobs.NewLowStockScanTask("")
	if err != nil {
		return err
	}
	settlementTask, err := jobs.NewSettlementTask("")
	if err != nil {
		return err
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLowStockScan, Handler: lowStock.Handle},
			{Type: jobs.TaskDailySettlement, Handler: settlement.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.LowStockCron, Task: lowStockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.SettlementCron, Task: settlementTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		return err
	}
	return worker.Run(ctx)
}

func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL unset, worker runs against seeded in-memory data")
		return memory.NewSeeded(logger), nil, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pg, err := pgstore.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
