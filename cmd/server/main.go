package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/config"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/httpapi"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/metrics"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/notify"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/service"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store/memory"
	pgstore "github.com/Lawremwaos/phonemart-admin-sub000/internal/store/postgres"
)

func main() {
	// a missing .env is fine; the environment wins anyway
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           app.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("phonemart back office listening", slog.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type application struct {
	handler http.Handler
	closers []func() error
}

func (a *application) close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close", slog.Any("error", err))
		}
	}
}

// build wires the store, notifier, service and router. A failure to reach
// Postgres is fatal when DATABASE_URL is set; Redis is optional.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	app := &application{}

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if closeRepo != nil {
		app.closers = append(app.closers, closeRepo)
	}

	m := metrics.New()
	svcOpts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithConfig(service.Config{RepriceCascadesToTicket: cfg.RepriceCascadesToTicket}),
	}
	apiOpts := httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		Production:     cfg.IsProduction(),
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
		Metrics:        m,
	}

	if rds := openRedis(ctx, cfg, logger); rds != nil {
		app.closers = append(app.closers, rds.Close)
		svcOpts = append(svcOpts, service.WithPublisher(rds))
		apiOpts.Events = rds
		apiOpts.Snapshots = rds
	}

	svc := service.New(repo, svcOpts...)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	app.handler = httpapi.New(svc, auth, apiOpts).Handler()
	return app, nil
}

func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("repository: in-memory")
		return memory.NewSeeded(logger), nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pg, err := pgstore.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.MigrateOnStart {
		if err := pg.Migrate(connectCtx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		logger.Info("schema migrated")
	}
	if err := bootstrapAdmin(connectCtx, pg, logger); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	logger.Info("repository: postgres")
	return pg, pg.Close, nil
}

// bootstrapAdmin creates the admin account from SEED_ADMIN_PASSWORD when the
// database has none yet.
func bootstrapAdmin(ctx context.Context, pg *pgstore.Store, logger *slog.Logger) error {
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	created, err := pg.EnsureUser(ctx, domain.UserAccount{
		Username: "admin",
		Name:     "Owner",
		Password: string(hash),
		Role:     domain.RoleAdmin,
	})
	if err != nil {
		return err
	}
	if created {
		logger.Info("admin account created")
	}
	return nil
}

// openRedis returns nil when REDIS_ADDR is unset or unreachable; events
// then go nowhere and the stream and snapshot endpoints answer 503.
func openRedis(ctx context.Context, cfg config.Config, logger *slog.Logger) *notify.Redis {
	if cfg.RedisAddr == "" {
		logger.Info("notifications: disabled")
		return nil
	}
	rds := notify.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rds.Ping(pingCtx); err != nil {
		logger.Warn("redis unavailable, notifications disabled", slog.Any("error", err))
		_ = rds.Close()
		return nil
	}
	logger.Info("notifications: redis", slog.String("addr", cfg.RedisAddr))
	return rds
}
