package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/metrics"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/service"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
)

// EventSource streams committed change events.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan domain.ChangeEvent, error)
}

// SnapshotReader loads summaries the worker stored.
type SnapshotReader interface {
	LoadSnapshot(ctx context.Context, key string, dst any) (bool, error)
}

type Options struct {
	AllowedOrigin  string
	Production     bool
	RequestTimeout time.Duration
	// LoginLimit is the number of login attempts allowed per IP per minute.
	LoginLimit int
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Events     EventSource
	Snapshots  SnapshotReader
}

type API struct {
	svc       *service.Service
	auth      *AuthManager
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Metrics
	events    EventSource
	snapshots SnapshotReader
	secure    *secure.Secure
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.LoginLimit <= 0 {
		opts.LoginLimit = 10
	}
	return &API{
		svc:       svc,
		auth:      auth,
		opts:      opts,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		events:    opts.Events,
		snapshots: opts.Snapshots,
		secure: secure.New(secure.Options{
			FrameDeny:             true,
			ContentTypeNosniff:    true,
			BrowserXssFilter:      true,
			ReferrerPolicy:        "strict-origin-when-cross-origin",
			ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
			SSLRedirect:           opts.Production,
			SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		}),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(a.metrics.Middleware)
	r.Use(a.secureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.opts.AllowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(limitBody)

	r.MethodNotAllowed(writeMethodNotAllowed)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", a.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.With(a.loginLimiter()).Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)
			// the change stream stays open, so it is mounted outside the timeout
			r.Get("/events", a.handleEvents)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(a.opts.RequestTimeout))
				r.Get("/me", a.handleMe)

				r.With(requireRole(domain.RoleAdmin)).Route("/staff", func(r chi.Router) {
					r.Get("/", a.handleListStaff)
					r.Post("/", a.handleCreateStaff)
				})

				r.Route("/items", func(r chi.Router) {
					r.Get("/", a.handleListItems)
					r.Post("/", a.handleCreateItem)
					r.Get("/low-stock", a.handleLowStock)
					r.Get("/{id}", a.handleGetItem)
				})
				r.Post("/stock/adjust", a.handleAdjustStock)

				r.Route("/purchases", func(r chi.Router) {
					r.Get("/", a.handleListPurchases)
					r.Post("/", a.handleCreatePurchase)
				})

				r.Route("/allocations", func(r chi.Router) {
					r.Get("/", a.handleListAllocations)
					r.Post("/", a.handleRequestAllocation)
					r.Get("/{id}", a.handleGetAllocation)
					r.Post("/{id}/approve", a.handleApproveAllocation)
					r.Post("/{id}/reject", a.handleRejectAllocation)
				})

				r.Route("/exchanges", func(r chi.Router) {
					r.Get("/", a.handleListExchanges)
					r.Post("/", a.handleCreateExchange)
					r.Get("/{id}", a.handleGetExchange)
					r.Post("/{id}/confirm", a.handleConfirmReceipt)
					r.Post("/{id}/complete", a.handleCompleteExchange)
					r.Post("/{id}/reject", a.handleRejectExchange)
				})

				r.Route("/repairs", func(r chi.Router) {
					r.Get("/", a.handleListRepairs)
					r.Post("/", a.handleCreateRepair)
					r.Get("/pending-approval", a.handlePendingApprovals)
					r.Get("/{id}", a.handleGetRepair)
					r.Delete("/{id}", a.handleDeleteRepair)
					r.Patch("/{id}/status", a.handleRepairStatus)
					r.Patch("/{id}/customer-status", a.handleCustomerStatus)
					r.Post("/{id}/payments", a.handleRecordPayment)
					r.Post("/{id}/payments/submit", a.handleSubmitPayment)
					r.Post("/{id}/payments/approve", a.handleApprovePayment)
					r.Post("/{id}/payments/discard", a.handleDiscardPayment)
					r.Post("/{id}/collect", a.handleConfirmCollection)
					r.Post("/{id}/part-cost", a.handleUpdatePartCost)
				})

				r.Route("/sales", func(r chi.Router) {
					r.Post("/", a.handleCreateSale)
					r.Get("/{id}", a.handleGetSale)
				})

				r.Route("/supplier-debts", func(r chi.Router) {
					r.Get("/", a.handleListDebts)
					r.Post("/", a.handleAddDebt)
					r.Get("/summary", a.handleDebtSummary)
					r.Get("/settlements/{date}", a.handleSettlementSnapshot)
					r.Get("/{id}", a.handleGetDebt)
					r.Post("/{id}/cost", a.handleSetDebtCost)
					r.Post("/{id}/paid", a.handleMarkDebtPaid)
				})

				r.Route("/payments", func(r chi.Router) {
					r.Get("/", a.handleListPayments)
					r.Get("/daily-totals", a.handleDailyTotals)
					r.Get("/pending-deposits", a.handlePendingDeposits)
					r.Post("/{id}/deposit", a.handleMarkDeposited)
				})

				r.Get("/audit-logs", a.handleAuditLogs)
			})
		})
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": actor.UserID,
		"name":    actor.Name,
		"role":    actor.Role,
		"shop_id": actor.ShopID,
	})
}

func (a *API) handleListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := a.auth.ListStaff(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"staff": staff})
}

func (a *API) handleCreateStaff(w http.ResponseWriter, r *http.Request) {
	var req domain.StaffCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateStaff(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"staff": user})
}

// requireAuth resolves the bearer token into the request principal.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(authz, "Bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		actor, err := a.auth.ParseToken(strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := service.ActorFromContext(r.Context())
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, errors.New("forbidden"))
		})
	}
}

func (a *API) loginLimiter() func(http.Handler) http.Handler {
	return httprate.Limit(a.opts.LoginLimit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			a.logger.Warn("login rate limited", "remote", r.RemoteAddr)
			writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts, try again later"))
		}),
	)
}

func (a *API) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.secure.Process(w, r); err != nil {
			a.logger.Warn("secure headers blocked request", "path", r.URL.Path, "error", err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(startedAt),
		)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps ledger and workflow errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInactiveAccount), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrAllocationExceedsPool),
		errors.Is(err, store.ErrInvalidStateTransition),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	var stockErr *store.StockError
	if errors.As(err, &stockErr) {
		writeJSON(w, status, map[string]any{
			"error":     err.Error(),
			"item_name": stockErr.ItemName,
			"shop_id":   stockErr.ShopID,
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		})
		return
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	return err == nil && v
}

// queryDay parses an optional YYYY-MM-DD parameter into a [from, to) range.
func queryDay(r *http.Request, key string) (time.Time, time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, time.Time{}, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", store.ErrInvalidInput, key)
	}
	return day, day.AddDate(0, 0, 1), nil
}

func writeMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause is logged by the caller.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
