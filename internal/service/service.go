package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Lawremwaos/phonemart-admin-sub000/internal/domain"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/metrics"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/notify"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/store"
	"github.com/Lawremwaos/phonemart-admin-sub000/internal/xid"
)

var ErrUnauthorized = errors.New("unauthorized")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Config carries business switches read from the environment.
type Config struct {
	// RepriceCascadesToTicket folds UpdatePartCost into the ticket total.
	RepriceCascadesToTicket bool
}

type Service struct {
	repo      store.Repository
	publisher notify.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	validate  *validator.Validate
	cfg       Config
	now       func() time.Time
}

type Option func(*Service)

func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		publisher: notify.Noop{},
		logger:    slog.Default(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func actorFrom(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, fmt.Errorf("no principal: %w", ErrUnauthorized)
	}
	return actor, nil
}

// check runs struct validation and maps failures to ErrInvalidInput.
func (s *Service) check(req any) error {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", store.ErrInvalidInput, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	return nil
}

// inTx runs fn in one store transaction and records the outcome under op.
func (s *Service) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	err := s.repo.WithTx(ctx, fn)
	s.observe(op, err)
	if err != nil && !isBusinessError(err) {
		s.logger.Error("transaction failed", "op", op, "error", err)
	}
	return err
}

func (s *Service) observe(op string, err error) {
	if err == nil {
		s.metrics.ObserveOperation(op, "ok")
		return
	}
	reason := rejectionReason(err)
	s.metrics.ObserveOperation(op, reason)
	if reason != "error" {
		s.metrics.ObserveRejection(op, reason)
	}
}

func (s *Service) observeNoop(op string) {
	s.metrics.ObserveOperation(op, "already_processed")
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrAllocationExceedsPool):
		return "allocation_exceeds_pool"
	case errors.Is(err, store.ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, store.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

func isBusinessError(err error) bool {
	return rejectionReason(err) != "error" && !errors.Is(err, store.ErrConflict)
}

// audit writes the log row inside tx so it commits with the mutation.
func (s *Service) audit(ctx context.Context, tx store.Tx, shopID string, action string, entityType string, entityID string, detail string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Role: "system"}
	}
	err := tx.InsertAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		ShopID:     shopID,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return fmt.Errorf("audit %s %s/%s: %w", action, entityType, entityID, err)
	}
	return nil
}

// publish runs after commit; failures are logged, never returned.
func (s *Service) publish(ctx context.Context, events ...domain.ChangeEvent) {
	for _, event := range events {
		if event.At.IsZero() {
			event.At = s.now()
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("publish change event", "entity", event.Entity, "id", event.ID, "action", event.Action, "error", err)
		}
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, shopID string, date string, limit int) ([]domain.AuditLog, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		shopID = actor.ShopID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := parseDay(date)
		if err != nil {
			return nil, err
		}
		from = parsed
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, shopID, from, to, limit)
}

func parseDay(date string) (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
	}
	return parsed.UTC(), nil
}

func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
