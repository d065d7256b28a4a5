package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/cache"
	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/ledger"
	"kasirinaja/opscore/internal/lock"
	"kasirinaja/opscore/internal/logger"
	"kasirinaja/opscore/internal/metrics"
	"kasirinaja/opscore/internal/retry"
	"kasirinaja/opscore/internal/store"
	"kasirinaja/opscore/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	AllowNegativeStock   bool
	LockWait             time.Duration
	Location             *time.Location
	ClosingDefaultStatus string
	RetryMaxAttempts     uint64
	RetryBaseDelay       time.Duration
	RulesCache           cache.RulesCache
	RulesCacheTTL        time.Duration
	Logger               *logger.Logger
	Metrics              *metrics.Engine
	Clock                func() time.Time
}

type Service struct {
	repo    store.Repository
	locker  lock.Locker
	ledger  *ledger.Ledger
	rules   *cache.RulesLoader
	log     *logger.Logger
	metrics *metrics.Engine
	opts    Options
}

func New(repo store.Repository, locker lock.Locker, opts Options) *Service {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 3 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ClosingDefaultStatus == "" {
		opts.ClosingDefaultStatus = domain.ClosingApproved
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	s := &Service{
		repo:    repo,
		locker:  locker,
		log:     opts.Logger,
		metrics: opts.Metrics,
		opts:    opts,
	}
	s.ledger = ledger.New(repo, locker, ledger.Options{
		AllowNegative: opts.AllowNegativeStock,
		LockWait:      opts.LockWait,
	})
	s.rules = cache.NewRulesLoader(opts.RulesCache, opts.RulesCacheTTL, repo.GetPricingRules)
	s.rules.OnCacheError(func(err error) {
		s.log.Warn(context.Background(), "pricing rules cache unavailable, loading from store", err)
	})
	return s
}

func (s *Service) now() time.Time {
	return s.opts.Clock()
}

// businessDay returns today's date in the configured zone and the UTC
// bounds [start, end) of that day.
func (s *Service) businessDay() (string, time.Time, time.Time) {
	local := s.now().In(s.opts.Location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.opts.Location)
	return store.BusinessDate(local, s.opts.Location), midnight.UTC(), midnight.AddDate(0, 0, 1).UTC()
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.StaffID == "" {
		return domain.Actor{}, apperr.New(apperr.CodeUnauthorized, "authenticated staff required")
	}
	return actor, nil
}

func requireExecutive(actor domain.Actor, action string) error {
	if domain.IsExecutive(actor.Role) {
		return nil
	}
	return apperr.Newf(apperr.CodeInsufficientPermission, "%s requires manager or owner role", action)
}

// requireOutlet rejects the aggregate view and unknown outlets.
func (s *Service) requireOutlet(ctx context.Context, outletID string) error {
	if outletID == "" || outletID == domain.AllOutlets {
		return apperr.Validation("a concrete outlet is required")
	}
	if _, err := s.repo.GetOutlet(ctx, outletID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Newf(apperr.CodeNotFound, "outlet %s not found", outletID)
		}
		return apperr.Wrap(apperr.CodePersistence, err, "load outlet")
	}
	return nil
}

// ensureShiftOpen refuses mutations by staff below manager once their
// closing for today at this outlet exists.
func (s *Service) ensureShiftOpen(ctx context.Context, actor domain.Actor, outletID string) error {
	if domain.IsExecutive(actor.Role) {
		return nil
	}
	day, _, _ := s.businessDay()
	_, err := s.repo.GetClosing(ctx, outletID, actor.StaffID, day)
	switch {
	case err == nil:
		return apperr.New(apperr.CodeInsufficientPermission, "shift already closed for today").
			WithDetails(map[string]any{"outlet_id": outletID, "business_date": day})
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return apperr.Wrap(apperr.CodePersistence, err, "check shift closing")
	}
}

// shiftKeys is the closing lock a mutation by actor must hold so it cannot
// interleave with PerformClosing. Executives are never shift-locked.
func shiftKeys(actor domain.Actor, outletID string) []string {
	if domain.IsExecutive(actor.Role) {
		return nil
	}
	return []string{lock.ClosingKey(outletID, actor.StaffID)}
}

// shiftDate is the business day the store re-checks for a closing when it
// commits a write by actor. It is empty for executives.
func (s *Service) shiftDate(actor domain.Actor) string {
	if domain.IsExecutive(actor.Role) {
		return ""
	}
	day, _, _ := s.businessDay()
	return day
}

// requireAttendanceToday refuses staff whose open attendance at the outlet
// did not start in the current business day.
func (s *Service) requireAttendanceToday(ctx context.Context, actor domain.Actor, outletID string) error {
	attendance, err := s.repo.GetOpenAttendance(ctx, outletID, actor.StaffID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.CodeInsufficientPermission, "clock in at this outlet before selling")
		}
		return translate(err)
	}
	day, since, _ := s.businessDay()
	if attendance.ClockIn.Before(since) {
		return apperr.New(apperr.CodeInsufficientPermission, "attendance is from a previous day, clock in again").
			WithDetails(map[string]any{"outlet_id": outletID, "business_date": day, "clock_in": attendance.ClockIn})
	}
	return nil
}

func (s *Service) retryPolicy(ctx context.Context, operation string) retry.Policy {
	return retry.Policy{
		MaxAttempts: s.opts.RetryMaxAttempts,
		BaseDelay:   s.opts.RetryBaseDelay,
		Retryable:   isTransient,
		OnRetry: func(attempt uint64, err error) {
			s.metrics.IncRetry(operation)
			s.log.Warn(s.log.WithFields(ctx, map[string]any{
				"operation": operation,
				"attempt":   attempt,
			}), "persistence call failed, retrying", err)
		},
	}
}

// persist runs a store write with bounded retries. Domain failures are
// returned on the first attempt; anything still failing afterwards is a
// PersistenceError and the store guarantees nothing was applied.
func (s *Service) persist(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	err := s.retryPolicy(ctx, operation).Do(ctx, fn)
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return apperr.Wrap(apperr.CodePersistence, err, fmt.Sprintf("%s failed after retries", operation))
	}
	return translate(err)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if apperr.As(err) != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, sentinel := range []error{
		store.ErrNotFound,
		store.ErrInsufficientStock,
		store.ErrInvalidTransaction,
		store.ErrConflict,
		store.ErrInvalidState,
		store.ErrShiftClosed,
	} {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}

// translate maps store sentinels onto typed errors, keeping the cause.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case apperr.As(err) != nil:
		return err
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.CodeNotFound, err, "referenced record not found")
	case errors.Is(err, store.ErrInsufficientStock):
		return apperr.Wrap(apperr.CodeConflict, err, "insufficient stock")
	case errors.Is(err, store.ErrConflict):
		return apperr.Wrap(apperr.CodeConflict, err, "record already exists")
	case errors.Is(err, store.ErrInvalidState):
		return apperr.Wrap(apperr.CodeStateConflict, err, "state transition not allowed")
	case errors.Is(err, store.ErrShiftClosed):
		return apperr.Wrap(apperr.CodeInsufficientPermission, err, "shift already closed for today")
	case errors.Is(err, store.ErrInvalidTransaction):
		return apperr.Wrap(apperr.CodeValidation, err, "invalid request")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return apperr.Wrap(apperr.CodePersistence, err, "storage failure")
	}
}

// lookup reads one record, turning a missing row into NotFound.
func lookup[T any](ctx context.Context, what string, id string, fn func(context.Context, string) (*T, error)) (*T, error) {
	v, err := fn(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Newf(apperr.CodeNotFound, "%s %s not found", what, id)
		}
		return nil, translate(err)
	}
	return v, nil
}

func (s *Service) acquire(ctx context.Context, scope string, keys ...string) (lock.Release, error) {
	started := time.Now()
	release, err := lock.AcquireAll(ctx, s.locker, s.opts.LockWait, keys...)
	s.metrics.ObserveLockWait(scope, time.Since(started))
	return release, err
}

// observe records the operation outcome in metrics and the log.
func (s *Service) observe(ctx context.Context, operation string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.CodeOf(err))
	}
	s.metrics.Observe(operation, outcome, time.Since(started))
	if err == nil {
		return
	}
	logCtx := s.log.WithFields(ctx, map[string]any{"operation": operation, "code": outcome})
	if apperr.MetadataFor(apperr.CodeOf(err)).HTTPStatus >= 500 {
		s.log.Error(logCtx, "operation failed", err)
		return
	}
	s.log.Debug(logCtx, "operation rejected")
}

func (s *Service) logAudit(ctx context.Context, outletID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{StaffID: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:           xid.New("audit"),
		OutletID:     outletID,
		ActorStaffID: actor.StaffID,
		ActorRole:    actor.Role,
		Action:       action,
		EntityType:   entityType,
		EntityID:     entityID,
		Detail:       detail,
		CreatedAt:    s.now(),
	}); err != nil {
		s.log.Warn(s.log.WithFields(ctx, map[string]any{
			"action": action,
			"entity": entityType + "/" + entityID,
		}), "failed to write audit log", err)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, outletID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireExecutive(actor, "audit log access"); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	logs, err := s.repo.ListAuditLogs(ctx, outletID, from, to, limit)
	if err != nil {
		return nil, translate(err)
	}
	return logs, nil
}
