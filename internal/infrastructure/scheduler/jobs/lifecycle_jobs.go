// Package jobs contains the scheduled jobs of the bloodlink worker.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bloodlink/bloodlink-hub/internal/application/command"
	"github.com/bloodlink/bloodlink-hub/pkg/logger"
)

// Job names.
const (
	ExpireRedRequestsName        = "expire_red_requests"
	ExpireDonorNotificationsName = "expire_donor_notifications"
	RefreshEligibilityName       = "refresh_eligibility"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// RequestExpirer expires pending RED requests past their window.
type RequestExpirer interface {
	ExpireDue(ctx context.Context) (int, error)
}

// NotificationExpirer times out unanswered donor notifications.
type NotificationExpirer interface {
	ExpireNotifications(ctx context.Context) (int, error)
}

// ScoreRefresher re-scores every active donor.
type ScoreRefresher interface {
	RefreshAll(ctx context.Context) (command.RefreshResult, error)
}

// Locker is a cluster-wide mutex, implemented by the Redis cache. When
// several workers run, only the lock holder performs a sweep.
type Locker interface {
	TryLock(ctx context.Context, resource, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, resource, token string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// EXPIRE RED REQUESTS
// ══════════════════════════════════════════════════════════════════════════════

// ExpireRedRequestsJob polls pending RED requests and expires stale ones.
type ExpireRedRequestsJob struct {
	expirer RequestExpirer
	lock    *guard
	log     *logger.Logger
}

// NewExpireRedRequestsJob creates the job. locker may be nil.
func NewExpireRedRequestsJob(expirer RequestExpirer, locker Locker, lockTTL time.Duration, log *logger.Logger) *ExpireRedRequestsJob {
	log = orNop(log).Named(ExpireRedRequestsName)
	return &ExpireRedRequestsJob{
		expirer: expirer,
		lock:    newGuard(locker, ExpireRedRequestsName, lockTTL, log),
		log:     log,
	}
}

func (j *ExpireRedRequestsJob) Name() string { return ExpireRedRequestsName }

func (j *ExpireRedRequestsJob) Description() string {
	return "Expires pending RED requests nobody viewed or answered in time"
}

func (j *ExpireRedRequestsJob) Run(ctx context.Context) error {
	return j.lock.do(ctx, func(ctx context.Context) error {
		n, err := j.expirer.ExpireDue(ctx)
		if n > 0 {
			j.log.Info("red requests expired", logger.Int("count", n))
		}
		if err != nil {
			return fmt.Errorf("expire red requests: %w", err)
		}
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// EXPIRE DONOR NOTIFICATIONS
// ══════════════════════════════════════════════════════════════════════════════

// ExpireDonorNotificationsJob records IGNORED for notifications past their
// response window.
type ExpireDonorNotificationsJob struct {
	expirer NotificationExpirer
	lock    *guard
	log     *logger.Logger
}

// NewExpireDonorNotificationsJob creates the job. locker may be nil.
func NewExpireDonorNotificationsJob(expirer NotificationExpirer, locker Locker, lockTTL time.Duration, log *logger.Logger) *ExpireDonorNotificationsJob {
	log = orNop(log).Named(ExpireDonorNotificationsName)
	return &ExpireDonorNotificationsJob{
		expirer: expirer,
		lock:    newGuard(locker, ExpireDonorNotificationsName, lockTTL, log),
		log:     log,
	}
}

func (j *ExpireDonorNotificationsJob) Name() string { return ExpireDonorNotificationsName }

func (j *ExpireDonorNotificationsJob) Description() string {
	return "Marks unanswered donor notifications as ignored"
}

func (j *ExpireDonorNotificationsJob) Run(ctx context.Context) error {
	return j.lock.do(ctx, func(ctx context.Context) error {
		if _, err := j.expirer.ExpireNotifications(ctx); err != nil {
			return fmt.Errorf("expire donor notifications: %w", err)
		}
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH ELIGIBILITY
// ══════════════════════════════════════════════════════════════════════════════

// RefreshEligibilityJob re-scores active donors so eligibility recovers as
// donation dates age.
type RefreshEligibilityJob struct {
	refresher ScoreRefresher
	lock      *guard
	log       *logger.Logger
}

// NewRefreshEligibilityJob creates the job. locker may be nil.
func NewRefreshEligibilityJob(refresher ScoreRefresher, locker Locker, lockTTL time.Duration, log *logger.Logger) *RefreshEligibilityJob {
	log = orNop(log).Named(RefreshEligibilityName)
	return &RefreshEligibilityJob{
		refresher: refresher,
		lock:      newGuard(locker, RefreshEligibilityName, lockTTL, log),
		log:       log,
	}
}

func (j *RefreshEligibilityJob) Name() string { return RefreshEligibilityName }

func (j *RefreshEligibilityJob) Description() string {
	return "Recomputes eligibility and reliability of active donors"
}

func (j *RefreshEligibilityJob) Run(ctx context.Context) error {
	return j.lock.do(ctx, func(ctx context.Context) error {
		res, err := j.refresher.RefreshAll(ctx)
		j.log.Info("donor scores refreshed",
			logger.Int("scanned", res.Scanned),
			logger.Int("updated", res.Updated),
			logger.Int("failed", res.Failed))
		if err != nil {
			return fmt.Errorf("refresh donor scores: %w", err)
		}
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LOCKING
// ══════════════════════════════════════════════════════════════════════════════

// guard runs a sweep under the named lock. Without a locker it just runs.
type guard struct {
	locker   Locker
	resource string
	ttl      time.Duration
	log      *logger.Logger
}

func newGuard(locker Locker, resource string, ttl time.Duration, log *logger.Logger) *guard {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &guard{locker: locker, resource: "job:" + resource, ttl: ttl, log: log}
}

func (g *guard) do(ctx context.Context, fn func(context.Context) error) error {
	if g.locker == nil {
		return fn(ctx)
	}

	token := uuid.NewString()
	ok, err := g.locker.TryLock(ctx, g.resource, token, g.ttl)
	if err != nil {
		g.log.Warn("job lock unavailable, running unlocked", logger.Err(err))
		return fn(ctx)
	}
	if !ok {
		g.log.Debug("job held by another worker, skipping")
		return nil
	}
	defer func() {
		if err := g.locker.Unlock(context.WithoutCancel(ctx), g.resource, token); err != nil {
			g.log.Warn("job unlock failed", logger.Err(err))
		}
	}()
	return fn(ctx)
}

func orNop(log *logger.Logger) *logger.Logger {
	if log == nil {
		return logger.NewNop()
	}
	return log
}
