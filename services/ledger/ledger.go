// Package ledger enforces the spending limits. It keeps authoritative
// in-memory counters of committed and reserved spend, in micro-USD, for the
// current calendar day: one global counter and one per user. Every provider
// call must reserve its worst-case cost here before it is made, then
// reconcile down to the actual cost (or release entirely) afterwards.
package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wanderplan/orchestrator/config"
	"github.com/wanderplan/orchestrator/models"
)

// DenialScope identifies which limit rejected a reservation.
type DenialScope string

const (
	// ScopeDaily means the global daily limit would be exceeded.
	ScopeDaily DenialScope = "daily"

	// ScopeUser means the per-user daily limit would be exceeded.
	ScopeUser DenialScope = "user"

	// ScopeRequest means the single request alone exceeds the per-request cap.
	ScopeRequest DenialScope = "request"
)

// Decision is the outcome of a reservation attempt.
type Decision struct {
	Allowed  bool
	Scope    DenialScope
	Reserved models.MicroUSD
}

// CostSource supplies historical spend totals so counters can be rebuilt
// after a restart. The usage repository implements this.
type CostSource interface {
	SumCostSince(ctx context.Context, since time.Time) (models.MicroUSD, map[string]models.MicroUSD, error)
}

// Ledger is the budget authority. All operations are linearizable: a single
// mutex guards the counters and every critical section is a handful of
// integer operations, so contention stays negligible next to provider
// latency.
type Ledger struct {
	mu         sync.Mutex
	period     string
	dailySpent models.MicroUSD
	userSpent  map[string]models.MicroUSD

	limits config.BudgetConfig
	logger *zap.Logger

	now func() time.Time // overridable for tests
}

// New creates a Ledger with zeroed counters for today.
func New(limits config.BudgetConfig, logger *zap.Logger) *Ledger {
	l := &Ledger{
		userSpent: make(map[string]models.MicroUSD),
		limits:    limits,
		logger:    logger,
		now:       time.Now,
	}
	l.period = periodKey(l.now())
	return l
}

// periodKey formats a time as its UTC calendar-day bucket.
func periodKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// rollover resets the counters when the calendar day has changed.
// Must be called with the lock held.
func (l *Ledger) rollover() {
	current := periodKey(l.now())
	if current == l.period {
		return
	}
	l.logger.Info("budget period rolled over",
		zap.String("from", l.period),
		zap.String("to", current),
		zap.String("daily_spent", l.dailySpent.String()))
	l.period = current
	l.dailySpent = 0
	l.userSpent = make(map[string]models.MicroUSD)
}

// Reserve atomically checks the estimate against all three limits and, only
// if every check passes, adds it to the daily and per-user counters. The
// check-and-add is a single critical section: two concurrent reservations
// can never jointly overshoot a limit.
//
// Checks run cheapest-denial first: the per-request cap is stateless, then
// the global daily limit, then the per-user limit.
func (l *Ledger) Reserve(userID string, estimate models.MicroUSD) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	if estimate > l.limits.PerRequestLimit {
		return Decision{Scope: ScopeRequest}
	}
	if l.dailySpent+estimate > l.limits.DailyGlobalLimit {
		return Decision{Scope: ScopeDaily}
	}
	if l.userSpent[userID]+estimate > l.limits.PerUserLimit {
		return Decision{Scope: ScopeUser}
	}

	l.dailySpent += estimate
	l.userSpent[userID] += estimate
	return Decision{Allowed: true, Reserved: estimate}
}

// Reconcile replaces a reservation with the actual cost of the completed
// call. Actual is normally at or below the worst-case reservation; when a
// provider reports more tokens than requested the counters may legitimately
// land above a limit, which only affects future admissions.
func (l *Ledger) Reconcile(userID string, reserved, actual models.MicroUSD) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	delta := actual - reserved
	l.dailySpent = clampSpend(l.dailySpent + delta)
	l.userSpent[userID] = clampSpend(l.userSpent[userID] + delta)
}

// ReleaseOnFailure returns a reservation in full when no provider call
// succeeded, so failed requests never consume budget.
func (l *Ledger) ReleaseOnFailure(userID string, reserved models.MicroUSD) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	l.dailySpent = clampSpend(l.dailySpent - reserved)
	l.userSpent[userID] = clampSpend(l.userSpent[userID] - reserved)
}

func clampSpend(v models.MicroUSD) models.MicroUSD {
	if v < 0 {
		return 0
	}
	return v
}

// Status reports current spend against the configured limits for one user.
func (l *Ledger) Status(userID string) models.BudgetStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	return models.BudgetStatus{
		UserID:     userID,
		DailySpent: l.dailySpent.USD(),
		DailyLimit: l.limits.DailyGlobalLimit.USD(),
		UserSpent:  l.userSpent[userID].USD(),
		UserLimit:  l.limits.PerUserLimit.USD(),
	}
}

// Resync rebuilds today's counters from the durable usage log. Called at
// startup so a restart does not silently reset spend to zero.
func (l *Ledger) Resync(ctx context.Context, source CostSource) error {
	dayStart := l.now().UTC().Truncate(24 * time.Hour)
	total, perUser, err := source.SumCostSince(ctx, dayStart)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.period = periodKey(l.now())
	l.dailySpent = total
	l.userSpent = make(map[string]models.MicroUSD, len(perUser))
	for userID, spent := range perUser {
		l.userSpent[userID] = spent
	}

	l.logger.Info("budget ledger resynced from usage log",
		zap.String("period", l.period),
		zap.String("daily_spent", l.dailySpent.String()),
		zap.Int("users", len(l.userSpent)))
	return nil
}
