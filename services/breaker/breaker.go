// Package breaker implements a per-provider circuit breaker. A provider that
// fails repeatedly is taken out of rotation for a cooldown period and probed
// with a single trial call before being readmitted.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the availability state of one provider.
type State string

const (
	// StateClosed means the provider is serving normally.
	StateClosed State = "closed"

	// StateOpen means the provider is refusing calls, failing fast.
	StateOpen State = "open"

	// StateHalfOpen means a single trial call is probing recovery.
	StateHalfOpen State = "half_open"
)

// providerState is the mutable breaker state for one provider.
// All fields are guarded by mu.
type providerState struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailure         time.Time
	trialInFlight       bool
}

// Breaker tracks failure state for every configured provider.
type Breaker struct {
	mu        sync.RWMutex
	providers map[string]*providerState

	threshold    int
	openDuration time.Duration
	logger       *zap.Logger

	now func() time.Time // overridable for tests
}

// New creates a Breaker. Every provider starts Closed.
func New(failureThreshold int, openDuration time.Duration, logger *zap.Logger) *Breaker {
	return &Breaker{
		providers:    make(map[string]*providerState),
		threshold:    failureThreshold,
		openDuration: openDuration,
		logger:       logger,
		now:          time.Now,
	}
}

// stateFor returns (creating if needed) the state record for a provider.
func (b *Breaker) stateFor(providerID string) *providerState {
	b.mu.RLock()
	ps, ok := b.providers[providerID]
	b.mu.RUnlock()
	if ok {
		return ps
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ps, ok = b.providers[providerID]; ok {
		return ps
	}
	ps = &providerState{state: StateClosed}
	b.providers[providerID] = ps
	return ps
}

// Allow reports whether a call to the provider may proceed.
//
// The Open to HalfOpen transition is evaluated lazily here, with no
// background timer: the first caller to observe the elapsed open window is
// granted the HalfOpen trial; every other concurrent caller is refused until
// that trial resolves, so a still-unhealthy provider is never re-probed by a
// thundering herd.
func (b *Breaker) Allow(providerID string) bool {
	ps := b.stateFor(providerID)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	switch ps.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(ps.lastFailure) < b.openDuration {
			return false
		}
		// Open window elapsed: this caller wins the single trial slot.
		ps.state = StateHalfOpen
		ps.trialInFlight = true
		b.logger.Info("circuit breaker half-open, granting trial",
			zap.String("provider", providerID))
		return true

	case StateHalfOpen:
		if ps.trialInFlight {
			return false
		}
		ps.trialInFlight = true
		return true

	default:
		return false
	}
}

// RecordSuccess resets the failure count; a HalfOpen trial success closes
// the breaker.
func (b *Breaker) RecordSuccess(providerID string) {
	ps := b.stateFor(providerID)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.consecutiveFailures = 0
	if ps.state == StateHalfOpen {
		ps.state = StateClosed
		ps.trialInFlight = false
		b.logger.Info("circuit breaker closed after successful trial",
			zap.String("provider", providerID))
	}
}

// RecordFailure increments the failure count, opening the breaker once the
// threshold is reached. A HalfOpen trial failure reopens immediately and
// restarts the open window.
func (b *Breaker) RecordFailure(providerID string) {
	ps := b.stateFor(providerID)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := b.now()

	if ps.state == StateHalfOpen {
		ps.state = StateOpen
		ps.consecutiveFailures = b.threshold
		ps.lastFailure = now
		ps.trialInFlight = false
		b.logger.Warn("circuit breaker reopened after failed trial",
			zap.String("provider", providerID))
		return
	}

	ps.consecutiveFailures++
	ps.lastFailure = now

	if ps.state == StateClosed && ps.consecutiveFailures >= b.threshold {
		ps.state = StateOpen
		b.logger.Warn("circuit breaker opened",
			zap.String("provider", providerID),
			zap.Int("consecutive_failures", ps.consecutiveFailures))
	}
}

// State returns the current breaker state for a provider.
func (b *Breaker) State(providerID string) State {
	ps := b.stateFor(providerID)

	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.state
}

// Snapshot returns the state of every tracked provider, for status
// reporting.
func (b *Breaker) Snapshot() map[string]State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snapshot := make(map[string]State, len(b.providers))
	for id, ps := range b.providers {
		ps.mu.Lock()
		snapshot[id] = ps.state
		ps.mu.Unlock()
	}
	return snapshot
}
