package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wanderplan/orchestrator/config"
	"github.com/wanderplan/orchestrator/models"
	"github.com/wanderplan/orchestrator/services/breaker"
	"github.com/wanderplan/orchestrator/services/cache"
	"github.com/wanderplan/orchestrator/services/ledger"
	"github.com/wanderplan/orchestrator/services/pricing"
	"github.com/wanderplan/orchestrator/services/providers"
)

const testSuggestion = "Try browsing popular destinations while we recover."

// scriptedAdapter returns queued results in order, then repeats the last.
type scriptedAdapter struct {
	id      string
	mu      sync.Mutex
	results []scriptedResult
	calls   int
}

type scriptedResult struct {
	output *providers.GenerateOutput
	err    error
}

func (a *scriptedAdapter) ID() string { return a.id }

func (a *scriptedAdapter) Generate(_ context.Context, _ *providers.GenerateInput) (*providers.GenerateOutput, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.calls
	if idx >= len(a.results) {
		idx = len(a.results) - 1
	}
	a.calls++
	res := a.results[idx]
	return res.output, res.err
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func succeedWith(text string, in, out int) scriptedResult {
	return scriptedResult{output: &providers.GenerateOutput{Text: text, InputTokens: in, OutputTokens: out}}
}

func failWith(id string, code providers.ErrorCode) scriptedResult {
	return scriptedResult{err: providers.NewProviderError(id, code, "scripted failure", 0, nil)}
}

// capturingRecorder collects usage records synchronously.
type capturingRecorder struct {
	mu      sync.Mutex
	records []*models.UsageRecord
}

func (c *capturingRecorder) Record(record *models.UsageRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
}

func (c *capturingRecorder) byOutcome(outcome models.UsageOutcome) []*models.UsageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matches []*models.UsageRecord
	for _, r := range c.records {
		if r.Outcome == outcome {
			matches = append(matches, r)
		}
	}
	return matches
}

type fixture struct {
	router   *Router
	ledger   *ledger.Ledger
	breaker  *breaker.Breaker
	recorder *capturingRecorder
	cache    *cache.MemoryStore
}

// rates: $0.002 per 1K tokens both ways keeps the arithmetic legible.
func testProviders(ids ...string) []config.ProviderConfig {
	cfgs := make([]config.ProviderConfig, len(ids))
	for i, id := range ids {
		cfgs[i] = config.ProviderConfig{
			ID:         id,
			Priority:   i + 1,
			InputRate:  models.MicroUSDFromUSD(0.002),
			OutputRate: models.MicroUSDFromUSD(0.002),
			MaxTokens:  4096,
			Timeout:    time.Second,
		}
	}
	return cfgs
}

func newFixture(t *testing.T, providerCfgs []config.ProviderConfig, adapters ...*scriptedAdapter) *fixture {
	t.Helper()

	registry := providers.NewRegistry()
	for i, a := range adapters {
		cfg := providerCfgs[i]
		require.NoError(t, registry.Register(a, providers.Spec{
			ID:        cfg.ID,
			Priority:  cfg.Priority,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		}))
	}

	limits := config.BudgetConfig{
		DailyGlobalLimit: models.MicroUSDFromUSD(50.0),
		PerUserLimit:     models.MicroUSDFromUSD(10.0),
		PerRequestLimit:  models.MicroUSDFromUSD(2.0),
	}

	store := cache.NewMemoryStore(100, time.Hour)
	budgetLedger := ledger.New(limits, zap.NewNop())
	circuitBreaker := breaker.New(5, time.Minute, zap.NewNop())
	recorder := &capturingRecorder{}

	return &fixture{
		router: New(store, budgetLedger, circuitBreaker, registry,
			pricing.NewTable(providerCfgs), recorder, testSuggestion, zap.NewNop()),
		ledger:   budgetLedger,
		breaker:  circuitBreaker,
		recorder: recorder,
		cache:    store,
	}
}

func testRequest(prompt string) *models.GenerationRequest {
	return &models.GenerationRequest{
		Prompt:      prompt,
		UserID:      "user-1",
		MaxTokens:   1000,
		Temperature: 0.7,
		ArrivedAt:   time.Now(),
		Fingerprint: models.ComputeFingerprint(prompt, "user-1", 1000, 0.7),
	}
}

func TestRouteSingleHealthyProvider(t *testing.T) {
	cfgs := testProviders("openai")
	adapter := &scriptedAdapter{id: "openai", results: []scriptedResult{succeedWith("itinerary text", 500, 500)}}
	f := newFixture(t, cfgs, adapter)

	outcome := f.router.Route(context.Background(), testRequest("weekend in Lisbon"))

	assert.Equal(t, KindServed, outcome.Kind)
	assert.Equal(t, "itinerary text", outcome.Text)
	assert.Equal(t, "openai", outcome.ProviderID)
	assert.False(t, outcome.FromCache)

	// 1000 tokens total at $0.002/1K on both directions = $0.002.
	status := f.ledger.Status("user-1")
	assert.InDelta(t, 0.002, status.DailySpent, 1e-9)

	served := f.recorder.byOutcome(models.OutcomeServed)
	require.Len(t, served, 1)
	assert.Equal(t, models.MicroUSDFromUSD(0.002), served[0].Cost)
	assert.Equal(t, 500, served[0].InputTokens)
}

func TestRouteCacheHitBypassesEverything(t *testing.T) {
	cfgs := testProviders("openai")
	adapter := &scriptedAdapter{id: "openai", results: []scriptedResult{succeedWith("generated", 500, 500)}}
	f := newFixture(t, cfgs, adapter)

	req := testRequest("weekend in Lisbon")
	first := f.router.Route(context.Background(), req)
	require.Equal(t, KindServed, first.Kind)
	require.False(t, first.FromCache)

	second := f.router.Route(context.Background(), req)
	assert.Equal(t, KindServed, second.Kind)
	assert.True(t, second.FromCache)
	assert.Equal(t, "generated", second.Text)
	assert.Equal(t, 1, adapter.callCount(), "cache hit must not reach the provider")

	// Second call costs nothing.
	status := f.ledger.Status("user-1")
	assert.InDelta(t, 0.002, status.DailySpent, 1e-9)

	hits := f.recorder.byOutcome(models.OutcomeCacheHit)
	require.Len(t, hits, 1)
	assert.Zero(t, hits[0].Cost)
	assert.Empty(t, hits[0].ProviderID, "no provider served a cache hit")
}

func TestRouteBudgetDeniedNeverCallsProvider(t *testing.T) {
	cfgs := testProviders("openai")
	adapter := &scriptedAdapter{id: "openai", results: []scriptedResult{succeedWith("x", 1, 1)}}
	f := newFixture(t, cfgs, adapter)

	// Exhaust the user budget first: each call reserves then settles.
	req := testRequest("expensive prompt")
	req.MaxTokens = 4096

	// Drain the user's limit with direct reservations.
	for {
		d := f.ledger.Reserve("user-1", models.MicroUSDFromUSD(2.0))
		if !d.Allowed {
			break
		}
	}

	outcome := f.router.Route(context.Background(), req)
	assert.Equal(t, KindDenied, outcome.Kind)
	assert.Equal(t, ledger.ScopeUser, outcome.DeniedScope)
	assert.Equal(t, 0, adapter.callCount())

	denied := f.recorder.byOutcome(models.OutcomeDenied)
	require.Len(t, denied, 1)
	assert.Zero(t, denied[0].Cost, "a denied request never carries cost")
}

func TestRouteFallbackToSecondProvider(t *testing.T) {
	cfgs := testProviders("primary", "secondary")
	primary := &scriptedAdapter{id: "primary", results: []scriptedResult{failWith("primary", providers.CodeTimeout)}}
	secondary := &scriptedAdapter{id: "secondary", results: []scriptedResult{succeedWith("from secondary", 400, 600)}}
	f := newFixture(t, cfgs, primary, secondary)

	outcome := f.router.Route(context.Background(), testRequest("plan a trip"))

	assert.Equal(t, KindServed, outcome.Kind)
	assert.Equal(t, "secondary", outcome.ProviderID)
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 1, secondary.callCount())

	// One failed attempt plus one success recorded.
	assert.Len(t, f.recorder.byOutcome(models.OutcomeAttemptFailed), 1)
	assert.Len(t, f.recorder.byOutcome(models.OutcomeServed), 1)
	assert.Equal(t, breaker.StateClosed, f.breaker.State("primary"))
}

func TestRouteSkipsOpenBreaker(t *testing.T) {
	cfgs := testProviders("primary", "secondary")
	primary := &scriptedAdapter{id: "primary", results: []scriptedResult{failWith("primary", providers.CodeUnknown)}}
	secondary := &scriptedAdapter{id: "secondary", results: []scriptedResult{succeedWith("ok", 100, 100)}}
	f := newFixture(t, cfgs, primary, secondary)

	// Open the primary's breaker (threshold 5).
	for i := 0; i < 5; i++ {
		f.breaker.RecordFailure("primary")
	}
	require.Equal(t, breaker.StateOpen, f.breaker.State("primary"))

	outcome := f.router.Route(context.Background(), testRequest("plan a trip"))

	assert.Equal(t, KindServed, outcome.Kind)
	assert.Equal(t, "secondary", outcome.ProviderID)
	assert.Equal(t, 0, primary.callCount(), "open breaker must skip without calling")

	// A skip is not a failure attempt.
	assert.Empty(t, f.recorder.byOutcome(models.OutcomeAttemptFailed))
}

func TestRouteDegradedRefundsReservation(t *testing.T) {
	cfgs := testProviders("primary", "secondary")
	primary := &scriptedAdapter{id: "primary", results: []scriptedResult{failWith("primary", providers.CodeTimeout)}}
	secondary := &scriptedAdapter{id: "secondary", results: []scriptedResult{failWith("secondary", providers.CodeRateLimited)}}
	f := newFixture(t, cfgs, primary, secondary)

	outcome := f.router.Route(context.Background(), testRequest("plan a trip"))

	assert.Equal(t, KindDegraded, outcome.Kind)
	assert.Equal(t, testSuggestion, outcome.Suggestion)

	// The reservation must be fully released.
	status := f.ledger.Status("user-1")
	assert.Zero(t, status.DailySpent)
	assert.Zero(t, status.UserSpent)

	assert.Len(t, f.recorder.byOutcome(models.OutcomeAttemptFailed), 2)
	assert.Len(t, f.recorder.byOutcome(models.OutcomeDegraded), 1)
}

func TestRoutePreferredProviderTriedFirst(t *testing.T) {
	cfgs := testProviders("primary", "secondary")
	primary := &scriptedAdapter{id: "primary", results: []scriptedResult{succeedWith("from primary", 10, 10)}}
	secondary := &scriptedAdapter{id: "secondary", results: []scriptedResult{succeedWith("from secondary", 10, 10)}}
	f := newFixture(t, cfgs, primary, secondary)

	req := testRequest("plan a trip")
	req.PreferredProvider = "secondary"

	outcome := f.router.Route(context.Background(), req)
	assert.Equal(t, "secondary", outcome.ProviderID)
	assert.Equal(t, 0, primary.callCount())
}

func TestRouteNoProvidersDegrades(t *testing.T) {
	f := newFixture(t, nil)

	outcome := f.router.Route(context.Background(), testRequest("plan a trip"))
	assert.Equal(t, KindDegraded, outcome.Kind)
	assert.Equal(t, testSuggestion, outcome.Suggestion)
}

func TestRouteSuccessWritesCache(t *testing.T) {
	cfgs := testProviders("openai")
	adapter := &scriptedAdapter{id: "openai", results: []scriptedResult{succeedWith("cached text", 10, 10)}}
	f := newFixture(t, cfgs, adapter)

	req := testRequest("plan a trip")
	f.router.Route(context.Background(), req)

	entry, err := f.cache.Get(context.Background(), req.Fingerprint)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "cached text", entry.Text)
	assert.Equal(t, "openai", entry.ProviderID)
}

func TestRouteConcurrentRequestsNeverOvershootUserBudget(t *testing.T) {
	cfgs := testProviders("openai")
	// Every call costs $2 after reconcile (1000 tokens in, out at $1/1K each
	// direction would overshoot the per-request cap; use worst-case = actual).
	adapter := &scriptedAdapter{id: "openai", results: []scriptedResult{succeedWith("x", 500, 500)}}
	f := newFixture(t, cfgs, adapter)

	const goroutines = 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			req := testRequest("unique prompt")
			// Distinct fingerprints so the cache cannot absorb the load.
			req.Fingerprint = models.ComputeFingerprint("unique prompt", "user-1", 1000+n, 0.7)
			f.router.Route(context.Background(), req)
		}(i)
	}
	wg.Wait()

	status := f.ledger.Status("user-1")
	assert.LessOrEqual(t, status.UserSpent, 10.0+1e-9,
		"per-user spend must never exceed the limit")
}
