package orchestrator

import (
	"context"
	"strings"
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
	"github.com/wanderplan/orchestrator/services/router"
)

type staticAdapter struct {
	id   string
	text string
	err  error
}

func (a *staticAdapter) ID() string { return a.id }

func (a *staticAdapter) Generate(_ context.Context, _ *providers.GenerateInput) (*providers.GenerateOutput, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &providers.GenerateOutput{Text: a.text, InputTokens: 100, OutputTokens: 200}, nil
}

type nopRecorder struct {
	mu      sync.Mutex
	records []*models.UsageRecord
}

func (n *nopRecorder) Record(record *models.UsageRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, record)
}

type stubAnalytics struct {
	agg *models.UsageAggregate
	err error
}

func (s *stubAnalytics) QueryAggregate(_ context.Context, _ string, since, until time.Time) (*models.UsageAggregate, error) {
	if s.err != nil {
		return nil, s.err
	}
	agg := *s.agg
	agg.WindowStart = since
	agg.WindowEnd = until
	return &agg, nil
}

func newTestService(t *testing.T, adapters ...*staticAdapter) (*Service, *ledger.Ledger) {
	t.Helper()

	registry := providers.NewRegistry()
	providerCfgs := make([]config.ProviderConfig, 0, len(adapters))
	for i, a := range adapters {
		cfg := config.ProviderConfig{
			ID:         a.id,
			Priority:   i + 1,
			InputRate:  models.MicroUSDFromUSD(0.002),
			OutputRate: models.MicroUSDFromUSD(0.002),
			MaxTokens:  4096,
			Timeout:    time.Second,
		}
		providerCfgs = append(providerCfgs, cfg)
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

	budgetLedger := ledger.New(limits, zap.NewNop())
	requestRouter := router.New(
		cache.NewMemoryStore(100, time.Hour),
		budgetLedger,
		breaker.New(5, time.Minute, zap.NewNop()),
		registry,
		pricing.NewTable(providerCfgs),
		&nopRecorder{},
		"fallback suggestion",
		zap.NewNop(),
	)

	analytics := &stubAnalytics{agg: &models.UsageAggregate{TotalRequests: 3}}
	return NewService(requestRouter, budgetLedger, registry, analytics, zap.NewNop()), budgetLedger
}

func validRequest() *models.GenerationRequest {
	return &models.GenerationRequest{
		Prompt:      "plan a family weekend in Porto",
		UserID:      "user-1",
		MaxTokens:   500,
		Temperature: 0.7,
	}
}

func TestGenerateOk(t *testing.T) {
	svc, _ := newTestService(t, &staticAdapter{id: "openai", text: "itinerary"})

	result, err := svc.Generate(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, ResultOk, result.Kind)
	assert.Equal(t, "itinerary", result.Text)
	assert.Equal(t, "openai", result.ProviderID)
	assert.False(t, result.ServedFromCache)
}

func TestGenerateAssignsFingerprintAndArrival(t *testing.T) {
	svc, _ := newTestService(t, &staticAdapter{id: "openai", text: "ok"})

	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	req := validRequest()
	_, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, fixed, req.ArrivedAt)
	assert.Equal(t,
		models.ComputeFingerprint(req.Prompt, req.UserID, req.MaxTokens, req.Temperature),
		req.Fingerprint)
}

func TestGenerateCachedSecondCall(t *testing.T) {
	svc, _ := newTestService(t, &staticAdapter{id: "openai", text: "ok"})

	first, err := svc.Generate(context.Background(), validRequest())
	require.NoError(t, err)
	require.False(t, first.ServedFromCache)

	second, err := svc.Generate(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, second.ServedFromCache)
	assert.Equal(t, first.Text, second.Text)
}

func TestGenerateValidation(t *testing.T) {
	svc, _ := newTestService(t, &staticAdapter{id: "openai", text: "ok"})

	tests := []struct {
		name   string
		mutate func(*models.GenerationRequest)
	}{
		{"empty prompt", func(r *models.GenerationRequest) { r.Prompt = "   " }},
		{"prompt too long", func(r *models.GenerationRequest) { r.Prompt = strings.Repeat("x", maxPromptLength+1) }},
		{"missing user", func(r *models.GenerationRequest) { r.UserID = "" }},
		{"zero max tokens", func(r *models.GenerationRequest) { r.MaxTokens = 0 }},
		{"negative max tokens", func(r *models.GenerationRequest) { r.MaxTokens = -5 }},
		{"temperature too high", func(r *models.GenerationRequest) { r.Temperature = 2.5 }},
		{"temperature negative", func(r *models.GenerationRequest) { r.Temperature = -0.1 }},
		{"unknown preferred provider", func(r *models.GenerationRequest) { r.PreferredProvider = "mistral" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			result, err := svc.Generate(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, ResultInvalidRequest, result.Kind)
			assert.NotEmpty(t, result.InvalidReason)
		})
	}
}

func TestGenerateValidationHasNoSideEffects(t *testing.T) {
	svc, budgetLedger := newTestService(t, &staticAdapter{id: "openai", text: "ok"})

	req := validRequest()
	req.MaxTokens = -1
	_, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)

	status := budgetLedger.Status("user-1")
	assert.Zero(t, status.DailySpent)
}

func TestGenerateBudgetDenied(t *testing.T) {
	svc, budgetLedger := newTestService(t, &staticAdapter{id: "openai", text: "ok"})

	// Exhaust the user's budget.
	for budgetLedger.Reserve("user-1", models.MicroUSDFromUSD(2.0)).Allowed {
	}

	result, err := svc.Generate(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, ResultBudgetDenied, result.Kind)
	assert.Equal(t, ledger.ScopeUser, result.DeniedScope)
}

func TestGenerateDegraded(t *testing.T) {
	failing := &staticAdapter{
		id:  "openai",
		err: providers.NewProviderError("openai", providers.CodeTimeout, "boom", 0, nil),
	}
	svc, budgetLedger := newTestService(t, failing)

	result, err := svc.Generate(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, ResultDegraded, result.Kind)
	assert.Equal(t, "fallback suggestion", result.Suggestion)

	// Degraded outcome must leave the counters untouched.
	status := budgetLedger.Status("user-1")
	assert.Zero(t, status.DailySpent)
}

func TestGetBudgetStatus(t *testing.T) {
	svc, budgetLedger := newTestService(t, &staticAdapter{id: "openai", text: "ok"})
	budgetLedger.Reserve("user-1", models.MicroUSDFromUSD(1.5))

	status, err := svc.GetBudgetStatus(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", status.UserID)
	assert.InDelta(t, 1.5, status.UserSpent, 1e-9)
	assert.InDelta(t, 10.0, status.UserLimit, 1e-9)

	_, err = svc.GetBudgetStatus(context.Background(), "  ")
	assert.Error(t, err)
}

func TestGetUsageAnalytics(t *testing.T) {
	svc, _ := newTestService(t, &staticAdapter{id: "openai", text: "ok"})

	agg, err := svc.GetUsageAnalytics(context.Background(), "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, agg.TotalRequests)
	// A zero window defaults to the trailing 24 hours.
	assert.Equal(t, 24*time.Hour, agg.WindowEnd.Sub(agg.WindowStart))
}

func TestGetUsageAnalyticsRejectsInvertedWindow(t *testing.T) {
	svc, _ := newTestService(t, &staticAdapter{id: "openai", text: "ok"})

	now := time.Now()
	_, err := svc.GetUsageAnalytics(context.Background(), "", now, now.Add(-time.Hour))
	assert.Error(t, err)
}
