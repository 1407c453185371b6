// Package router turns one generation request into exactly one terminal
// outcome. It owns the fallback pipeline: cache lookup, a single up-front
// budget reservation, the breaker-filtered candidate loop, and the
// reconcile-or-release bookkeeping afterwards.
package router

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wanderplan/orchestrator/models"
	"github.com/wanderplan/orchestrator/services/breaker"
	"github.com/wanderplan/orchestrator/services/cache"
	"github.com/wanderplan/orchestrator/services/ledger"
	"github.com/wanderplan/orchestrator/services/pricing"
	"github.com/wanderplan/orchestrator/services/providers"
)

// Kind discriminates the terminal outcomes of a routed request.
type Kind string

const (
	// KindServed means a response was produced, from cache or a provider.
	KindServed Kind = "served"

	// KindDegraded means every candidate was exhausted and the static
	// fallback suggestion is returned instead of generated text.
	KindDegraded Kind = "degraded"

	// KindDenied means budget admission rejected the request before any
	// provider was contacted.
	KindDenied Kind = "denied"
)

// Outcome is the single terminal result of routing one request.
type Outcome struct {
	Kind        Kind
	Text        string
	ProviderID  string
	FromCache   bool
	Suggestion  string
	DeniedScope ledger.DenialScope
}

// Recorder receives usage records. The usage tracker satisfies this.
type Recorder interface {
	Record(record *models.UsageRecord)
}

// Router drives the fallback pipeline.
type Router struct {
	cache      cache.Store
	ledger     *ledger.Ledger
	breaker    *breaker.Breaker
	registry   *providers.Registry
	pricing    *pricing.Table
	recorder   Recorder
	suggestion string
	logger     *zap.Logger
}

// New creates a Router.
func New(
	cacheStore cache.Store,
	budgetLedger *ledger.Ledger,
	circuitBreaker *breaker.Breaker,
	registry *providers.Registry,
	pricingTable *pricing.Table,
	recorder Recorder,
	fallbackSuggestion string,
	logger *zap.Logger,
) *Router {
	return &Router{
		cache:      cacheStore,
		ledger:     budgetLedger,
		breaker:    circuitBreaker,
		registry:   registry,
		pricing:    pricingTable,
		recorder:   recorder,
		suggestion: fallbackSuggestion,
		logger:     logger,
	}
}

// Route executes the pipeline for one request. The request's fingerprint
// must already be assigned. Steps run strictly in order: cache, reserve,
// candidate loop, reconcile or release. Reservation always happens before
// any provider call, and reconciliation always happens before the outcome is
// returned.
func (r *Router) Route(ctx context.Context, req *models.GenerationRequest) *Outcome {
	start := time.Now()

	// Step 1: cache. A hit costs nothing and touches neither budget nor
	// providers. Cache failures are non-critical and degrade to a miss.
	entry, err := r.cache.Get(ctx, req.Fingerprint)
	if err != nil {
		r.logger.Warn("cache lookup failed, treating as miss",
			zap.String("fingerprint", req.Fingerprint),
			zap.Error(err))
	}
	if entry != nil {
		// The usage record carries no provider id: no provider served this
		// request, the memoized text did.
		r.record(req, models.OutcomeCacheHit, "", true, 0, 0, 0, start)
		return &Outcome{
			Kind:       KindServed,
			Text:       entry.Text,
			ProviderID: entry.ProviderID,
			FromCache:  true,
		}
	}

	// Step 2: candidate order. Preference first, then priority ascending
	// with id ascending on ties.
	candidates := r.registry.Candidates(req.PreferredProvider)
	if len(candidates) == 0 {
		r.logger.Error("no providers configured, degrading")
		r.record(req, models.OutcomeDegraded, "", false, 0, 0, 0, start)
		return r.degraded()
	}

	// Step 3: one up-front reservation against the most expensive plausible
	// candidate. A denied request never reaches a provider, and fallback
	// never re-checks budget mid-loop.
	promptTokens := pricing.EstimatePromptTokens(req.Prompt)
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	estimate := r.pricing.WorstCase(promptTokens, req.MaxTokens, ids)

	decision := r.ledger.Reserve(req.UserID, estimate)
	if !decision.Allowed {
		r.logger.Info("budget denied",
			zap.String("user_id", req.UserID),
			zap.String("scope", string(decision.Scope)),
			zap.String("estimate", estimate.String()))
		r.record(req, models.OutcomeDenied, "", false, 0, 0, 0, start)
		return &Outcome{Kind: KindDenied, DeniedScope: decision.Scope}
	}

	// Step 4: the fallback loop. Open breakers are skipped without counting
	// as failures; real attempts that fail advance to the next candidate.
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		if !r.breaker.Allow(candidate.ID) {
			r.logger.Debug("skipping provider, breaker open",
				zap.String("provider", candidate.ID))
			continue
		}

		output, attemptErr := r.attempt(ctx, candidate, req)
		if attemptErr != nil {
			r.breaker.RecordFailure(candidate.ID)
			r.logger.Warn("provider attempt failed",
				zap.String("provider", candidate.ID),
				zap.Error(attemptErr))
			r.record(req, models.OutcomeAttemptFailed, candidate.ID, false, 0, 0, 0, start)
			continue
		}

		// Success: settle the ledger at the real token-derived cost before
		// answering, then memoize.
		r.breaker.RecordSuccess(candidate.ID)

		var actual models.MicroUSD
		if rate, ok := r.pricing.Rate(candidate.ID); ok {
			actual = pricing.ActualCost(output.InputTokens, output.OutputTokens, rate)
		}
		r.ledger.Reconcile(req.UserID, decision.Reserved, actual)

		if err := r.cache.Set(ctx, &cache.Entry{
			Fingerprint: req.Fingerprint,
			Text:        output.Text,
			ProviderID:  candidate.ID,
			CreatedAt:   time.Now(),
		}); err != nil {
			r.logger.Warn("cache write failed",
				zap.String("fingerprint", req.Fingerprint),
				zap.Error(err))
		}

		r.record(req, models.OutcomeServed, candidate.ID, true,
			output.InputTokens, output.OutputTokens, actual, start)
		return &Outcome{
			Kind:       KindServed,
			Text:       output.Text,
			ProviderID: candidate.ID,
		}
	}

	// Step 5: exhausted. Refund the reservation in full so a failed request
	// consumes no budget, then degrade gracefully.
	r.ledger.ReleaseOnFailure(req.UserID, decision.Reserved)
	r.logger.Warn("all providers exhausted, degrading",
		zap.String("user_id", req.UserID),
		zap.Int("candidates", len(candidates)))
	r.record(req, models.OutcomeDegraded, "", false, 0, 0, 0, start)
	return r.degraded()
}

// attempt invokes one provider under its configured per-call timeout. The
// output cap is the smaller of the request's and the provider's max tokens.
func (r *Router) attempt(ctx context.Context, candidate providers.Spec, req *models.GenerationRequest) (*providers.GenerateOutput, error) {
	adapter, err := r.registry.Adapter(candidate.ID)
	if err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if candidate.MaxTokens > 0 && maxTokens > candidate.MaxTokens {
		maxTokens = candidate.MaxTokens
	}

	callCtx := ctx
	if candidate.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, candidate.Timeout)
		defer cancel()
	}

	return adapter.Generate(callCtx, &providers.GenerateInput{
		Prompt:      req.Prompt,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		User:        req.UserID,
	})
}

func (r *Router) degraded() *Outcome {
	return &Outcome{Kind: KindDegraded, Suggestion: r.suggestion}
}

func (r *Router) record(req *models.GenerationRequest, outcome models.UsageOutcome, providerID string, success bool, inputTokens, outputTokens int, cost models.MicroUSD, start time.Time) {
	r.recorder.Record(&models.UsageRecord{
		ID:           uuid.New(),
		Fingerprint:  req.Fingerprint,
		UserID:       req.UserID,
		FamilyID:     req.FamilyID,
		ProviderID:   providerID,
		Outcome:      outcome,
		Success:      success,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		LatencyMs:    int(time.Since(start).Milliseconds()),
		CreatedAt:    time.Now(),
	})
}
