// Package orchestrator is the facade callers invoke. It validates request
// shape, assigns arrival time and fingerprint, delegates to the router, and
// maps routing outcomes onto the caller-facing result contract. No business
// state lives here.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wanderplan/orchestrator/models"
	"github.com/wanderplan/orchestrator/services"
	"github.com/wanderplan/orchestrator/services/ledger"
	"github.com/wanderplan/orchestrator/services/providers"
	"github.com/wanderplan/orchestrator/services/router"
)

const (
	// maxPromptLength bounds the prompt in characters.
	maxPromptLength = 32000

	// maxTemperature is the upper bound accepted by the configured providers.
	maxTemperature = 2.0
)

// ResultKind discriminates the caller-facing result variants.
type ResultKind string

const (
	// ResultOk carries generated (or cached) text.
	ResultOk ResultKind = "ok"

	// ResultBudgetDenied means budget admission rejected the request.
	ResultBudgetDenied ResultKind = "budget_denied"

	// ResultDegraded carries the static fallback suggestion.
	ResultDegraded ResultKind = "degraded"

	// ResultInvalidRequest means validation rejected the request before
	// any side effect.
	ResultInvalidRequest ResultKind = "invalid_request"
)

// Result is the single value every Generate call resolves to.
type Result struct {
	Kind            ResultKind
	Text            string
	ProviderID      string
	ServedFromCache bool
	DeniedScope     ledger.DenialScope
	Suggestion      string
	InvalidReason   string
}

// Analytics supplies usage rollups. The usage tracker satisfies this.
type Analytics interface {
	QueryAggregate(ctx context.Context, userID string, since, until time.Time) (*models.UsageAggregate, error)
}

// Service is the orchestration facade.
type Service struct {
	router    *router.Router
	ledger    *ledger.Ledger
	registry  *providers.Registry
	analytics Analytics
	logger    *zap.Logger

	now func() time.Time // overridable for tests
}

// NewService creates the facade.
func NewService(
	requestRouter *router.Router,
	budgetLedger *ledger.Ledger,
	registry *providers.Registry,
	analytics Analytics,
	logger *zap.Logger,
) *Service {
	return &Service{
		router:    requestRouter,
		ledger:    budgetLedger,
		registry:  registry,
		analytics: analytics,
		logger:    logger,
		now:       time.Now,
	}
}

// Generate runs one request through validation and the routing pipeline.
// Validation failures surface as ResultInvalidRequest without touching any
// budget, cache, or provider state.
func (s *Service) Generate(ctx context.Context, req *models.GenerationRequest) (*Result, error) {
	if err := s.validate(req); err != nil {
		s.logger.Debug("rejected invalid generation request",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		return &Result{Kind: ResultInvalidRequest, InvalidReason: err.Error()}, nil
	}

	req.ArrivedAt = s.now()
	req.Fingerprint = models.ComputeFingerprint(req.Prompt, req.UserID, req.MaxTokens, req.Temperature)

	outcome := s.router.Route(ctx, req)

	switch outcome.Kind {
	case router.KindServed:
		s.logger.Info("request served",
			zap.String("user_id", req.UserID),
			zap.String("provider", outcome.ProviderID),
			zap.Bool("from_cache", outcome.FromCache))
		return &Result{
			Kind:            ResultOk,
			Text:            outcome.Text,
			ProviderID:      outcome.ProviderID,
			ServedFromCache: outcome.FromCache,
		}, nil

	case router.KindDenied:
		return &Result{
			Kind:        ResultBudgetDenied,
			DeniedScope: outcome.DeniedScope,
		}, nil

	case router.KindDegraded:
		return &Result{
			Kind:       ResultDegraded,
			Suggestion: outcome.Suggestion,
		}, nil

	default:
		return nil, services.WrapInternal("unexpected routing outcome", nil)
	}
}

// validate checks request shape. Errors are validation DomainErrors.
func (s *Service) validate(req *models.GenerationRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return services.ErrEmptyPrompt
	}
	if len(req.Prompt) > maxPromptLength {
		return services.ErrPromptTooLong.WithDetail("max_length", maxPromptLength)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return services.ErrInvalidInput.WithDetail("field", "user_id")
	}
	if req.MaxTokens <= 0 {
		return services.ErrInvalidMaxTokens
	}
	if req.Temperature < 0 || req.Temperature > maxTemperature {
		return services.ErrInvalidInput.WithDetail("field", "temperature")
	}
	if req.PreferredProvider != "" && !s.registry.Has(req.PreferredProvider) {
		return services.ErrInvalidProvider.WithDetail("provider", req.PreferredProvider)
	}
	return nil
}

// GetBudgetStatus reports current spend against limits for one user.
func (s *Service) GetBudgetStatus(_ context.Context, userID string) (*models.BudgetStatus, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, services.ErrInvalidInput.WithDetail("field", "user_id")
	}
	status := s.ledger.Status(userID)
	return &status, nil
}

// GetUsageAnalytics rolls up usage records over a window, optionally scoped
// to one user.
func (s *Service) GetUsageAnalytics(ctx context.Context, userID string, since, until time.Time) (*models.UsageAggregate, error) {
	if until.IsZero() {
		until = s.now()
	}
	if since.IsZero() {
		since = until.Add(-24 * time.Hour)
	}
	if !since.Before(until) {
		return nil, services.ErrInvalidInput.WithDetail("field", "window")
	}

	agg, err := s.analytics.QueryAggregate(ctx, userID, since, until)
	if err != nil {
		return nil, services.WrapInternal("failed to query usage analytics", err)
	}
	return agg, nil
}
