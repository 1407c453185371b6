package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/wanderplan/orchestrator/models"
	"github.com/wanderplan/orchestrator/services/orchestrator"
	"github.com/wanderplan/orchestrator/utils"
)

// GenerationService defines the facade operations the HTTP layer needs
type GenerationService interface {
	Generate(ctx context.Context, req *models.GenerationRequest) (*orchestrator.Result, error)
	GetBudgetStatus(ctx context.Context, userID string) (*models.BudgetStatus, error)
	GetUsageAnalytics(ctx context.Context, userID string, since, until time.Time) (*models.UsageAggregate, error)
}

// GenerateRequest is the POST /v1/generate request body
type GenerateRequest struct {
	Prompt            string  `json:"prompt" validate:"required"`
	UserID            string  `json:"user_id" validate:"required"`
	FamilyID          string  `json:"family_id,omitempty"`
	MaxTokens         int     `json:"max_tokens" validate:"gt=0"`
	Temperature       float64 `json:"temperature" validate:"gte=0,lte=2"`
	PreferredProvider string  `json:"preferred_provider,omitempty"`
}

// GenerateResponse is the POST /v1/generate success body
type GenerateResponse struct {
	Text            string `json:"text"`
	ProviderID      string `json:"provider_id,omitempty"`
	ServedFromCache bool   `json:"served_from_cache"`
	Degraded        bool   `json:"degraded"`
}

// GenerationHandler handles generation HTTP requests
type GenerationHandler struct {
	service GenerationService
	logger  *zap.Logger
}

// NewGenerationHandler creates a new GenerationHandler
func NewGenerationHandler(service GenerationService, logger *zap.Logger) *GenerationHandler {
	return &GenerationHandler{
		service: service,
		logger:  logger,
	}
}

// HandleGenerate handles POST /v1/generate
func (h *GenerationHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetReqID(ctx)

	var genReq GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&genReq); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&genReq); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.service.Generate(ctx, &models.GenerationRequest{
		Prompt:            genReq.Prompt,
		UserID:            genReq.UserID,
		FamilyID:          genReq.FamilyID,
		MaxTokens:         genReq.MaxTokens,
		Temperature:       genReq.Temperature,
		PreferredProvider: genReq.PreferredProvider,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	switch result.Kind {
	case orchestrator.ResultOk:
		h.logger.Info("generation served",
			zap.String("request_id", requestID),
			zap.String("user_id", genReq.UserID),
			zap.String("provider", result.ProviderID),
			zap.Bool("from_cache", result.ServedFromCache))
		_ = utils.WriteOK(w, GenerateResponse{
			Text:            result.Text,
			ProviderID:      result.ProviderID,
			ServedFromCache: result.ServedFromCache,
		})

	case orchestrator.ResultDegraded:
		// A degraded answer is still an answer: 200 with the fallback
		// suggestion, flagged so clients can render it differently.
		_ = utils.WriteOK(w, GenerateResponse{
			Text:     result.Suggestion,
			Degraded: true,
		})

	case orchestrator.ResultBudgetDenied:
		_ = utils.WriteTooManyRequests(w, "Budget limit exceeded", map[string]interface{}{
			"scope": string(result.DeniedScope),
		})

	case orchestrator.ResultInvalidRequest:
		_ = utils.WriteBadRequest(w, result.InvalidReason, nil)

	default:
		h.logger.Error("unexpected result kind",
			zap.String("request_id", requestID),
			zap.String("kind", string(result.Kind)))
		_ = utils.WriteInternalServerError(w, "")
	}
}
