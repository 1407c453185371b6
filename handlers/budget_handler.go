package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wanderplan/orchestrator/utils"
)

// BudgetHandler handles budget status HTTP requests
type BudgetHandler struct {
	service GenerationService
	logger  *zap.Logger
}

// NewBudgetHandler creates a new BudgetHandler
func NewBudgetHandler(service GenerationService, logger *zap.Logger) *BudgetHandler {
	return &BudgetHandler{
		service: service,
		logger:  logger,
	}
}

// HandleGetBudgetStatus handles GET /v1/budget/{userID}
func (h *BudgetHandler) HandleGetBudgetStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	status, err := h.service.GetBudgetStatus(r.Context(), userID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, status)
}
