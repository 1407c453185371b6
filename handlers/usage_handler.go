package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wanderplan/orchestrator/utils"
)

// UsageHandler handles usage analytics HTTP requests
type UsageHandler struct {
	service GenerationService
	logger  *zap.Logger
}

// NewUsageHandler creates a new UsageHandler
func NewUsageHandler(service GenerationService, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{
		service: service,
		logger:  logger,
	}
}

// HandleGetUsage handles GET /v1/usage.
// Optional query params: user_id, since, until (RFC 3339). The window
// defaults to the trailing 24 hours.
func (h *UsageHandler) HandleGetUsage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var since, until time.Time
	if raw := query.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "since must be RFC 3339", nil)
			return
		}
		since = parsed
	}
	if raw := query.Get("until"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "until must be RFC 3339", nil)
			return
		}
		until = parsed
	}

	agg, err := h.service.GetUsageAnalytics(r.Context(), query.Get("user_id"), since, until)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, agg)
}
