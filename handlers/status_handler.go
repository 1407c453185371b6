package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/wanderplan/orchestrator/services/breaker"
	"github.com/wanderplan/orchestrator/services/cache"
	"github.com/wanderplan/orchestrator/services/usage"
	"github.com/wanderplan/orchestrator/utils"
)

// StatusResponse is the GET /v1/status body
type StatusResponse struct {
	Cache    cache.Stats              `json:"cache"`
	Breakers map[string]breaker.State `json:"breakers"`
	Tracker  TrackerStatus            `json:"tracker"`
}

// TrackerStatus exposes the usage tracker counters
type TrackerStatus struct {
	PendingRecords int    `json:"pending_records"`
	Dropped        uint64 `json:"dropped"`
	Started        bool   `json:"started"`
}

// StatusHandler reports operational state: cache effectiveness, breaker
// state per provider, and usage-tracker backlog.
type StatusHandler struct {
	cache   cache.Store
	breaker *breaker.Breaker
	tracker *usage.Tracker
	logger  *zap.Logger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(store cache.Store, brk *breaker.Breaker, tracker *usage.Tracker, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		cache:   store,
		breaker: brk,
		tracker: tracker,
		logger:  logger,
	}
}

// HandleGetStatus handles GET /v1/status
func (h *StatusHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	trackerStats := h.tracker.GetStats()

	_ = utils.WriteOK(w, StatusResponse{
		Cache:    h.cache.Stats(),
		Breakers: h.breaker.Snapshot(),
		Tracker: TrackerStatus{
			PendingRecords: trackerStats.PendingRecords,
			Dropped:        trackerStats.Dropped,
			Started:        trackerStats.Started,
		},
	})
}
