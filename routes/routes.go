package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wanderplan/orchestrator/app"
	"github.com/wanderplan/orchestrator/handlers"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	generationHandler := handlers.NewGenerationHandler(deps.Orchestrator, deps.Logger)
	budgetHandler := handlers.NewBudgetHandler(deps.Orchestrator, deps.Logger)
	usageHandler := handlers.NewUsageHandler(deps.Orchestrator, deps.Logger)
	statusHandler := handlers.NewStatusHandler(deps.Cache, deps.Breaker, deps.Tracker, deps.Logger)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealthz)
	r.Get("/readyz", healthHandler.HandleReadyz)

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", generationHandler.HandleGenerate)
		r.Get("/budget/{userID}", budgetHandler.HandleGetBudgetStatus)
		r.Get("/usage", usageHandler.HandleGetUsage)
		r.Get("/status", statusHandler.HandleGetStatus)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
