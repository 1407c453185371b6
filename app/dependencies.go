// Package app wires the orchestrator's dependency graph. All construction
// happens here so main stays a thin bootstrap and tests can assemble partial
// graphs themselves.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wanderplan/orchestrator/config"
	"github.com/wanderplan/orchestrator/repositories"
	"github.com/wanderplan/orchestrator/repositories/postgres"
	"github.com/wanderplan/orchestrator/services/breaker"
	"github.com/wanderplan/orchestrator/services/cache"
	"github.com/wanderplan/orchestrator/services/ledger"
	"github.com/wanderplan/orchestrator/services/orchestrator"
	"github.com/wanderplan/orchestrator/services/pricing"
	"github.com/wanderplan/orchestrator/services/providers"
	"github.com/wanderplan/orchestrator/services/providers/anthropic"
	"github.com/wanderplan/orchestrator/services/providers/openai"
	"github.com/wanderplan/orchestrator/services/router"
	"github.com/wanderplan/orchestrator/services/usage"
)

// trackerStopTimeout bounds how long shutdown waits for buffered usage
// records to drain.
const trackerStopTimeout = 10 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	DB     *postgres.DB

	// Usage tracking
	UsageRepo repositories.UsageRepository
	Tracker   *usage.Tracker

	// Core services
	Cache        cache.Store
	Ledger       *ledger.Ledger
	Breaker      *breaker.Breaker
	Pricing      *pricing.Table
	Registry     *providers.Registry
	Router       *router.Router
	Orchestrator *orchestrator.Service
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initUsageTracking()

	if err := deps.initCache(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	if err := deps.initProviders(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	deps.initCore(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the usage log database and ensures the schema exists
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}

	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return err
	}

	d.DB = db
	return nil
}

// initUsageTracking wires the repository and the async tracker
func (d *Dependencies) initUsageTracking() {
	d.UsageRepo = postgres.NewUsageRepository(d.DB, d.Logger)
	d.Tracker = usage.NewTracker(d.UsageRepo, d.Logger, usage.DefaultConfig())
	d.Logger.Info("usage tracking initialized")
}

// initCache selects the response cache backend
func (d *Dependencies) initCache(ctx context.Context, cfg *config.Config) error {
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		store, err := cache.NewRedisStore(ctx, cfg.Cache.RedisAddr, cfg.Cache.TTL)
		if err != nil {
			return err
		}
		d.Cache = store
		d.Logger.Info("redis response cache initialized",
			zap.String("addr", cfg.Cache.RedisAddr))

	case config.CacheBackendMemory:
		d.Cache = cache.NewMemoryStore(cfg.Cache.MaxEntries, cfg.Cache.TTL)
		d.Logger.Info("in-memory response cache initialized",
			zap.Int("max_entries", cfg.Cache.MaxEntries))

	default:
		return fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}

	return nil
}

// initProviders registers an adapter per configured provider
func (d *Dependencies) initProviders(cfg *config.Config) error {
	registry := providers.NewRegistry()

	for _, pc := range cfg.Providers {
		var adapter providers.Adapter

		switch pc.ID {
		case "openai":
			adapter = openai.NewAdapter(pc)
		case "anthropic":
			adapter = anthropic.NewAdapter(pc)
		default:
			return fmt.Errorf("no adapter available for provider %q", pc.ID)
		}

		spec := providers.Spec{
			ID:        pc.ID,
			Priority:  pc.Priority,
			Model:     pc.Model,
			MaxTokens: pc.MaxTokens,
			Timeout:   pc.Timeout,
		}
		if err := registry.Register(adapter, spec); err != nil {
			return fmt.Errorf("failed to register provider %s: %w", pc.ID, err)
		}
		d.Logger.Info("registered provider",
			zap.String("provider", pc.ID),
			zap.String("model", pc.Model),
			zap.Int("priority", pc.Priority))
	}

	if registry.Count() == 0 {
		d.Logger.Warn("no LLM providers configured, all requests will degrade")
	}

	d.Registry = registry
	return nil
}

// initCore builds the budget ledger, breaker, router, and facade
func (d *Dependencies) initCore(cfg *config.Config) {
	d.Ledger = ledger.New(cfg.Budget, d.Logger)
	d.Breaker = breaker.New(cfg.Breaker.FailureThreshold, cfg.Breaker.OpenDuration, d.Logger)
	d.Pricing = pricing.NewTable(cfg.Providers)

	d.Router = router.New(
		d.Cache,
		d.Ledger,
		d.Breaker,
		d.Registry,
		d.Pricing,
		d.Tracker,
		cfg.Fallback.Suggestion,
		d.Logger,
	)

	d.Orchestrator = orchestrator.NewService(
		d.Router,
		d.Ledger,
		d.Registry,
		d.Tracker,
		d.Logger,
	)
}

// Start brings up the background machinery: the usage tracker workers and
// the ledger resync from the persisted usage log.
func (d *Dependencies) Start(ctx context.Context) error {
	if err := d.Tracker.Start(); err != nil {
		return fmt.Errorf("failed to start usage tracker: %w", err)
	}

	// Rebuild today's spend counters so a restart cannot reset budgets.
	if err := d.Ledger.Resync(ctx, d.Tracker); err != nil {
		d.Logger.Warn("budget resync from usage log failed, starting from zero",
			zap.Error(err))
	}

	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Tracker != nil {
		if err := d.Tracker.Stop(trackerStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop usage tracker: %w", err))
		}
	}

	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close cache: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
