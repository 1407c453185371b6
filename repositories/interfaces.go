// Package repositories defines the persistence interfaces the services
// depend on. Concrete implementations live in subpackages (postgres).
package repositories

import (
	"context"
	"time"

	"github.com/wanderplan/orchestrator/models"
)

// UsageRepository handles the append-only usage log.
type UsageRepository interface {
	// Insert appends one usage record.
	Insert(ctx context.Context, record *models.UsageRecord) error

	// QueryAggregate rolls up usage over [since, until). An empty userID
	// aggregates across all users.
	QueryAggregate(ctx context.Context, userID string, since, until time.Time) (*models.UsageAggregate, error)

	// SumCostSince returns the total cost of successful records since the
	// given time, both globally and broken down per user. Used to rebuild
	// the budget ledger after a restart.
	SumCostSince(ctx context.Context, since time.Time) (models.MicroUSD, map[string]models.MicroUSD, error)

	// DeleteOlderThan removes records created before the cutoff, returning
	// how many were deleted. Used by the retention cleanup worker.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
