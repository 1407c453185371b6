package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wanderplan/orchestrator/models"
	"github.com/wanderplan/orchestrator/repositories"
	"go.uber.org/zap"
)

// UsageRepository implements the repositories.UsageRepository interface
type UsageRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB, logger *zap.Logger) repositories.UsageRepository {
	return &UsageRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends one usage record
func (r *UsageRepository) Insert(ctx context.Context, record *models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (
			id, fingerprint, user_id, family_id, provider_id, outcome,
			success, input_tokens, output_tokens, cost_micro_usd, latency_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.Fingerprint,
		record.UserID,
		nullableString(record.FamilyID),
		nullableString(record.ProviderID),
		record.Outcome,
		record.Success,
		record.InputTokens,
		record.OutputTokens,
		int64(record.Cost),
		record.LatencyMs,
		record.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	r.logger.Debug("usage record inserted",
		zap.String("id", record.ID.String()),
		zap.String("outcome", string(record.Outcome)))
	return nil
}

// QueryAggregate rolls up usage over [since, until). An empty userID
// aggregates across all users.
func (r *UsageRepository) QueryAggregate(ctx context.Context, userID string, since, until time.Time) (*models.UsageAggregate, error) {
	agg := &models.UsageAggregate{
		WindowStart: since,
		WindowEnd:   until,
	}

	totalsQuery := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE outcome = 'served'),
			COUNT(*) FILTER (WHERE outcome = 'cache_hit'),
			COUNT(*) FILTER (WHERE outcome = 'degraded'),
			COUNT(*) FILTER (WHERE outcome = 'denied'),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cost_micro_usd), 0)
		FROM usage_records
		WHERE created_at >= $1 AND created_at < $2
			AND ($3 = '' OR user_id = $3)
			AND outcome != 'attempt_failed'
	`

	var totalCost int64
	err := r.db.QueryRowContext(ctx, totalsQuery, since, until, userID).Scan(
		&agg.TotalRequests,
		&agg.Served,
		&agg.CacheHits,
		&agg.Degraded,
		&agg.Denied,
		&agg.InputTokens,
		&agg.OutputTokens,
		&totalCost,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage totals: %w", err)
	}
	agg.TotalCost = models.MicroUSD(totalCost).USD()

	providerQuery := `
		SELECT
			provider_id,
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE NOT success),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cost_micro_usd), 0)
		FROM usage_records
		WHERE created_at >= $1 AND created_at < $2
			AND ($3 = '' OR user_id = $3)
			AND provider_id IS NOT NULL
		GROUP BY provider_id
		ORDER BY provider_id
	`

	rows, err := r.db.QueryContext(ctx, providerQuery, since, until, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pa models.ProviderAggregate
		var cost int64
		if err := rows.Scan(
			&pa.ProviderID,
			&pa.Requests,
			&pa.Failures,
			&pa.InputTokens,
			&pa.OutputTokens,
			&cost,
		); err != nil {
			return nil, fmt.Errorf("failed to scan provider usage row: %w", err)
		}
		pa.TotalCost = models.MicroUSD(cost).USD()
		agg.ByProvider = append(agg.ByProvider, pa)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider usage rows: %w", err)
	}

	return agg, nil
}

// SumCostSince returns total billed cost since the given time, globally and
// per user. Only records that actually spent money count.
func (r *UsageRepository) SumCostSince(ctx context.Context, since time.Time) (models.MicroUSD, map[string]models.MicroUSD, error) {
	query := `
		SELECT user_id, COALESCE(SUM(cost_micro_usd), 0)
		FROM usage_records
		WHERE created_at >= $1 AND cost_micro_usd > 0
		GROUP BY user_id
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to sum usage costs: %w", err)
	}
	defer rows.Close()

	var total models.MicroUSD
	perUser := make(map[string]models.MicroUSD)
	for rows.Next() {
		var userID string
		var cost int64
		if err := rows.Scan(&userID, &cost); err != nil {
			return 0, nil, fmt.Errorf("failed to scan cost row: %w", err)
		}
		perUser[userID] = models.MicroUSD(cost)
		total += models.MicroUSD(cost)
	}

	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("error iterating cost rows: %w", err)
	}

	return total, perUser, nil
}

// DeleteOlderThan removes records created before the cutoff
func (r *UsageRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM usage_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old usage records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted usage records: %w", err)
	}

	if deleted > 0 {
		r.logger.Info("deleted old usage records",
			zap.Int64("count", deleted),
			zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
