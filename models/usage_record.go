package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageOutcome classifies the terminal (or per-attempt) outcome a usage
// record describes.
type UsageOutcome string

const (
	// OutcomeServed is a successful generation billed to a provider.
	OutcomeServed UsageOutcome = "served"

	// OutcomeCacheHit is a response served from the cache at zero cost.
	OutcomeCacheHit UsageOutcome = "cache_hit"

	// OutcomeAttemptFailed is a single failed provider attempt inside the
	// fallback loop. Not terminal: the request may still succeed.
	OutcomeAttemptFailed UsageOutcome = "attempt_failed"

	// OutcomeDegraded means every candidate was exhausted and the caller
	// received the static fallback suggestion.
	OutcomeDegraded UsageOutcome = "degraded"

	// OutcomeDenied means the request failed budget admission before any
	// provider was contacted.
	OutcomeDenied UsageOutcome = "denied"
)

// UsageRecord is the append-only log entry for one attempted or completed
// call. Records are never mutated or deleted after insertion (retention
// cleanup aside).
type UsageRecord struct {
	ID           uuid.UUID    `json:"id"`
	Fingerprint  string       `json:"fingerprint"`
	UserID       string       `json:"user_id"`
	FamilyID     string       `json:"family_id,omitempty"`
	ProviderID   string       `json:"provider_id,omitempty"` // empty for cache hits, denials, degraded outcomes
	Outcome      UsageOutcome `json:"outcome"`
	Success      bool         `json:"success"`
	InputTokens  int          `json:"input_tokens"`
	OutputTokens int          `json:"output_tokens"`
	Cost         MicroUSD     `json:"cost_micro_usd"`
	LatencyMs    int          `json:"latency_ms"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Terminal reports whether the record closes out its request.
func (r *UsageRecord) Terminal() bool {
	return r.Outcome != OutcomeAttemptFailed
}
