// Package cache memoizes generation responses by request fingerprint so that
// identical requests inside the TTL window are served without spending budget
// or touching a provider.
package cache

import (
	"context"
	"time"
)

// Entry is one memoized response.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Text        string    `json:"text"`
	ProviderID  string    `json:"provider_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Store is the response cache. Implementations must tolerate concurrent
// readers; concurrent writes for the same fingerprint may race harmlessly
// since all such writes carry equivalent content.
//
// A nil entry with a nil error is a miss. Store failures surface as errors;
// callers treat them as misses because the cache is not on the critical path.
type Store interface {
	Get(ctx context.Context, fingerprint string) (*Entry, error)
	Set(ctx context.Context, entry *Entry) error
	Stats() Stats
	Close() error
}
