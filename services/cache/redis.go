package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the response cache with Redis so that cache hits survive
// process restarts and are shared across orchestrator replicas. Capacity is
// delegated to Redis' own eviction policy; only the TTL is enforced here.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewRedisStore connects to Redis at addr and verifies connectivity.
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: failed to connect to Redis at %s: %w", addr, err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func responseKey(fingerprint string) string {
	return "orchestrator:response:" + fingerprint
}

// Get retrieves a cached entry. A missing key is a miss, not an error.
func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	val, err := s.client.Get(ctx, responseKey(fingerprint)).Result()
	if err == redis.Nil {
		s.misses.Add(1)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %q: %w", fingerprint, err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		// Corrupt payload: drop it and report a miss.
		_ = s.client.Del(ctx, responseKey(fingerprint)).Err()
		s.misses.Add(1)
		return nil, nil
	}

	s.hits.Add(1)
	return &entry, nil
}

// Set stores an entry with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, entry *Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	if err := s.client.Set(ctx, responseKey(entry.Fingerprint), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %q: %w", entry.Fingerprint, err)
	}
	return nil
}

// Stats returns hit/miss counters for this process. Size is not tracked for
// the Redis backend.
func (s *RedisStore) Stats() Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// Close shuts down the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
