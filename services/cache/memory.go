package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// memoryEntry wraps a cached response with its LRU bookkeeping.
type memoryEntry struct {
	entry      *Entry
	insertedAt time.Time
	element    *list.Element
}

func (e *memoryEntry) isExpired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.insertedAt) > ttl
}

// MemoryStore is an in-memory LRU cache with TTL, safe for concurrent use.
// Expired entries are ignored (and removed) lazily on lookup; a cleanup
// worker can additionally sweep them in the background.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64

	now func() time.Time // overridable for tests
}

// NewMemoryStore creates a MemoryStore with the given capacity and TTL.
func NewMemoryStore(maxSize int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached entry for a fingerprint, or nil on miss. An entry
// whose TTL has elapsed is never served.
func (s *MemoryStore) Get(_ context.Context, fingerprint string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	me, exists := s.entries[fingerprint]
	if !exists || me.isExpired(s.ttl, s.now()) {
		s.misses++
		if exists {
			s.removeEntry(fingerprint)
		}
		return nil, nil
	}

	s.lruList.MoveToFront(me.element)
	s.hits++
	return me.entry, nil
}

// Set stores an entry, evicting the least recently used one when full.
func (s *MemoryStore) Set(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if me, exists := s.entries[entry.Fingerprint]; exists {
		me.entry = entry
		me.insertedAt = s.now()
		s.lruList.MoveToFront(me.element)
		return nil
	}

	if s.maxSize > 0 && s.lruList.Len() >= s.maxSize {
		s.evictLRU()
	}

	me := &memoryEntry{
		entry:      entry,
		insertedAt: s.now(),
	}
	me.element = s.lruList.PushFront(entry.Fingerprint)
	s.entries[entry.Fingerprint] = me
	return nil
}

// Stats returns cache statistics.
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.hits + s.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(s.hits) / float64(total)
	}
	return Stats{
		Size:    s.lruList.Len(),
		MaxSize: s.maxSize,
		Hits:    s.hits,
		Misses:  s.misses,
		HitRate: hitRate,
	}
}

// Close releases all entries.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*memoryEntry)
	s.lruList.Init()
	return nil
}

// CleanupExpired removes all expired entries and returns how many were
// evicted.
func (s *MemoryStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expired := make([]string, 0)
	for fingerprint, me := range s.entries {
		if me.isExpired(s.ttl, now) {
			expired = append(expired, fingerprint)
		}
	}
	for _, fingerprint := range expired {
		s.removeEntry(fingerprint)
	}
	return len(expired)
}

// StartCleanupWorker periodically sweeps expired entries until the context
// is cancelled.
func (s *MemoryStore) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupExpired()
		case <-ctx.Done():
			return
		}
	}
}

// removeEntry removes an entry (must be called with lock held).
func (s *MemoryStore) removeEntry(fingerprint string) {
	if me, exists := s.entries[fingerprint]; exists {
		s.lruList.Remove(me.element)
		delete(s.entries, fingerprint)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held).
func (s *MemoryStore) evictLRU() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	fingerprint := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, fingerprint)
}
