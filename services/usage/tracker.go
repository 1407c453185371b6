// Package usage records every request outcome to the durable usage log.
// Recording is asynchronous and never blocks or fails the request path: the
// log is for analytics and ledger resync, not admission.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wanderplan/orchestrator/models"
	"github.com/wanderplan/orchestrator/repositories"
)

// Tracker buffers usage records on a channel and writes them through the
// repository from background workers.
type Tracker struct {
	repo        repositories.UsageRepository
	logger      *zap.Logger
	recordChan  chan *models.UsageRecord
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	dropped     uint64
	mu          sync.Mutex
}

// Config holds configuration for the Tracker
type Config struct {
	BufferSize  int // Size of the record buffer channel
	WorkerCount int // Number of concurrent writer workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
	}
}

// NewTracker creates a new Tracker instance
func NewTracker(repo repositories.UsageRepository, logger *zap.Logger, config Config) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())

	return &Tracker{
		repo:        repo,
		logger:      logger,
		recordChan:  make(chan *models.UsageRecord, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background writer workers
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return fmt.Errorf("usage tracker already started")
	}

	for i := 0; i < t.workerCount; i++ {
		t.wg.Add(1)
		go t.worker(i)
	}

	t.started = true
	t.logger.Info("started usage tracker",
		zap.Int("worker_count", t.workerCount),
		zap.Int("buffer_size", t.bufferSize))

	return nil
}

// Stop gracefully stops the tracker, draining buffered records.
func (t *Tracker) Stop(timeout time.Duration) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return fmt.Errorf("usage tracker not started")
	}
	// Flip started and close under the same lock Record holds for its send,
	// so no Record can slip between the guard and a send on a closed channel.
	t.started = false
	t.logger.Info("stopping usage tracker", zap.Int("pending_records", len(t.recordChan)))
	close(t.recordChan)
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("usage tracker stopped gracefully")
		t.cancel()
		return nil
	case <-time.After(timeout):
		t.cancel()
		return fmt.Errorf("usage tracker stop timeout after %v", timeout)
	}
}

// Record enqueues a usage record without blocking. When the buffer is full,
// or the tracker is not running, the record is dropped with a warning; losing
// an analytics row is preferable to stalling or failing a live request. The
// lock spans the started check and the send so Record stays safe against a
// concurrent Stop closing the channel.
func (t *Tracker) Record(record *models.UsageRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		t.logger.Warn("usage tracker not running, dropping record",
			zap.String("outcome", string(record.Outcome)))
		return
	}

	select {
	case t.recordChan <- record:
	default:
		t.dropped++
		t.logger.Warn("usage record buffer full, dropping record",
			zap.String("outcome", string(record.Outcome)),
			zap.String("user_id", record.UserID),
			zap.Uint64("dropped_total", t.dropped))
	}
}

// worker drains records from the channel into the repository
func (t *Tracker) worker(id int) {
	defer t.wg.Done()

	t.logger.Debug("usage worker started", zap.Int("worker_id", id))

	for record := range t.recordChan {
		if err := t.persist(record); err != nil {
			t.logger.Error("failed to persist usage record",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("outcome", string(record.Outcome)),
				zap.String("user_id", record.UserID))
		}
	}

	t.logger.Debug("usage worker stopped", zap.Int("worker_id", id))
}

func (t *Tracker) persist(record *models.UsageRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return t.repo.Insert(ctx, record)
}

// QueryAggregate rolls up usage over a window, optionally for one user.
func (t *Tracker) QueryAggregate(ctx context.Context, userID string, since, until time.Time) (*models.UsageAggregate, error) {
	return t.repo.QueryAggregate(ctx, userID, since, until)
}

// SumCostSince exposes the repository's cost totals, satisfying the
// ledger's resync source.
func (t *Tracker) SumCostSince(ctx context.Context, since time.Time) (models.MicroUSD, map[string]models.MicroUSD, error) {
	return t.repo.SumCostSince(ctx, since)
}

// StartRetentionWorker periodically deletes records older than the retention
// window until the context is cancelled.
func (t *Tracker) StartRetentionWorker(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if _, err := t.repo.DeleteOlderThan(ctx, cutoff); err != nil {
				t.logger.Error("usage retention cleanup failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Stats represents tracker statistics
type Stats struct {
	BufferSize     int
	PendingRecords int
	WorkerCount    int
	Dropped        uint64
	Started        bool
}

// GetStats returns statistics about the tracker
func (t *Tracker) GetStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Stats{
		BufferSize:     t.bufferSize,
		PendingRecords: len(t.recordChan),
		WorkerCount:    t.workerCount,
		Dropped:        t.dropped,
		Started:        t.started,
	}
}
