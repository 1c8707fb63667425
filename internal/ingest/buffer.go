// Package ingest buffers metric snapshots per entity and writes them to the
// persistent store in batches. Producers never block and never see store
// failures; failed batches are retried on the next flush cycle.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opsdeck/opsdeck-backend/internal/models"
	"github.com/opsdeck/opsdeck-backend/internal/pkg/metrics"
	"github.com/opsdeck/opsdeck-backend/internal/repository"
)

const (
	defaultFlushInterval = 30 * time.Second
	defaultBatchSize     = 100
	defaultRetryMax      = 1000
	defaultStoreTimeout  = 10 * time.Second
)

// Options tune the buffer. Zero values fall back to defaults.
type Options struct {
	FlushInterval time.Duration // periodic flush cadence
	BatchSize     int           // queue length that triggers an immediate flush
	RetryMax      int           // per-entity cap on retained snapshots; drop-oldest beyond
	StoreTimeout  time.Duration // deadline for one batched write
}

func (o Options) withDefaults() Options {
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.RetryMax <= 0 {
		o.RetryMax = defaultRetryMax
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = defaultStoreTimeout
	}
	return o
}

type entityQueue struct {
	mu    sync.Mutex
	snaps []*models.MetricSnapshot
}

// Buffer is an injected, explicitly-owned ingestion buffer. Multiple
// instances can coexist (tests run them side by side); there is no package
// level state.
type Buffer struct {
	store repository.SnapshotRepository
	opts  Options
	log   *slog.Logger

	mu     sync.RWMutex
	queues map[string]*entityQueue

	kick    chan string // entity whose queue hit the batch threshold
	stopCh  chan struct{}
	done    chan struct{}
	started atomic.Bool
}

// NewBuffer creates a buffer over the snapshot store.
func NewBuffer(store repository.SnapshotRepository, opts Options, log *slog.Logger) *Buffer {
	return &Buffer{
		store:  store,
		opts:   opts.withDefaults(),
		log:    log,
		queues: make(map[string]*entityQueue),
		kick:   make(chan string, 64),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Record enqueues one snapshot. Never blocks the caller and never rejects on
// backpressure; an over-full queue drops its oldest entries instead.
func (b *Buffer) Record(snapshot *models.MetricSnapshot) {
	if snapshot == nil || !snapshot.Valid() {
		return
	}

	q := b.queue(snapshot.EntityID)
	q.mu.Lock()
	q.snaps = append(q.snaps, snapshot)
	if over := len(q.snaps) - b.opts.RetryMax; over > 0 {
		q.snaps = q.snaps[over:]
		metrics.SnapshotsDroppedTotal.Add(float64(over))
		b.log.Warn("ingestion queue over bound, dropped oldest snapshots",
			"entity_id", snapshot.EntityID, "dropped", over, "bound", b.opts.RetryMax)
	}
	full := len(q.snaps) >= b.opts.BatchSize
	q.mu.Unlock()

	metrics.SnapshotsBufferedTotal.Inc()

	if full {
		select {
		case b.kick <- snapshot.EntityID:
		default:
			// A flush is already pending; the periodic cycle will catch up.
		}
	}
}

func (b *Buffer) queue(entityID string) *entityQueue {
	b.mu.RLock()
	q, ok := b.queues[entityID]
	b.mu.RUnlock()
	if ok {
		return q
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok = b.queues[entityID]; ok {
		return q
	}
	q = &entityQueue{}
	b.queues[entityID] = q
	return q
}

// Run drives the periodic flush loop until ctx is cancelled or Close is
// called. Call in a goroutine.
func (b *Buffer) Run(ctx context.Context) {
	b.started.Store(true)
	defer close(b.done)

	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case entityID := <-b.kick:
			b.flushEntity(ctx, entityID)
		case <-ticker.C:
			b.FlushAll(ctx)
		}
	}
}

// FlushAll drains every entity queue once.
func (b *Buffer) FlushAll(ctx context.Context) {
	b.mu.RLock()
	ids := make([]string, 0, len(b.queues))
	for id := range b.queues {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	for _, id := range ids {
		b.flushEntity(ctx, id)
	}
}

// flushEntity drains one queue and performs a single batched write. On
// failure the batch is merged back at the queue head, preserving enqueue
// order for the next cycle.
func (b *Buffer) flushEntity(ctx context.Context, entityID string) {
	q := b.queue(entityID)

	q.mu.Lock()
	if len(q.snaps) == 0 {
		q.mu.Unlock()
		return
	}
	batch := q.snaps
	q.snaps = nil
	q.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, b.opts.StoreTimeout)
	err := b.store.InsertSnapshots(writeCtx, batch)
	cancel()
	if err == nil {
		metrics.SnapshotsFlushedTotal.Add(float64(len(batch)))
		return
	}

	metrics.FlushFailuresTotal.Inc()
	b.log.Error("snapshot batch write failed, retrying next cycle",
		"entity_id", entityID, "batch", len(batch), "error", err)

	q.mu.Lock()
	q.snaps = append(batch, q.snaps...)
	if over := len(q.snaps) - b.opts.RetryMax; over > 0 {
		q.snaps = q.snaps[over:]
		metrics.SnapshotsDroppedTotal.Add(float64(over))
		b.log.Warn("retry queue over bound, dropped oldest snapshots",
			"entity_id", entityID, "dropped", over, "bound", b.opts.RetryMax)
	}
	q.mu.Unlock()
}

// Pending returns the number of buffered snapshots for an entity.
func (b *Buffer) Pending(entityID string) int {
	q := b.queue(entityID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.snaps)
}

// Close stops the loop and performs a final best-effort flush of all queues.
func (b *Buffer) Close(ctx context.Context) {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
	if b.started.Load() {
		select {
		case <-b.done:
		case <-ctx.Done():
		}
	}
	b.FlushAll(ctx)
}
