package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsdeck/opsdeck-backend/internal/models"
)

// failingStore records batches and can be told to fail the next N writes.
type failingStore struct {
	mu       sync.Mutex
	batches  [][]*models.MetricSnapshot
	failNext int
}

func (s *failingStore) InsertSnapshots(_ context.Context, snaps []*models.MetricSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.New("store unavailable")
	}
	copied := make([]*models.MetricSnapshot, len(snaps))
	copy(copied, snaps)
	s.batches = append(s.batches, copied)
	return nil
}

func (s *failingStore) ListSnapshots(context.Context, string, time.Time, time.Time) ([]*models.MetricSnapshot, error) {
	return nil, nil
}

func (s *failingStore) ListEntityIDs(context.Context, time.Time, time.Time) ([]string, error) {
	return nil, nil
}

func (s *failingStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *failingStore) written() []*models.MetricSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*models.MetricSnapshot
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func testSnap(entityID string, i int) *models.MetricSnapshot {
	return &models.MetricSnapshot{
		EntityID:      entityID,
		Timestamp:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Second),
		OperationKind: models.OperationRequest,
		Success:       true,
		LatencyMs:     float64(i),
	}
}

func TestRecordAndFlush(t *testing.T) {
	store := &failingStore{}
	buf := NewBuffer(store, Options{BatchSize: 100}, testLogger())

	for i := 0; i < 5; i++ {
		buf.Record(testSnap("e1", i))
	}
	assert.Equal(t, 5, buf.Pending("e1"))

	buf.FlushAll(context.Background())

	assert.Zero(t, buf.Pending("e1"))
	require.Equal(t, 1, store.batchCount(), "one entity flushes as one batched write")
	assert.Len(t, store.written(), 5)
}

func TestRecordRejectsInvalid(t *testing.T) {
	store := &failingStore{}
	buf := NewBuffer(store, Options{}, testLogger())

	buf.Record(nil)
	buf.Record(&models.MetricSnapshot{}) // missing entity id

	buf.FlushAll(context.Background())
	assert.Zero(t, store.batchCount())
}

func TestFlushPreservesPerEntityOrder(t *testing.T) {
	store := &failingStore{}
	buf := NewBuffer(store, Options{}, testLogger())

	for i := 0; i < 10; i++ {
		buf.Record(testSnap("e1", i))
	}
	buf.FlushAll(context.Background())

	written := store.written()
	require.Len(t, written, 10)
	for i := 1; i < len(written); i++ {
		assert.True(t, written[i-1].Timestamp.Before(written[i].Timestamp), "flush must preserve enqueue order")
	}
}

func TestFailedBatchIsRetainedAndRetried(t *testing.T) {
	store := &failingStore{failNext: 1}
	buf := NewBuffer(store, Options{}, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		buf.Record(testSnap("e1", i))
	}

	// First flush fails; the batch is merged back for retry
	buf.FlushAll(ctx)
	assert.Equal(t, 3, buf.Pending("e1"))
	assert.Zero(t, store.batchCount())

	// New snapshots land behind the retained batch
	buf.Record(testSnap("e1", 3))

	buf.FlushAll(ctx)
	assert.Zero(t, buf.Pending("e1"))

	written := store.written()
	require.Len(t, written, 4)
	for i := 1; i < len(written); i++ {
		assert.True(t, written[i-1].Timestamp.Before(written[i].Timestamp))
	}
}

func TestRetryQueueBoundDropsOldest(t *testing.T) {
	store := &failingStore{failNext: 1000}
	buf := NewBuffer(store, Options{RetryMax: 10, BatchSize: 1000}, testLogger())
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		buf.Record(testSnap("e1", i))
		if i%5 == 4 {
			buf.FlushAll(ctx)
		}
	}

	assert.LessOrEqual(t, buf.Pending("e1"), 10)

	// Store recovers; the newest retained snapshots survive
	store.mu.Lock()
	store.failNext = 0
	store.mu.Unlock()
	buf.FlushAll(ctx)

	written := store.written()
	require.NotEmpty(t, written)
	last := written[len(written)-1]
	assert.Equal(t, testSnap("e1", 24).Timestamp, last.Timestamp)
}

func TestBatchThresholdTriggersFlush(t *testing.T) {
	store := &failingStore{}
	buf := NewBuffer(store, Options{BatchSize: 10, FlushInterval: time.Hour}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go buf.Run(ctx)

	for i := 0; i < 10; i++ {
		buf.Record(testSnap("e1", i))
	}

	require.Eventually(t, func() bool {
		return store.batchCount() >= 1
	}, 2*time.Second, 10*time.Millisecond, "hitting the batch threshold must flush without waiting for the interval")

	buf.Close(context.Background())
}

func TestCloseFlushesRemaining(t *testing.T) {
	store := &failingStore{}
	buf := NewBuffer(store, Options{FlushInterval: time.Hour}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go buf.Run(ctx)

	buf.Record(testSnap("e1", 0))
	buf.Record(testSnap("e2", 1))

	buf.Close(context.Background())

	assert.Len(t, store.written(), 2)
}

func TestIndependentInstances(t *testing.T) {
	storeA := &failingStore{}
	storeB := &failingStore{}
	a := NewBuffer(storeA, Options{}, testLogger())
	b := NewBuffer(storeB, Options{}, testLogger())

	a.Record(testSnap("e1", 0))
	b.Record(testSnap("e1", 1))

	a.FlushAll(context.Background())

	assert.Len(t, storeA.written(), 1)
	assert.Zero(t, storeB.batchCount(), "buffers must not share state")
}

func TestConcurrentProducers(t *testing.T) {
	store := &failingStore{}
	buf := NewBuffer(store, Options{BatchSize: 10000}, testLogger())

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				buf.Record(testSnap("e1", p*100+i))
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 800, buf.Pending("e1"))
	buf.FlushAll(context.Background())
	assert.Len(t, store.written(), 800)
}
