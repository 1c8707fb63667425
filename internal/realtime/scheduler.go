// Package realtime pushes live dashboard updates to subscribed admin
// sessions on fixed per-module cadences. Transport is the caller's concern;
// subscribers register plain callbacks and the websocket layer bridges them
// onto connections.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opsdeck/opsdeck-backend/internal/dashboard"
	"github.com/opsdeck/opsdeck-backend/internal/models"
)

// ConnectionStatus is the scheduler's view of the backing store link.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusError        ConnectionStatus = "error"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// Pinger health-probes the backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Callback receives one pushed update. Callbacks must not block for long;
// a slow callback delays other subscribers of the same admin.
type Callback func(models.WebSocketMessage)

// Live modules and their push cadences. Modules not listed here are
// poll-only through the REST dashboard API.
var defaultCadences = map[models.DashboardModule]time.Duration{
	models.ModuleSecurityAlerts: 5 * time.Second,
	models.ModuleSystemHealth:   10 * time.Second,
	models.ModuleAnalytics:      60 * time.Second,
}

type subscriber struct {
	id int
	cb Callback
}

// adminFeed is the per-admin fan-out loop. Created when the first callback
// for an admin registers, stopped when the last one unsubscribes.
type adminFeed struct {
	adminID string
	subs    []subscriber
	stop    chan struct{}
	done    chan struct{}
}

// Scheduler owns the per-admin push loops.
type Scheduler struct {
	aggregator *dashboard.Aggregator
	store      Pinger
	cadences   map[models.DashboardModule]time.Duration
	log        *slog.Logger

	mu     sync.Mutex
	feeds  map[string]*adminFeed
	nextID int
	closed bool

	statusMu sync.RWMutex
	status   ConnectionStatus
	onStatus func(ConnectionStatus)
}

// NewScheduler builds a scheduler over the dashboard aggregator. The store
// is only used for connection health probes.
func NewScheduler(aggregator *dashboard.Aggregator, store Pinger, log *slog.Logger) *Scheduler {
	return &Scheduler{
		aggregator: aggregator,
		store:      store,
		cadences:   defaultCadences,
		log:        log,
		feeds:      make(map[string]*adminFeed),
		status:     StatusDisconnected,
	}
}

// Status returns the current store connection status.
func (s *Scheduler) Status() ConnectionStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// OnStatusChange registers a listener invoked on every connection status
// transition. Set once at wiring time, before any Reconnect or Close.
func (s *Scheduler) OnStatusChange(fn func(ConnectionStatus)) {
	s.statusMu.Lock()
	s.onStatus = fn
	s.statusMu.Unlock()
}

func (s *Scheduler) setStatus(status ConnectionStatus) {
	s.statusMu.Lock()
	changed := s.status != status
	s.status = status
	fn := s.onStatus
	s.statusMu.Unlock()
	if changed && fn != nil {
		fn(status)
	}
}

// Reconnect probes the store and flips the status to connected only on a
// successful probe.
func (s *Scheduler) Reconnect(ctx context.Context) error {
	s.setStatus(StatusConnecting)

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.store.Ping(probeCtx); err != nil {
		s.setStatus(StatusError)
		s.log.Error("realtime store probe failed", "error", err)
		return err
	}

	s.setStatus(StatusConnected)
	return nil
}

// Subscribe registers a callback for an admin's live updates and returns the
// matching unsubscribe function. The admin's push timers start with the
// first subscriber and stop with the last; unsubscribe is idempotent.
func (s *Scheduler) Subscribe(adminID string, cb Callback) func() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	s.nextID++
	id := s.nextID

	feed, ok := s.feeds[adminID]
	if !ok {
		feed = &adminFeed{
			adminID: adminID,
			stop:    make(chan struct{}),
			done:    make(chan struct{}),
		}
		s.feeds[adminID] = feed
		go s.run(feed)
	}
	feed.subs = append(feed.subs, subscriber{id: id, cb: cb})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.unsubscribe(adminID, id) })
	}
}

func (s *Scheduler) unsubscribe(adminID string, id int) {
	s.mu.Lock()
	feed, ok := s.feeds[adminID]
	if !ok {
		s.mu.Unlock()
		return
	}
	for i, sub := range feed.subs {
		if sub.id == id {
			feed.subs = append(feed.subs[:i], feed.subs[i+1:]...)
			break
		}
	}
	var done chan struct{}
	if len(feed.subs) == 0 {
		delete(s.feeds, adminID)
		close(feed.stop)
		done = feed.done
	}
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Close stops every feed and rejects further subscriptions.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	feeds := make([]*adminFeed, 0, len(s.feeds))
	for adminID, feed := range s.feeds {
		delete(s.feeds, adminID)
		close(feed.stop)
		feeds = append(feeds, feed)
	}
	s.mu.Unlock()

	for _, feed := range feeds {
		<-feed.done
	}
	s.setStatus(StatusDisconnected)
}

// run drives one admin's push timers until the feed stops. Each module
// ticks on its own cadence in its own goroutine; the feed's stop channel
// ends them all.
func (s *Scheduler) run(feed *adminFeed) {
	var wg sync.WaitGroup
	for module, cadence := range s.cadences {
		wg.Add(1)
		go func(module models.DashboardModule, cadence time.Duration) {
			defer wg.Done()
			ticker := time.NewTicker(cadence)
			defer ticker.Stop()
			for {
				select {
				case <-feed.stop:
					return
				case <-ticker.C:
					s.push(feed, module)
				}
			}
		}(module, cadence)
	}
	wg.Wait()
	close(feed.done)
}

// push fetches fresh data for one module and fans it out to the admin's
// callbacks. A panicking callback is logged and skipped, never fatal.
func (s *Scheduler) push(feed *adminFeed, module models.DashboardModule) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	snap, err := s.aggregator.Aggregate(ctx, feed.adminID, []models.DashboardModule{module}, true)
	cancel()
	if err != nil {
		s.log.Error("realtime fetch failed",
			"admin_id", feed.adminID, "module", string(module), "error", err)
		return
	}
	result, ok := snap.Data[module]
	if !ok {
		return
	}

	msg := models.WebSocketMessage{
		Type:      "module_update",
		Module:    module,
		Data:      result,
		Timestamp: time.Now().UTC(),
	}

	s.mu.Lock()
	subs := make([]subscriber, len(feed.subs))
	copy(subs, feed.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		s.deliver(sub, msg)
	}
}

func (s *Scheduler) deliver(sub subscriber, msg models.WebSocketMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("realtime callback panicked", "panic", r)
		}
	}()
	sub.cb(msg)
}
