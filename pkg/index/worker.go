package index

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentcompany/agentcompany/pkg/events"
	"github.com/agentcompany/agentcompany/pkg/log"
	"github.com/agentcompany/agentcompany/pkg/metrics"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// WorkerStatus is the snapshot served by the sync status endpoint.
type WorkerStatus struct {
	Running        bool   `json:"running"`
	Pending        bool   `json:"pending"`
	SyncsTotal     int64  `json:"syncs_total"`
	ErrorsTotal    int64  `json:"errors_total"`
	LastSyncAt     string `json:"last_sync_at,omitempty"`
	LastDurationMS int64  `json:"last_duration_ms"`
	LastError      string `json:"last_error,omitempty"`
	LastStats      Stats  `json:"last_stats"`
}

// Worker keeps the index converged with the workspace. Journal flushes
// publish on the bus and mutating operations call Notify; the worker
// debounces those into batches, never syncing more often than the
// minimum interval.
type Worker struct {
	ws          *workspace.Workspace
	store       *Store
	bus         *events.Bus
	debounce    time.Duration
	minInterval time.Duration
	logger      zerolog.Logger

	notifyCh chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool

	mu     sync.Mutex
	status WorkerStatus
}

// NewWorker creates a sync worker. Debounce and minInterval come from
// server config; zero values fall back to 250ms and 1s.
func NewWorker(ws *workspace.Workspace, store *Store, bus *events.Bus, debounce, minInterval time.Duration) *Worker {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &Worker{
		ws:          ws,
		store:       store,
		bus:         bus,
		debounce:    debounce,
		minInterval: minInterval,
		logger:      log.WithComponent("index-sync"),
		notifyCh:    make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the sync loop.
func (w *Worker) Start() {
	w.mu.Lock()
	w.status.Running = true
	w.started = true
	w.mu.Unlock()
	go w.run()
	w.logger.Info().
		Dur("debounce", w.debounce).
		Dur("min_interval", w.minInterval).
		Msg("Index sync worker started")
}

// Stop stops the sync loop and waits for the in-flight batch to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.doneCh
	}
	w.mu.Lock()
	w.status.Running = false
	w.mu.Unlock()
}

// Notify marks the workspace dirty. Safe to call from any goroutine;
// coalesces with pending notifications.
func (w *Worker) Notify() {
	select {
	case w.notifyCh <- struct{}{}:
		metrics.SyncPending.Set(1)
	default:
	}
	w.mu.Lock()
	w.status.Pending = true
	w.mu.Unlock()
}

// Flush runs one sync immediately and returns its result. Mutating RPCs
// call this when the caller needs to read its own write from the index.
func (w *Worker) Flush() (Stats, error) {
	return w.syncOnce()
}

// Status returns a snapshot of the worker's counters.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) run() {
	defer close(w.doneCh)

	var sub events.Subscriber
	if w.bus != nil {
		sub = w.bus.Subscribe()
		defer w.bus.Unsubscribe(sub)
	}

	var (
		debounceTimer *time.Timer
		debounceCh    <-chan time.Time
		lastSyncEnd   time.Time
	)
	arm := func() {
		// First notification arms the debounce window; later ones within
		// the window coalesce into the same batch.
		if debounceCh != nil {
			return
		}
		delay := w.debounce
		if since := time.Since(lastSyncEnd); since < w.minInterval {
			if rest := w.minInterval - since; rest > delay {
				delay = rest
			}
		}
		debounceTimer = time.NewTimer(delay)
		debounceCh = debounceTimer.C
	}

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		case <-w.notifyCh:
			arm()
		case _, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			arm()
		case <-debounceCh:
			debounceCh = nil
			debounceTimer = nil
			_, err := w.syncOnce()
			lastSyncEnd = time.Now()
			if err != nil {
				w.logger.Error().Err(err).Msg("Index sync batch failed")
				// The workspace is still dirty; re-arm so the batch is
				// retried after the min-interval backoff.
				arm()
			}
		}
	}
}

func (w *Worker) syncOnce() (Stats, error) {
	start := time.Now()
	metrics.SyncBatchesTotal.Inc()

	stats, err := w.store.Sync(w.ws)
	elapsed := time.Since(start)

	w.mu.Lock()
	w.status.SyncsTotal++
	w.status.LastSyncAt = start.UTC().Format(time.RFC3339)
	w.status.LastDurationMS = elapsed.Milliseconds()
	if err != nil {
		w.status.ErrorsTotal++
		w.status.LastError = err.Error()
	} else {
		// Only a successful batch clears the dirty flag; a failed one
		// leaves the workspace pending for the retry.
		w.status.Pending = false
		w.status.LastError = ""
		w.status.LastStats = stats
	}
	w.mu.Unlock()

	if err != nil {
		metrics.SyncAttemptsTotal.WithLabelValues("error").Inc()
		return stats, err
	}
	metrics.SyncPending.Set(0)
	metrics.SyncAttemptsTotal.WithLabelValues("ok").Inc()
	if !stats.Empty() {
		w.logger.Debug().
			Int("events_indexed", stats.EventsIndexed).
			Int("events_deleted", stats.EventsDeleted).
			Int("runs_indexed", stats.RunsIndexed).
			Dur("elapsed", elapsed).
			Msg("Index sync batch applied")
	}
	return stats, nil
}
