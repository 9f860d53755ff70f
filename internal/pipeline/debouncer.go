package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/anortham/codesearch-engine/internal/watcher"
)

// changeEvent is the debouncer's name for a watcher.Event: a type alias,
// so it is the same type and carries no extra fields.
type changeEvent = watcher.Event

// Debouncer coalesces rapid per-path events within a fixed window before
// emitting a batch, up to batchSize events, via a per-path pending map and
// timer-based non-blocking flush. The coalescing rule is simple: a Deleted
// event always dominates whatever was pending for that path.
type Debouncer struct {
	window    time.Duration
	batchSize int

	mu      sync.Mutex
	pending map[string]changeEvent
	order   []string
	timer   *time.Timer
	output  chan []changeEvent
	stopCh  chan struct{}
	stopped bool
	logger  *slog.Logger
}

// NewDebouncer creates a Debouncer with the given window and max batch
// size (defaults: 500ms, 50).
func NewDebouncer(window time.Duration, batchSize int, logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Debouncer{
		window:    window,
		batchSize: batchSize,
		pending:   make(map[string]changeEvent),
		output:    make(chan []changeEvent, 8),
		stopCh:    make(chan struct{}),
		logger:    logger,
	}
}

// Output returns the channel of coalesced batches.
func (d *Debouncer) Output() <-chan []changeEvent { return d.output }

// Add records an event, coalescing it with any pending event for the same
// path. Deleted always wins regardless of arrival order.
func (d *Debouncer) Add(ev changeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if existing, ok := d.pending[ev.Path]; ok {
		d.pending[ev.Path] = coalesce(existing, ev)
	} else {
		d.pending[ev.Path] = ev
		d.order = append(d.order, ev.Path)
	}

	if len(d.pending) >= d.batchSize {
		d.flushLocked()
		return
	}
	d.scheduleFlushLocked()
}

// coalesce merges two events for the same path: Deleted dominates
// Modified/Created in either position, otherwise the later event wins.
func coalesce(existing, incoming changeEvent) changeEvent {
	if existing.Kind == watcher.Deleted || incoming.Kind == watcher.Deleted {
		merged := incoming
		merged.Kind = watcher.Deleted
		return merged
	}
	return incoming
}

func (d *Debouncer) scheduleFlushLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
}

func (d *Debouncer) flushLocked() {
	if d.stopped || len(d.pending) == 0 {
		return
	}
	batch := make([]changeEvent, 0, len(d.pending))
	for _, path := range d.order {
		if ev, ok := d.pending[path]; ok {
			batch = append(batch, ev)
		}
	}
	d.pending = make(map[string]changeEvent)
	d.order = nil

	select {
	case d.output <- batch:
	default:
		d.logger.Warn("pipeline debounce output full, dropping batch", slog.Int("batch_size", len(batch)))
	}
}

// Stop halts the debouncer and closes its output channel. Safe to call
// more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.stopCh)
	close(d.output)
}
