package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// debounceBacklog is how many batches may wait for the consumer.
	debounceBacklog = 10

	// maxHoldFactor bounds, in windows, how long a path that never goes
	// quiet is held back.
	maxHoldFactor = 20
)

// Debouncer holds file events until their path has been quiet for one
// window, so a file still being copied into an inbox is reported once,
// after the copy settles. A path that keeps changing is released after
// maxHoldFactor windows regardless.
//
// Operations on one path merge as follows:
//   - CREATE then MODIFY is CREATE
//   - CREATE then DELETE cancels out
//   - DELETE then CREATE is MODIFY
//   - anything else keeps the latest operation
type Debouncer struct {
	window  time.Duration
	maxHold time.Duration

	mu      sync.Mutex
	pending map[string]*heldEvent
	out     chan []FileEvent
	timer   *time.Timer
	armedAt time.Time
	stopped bool
}

type heldEvent struct {
	event FileEvent
	since time.Time
	last  time.Time
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		maxHold: window * maxHoldFactor,
		pending: make(map[string]*heldEvent),
		out:     make(chan []FileEvent, debounceBacklog),
	}
}

// mergeOps folds next into prev. ok is false when the two cancel out.
func mergeOps(prev, next Operation) (op Operation, ok bool) {
	switch {
	case prev == OpCreate && next == OpModify:
		return OpCreate, true
	case prev == OpCreate && next == OpDelete:
		return 0, false
	case prev == OpDelete && next == OpCreate:
		return OpModify, true
	default:
		return next, true
	}
}

// Add records an event. It is a no-op after Stop.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	now := time.Now()
	held, ok := d.pending[event.Path]
	if !ok {
		held = &heldEvent{event: event, since: now, last: now}
		d.pending[event.Path] = held
		d.armLocked(d.dueLocked(held))
		return
	}

	op, keep := mergeOps(held.event.Operation, event.Operation)
	if !keep {
		delete(d.pending, event.Path)
		return
	}
	held.event = event
	held.event.Operation = op
	held.last = now
	d.armLocked(d.dueLocked(held))
}

// dueLocked is when held may be released.
func (d *Debouncer) dueLocked(held *heldEvent) time.Time {
	due := held.last.Add(d.window)
	if limit := held.since.Add(d.maxHold); d.maxHold > 0 && limit.Before(due) {
		return limit
	}
	return due
}

// armLocked makes sure a flush runs no later than at.
func (d *Debouncer) armLocked(at time.Time) {
	if d.timer != nil && !at.Before(d.armedAt) {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.armedAt = at
	d.timer = time.AfterFunc(time.Until(at), d.flush)
}

// flush releases every due path as one batch ordered by path and rearms
// for the rest. If the consumer is behind, the batch stays held and is
// retried one window later.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.timer = nil
	if d.stopped {
		return
	}

	now := time.Now()
	var batch []FileEvent
	var next time.Time
	for _, held := range d.pending {
		due := d.dueLocked(held)
		if !due.After(now) {
			batch = append(batch, held.event)
			continue
		}
		if next.IsZero() || due.Before(next) {
			next = due
		}
	}

	if len(batch) > 0 {
		sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
		select {
		case d.out <- batch:
			for _, ev := range batch {
				delete(d.pending, ev.Path)
			}
		default:
			slog.Debug("debouncer consumer behind, holding batch",
				slog.Int("batch_size", len(batch)))
			d.armLocked(now.Add(d.window))
			return
		}
	}

	if !next.IsZero() {
		d.armLocked(next)
	}
}

// Pending returns how many paths are currently held.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Output returns the channel of released batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.out
}

// Stop drops held events and closes the output. Safe to call twice.
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
	close(d.out)
}
