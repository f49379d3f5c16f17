// Package queue provides the FIFO that hands processed files from a
// category watcher to its indexing worker.
//
// A Queue accepts any number of producers and exactly one consumer. It is
// unbounded unless a capacity is configured, in which case the Policy
// decides what happens when it is full.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
)

// ErrInterrupted is returned by Dequeue after Interrupt was called.
var ErrInterrupted = errors.New("queue: interrupted")

// ErrClosed is returned by Enqueue after Close, and by Dequeue once a
// closed queue is empty.
var ErrClosed = errors.New("queue: closed")

// Policy selects the behavior of a bounded queue that is full.
type Policy string

const (
	// PolicyBlock makes Enqueue wait for space.
	PolicyBlock Policy = "block"
	// PolicyDropOldest evicts the head to make room.
	PolicyDropOldest Policy = "drop_oldest"
	// PolicyReject makes Enqueue fail with ErrQueueFull.
	PolicyReject Policy = "reject"
)

// ParsePolicy converts a config string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyBlock, PolicyDropOldest, PolicyReject:
		return p, nil
	case "":
		return PolicyBlock, nil
	default:
		return "", fmt.Errorf("unknown queue policy %q (want block, drop_oldest or reject)", s)
	}
}

// Entry is a processed file waiting for extraction.
type Entry struct {
	// Path is the file's location in the processed directory.
	Path string
	// Key is the document key, <category-dir>/<filename>.
	Key string
	// EnqueuedAt is set by Enqueue when zero.
	EnqueuedAt time.Time
}

// Queue is a FIFO of entries. The zero value is not usable; call New.
type Queue struct {
	mu          sync.Mutex
	items       []Entry
	head        int
	capacity    int
	policy      Policy
	interrupted bool
	closed      bool
	onEvict     func(Entry)

	// ready holds a token while the consumer may have work or an interrupt.
	ready chan struct{}
	// space is closed and replaced whenever an entry leaves the queue.
	space chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity bounds the queue. Zero or negative means unbounded.
func WithCapacity(n int, policy Policy) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
			q.policy = policy
		}
	}
}

// WithEvictHook is called, without the lock held, for every entry removed
// by PolicyDropOldest.
func WithEvictHook(fn func(Entry)) Option {
	return func(q *Queue) {
		q.onEvict = fn
	}
}

// New creates a queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		policy: PolicyBlock,
		ready:  make(chan struct{}, 1),
		space:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends e. It only blocks for a bounded queue under PolicyBlock,
// and then returns ctx.Err() if ctx ends first. It fails with ErrClosed
// once Close was called.
func (q *Queue) Enqueue(ctx context.Context, e Entry) error {
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.capacity == 0 || q.lenLocked() < q.capacity {
			q.pushLocked(e)
			q.mu.Unlock()
			return nil
		}

		switch q.policy {
		case PolicyReject:
			q.mu.Unlock()
			return dwerrors.New(dwerrors.ErrCodeQueueFull, "queue is full", nil).
				WithDetail("key", e.Key).
				WithDetail("capacity", fmt.Sprint(q.capacity))
		case PolicyDropOldest:
			evicted := q.popLocked()
			q.pushLocked(e)
			hook := q.onEvict
			q.mu.Unlock()
			if hook != nil {
				hook(evicted)
			}
			return nil
		}

		space := q.space
		q.mu.Unlock()

		select {
		case <-space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Dequeue removes and returns the head, blocking until one is available.
// It returns ErrInterrupted once per call to Interrupt, ErrClosed when the
// queue is closed and empty, and ctx.Err() when ctx ends. Only one
// goroutine may call Dequeue.
func (q *Queue) Dequeue(ctx context.Context) (Entry, error) {
	for {
		q.mu.Lock()
		if q.interrupted {
			q.interrupted = false
			q.mu.Unlock()
			return Entry{}, ErrInterrupted
		}
		if q.lenLocked() > 0 {
			e := q.popLocked()
			q.mu.Unlock()
			return e, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Entry{}, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}
	}
}

// Interrupt wakes the consumer. Its current or next Dequeue returns
// ErrInterrupted; entries already queued are kept.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	q.interrupted = true
	q.mu.Unlock()
	q.signal()
}

// Close stops the queue from accepting entries. The consumer still
// receives everything queued before Close, then ErrClosed. Producers
// blocked for space are released with ErrClosed. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.space)
	q.space = make(chan struct{})
	q.mu.Unlock()
	q.signal()
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Capacity returns the configured bound, or 0 when unbounded.
func (q *Queue) Capacity() int {
	return q.capacity
}

func (q *Queue) lenLocked() int {
	return len(q.items) - q.head
}

func (q *Queue) pushLocked(e Entry) {
	q.items = append(q.items, e)
	q.signal()
}

func (q *Queue) popLocked() Entry {
	e := q.items[q.head]
	q.items[q.head] = Entry{}
	q.head++

	// Compact once the dead prefix dominates.
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}

	close(q.space)
	q.space = make(chan struct{})
	return e
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
