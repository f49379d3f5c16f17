// Package worker drains a category's queue: extract, then index or record
// the failure.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Aman-CERP/dropwatch/internal/category"
	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
	"github.com/Aman-CERP/dropwatch/internal/extract"
	"github.com/Aman-CERP/dropwatch/internal/index"
	"github.com/Aman-CERP/dropwatch/internal/metrics"
	"github.com/Aman-CERP/dropwatch/internal/queue"
)

// DefaultCooldown is the minimum spacing between two documents of one
// category.
const DefaultCooldown = 2 * time.Second

// Stats are cumulative counts for one worker.
type Stats struct {
	Indexed      int64 `json:"indexed"`
	Failed       int64 `json:"failed"`
	IndexErrors  int64 `json:"index_errors"`
	RecordErrors int64 `json:"record_errors"`
}

// Worker is the single consumer of one category queue.
type Worker struct {
	desc      category.Descriptor
	queue     *queue.Queue
	extractor extract.Extractor
	client    index.Client
	recorder  *FailureRecorder
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	recent    *Recent
	logger    *slog.Logger

	failureBucket string
	cooldown      time.Duration

	indexed      atomic.Int64
	failed       atomic.Int64
	indexErrors  atomic.Int64
	recordErrors atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

// WithCooldown sets the minimum spacing between documents. Zero disables
// rate limiting.
func WithCooldown(d time.Duration) Option {
	return func(w *Worker) {
		w.cooldown = d
	}
}

// WithFailureBucket overrides category.FailedBucket.
func WithFailureBucket(bucket string) Option {
	return func(w *Worker) {
		w.failureBucket = bucket
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithRecentSize sets how many outcomes are remembered for status.
func WithRecentSize(n int) Option {
	return func(w *Worker) {
		w.recent = NewRecent(n)
	}
}

// WithLogger sets the logger. It is used as given, so callers that want a
// category attribute add it themselves.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a worker for desc reading from q.
func New(desc category.Descriptor, q *queue.Queue, ex extract.Extractor, client index.Client, opts ...Option) *Worker {
	w := &Worker{
		desc:      desc,
		queue:     q,
		extractor: ex,
		client:    client,
		cooldown:  DefaultCooldown,
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = slog.Default().With(slog.String("category", desc.Category.String()))
	}
	if w.recent == nil {
		w.recent = NewRecent(DefaultRecentSize)
	}
	w.recorder = NewFailureRecorder(client, w.failureBucket, w.logger)

	limit := rate.Inf
	if w.cooldown > 0 {
		limit = rate.Every(w.cooldown)
	}
	w.limiter = rate.NewLimiter(limit, 1)
	return w
}

// Run consumes the queue until ctx is cancelled or the queue is closed and
// empty. It returns nil in both cases. An entry that has started processing
// is finished even if ctx is cancelled meanwhile.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Debug("worker started", slog.Duration("cooldown", w.cooldown))
	defer w.logger.Debug("worker stopped")

	for {
		entry, err := w.queue.Dequeue(ctx)
		if errors.Is(err, queue.ErrInterrupted) {
			w.logger.Info("worker interrupted, continuing")
			continue
		}
		if errors.Is(err, queue.ErrClosed) {
			w.logger.Debug("queue closed and drained")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		w.metrics.SetQueueDepth(w.desc.Category.String(), w.queue.Len())

		if err := w.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				w.logger.Debug("entry left unprocessed at shutdown", slog.String("key", entry.Key))
				return nil
			}
			return err
		}

		w.process(context.WithoutCancel(ctx), entry)
	}
}

func (w *Worker) process(ctx context.Context, entry queue.Entry) {
	start := time.Now()
	cat := w.desc.Category.String()
	w.metrics.ObserveQueueLag(cat, start.Sub(entry.EnqueuedAt))

	outcome := Outcome{Key: entry.Key, Bucket: w.desc.Bucket()}
	status := w.handle(ctx, entry, &outcome)

	outcome.Status = status
	outcome.At = time.Now()
	w.recent.Add(outcome)
	w.metrics.ObserveDocument(cat, status, time.Since(start))
}

// handle runs extraction and indexing and returns the metrics status.
func (w *Worker) handle(ctx context.Context, entry queue.Entry, outcome *Outcome) string {
	res, err := w.extractor.Extract(ctx, entry.Path)
	if err != nil {
		w.logger.LogAttrs(ctx, slog.LevelWarn, "extraction failed",
			append([]slog.Attr{slog.String("path", entry.Path)}, dwerrors.LogAttrs(err)...)...)

		outcome.Bucket = w.recorder.Bucket()
		outcome.Error = err.Error()
		w.failed.Add(1)
		if recErr := w.recorder.Record(ctx, entry.Path); recErr != nil {
			w.recordErrors.Add(1)
			return metrics.StatusRecordError
		}
		return metrics.StatusFailed
	}

	key := res.Key
	if key == "" {
		key = entry.Key
	}
	outcome.Key = key

	doc := index.Document{Bucket: w.desc.Bucket(), Key: key, Fields: res.Fields}
	if err := w.client.Index(ctx, doc); err != nil {
		ie := dwerrors.IndexError(doc.Bucket, key, err)
		w.logger.LogAttrs(ctx, slog.LevelError, "document dropped", dwerrors.LogAttrs(ie)...)
		outcome.Error = ie.Error()
		w.indexErrors.Add(1)
		return metrics.StatusIndexError
	}

	w.indexed.Add(1)
	w.logger.Info("document indexed",
		slog.String("bucket", doc.Bucket),
		slog.String("key", key))
	return metrics.StatusIndexed
}

// Category returns the worker's category descriptor.
func (w *Worker) Category() category.Descriptor {
	return w.desc
}

// Stats returns cumulative counts.
func (w *Worker) Stats() Stats {
	return Stats{
		Indexed:      w.indexed.Load(),
		Failed:       w.failed.Load(),
		IndexErrors:  w.indexErrors.Load(),
		RecordErrors: w.recordErrors.Load(),
	}
}

// Recent returns the latest outcomes, newest first.
func (w *Worker) Recent() []Outcome {
	return w.recent.List()
}
