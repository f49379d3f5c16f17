// Package ingest runs one category end to end: it registers the inbox,
// drains files already present, then stores and enqueues every file that
// arrives until the watch ends. Each CategoryWatcher owns the worker that
// consumes its queue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aman-CERP/dropwatch/internal/category"
	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
	"github.com/Aman-CERP/dropwatch/internal/extract"
	"github.com/Aman-CERP/dropwatch/internal/filestore"
	"github.com/Aman-CERP/dropwatch/internal/index"
	"github.com/Aman-CERP/dropwatch/internal/metrics"
	"github.com/Aman-CERP/dropwatch/internal/queue"
	"github.com/Aman-CERP/dropwatch/internal/watcher"
	"github.com/Aman-CERP/dropwatch/internal/worker"
)

// Config describes one category pipeline.
type Config struct {
	// Descriptor selects the category.
	Descriptor category.Descriptor

	// Root is the watched root; the inbox is Root/<category-dir>.
	Root string

	// ProcessedRoot holds one processed directory per category.
	ProcessedRoot string

	// Watch configures the file watcher.
	Watch watcher.Options

	// QueueCapacity bounds the queue; 0 means unbounded.
	QueueCapacity int

	// QueuePolicy applies when a bounded queue is full.
	QueuePolicy queue.Policy

	// Worker options are passed to the paired IndexingWorker.
	Worker []worker.Option
}

// Status is a point-in-time snapshot for the status RPC.
type Status struct {
	Category    string           `json:"category"`
	Inbox       string           `json:"inbox"`
	Processed   string           `json:"processed"`
	State       State            `json:"state"`
	WatcherType string           `json:"watcher_type,omitempty"`
	QueueDepth  int              `json:"queue_depth"`
	Store       filestore.Stats  `json:"store"`
	Worker      worker.Stats     `json:"worker"`
	Recent      []worker.Outcome `json:"recent,omitempty"`
}

// CategoryWatcher moves files from one inbox to the processed directory
// and hands them to its worker.
type CategoryWatcher struct {
	desc    category.Descriptor
	inbox   string
	opts    watcher.Options
	store   *filestore.Store
	queue   *queue.Queue
	worker  *worker.Worker
	metrics *metrics.Metrics
	logger  *slog.Logger

	state stateBox

	mu          sync.Mutex
	watcherType string
	ran         bool

	ready  chan struct{}
	regErr error
}

// Option configures a CategoryWatcher.
type Option func(*CategoryWatcher)

// WithMetrics enables Prometheus metrics for the watcher and its worker.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *CategoryWatcher) {
		c.metrics = m
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *CategoryWatcher) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds the pipeline for cfg.Descriptor. Nothing touches the
// filesystem until Run.
func New(cfg Config, ex extract.Extractor, client index.Client, opts ...Option) *CategoryWatcher {
	c := &CategoryWatcher{
		desc:   cfg.Descriptor,
		inbox:  cfg.Descriptor.InboxPath(cfg.Root),
		opts:   cfg.Watch,
		logger: slog.Default(),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("category", c.desc.Category.String()))

	processed := c.desc.ProcessedPath(cfg.ProcessedRoot)
	c.store = filestore.New(processed, filestore.WithLogger(c.logger))

	var qopts []queue.Option
	if cfg.QueueCapacity > 0 {
		qopts = append(qopts, queue.WithCapacity(cfg.QueueCapacity, cfg.QueuePolicy))
	}
	qopts = append(qopts, queue.WithEvictHook(func(e queue.Entry) {
		c.logger.Warn("queue full, oldest entry evicted unindexed",
			slog.String("key", e.Key),
			slog.String("path", e.Path))
	}))
	c.queue = queue.New(qopts...)

	wopts := append([]worker.Option{
		worker.WithLogger(c.logger),
		worker.WithMetrics(c.metrics),
	}, cfg.Worker...)
	c.worker = worker.New(c.desc, c.queue, ex, client, wopts...)
	return c
}

// Run executes the watcher lifecycle. A RegistrationError is returned when
// the inbox cannot be watched; the worker is never started in that case.
// Cancellation and removal of the inbox both end Run with a nil error.
// Run may only be called once.
func (c *CategoryWatcher) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return fmt.Errorf("category watcher %s already ran", c.desc.Category)
	}
	c.ran = true
	c.mu.Unlock()

	c.state.store(StateInitializing)
	defer c.state.store(StateStopped)

	w, err := c.register()
	c.regErr = err
	close(c.ready)
	if err != nil {
		return err
	}

	c.logger.Info("category watcher started",
		slog.String("inbox", c.inbox),
		slog.String("processed", c.store.Dir()),
		slog.String("watcher", w.WatcherType()))
	c.metrics.WatcherStarted()
	defer c.metrics.WatcherStopped()

	workerDone := make(chan error, 1)
	go func() { workerDone <- c.worker.Run(ctx) }()

	watchDone := make(chan error, 1)
	go func() { watchDone <- w.Run(ctx) }()

	c.state.store(StateDraining)
	c.drain(ctx)

	c.state.store(StateWatching)
	c.watch(ctx, w)

	// Entries already queued live only in processed, so the worker keeps
	// going until the queue is empty. Only ctx ends it early.
	watchErr := <-watchDone
	c.queue.Close()
	if ctx.Err() == nil && c.queue.Len() > 0 {
		c.logger.Info("watch ended, finishing queued entries", slog.Int("queued", c.queue.Len()))
	}
	if err := <-workerDone; err != nil {
		c.logger.Error("worker exited with error", slog.String("error", err.Error()))
	}

	switch {
	case errors.Is(watchErr, watcher.ErrNoWatchedDirs):
		c.logger.Warn("inbox no longer watchable, category stopped after draining its queue",
			slog.String("inbox", c.inbox))
	case watchErr != nil:
		c.logger.Error("watcher failed", slog.String("error", watchErr.Error()))
		return watchErr
	default:
		c.logger.Info("category watcher stopped")
	}
	return nil
}

// register creates the inbox if needed and subscribes to it.
func (c *CategoryWatcher) register() (*watcher.HybridWatcher, error) {
	info, err := os.Stat(c.inbox)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(c.inbox, 0o755); err != nil {
			return nil, dwerrors.RegistrationError(c.inbox, err)
		}
		c.logger.Info("created missing inbox", slog.String("inbox", c.inbox))
	case err != nil:
		return nil, dwerrors.RegistrationError(c.inbox, err)
	case !info.IsDir():
		return nil, dwerrors.RegistrationError(c.inbox, fmt.Errorf("not a directory"))
	}

	w, err := watcher.NewHybridWatcher(c.opts)
	if err != nil {
		return nil, dwerrors.RegistrationError(c.inbox, err)
	}
	if err := w.Watch(c.inbox); err != nil {
		_ = w.Stop()
		return nil, dwerrors.RegistrationError(c.inbox, err)
	}

	c.mu.Lock()
	c.watcherType = w.WatcherType()
	c.mu.Unlock()
	return w, nil
}

// drain ingests the regular files present in the inbox, in name order.
// Subdirectories are included when the watch is recursive.
func (c *CategoryWatcher) drain(ctx context.Context) {
	n, err := c.ingestTree(ctx, c.inbox)
	if err != nil {
		c.logger.Warn("inbox listing failed, skipping drain",
			slog.String("inbox", c.inbox),
			slog.String("error", err.Error()))
		return
	}
	c.logger.Info("inbox drained", slog.Int("files", n))
}

// ingestTree ingests the regular files under dir in lexical order and
// returns how many it handed to ingest. Without Recursive only dir's own
// entries are visited.
func (c *CategoryWatcher) ingestTree(ctx context.Context, dir string) (int, error) {
	if !c.opts.Recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return 0, err
		}
		var n int
		for _, e := range entries {
			if ctx.Err() != nil {
				return n, nil
			}
			if !e.Type().IsRegular() {
				continue
			}
			c.ingest(ctx, filepath.Join(dir, e.Name()))
			n++
		}
		return n, nil
	}

	var n int
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil {
			if path == dir {
				return err
			}
			c.logger.Debug("walk entry skipped",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		c.ingest(ctx, path)
		n++
		return nil
	})
	return n, err
}

// watch consumes event batches until the watcher closes its channel.
func (c *CategoryWatcher) watch(ctx context.Context, w *watcher.HybridWatcher) {
	events := w.Events()
	errs := w.Errors()
	for events != nil {
		select {
		case batch, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvents(ctx, batch)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func (c *CategoryWatcher) handleEvents(ctx context.Context, batch []watcher.FileEvent) {
	for _, event := range batch {
		if event.IsDir {
			c.handleDirEvent(ctx, event)
			continue
		}
		switch event.Operation {
		case watcher.OpCreate, watcher.OpModify:
			c.ingest(ctx, filepath.Join(c.inbox, event.Path))
		default:
			c.logger.Debug("event ignored",
				slog.String("path", event.Path),
				slog.String("operation", event.Operation.String()))
		}
	}
}

// handleDirEvent picks up files that were already inside a directory
// moved into a recursive inbox; no per-file events exist for them.
func (c *CategoryWatcher) handleDirEvent(ctx context.Context, event watcher.FileEvent) {
	if !c.opts.Recursive || event.Operation != watcher.OpCreate {
		return
	}
	dir := filepath.Join(c.inbox, event.Path)
	n, err := c.ingestTree(ctx, dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("new subdirectory not scanned",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
		}
		return
	}
	if n > 0 {
		c.logger.Info("subdirectory drained", slog.String("dir", event.Path), slog.Int("files", n))
	}
}

// ingest runs store then enqueue for one inbox file.
func (c *CategoryWatcher) ingest(ctx context.Context, path string) {
	cat := c.desc.Category.String()

	pf, err := c.store.StoreOrDrop(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("file vanished before store", slog.String("path", path))
			return
		}
		c.metrics.ObserveStore(cat, metrics.OutcomeError)
		c.logger.LogAttrs(ctx, slog.LevelWarn, "file skipped", dwerrors.LogAttrs(err)...)
		return
	}
	if pf == nil {
		c.metrics.ObserveStore(cat, metrics.OutcomeDuplicate)
		c.logger.Info("duplicate dropped", slog.String("file", filepath.Base(path)))
		return
	}
	c.metrics.ObserveStore(cat, metrics.OutcomeStored)

	entry := queue.Entry{
		Path:       pf.Path,
		Key:        c.desc.Key(pf.Name),
		EnqueuedAt: time.Now(),
	}
	if err := c.queue.Enqueue(ctx, entry); err != nil {
		if ctx.Err() != nil {
			c.logger.Debug("enqueue abandoned at shutdown", slog.String("key", entry.Key))
			return
		}
		c.logger.LogAttrs(ctx, slog.LevelWarn, "stored file not queued",
			append([]slog.Attr{slog.String("key", entry.Key)}, dwerrors.LogAttrs(err)...)...)
		return
	}
	c.metrics.SetQueueDepth(cat, c.queue.Len())
}

// Ready is closed once Run has registered the inbox, successfully or not.
func (c *CategoryWatcher) Ready() <-chan struct{} {
	return c.ready
}

// RegistrationErr returns the registration failure, if any. It is only
// meaningful after Ready is closed.
func (c *CategoryWatcher) RegistrationErr() error {
	select {
	case <-c.ready:
		return c.regErr
	default:
		return nil
	}
}

// Category returns the descriptor this watcher serves.
func (c *CategoryWatcher) Category() category.Descriptor {
	return c.desc
}

// Inbox returns the watched inbox directory.
func (c *CategoryWatcher) Inbox() string {
	return c.inbox
}

// State returns the current lifecycle phase.
func (c *CategoryWatcher) State() State {
	return c.state.load()
}

// Queue exposes the queue so callers can interrupt a blocked worker.
func (c *CategoryWatcher) Queue() *queue.Queue {
	return c.queue
}

// Status returns a snapshot of the pipeline.
func (c *CategoryWatcher) Status() Status {
	c.mu.Lock()
	wt := c.watcherType
	c.mu.Unlock()

	return Status{
		Category:    c.desc.Category.String(),
		Inbox:       c.inbox,
		Processed:   c.store.Dir(),
		State:       c.State(),
		WatcherType: wt,
		QueueDepth:  c.queue.Len(),
		Store:       c.store.Stats(),
		Worker:      c.worker.Stats(),
		Recent:      c.worker.Recent(),
	}
}
