// Package supervisor owns a dropwatch process: the single-instance lock,
// the PID file, the index backend, one CategoryWatcher per category on a
// fixed-size pool, and the status and metrics endpoints.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/dropwatch/internal/category"
	"github.com/Aman-CERP/dropwatch/internal/config"
	"github.com/Aman-CERP/dropwatch/internal/daemon"
	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
	"github.com/Aman-CERP/dropwatch/internal/extract"
	"github.com/Aman-CERP/dropwatch/internal/index"
	"github.com/Aman-CERP/dropwatch/internal/ingest"
	"github.com/Aman-CERP/dropwatch/internal/metrics"
	"github.com/Aman-CERP/dropwatch/internal/queue"
	"github.com/Aman-CERP/dropwatch/internal/watcher"
	"github.com/Aman-CERP/dropwatch/internal/worker"
)

// CategoryReport is the startup outcome of one category.
type CategoryReport struct {
	Category  string `json:"category"`
	Inbox     string `json:"inbox"`
	Processed string `json:"processed"`
	Err       error  `json:"-"`
}

// StartupReport has one entry per category, in category order.
type StartupReport struct {
	Categories []CategoryReport
}

// Started returns the number of categories that are watching.
func (r *StartupReport) Started() int {
	n := 0
	for _, c := range r.Categories {
		if c.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the categories that could not start.
func (r *StartupReport) Failed() []CategoryReport {
	var out []CategoryReport
	for _, c := range r.Categories {
		if c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

// Supervisor runs the category pipelines for one root.
type Supervisor struct {
	root    string
	cfg     *config.Config
	logger  *slog.Logger
	backend index.Backend
	breaker *index.Breaker
	extract *extract.Registry
	metrics *metrics.Metrics

	lock     *FileLock
	pidFile  *daemon.PIDFile
	pool     *ants.Pool
	watchers []*ingest.CategoryWatcher

	cancel   context.CancelFunc
	running  sync.WaitGroup
	aux      *errgroup.Group
	auxStop  context.CancelFunc
	closeErr error
	once     sync.Once
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBackend uses b instead of opening the configured backend. The
// supervisor still closes it.
func WithBackend(b index.Backend) Option {
	return func(s *Supervisor) {
		s.backend = b
	}
}

// WithExtractors replaces the default extractor registry.
func WithExtractors(r *extract.Registry) Option {
	return func(s *Supervisor) {
		s.extract = r
	}
}

// New creates a supervisor for root. cfg must already be resolved against
// root; nothing is touched until Start.
func New(root string, cfg *config.Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		root:    root,
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extract == nil {
		s.extract = extract.NewRegistry(nil)
	}
	return s
}

// Start acquires the lock, opens the index and launches every category.
// One category failing to register does not stop the others; Start only
// fails when none can start or a process-level resource is unavailable.
// On error everything acquired so far is released.
func (s *Supervisor) Start(ctx context.Context) (report *StartupReport, err error) {
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	info, err := os.Stat(s.root)
	if err != nil {
		return nil, dwerrors.RegistrationError(s.root, err)
	}
	if !info.IsDir() {
		return nil, dwerrors.RegistrationError(s.root, fmt.Errorf("not a directory"))
	}

	dataDir := s.cfg.Paths.DataDir
	s.lock = NewFileLock(dataDir)
	acquired, err := s.lock.TryLock()
	if err != nil {
		return nil, dwerrors.InternalError("cannot create lock", err)
	}
	if !acquired {
		return nil, dwerrors.LockError(s.lock.Path())
	}

	s.pidFile = daemon.NewPIDFile(filepath.Join(dataDir, daemon.PIDName))
	if err := s.pidFile.Write(); err != nil {
		return nil, dwerrors.InternalError("cannot write pid file", err)
	}

	if err := s.openBackend(); err != nil {
		return nil, err
	}

	s.logger.Info("dropwatch starting",
		slog.String("root", s.root),
		slog.String("processed_root", s.cfg.Paths.ProcessedRoot),
		slog.String("data_dir", dataDir),
		slog.String("backend", s.backend.Name()))

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	report = s.launch(runCtx)
	if report.Started() == 0 {
		cancel()
		s.running.Wait()
		return report, dwerrors.New(dwerrors.ErrCodeRegistration, "no category could start", errors.Join(errs(report)...))
	}

	if err := s.startAux(runCtx); err != nil {
		cancel()
		s.running.Wait()
		return report, err
	}
	return report, nil
}

func errs(r *StartupReport) []error {
	var out []error
	for _, c := range r.Failed() {
		out = append(out, fmt.Errorf("%s: %w", c.Category, c.Err))
	}
	return out
}

func (s *Supervisor) openBackend() error {
	if s.backend == nil {
		b, err := index.Open(s.cfg.Paths.DataDir, s.cfg.Index.Backend)
		if err != nil {
			return dwerrors.New(dwerrors.ErrCodeBackendOpen, "cannot open index backend", err).
				WithDetail("backend", s.cfg.Index.Backend).
				WithDetail("path", index.Path(s.cfg.Paths.DataDir, s.cfg.Index.Backend))
		}
		s.backend = b
	}

	if s.cfg.Index.Breaker.Enabled {
		bc := index.DefaultBreakerConfig()
		if s.cfg.Index.Breaker.MinRequests > 0 {
			bc.MinRequests = s.cfg.Index.Breaker.MinRequests
		}
		if s.cfg.Index.Breaker.FailureRatio > 0 {
			bc.FailureRatio = s.cfg.Index.Breaker.FailureRatio
		}
		if d := s.cfg.BreakerOpenTimeout(); d > 0 {
			bc.OpenTimeout = d
		}
		s.breaker = index.NewBreaker(s.backend, bc, s.logger)
	}
	return nil
}

// client is what workers index through.
func (s *Supervisor) client() index.Client {
	if s.breaker != nil {
		return s.breaker
	}
	return s.backend
}

// launch submits one watcher per category and waits for each to finish
// registering.
func (s *Supervisor) launch(ctx context.Context) *StartupReport {
	descs := category.All()

	size := s.cfg.Worker.PoolSize
	if size <= 0 {
		size = len(descs)
	}

	report := &StartupReport{}
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p any) {
			s.logger.Error("category watcher panicked", slog.Any("panic", p))
		}))
	if err != nil {
		for _, d := range descs {
			report.Categories = append(report.Categories, CategoryReport{Category: d.Category.String(), Err: err})
		}
		return report
	}
	s.pool = pool

	policy, _ := queue.ParsePolicy(s.cfg.Worker.QueuePolicy)
	watchOpts := watcher.Options{
		DebounceWindow:  s.cfg.DebounceWindow(),
		PollInterval:    s.cfg.PollInterval(),
		EventBufferSize: s.cfg.Watch.EventBuffer,
		ForcePolling:    s.cfg.Watch.ForcePolling,
		Recursive:       s.cfg.Watch.Recursive,
	}
	workerOpts := []worker.Option{
		worker.WithCooldown(s.cfg.Cooldown()),
		worker.WithFailureBucket(s.cfg.Index.FailureBucket),
	}
	if s.cfg.Worker.RecentSize > 0 {
		workerOpts = append(workerOpts, worker.WithRecentSize(s.cfg.Worker.RecentSize))
	}

	var started []*ingest.CategoryWatcher
	for _, d := range descs {
		entry := CategoryReport{
			Category:  d.Category.String(),
			Inbox:     d.InboxPath(s.root),
			Processed: d.ProcessedPath(s.cfg.Paths.ProcessedRoot),
		}

		ex, err := s.extract.For(d.Category)
		if err != nil {
			entry.Err = err
			report.Categories = append(report.Categories, entry)
			continue
		}

		cw := ingest.New(ingest.Config{
			Descriptor:    d,
			Root:          s.root,
			ProcessedRoot: s.cfg.Paths.ProcessedRoot,
			Watch:         watchOpts,
			QueueCapacity: s.cfg.Worker.QueueCapacity,
			QueuePolicy:   policy,
			Worker:        workerOpts,
		}, ex, s.client(),
			ingest.WithLogger(s.logger),
			ingest.WithMetrics(s.metrics))

		s.running.Add(1)
		err = s.pool.Submit(func() {
			defer s.running.Done()
			if err := cw.Run(ctx); err != nil {
				s.logger.LogAttrs(ctx, slog.LevelError, "category watcher exited",
					append(dwerrors.LogAttrs(err), slog.String("category", d.Category.String()))...)
			}
		})
		if err != nil {
			s.running.Done()
			entry.Err = fmt.Errorf("no watcher slot (pool size %d): %w", size, err)
			report.Categories = append(report.Categories, entry)
			continue
		}

		s.watchers = append(s.watchers, cw)
		started = append(started, cw)
		report.Categories = append(report.Categories, entry)
	}

	// Fill in registration outcomes in category order.
	for _, cw := range started {
		select {
		case <-cw.Ready():
		case <-ctx.Done():
		}
		for i := range report.Categories {
			if report.Categories[i].Category != cw.Category().Category.String() {
				continue
			}
			if err := cw.RegistrationErr(); err != nil {
				report.Categories[i].Err = err
			} else if ctx.Err() != nil {
				report.Categories[i].Err = ctx.Err()
			}
		}
	}

	for _, c := range report.Categories {
		if c.Err != nil {
			s.logger.LogAttrs(ctx, slog.LevelError, "category failed to start",
				append(dwerrors.LogAttrs(c.Err), slog.String("category", c.Category), slog.String("inbox", c.Inbox))...)
			continue
		}
		s.logger.Info("category ready",
			slog.String("category", c.Category),
			slog.String("inbox", c.Inbox),
			slog.String("processed", c.Processed))
	}
	return report
}

// startAux starts the status socket and metrics endpoint. Listen errors
// are returned here; serve errors surface from Wait.
func (s *Supervisor) startAux(ctx context.Context) error {
	auxCtx, stop := context.WithCancel(ctx)
	s.auxStop = stop
	g, gctx := errgroup.WithContext(auxCtx)
	s.aux = g

	if s.cfg.Server.StatusSocket {
		dcfg := daemon.DefaultConfig(s.cfg.Paths.DataDir)
		srv := daemon.NewServer(dcfg.SocketPath, s, s.logger)
		g.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
	}

	if addr := s.cfg.Server.MetricsAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			stop()
			return dwerrors.InternalError("cannot listen for metrics", err).WithDetail("addr", addr)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		hs := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
		s.logger.Info("metrics endpoint listening", slog.String("addr", ln.Addr().String()))
	}
	return nil
}

// Wait blocks until every category watcher has exited, then stops the
// status and metrics endpoints.
func (s *Supervisor) Wait() error {
	s.running.Wait()
	if s.auxStop == nil {
		return nil
	}
	s.auxStop()
	return s.aux.Wait()
}

// Stop cancels every watcher. Wait returns once they have exited.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Close releases the pool, closes the index client, removes the PID file
// and releases the lock. It is safe to call more than once.
func (s *Supervisor) Close() error {
	s.once.Do(func() {
		s.Stop()
		s.running.Wait()

		var errs []error
		if s.pool != nil {
			s.pool.Release()
		}
		if s.backend != nil {
			if err := s.backend.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close index: %w", err))
			}
		}
		if s.pidFile != nil {
			if err := s.pidFile.Remove(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.lock != nil {
			if err := s.lock.Unlock(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Status implements daemon.StatusProvider.
func (s *Supervisor) Status(_ context.Context) daemon.StatusResult {
	res := daemon.StatusResult{
		Root:       s.root,
		Categories: make([]ingest.Status, 0, len(s.watchers)),
	}
	if s.backend != nil {
		res.Backend = s.backend.Name()
	}
	if s.breaker != nil {
		res.BreakerState = s.breaker.State()
	}
	for _, cw := range s.watchers {
		res.Categories = append(res.Categories, cw.Status())
	}
	return res
}

// Metrics returns the supervisor's metrics.
func (s *Supervisor) Metrics() *metrics.Metrics {
	return s.metrics
}

// Backend returns the open index backend, or nil before Start.
func (s *Supervisor) Backend() index.Backend {
	return s.backend
}

// Run starts a supervisor, waits for ctx to end or every watcher to stop,
// and closes it.
func Run(ctx context.Context, root string, cfg *config.Config, opts ...Option) error {
	s := New(root, cfg, opts...)
	if _, err := s.Start(ctx); err != nil {
		return err
	}
	waitErr := s.Wait()
	closeErr := s.Close()
	s.logger.Info("dropwatch stopped")
	return errors.Join(waitErr, closeErr)
}
