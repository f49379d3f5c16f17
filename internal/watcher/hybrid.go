package watcher

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

	"github.com/fsnotify/fsnotify"
)

// HybridWatcher watches one root directory using fsnotify, or polling when
// fsnotify is unavailable or disabled.
type HybridWatcher struct {
	fsWatcher   *fsnotify.Watcher
	pollWatcher *PollingWatcher
	useFsnotify bool
	debouncer   *Debouncer
	events      chan []FileEvent
	errors      chan error
	stopCh      chan struct{}
	rootPath    string
	opts        Options
	logger      *slog.Logger

	mu       sync.RWMutex
	watched  map[string]struct{}
	running  bool
	stopped  bool
	stopOnce sync.Once
	doneOnce sync.Once
}

// NewHybridWatcher creates a new hybrid watcher with the given options.
// It uses fsnotify unless ForcePolling is set or fsnotify cannot start.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	h := &HybridWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
		logger:    slog.Default(),
		watched:   make(map[string]struct{}),
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			h.fsWatcher = fsw
			h.useFsnotify = true
			return h, nil
		}
		h.logger.Warn("fsnotify unavailable, falling back to polling",
			slog.String("error", err.Error()))
	}

	h.pollWatcher = NewPollingWatcher(opts.PollInterval, opts.Recursive)
	return h, nil
}

// Watch registers dir as the watched root. Events are reported relative to
// it. Watch must be called exactly once, before Run.
func (h *HybridWatcher) Watch(dir string) error {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", absPath)
	}

	h.mu.Lock()
	if h.rootPath != "" {
		h.mu.Unlock()
		return fmt.Errorf("already watching %s", h.rootPath)
	}
	h.rootPath = absPath
	h.mu.Unlock()

	if !h.useFsnotify {
		return h.pollWatcher.Init(absPath)
	}
	if h.opts.Recursive {
		return h.addRecursive(absPath)
	}
	return h.addDir(absPath)
}

// Run delivers events until ctx is cancelled, Stop is called, or no watched
// directory remains. It closes Events and Errors on return. Cancellation
// and Stop return nil.
func (h *HybridWatcher) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.rootPath == "" {
		h.mu.Unlock()
		return fmt.Errorf("watch: no directory registered")
	}
	if h.stopped || h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.forwardDebouncedEvents()
	}()

	var err error
	if h.useFsnotify {
		err = h.runFsnotify(ctx)
	} else {
		err = h.runPolling(ctx)
	}

	h.signalStop()
	wg.Wait()
	h.finish()

	if errors.Is(err, ErrNoWatchedDirs) {
		h.logger.Info("watched directory gone, stopping watcher",
			slog.String("root", h.rootPath))
	}
	return err
}

func (h *HybridWatcher) runFsnotify(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			if h.handleFsnotifyEvent(event) {
				return ErrNoWatchedDirs
			}
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) runPolling(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- h.pollWatcher.Run(pollCtx)
	}()

	for {
		select {
		case <-ctx.Done():
			return <-result
		case <-h.stopCh:
			cancel()
			return <-result
		case err := <-result:
			return err
		case event := <-h.pollWatcher.Events():
			h.debouncer.Add(event)
		case err := <-h.pollWatcher.Errors():
			h.emitError(err)
		}
	}
}

// handleFsnotifyEvent converts an fsnotify event and feeds the debouncer.
// It returns true when the last watched directory went away.
func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) bool {
	relPath, err := filepath.Rel(h.rootPath, event.Name)
	if err != nil {
		relPath = event.Name
	}

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && h.isWatched(event.Name) {
		if h.unwatch(event.Name) == 0 {
			return true
		}
	}
	if relPath == "." {
		return false
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir && h.opts.Recursive {
			if err := h.addRecursive(event.Name); err != nil {
				h.emitError(fmt.Errorf("watch new directory %s: %w", event.Name, err))
			}
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod
		return false
	}

	h.debouncer.Add(FileEvent{
		Path:      relPath,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
	return false
}

func (h *HybridWatcher) addDir(path string) error {
	if err := h.fsWatcher.Add(path); err != nil {
		return err
	}
	h.mu.Lock()
	h.watched[path] = struct{}{}
	h.mu.Unlock()
	return nil
}

// addRecursive adds root and every directory under it.
func (h *HybridWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // Skip directories we can't access
		}
		if !d.IsDir() {
			return nil
		}
		return h.addDir(path)
	})
}

func (h *HybridWatcher) isWatched(path string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.watched[path]
	return ok
}

// unwatch drops path and returns how many directories remain.
func (h *HybridWatcher) unwatch(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.watched, path)
	// fsnotify already dropped the kernel watch for a removed directory.
	_ = h.fsWatcher.Remove(path)
	h.logger.Debug("watched directory invalidated", slog.String("dir", path))
	return len(h.watched)
}

// WatchedDirs returns the number of directories currently subscribed.
func (h *HybridWatcher) WatchedDirs() int {
	if !h.useFsnotify {
		h.mu.RLock()
		defer h.mu.RUnlock()
		if h.rootPath == "" || h.stopped {
			return 0
		}
		return 1
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watched)
}

// forwardDebouncedEvents moves debounced batches to the output channel,
// waiting for the consumer rather than dropping.
func (h *HybridWatcher) forwardDebouncedEvents() {
	for {
		select {
		case <-h.stopCh:
			return
		case events, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if len(events) == 0 {
				continue
			}
			select {
			case h.events <- events:
			case <-h.stopCh:
				return
			}
		}
	}
}

// emitError sends an error to the error channel without blocking.
func (h *HybridWatcher) emitError(err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		h.logger.Warn("watch event queue overflowed, some events were lost",
			slog.String("root", h.rootPath))
	}
	select {
	case h.errors <- err:
	case <-h.stopCh:
	default:
	}
}

func (h *HybridWatcher) signalStop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		h.mu.Unlock()
		close(h.stopCh)
	})
}

// finish releases resources and closes the output channels. Only called
// once no goroutine can send on them.
func (h *HybridWatcher) finish() {
	h.doneOnce.Do(func() {
		h.debouncer.Stop()
		if h.fsWatcher != nil {
			_ = h.fsWatcher.Close()
		}
		if h.pollWatcher != nil {
			_ = h.pollWatcher.Stop()
		}
		close(h.events)
		close(h.errors)
	})
}

// Stop stops the watcher. If Run is active it returns after Run has begun
// shutting down; otherwise resources are released immediately. Safe to
// call multiple times.
func (h *HybridWatcher) Stop() error {
	h.signalStop()

	// Run cannot start once stopped is set.
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		h.finish()
	}
	return nil
}

// Events returns the channel of batched file events.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors returns the channel of non-fatal errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// IsHealthy returns true if the watcher has not stopped.
func (h *HybridWatcher) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.stopped
}

// WatcherType returns the type of watcher being used ("fsnotify" or "polling").
func (h *HybridWatcher) WatcherType() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// RootPath returns the root path being watched.
func (h *HybridWatcher) RootPath() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rootPath
}
