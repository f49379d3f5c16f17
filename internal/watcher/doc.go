// Package watcher reports files created in an inbox directory.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: polling for environments where fsnotify is unavailable
//     (network mounts, some container volumes) or when forced by config
//
// Events are debounced so that a file still being written is reported once,
// as a CREATE, after the writer has been quiet for the debounce window.
//
// Registration and the event loop are separate so callers can observe a
// registration failure before doing anything else:
//
//	w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	if err := w.Watch("/data/txt"); err != nil {
//	    return err // the directory cannot be watched
//	}
//	go w.Run(ctx)
//
//	for batch := range w.Events() {
//	    for _, ev := range batch {
//	        if ev.Operation == watcher.OpCreate && !ev.IsDir {
//	            // handle filepath.Join(w.RootPath(), ev.Path)
//	        }
//	    }
//	}
//
// Events closes when Run returns: on cancellation, on Stop, or when every
// watched directory has been removed.
package watcher
