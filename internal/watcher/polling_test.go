package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startPolling initialises a polling watcher on dir and runs it until the
// test ends. The returned channel yields Run's result.
func startPolling(t *testing.T, dir string, recursive bool) (*PollingWatcher, <-chan error) {
	t.Helper()

	w := NewPollingWatcher(30*time.Millisecond, recursive)
	require.NoError(t, w.Init(dir))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Stop()
	})
	return w, done
}

func waitPollEvent(t *testing.T, w *PollingWatcher) FileEvent {
	t.Helper()
	select {
	case event := <-w.Events():
		return event
	case err := <-w.Errors():
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return FileEvent{}
}

func TestPollingWatcher_DetectsFileCreation(t *testing.T) {
	// Given: a watched empty directory
	tempDir := t.TempDir()
	w, _ := startPolling(t, tempDir, false)

	// When: a new file is created
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "new.txt"), []byte("hello"), 0o644))

	// Then: a CREATE event with a root-relative path is reported
	event := waitPollEvent(t, w)
	assert.Equal(t, OpCreate, event.Operation)
	assert.Equal(t, "new.txt", event.Path)
	assert.False(t, event.IsDir)
}

func TestPollingWatcher_BaselineNotReported(t *testing.T) {
	// Given: a file present before Init
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "old.txt"), []byte("x"), 0o644))
	w, _ := startPolling(t, tempDir, false)

	// When: a second file arrives
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "fresh.txt"), []byte("y"), 0o644))

	// Then: only the new file is reported
	event := waitPollEvent(t, w)
	assert.Equal(t, "fresh.txt", event.Path)
}

func TestPollingWatcher_DetectsFileModification(t *testing.T) {
	// Given: a watched directory with an existing file
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "existing.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("a"), 0o644))
	w, _ := startPolling(t, tempDir, false)

	// When: the file grows
	require.NoError(t, os.WriteFile(testFile, []byte("a longer body"), 0o644))

	// Then: a MODIFY event is reported
	event := waitPollEvent(t, w)
	assert.Equal(t, OpModify, event.Operation)
	assert.Equal(t, "existing.txt", event.Path)
}

func TestPollingWatcher_DetectsFileDeletion(t *testing.T) {
	// Given: a watched directory with an existing file
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "gone.txt")
	require.NoError(t, os.WriteFile(testFile, []byte("a"), 0o644))
	w, _ := startPolling(t, tempDir, false)

	// When: the file is removed
	require.NoError(t, os.Remove(testFile))

	// Then: a DELETE event is reported
	event := waitPollEvent(t, w)
	assert.Equal(t, OpDelete, event.Operation)
	assert.Equal(t, "gone.txt", event.Path)
}

func TestPollingWatcher_NonRecursiveSkipsSubdirectories(t *testing.T) {
	// Given: a non-recursive watcher with an existing subdirectory
	tempDir := t.TempDir()
	subDir := filepath.Join(tempDir, "sub")
	require.NoError(t, os.Mkdir(subDir, 0o755))
	w, _ := startPolling(t, tempDir, false)

	// When: a file appears inside the subdirectory, then one at the top
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "nested.txt"), []byte("n"), 0o644))
	time.Sleep(80 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "top.txt"), []byte("t"), 0o644))

	// Then: the nested file is never seen
	event := waitPollEvent(t, w)
	assert.Equal(t, "top.txt", event.Path)
}

func TestPollingWatcher_RecursiveSeesNestedFiles(t *testing.T) {
	// Given: a recursive watcher with an existing subdirectory
	tempDir := t.TempDir()
	subDir := filepath.Join(tempDir, "sub")
	require.NoError(t, os.Mkdir(subDir, 0o755))
	w, _ := startPolling(t, tempDir, true)

	// When: a file appears inside the subdirectory
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "nested.txt"), []byte("n"), 0o644))

	// Then: it is reported with its relative path
	event := waitPollEvent(t, w)
	assert.Equal(t, OpCreate, event.Operation)
	assert.Equal(t, filepath.Join("sub", "nested.txt"), event.Path)
}

func TestPollingWatcher_RootRemovedEndsRun(t *testing.T) {
	// Given: a watcher on a directory that will disappear
	parent := t.TempDir()
	root := filepath.Join(parent, "inbox")
	require.NoError(t, os.Mkdir(root, 0o755))
	_, done := startPollingNoCleanup(t, root)

	// When: the directory is removed
	require.NoError(t, os.RemoveAll(root))

	// Then: Run reports that nothing is left to watch
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNoWatchedDirs)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after root removal")
	}
}

func startPollingNoCleanup(t *testing.T, dir string) (*PollingWatcher, <-chan error) {
	t.Helper()
	w := NewPollingWatcher(30*time.Millisecond, false)
	require.NoError(t, w.Init(dir))
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	t.Cleanup(func() { _ = w.Stop() })
	return w, done
}

func TestPollingWatcher_InitRejectsBadPaths(t *testing.T) {
	tempDir := t.TempDir()
	file := filepath.Join(tempDir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	w := NewPollingWatcher(time.Second, false)

	// Missing path
	err := w.Init(filepath.Join(tempDir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	// Regular file
	err = w.Init(file)
	assert.ErrorContains(t, err, "not a directory")
}

func TestPollingWatcher_StopEndsRun(t *testing.T) {
	// Given: a running watcher
	tempDir := t.TempDir()
	w := NewPollingWatcher(30*time.Millisecond, false)
	require.NoError(t, w.Init(tempDir))
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	// When: Stop is called twice
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	// Then: Run returns nil and the events channel is closed
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	_, ok := <-w.Events()
	assert.False(t, ok)
}

func TestPollingWatcher_ContextCancellation(t *testing.T) {
	// Given: a running watcher
	tempDir := t.TempDir()
	w := NewPollingWatcher(30*time.Millisecond, false)
	require.NoError(t, w.Init(tempDir))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// When: the context is cancelled
	cancel()

	// Then: Run returns nil
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.NoError(t, w.Stop())
}
