package supervisor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_TryLock(t *testing.T) {
	// Given: a fresh data dir that does not exist yet
	dir := filepath.Join(t.TempDir(), ".dropwatch")
	lock := NewFileLock(dir)

	// When: locking
	acquired, err := lock.TryLock()

	// Then: the lock is held and the file exists
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, lock.IsLocked())
	assert.Equal(t, filepath.Join(dir, LockName), lock.Path())
	assert.FileExists(t, lock.Path())

	require.NoError(t, lock.Unlock())
	assert.False(t, lock.IsLocked())
}

func TestFileLock_SecondLockFails(t *testing.T) {
	// Given: a held lock
	dir := t.TempDir()
	first := NewFileLock(dir)
	acquired, err := first.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)
	defer func() { _ = first.Unlock() }()

	// When: another handle tries the same file
	second := NewFileLock(dir)
	acquired, err = second.TryLock()

	// Then: it is refused without error
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.False(t, second.IsLocked())
}

func TestFileLock_UnlockIsIdempotent(t *testing.T) {
	lock := NewFileLock(t.TempDir())
	assert.NoError(t, lock.Unlock())

	_, err := lock.TryLock()
	require.NoError(t, err)
	assert.NoError(t, lock.Unlock())
	assert.NoError(t, lock.Unlock())
}
