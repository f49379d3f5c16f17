package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackup_NoConfig(t *testing.T) {
	backupPath, err := Backup(filepath.Join(t.TempDir(), RootConfigName))
	require.NoError(t, err)
	assert.Empty(t, backupPath)
}

func TestBackup_CopiesContent(t *testing.T) {
	// Given: an existing config
	path := filepath.Join(t.TempDir(), RootConfigName)
	content := "version: 1\nindex:\n  backend: bleve\n"
	writeYAML(t, path, content)

	// When: backing it up
	backupPath, err := Backup(path)

	// Then: the backup holds the same bytes
	require.NoError(t, err)
	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestBackup_KeepsNewest(t *testing.T) {
	// Given: a config backed up more times than MaxBackups
	path := filepath.Join(t.TempDir(), RootConfigName)
	for i := 0; i < MaxBackups+2; i++ {
		writeYAML(t, path, fmt.Sprintf("version: %d\n", i+1))
		_, err := Backup(path)
		require.NoError(t, err)
	}

	// When: listing backups
	backups, err := ListBackups(path)

	// Then: only MaxBackups remain, newest first
	require.NoError(t, err)
	require.Len(t, backups, MaxBackups)
	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("version: %d\n", MaxBackups+2), string(data))
}

func TestRestore(t *testing.T) {
	// Given: a backup of an older config and a newer current config
	path := filepath.Join(t.TempDir(), RootConfigName)
	writeYAML(t, path, "version: 1\n")
	backupPath, err := Backup(path)
	require.NoError(t, err)
	writeYAML(t, path, "version: 2\n")

	// When: restoring
	require.NoError(t, Restore(path, backupPath))

	// Then: the old content is back and the newer one was backed up
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))

	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestRestore_MissingBackup(t *testing.T) {
	err := Restore(filepath.Join(t.TempDir(), RootConfigName), "/nonexistent/backup")
	assert.ErrorContains(t, err, "backup file not found")
}
