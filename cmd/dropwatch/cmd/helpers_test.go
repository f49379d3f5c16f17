package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolate keeps the developer's own config and environment out of a test
// and makes the daemon fast enough to exercise in-process.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DROPWATCH_FORCE_POLLING", "true")
	t.Setenv("DROPWATCH_POLL_INTERVAL", "25ms")
	t.Setenv("DROPWATCH_DEBOUNCE", "20ms")
	t.Setenv("DROPWATCH_COOLDOWN", "0s")
	t.Setenv("DROPWATCH_STATUS_SOCKET", "false")
	t.Setenv("DROPWATCH_LOG_STDERR", "false")
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	_ = stopLogging(cmd, nil)
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
