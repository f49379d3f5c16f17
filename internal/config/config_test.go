package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config at an empty temp dir so the developer's
// own settings never leak into tests.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	return xdg
}

func writeYAML(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration
	cfg := NewConfig()

	// Then: defaults match the documented behavior
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "200ms", cfg.Watch.Debounce)
	assert.Equal(t, "2s", cfg.Watch.PollInterval)
	assert.Equal(t, 1000, cfg.Watch.EventBuffer)
	assert.False(t, cfg.Watch.ForcePolling)
	assert.Equal(t, "2s", cfg.Worker.Cooldown)
	assert.Equal(t, 0, cfg.Worker.QueueCapacity)
	assert.Equal(t, "block", cfg.Worker.QueuePolicy)
	assert.Equal(t, "sqlite", cfg.Index.Backend)
	assert.Equal(t, "failed", cfg.Index.FailureBucket)
	assert.True(t, cfg.Index.Breaker.Enabled)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.True(t, cfg.Server.StatusSocket)
	assert.Empty(t, cfg.Server.MetricsAddr)
	assert.Equal(t, 10, cfg.Logging.MaxSizeMB)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Second, cfg.Cooldown())
	assert.Equal(t, 200*time.Millisecond, cfg.DebounceWindow())
	assert.Equal(t, 30*time.Second, cfg.BreakerOpenTimeout())
}

func TestLoad_NoFiles_ResolvesPathsUnderRoot(t *testing.T) {
	// Given: an empty root and no user config
	isolate(t)
	root := t.TempDir()

	// When: loading
	cfg, err := Load(root)

	// Then: processed root and data dir default under root
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "processed"), cfg.Paths.ProcessedRoot)
	assert.Equal(t, filepath.Join(root, ".dropwatch"), cfg.Paths.DataDir)
}

func TestLoad_RootConfigOverridesUserConfig(t *testing.T) {
	// Given: user config and root config setting overlapping keys
	xdg := isolate(t)
	root := t.TempDir()
	writeYAML(t, filepath.Join(xdg, "dropwatch", "config.yaml"), `
worker:
  cooldown: 5s
  queue_capacity: 10
index:
  backend: bleve
`)
	writeYAML(t, filepath.Join(root, RootConfigName), `
worker:
  cooldown: 0s
paths:
  processed_root: out
`)

	// When: loading
	cfg, err := Load(root)

	// Then: root wins where both set a key, user config fills the rest
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Cooldown())
	assert.Equal(t, 10, cfg.Worker.QueueCapacity)
	assert.Equal(t, "bleve", cfg.Index.Backend)
	assert.Equal(t, filepath.Join(root, "out"), cfg.Paths.ProcessedRoot)
	// Untouched defaults survive partial files.
	assert.Equal(t, "block", cfg.Worker.QueuePolicy)
	assert.True(t, cfg.Server.StatusSocket)
}

func TestLoad_YmlFallback(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeYAML(t, filepath.Join(root, RootConfigAltName), "index:\n  backend: badger\n")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Index.Backend)
}

func TestLoad_ExplicitFalseOverridesDefault(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeYAML(t, filepath.Join(root, RootConfigName), "server:\n  status_socket: false\n")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.False(t, cfg.Server.StatusSocket)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeYAML(t, filepath.Join(root, RootConfigName), "worker:\n  cooldwn: 1s\n")

	_, err := Load(root)
	assert.ErrorContains(t, err, "cooldwn")
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	// Given: a root config and DROPWATCH_* variables
	isolate(t)
	root := t.TempDir()
	writeYAML(t, filepath.Join(root, RootConfigName), "index:\n  backend: bleve\n")
	t.Setenv("DROPWATCH_INDEX_BACKEND", "badger")
	t.Setenv("DROPWATCH_QUEUE_CAPACITY", "7")
	t.Setenv("DROPWATCH_FORCE_POLLING", "true")
	t.Setenv("DROPWATCH_DATA_DIR", "/var/lib/dropwatch")

	// When: loading
	cfg, err := Load(root)

	// Then: environment wins
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Index.Backend)
	assert.Equal(t, 7, cfg.Worker.QueueCapacity)
	assert.True(t, cfg.Watch.ForcePolling)
	assert.Equal(t, "/var/lib/dropwatch", cfg.Paths.DataDir)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	// Given: a .env file and one variable already set in the environment
	isolate(t)
	root := t.TempDir()
	writeYAML(t, filepath.Join(root, EnvFileName), "DROPWATCH_LOG_LEVEL=debug\nDROPWATCH_COOLDOWN=750ms\n")
	t.Setenv("DROPWATCH_LOG_LEVEL", "warn")
	// Registered so t.Setenv restores it; the .env file sets it below.
	t.Setenv("DROPWATCH_COOLDOWN", "")
	require.NoError(t, os.Unsetenv("DROPWATCH_COOLDOWN"))

	// When: loading
	cfg, err := Load(root)

	// Then: .env fills only what was unset
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
	assert.Equal(t, 750*time.Millisecond, cfg.Cooldown())
}

func TestLoad_BadEnvValue(t *testing.T) {
	isolate(t)
	t.Setenv("DROPWATCH_POOL_SIZE", "many")

	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "DROPWATCH_POOL_SIZE")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad duration", func(c *Config) { c.Worker.Cooldown = "soon" }, "worker.cooldown"},
		{"negative duration", func(c *Config) { c.Watch.Debounce = "-1s" }, "watch.debounce"},
		{"negative capacity", func(c *Config) { c.Worker.QueueCapacity = -1 }, "queue_capacity"},
		{"bad policy", func(c *Config) { c.Worker.QueuePolicy = "spill" }, "queue_policy"},
		{"bad backend", func(c *Config) { c.Index.Backend = "postgres" }, "index.backend"},
		{"empty failure bucket", func(c *Config) { c.Index.FailureBucket = "" }, "failure_bucket"},
		{"bad ratio", func(c *Config) { c.Index.Breaker.FailureRatio = 1.5 }, "failure_ratio"},
		{"bad level", func(c *Config) { c.Server.LogLevel = "loud" }, "log_level"},
		{"negative log size", func(c *Config) { c.Logging.MaxFiles = -1 }, "logging"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_Resolve_KeepsAbsolutePaths(t *testing.T) {
	cfg := NewConfig()
	cfg.Paths.ProcessedRoot = "/archive/processed"

	cfg.Resolve("/srv/drop")

	assert.Equal(t, "/archive/processed", cfg.Paths.ProcessedRoot)
	assert.Equal(t, filepath.Join("/srv/drop", ".dropwatch"), cfg.Paths.DataDir)
}

func TestConfig_WriteYAML_RoundTrips(t *testing.T) {
	// Given: a modified config written to a nested path
	isolate(t)
	root := t.TempDir()
	cfg := NewConfig()
	cfg.Worker.QueueCapacity = 42
	cfg.Index.Backend = "bleve"
	require.NoError(t, cfg.WriteYAML(filepath.Join(root, RootConfigName)))

	// When: loading the root
	loaded, err := Load(root)

	// Then: the written values come back
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Worker.QueueCapacity)
	assert.Equal(t, "bleve", loaded.Index.Backend)
}

func TestRootConfigPath_PrefersYaml(t *testing.T) {
	root := t.TempDir()
	assert.Equal(t, filepath.Join(root, RootConfigName), RootConfigPath(root))

	writeYAML(t, filepath.Join(root, RootConfigAltName), "version: 1\n")
	assert.Equal(t, filepath.Join(root, RootConfigAltName), RootConfigPath(root))

	writeYAML(t, filepath.Join(root, RootConfigName), "version: 1\n")
	assert.Equal(t, filepath.Join(root, RootConfigName), RootConfigPath(root))
}

func TestLoadFile_OverlaysDefaultsOnly(t *testing.T) {
	// Given: a file that sets one key, and an env override
	path := filepath.Join(t.TempDir(), RootConfigName)
	writeYAML(t, path, "worker:\n  cooldown: 5s\n")
	t.Setenv("DROPWATCH_COOLDOWN", "9s")

	// When: loading just that file
	cfg, err := LoadFile(path)

	// Then: the file value wins over defaults and env is ignored
	require.NoError(t, err)
	assert.Equal(t, "5s", cfg.Worker.Cooldown)
	assert.Equal(t, "sqlite", cfg.Index.Backend)
	assert.Empty(t, cfg.Paths.DataDir)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
