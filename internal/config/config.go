// Package config loads dropwatch settings from layered sources: built-in
// defaults, the user config, the root config, a .env file in the root, and
// DROPWATCH_* environment variables, in increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// File names looked up in the watched root.
const (
	RootConfigName    = ".dropwatch.yaml"
	RootConfigAltName = ".dropwatch.yml"
	EnvFileName       = ".env"
	EnvPrefix         = "DROPWATCH_"
)

// Config represents the complete dropwatch configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Paths   PathsConfig   `yaml:"paths" json:"paths"`
	Watch   WatchConfig   `yaml:"watch" json:"watch"`
	Worker  WorkerConfig  `yaml:"worker" json:"worker"`
	Index   IndexConfig   `yaml:"index" json:"index"`
	Server  ServerConfig  `yaml:"server" json:"server"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// PathsConfig locates output directories. Relative paths are resolved
// against the watched root.
type PathsConfig struct {
	// ProcessedRoot holds one processed directory per category.
	// Default: <root>/processed
	ProcessedRoot string `yaml:"processed_root" json:"processed_root"`

	// DataDir holds the index, lock, PID file and status socket.
	// Default: <root>/.dropwatch
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// WatchConfig configures inbox watching.
type WatchConfig struct {
	// Debounce is the quiet period before a new file is reported.
	Debounce string `yaml:"debounce" json:"debounce"`

	// PollInterval applies when polling replaces fsnotify.
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`

	// ForcePolling disables fsnotify, for network mounts.
	ForcePolling bool `yaml:"force_polling" json:"force_polling"`

	// Recursive also ingests files dropped into inbox subdirectories.
	Recursive bool `yaml:"recursive" json:"recursive"`

	// EventBuffer is the number of event batches buffered per watcher.
	EventBuffer int `yaml:"event_buffer" json:"event_buffer"`
}

// WorkerConfig configures the per-category queue and worker.
type WorkerConfig struct {
	// Cooldown is the minimum spacing between two documents of one
	// category. "0s" disables it.
	Cooldown string `yaml:"cooldown" json:"cooldown"`

	// QueueCapacity bounds each queue; 0 means unbounded.
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`

	// QueuePolicy is block, drop_oldest or reject.
	QueuePolicy string `yaml:"queue_policy" json:"queue_policy"`

	// PoolSize is the number of watcher slots; 0 means one per category.
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// RecentSize is how many outcomes each worker remembers for status.
	RecentSize int `yaml:"recent_size" json:"recent_size"`
}

// IndexConfig selects and tunes the indexing backend.
type IndexConfig struct {
	// Backend is sqlite, bleve or badger.
	Backend string `yaml:"backend" json:"backend"`

	// FailureBucket receives failure markers. Default: failed
	FailureBucket string `yaml:"failure_bucket" json:"failure_bucket"`

	Breaker BreakerConfig `yaml:"breaker" json:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the backend.
type BreakerConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	MinRequests  uint32  `yaml:"min_requests" json:"min_requests"`
	FailureRatio float64 `yaml:"failure_ratio" json:"failure_ratio"`
	OpenTimeout  string  `yaml:"open_timeout" json:"open_timeout"`
}

// ServerConfig configures process-level endpoints.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`

	// StatusSocket enables the JSON-RPC status socket in the data dir.
	StatusSocket bool `yaml:"status_socket" json:"status_socket"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9464".
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// LoggingConfig configures the rotating log file.
type LoggingConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles   int  `yaml:"max_files" json:"max_files"`
	MaxAgeDays int  `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool `yaml:"compress" json:"compress"`

	// Stderr mirrors log records to stderr.
	Stderr bool `yaml:"stderr" json:"stderr"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Watch: WatchConfig{
			Debounce:     "200ms",
			PollInterval: "2s",
			EventBuffer:  1000,
		},
		Worker: WorkerConfig{
			Cooldown:    "2s",
			QueuePolicy: "block",
			RecentSize:  32,
		},
		Index: IndexConfig{
			Backend:       "sqlite",
			FailureBucket: "failed",
			Breaker: BreakerConfig{
				Enabled:      true,
				MinRequests:  5,
				FailureRatio: 0.6,
				OpenTimeout:  "30s",
			},
		},
		Server: ServerConfig{
			LogLevel:     "info",
			StatusSocket: true,
		},
		Logging: LoggingConfig{
			MaxSizeMB:  10,
			MaxFiles:   5,
			MaxAgeDays: 28,
			Stderr:     true,
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/dropwatch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/dropwatch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dropwatch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "dropwatch", "config.yaml")
	}
	return filepath.Join(home, ".config", "dropwatch", "config.yaml")
}

// RootConfigPath returns the config file in root, preferring .yaml over
// .yml. When neither exists it returns the .yaml path.
func RootConfigPath(root string) string {
	yamlPath := filepath.Join(root, RootConfigName)
	if fileExists(yamlPath) {
		return yamlPath
	}
	ymlPath := filepath.Join(root, RootConfigAltName)
	if fileExists(ymlPath) {
		return ymlPath
	}
	return yamlPath
}

// Load resolves the configuration for root. Precedence, lowest first:
//  1. Defaults
//  2. User config ($XDG_CONFIG_HOME/dropwatch/config.yaml)
//  3. Root config (<root>/.dropwatch.yaml)
//  4. <root>/.env, which never overrides variables already set
//  5. DROPWATCH_* environment variables
//
// Paths are then resolved against root and the result validated.
func Load(root string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path := RootConfigPath(root); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if envPath := filepath.Join(root, EnvFileName); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.Resolve(root)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile returns the defaults overlaid with a single YAML file, without
// env overrides or path resolution. config init uses it to keep a user's
// settings when rewriting the file.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML overlays the keys present in path onto c. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies DROPWATCH_* environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	strVars := map[string]*string{
		"PROCESSED_ROOT": &c.Paths.ProcessedRoot,
		"DATA_DIR":       &c.Paths.DataDir,
		"DEBOUNCE":       &c.Watch.Debounce,
		"POLL_INTERVAL":  &c.Watch.PollInterval,
		"COOLDOWN":       &c.Worker.Cooldown,
		"QUEUE_POLICY":   &c.Worker.QueuePolicy,
		"INDEX_BACKEND":  &c.Index.Backend,
		"FAILURE_BUCKET": &c.Index.FailureBucket,
		"LOG_LEVEL":      &c.Server.LogLevel,
		"METRICS_ADDR":   &c.Server.MetricsAddr,
	}
	for name, dst := range strVars {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	intVars := map[string]*int{
		"QUEUE_CAPACITY": &c.Worker.QueueCapacity,
		"POOL_SIZE":      &c.Worker.PoolSize,
		"EVENT_BUFFER":   &c.Watch.EventBuffer,
	}
	for name, dst := range intVars {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	boolVars := map[string]*bool{
		"FORCE_POLLING":   &c.Watch.ForcePolling,
		"RECURSIVE":       &c.Watch.Recursive,
		"STATUS_SOCKET":   &c.Server.StatusSocket,
		"BREAKER_ENABLED": &c.Index.Breaker.Enabled,
		"LOG_STDERR":      &c.Logging.Stderr,
	}
	for name, dst := range boolVars {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}
	return nil
}

// Resolve fills path defaults and makes relative paths absolute under root.
func (c *Config) Resolve(root string) {
	if c.Paths.ProcessedRoot == "" {
		c.Paths.ProcessedRoot = "processed"
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = ".dropwatch"
	}
	if !filepath.IsAbs(c.Paths.ProcessedRoot) {
		c.Paths.ProcessedRoot = filepath.Join(root, c.Paths.ProcessedRoot)
	}
	if !filepath.IsAbs(c.Paths.DataDir) {
		c.Paths.DataDir = filepath.Join(root, c.Paths.DataDir)
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	for field, value := range map[string]string{
		"watch.debounce":             c.Watch.Debounce,
		"watch.poll_interval":        c.Watch.PollInterval,
		"worker.cooldown":            c.Worker.Cooldown,
		"index.breaker.open_timeout": c.Index.Breaker.OpenTimeout,
	} {
		if _, err := parseDuration(field, value); err != nil {
			return err
		}
	}

	if c.Watch.EventBuffer < 0 {
		return fmt.Errorf("watch.event_buffer must be non-negative, got %d", c.Watch.EventBuffer)
	}
	if c.Worker.QueueCapacity < 0 {
		return fmt.Errorf("worker.queue_capacity must be non-negative, got %d", c.Worker.QueueCapacity)
	}
	if c.Worker.PoolSize < 0 {
		return fmt.Errorf("worker.pool_size must be non-negative, got %d", c.Worker.PoolSize)
	}
	if c.Worker.RecentSize < 0 {
		return fmt.Errorf("worker.recent_size must be non-negative, got %d", c.Worker.RecentSize)
	}

	validPolicies := map[string]bool{"": true, "block": true, "drop_oldest": true, "reject": true}
	if !validPolicies[c.Worker.QueuePolicy] {
		return fmt.Errorf("worker.queue_policy must be 'block', 'drop_oldest', or 'reject', got %s", c.Worker.QueuePolicy)
	}

	validBackends := map[string]bool{"sqlite": true, "bleve": true, "badger": true}
	if !validBackends[strings.ToLower(c.Index.Backend)] {
		return fmt.Errorf("index.backend must be 'sqlite', 'bleve', or 'badger', got %s", c.Index.Backend)
	}
	if c.Index.FailureBucket == "" {
		return fmt.Errorf("index.failure_bucket cannot be empty")
	}
	if r := c.Index.Breaker.FailureRatio; r < 0 || r > 1 {
		return fmt.Errorf("index.breaker.failure_ratio must be between 0 and 1, got %f", r)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxFiles < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging sizes must be non-negative")
	}
	return nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be non-negative, got %s", field, value)
	}
	return d, nil
}

// DebounceWindow returns watch.debounce. Zero means the watcher default.
func (c *Config) DebounceWindow() time.Duration {
	d, _ := parseDuration("watch.debounce", c.Watch.Debounce)
	return d
}

// PollInterval returns watch.poll_interval. Zero means the watcher default.
func (c *Config) PollInterval() time.Duration {
	d, _ := parseDuration("watch.poll_interval", c.Watch.PollInterval)
	return d
}

// Cooldown returns worker.cooldown. Zero disables rate limiting.
func (c *Config) Cooldown() time.Duration {
	d, _ := parseDuration("worker.cooldown", c.Worker.Cooldown)
	return d
}

// BreakerOpenTimeout returns index.breaker.open_timeout.
func (c *Config) BreakerOpenTimeout() time.Duration {
	d, _ := parseDuration("index.breaker.open_timeout", c.Index.Breaker.OpenTimeout)
	return d
}

// WriteYAML writes the configuration to a YAML file, creating its
// directory.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
