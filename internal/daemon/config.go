// Package daemon exposes a running dropwatch process over a Unix socket.
// The status command connects to it to read per-category progress without
// touching the index files the daemon holds open.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// SocketName is the socket file name inside the data dir.
	SocketName = "dropwatch.sock"
	// PIDName is the PID file name inside the data dir.
	PIDName = "dropwatch.pid"
)

// Config holds configuration for the status endpoint.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	// Default: <data-dir>/dropwatch.sock
	SocketPath string

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: <data-dir>/dropwatch.pid
	PIDPath string

	// Timeout is the maximum duration for client-daemon communication.
	// Default: 5s
	Timeout time.Duration
}

// DefaultConfig returns a Config rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		SocketPath: filepath.Join(dataDir, SocketName),
		PIDPath:    filepath.Join(dataDir, PIDName),
		Timeout:    5 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// EnsureDir creates the directory for socket and PID files if it doesn't exist.
func (c Config) EnsureDir() error {
	socketDir := filepath.Dir(c.SocketPath)
	if err := os.MkdirAll(socketDir, 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	pidDir := filepath.Dir(c.PIDPath)
	if pidDir != socketDir {
		if err := os.MkdirAll(pidDir, 0o755); err != nil {
			return fmt.Errorf("failed to create PID directory: %w", err)
		}
	}
	return nil
}
