package index

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend identifiers accepted by Open and the index.backend setting.
const (
	// BackendSQLite is the default: one pure-Go SQLite file in WAL mode.
	BackendSQLite = "sqlite"

	// BackendBleve keeps a bleve index per bucket.
	BackendBleve = "bleve"

	// BackendBadger uses a badger key-value store.
	BackendBadger = "badger"
)

// Backends lists the valid backend identifiers.
func Backends() []string {
	return []string{BackendSQLite, BackendBleve, BackendBadger}
}

// Open creates the backend named by backend with its files under dataDir.
// If dataDir is empty the backend is in-memory, which tests use.
func Open(dataDir, backend string) (Backend, error) {
	path := Path(dataDir, backend)

	switch backend {
	case BackendSQLite, "":
		return NewSQLiteIndex(path)
	case BackendBleve:
		return NewBleveIndex(path)
	case BackendBadger:
		return NewBadgerIndex(path)
	default:
		return nil, fmt.Errorf("unknown index backend: %s (valid options: sqlite, bleve, badger)", backend)
	}
}

// Path returns the file or directory a backend uses under dataDir, or ""
// when dataDir is empty.
func Path(dataDir, backend string) string {
	if dataDir == "" {
		return ""
	}
	switch backend {
	case BackendBleve:
		return filepath.Join(dataDir, "bleve")
	case BackendBadger:
		return filepath.Join(dataDir, "badger")
	default:
		return filepath.Join(dataDir, "index.db")
	}
}

// DetectBackend reports which backend already has data under dataDir,
// or "" if none does.
func DetectBackend(dataDir string) string {
	if fileExists(Path(dataDir, BackendSQLite)) {
		return BackendSQLite
	}
	if dirExists(Path(dataDir, BackendBleve)) {
		return BackendBleve
	}
	if dirExists(Path(dataDir, BackendBadger)) {
		return BackendBadger
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
