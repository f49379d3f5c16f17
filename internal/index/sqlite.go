package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteIndex stores documents in a single SQLite database. Each document
// is one row of JSON fields; an FTS5 table mirrors the text so the file can
// be searched with standard SQLite tooling.
type SQLiteIndex struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ Backend = (*SQLiteIndex)(nil)

// validateSQLiteIntegrity checks an existing database before opening it.
// Returns nil if there is no file yet.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name='documents'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("table 'documents' missing")
	}
	return nil
}

// NewSQLiteIndex opens or creates the database at path. An empty path
// creates an in-memory database.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			// Documents can be re-ingested from the processed dirs, so a
			// corrupt database is moved aside rather than repaired.
			aside := path + ".corrupt-" + time.Now().Format("20060102T150405")
			slog.Warn("sqlite_index_corrupted",
				slog.String("path", path),
				slog.String("moved_to", aside),
				slog.String("error", validErr.Error()))
			if err := os.Rename(path, aside); err != nil {
				return nil, fmt.Errorf("index corrupted at %s and cannot move aside: %w (original error: %v)", path, err, validErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; an in-memory database also only exists on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16384",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	idx := &SQLiteIndex{db: db, path: path}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteIndex) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		bucket     TEXT NOT NULL,
		doc_key    TEXT NOT NULL,
		fields     TEXT NOT NULL,
		indexed_at INTEGER NOT NULL,
		PRIMARY KEY (bucket, doc_key)
	);

	CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
		bucket UNINDEXED,
		doc_key UNINDEXED,
		body,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Name implements Backend.
func (s *SQLiteIndex) Name() string { return BackendSQLite }

// Path returns the database file, or "" for an in-memory index.
func (s *SQLiteIndex) Path() string { return s.path }

// Index implements Client. Existing documents are replaced.
func (s *SQLiteIndex) Index(ctx context.Context, doc Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	fields, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (bucket, doc_key, fields, indexed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (bucket, doc_key) DO UPDATE SET
			fields = excluded.fields,
			indexed_at = excluded.indexed_at`,
		doc.Bucket, doc.Key, string(fields), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents_fts WHERE bucket = ? AND doc_key = ?`, doc.Bucket, doc.Key); err != nil {
		return fmt.Errorf("failed to clear text mirror: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents_fts (bucket, doc_key, body) VALUES (?, ?, ?)`,
		doc.Bucket, doc.Key, searchableText(doc.Fields)); err != nil {
		return fmt.Errorf("failed to write text mirror: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Get implements Backend.
func (s *SQLiteIndex) Get(ctx context.Context, bucket, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE bucket = ? AND doc_key = ?`, bucket, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	fields := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return fields, nil
}

// Count implements Backend.
func (s *SQLiteIndex) Count(ctx context.Context, bucket string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE bucket = ?`, bucket).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Close implements Client. It is safe to call more than once.
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
