// Package filestore relocates incoming files into a category's processed
// directory, dropping byte-identical duplicates of files already stored
// under the same name.
package filestore

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
)

// ProcessedFile is a file that passed dedup and now lives in the processed
// directory.
type ProcessedFile struct {
	// Path is the absolute path in the processed directory.
	Path string
	// Name is the file name in the processed directory. It differs from the
	// incoming name when a collision token was inserted.
	Name string
	// Renamed reports whether a collision token was inserted.
	Renamed bool
}

// Stats counts outcomes since the store was created.
type Stats struct {
	Stored     int `json:"stored"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// Store deduplicates and relocates files for a single category. A Store is
// owned by one CategoryWatcher; only Stats may be called concurrently.
type Store struct {
	fs           afero.Fs
	processedDir string
	newToken     func() string
	logger       *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// Option configures a Store.
type Option func(*Store)

// WithFs sets the filesystem. Default is the OS filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(s *Store) {
		s.fs = fsys
	}
}

// WithTokenFunc overrides the collision token generator.
func WithTokenFunc(fn func() string) Option {
	return func(s *Store) {
		s.newToken = fn
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Store that moves files into processedDir.
func New(processedDir string, opts ...Option) *Store {
	s := &Store{
		fs:           afero.NewOsFs(),
		processedDir: processedDir,
		newToken:     func() string { return uuid.NewString() },
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the processed directory.
func (s *Store) Dir() string {
	return s.processedDir
}

// Stats returns the outcome counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// StoreOrDrop moves incoming into the processed directory. It returns nil
// with a nil error when incoming duplicates the file already stored under
// the same name; in that case incoming is deleted.
//
// On error the incoming file is left where it was. Errors wrap
// fs.ErrNotExist when incoming disappeared before it could be stored.
func (s *Store) StoreOrDrop(incoming string) (*ProcessedFile, error) {
	pf, err := s.storeOrDrop(incoming)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil:
		s.stats.Errors++
	case pf == nil:
		s.stats.Duplicates++
	default:
		s.stats.Stored++
	}
	return pf, err
}

func (s *Store) storeOrDrop(incoming string) (*ProcessedFile, error) {
	info, err := s.fs.Stat(incoming)
	if err != nil {
		return nil, dwerrors.StoreError("stat", incoming, err)
	}
	if !info.Mode().IsRegular() {
		return nil, dwerrors.StoreError("stat", incoming, fmt.Errorf("not a regular file: %s", info.Mode().Type()))
	}

	if err := s.fs.MkdirAll(s.processedDir, 0o755); err != nil {
		return nil, dwerrors.StoreError("create processed dir", s.processedDir, err)
	}

	name := filepath.Base(incoming)
	target := filepath.Join(s.processedDir, name)

	existing, err := s.fs.Stat(target)
	switch {
	case err == nil && existing.Mode().IsRegular():
		same, err := s.sameContent(incoming, target)
		if err != nil {
			return nil, dwerrors.StoreError("compare", incoming, err)
		}
		if same {
			if err := s.fs.Remove(incoming); err != nil {
				return nil, dwerrors.StoreError("remove duplicate", incoming, err)
			}
			s.logger.Debug("duplicate dropped",
				slog.String("path", incoming),
				slog.String("existing", target))
			return nil, nil
		}
	case err == nil:
		// A directory or special file owns the name; treat as a collision.
	case os.IsNotExist(err):
		return s.move(incoming, target, name, false)
	default:
		return nil, dwerrors.StoreError("stat", target, err)
	}

	uniqueName, err := s.uniqueName(name)
	if err != nil {
		return nil, dwerrors.StoreError("rename", incoming, err)
	}
	return s.move(incoming, filepath.Join(s.processedDir, uniqueName), uniqueName, true)
}

func (s *Store) move(from, to, name string, renamed bool) (*ProcessedFile, error) {
	if err := s.fs.Rename(from, to); err != nil {
		return nil, dwerrors.StoreError("move", from, err)
	}
	s.logger.Debug("file stored",
		slog.String("from", from),
		slog.String("to", to),
		slog.Bool("renamed", renamed))
	return &ProcessedFile{Path: to, Name: name, Renamed: renamed}, nil
}

// uniqueName inserts a token between the base name and the extension and
// retries until the result is free.
func (s *Store) uniqueName(name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	const maxAttempts = 16
	for i := 0; i < maxAttempts; i++ {
		candidate := base + "_" + s.newToken() + ext
		_, err := s.fs.Stat(filepath.Join(s.processedDir, candidate))
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free name for %s after %d attempts: %w", name, maxAttempts, fs.ErrExist)
}
