// Package extract turns processed files into index fields.
//
// Each category has one Extractor. Extractors never retry and never look
// at anything but the file's bytes; a parse failure is returned as an
// ExtractionError and the caller records the file as failed.
package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/Aman-CERP/dropwatch/internal/category"
	dwerrors "github.com/Aman-CERP/dropwatch/internal/errors"
)

// Field names shared by the archive, image and text extractors.
const (
	FieldContent  = "content"
	FieldMetadata = "metadata"
)

// Field names produced by the email extractor.
const (
	FieldTo          = "to"
	FieldCC          = "cc"
	FieldFrom        = "from"
	FieldPlainText   = "plainText"
	FieldAttachments = "attachments"
)

// Fields is the flat document written to the index.
type Fields map[string]string

// Result is the outcome of a successful extraction.
type Result struct {
	// Key is the document key, <parent-dir>/<filename>.
	Key    string
	Fields Fields
}

// Extractor parses one processed file.
type Extractor interface {
	Extract(ctx context.Context, path string) (Result, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, path string) (Result, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, path string) (Result, error) {
	return f(ctx, path)
}

// Metadata is rendered as sorted key=value pairs separated by spaces.
type Metadata map[string]string

// String renders the metadata deterministically.
func (m Metadata) String() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m[k])
	}
	return strings.Join(parts, " ")
}

func contentResult(path, content string, md Metadata) Result {
	return Result{
		Key: category.KeyForPath(path),
		Fields: Fields{
			FieldContent:  content,
			FieldMetadata: md.String(),
		},
	}
}

func extractionFailed(path string, format string, args ...any) error {
	return dwerrors.ExtractionError(path, fmt.Errorf(format, args...))
}

// Registry maps each category to its extractor.
type Registry struct {
	mu         sync.RWMutex
	extractors map[category.Category]Extractor
}

// NewRegistry returns a registry with the built-in extractor for every
// category, reading files through fsys.
func NewRegistry(fsys afero.Fs) *Registry {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Registry{
		extractors: map[category.Category]Extractor{
			category.Text:    NewTextExtractor(fsys),
			category.Image:   NewImageExtractor(fsys),
			category.Archive: NewArchiveExtractor(fsys),
			category.Email:   NewEmailExtractor(fsys),
		},
	}
}

// Register replaces the extractor for c.
func (r *Registry) Register(c category.Category, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[c] = e
}

// For returns the extractor for c.
func (r *Registry) For(c category.Category) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[c]
	if !ok {
		return nil, fmt.Errorf("no extractor for category %q", c)
	}
	return e, nil
}
