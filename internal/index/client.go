// Package index stores extracted documents under (bucket, key).
//
// Three backends are available: sqlite (default, pure Go with an FTS5
// mirror), bleve and badger. Every backend is safe for concurrent use; the
// supervisor opens exactly one and shares it across categories.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned by Get for an unknown (bucket, key).
	ErrNotFound = errors.New("document not found")

	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("index is closed")

	// ErrInvalidDocument is returned for a document with a bad bucket or key.
	ErrInvalidDocument = errors.New("invalid document")
)

// Document is one indexed record.
type Document struct {
	// Bucket is the category dir name, or the failure bucket.
	Bucket string
	// Key is <category-dir>/<filename>.
	Key    string
	Fields map[string]string
}

// Validate checks that the document can be addressed.
func (d Document) Validate() error {
	if err := validateBucket(d.Bucket); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if d.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidDocument)
	}
	return nil
}

// Client is what the pipeline needs from an index.
type Client interface {
	// Index stores doc, replacing any document with the same bucket and key.
	Index(ctx context.Context, doc Document) error
	Close() error
}

// Backend is a Client that can also be read back, for status and tests.
type Backend interface {
	Client
	Get(ctx context.Context, bucket, key string) (map[string]string, error)
	Count(ctx context.Context, bucket string) (int, error)
	// Name is the backend identifier, e.g. "sqlite".
	Name() string
}

func validateBucket(bucket string) error {
	if bucket == "" {
		return fmt.Errorf("empty bucket name")
	}
	if strings.ContainsAny(bucket, `/\`+"\x00") || bucket == "." || bucket == ".." {
		return fmt.Errorf("invalid bucket name %q", bucket)
	}
	return nil
}

// searchableText joins field values in key order. Backends with full-text
// support index this.
func searchableText(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		if fields[k] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fields[k])
	}
	return b.String()
}
