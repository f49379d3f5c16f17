package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// BleveIndex keeps one bleve index per bucket under dir/<bucket>.bleve.
// With an empty dir every bucket is memory-only.
type BleveIndex struct {
	mu      sync.RWMutex
	dir     string
	buckets map[string]bleve.Index
	closed  bool
}

var _ Backend = (*BleveIndex)(nil)

// NewBleveIndex creates a bleve backend rooted at dir.
func NewBleveIndex(dir string) (*BleveIndex, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &BleveIndex{
		dir:     dir,
		buckets: make(map[string]bleve.Index),
	}, nil
}

func documentMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	m.StoreDynamic = true
	m.IndexDynamic = true
	return m
}

// validateBleveIntegrity checks index_meta.json of an existing index.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// bucket returns the index for name, opening or creating it on first use.
func (b *BleveIndex) bucket(name string) (bleve.Index, error) {
	b.mu.RLock()
	idx, ok := b.buckets[name]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return idx, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if idx, ok := b.buckets[name]; ok {
		return idx, nil
	}

	idx, err := b.open(name)
	if err != nil {
		return nil, err
	}
	b.buckets[name] = idx
	return idx, nil
}

func (b *BleveIndex) open(name string) (bleve.Index, error) {
	if b.dir == "" {
		return bleve.NewMemOnly(documentMapping())
	}

	path := filepath.Join(b.dir, name+".bleve")
	if validErr := validateBleveIntegrity(path); validErr != nil {
		slog.Warn("bleve_index_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("bleve index corrupted at %s and cannot remove: %w (original error: %v)", path, err, validErr)
		}
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, documentMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bleve index %s: %w", path, err)
	}
	return idx, nil
}

// Name implements Backend.
func (b *BleveIndex) Name() string { return BackendBleve }

// Index implements Client.
func (b *BleveIndex) Index(ctx context.Context, doc Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := b.bucket(doc.Bucket)
	if err != nil {
		return err
	}

	data := make(map[string]interface{}, len(doc.Fields))
	for k, v := range doc.Fields {
		data[k] = v
	}
	if err := idx.Index(doc.Key, data); err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	return nil
}

// Get implements Backend.
func (b *BleveIndex) Get(ctx context.Context, bucket, key string) (map[string]string, error) {
	if err := validateBucket(bucket); err != nil {
		return nil, err
	}
	idx, err := b.bucket(bucket)
	if err != nil {
		return nil, err
	}

	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{key}))
	req.Fields = []string{"*"}
	req.Size = 1
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if len(res.Hits) == 0 {
		return nil, ErrNotFound
	}

	fields := make(map[string]string, len(res.Hits[0].Fields))
	for k, v := range res.Hits[0].Fields {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case []interface{}:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			fields[k] = strings.Join(parts, " ")
		default:
			fields[k] = fmt.Sprint(val)
		}
	}
	return fields, nil
}

// Count implements Backend.
func (b *BleveIndex) Count(ctx context.Context, bucket string) (int, error) {
	if err := validateBucket(bucket); err != nil {
		return 0, err
	}
	idx, err := b.bucket(bucket)
	if err != nil {
		return 0, err
	}
	n, err := idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return int(n), nil
}

// Close implements Client.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for name, idx := range b.buckets {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bucket %s: %w", name, err))
		}
	}
	b.buckets = nil
	return errors.Join(errs...)
}
