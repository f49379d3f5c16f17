// Package category defines the fixed set of content categories dropwatch
// ingests and the naming rules shared by every stage of the pipeline.
package category

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Category is one of the supported content kinds.
type Category string

const (
	// Archive covers zip, tar, gzip and zstd containers.
	Archive Category = "archive"
	// Image covers raster images.
	Image Category = "image"
	// Text covers UTF-8 plain text.
	Text Category = "text"
	// Email covers RFC 5322 messages.
	Email Category = "email"
)

// FailedBucket is the index bucket that receives failure markers for every
// category.
const FailedBucket = "failed"

// Descriptor carries everything that varies between categories.
type Descriptor struct {
	// Category is the content kind.
	Category Category
	// Dir is the inbox directory name under the watched root. It is also
	// the processed directory name and the index bucket name.
	Dir string
}

var descriptors = []Descriptor{
	{Category: Archive, Dir: "archive"},
	{Category: Image, Dir: "images"},
	{Category: Text, Dir: "txt"},
	{Category: Email, Dir: "emails"},
}

// All returns the descriptors for every category in a stable order.
func All() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Lookup returns the descriptor for c.
func Lookup(c Category) (Descriptor, error) {
	for _, d := range descriptors {
		if d.Category == c {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("unknown category: %q", c)
}

// Parse accepts a category name or its directory name.
func Parse(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, d := range descriptors {
		if string(d.Category) == s || d.Dir == s {
			return d.Category, nil
		}
	}
	return "", fmt.Errorf("unknown category: %q", s)
}

// String returns the category name.
func (c Category) String() string {
	return string(c)
}

// Bucket returns the index bucket for documents of this category.
func (d Descriptor) Bucket() string {
	return d.Dir
}

// InboxPath returns the inbox directory under root.
func (d Descriptor) InboxPath(root string) string {
	return filepath.Join(root, d.Dir)
}

// ProcessedPath returns the processed directory under processedRoot.
func (d Descriptor) ProcessedPath(processedRoot string) string {
	return filepath.Join(processedRoot, d.Dir)
}

// DocumentKey returns the index key for a file stored in the processed
// directory of dir. Keys always use a forward slash.
func DocumentKey(dir, filename string) string {
	return path.Join(dir, filename)
}

// Key returns the document key for filename in this category.
func (d Descriptor) Key(filename string) string {
	return DocumentKey(d.Dir, filename)
}

// KeyForPath derives the document key from a processed file path: the name
// of its parent directory joined with its file name.
func KeyForPath(p string) string {
	return DocumentKey(filepath.Base(filepath.Dir(p)), filepath.Base(p))
}
