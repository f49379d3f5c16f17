package worker

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRecentSize is the number of outcomes a worker remembers.
const DefaultRecentSize = 32

// Outcome is the result of processing one entry.
type Outcome struct {
	Key    string    `json:"key"`
	Bucket string    `json:"bucket"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// Recent remembers the latest outcome per document key, evicting the
// least recently processed keys first.
type Recent struct {
	cache *lru.Cache[string, Outcome]
}

// NewRecent creates a Recent holding up to size outcomes.
func NewRecent(size int) *Recent {
	if size <= 0 {
		size = DefaultRecentSize
	}
	cache, err := lru.New[string, Outcome](size)
	if err != nil {
		// Only possible for a non-positive size.
		panic(err)
	}
	return &Recent{cache: cache}
}

// Add records o, replacing an older outcome for the same key.
func (r *Recent) Add(o Outcome) {
	r.cache.Add(o.Key, o)
}

// List returns outcomes newest first.
func (r *Recent) List() []Outcome {
	values := r.cache.Values()
	out := make([]Outcome, len(values))
	for i, v := range values {
		out[len(values)-1-i] = v
	}
	return out
}

// Len returns the number of remembered outcomes.
func (r *Recent) Len() int {
	return r.cache.Len()
}
