// Package ristretto provides a bounded in-process lookup cache backed by
// dgraph-io/ristretto. The store uses it to resolve part ids to their owning
// (session, message) pair without scanning; over capacity, the oldest/least
// useful entries are evicted rather than growing without bound.
package ristretto

import (
	"github.com/dgraph-io/ristretto/v2"
)

// Lookup is a bounded string-to-string cache.
type Lookup struct {
	c *ristretto.Cache[string, string]
}

// NewLookup creates a lookup cache holding at most maxEntries entries.
func NewLookup(maxEntries int64) (*Lookup, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Lookup{c: c}, nil
}

// Get retrieves a value from the cache.
func (l *Lookup) Get(key string) (string, bool) {
	return l.c.Get(key)
}

// Set stores a value with unit cost. Writes are applied asynchronously by
// ristretto; Wait flushes them when a read-your-write is required.
func (l *Lookup) Set(key, value string) {
	l.c.Set(key, value, 1)
}

// Del removes a key.
func (l *Lookup) Del(key string) {
	l.c.Del(key)
}

// Wait blocks until pending writes are applied.
func (l *Lookup) Wait() {
	l.c.Wait()
}

// Close shuts down the cache and releases resources.
func (l *Lookup) Close() {
	l.c.Close()
}
