// Package cache implements the Cached Backend (spec.md §4.8 expansion): an
// LRU write-through value cache in front of a persistent object store's
// backend, plus a negative-lookup cache so repeated misses for a key that
// was recently confirmed absent don't round trip to the native engine.
//
// Enabled per object store via ObjectStoreConfig.EnableCache/CacheSize
// (spec.md §6); every write still goes straight through to the wrapped
// backend first, so durability is entirely the backend's concern, and every
// write refreshes or purges the cached entries for the keys it touches.
package cache

import (
	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/erigontech/stackdb/kv"
	"github.com/erigontech/stackdb/kv/mdbx"
)

// CachedBackend wraps an mdbx.Store. It satisfies mdbx.Store itself, so an
// Object Store configured with EnableCache can use one in place of the raw
// backend without any other code noticing the difference.
type CachedBackend struct {
	backend mdbx.Store
	values  *lru.Cache[string, []byte]
	absent  *freelru.LRU[string, struct{}]
}

var _ mdbx.Store = (*CachedBackend)(nil)

// New wraps backend with an LRU of size entries (the value cache and the
// negative-lookup cache are each sized independently at size).
func New(backend mdbx.Store, size int) (*CachedBackend, error) {
	if size <= 0 {
		size = 1024
	}
	values, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	absent, err := freelru.New[string, struct{}](uint32(size), hashCacheKey)
	if err != nil {
		return nil, err
	}
	return &CachedBackend{backend: backend, values: values, absent: absent}, nil
}

func hashCacheKey(k string) uint32 { return uint32(xxhash.Sum64String(k)) }

// cacheKey namespaces a table/key pair so one LRU instance can safely cache
// entries from every table a backend holds.
func cacheKey(table string, k []byte) string { return table + "\x00" + string(k) }

// Get checks the value cache, then the negative-lookup cache, and only
// falls through to the wrapped backend on a genuine cold lookup.
func (c *CachedBackend) Get(table string, k []byte) ([]byte, bool, error) {
	key := cacheKey(table, k)
	if v, ok := c.values.Get(key); ok {
		return v, true, nil
	}
	if _, ok := c.absent.Get(key); ok {
		return nil, false, nil
	}
	v, ok, err := c.backend.Get(table, k)
	if err != nil {
		return nil, false, err
	}
	if ok {
		c.values.Add(key, v)
	} else {
		c.absent.Add(key, struct{}{})
	}
	return v, ok, nil
}

// ApplyBatch delegates to the wrapped backend first, then brings both
// caches back in line with what was just written: a put refreshes the
// value cache and clears any stale negative entry, a delete purges the
// value cache and records the key as absent.
func (c *CachedBackend) ApplyBatch(muts []mdbx.Mutation) error {
	if err := c.backend.ApplyBatch(muts); err != nil {
		return err
	}
	for _, m := range muts {
		key := cacheKey(m.Table, m.Key)
		if m.Delete {
			c.values.Remove(key)
			c.absent.Add(key, struct{}{})
			continue
		}
		c.values.Add(key, m.Value)
		c.absent.Remove(key)
	}
	return nil
}

// NewCursor bypasses both caches: range scans go straight to the backend,
// since an LRU keyed by point lookups has nothing useful to offer them.
func (c *CachedBackend) NewCursor(table string) (*mdbx.Cursor, error) {
	return c.backend.NewCursor(table)
}

func (c *CachedBackend) EnsureTable(name string, cfg kv.TableCfgItem) error {
	return c.backend.EnsureTable(name, cfg)
}

// DropTable delegates, then clears both caches outright. There is no cheap
// way to purge just one table's entries out of an LRU keyed by table+key,
// and a truncate is rare enough that a full cold start afterward is a fine
// trade (SPEC_FULL.md §4.8).
func (c *CachedBackend) DropTable(table string) error {
	if err := c.backend.DropTable(table); err != nil {
		return err
	}
	c.values.Purge()
	c.absent.Purge()
	return nil
}
