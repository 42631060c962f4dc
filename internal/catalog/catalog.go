// Package catalog caches ItemMeta in a process-wide map refreshed on a
// timer, swapped atomically so a reader mid-refresh always sees a complete
// prior generation (spec §4.C; the atomic-pointer-swap pattern spec §9
// asks for in place of ad-hoc mutex-guarded lists).
package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/model"
)

// MappingFetcher is the subset of the Upstream Client the catalog depends
// on, kept narrow so tests can supply a stub.
type MappingFetcher interface {
	FetchMapping(ctx context.Context) ([]model.ItemMeta, error)
}

// Catalog is a refreshable, lock-free-read item metadata cache.
type Catalog struct {
	fetcher   MappingFetcher
	cacheFile string
	current   atomic.Pointer[map[model.ItemID]model.ItemMeta]
}

// New constructs a Catalog backed by fetcher and persisted at cacheFile for
// cold start.
func New(fetcher MappingFetcher, cacheFile string) *Catalog {
	c := &Catalog{fetcher: fetcher, cacheFile: cacheFile}
	empty := map[model.ItemID]model.ItemMeta{}
	c.current.Store(&empty)
	return c
}

// LoadFromDisk seeds the catalog from the last successful refresh, for use
// before the first network refresh completes (cold start per spec §4.C).
func (c *Catalog) LoadFromDisk() error {
	data, err := os.ReadFile(c.cacheFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var items []model.ItemMeta
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	c.swap(items)
	return nil
}

// Refresh fetches the upstream mapping and atomically swaps the in-memory
// map, then persists it to disk. Lookups in flight during the swap
// continue to see the pre-refresh snapshot (spec §4.C).
func (c *Catalog) Refresh(ctx context.Context) error {
	items, err := c.fetcher.FetchMapping(ctx)
	if err != nil {
		return err
	}
	c.swap(items)
	return c.persist(items)
}

func (c *Catalog) swap(items []model.ItemMeta) {
	m := make(map[model.ItemID]model.ItemMeta, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	c.current.Store(&m)
}

func (c *Catalog) persist(items []model.ItemMeta) error {
	if c.cacheFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.cacheFile), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	tmp := c.cacheFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.cacheFile)
}

// Lookup returns the metadata for id, or (ItemMeta{}, false) if unknown.
// Unknown items are treated by the engine as buy_limit=0 and excluded
// (spec §4.C).
func (c *Catalog) Lookup(id model.ItemID) (model.ItemMeta, bool) {
	m := *c.current.Load()
	meta, ok := m[id]
	return meta, ok
}

// All returns a snapshot slice of every cached item. The returned slice is
// safe to range over even while a concurrent Refresh is in flight.
func (c *Catalog) All() []model.ItemMeta {
	m := *c.current.Load()
	out := make([]model.ItemMeta, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// Len reports the number of cached items.
func (c *Catalog) Len() int {
	return len(*c.current.Load())
}
