package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/model"
)

type stubFetcher struct {
	items []model.ItemMeta
	err   error
}

func (s *stubFetcher) FetchMapping(ctx context.Context) ([]model.ItemMeta, error) {
	return s.items, s.err
}

func TestCatalog_LookupMissIsFalse(t *testing.T) {
	c := New(&stubFetcher{}, "")
	_, ok := c.Lookup(999)
	assert.False(t, ok)
}

func TestCatalog_RefreshPopulatesAndSwaps(t *testing.T) {
	f := &stubFetcher{items: []model.ItemMeta{{ID: 1, Name: "Shark", BuyLimit: 1000}}}
	c := New(f, "")
	require.NoError(t, c.Refresh(context.Background()))

	meta, ok := c.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "Shark", meta.Name)
	assert.Equal(t, 1, c.Len())
}

func TestCatalog_RefreshReplacesRatherThanMerges(t *testing.T) {
	f := &stubFetcher{items: []model.ItemMeta{{ID: 1, Name: "Shark", BuyLimit: 1000}}}
	c := New(f, "")
	require.NoError(t, c.Refresh(context.Background()))

	f.items = []model.ItemMeta{{ID: 2, Name: "Lobster", BuyLimit: 2000}}
	require.NoError(t, c.Refresh(context.Background()))

	_, ok := c.Lookup(1)
	assert.False(t, ok, "a stale item from a prior generation must not survive a refresh")
	_, ok = c.Lookup(2)
	assert.True(t, ok)
}

func TestCatalog_RefreshErrorLeavesPriorGenerationIntact(t *testing.T) {
	f := &stubFetcher{items: []model.ItemMeta{{ID: 1, Name: "Shark", BuyLimit: 1000}}}
	c := New(f, "")
	require.NoError(t, c.Refresh(context.Background()))

	f.err = errors.New("upstream down")
	f.items = nil
	err := c.Refresh(context.Background())
	assert.Error(t, err)

	meta, ok := c.Lookup(1)
	require.True(t, ok, "a failed refresh must not clear the previously cached generation")
	assert.Equal(t, "Shark", meta.Name)
}

func TestCatalog_PersistAndLoadFromDiskColdStart(t *testing.T) {
	dir := t.TempDir()
	cacheFile := filepath.Join(dir, "mapping.json")

	f := &stubFetcher{items: []model.ItemMeta{{ID: 7, Name: "Rune scimitar", BuyLimit: 8}}}
	c := New(f, cacheFile)
	require.NoError(t, c.Refresh(context.Background()))

	cold := New(&stubFetcher{}, cacheFile)
	require.NoError(t, cold.LoadFromDisk())

	meta, ok := cold.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, "Rune scimitar", meta.Name)
}

func TestCatalog_LoadFromDiskMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	c := New(&stubFetcher{}, filepath.Join(dir, "missing.json"))
	assert.NoError(t, c.LoadFromDisk())
	assert.Equal(t, 0, c.Len())
}

func TestCatalog_All(t *testing.T) {
	f := &stubFetcher{items: []model.ItemMeta{
		{ID: 1, Name: "A", BuyLimit: 1},
		{ID: 2, Name: "B", BuyLimit: 2},
	}}
	c := New(f, "")
	require.NoError(t, c.Refresh(context.Background()))
	assert.Len(t, c.All(), 2)
}
