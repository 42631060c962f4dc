// Package views holds the Materialized Views (spec §4.E): the read-side
// collections (top_flips, dumps, spikes, all_items) the HTTP API serves.
// Each poll builds a brand new View and swaps it in with a
// single atomic store, mirroring internal/catalog's cold-swap pattern so
// concurrent readers never observe a half-built generation.
package views

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/model"
)

// View is one immutable, fully-built generation of the read-side state.
type View struct {
	Generation uint64
	BuiltAt    time.Time

	TopFlips []model.FlipCandidate
	Dumps    []model.DumpEvent
	Spikes   []model.SpikeEvent
	AllItems []model.ItemMeta
}

// Store holds the current View behind an atomic pointer.
type Store struct {
	current atomic.Pointer[View]
}

// NewStore returns a Store seeded with an empty generation-0 view so readers
// never observe a nil pointer before the first Build.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(&View{Generation: 0, BuiltAt: time.Time{}})
	return s
}

// Current returns the latest published View. Safe for concurrent use; the
// returned value is immutable once published.
func (s *Store) Current() *View {
	return s.current.Load()
}

// Build assembles a new View from one engine tick's output plus the current
// item catalog, ranks top_flips by margin_gp descending (spec §4.E), and
// publishes it with a monotonically increasing generation counter.
func (s *Store) Build(dumps []model.DumpEvent, spikes []model.SpikeEvent, flips []model.FlipCandidate, allItems []model.ItemMeta, topN int) *View {
	prev := s.current.Load()

	ranked := make([]model.FlipCandidate, len(flips))
	copy(ranked, flips)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].MarginGP != ranked[j].MarginGP {
			return ranked[i].MarginGP > ranked[j].MarginGP
		}
		return ranked[i].ItemID < ranked[j].ItemID
	})
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}

	next := &View{
		Generation: prev.Generation + 1,
		BuiltAt:    time.Now(),
		TopFlips:   ranked,
		Dumps:      dumps,
		Spikes:     spikes,
		AllItems:   allItems,
	}
	s.current.Store(next)
	return next
}

// DumpByItem returns the current generation's dump event for an item, if
// any (backs GET /api/dumps/{item_id}).
func (v *View) DumpByItem(id model.ItemID) (model.DumpEvent, bool) {
	for _, d := range v.Dumps {
		if d.ItemID == id {
			return d, true
		}
	}
	return model.DumpEvent{}, false
}
