package feed

import (
	"context"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/model"
)

// MetaFetcher adapts Client.FetchMapping to catalog.MappingFetcher, converting
// the wire-shaped MappingEntry rows into the canonical ItemMeta type at the
// package boundary so the catalog never depends on feed's wire types.
type MetaFetcher struct {
	Client *Client
}

func (m MetaFetcher) FetchMapping(ctx context.Context) ([]model.ItemMeta, error) {
	entries, err := m.Client.FetchMapping(ctx)
	if err != nil {
		return nil, err
	}
	return ToItemMeta(entries), nil
}

// MergeToSnapshots combines a /latest response and a /5m (or /1h) response
// for the same poll into one Snapshot per item, per spec §3's definition:
// low/high come from the instant feed, volume from the windowed feed.
func MergeToSnapshots(ts int64, latest map[int64]LatestEntry, window map[int64]WindowEntry) []model.Snapshot {
	seen := make(map[int64]struct{}, len(latest)+len(window))
	for id := range latest {
		seen[id] = struct{}{}
	}
	for id := range window {
		seen[id] = struct{}{}
	}

	out := make([]model.Snapshot, 0, len(seen))
	for id := range seen {
		snap := model.Snapshot{ItemID: model.ItemID(id), Timestamp: ts}
		if l, ok := latest[id]; ok {
			snap.Low = l.Low
			snap.High = l.High
		}
		if w, ok := window[id]; ok {
			vol := w.HighPriceVolume + w.LowPriceVolume
			snap.Volume = &vol
			if snap.Low == nil {
				snap.Low = w.AvgLowPrice
			}
			if snap.High == nil {
				snap.High = w.AvgHighPrice
			}
		}
		out = append(out, snap)
	}
	return out
}

// ToItemMeta converts a mapping response into the canonical ItemMeta type.
func ToItemMeta(entries []MappingEntry) []model.ItemMeta {
	out := make([]model.ItemMeta, 0, len(entries))
	for _, e := range entries {
		limit := 0
		if e.Limit != nil {
			limit = *e.Limit
		}
		examine := ""
		if e.Examine != nil {
			examine = *e.Examine
		}
		out = append(out, model.ItemMeta{
			ID:       model.ItemID(e.ID),
			Name:     e.Name,
			Members:  e.Members,
			BuyLimit: limit,
			Examine:  examine,
		})
	}
	return out
}
