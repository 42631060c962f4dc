package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/model"
)

func ptr(v int64) *int64 { return &v }

func baseThresholds() Thresholds {
	return Thresholds{MarginMinGP: 100000, DumpDropPct: 5, SpikeRisePct: 5, MinVolume: 100}
}

func TestRun_SkipsNonTradeableItems(t *testing.T) {
	in := Input{
		Meta:          model.ItemMeta{ID: 1, BuyLimit: 0},
		Prev:          model.Snapshot{ItemID: 1, Timestamp: 100, Low: ptr(1000)},
		Cur:           model.Snapshot{ItemID: 1, Timestamp: 200, Low: ptr(500)},
		SnapshotCount: 2,
	}
	res := Run([]Input{in}, baseThresholds())
	assert.Empty(t, res.Dumps)
	assert.Empty(t, res.Flips)
}

func TestDetectDump_RequiresTwoSnapshots(t *testing.T) {
	in := Input{
		Meta:          model.ItemMeta{ID: 1, BuyLimit: 100},
		Cur:           model.Snapshot{ItemID: 1, Timestamp: 200, Low: ptr(500)},
		SnapshotCount: 1,
	}
	_, ok := detectDump(in, baseThresholds())
	assert.False(t, ok, "a single snapshot can never produce a dump")
}

func TestDetectDump_ThresholdBoundary(t *testing.T) {
	th := baseThresholds()
	// drop_pct exactly at the threshold is a dump: the gate is dropPct >= DumpDropPct.
	in := Input{
		Meta:           model.ItemMeta{ID: 1, BuyLimit: 100},
		Prev:           model.Snapshot{ItemID: 1, Timestamp: 100, Low: ptr(1000)},
		Cur:            model.Snapshot{ItemID: 1, Timestamp: 200, Low: ptr(950), Volume: ptr(10)},
		AvgDailyVolume: 0,
		SnapshotCount:  2,
	}
	_, ok := detectDump(in, th)
	assert.True(t, ok)

	in.Cur.Low = ptr(940) // 6% drop, above the 5% threshold
	d, ok := detectDump(in, th)
	require.True(t, ok)
	assert.InDelta(t, 6.0, d.DropPct, 0.01)
	assert.Equal(t, model.TierByScore(d.Score).Name, d.Tier)
}

func TestDetectDump_OversupplyAndBuySpeedDoubleCount(t *testing.T) {
	// spec §9 preserves the deliberate double counting of oversupply_pct and
	// buy_speed_pct — both flow from the same curVol/buyLimit measurement.
	th := baseThresholds()
	in := Input{
		Meta:           model.ItemMeta{ID: 1, BuyLimit: 100},
		Prev:           model.Snapshot{ItemID: 1, Timestamp: 100, Low: ptr(1000)},
		Cur:            model.Snapshot{ItemID: 1, Timestamp: 200, Low: ptr(800), Volume: ptr(200)},
		AvgDailyVolume: 0,
		SnapshotCount:  2,
	}
	d, ok := detectDump(in, th)
	require.True(t, ok)
	assert.Equal(t, d.OversupplyPct, d.BuySpeedPct)
}

func TestDetectSpike_RisePct(t *testing.T) {
	th := baseThresholds()
	in := Input{
		Meta:          model.ItemMeta{ID: 2, BuyLimit: 50},
		Prev:          model.Snapshot{ItemID: 2, Timestamp: 100, High: ptr(1000)},
		Cur:           model.Snapshot{ItemID: 2, Timestamp: 200, High: ptr(1100), Volume: ptr(500)},
		SnapshotCount: 2,
	}
	s, ok := detectSpike(in, th)
	require.True(t, ok)
	assert.InDelta(t, 10.0, s.RisePct, 0.01)
	assert.Equal(t, int64(500), s.Volume)
}

func TestDetectSpike_BelowThresholdIsNotASpike(t *testing.T) {
	th := baseThresholds()
	in := Input{
		Meta:          model.ItemMeta{ID: 2, BuyLimit: 50},
		Prev:          model.Snapshot{ItemID: 2, Timestamp: 100, High: ptr(1000)},
		Cur:           model.Snapshot{ItemID: 2, Timestamp: 200, High: ptr(1020)},
		SnapshotCount: 2,
	}
	_, ok := detectSpike(in, th)
	assert.False(t, ok)
}

func TestDetectFlip_MarginAndRisk(t *testing.T) {
	th := baseThresholds()
	in := Input{
		Meta:           model.ItemMeta{ID: 3, BuyLimit: 100},
		Prev:           model.Snapshot{ItemID: 3, Timestamp: 100, Low: ptr(1000), High: ptr(1200)},
		Cur:            model.Snapshot{ItemID: 3, Timestamp: 200, Low: ptr(1000), High: ptr(1150000), Volume: ptr(1000)},
		AvgDailyVolume: 100000,
		SnapshotCount:  2,
	}
	f, ok := detectFlip(in, th)
	require.True(t, ok)
	assert.Greater(t, f.MarginGP, int64(0))
	assert.NotEmpty(t, f.RiskLevel)
}

func TestRun_SortsDeterministically(t *testing.T) {
	th := baseThresholds()
	a := Input{
		Meta: model.ItemMeta{ID: 10, BuyLimit: 10},
		Prev: model.Snapshot{ItemID: 10, Timestamp: 100, Low: ptr(1000)},
		Cur:  model.Snapshot{ItemID: 10, Timestamp: 200, Low: ptr(800), Volume: ptr(50)},
		SnapshotCount: 2,
	}
	b := Input{
		Meta: model.ItemMeta{ID: 5, BuyLimit: 10},
		Prev: model.Snapshot{ItemID: 5, Timestamp: 100, Low: ptr(1000)},
		Cur:  model.Snapshot{ItemID: 5, Timestamp: 200, Low: ptr(800), Volume: ptr(50)},
		SnapshotCount: 2,
	}
	res := Run([]Input{a, b}, th)
	require.Len(t, res.Dumps, 2)
	if res.Dumps[0].Score == res.Dumps[1].Score {
		assert.Less(t, res.Dumps[0].ItemID, res.Dumps[1].ItemID, "equal scores break ties by ascending item id")
	}
}

func TestTierByScore_Boundaries(t *testing.T) {
	assert.Equal(t, "iron", model.TierByScore(0).Name)
	assert.Equal(t, "iron", model.TierByScore(10).Name)
	assert.Equal(t, "copper", model.TierByScore(11).Name)
	assert.Equal(t, "diamond", model.TierByScore(100).Name)
	assert.Equal(t, "iron", model.TierByScore(-5).Name, "scores are clamped to [0,100] before lookup")
	assert.Equal(t, "diamond", model.TierByScore(150).Name)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-5, 0, 100))
	assert.Equal(t, 100.0, clamp(500, 0, 100))
	assert.Equal(t, 42.0, clamp(42, 0, 100))
}
