// Package engine computes dumps, spikes, flip candidates, and tier scores
// from successive snapshots (spec §4.D). The engine is a pure function of
// its inputs — no I/O, no clock reads beyond the timestamps it is handed —
// so the same snapshot sequence always produces bit-identical output, which
// is the determinism law spec §4.D and §8 require.
package engine

import (
	"sort"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/model"
)

// Thresholds mirrors config.Thresholds without importing the config
// package, keeping engine dependency-free and trivially unit-testable.
type Thresholds struct {
	MarginMinGP  int64
	DumpDropPct  float64
	SpikeRisePct float64
	MinVolume    int64
}

// Result is everything one tick of the engine produces.
type Result struct {
	Dumps []model.DumpEvent
	Spikes []model.SpikeEvent
	Flips []model.FlipCandidate
}

// Input is the per-item data the engine needs: the two most recent
// snapshots in the current window, the item's metadata, and its average
// daily volume (see spec §9 Open Questions on the ambiguity of this input).
type Input struct {
	Meta         model.ItemMeta
	Prev         model.Snapshot
	Cur          model.Snapshot
	AvgDailyVolume float64
	SnapshotCount  int
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Run evaluates every item's (prev, cur) pair and returns the dumps,
// spikes, and flips that pass their respective thresholds, sorted
// deterministically per spec §4.D's tie-break rule.
func Run(inputs []Input, th Thresholds) Result {
	var res Result
	for _, in := range inputs {
		if !in.Meta.Tradeable() {
			continue // buy_limit == 0 excluded from dumps/flips, spec §4.D
		}
		if d, ok := detectDump(in, th); ok {
			res.Dumps = append(res.Dumps, d)
		}
		if s, ok := detectSpike(in, th); ok {
			res.Spikes = append(res.Spikes, s)
		}
		if f, ok := detectFlip(in, th); ok {
			res.Flips = append(res.Flips, f)
		}
	}

	sort.SliceStable(res.Dumps, func(i, j int) bool {
		a, b := res.Dumps[i], res.Dumps[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ItemID < b.ItemID
	})
	sort.SliceStable(res.Spikes, func(i, j int) bool {
		a, b := res.Spikes[i], res.Spikes[j]
		if a.RisePct != b.RisePct {
			return a.RisePct > b.RisePct
		}
		return a.ItemID < b.ItemID
	})
	sort.SliceStable(res.Flips, func(i, j int) bool {
		a, b := res.Flips[i], res.Flips[j]
		if a.MarginGP != b.MarginGP {
			return a.MarginGP > b.MarginGP
		}
		return a.ItemID < b.ItemID
	})
	return res
}

// detectDump implements the dump score formula from spec §4.D verbatim,
// including the deliberately-preserved double counting of oversupply_pct
// and buy_speed_pct (spec §9 Open Questions: "keep the formula as
// specified but flag it for review").
func detectDump(in Input, th Thresholds) (model.DumpEvent, bool) {
	if in.SnapshotCount < 2 {
		return model.DumpEvent{}, false
	}
	if in.Prev.Low == nil || in.Cur.Low == nil {
		return model.DumpEvent{}, false
	}
	prevLow := float64(*in.Prev.Low)
	curLow := float64(*in.Cur.Low)
	if prevLow <= 0 {
		return model.DumpEvent{}, false
	}

	dropPct := (prevLow - curLow) / prevLow * 100
	if dropPct <= 0 {
		return model.DumpEvent{}, false
	}
	if dropPct < th.DumpDropPct {
		return model.DumpEvent{}, false
	}

	var curVol float64
	if in.Cur.Volume != nil {
		curVol = float64(*in.Cur.Volume)
	}

	// expected_5m = avg_daily_volume / 288; see spec §9 Open Questions on
	// the ambiguity of what "avg_daily_volume" means upstream.
	expected5m := in.AvgDailyVolume / 288
	var volSpikePct float64
	if expected5m > 0 {
		volSpikePct = (curVol - expected5m) / expected5m * 100
	}
	if volSpikePct < 0 {
		volSpikePct = 0
	}

	var oversupplyPct float64
	if in.Meta.BuyLimit > 0 {
		oversupplyPct = curVol / float64(in.Meta.BuyLimit) * 100
	}
	buySpeedPct := oversupplyPct // same measurement, distinct weight — spec §4.D

	score := clamp(2*dropPct, 0, 40) +
		clamp(0.3*volSpikePct, 0, 30) +
		clamp(0.2*oversupplyPct, 0, 20) +
		clamp(0.1*buySpeedPct, 0, 10)
	score = clamp(score, 0, 100)

	tier := model.TierByScore(score)

	var flags []model.DumpFlag
	if buySpeedPct < 50 {
		flags = append(flags, model.FlagSlowBuy)
	}
	if int64(curLow) == 1 {
		flags = append(flags, model.FlagOneGPDump)
	}
	if score >= 51 {
		flags = append(flags, model.FlagSuper)
	}

	return model.DumpEvent{
		ItemID:        in.Cur.ItemID,
		Timestamp:     in.Cur.Timestamp,
		PrevLow:       int64(prevLow),
		CurLow:        int64(curLow),
		DropPct:       dropPct,
		VolSpikePct:   volSpikePct,
		OversupplyPct: oversupplyPct,
		BuySpeedPct:   buySpeedPct,
		Score:         score,
		Tier:          tier.Name,
		Flags:         flags,
	}, true
}

// detectSpike implements spec §4.D's rise-detection rule.
func detectSpike(in Input, th Thresholds) (model.SpikeEvent, bool) {
	if in.Prev.High == nil || in.Cur.High == nil {
		return model.SpikeEvent{}, false
	}
	prevHigh := float64(*in.Prev.High)
	curHigh := float64(*in.Cur.High)
	if prevHigh <= 0 || curHigh <= prevHigh {
		return model.SpikeEvent{}, false
	}

	risePct := (curHigh - prevHigh) / prevHigh * 100
	var volume int64
	if in.Cur.Volume != nil {
		volume = *in.Cur.Volume
	}
	if risePct < th.SpikeRisePct || volume < th.MinVolume {
		return model.SpikeEvent{}, false
	}

	return model.SpikeEvent{
		ItemID:    in.Cur.ItemID,
		Timestamp: in.Cur.Timestamp,
		PrevHigh:  int64(prevHigh),
		CurHigh:   int64(curHigh),
		RisePct:   risePct,
		Volume:    volume,
	}, true
}

// detectFlip implements spec §4.D's margin/ROI computation plus the risk
// score bucketing used in the flip output.
func detectFlip(in Input, th Thresholds) (model.FlipCandidate, bool) {
	if in.Cur.Low == nil || in.Cur.High == nil {
		return model.FlipCandidate{}, false
	}
	low := *in.Cur.Low
	high := *in.Cur.High
	if low <= 0 || high <= low {
		return model.FlipCandidate{}, false
	}

	marginGP := high - low
	var volume int64
	if in.Cur.Volume != nil {
		volume = *in.Cur.Volume
	}
	if marginGP < th.MarginMinGP || volume < th.MinVolume {
		return model.FlipCandidate{}, false
	}

	roiPct := float64(marginGP) / float64(low) * 100

	liquidityRatio := 0.0
	if in.Meta.BuyLimit > 0 {
		liquidityRatio = float64(volume) / float64(in.Meta.BuyLimit)
	}
	riskScore, riskLevel := riskOf(roiPct, volume, liquidityRatio)

	return model.FlipCandidate{
		ItemID:         in.Cur.ItemID,
		Timestamp:      in.Cur.Timestamp,
		Buy:            low,
		Sell:           high,
		InstaBuy:       high,
		InstaSell:      low,
		MarginGP:       marginGP,
		ROIPct:         roiPct,
		Volume:         volume,
		BuyLimit:       in.Meta.BuyLimit,
		RiskScore:      riskScore,
		RiskLevel:      riskLevel,
		LiquidityScore: liquidityRatio,
	}, true
}

// riskOf combines volatility proxy, inverse-volume penalty, and liquidity
// ratio into a 0-100 risk score bucketed at 20/40/60 (spec §4.D).
func riskOf(roiPct float64, volume int64, liquidityRatio float64) (float64, model.RiskLevel) {
	volatility := clamp(roiPct, 0, 50) // ROI spread is our volatility proxy absent a 24h window here
	inverseVolume := 0.0
	if volume > 0 {
		inverseVolume = clamp(1000.0/float64(volume), 0, 50)
	} else {
		inverseVolume = 50
	}
	liquidityPenalty := clamp(liquidityRatio*10, 0, 50)

	score := clamp(0.4*volatility+0.3*inverseVolume+0.3*liquidityPenalty, 0, 100)

	var level model.RiskLevel
	switch {
	case score < 20:
		level = model.RiskLow
	case score < 40:
		level = model.RiskMedium
	case score < 60:
		level = model.RiskHigh
	default:
		level = model.RiskVeryHigh
	}
	return score, level
}
