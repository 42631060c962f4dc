// Package model holds the shared data types described in spec §3: items,
// snapshots, the transient event types the engine produces, and the tier
// table. Nothing in this package talks to a database, the network, or a
// clock other than accepting timestamps as plain int64 unix seconds — that
// keeps the event math in internal/engine deterministic and testable without
// mocking time.
package model

// ItemID is the upstream-assigned item identifier. Stable across runs.
type ItemID int64

// ItemMeta is catalog metadata for one item, refreshed periodically from
// the upstream /mapping endpoint.
type ItemMeta struct {
	ID       ItemID `json:"id"`
	Name     string `json:"name"`
	Members  bool   `json:"members"`
	BuyLimit int    `json:"buy_limit"`
	Examine  string `json:"examine,omitempty"`
}

// Tradeable reports whether the item is eligible for event detection —
// spec §3 excludes items with buy_limit == 0.
func (m ItemMeta) Tradeable() bool { return m.BuyLimit > 0 }

// Snapshot is one observation of (low, high, volume) for an item at an
// upstream-reported timestamp. Low/high/volume are pointers so a missing
// upstream value ("absent") is distinguishable from a genuine zero.
type Snapshot struct {
	ItemID    ItemID `json:"item_id" db:"item_id"`
	Timestamp int64  `json:"timestamp" db:"ts"`
	Low       *int64 `json:"low,omitempty" db:"low"`
	High      *int64 `json:"high,omitempty" db:"high"`
	Volume    *int64 `json:"volume,omitempty" db:"volume"`
}

// Key returns the (item_id, timestamp) primary key spec §3 requires to be
// unique.
func (s Snapshot) Key() (ItemID, int64) { return s.ItemID, s.Timestamp }

// TierGroup partitions the ten tiers into the two cosmetic bands spec §3
// names.
type TierGroup string

const (
	GroupMetals TierGroup = "metals"
	GroupGems   TierGroup = "gems"
)

// Tier is one of the ten named bands partitioning the score domain [0,100].
type Tier struct {
	Name     string
	Emoji    string
	MinScore int
	MaxScore int
	Group    TierGroup
}

// Tiers is the seeded, ordered tier table from spec §3. Ranges are disjoint
// and cover [0,100] exactly.
var Tiers = []Tier{
	{Name: "iron", Emoji: "⚙️", MinScore: 0, MaxScore: 10, Group: GroupMetals},
	{Name: "copper", Emoji: "🟤", MinScore: 11, MaxScore: 20, Group: GroupMetals},
	{Name: "bronze", Emoji: "🥉", MinScore: 21, MaxScore: 30, Group: GroupMetals},
	{Name: "silver", Emoji: "⚪", MinScore: 31, MaxScore: 40, Group: GroupMetals},
	{Name: "gold", Emoji: "🟡", MinScore: 41, MaxScore: 50, Group: GroupMetals},
	{Name: "platinum", Emoji: "⬜", MinScore: 51, MaxScore: 60, Group: GroupMetals},
	{Name: "ruby", Emoji: "🔴", MinScore: 61, MaxScore: 70, Group: GroupGems},
	{Name: "sapphire", Emoji: "🔵", MinScore: 71, MaxScore: 80, Group: GroupGems},
	{Name: "emerald", Emoji: "🟢", MinScore: 81, MaxScore: 90, Group: GroupGems},
	{Name: "diamond", Emoji: "💎", MinScore: 91, MaxScore: 100, Group: GroupGems},
}

// TierByScore returns the first tier whose [min,max] range contains score,
// clamped to [0,100] first as spec §4.D requires.
func TierByScore(score float64) Tier {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	for _, t := range Tiers {
		if int(score) >= t.MinScore && int(score) <= t.MaxScore {
			return t
		}
	}
	return Tiers[len(Tiers)-1]
}

// TierByName looks up a tier by its name, for tenant config validation and
// min-tier comparisons.
func TierByName(name string) (Tier, bool) {
	for _, t := range Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return Tier{}, false
}

// TierOrder returns the tier's rank (0 = iron, 9 = diamond) for the
// tier_order() comparisons spec §4.G and §8 require. Unknown names sort
// below iron.
func TierOrder(name string) int {
	for i, t := range Tiers {
		if t.Name == name {
			return i
		}
	}
	return -1
}

// DumpFlag is one of the boolean flags spec §3 attaches to a DumpEvent.
type DumpFlag string

const (
	FlagSlowBuy    DumpFlag = "slow_buy"
	FlagOneGPDump  DumpFlag = "one_gp_dump"
	FlagSuper      DumpFlag = "super"
)

// DumpEvent is a transient price-drop-with-oversupply detection, recomputed
// every poll (spec §3, §4.D).
type DumpEvent struct {
	ItemID        ItemID     `json:"item_id"`
	Timestamp     int64      `json:"timestamp"`
	PrevLow       int64      `json:"prev_low"`
	CurLow        int64      `json:"cur_low"`
	DropPct       float64    `json:"drop_pct"`
	VolSpikePct   float64    `json:"vol_spike_pct"`
	OversupplyPct float64    `json:"oversupply_pct"`
	BuySpeedPct   float64    `json:"buy_speed_pct"`
	Score         float64    `json:"score"`
	Tier          string     `json:"tier"`
	Flags         []DumpFlag `json:"flags"`
}

// HasFlag reports whether a flag is set.
func (d DumpEvent) HasFlag(f DumpFlag) bool {
	for _, x := range d.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// SpikeEvent is a transient price-rise detection (spec §3, §4.D).
type SpikeEvent struct {
	ItemID    ItemID  `json:"item_id"`
	Timestamp int64   `json:"timestamp"`
	PrevHigh  int64   `json:"prev_high"`
	CurHigh   int64   `json:"cur_high"`
	RisePct   float64 `json:"rise_pct"`
	Volume    int64   `json:"volume"`
}

// RiskLevel buckets a FlipCandidate's composite risk score (spec §4.D).
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskVeryHigh RiskLevel = "very_high"
)

// FlipCandidate is a transient (low, high) margin opportunity (spec §3, §4.D).
type FlipCandidate struct {
	ItemID          ItemID    `json:"item_id"`
	Timestamp       int64     `json:"timestamp"`
	Buy             int64     `json:"buy"`
	Sell            int64     `json:"sell"`
	InstaBuy        int64     `json:"insta_buy"`
	InstaSell       int64     `json:"insta_sell"`
	MarginGP        int64     `json:"margin_gp"`
	ROIPct          float64   `json:"roi_pct"`
	Volume          int64     `json:"volume"`
	BuyLimit        int       `json:"buy_limit"`
	RiskScore       float64   `json:"risk_score"`
	RiskLevel       RiskLevel `json:"risk_level"`
	LiquidityScore  float64   `json:"liquidity_score"`
}
