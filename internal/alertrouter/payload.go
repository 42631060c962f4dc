package alertrouter

import (
	"fmt"
	"time"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/chategress"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/model"
)

// tierColors mirrors the teacher's getEmbedColor priority-to-color mapping,
// reassigned from alert priority to tier group.
var tierColors = map[model.TierGroup]int{
	model.GroupMetals: 0x0099FF,
	model.GroupGems:   0xFF6600,
}

// buildPayload converts a RoutableEvent into the platform-agnostic Payload
// Chat Egress posts, grounded on the teacher's populateEntryEmbed/
// populateExitEmbed field-building shape.
func buildPayload(e RoutableEvent, mentions []string) chategress.Payload {
	switch e.Kind {
	case KindDump:
		return dumpPayload(*e.Dump, mentions)
	case KindSpike:
		return spikePayload(*e.Spike, mentions)
	default:
		return flipPayload(*e.Flip, mentions)
	}
}

func dumpPayload(d model.DumpEvent, mentions []string) chategress.Payload {
	tier, _ := model.TierByName(d.Tier)
	return chategress.Payload{
		Title:       fmt.Sprintf("%s DUMP: item %d", tier.Emoji, d.ItemID),
		Description: fmt.Sprintf("score **%.0f** (%s)", d.Score, d.Tier),
		Color:       tierColors[tier.Group],
		Fields: []chategress.Field{
			{Name: "Price", Value: fmt.Sprintf("%d → %d (-%.1f%%)", d.PrevLow, d.CurLow, d.DropPct), Inline: true},
			{Name: "Volume spike", Value: fmt.Sprintf("%.1f%%", d.VolSpikePct), Inline: true},
			{Name: "Oversupply", Value: fmt.Sprintf("%.1f%%", d.OversupplyPct), Inline: true},
			{Name: "Flags", Value: dumpFlagsText(d.Flags), Inline: false},
		},
		Mentions:  mentions,
		Timestamp: fmtTimestamp(d.Timestamp),
	}
}

func spikePayload(s model.SpikeEvent, mentions []string) chategress.Payload {
	return chategress.Payload{
		Title:       fmt.Sprintf("📈 SPIKE: item %d", s.ItemID),
		Description: fmt.Sprintf("rise **+%.1f%%**", s.RisePct),
		Color:       0x00FF88,
		Fields: []chategress.Field{
			{Name: "Price", Value: fmt.Sprintf("%d → %d", s.PrevHigh, s.CurHigh), Inline: true},
			{Name: "Volume", Value: fmt.Sprintf("%d", s.Volume), Inline: true},
		},
		Mentions:  mentions,
		Timestamp: fmtTimestamp(s.Timestamp),
	}
}

func flipPayload(f model.FlipCandidate, mentions []string) chategress.Payload {
	return chategress.Payload{
		Title:       fmt.Sprintf("💰 FLIP: item %d", f.ItemID),
		Description: fmt.Sprintf("margin **%d gp** (%.1f%% ROI)", f.MarginGP, f.ROIPct),
		Color:       flipColor(string(f.RiskLevel)),
		Fields: []chategress.Field{
			{Name: "Buy / Sell", Value: fmt.Sprintf("%d / %d", f.Buy, f.Sell), Inline: true},
			{Name: "Volume", Value: fmt.Sprintf("%d", f.Volume), Inline: true},
			{Name: "Risk", Value: string(f.RiskLevel), Inline: true},
		},
		Mentions:  mentions,
		Timestamp: fmtTimestamp(f.Timestamp),
	}
}

func dumpFlagsText(flags []model.DumpFlag) string {
	if len(flags) == 0 {
		return "none"
	}
	out := ""
	for i, f := range flags {
		if i > 0 {
			out += ", "
		}
		out += string(f)
	}
	return out
}

func flipColor(riskLevel string) int {
	switch riskLevel {
	case string(model.RiskLow):
		return 0x00FF00
	case string(model.RiskMedium):
		return 0xFFCC00
	case string(model.RiskHigh):
		return 0xFF6600
	default:
		return 0xFF0000
	}
}

func fmtTimestamp(unix int64) string {
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}
