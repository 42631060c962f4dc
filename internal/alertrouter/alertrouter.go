// Package alertrouter implements the Alert Router (spec §4.G): the
// per-tick fan-out of dump/spike/flip events to tenant-configured chat
// channels with threshold, tier, and rate-limit filtering and
// cross-poll deduplication. Grounded on the teacher's
// internal/application/alerts.go (ThrottleSettings, AlertState's
// LastAlertTime map, fingerprint-based dedup, shouldThrottle composition)
// generalized from single-process crypto-candidate alerts to multi-tenant
// market-event fan-out, and on alerts_discord.go's embed-building shape
// carried through the chategress.Payload boundary.
package alertrouter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/cache"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/chategress"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/metrics"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/model"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/tenant"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/watchlist"
)

// Kind identifies the category a RoutableEvent was derived from.
type Kind string

const (
	KindDump Kind = "dump"
	KindSpike Kind = "spike"
	KindFlip Kind = "flip"
)

// RoutableEvent is the common shape the router filters, regardless of
// whether it came from a DumpEvent, SpikeEvent, or FlipCandidate. Tier is
// populated only for dumps; spikes and flips leave Tier empty so the tier
// filters in spec §4.G steps 2-3 are a no-op for them. Score holds the dump
// score for dumps, the rise percentage for spikes, and the ROI percentage
// for flips, per the router's resolution of the spec's generic
// "e.tier"/"e.score" language to the fields each concrete event actually has.
type RoutableEvent struct {
	Kind      Kind
	ItemID    model.ItemID
	Timestamp int64
	Score     float64
	Tier      string
	MarginGP  int64
	RiskLevel model.RiskLevel
	Channel   string // pre-resolved general fallback channel for this kind
	Dump      *model.DumpEvent
	Spike     *model.SpikeEvent
	Flip      *model.FlipCandidate
}

// FromDumps, FromSpikes, FromFlips convert engine output into RoutableEvents.
func FromDumps(evs []model.DumpEvent) []RoutableEvent {
	out := make([]RoutableEvent, 0, len(evs))
	for i := range evs {
		e := evs[i]
		out = append(out, RoutableEvent{
			Kind: KindDump, ItemID: e.ItemID, Timestamp: e.Timestamp,
			Score: e.Score, Tier: e.Tier, Channel: tenant.ChannelDumps, Dump: &e,
		})
	}
	return out
}

func FromSpikes(evs []model.SpikeEvent) []RoutableEvent {
	out := make([]RoutableEvent, 0, len(evs))
	for i := range evs {
		e := evs[i]
		out = append(out, RoutableEvent{
			Kind: KindSpike, ItemID: e.ItemID, Timestamp: e.Timestamp,
			Score: e.RisePct, Channel: tenant.ChannelSpikes, Spike: &e,
		})
	}
	return out
}

func FromFlips(evs []model.FlipCandidate) []RoutableEvent {
	out := make([]RoutableEvent, 0, len(evs))
	for i := range evs {
		e := evs[i]
		out = append(out, RoutableEvent{
			Kind: KindFlip, ItemID: e.ItemID, Timestamp: e.Timestamp,
			Score: e.ROIPct, MarginGP: e.MarginGP, RiskLevel: e.RiskLevel,
			Channel: tenant.ChannelFlips, Flip: &e,
		})
	}
	return out
}

// qualityLabel buckets a tier name into one of the six quality roles spec
// §3 names, by tier rank: iron/copper deal, bronze/silver good,
// gold/platinum premium, ruby elite, sapphire/emerald god_tier, diamond
// nuclear. Unknown tiers get no label.
func qualityLabel(tierName string) string {
	order := model.TierOrder(tierName)
	if order < 0 {
		return ""
	}
	switch {
	case order <= 1:
		return tenant.RoleQualityDeal
	case order <= 3:
		return tenant.RoleQualityGood
	case order <= 5:
		return tenant.RoleQualityPremium
	case order <= 6:
		return tenant.RoleQualityElite
	case order <= 8:
		return tenant.RoleQualityGodTier
	default:
		return tenant.RoleQualityNuclear
	}
}

func riskRole(level model.RiskLevel) string {
	switch level {
	case model.RiskLow:
		return tenant.RoleRiskLow
	case model.RiskMedium:
		return tenant.RoleRiskMedium
	case model.RiskHigh:
		return tenant.RoleRiskHigh
	case model.RiskVeryHigh:
		return tenant.RoleRiskVeryHigh
	default:
		return ""
	}
}

// Tenants is the subset of tenant.Store the router depends on.
type Tenants interface {
	List() ([]string, error)
	Get(tenantID string) (tenant.Config, error)
}

// Watchlists is the subset of watchlist.Store the router depends on, used
// to narrow a tenant's alerts per SPEC_FULL.md §6.
type Watchlists interface {
	List(tenantID string) ([]watchlist.Entry, error)
}

// Router fans out a tick's RoutableEvents to every known, un-banned tenant.
type Router struct {
	Tenants      Tenants
	Watchlists   Watchlists // optional; nil disables watchlist narrowing
	Egress       chategress.Egress
	Dedup        cache.Cache
	IngestPeriod int64 // seconds; used both as the dedup bucket width and DeliveryRecord TTL
	Metrics      *metrics.Registry // optional; nil disables metric recording
	Log          zerolog.Logger
}

// emitted records a successful delivery of kind.
func (r *Router) emitted(kind Kind) {
	if r.Metrics != nil {
		r.Metrics.AlertsEmitted.WithLabelValues(string(kind)).Inc()
	}
}

// dropped records an event that matched a tenant but was not delivered.
func (r *Router) dropped(reason string) {
	if r.Metrics != nil {
		r.Metrics.AlertsDropped.WithLabelValues(reason).Inc()
	}
}

// tickCounters tracks, for one call to RouteTick, how many alerts each
// tenant has already emitted — spec §4.G step 8's "current ingest tick"
// rate cap, which must not persist across ticks.
type tickCounters struct {
	mu     sync.Mutex
	counts map[string]int
}

func newTickCounters() *tickCounters { return &tickCounters{counts: map[string]int{}} }

func (t *tickCounters) reserve(tenantID string, max int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[tenantID] >= max {
		return false
	}
	t.counts[tenantID]++
	return true
}

// RouteTick evaluates every event against every tenant and emits matches,
// processing events in descending score order (spec §4.G "Ordering") so the
// highest-value events win each tenant's rate budget. Cross-tenant work runs
// concurrently; per-event concurrency is not required since ordering must be
// preserved for the rate-cap law in spec §8.
func (r *Router) RouteTick(ctx context.Context, events []RoutableEvent) int {
	sorted := make([]RoutableEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ItemID < sorted[j].ItemID
	})

	tenantIDs, err := r.Tenants.List()
	if err != nil {
		r.Log.Error().Err(err).Msg("alertrouter: list tenants")
		return 0
	}

	counters := newTickCounters()
	emitted := 0
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, tid := range tenantIDs {
		tid := tid
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg, err := r.Tenants.Get(tid)
			if err != nil {
				r.Log.Warn().Err(err).Str("tenant", tid).Msg("alertrouter: load tenant")
				return
			}
			n := r.routeTenant(ctx, cfg, sorted, counters)
			mu.Lock()
			emitted += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	return emitted
}

func (r *Router) routeTenant(ctx context.Context, t tenant.Config, events []RoutableEvent, counters *tickCounters) int {
	if t.Banned {
		return 0
	}

	allow := r.watchlistAllowSet(t.TenantID)

	sent := 0
	broken := map[string]bool{}
	for _, e := range events {
		if allow != nil && !allow[e.ItemID] {
			r.dropped("watchlist")
			continue
		}
		if !r.passesFilters(t, e) {
			r.dropped("filtered")
			continue
		}
		channel := r.resolveChannel(t, e)
		if channel == "" || broken[channel] {
			r.dropped("no_channel")
			continue
		}

		bucket := int64(0)
		if r.IngestPeriod > 0 {
			bucket = e.Timestamp / r.IngestPeriod
		}
		key := deliveryKey(t.TenantID, e.ItemID, e.Kind, bucket)
		if _, ok := r.Dedup.Get(ctx, key); ok {
			r.dropped("dedup")
			continue
		}

		max := t.AlertThresholds.MaxAlertsPerInterval
		if max <= 0 {
			max = 1
		}
		if !counters.reserve(t.TenantID, max) {
			r.dropped("rate_cap")
			continue // excess events dropped, not queued across ticks (spec §4.G step 8)
		}

		mentions := r.mentions(t, e)
		payload := buildPayload(e, mentions)
		if _, err := r.Egress.Post(channel, payload); err != nil {
			r.Log.Warn().Err(err).Str("tenant", t.TenantID).Str("channel", channel).Msg("alertrouter: post failed")
			r.dropped("egress_error")
			var perm *chategress.PermanentError
			if errors.As(err, &perm) {
				broken[channel] = true
			}
			continue
		}

		ttl := ingestPeriodDuration(r.IngestPeriod)
		r.Dedup.Set(ctx, key, []byte{1}, ttl)
		r.emitted(e.Kind)
		sent++
	}
	return sent
}

// watchlistAllowSet returns the tenant-wide item allowlist (watchlist
// entries with no user_id) per SPEC_FULL.md §6, or nil if the tenant has no
// such entries and no narrowing applies. Entries with a user_id set are a
// per-user personal list surfaced only through the watchlist read endpoint,
// not through tenant-wide channel routing.
func (r *Router) watchlistAllowSet(tenantID string) map[model.ItemID]bool {
	if r.Watchlists == nil {
		return nil
	}
	entries, err := r.Watchlists.List(tenantID)
	if err != nil {
		r.Log.Warn().Err(err).Str("tenant", tenantID).Msg("alertrouter: load watchlist")
		return nil
	}
	var allow map[model.ItemID]bool
	for _, e := range entries {
		if e.UserID != "" {
			continue
		}
		if allow == nil {
			allow = map[model.ItemID]bool{}
		}
		allow[e.ItemID] = true
	}
	return allow
}

// passesFilters implements spec §4.G steps 2-4.
func (r *Router) passesFilters(t tenant.Config, e RoutableEvent) bool {
	if e.Kind == KindDump && t.MinTierName != "" && e.Tier != "" {
		if model.TierOrder(e.Tier) < model.TierOrder(t.MinTierName) {
			return false
		}
	}
	if len(t.AlertThresholds.EnabledTiers) > 0 && e.Tier != "" {
		found := false
		for _, name := range t.AlertThresholds.EnabledTiers {
			if name == e.Tier {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if e.Score < t.AlertThresholds.MinScore {
		return false
	}
	if e.MarginGP != 0 && e.MarginGP < t.AlertThresholds.MinMarginGP {
		return false
	}
	return true
}

// resolveChannel implements spec §4.G step 5.
func (r *Router) resolveChannel(t tenant.Config, e RoutableEvent) string {
	var kind string
	switch e.Kind {
	case KindFlip:
		kind = t.ClassifyFlipChannel(e.MarginGP)
	case KindDump:
		kind = tenant.ChannelDumps
	case KindSpike:
		kind = tenant.ChannelSpikes
	}
	if ch, ok := t.Channels[kind]; ok && ch != "" {
		return ch
	}
	if ch, ok := t.Channels[e.Channel]; ok && ch != "" {
		return ch
	}
	return ""
}

// mentions implements spec §4.G step 6.
func (r *Router) mentions(t tenant.Config, e RoutableEvent) []string {
	var out []string
	if e.Tier != "" {
		if tr, ok := t.TierRoles[e.Tier]; ok && tr.Enabled && tr.RoleID != "" {
			out = append(out, roleMention(tr.RoleID))
		}
		if q := qualityLabel(e.Tier); q != "" {
			if role, ok := t.Roles[q]; ok && role != "" {
				out = append(out, roleMention(role))
			}
		}
	}
	if e.Kind == KindFlip {
		if role, ok := t.Roles[riskRole(e.RiskLevel)]; ok && role != "" {
			out = append(out, roleMention(role))
		}
	}
	if role, ok := t.Roles[string(e.Kind)]; ok && role != "" {
		out = append(out, roleMention(role))
	}
	return out
}

func roleMention(roleID string) string { return fmt.Sprintf("<@&%s>", roleID) }

func deliveryKey(tenantID string, itemID model.ItemID, kind Kind, bucket int64) string {
	return fmt.Sprintf("delivery:%s:%d:%s:%d", tenantID, itemID, kind, bucket)
}

func ingestPeriodDuration(periodSeconds int64) time.Duration {
	if periodSeconds <= 0 {
		periodSeconds = 60
	}
	return time.Duration(periodSeconds) * time.Second
}
