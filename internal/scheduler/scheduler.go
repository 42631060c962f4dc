// Package scheduler runs three fixed-cadence loops: ingest (A through G,
// with alert fan-out done inline in each ingest tick), catalog refresh, and
// prune, and supervises their shutdown.
// Grounded on the teacher's internal/scheduler/scheduler.go (SchedulerConfig
// ticker loop, per-job Start(ctx), context-cancellation shape) collapsed
// from a YAML job table down to these three built-in loops, since
// nothing in spec §4.J calls for operator-defined jobs.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/alertrouter"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/catalog"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/chategress"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/engine"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/feed"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/httpapi"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/metrics"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/model"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/store"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/views"
)

// samplesPerDay is the 5-minute-bucket count the engine's expected_5m
// formula divides by (spec §4.D); the scheduler's rolling volume average
// is expressed in the same daily unit so it plugs straight into
// engine.Input.AvgDailyVolume.
const samplesPerDay = 288

// windowInterval throttles /5m window fetches independently of the
// ingest_period cadence: the upstream only refreshes that feed every five
// minutes (spec §4.J), so calling it every tick would needlessly block on
// the client's own rate limiter.
const windowInterval = 5 * time.Minute

// degradedThreshold is spec §8 S6's "three consecutive tick failures"
// boundary for upstream=degraded.
const degradedThreshold = 3

// backoffFloor is spec §5's back-pressure trigger: at >= 5 consecutive
// errors, L1 stops waiting for the regular ticker and backs off instead.
const backoffFloor = 5

// backoffCap is spec §5's "sleep = min(base*2^n, 300s)" ceiling.
const backoffCap = 300 * time.Second

// Config holds every cadence and threshold the scheduler needs, mirroring
// config.Cadences/config.Thresholds without importing the config package
// (same dependency-avoidance reasoning as internal/engine).
type Config struct {
	IngestPeriod  time.Duration
	CatalogPeriod time.Duration
	PrunePeriod   time.Duration
	Retention     time.Duration
	Thresholds    engine.Thresholds
	TopN          int
	Shutdown      time.Duration
}

// volumeStat is an exponentially-weighted moving average of one item's
// per-tick traded volume, used to approximate "average daily volume" for
// the engine's vol_spike_pct formula (spec §9 Open Questions flags this
// input as ambiguous upstream; this is the interpretive decision recorded
// in the design ledger).
type volumeStat struct {
	mean float64
	n    int
}

// Scheduler drives the ingest, catalog-refresh, and prune loops and
// reports back-pressure state to the Read API's health endpoint.
type Scheduler struct {
	Feed    *feed.Client
	Store   store.SnapshotStore
	Catalog *catalog.Catalog
	Views   *views.Store
	Router  *alertrouter.Router
	Metrics *metrics.Registry
	Log     zerolog.Logger
	cfg     Config

	// AdminWebhookURL, when set, receives a plain alert on StoreFailure
	// (spec §7). Validated against tenant.ValidateWebhook at startup.
	AdminWebhookURL string
	adminClient     *http.Client

	mu               sync.Mutex
	prevSnapshot     map[model.ItemID]model.Snapshot
	snapshotCount    map[model.ItemID]int
	volumeStats      map[model.ItemID]volumeStat
	lastWindowFetch  time.Time
	consecutiveErrors int
}

// New constructs a Scheduler. cfg's zero-value fields fall back to spec
// §4.J's defaults.
func New(f *feed.Client, st store.SnapshotStore, cat *catalog.Catalog, v *views.Store, router *alertrouter.Router, reg *metrics.Registry, log zerolog.Logger, cfg Config) *Scheduler {
	if cfg.IngestPeriod <= 0 {
		cfg.IngestPeriod = 60 * time.Second
	}
	if cfg.CatalogPeriod <= 0 {
		cfg.CatalogPeriod = 6 * time.Hour
	}
	if cfg.PrunePeriod <= 0 {
		cfg.PrunePeriod = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 50
	}
	if cfg.Shutdown <= 0 {
		cfg.Shutdown = 30 * time.Second
	}
	return &Scheduler{
		Feed: f, Store: st, Catalog: cat, Views: v, Router: router, Metrics: reg, Log: log, cfg: cfg,
		adminClient:   &http.Client{Timeout: 10 * time.Second},
		prevSnapshot:  map[model.ItemID]model.Snapshot{},
		snapshotCount: map[model.ItemID]int{},
		volumeStats:   map[model.ItemID]volumeStat{},
	}
}

// Start launches L1 (ingest), L2 (catalog refresh), and L3 (prune) and
// blocks until ctx is cancelled. Cancellation propagates to all three and
// Start returns once they finish or cfg.Shutdown elapses, whichever first.
func (s *Scheduler) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.ingestLoop(ctx) }()
	go func() { defer wg.Done(); s.catalogLoop(ctx) }()
	go func() { defer wg.Done(); s.pruneLoop(ctx) }()

	<-ctx.Done()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.Shutdown):
		s.Log.Warn().Dur("timeout", s.cfg.Shutdown).Msg("scheduler shutdown timed out, loops still draining")
		return fmt.Errorf("scheduler shutdown exceeded %s", s.cfg.Shutdown)
	}
}

// ingestLoop runs L1: fixed cadence under normal operation, exponential
// back-off once consecutiveErrors crosses backoffFloor, per spec §5's
// back-pressure rule. It never exits on upstream failure.
func (s *Scheduler) ingestLoop(ctx context.Context) {
	for {
		if err := s.tick(ctx); err != nil {
			s.Log.Warn().Err(err).Msg("ingest tick failed")
		}

		wait := s.nextIngestWait()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// nextIngestWait implements "sleep = min(base*2^n, 300s)" once
// consecutive_errors >= 5; otherwise it is just the configured cadence.
func (s *Scheduler) nextIngestWait() time.Duration {
	s.mu.Lock()
	n := s.consecutiveErrors
	s.mu.Unlock()
	if n < backoffFloor {
		return s.cfg.IngestPeriod
	}
	backoff := time.Duration(float64(s.cfg.IngestPeriod) * math.Pow(2, float64(n-backoffFloor)))
	if backoff > backoffCap {
		backoff = backoffCap
	}
	return backoff
}

// tick executes one A->B->D->E->G pass (spec §4.J).
func (s *Scheduler) tick(ctx context.Context) error {
	timer := s.Metrics.StartStage("ingest")
	result := "ok"
	defer func() { timer.Stop(result) }()

	latest, latestTS, err := s.Feed.FetchLatest(ctx)
	if err != nil {
		result = "error"
		s.recordFailure()
		return fmt.Errorf("fetch latest: %w", err)
	}

	window := s.windowIfDue(ctx)
	s.reportBreakerStates()

	snapshots := feed.MergeToSnapshots(latestTS, latest, window)
	if len(snapshots) == 0 {
		s.recordSuccess()
		return nil
	}

	if err := s.Store.PutSnapshots(ctx, snapshots); err != nil {
		result = "error"
		s.recordFailure()
		if perr := chategress.PostAdminWebhook(s.adminClient, s.AdminWebhookURL, fmt.Sprintf("store failure: %v", err)); perr != nil {
			s.Log.Warn().Err(perr).Msg("admin webhook notify failed")
		}
		return fmt.Errorf("put snapshots: %w", err)
	}

	inputs := s.buildInputs(snapshots)
	res := engine.Run(inputs, s.cfg.Thresholds)
	s.Metrics.DumpsDetected.Add(float64(len(res.Dumps)))
	s.Metrics.SpikesDetected.Add(float64(len(res.Spikes)))
	s.Metrics.FlipsDetected.Add(float64(len(res.Flips)))

	allItems := s.Catalog.All()
	view := s.Views.Build(res.Dumps, res.Spikes, res.Flips, allItems, s.cfg.TopN)
	s.Metrics.ViewGeneration.Set(float64(view.Generation))

	events := make([]alertrouter.RoutableEvent, 0, len(res.Dumps)+len(res.Spikes)+len(res.Flips))
	events = append(events, alertrouter.FromDumps(res.Dumps)...)
	events = append(events, alertrouter.FromSpikes(res.Spikes)...)
	events = append(events, alertrouter.FromFlips(res.Flips)...)
	emitted := s.Router.RouteTick(ctx, events)
	s.Log.Info().
		Int("dumps", len(res.Dumps)).Int("spikes", len(res.Spikes)).Int("flips", len(res.Flips)).
		Int("alerts_emitted", emitted).Uint64("view_generation", view.Generation).
		Msg("ingest tick completed")

	s.recordSuccess()
	return nil
}

// buildInputs assembles one engine.Input per item present in this tick's
// snapshots, carrying forward the previous-tick snapshot and rolling
// volume average (spec §4.D's Prev/Cur/AvgDailyVolume fields).
func (s *Scheduler) buildInputs(snapshots []model.Snapshot) []engine.Input {
	s.mu.Lock()
	defer s.mu.Unlock()

	inputs := make([]engine.Input, 0, len(snapshots))
	for _, cur := range snapshots {
		meta, ok := s.Catalog.Lookup(cur.ItemID)
		if !ok {
			continue
		}

		prev, hadPrev := s.prevSnapshot[cur.ItemID]
		count := s.snapshotCount[cur.ItemID]
		if hadPrev {
			count++
		} else {
			count = 1
		}
		if count > 2 {
			count = 2
		}

		inputs = append(inputs, engine.Input{
			Meta:           meta,
			Prev:           prev,
			Cur:            cur,
			AvgDailyVolume: s.avgDailyVolumeLocked(cur.ItemID),
			SnapshotCount:  count,
		})

		s.observeVolumeLocked(cur.ItemID, cur.Volume)
		s.prevSnapshot[cur.ItemID] = cur
		s.snapshotCount[cur.ItemID] = count
	}
	return inputs
}

func (s *Scheduler) avgDailyVolumeLocked(id model.ItemID) float64 {
	return s.volumeStats[id].mean * samplesPerDay
}

// observeVolumeLocked folds one observation into the item's EWMA. alpha=0.1
// gives a half-life of about seven observations. buildInputs reads the
// average before folding in the current tick, so a spiking tick never moves
// its own baseline.
func (s *Scheduler) observeVolumeLocked(id model.ItemID, vol *int64) {
	if vol == nil {
		return
	}
	const alpha = 0.1
	st := s.volumeStats[id]
	v := float64(*vol)
	if st.n == 0 {
		st.mean = v
	} else {
		st.mean = st.mean*(1-alpha) + v*alpha
	}
	st.n++
	s.volumeStats[id] = st
}

// windowIfDue fetches the /5m volume window at most once per
// windowInterval; a failure degrades to instant-price-only snapshots
// rather than failing the whole tick, since /latest already succeeded.
func (s *Scheduler) windowIfDue(ctx context.Context) map[int64]feed.WindowEntry {
	s.mu.Lock()
	due := time.Since(s.lastWindowFetch) >= windowInterval
	s.mu.Unlock()
	if !due {
		return nil
	}

	window, _, err := s.Feed.FetchWindow(ctx, "5m")
	if err != nil {
		s.Log.Warn().Err(err).Msg("5m window fetch failed, continuing with instant prices only")
		return nil
	}

	s.mu.Lock()
	s.lastWindowFetch = time.Now()
	s.mu.Unlock()
	return window
}

// reportBreakerStates publishes every feed endpoint breaker's current state
// to the sentinel_breaker_state gauge so an open circuit is visible on the
// dashboard before it shows up as consecutive ingest failures.
func (s *Scheduler) reportBreakerStates() {
	if s.Feed == nil {
		return
	}
	for name, state := range s.Feed.BreakerStates() {
		s.Metrics.SetBreakerState(name, state)
	}
}

func (s *Scheduler) recordFailure() {
	s.mu.Lock()
	s.consecutiveErrors++
	s.mu.Unlock()
	s.Metrics.ConsecutiveUpstreamErrors.Set(float64(s.consecutiveErrors))
}

func (s *Scheduler) recordSuccess() {
	s.mu.Lock()
	s.consecutiveErrors = 0
	s.mu.Unlock()
	s.Metrics.ConsecutiveUpstreamErrors.Set(0)
}

// catalogLoop runs L2: refresh the item catalog on its own cadence,
// independent of ingest (spec §4.J).
func (s *Scheduler) catalogLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CatalogPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Catalog.Refresh(ctx); err != nil {
				s.Log.Warn().Err(err).Msg("catalog refresh failed")
			}
		}
	}
}

// pruneLoop runs L3: evict snapshots older than the retention window on
// its own cadence (spec §4.J).
func (s *Scheduler) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PrunePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Store.Prune(ctx, s.cfg.Retention)
			if err != nil {
				s.Log.Warn().Err(err).Msg("prune failed")
				continue
			}
			s.Log.Info().Int64("rows_pruned", n).Msg("prune completed")
		}
	}
}

// Health implements httpapi.HealthReporter for the /api/health endpoint
// (spec §8 S6).
func (s *Scheduler) Health() httpapi.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	upstream := "ok"
	if s.consecutiveErrors >= degradedThreshold {
		upstream = "degraded"
	}
	return httpapi.HealthStatus{Upstream: upstream, ConsecutiveErrors: s.consecutiveErrors}
}
