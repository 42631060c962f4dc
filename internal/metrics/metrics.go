// Package metrics holds the process-wide Prometheus registry, grounded on
// the teacher's internal/interfaces/http/metrics.go (MetricsRegistry,
// prometheus.MustRegister, StepTimer pattern) generalized from scanner
// pipeline metrics to ingest-tick/alert-router metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric this process exposes.
type Registry struct {
	TickDuration   *prometheus.HistogramVec
	TickErrors     *prometheus.CounterVec
	DumpsDetected  prometheus.Counter
	SpikesDetected prometheus.Counter
	FlipsDetected  prometheus.Counter
	AlertsEmitted  *prometheus.CounterVec
	AlertsDropped  *prometheus.CounterVec
	BreakerState   *prometheus.GaugeVec
	ViewGeneration prometheus.Gauge
	ConsecutiveUpstreamErrors prometheus.Gauge
}

// NewRegistry constructs and registers every metric.
func NewRegistry() *Registry {
	r := &Registry{
		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_tick_duration_seconds",
				Help:    "Duration of one ingest tick (A through G) in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage", "result"},
		),
		TickErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_tick_errors_total",
				Help: "Total ingest tick failures by stage",
			},
			[]string{"stage"},
		),
		DumpsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_dumps_detected_total",
			Help: "Total dump events detected across all ticks",
		}),
		SpikesDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_spikes_detected_total",
			Help: "Total spike events detected across all ticks",
		}),
		FlipsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_flips_detected_total",
			Help: "Total flip candidates detected across all ticks",
		}),
		AlertsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_alerts_emitted_total",
				Help: "Total alerts emitted by event kind",
			},
			[]string{"kind"},
		),
		AlertsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_alerts_dropped_total",
				Help: "Total alerts dropped by reason (filtered, watchlist, no_channel, dedup, rate_cap, egress_error)",
			},
			[]string{"reason"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentinel_breaker_state",
				Help: "Circuit breaker state by name (0=closed, 1=half-open, 2=open)",
			},
			[]string{"breaker"},
		),
		ViewGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_view_generation",
			Help: "Current materialized view generation counter",
		}),
		ConsecutiveUpstreamErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_consecutive_upstream_errors",
			Help: "Consecutive upstream fetch failures",
		}),
	}

	prometheus.MustRegister(
		r.TickDuration, r.TickErrors, r.DumpsDetected, r.SpikesDetected,
		r.FlipsDetected, r.AlertsEmitted, r.AlertsDropped, r.BreakerState,
		r.ViewGeneration, r.ConsecutiveUpstreamErrors,
	)
	return r
}

// StageTimer times one stage of a tick and records the result on Stop.
type StageTimer struct {
	registry *Registry
	stage    string
	start    time.Time
}

// StartStage begins timing a pipeline stage.
func (r *Registry) StartStage(stage string) *StageTimer {
	return &StageTimer{registry: r, stage: stage, start: time.Now()}
}

// Stop records the stage's duration and, on failure, increments the error
// counter for the stage.
func (t *StageTimer) Stop(result string) {
	t.registry.TickDuration.WithLabelValues(t.stage, result).Observe(time.Since(t.start).Seconds())
	if result != "ok" {
		t.registry.TickErrors.WithLabelValues(t.stage).Inc()
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (r *Registry) Handler() http.Handler { return promhttp.Handler() }

// breakerStateValue converts a gobreaker-style state name into the gauge
// encoding documented in BreakerState's help text.
func breakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// SetBreakerState records a circuit breaker's current state.
func (r *Registry) SetBreakerState(name, state string) {
	r.BreakerState.WithLabelValues(name).Set(breakerStateValue(state))
}
