// Package breaker wraps sony/gobreaker with the trip policy used for every
// upstream price-feed endpoint call: a flaky or rate-limiting host should
// stop being hammered once it is clearly down. Chat egress does not go
// through a breaker.
package breaker

import (
	"time"

	cb "github.com/sony/gobreaker"
)

// Breaker wraps a named circuit breaker with the module's standard policy:
// trip after 3 consecutive failures, or at a failure rate of 5% or more once
// at least 20 requests have been observed in the rolling interval.
type Breaker struct{ cb *cb.CircuitBreaker }

// New constructs a Breaker named for logging/metrics purposes.
func New(name string) *Breaker {
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) >= 0.05
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

// Execute runs fn through the breaker, short-circuiting with
// gobreaker.ErrOpenState while the breaker is open.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) { return b.cb.Execute(fn) }

// State reports the current breaker state name (closed, half-open, open).
func (b *Breaker) State() string { return b.cb.State().String() }
