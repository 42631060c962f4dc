// Package feed implements the Upstream Client (spec §4.A): rate-limited,
// retried, circuit-broken HTTP access to the public Grand Exchange price
// feed. Grounded on the teacher's internal/providers/kraken/client.go
// (descriptive User-Agent, per-endpoint rate limiter, makeRequest helper)
// generalized from Kraken's REST shape to the wiki price API's shape.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/breaker"
)

// maxSaneValue is spec §4.A's "absurd" cutoff: values above 2^48 or
// negative are truncated to absent rather than trusted.
const maxSaneValue = 1 << 48

// Config configures the Client.
type Config struct {
	BaseURL    string
	UserAgent  string
	RPSLatest  float64
	RPS5m      float64
	RPS1h      float64
	HTTPClient *http.Client
}

// Client is a rate-limited, retried, circuit-broken feed client.
type Client struct {
	cfg         Config
	http        *http.Client
	limLatest   *rate.Limiter
	lim5m       *rate.Limiter
	lim1h       *rate.Limiter
	brLatest    *breaker.Breaker
	br5m        *breaker.Breaker
	br1h        *breaker.Breaker
	brMapping   *breaker.Breaker
}

// NewClient constructs a Client. Rate limiters are calibrated so the client
// never exceeds one call per endpoint per configured period plus a small
// burst tolerance, matching spec §4.A.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://prices.runescape.wiki/api/v1/osrs"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "GE-Sentinel/1.0"
	}
	if cfg.RPSLatest <= 0 {
		cfg.RPSLatest = 1.0 / 30
	}
	if cfg.RPS5m <= 0 {
		cfg.RPS5m = 1.0 / 300
	}
	if cfg.RPS1h <= 0 {
		cfg.RPS1h = 1.0 / 3600
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}

	return &Client{
		cfg:       cfg,
		http:      httpClient,
		limLatest: rate.NewLimiter(rate.Limit(cfg.RPSLatest), 2),
		lim5m:     rate.NewLimiter(rate.Limit(cfg.RPS5m), 1),
		lim1h:     rate.NewLimiter(rate.Limit(cfg.RPS1h), 1),
		brLatest:  breaker.New("feed.latest"),
		br5m:      breaker.New("feed.5m"),
		br1h:      breaker.New("feed.1h"),
		brMapping: breaker.New("feed.mapping"),
	}
}

// FetchLatest calls GET /latest and returns the per-item low/high snapshot.
func (c *Client) FetchLatest(ctx context.Context) (map[int64]LatestEntry, int64, error) {
	var resp latestResponse
	if err := c.getJSON(ctx, c.limLatest, c.brLatest, "/latest", &resp); err != nil {
		return nil, 0, err
	}
	out := make(map[int64]LatestEntry, len(resp.Data))
	for idStr, v := range resp.Data {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		out[id] = LatestEntry{
			High:     sanitize(v.High),
			HighTime: v.HighTime,
			Low:      sanitize(v.Low),
			LowTime:  v.LowTime,
		}
	}
	return out, time.Now().Unix(), nil
}

// FetchWindow calls GET /5m or /1h depending on window.
func (c *Client) FetchWindow(ctx context.Context, window string) (map[int64]WindowEntry, int64, error) {
	var lim *rate.Limiter
	var br *breaker.Breaker
	switch window {
	case "5m":
		lim, br = c.lim5m, c.br5m
	case "1h":
		lim, br = c.lim1h, c.br1h
	default:
		return nil, 0, fmt.Errorf("%w: unknown window %q", ErrMalformed, window)
	}

	var resp windowResponse
	if err := c.getJSON(ctx, lim, br, "/"+window, &resp); err != nil {
		return nil, 0, err
	}
	out := make(map[int64]WindowEntry, len(resp.Data))
	for idStr, v := range resp.Data {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		out[id] = WindowEntry{
			AvgHighPrice:    sanitize(v.AvgHighPrice),
			HighPriceVolume: v.HighPriceVolume,
			AvgLowPrice:     sanitize(v.AvgLowPrice),
			LowPriceVolume:  v.LowPriceVolume,
		}
	}
	return out, resp.Timestamp, nil
}

// FetchMapping calls GET /mapping and returns item metadata.
func (c *Client) FetchMapping(ctx context.Context) ([]MappingEntry, error) {
	var resp []MappingEntry
	if err := c.getJSON(ctx, nil, c.brMapping, "/mapping", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// BreakerStates reports every endpoint breaker's current state, keyed by
// the same name each was constructed with, for the scheduler to publish as
// the sentinel_breaker_state gauge.
func (c *Client) BreakerStates() map[string]string {
	return map[string]string{
		"feed.latest":  c.brLatest.State(),
		"feed.5m":      c.br5m.State(),
		"feed.1h":      c.br1h.State(),
		"feed.mapping": c.brMapping.State(),
	}
}

// sanitize truncates absurd values (negative or > 2^48) to absent, per
// spec §4.A.
func sanitize(v *int64) *int64 {
	if v == nil {
		return nil
	}
	if *v < 0 || *v > maxSaneValue {
		return nil
	}
	return v
}

// getJSON performs a rate-limited, retried, circuit-broken GET and decodes
// the JSON body into out.
func (c *Client) getJSON(ctx context.Context, lim *rate.Limiter, br *breaker.Breaker, path string, out any) error {
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limit wait: %v", ErrRateLimited, err)
		}
	}

	body, err := withRetry(ctx, func() ([]byte, error) {
		v, err := br.Execute(func() (any, error) {
			return c.doRequest(ctx, path)
		})
		if err != nil {
			if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrMalformed) {
				return nil, err
			}
			// open-circuit / too-many-requests from gobreaker itself
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return v.([]byte), nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// doRequest issues one GET with a descriptive User-Agent (spec §4.A).
func (c *Client) doRequest(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		// 4xx is surfaced without retry, spec §4.A.
		return nil, fmt.Errorf("%w: status %d: %s", ErrMalformed, resp.StatusCode, string(body))
	}
	return body, nil
}

// withRetry retries transient failures with exponential backoff (base 1s,
// cap 30s, max 3 attempts); 4xx/malformed errors are never retried.
func withRetry(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	const maxAttempts = 3
	const base = time.Second
	const maxBackoff = 30 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		body, err := fn()
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		if attempt == maxAttempts-1 {
			break
		}

		backoff := time.Duration(math.Min(float64(maxBackoff), float64(base)*math.Pow(2, float64(attempt))))
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff/2 + jitter):
		}
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited)
}
