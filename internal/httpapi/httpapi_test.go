package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/model"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/store"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/tenant"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/views"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/watchlist"
)

type fakeStore struct{}

func (fakeStore) PutSnapshots(ctx context.Context, batch []model.Snapshot) error { return nil }
func (fakeStore) Recent(ctx context.Context, item model.ItemID, n int) ([]model.Snapshot, error) {
	return nil, nil
}
func (fakeStore) Range(ctx context.Context, item model.ItemID, sinceTS int64) ([]model.Snapshot, error) {
	return []model.Snapshot{{ItemID: item, Timestamp: sinceTS + 1}}, nil
}
func (fakeStore) Prune(ctx context.Context, retention time.Duration) (int64, error) { return 3, nil }
func (fakeStore) Counts(ctx context.Context) (store.Counts, error) {
	return store.Counts{Snapshots: 10, Items: 2}, nil
}
func (fakeStore) Close() error { return nil }

type fakeHealth struct{ hs HealthStatus }

func (f fakeHealth) Health() HealthStatus { return f.hs }

func newTestServer(t *testing.T, adminKey string) *httptest.Server {
	t.Helper()
	v := views.NewStore()
	v.Build(
		[]model.DumpEvent{{ItemID: 1, Tier: "gold", Score: 45}, {ItemID: 2, Tier: "iron", Score: 5}},
		[]model.SpikeEvent{{ItemID: 3, RisePct: 20}},
		[]model.FlipCandidate{{ItemID: 4, MarginGP: 500000}},
		[]model.ItemMeta{{ID: 1, Name: "Shark", BuyLimit: 1000}},
		50,
	)

	tenants, err := tenant.NewStore(t.TempDir(), true)
	require.NoError(t, err)

	wl, err := watchlist.NewStore(t.TempDir())
	require.NoError(t, err)

	h := NewHandler(v, tenants, fakeStore{}, wl, fakeHealth{hs: HealthStatus{Upstream: "degraded", ConsecutiveErrors: 4}}, adminKey, false, 1000, 1000, zerolog.Nop())
	srv := NewServer(DefaultConfig(), h, zerolog.Nop())
	srv.MountMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte("sentinel_fake_metric 1\n"))
	}))
	return httptest.NewServer(srv.server.Handler)
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestTopFlips(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	var flips []model.FlipCandidate
	resp := getJSON(t, ts.URL+"/api/top", &flips)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, flips, 1)
	assert.Equal(t, model.ItemID(4), flips[0].ItemID)
}

func TestDumps_FilterByTier(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	var dumps []model.DumpEvent
	resp := getJSON(t, ts.URL+"/api/dumps?tier=gold", &dumps)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, dumps, 1)
	assert.Equal(t, model.ItemID(1), dumps[0].ItemID)
}

func TestDumps_UnknownTierIsBadRequest(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	resp := getJSON(t, ts.URL+"/api/dumps?tier=nonexistent", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDumpByItem(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	var out dumpByItemResponse
	resp := getJSON(t, ts.URL+"/api/dumps/1", &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, out.Dump)
	assert.Equal(t, model.ItemID(1), out.Dump.ItemID)
	require.Len(t, out.Snapshots, 1)
}

func TestDumpByItem_InvalidIDIsBadRequest(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	resp := getJSON(t, ts.URL+"/api/dumps/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth_ReportsUpstreamDegraded(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	var out healthResponse
	resp := getJSON(t, ts.URL+"/api/health", &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "degraded", out.Upstream)
	assert.Equal(t, 4, out.ConsecutiveErrors)
	assert.Equal(t, int64(10), out.SnapshotCounts.Snapshots)
}

func TestGetConfig_CreatesDefaultOnFirstReference(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	var cfg tenant.Config
	resp := getJSON(t, ts.URL+"/api/config/123456789012345678", &cfg)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "123456789012345678", cfg.TenantID)
}

func TestPutConfig_RequiresAdminKey(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	body, _ := json.Marshal(map[string]any{})
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/config/123456789012345678", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPutConfig_SucceedsWithAdminKey(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	payload := tenant.Config{
		TenantID: "123456789012345678",
		AlertThresholds: tenant.AlertThresholds{MaxAlertsPerInterval: 3},
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/config/123456789012345678", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", "secret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPutConfig_RejectsOversizedBody(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	huge := bytes.Repeat([]byte("a"), maxWriteBodyBytes+1)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/config/123456789012345678", bytes.NewReader(huge))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Key", "secret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestWatchlist_PostThenGet(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	entry := watchlist.Entry{UserID: "u1", ItemID: 4151, ItemName: "Abyssal whip"}
	body, _ := json.Marshal(entry)
	resp, err := http.Post(ts.URL+"/api/watchlist/123456789012345678", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []watchlist.Entry
	resp2 := getJSON(t, ts.URL+"/api/watchlist/123456789012345678", &entries)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	require.Len(t, entries, 1)
	assert.Equal(t, "Abyssal whip", entries[0].ItemName)
}

func TestAdminDBPrune_RequiresAdminKey(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/admin/db_prune", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminDBPrune_WithAdminKey(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/admin/db_prune", nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Key", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, float64(3), out["pruned_rows"])
}

func TestMetrics_MountedOutsideAPISubrouter(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; version=0.0.4", resp.Header.Get("Content-Type"),
		"the /api subrouter's JSON content-type middleware must not apply to /metrics")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sentinel_fake_metric")
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t, "secret")
	defer ts.Close()

	resp := getJSON(t, ts.URL+"/api/nonexistent-route", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
