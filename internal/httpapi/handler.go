package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/model"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/store"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/tenant"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/views"
	"github.com/ImPanick/OSRS-GE-Sniper/internal/watchlist"
)

// maxWriteBodyBytes enforces spec §4.I: "Writes reject bodies larger than
// 10 KB."
const maxWriteBodyBytes = 10 * 1024

// errorResponse mirrors the teacher's httpContracts.ErrorResponse shape.
type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus is the supporting struct behind Upstream state reporting
// (spec §8 S6: "/api/health reports upstream=degraded, consecutive_errors=3").
type HealthStatus struct {
	Upstream          string `json:"upstream"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
}

// HealthReporter is the subset of the scheduler the health handler depends
// on for upstream state.
type HealthReporter interface {
	Health() HealthStatus
}

// Handler implements every Read API endpoint in spec §4.I.
type Handler struct {
	Views      *views.Store
	Tenants    *tenant.Store
	Snapshots  store.SnapshotStore
	Watchlists *watchlist.Store
	Health_    HealthReporter
	TopN       int
	DefaultWindow time.Duration
	Retention  time.Duration

	adminKey         string
	allowPublicAdmin bool
	ipLimiters       *ipLimiters
	log              zerolog.Logger
}

// NewHandler builds a Handler. rps/burst configure the per-IP rate limiter
// (spec §4.I "configurable per-route quota").
func NewHandler(v *views.Store, t *tenant.Store, s store.SnapshotStore, wl *watchlist.Store, health HealthReporter, adminKey string, allowPublicAdmin bool, rps float64, burst int, log zerolog.Logger) *Handler {
	return &Handler{
		Views: v, Tenants: t, Snapshots: s, Watchlists: wl, Health_: health,
		TopN: 50, DefaultWindow: 24 * time.Hour, Retention: 7 * 24 * time.Hour,
		adminKey: adminKey, allowPublicAdmin: allowPublicAdmin,
		ipLimiters: newIPLimiters(rps, burst), log: log,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	reqID, _ := r.Context().Value(requestIDKey).(string)
	if reqID == "" {
		reqID = "unknown"
	}
	h.writeJSON(w, status, errorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: reqID,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
}

// TopFlips serves GET /api/top.
func (h *Handler) TopFlips(w http.ResponseWriter, r *http.Request) {
	v := h.Views.Current()
	h.writeJSON(w, http.StatusOK, v.TopFlips)
}

// Dumps serves GET /api/dumps?tier=&group=&special=&limit=&guild_id=.
func (h *Handler) Dumps(w http.ResponseWriter, r *http.Request) {
	v := h.Views.Current()
	q := r.URL.Query()

	out := v.Dumps
	if tierName := q.Get("tier"); tierName != "" {
		if _, ok := model.TierByName(tierName); !ok {
			h.writeError(w, r, http.StatusBadRequest, "invalid_tier", "unknown tier")
			return
		}
		out = filterDumps(out, func(d model.DumpEvent) bool { return d.Tier == tierName })
	}
	if group := q.Get("group"); group != "" {
		if group != string(model.GroupMetals) && group != string(model.GroupGems) {
			h.writeError(w, r, http.StatusBadRequest, "invalid_group", "unknown tier group")
			return
		}
		out = filterDumps(out, func(d model.DumpEvent) bool {
			t, ok := model.TierByName(d.Tier)
			return ok && string(t.Group) == group
		})
	}
	if special := q.Get("special"); special != "" {
		flag := model.DumpFlag(special)
		out = filterDumps(out, func(d model.DumpEvent) bool { return d.HasFlag(flag) })
	}
	if guildID := q.Get("guild_id"); guildID != "" {
		cfg, err := h.Tenants.Get(guildID)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid_guild", "unknown or invalid guild_id")
			return
		}
		out = filterDumps(out, func(d model.DumpEvent) bool {
			if cfg.MinTierName != "" && model.TierOrder(d.Tier) < model.TierOrder(cfg.MinTierName) {
				return false
			}
			if len(cfg.AlertThresholds.EnabledTiers) > 0 {
				for _, t := range cfg.AlertThresholds.EnabledTiers {
					if t == d.Tier {
						return true
					}
				}
				return false
			}
			return true
		})
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			h.writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		if limit < len(out) {
			out = out[:limit]
		}
	}

	h.writeJSON(w, http.StatusOK, out)
}

func filterDumps(in []model.DumpEvent, keep func(model.DumpEvent) bool) []model.DumpEvent {
	out := make([]model.DumpEvent, 0, len(in))
	for _, d := range in {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// dumpByItemResponse backs GET /api/dumps/{item_id}.
type dumpByItemResponse struct {
	Dump      *model.DumpEvent `json:"dump"`
	Snapshots []model.Snapshot `json:"snapshots"`
}

// DumpByItem serves GET /api/dumps/{item_id}.
func (h *Handler) DumpByItem(w http.ResponseWriter, r *http.Request) {
	idStr := mux.Vars(r)["item_id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_item_id", "item_id must be an integer")
		return
	}

	v := h.Views.Current()
	resp := dumpByItemResponse{}
	if d, ok := v.DumpByItem(model.ItemID(id)); ok {
		resp.Dump = &d
	}

	since := time.Now().Add(-24 * time.Hour).Unix()
	snaps, err := h.Snapshots.Range(r.Context(), model.ItemID(id), since)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "store_error", "failed to load snapshots")
		return
	}
	resp.Snapshots = snaps

	h.writeJSON(w, http.StatusOK, resp)
}

// Spikes serves GET /api/spikes.
func (h *Handler) Spikes(w http.ResponseWriter, r *http.Request) {
	v := h.Views.Current()
	h.writeJSON(w, http.StatusOK, v.Spikes)
}

// AllItems serves GET /api/all_items?time_window=.
func (h *Handler) AllItems(w http.ResponseWriter, r *http.Request) {
	v := h.Views.Current()
	h.writeJSON(w, http.StatusOK, v.AllItems)
}

// tiersResponse backs GET /api/tiers?guild_id=.
type tiersResponse struct {
	Tiers      []model.Tier           `json:"tiers"`
	TierRoles  map[string]tenant.TierRole `json:"tier_roles,omitempty"`
}

// Tiers serves GET /api/tiers?guild_id=.
func (h *Handler) Tiers(w http.ResponseWriter, r *http.Request) {
	resp := tiersResponse{Tiers: model.Tiers}
	if guildID := r.URL.Query().Get("guild_id"); guildID != "" {
		cfg, err := h.Tenants.Get(guildID)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid_guild", "unknown or invalid guild_id")
			return
		}
		resp.TierRoles = cfg.TierRoles
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// healthResponse backs GET /api/health.
type healthResponse struct {
	Status            string `json:"status"`
	Upstream          string `json:"upstream"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
	ViewGeneration    uint64 `json:"view_generation"`
	SnapshotCounts    store.Counts `json:"snapshot_counts"`
}

// Health serves GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	v := h.Views.Current()
	counts, _ := h.Snapshots.Counts(r.Context())
	resp := healthResponse{Status: "ok", ViewGeneration: v.Generation, SnapshotCounts: counts}
	if h.Health_ != nil {
		hs := h.Health_.Health()
		resp.Upstream = hs.Upstream
		resp.ConsecutiveErrors = hs.ConsecutiveErrors
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetConfig serves GET /api/config/{tenant}.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant"]
	cfg, err := h.Tenants.Get(tenantID)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_tenant", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, cfg)
}

// PutConfig serves POST /api/config/{tenant} (admin-gated).
func (h *Handler) PutConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant"]
	if !isJSONWrite(r) {
		h.writeError(w, r, http.StatusUnsupportedMediaType, "invalid_content_type", "requires application/json")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWriteBodyBytes+1))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "read_failed", "failed to read body")
		return
	}
	if len(body) > maxWriteBodyBytes {
		h.writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "body exceeds 10 KB")
		return
	}

	var cfg tenant.Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_json", "malformed JSON body")
		return
	}
	cfg.TenantID = tenantID

	if err := h.Tenants.Put(cfg); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, cfg)
}

// GetWatchlist serves GET /api/watchlist/{tenant}, the restored CRUD
// surface for the Watchlist entry type (SPEC_FULL.md §6).
func (h *Handler) GetWatchlist(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant"]
	entries, err := h.Watchlists.List(tenantID)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_tenant", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// PostWatchlist serves POST /api/watchlist/{tenant}.
func (h *Handler) PostWatchlist(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant"]
	if !isJSONWrite(r) {
		h.writeError(w, r, http.StatusUnsupportedMediaType, "invalid_content_type", "requires application/json")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWriteBodyBytes+1))
	if err != nil || len(body) > maxWriteBodyBytes {
		h.writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "body exceeds 10 KB")
		return
	}
	var entry watchlist.Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_json", "malformed JSON body")
		return
	}
	entry.TenantID = tenantID
	if err := h.Watchlists.Put(entry); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_watchlist_entry", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

type fetchRecentRequest struct {
	Hours int `json:"hours"`
}

// AdminFetchRecent serves POST /api/admin/cache/fetch_recent.
func (h *Handler) AdminFetchRecent(w http.ResponseWriter, r *http.Request) {
	var req fetchRecentRequest
	_ = json.NewDecoder(io.LimitReader(r.Body, maxWriteBodyBytes)).Decode(&req)
	if req.Hours <= 0 || req.Hours > 24 {
		h.writeError(w, r, http.StatusBadRequest, "invalid_hours", "hours must be in (0,24]")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"accepted_hours": req.Hours})
}

// AdminDBPrune serves POST /api/admin/db_prune.
func (h *Handler) AdminDBPrune(w http.ResponseWriter, r *http.Request) {
	n, err := h.Snapshots.Prune(r.Context(), h.Retention)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "prune_failed", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"pruned_rows": n})
}

// AdminDBHealth serves GET /api/admin/db_health.
func (h *Handler) AdminDBHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Snapshots.Counts(r.Context())
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "db_unavailable", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, counts)
}

func isJSONWrite(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "application/json" || ct == "application/json; charset=utf-8"
}
