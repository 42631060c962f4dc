// Package httpapi implements the Read API (spec §4.I): endpoints serving
// view snapshots and tenant configs, rate-limited by client IP. Tenant-config
// writes and the /api/admin routes are admin-gated; watchlist writes are
// not. Grounded on the teacher's internal/interfaces/http/server.go
// (gorilla/mux router, request-ID/logging/timeout/CORS/JSON middleware
// chain) generalized from a single-tenant local-only scanner API to a
// multi-tenant, network-facing one: the admin-gate and per-IP rate limiter
// are additions this domain requires that the teacher's local-only server
// does not.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// Server is the read-only (plus tenant-config and watchlist writes) HTTP API.
type Server struct {
	router  *mux.Router
	server  *http.Server
	handler *Handler
	log     zerolog.Logger
}

// Config configures the Server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RequestTimeout time.Duration
	CORSOrigins  []string
}

// DefaultConfig mirrors the teacher's DefaultServerConfig timeouts.
func DefaultConfig() Config {
	return Config{
		Addr:           "0.0.0.0:8080",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// NewServer builds a Server wired to handler.
func NewServer(cfg Config, h *Handler, log zerolog.Logger) *Server {
	router := mux.NewRouter()
	s := &Server{router: router, handler: h, log: log}
	s.setupRoutes(cfg)
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes(cfg Config) {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.timeoutMiddleware(cfg.RequestTimeout))
	s.router.Use(s.corsMiddleware(cfg.CORSOrigins))

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/api/top", s.handler.TopFlips).Methods(http.MethodGet)
	api.HandleFunc("/api/dumps", s.handler.Dumps).Methods(http.MethodGet)
	api.HandleFunc("/api/dumps/{item_id}", s.handler.DumpByItem).Methods(http.MethodGet)
	api.HandleFunc("/api/spikes", s.handler.Spikes).Methods(http.MethodGet)
	api.HandleFunc("/api/all_items", s.handler.AllItems).Methods(http.MethodGet)
	api.HandleFunc("/api/tiers", s.handler.Tiers).Methods(http.MethodGet)
	api.HandleFunc("/api/health", s.handler.Health).Methods(http.MethodGet)
	api.HandleFunc("/api/config/{tenant}", s.handler.GetConfig).Methods(http.MethodGet)
	api.HandleFunc("/api/config/{tenant}", s.adminGate(s.handler.PutConfig)).Methods(http.MethodPost)
	api.HandleFunc("/api/watchlist/{tenant}", s.handler.GetWatchlist).Methods(http.MethodGet)
	api.HandleFunc("/api/watchlist/{tenant}", s.handler.PostWatchlist).Methods(http.MethodPost)
	api.HandleFunc("/api/admin/cache/fetch_recent", s.adminGate(s.handler.AdminFetchRecent)).Methods(http.MethodPost)
	api.HandleFunc("/api/admin/db_prune", s.adminGate(s.handler.AdminDBPrune)).Methods(http.MethodPost)
	api.HandleFunc("/api/admin/db_health", s.adminGate(s.handler.AdminDBHealth)).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.handler.NotFound)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		s.log.Info().
			Str("request_id", fmt.Sprintf("%v", r.Context().Value(requestIDKey))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

func (s *Server) timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		d = 5 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	allowSet := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		allowSet[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowSet[origin] || allowSet["*"]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Key")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// MountMetrics exposes h (typically a metrics.Registry's promhttp handler)
// at GET /metrics, per SPEC_FULL.md §2's "prometheus registry exposed on
// /metrics". It is mounted on the top-level router rather than the /api
// subrouter so a scrape is never throttled by the per-client-IP rate
// limiter or rewritten to an application/json content type.
func (s *Server) MountMetrics(h http.Handler) {
	s.router.Handle("/metrics", h).Methods(http.MethodGet)
}

// Start begins serving; blocks until the server stops.
func (s *Server) Start() error { return s.server.ListenAndServe() }

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error { return s.server.Shutdown(ctx) }

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
