package httpapi

import (
	"crypto/subtle"
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// ipLimiters hands out one golang.org/x/time/rate.Limiter per client IP,
// the same package the Upstream Client uses at the fetch layer, applied
// here at the handler layer per spec §4.I's per-route quota requirement.
type ipLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newIPLimiters(rps float64, burst int) *ipLimiters {
	return &ipLimiters{limiters: map[string]*rate.Limiter{}, rps: rps, burst: burst}
}

func (l *ipLimiters) forIP(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimitMiddleware rejects requests past the per-IP quota with 429.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		lim := s.handler.ipLimiters.forIP(ip)
		if !lim.Allow() {
			s.handler.writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

var privateRanges = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

func isPrivateAddr(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// adminGate enforces spec §4.I's administrative-route requirements:
// constant-time X-Admin-Key equality plus a private-network source address,
// grounded on spec §9's "constant-time comparison; never log the expected
// value" design note.
func (s *Server) adminGate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.handler.allowPublicAdmin && !isPrivateAddr(clientIP(r)) {
			s.handler.writeError(w, r, http.StatusForbidden, "admin_forbidden", "admin endpoints require a private network address")
			return
		}
		got := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.handler.adminKey)) != 1 {
			s.handler.writeError(w, r, http.StatusUnauthorized, "admin_unauthorized", "invalid admin key")
			return
		}
		next(w, r)
	}
}
