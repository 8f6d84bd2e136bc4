package api

import (
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goldexchange/apps/goldx/internal/config"
)

const visitorIdleTimeout = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client address.
type rateLimiter struct {
	limit    rate.Limit
	burst    int
	trusted  []netip.Prefix
	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

func newRateLimiter(cfg config.RateLimitConfig) *rateLimiter {
	perSecond := cfg.RequestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	// Load has already validated the list.
	trusted, _ := config.ParseTrustedProxies(cfg.TrustedProxies)
	return &rateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		trusted:  trusted,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (l *rateLimiter) allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorIdleTimeout {
			delete(l.visitors, key)
		}
	}

	v, ok := l.visitors[id]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[id] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || s.limiter.allow(s.limiter.clientID(r)) {
			next.ServeHTTP(w, r)
			return
		}
		s.writeErrorResponse(w, http.StatusTooManyRequests, "rate_limited", "Too many requests, slow down")
	})
}

// clientID is the peer address, or the address a trusted proxy forwarded
// for. Forwarding headers from any other peer are ignored.
func (l *rateLimiter) clientID(r *http.Request) string {
	peer, ok := parseAddr(r.RemoteAddr)
	if !ok {
		return r.RemoteAddr
	}
	if !l.isTrusted(peer) {
		return peer.String()
	}

	if ip, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return ip.String()
	}
	// The rightmost entry not added by one of our proxies is the client.
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, ok := parseAddr(hops[i])
		if !ok {
			break
		}
		if !l.isTrusted(hop) {
			return hop.String()
		}
	}
	return peer.String()
}

func (l *rateLimiter) isTrusted(addr netip.Addr) bool {
	for _, prefix := range l.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseAddr accepts a bare address or host:port.
func parseAddr(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false
	}
	if addrPort, err := netip.ParseAddrPort(raw); err == nil {
		return addrPort.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
