package rpc

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxForwardedHops bounds how much of an X-Forwarded-For chain is inspected.
const maxForwardedHops = 16

// RateLimit bounds how often one client may call a limited route. Forwarding
// headers are honoured only when the direct peer is listed in TrustedProxies
// (addresses or CIDR prefixes); otherwise clients are keyed by peer address.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
	TrustedProxies    []string
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps a token bucket per client address.
type RateLimiter struct {
	limit    RateLimit
	trusted  []netip.Prefix
	mu       sync.Mutex
	visitors map[string]*visitor
	idleTTL  time.Duration
	clockNow func() time.Time
	onReject func(route string)
}

// NewRateLimiter returns a limiter enforcing limit for every client. A zero
// RequestsPerMinute disables limiting.
func NewRateLimiter(limit RateLimit) (*RateLimiter, error) {
	trusted, err := parseTrustedProxies(limit.TrustedProxies)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{
		limit:    limit,
		trusted:  trusted,
		visitors: make(map[string]*visitor),
		idleTTL:  5 * time.Minute,
		clockNow: time.Now,
	}, nil
}

func parseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("rpc: trusted proxy %q: %w", entry, err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("rpc: trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Middleware rejects requests over the limit with 429. route labels the
// rejection for the throttle callback.
func (r *RateLimiter) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r == nil || r.limit.RequestsPerMinute <= 0 {
				next.ServeHTTP(w, req)
				return
			}
			if !r.allow(r.clientID(req)) {
				if r.onReject != nil {
					r.onReject(route)
				}
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": http.StatusText(http.StatusTooManyRequests)})
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) allow(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	r.evictLocked(now)
	entry, ok := r.visitors[id]
	if !ok {
		perSecond := r.limit.RequestsPerMinute / 60.0
		burst := r.limit.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &visitor{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		r.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (r *RateLimiter) evictLocked(now time.Time) {
	for id, entry := range r.visitors {
		if now.Sub(entry.lastSeen) > r.idleTTL {
			delete(r.visitors, id)
		}
	}
}

func (r *RateLimiter) isTrusted(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range r.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// clientID keys a request by its direct peer. When the peer is a trusted
// proxy, X-Real-IP or the rightmost untrusted X-Forwarded-For hop is used
// instead.
func (r *RateLimiter) clientID(req *http.Request) string {
	peerHost, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		peerHost = req.RemoteAddr
	}
	peer, ok := parseHop(peerHost)
	if !ok || !r.isTrusted(peer) {
		return peerHost
	}
	if realIP, ok := parseHop(req.Header.Get("X-Real-IP")); ok {
		return realIP.String()
	}
	hops := strings.Split(req.Header.Get("X-Forwarded-For"), ",")
	if len(hops) > maxForwardedHops {
		hops = hops[len(hops)-maxForwardedHops:]
	}
	for i := len(hops) - 1; i >= 0; i-- {
		hop, ok := parseHop(hops[i])
		if !ok {
			continue
		}
		if !r.isTrusted(hop) {
			return hop.String()
		}
	}
	return peer.String()
}

// parseHop accepts a bare address or address:port.
func parseHop(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.Unmap(), true
	}
	if addrPort, err := netip.ParseAddrPort(raw); err == nil {
		return addrPort.Addr().Unmap(), true
	}
	return netip.Addr{}, false
}
