package tcp

import (
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// ipGate enforces a per-IP token-bucket limit on handshake attempts.
// Individual limiters are cached by IP with a TTL, so a quiet IP's
// limiter is reclaimed rather than held forever.
type ipGate struct {
	cache     *cache.Cache
	rate      rate.Limit
	burst     int
	whitelist map[string]struct{}
}

// newIPGate builds an ipGate. Each IP's limiter expires ttl after it
// is created (using it does not extend that), after which the IP gets
// a fresh limiter; expired entries are purged every 2x ttl. whitelisted
// IPs bypass the limit entirely.
func newIPGate(r rate.Limit, burst int, ttl time.Duration, whitelist []string) *ipGate {
	wl := make(map[string]struct{}, len(whitelist))
	for _, ip := range whitelist {
		wl[ip] = struct{}{}
	}
	return &ipGate{
		cache:     cache.New(ttl, 2*ttl),
		rate:      r,
		burst:     burst,
		whitelist: wl,
	}
}

// Allow reports whether a handshake attempt from ip is within its rate
// limit, creating a fresh limiter for ip on first use.
func (g *ipGate) Allow(ip string) bool {
	if _, ok := g.whitelist[ip]; ok {
		return true
	}
	if v, found := g.cache.Get(ip); found {
		return v.(*rate.Limiter).Allow()
	}
	limiter := rate.NewLimiter(g.rate, g.burst)
	g.cache.Set(ip, limiter, cache.DefaultExpiration)
	return limiter.Allow()
}
