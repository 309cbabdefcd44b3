package server

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 5 * time.Minute

// rateLimiter applies a per-client token bucket to incoming queries.
// Buckets for idle clients are discarded during later allow calls, keeping
// the map bounded under address churn.
type rateLimiter struct {
	mu          sync.Mutex
	clients     map[string]*clientBucket
	qps         rate.Limit
	burst       int
	lastCleanup time.Time
}

type clientBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(qps float64) *rateLimiter {
	burst := int(qps * 2)
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{
		clients:     make(map[string]*clientBucket),
		qps:         rate.Limit(qps),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

// allow reports whether a query from ip fits within its bucket.
func (rl *rateLimiter) allow(ip net.IP) bool {
	key := ip.String()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) > limiterIdleTTL {
		rl.cleanup()
	}

	b, ok := rl.clients[key]
	if !ok {
		b = &clientBucket{lim: rate.NewLimiter(rl.qps, rl.burst)}
		rl.clients[key] = b
	}
	b.lastSeen = time.Now()

	return b.lim.Allow()
}

func (rl *rateLimiter) cleanup() {
	now := time.Now()
	for key, b := range rl.clients {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(rl.clients, key)
		}
	}
	rl.lastCleanup = now
}
