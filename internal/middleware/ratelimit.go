package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/handlers/common"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/netutil"
)

const defaultLimiterTTL = 15 * time.Minute

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP. Idle buckets are
// dropped by Sweep.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration

	mu    sync.Mutex
	items map[string]*limiterEntry
}

// NewRateLimiter builds a limiter allowing rps requests per second per IP.
func NewRateLimiter(rps, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = rps * 2
	}
	return &RateLimiter{
		rps:   rate.Limit(rps),
		burst: burst,
		ttl:   defaultLimiterTTL,
		items: make(map[string]*limiterEntry),
	}
}

func (l *RateLimiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.items[key]; ok {
		e.lastSeen = now
		return e.lim
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.items[key] = &limiterEntry{lim: lim, lastSeen: now}
	monitoring.RateLimitKeysGauge.Set(float64(len(l.items)))
	return lim
}

// Sweep removes buckets idle for longer than the TTL and returns how many.
func (l *RateLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	removed := 0
	for k, e := range l.items {
		if now.Sub(e.lastSeen) > l.ttl {
			delete(l.items, k)
			removed++
		}
	}
	size := len(l.items)
	l.mu.Unlock()
	monitoring.RateLimitKeysGauge.Set(float64(size))
	monitoring.RateLimitSweepsTotal.Inc()
	return removed
}

// Len returns the number of tracked clients.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Middleware rejects requests over the per-IP budget with 429.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(netutil.PeerKey(c.Request), time.Now()).Allow() {
			common.AbortWithAPIError(c, apperrors.New(http.StatusTooManyRequests, "rate_limited", "rate_limit_error", "Rate limit exceeded").WithRetryAfter(1))
			return
		}
		c.Next()
	}
}
