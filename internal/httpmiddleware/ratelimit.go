package httpmiddleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// PerIPLimiter enforces a per-client request rate using token buckets.
// State is in-memory; behind a load balancer each instance limits its own
// share of the traffic.
type PerIPLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewPerIPLimiter allows perMinute requests per client IP, with a burst of
// the same size.
func NewPerIPLimiter(perMinute int) *PerIPLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &PerIPLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
	}
}

// GinMiddleware returns a gin handler enforcing the per-IP limit.
func (l *PerIPLimiter) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.limiterFor(ip).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

func (l *PerIPLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}
