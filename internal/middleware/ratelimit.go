package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"gigsync/internal/common"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket per caller. Callers are told apart by API key
// when one was presented, otherwise by client IP.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a new RateLimiter.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists = rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = limiter
	return limiter
}

// Middleware returns a Gin middleware that enforces rate limiting. Rejected
// requests carry a Retry-After hint in whole seconds.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if k, ok := c.Get("apiKey"); ok {
			key = "key:" + k.(string)
		}

		limiter := rl.getLimiter(key)
		if !limiter.Allow() {
			retry := 1
			if rl.rate > 0 {
				retry = int(math.Ceil(1 / float64(rl.rate)))
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			common.Error(c, http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}
