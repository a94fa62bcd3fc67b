package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/leadflow/backend/internal/interfaces/http/dto"
)

// RateLimiter keeps one token bucket per key. A bucket refills to burst
// over window, so requests/window is the sustained rate.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	every     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requests per window for every key
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	if requests < 1 {
		requests = 1
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		every:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		idle:    2 * window,
		now:     time.Now,
	}
}

// Allow takes a token for key. When none is left it returns how long
// until the next one.
func (rl *RateLimiter) Allow(key string) (ok bool, remaining int, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(rl.every, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return true, int(math.Floor(b.limiter.TokensAt(now))), 0
	}
	r := b.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, 0, wait
}

// Limit returns the burst size
func (rl *RateLimiter) Limit() int {
	return rl.burst
}

// sweep drops buckets idle for longer than it takes to refill. The caller
// holds mu.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.idle {
		return
	}
	rl.lastSweep = now
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.idle {
			delete(rl.buckets, key)
		}
	}
}

// KeyFunc picks the bucket of a request. An empty key skips limiting.
type KeyFunc func(*gin.Context) string

// ClientIPKey limits per caller address
func ClientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// LeadParamKey limits per lead, so one lead cannot be re-sent over and
// over no matter who asks
func LeadParamKey(c *gin.Context) string {
	id := c.Param("id")
	if id == "" {
		return ""
	}
	return "lead:" + id
}

// RateLimit limits requests per client IP
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return RateLimitByKey(limiter, ClientIPKey)
}

// RateLimitByKey limits requests per key and sets the X-RateLimit headers.
// Rejected requests get a 429 with Retry-After.
func RateLimitByKey(limiter *RateLimiter, keyFunc KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)
		if key == "" {
			c.Next()
			return
		}

		ok, remaining, retryAfter := limiter.Allow(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			abortWithError(c, http.StatusTooManyRequests, dto.ErrCodeRateLimited,
				"Too many requests. Please try again later.")
			return
		}
		c.Next()
	}
}
