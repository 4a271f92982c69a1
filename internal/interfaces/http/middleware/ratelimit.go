package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chatcpg/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// AccountIDHeader carries the account id before authentication has run.
// The limiter uses it so that one account behind a shared NAT cannot
// exhaust another's budget.
const AccountIDHeader = "X-Account-ID"

// bucket tracks one caller's remaining budget inside the current window
type bucket struct {
	remaining int
	windowEnd time.Time
}

// RateLimiter is an in-process fixed-window limiter. Budgets are tracked
// per account where an account can be identified, per client IP otherwise.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
}

// NewRateLimiter creates a limiter allowing limit requests per window per key.
// A background sweep drops buckets whose window has long expired.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		rl.mu.Lock()
		for key, b := range rl.buckets {
			if now.After(b.windowEnd.Add(rl.window)) {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Take consumes one unit of the key's budget. It reports whether the request
// is admitted and how much budget remains in the window.
func (rl *RateLimiter) Take(key string) (allowed bool, remaining int) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok || now.After(b.windowEnd) {
		rl.buckets[key] = &bucket{
			remaining: rl.limit - 1,
			windowEnd: now.Add(rl.window),
		}
		return true, rl.limit - 1
	}

	if b.remaining > 0 {
		b.remaining--
		return true, b.remaining
	}
	return false, 0
}

// Limit returns the per-window budget
func (rl *RateLimiter) Limit() int {
	return rl.limit
}

// limiterKey identifies the caller. Prefer the authenticated account, then
// the account header, then the client IP.
func limiterKey(c *gin.Context) string {
	if accountID := GetJWTAccountID(c); accountID != "" {
		return "account:" + accountID
	}
	if accountID := c.GetHeader(AccountIDHeader); accountID != "" {
		return "account:" + accountID
	}
	return "ip:" + c.ClientIP()
}

// RateLimit returns middleware enforcing the limiter's per-account budget
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return RateLimitByKey(limiter, limiterKey)
}

// RateLimitByKey returns rate limiting middleware with a custom key extractor
func RateLimitByKey(limiter *RateLimiter, keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining := limiter.Take(keyFunc(c))

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			requestID := getRequestIDFromContext(c)
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				dto.NewErrorResponseWithRequestID(dto.ErrCodeRateLimited, "Too many requests. Please try again later.", requestID))
			return
		}

		c.Next()
	}
}
