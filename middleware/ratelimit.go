package middleware

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"forge-sync/utils"

	"github.com/gin-gonic/gin"
)

type rateLimitEntry struct {
	count     int
	resetTime time.Time
}

var (
	rateLimitStore = make(map[string]*rateLimitEntry)
	rateLimitMutex sync.Mutex
)

// getRealIP extracts the real IP from request headers
func getRealIP(c *gin.Context) string {
	// Priority: X-Forwarded-For (first IP) > X-Real-IP > ClientIP
	forwarded := c.GetHeader("X-Forwarded-For")
	if forwarded != "" {
		// X-Forwarded-For can contain multiple IPs, take the first one
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	realIP := c.GetHeader("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	return c.ClientIP()
}

// getRateLimitKey identifies a caller for rate limiting. The API key
// is shared in practice, so the client IP keeps separate machines in
// separate budgets.
func getRateLimitKey(c *gin.Context) string {
	return fmt.Sprintf("%s:%s", c.GetHeader(APIKeyHeader), getRealIP(c))
}

// RateLimit creates a fixed-window rate limiting middleware.
// maxRequests: maximum requests allowed per window
// window: time window duration
// Exceeding the budget yields a 429, which clients treat as retryable.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		rateLimitMutex.Lock()
		defer rateLimitMutex.Unlock()

		now := time.Now()
		entry, exists := rateLimitStore[key]

		if !exists || now.After(entry.resetTime) {
			// First request in this window
			rateLimitStore[key] = &rateLimitEntry{
				count:     1,
				resetTime: now.Add(window),
			}
			c.Next()
			return
		}

		entry.count++
		if entry.count > maxRequests {
			utils.TooManyRequestsResponse(c,
				fmt.Sprintf("Rate limit exceeded, retry after %s", time.Until(entry.resetTime).Round(time.Second)))
			c.Abort()
			return
		}

		c.Next()
	}
}

// CleanupRateLimitStore removes expired entries periodically (call this in a goroutine)
func CleanupRateLimitStore() {
	ticker := time.NewTicker(1 * time.Hour)
	for range ticker.C {
		rateLimitMutex.Lock()
		now := time.Now()
		for key, entry := range rateLimitStore {
			if now.After(entry.resetTime.Add(1 * time.Hour)) {
				delete(rateLimitStore, key)
			}
		}
		rateLimitMutex.Unlock()
	}
}
