package middleware

import (
	"crypto/sha256"
	"crypto/subtle"

	"forge-sync/utils"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader carries the shared secret on every authenticated request.
const APIKeyHeader = "X-API-Key"

// APIKeyAuth validates the X-API-Key header against the configured
// secret. Keys are compared as SHA-256 digests so the comparison is
// constant time regardless of key length.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	expected := sha256.Sum256([]byte(apiKey))

	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			utils.UnauthorizedResponse(c, "API key required")
			c.Abort()
			return
		}

		got := sha256.Sum256([]byte(key))
		if subtle.ConstantTimeCompare(got[:], expected[:]) != 1 {
			utils.UnauthorizedResponse(c, "Invalid API key")
			c.Abort()
			return
		}

		c.Next()
	}
}
