package middleware

import (
	"crypto/subtle"
	"net/http"

	"gigsync/internal/common"

	"github.com/gin-gonic/gin"
)

const apiKeyHeader = "X-API-Key"

// Auth returns middleware that checks the bridge API key. Browsers cannot set
// headers on a WebSocket upgrade, so the key may also arrive as ?api_key=.
// With no keys configured the bridge is open, which suits a loopback-only UI.
func Auth(validKeys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(validKeys) == 0 {
			c.Next()
			return
		}

		key := c.GetHeader(apiKeyHeader)
		if key == "" {
			key = c.Query("api_key")
		}
		if key == "" {
			common.Error(c, http.StatusUnauthorized, "missing X-API-Key header")
			c.Abort()
			return
		}

		if !isValidKey(key, validKeys) {
			common.Error(c, http.StatusUnauthorized, "invalid API key")
			c.Abort()
			return
		}

		c.Set("apiKey", key)
		c.Next()
	}
}

func isValidKey(key string, validKeys []string) bool {
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}
