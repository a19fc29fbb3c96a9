package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/tradewatch/surveillance-engine/pkg/models"
)

// APIKeyHeader is the preshared-key header every protected operation
// must carry. Health probes are routed outside the protected group.
const APIKeyHeader = models.APIKeyHeader

// AuthMiddleware returns a Gin middleware validating the preshared key.
// If no key is configured, all requests are allowed (dev mode).
// WARNING: in GIN_MODE=release, leaving API_KEY unset exposes all
// protected routes. Always set a strong key in prod.
func AuthMiddleware(key string) gin.HandlerFunc {
	if key == "" && os.Getenv("GIN_MODE") == "release" {
		log.Println("[SECURITY WARNING] API_KEY is not set in release mode. " +
			"All protected endpoints are publicly accessible.")
	}

	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(APIKeyHeader)
		if provided == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing " + APIKeyHeader + " header",
			})
			c.Abort()
			return
		}

		// Constant-time comparison to prevent timing-based key enumeration.
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
