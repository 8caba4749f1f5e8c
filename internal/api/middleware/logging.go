package middleware

import (
	"time"

	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/gin-gonic/gin"
)

// LoggingMiddleware logs HTTP requests. Query strings are omitted since agents
// may pass tokens in them.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		// Log format: [method] path - status (latency)
		switch {
		case statusCode >= 500:
			logger.Warnf("[%s] %s - %d (%v)", c.Request.Method, path, statusCode, latency)
		default:
			logger.Debugf("[%s] %s - %d (%v)", c.Request.Method, path, statusCode, latency)
		}
	}
}
