package server

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
)

// requestMetrics records every request by route pattern, never by raw
// path, to keep label cardinality bounded.
func requestMetrics(metrics *instrumentation.Metrics, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		duration := time.Since(start)
		status := c.Writer.Status()

		metrics.RecordHTTPRequest(c.Request.Context(), c.Request.Method, route, status, duration)
		logger.DebugContext(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"route", route,
			slog.Int(logging.KeyStatus, status),
			slog.Duration(logging.KeyDuration, duration))
	}
}
