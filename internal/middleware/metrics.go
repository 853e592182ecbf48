package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shopconnect/shopconnect/internal/telemetry"
)

// MetricsMiddleware records request count and latency for every routed
// request. The path label uses c.FullPath(), the matched route template
// (e.g. /api/v1/connections/:id), not the raw URL; requests that match no
// route are bucketed under "<no-route>" to keep label cardinality bounded.
// Register after gin.Recovery() so panics still count with their 500 status.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
