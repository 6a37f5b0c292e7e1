package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fonsecaaso/linkpulse/go-server/internal/metrics"
)

// MetricsMiddleware collects HTTP metrics for each request
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.IncrementRequestsInFlight()
		defer metrics.DecrementRequestsInFlight()

		start := time.Now()
		requestSize := computeApproximateRequestSize(c.Request)

		c.Next()

		// route pattern, so /:code does not explode label cardinality
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		responseSize := int64(c.Writer.Size())
		if responseSize < 0 {
			responseSize = 0
		}

		metrics.RecordHTTPMetrics(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
			requestSize,
			responseSize,
		)
	}
}

// computeApproximateRequestSize calculates approximate request size
func computeApproximateRequestSize(r *http.Request) int64 {
	s := int64(0)
	if r.ContentLength > 0 {
		s += r.ContentLength
	}

	s += int64(len(r.Method))
	s += int64(len(r.URL.String()))
	for name, values := range r.Header {
		s += int64(len(name))
		for _, v := range values {
			s += int64(len(v))
		}
	}
	return s
}
