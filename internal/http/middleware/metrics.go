// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exports Prometheus instrumentation for HTTP traffic. Metrics()
// records request counts, latencies, in-flight requests and response sizes.
// Labels:
//
//   - method: HTTP verb
//   - path:   the registered Gin route (e.g. /api/proof-results/:threadId);
//     requests that matched no route share the "unmatched" label
//   - status: numeric status code as a string, on the request counter only
//
// Thread ids never appear in labels; they belong in logs. The correlation
// package registers its own ndi_* collectors next to these.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests that hit no registered route, so probing
// random URLs cannot blow up label cardinality.
const unmatchedRoute = "unmatched"

var (
	// httpReqs counts requests by method, route and status.
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// status is left out to keep the histogram small.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// httpInflight gauges requests currently being served.
	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// Responses here are small JSON documents, the largest being a proof
	// request carrying a base64 QR PNG.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes.",
			Buckets: []float64{64, 256, 1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10},
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize)
}

// Metrics instruments requests with Prometheus. The path label is the
// registered route (e.g. /api/proof-results/:threadId).
//
// Mount it before the route groups so rate-limited (429) and unmatched (404)
// requests are counted too. /metrics itself is served by promhttp.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		httpReqs.WithLabelValues(method, path, status).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		// -1 when nothing was written.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
