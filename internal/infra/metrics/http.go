package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequests) }

var httpRequests = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "briefd_http_request_seconds",
		Help:    "Admin API request latency by route pattern and status code.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route", "code"},
)

// ObserveHTTP takes the router pattern, never the raw path, to bound label cardinality.
func ObserveHTTP(method, route string, code int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Observe(d.Seconds())
}
