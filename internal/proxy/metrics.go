package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promMetrics holds the Prometheus collectors registered when
// Config.MetricsEnabled is set, mirroring proxyMetrics's counters for
// external scraping rather than just the in-process Metrics() snapshot.
type promMetrics struct {
	requestsForwarded prometheus.Counter
}

// registerPromMetrics registers the proxy's collectors against reg and
// returns a handle used to keep them in sync with proxyMetrics.
func registerPromMetrics(reg prometheus.Registerer) *promMetrics {
	return &promMetrics{
		requestsForwarded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "mcprt",
			Subsystem: "proxy",
			Name:      "requests_forwarded_total",
			Help:      "Total number of requests the proxy forwarded to its backend",
		}),
	}
}
