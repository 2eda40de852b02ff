// Package observability holds the Prometheus metrics and the slog facade
// shared by the coordinator, the worker agent, and the cache tooling.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	cacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asset_cache_ops_total",
			Help: "Asset cache operations by kind and outcome.",
		},
		[]string{"op", "outcome"},
	)

	fetchLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geodata_fetch_latency_seconds",
			Help:    "Latency of upstream geodata fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.5min
		},
		[]string{"transport", "outcome"},
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chunk_dispatch_total",
			Help: "Coordinator dispatch events by kind.",
		},
		[]string{"event"},
	)

	chunksByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chunks_by_status",
			Help: "Current number of chunks per status.",
		},
		[]string{"status"},
	)

	invalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geodata_invalidations_total",
			Help: "Processed geodata invalidation events by op and outcome.",
		},
		[]string{"op", "outcome"},
	)

	invalidatedEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geodata_invalidated_entries_total",
			Help: "Cached assets dropped by invalidation events.",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cacheOpsTotal.WithLabelValues(op, outcome).Inc()
}

func ObserveFetch(transport string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	fetchLatencySeconds.WithLabelValues(transport, outcome).Observe(durationSeconds)
}

// IncDispatch counts coordinator lifecycle events: register, claim,
// claim_conflict, submit, reject, reclaim.
func IncDispatch(event string) {
	dispatchTotal.WithLabelValues(event).Inc()
}

func ObserveInvalidation(op string, dropped int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	invalidationsTotal.WithLabelValues(op, outcome).Inc()
	if dropped > 0 {
		invalidatedEntriesTotal.Add(float64(dropped))
	}
}

func SetChunksByStatus(status string, n int) {
	chunksByStatus.WithLabelValues(status).Set(float64(n))
}

func ExposeBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}
