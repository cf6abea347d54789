// Package metrics exposes the application's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	ledgerOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dumoney",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total ledger operations by category and outcome.",
		},
		[]string{"category", "status"},
	)

	accrualRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dumoney",
			Subsystem: "accrual",
			Name:      "collections_total",
			Help:      "Total income collection attempts by outcome.",
		},
		[]string{"outcome"},
	)

	referralDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dumoney",
			Subsystem: "referral",
			Name:      "decisions_total",
			Help:      "Total referral approve/reject decisions by outcome.",
		},
		[]string{"decision", "outcome"},
	)

	syncFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dumoney",
			Subsystem: "activity",
			Name:      "fetches_total",
			Help:      "Total activity feed fetches by outcome.",
		},
		[]string{"outcome"},
	)

	syncState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dumoney",
			Subsystem: "activity",
			Name:      "synchronizers",
			Help:      "Number of activity synchronizers in each state.",
		},
		[]string{"state"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dumoney",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dumoney",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(ledgerOps, accrualRuns, referralDecisions, syncFetches, syncState, httpRequests, httpDuration)
}

// ObserveLedgerOp counts one ledger operation outcome.
func ObserveLedgerOp(category, status string) {
	ledgerOps.WithLabelValues(category, status).Inc()
}

// ObserveAccrual counts one income collection attempt.
func ObserveAccrual(outcome string) {
	accrualRuns.WithLabelValues(outcome).Inc()
}

// ObserveReferralDecision counts one approve/reject outcome.
func ObserveReferralDecision(decision, outcome string) {
	referralDecisions.WithLabelValues(decision, outcome).Inc()
}

// ObserveSyncFetch counts one activity fetch outcome.
func ObserveSyncFetch(outcome string) {
	syncFetches.WithLabelValues(outcome).Inc()
}

// MoveSyncState shifts one synchronizer between state buckets. An empty from
// marks a newly started synchronizer.
func MoveSyncState(from, to string) {
	if from != "" && from != to {
		syncState.WithLabelValues(from).Dec()
	}
	if to != "" && from != to {
		syncState.WithLabelValues(to).Inc()
	}
}

// Handler serves the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request counting and timing.
func InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
