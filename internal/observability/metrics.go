package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Query outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeRemote    = "remote"
	OutcomeTruncated = "truncated"
	OutcomeMalformed = "malformed"
	OutcomeDesync    = "desync"
	OutcomeOversized = "oversized"
	OutcomeClosed    = "closed"
	OutcomeError     = "error"
)

var (
	registerOnce sync.Once

	queryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "decompctl",
			Name:      "query_total",
			Help:      "Engine queries dispatched to the client, by outcome.",
		},
		[]string{"query", "outcome"},
	)
	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "decompctl",
			Name:      "query_duration_seconds",
			Help:      "Engine query round-trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"query"},
	)
	commandTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "decompctl",
			Subsystem: "engine",
			Name:      "commands_total",
			Help:      "Client commands handled by the engine host.",
		},
		[]string{"command", "outcome"},
	)
	sessionsPoisoned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "decompctl",
			Name:      "sessions_poisoned_total",
			Help:      "Sessions closed after losing stream alignment.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "decompctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "decompctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(queryTotal, queryDuration, commandTotal, sessionsPoisoned, httpRequests, httpDuration)
	})
}

func RecordQuery(query, outcome string, duration time.Duration) {
	RegisterMetrics()
	queryTotal.WithLabelValues(query, outcome).Inc()
	queryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

func RecordCommand(command, outcome string) {
	RegisterMetrics()
	commandTotal.WithLabelValues(command, outcome).Inc()
}

func RecordPoisoned() {
	RegisterMetrics()
	sessionsPoisoned.Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
