// Package metrics holds the Prometheus collectors for the intake portal.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intake_portal"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	draftSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drafts",
			Name:      "saves_total",
			Help:      "Draft persistence attempts by trigger and result.",
		},
		[]string{"trigger", "result"},
	)

	draftSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "drafts",
			Name:      "open_sessions",
			Help:      "Wizard sessions currently held by the autosaver.",
		},
	)

	draftsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drafts",
			Name:      "purged_total",
			Help:      "Abandoned drafts removed by the retention worker.",
		},
	)

	uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "uploads_total",
			Help:      "Document uploads by result.",
		},
		[]string{"result"},
	)

	uploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "documents",
			Name:      "uploaded_bytes_total",
			Help:      "Bytes accepted by the document upload adapter.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		draftSaves,
		draftSessions,
		draftsPurged,
		uploads,
		uploadBytes,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RequestStarted increments the in-flight gauge and returns a func that
// records the finished request.
func RequestStarted() func(method, route string, status int) {
	start := time.Now()
	httpInFlight.Inc()
	return func(method, route string, status int) {
		httpInFlight.Dec()
		if route == "" {
			route = "unmatched"
		}
		method = strings.ToUpper(method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordDraftSave counts a draft persistence attempt.
func RecordDraftSave(trigger string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	draftSaves.WithLabelValues(trigger, result).Inc()
}

// SetOpenSessions reports how many wizard sessions are held in memory.
func SetOpenSessions(n int) {
	draftSessions.Set(float64(n))
}

// RecordDraftsPurged counts drafts deleted by retention.
func RecordDraftsPurged(n int64) {
	if n > 0 {
		draftsPurged.Add(float64(n))
	}
}

// RecordUpload counts an upload attempt; size is added only on success.
func RecordUpload(result string, size int64) {
	uploads.WithLabelValues(result).Inc()
	if result == "ok" && size > 0 {
		uploadBytes.Add(float64(size))
	}
}
