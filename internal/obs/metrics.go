package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "Whether the service considers itself ready (1) or not (0).",
	})

	requestsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "srp_requests_submitted_total",
		Help: "Total number of reimbursement requests submitted.",
	})

	requestActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srp_request_actions_total",
			Help: "Total number of actions recorded on requests.",
		},
		[]string{"type"},
	)

	modifiersApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srp_modifiers_total",
			Help: "Total number of payout modifiers added.",
		},
		[]string{"type"},
	)
)

// Init registers all service metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		readyGauge, requestsSubmitted, requestActions, modifiersApplied,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
	} else {
		readyGauge.Set(0)
	}
}

// ObserveSubmission counts a newly submitted request.
func ObserveSubmission() { requestsSubmitted.Inc() }

// ObserveAction counts a recorded action by type.
func ObserveAction(actionType string) { requestActions.WithLabelValues(actionType).Inc() }

// ObserveModifier counts an applied modifier by type.
func ObserveModifier(modifierType string) { modifiersApplied.WithLabelValues(modifierType).Inc() }

// идентификаторы в метках метрик заменяем на :id, иначе кардинальность
// взорвётся.
var canonicalChildren = map[string]map[string]bool{
	"requests": {
		"":          true,
		"actions":   true,
		"modifiers": true,
		"details":   true,
		"payout":    true,
	},
	"divisions": {
		"":            true,
		"permissions": true,
	},
	"modifiers": {
		"":     true,
		"void": true,
	},
}

// CanonicalPath collapses resource identifiers in a request path so metric
// labels stay low-cardinality. Unknown shapes pass through unchanged.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(segments)-1; i++ {
		children, ok := canonicalChildren[segments[i]]
		if !ok {
			continue
		}
		rest := ""
		if i+2 < len(segments) {
			rest = segments[i+2]
		}
		if i+3 < len(segments) || !children[rest] {
			continue
		}
		segments[i+1] = ":id"
	}
	return "/" + strings.Join(segments, "/")
}

// Instrument wraps a handler with RPS, latency and in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter — локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
