package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "earnloop",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "earnloop",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "earnloop",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	taskVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "earnloop",
			Subsystem: "rewards",
			Name:      "task_verifications_total",
			Help:      "Total number of task verification attempts.",
		},
		[]string{"outcome"},
	)

	referralAttributions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "earnloop",
			Subsystem: "referrals",
			Name:      "attributions_total",
			Help:      "Total number of successful referral attributions.",
		},
	)

	withdrawalTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "earnloop",
			Subsystem: "withdrawals",
			Name:      "transitions_total",
			Help:      "Total number of withdrawal status transitions.",
		},
		[]string{"status"},
	)

	identityMerges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "earnloop",
			Subsystem: "identity",
			Name:      "merges_total",
			Help:      "Total number of anonymous identities merged into verified ones.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		taskVerifications,
		referralAttributions,
		withdrawalTransitions,
		identityMerges,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordTaskVerification records a verification attempt outcome
// (credited, repeat, invalid_code, error).
func RecordTaskVerification(outcome string) {
	taskVerifications.WithLabelValues(outcome).Inc()
}

// RecordReferralAttribution records a successful referrer binding.
func RecordReferralAttribution() {
	referralAttributions.Inc()
}

// RecordWithdrawalTransition records a withdrawal reaching the given status.
func RecordWithdrawalTransition(status string) {
	withdrawalTransitions.WithLabelValues(status).Inc()
}

// RecordIdentityMerge records an anonymous identity folded into a verified
// one.
func RecordIdentityMerge() {
	identityMerges.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource identifiers so label cardinality stays
// bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")

	switch parts[0] {
	case "tasks":
		if len(parts) == 1 {
			return "/tasks"
		}
		if len(parts) >= 3 && parts[2] == "verify" {
			return "/tasks/:task/verify"
		}
		return "/tasks/:task"
	case "admin":
		if len(parts) == 1 {
			return "/admin"
		}
		if len(parts) == 2 {
			return "/admin/" + parts[1]
		}
		return "/admin/" + parts[1] + "/:id"
	default:
		return "/" + parts[0]
	}
}
