// Package metrics exposes Prometheus collectors for HTTP traffic and the
// proctored session lifecycle.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_sessions_active",
			Help: "Proctored sessions currently running on this instance",
		},
	)

	Submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_submissions_total",
			Help: "Submission attempts by trigger and outcome",
		},
		[]string{"reason", "outcome"},
	)

	Violations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_violations_total",
			Help: "Integrity violations raised, by signal",
		},
		[]string{"signal", "suppressed"},
	)
)

// Init registers all collectors with the default registry.
func Init() {
	prometheus.MustRegister(RequestCounter, RequestDuration, SessionsActive, Submissions, Violations)
}

// ObserveSubmission counts one submission outcome.
func ObserveSubmission(reason string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	Submissions.WithLabelValues(reason, outcome).Inc()
}

// ObserveViolation counts one raised violation.
func ObserveViolation(signal string, suppressed bool) {
	Violations.WithLabelValues(signal, strconv.FormatBool(suppressed)).Inc()
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
