package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	requestsTotal        *prometheus.CounterVec
	latencySeconds       *prometheus.HistogramVec
	errorsTotal          *prometheus.CounterVec
	sectionTransitions   *prometheus.CounterVec
	notificationFailures prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors used by the portal.
func RegisterMetrics() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_requests_total",
			Help: "Total number of portal requests served.",
		}, []string{"method", "route", "status"})

		latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_latency_seconds",
			Help:    "Latency distribution for portal requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_errors_total",
			Help: "Total number of error responses returned by the portal.",
		}, []string{"method", "route", "status"})

		sectionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_section_transitions_total",
			Help: "Section state transitions applied, by destination state.",
		}, []string{"to"})

		notificationFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_notification_failures_total",
			Help: "Notification emails that failed to send.",
		})

		prometheus.MustRegister(requestsTotal, latencySeconds, errorsTotal, sectionTransitions, notificationFailures)
	})
}

// Requests exposes the counter for portal requests.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}

// Latency exposes the latency histogram for portal requests.
func Latency() *prometheus.HistogramVec {
	RegisterMetrics()
	return latencySeconds
}

// Errors exposes the counter for portal error responses.
func Errors() *prometheus.CounterVec {
	RegisterMetrics()
	return errorsTotal
}

// SectionTransitions exposes the counter for section state transitions.
func SectionTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return sectionTransitions
}

// NotificationFailures exposes the failed-notification counter.
func NotificationFailures() prometheus.Counter {
	RegisterMetrics()
	return notificationFailures
}
