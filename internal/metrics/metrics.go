package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the service collectors. Each instance owns its registry so
// tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	BookingsCreated   *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	CoreFailures      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		BookingsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutoring",
			Name:      "bookings_created_total",
			Help:      "Bookings created, by kind (slot or instant).",
		}, []string{"kind"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutoring",
			Name:      "booking_status_transitions_total",
			Help:      "Successful booking status transitions, by target status.",
		}, []string{"to"}),
		CoreFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutoring",
			Name:      "core_failures_total",
			Help:      "Failed core operations, by error kind.",
		}, []string{"kind"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tutoring",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}

	reg.MustRegister(
		m.BookingsCreated,
		m.StatusTransitions,
		m.CoreFailures,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}
