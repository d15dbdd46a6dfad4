package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

type Metrics struct {
	Finalizations  *prometheus.CounterVec
	Cancellations  *prometheus.CounterVec
	StockConflicts prometheus.Counter
	ExpiredOrders  prometheus.Counter
	Reconciliation prometheus.Counter
	Requests       *prometheus.CounterVec
	LatencyMS      *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers the engine metrics on reg. Pass prometheus.NewRegistry() in
// tests to keep registrations isolated.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "finalizations_total",
			Help:      "Finalize calls by outcome (committed, noop, error kind).",
		}, []string{"outcome"}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "cancellations_total",
			Help:      "Cancel calls by outcome.",
		}, []string{"outcome"}),
		StockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "deduction_conflicts_total",
			Help:      "Conditional decrements that found too little stock.",
		}),
		ExpiredOrders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "expired_total",
			Help:      "Orders cancelled by the expiry sweeper.",
		}),
		Reconciliation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "reconciliation_required_total",
			Help:      "Payments queued for manual reconciliation.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Finalizations, m.Cancellations, m.StockConflicts, m.ExpiredOrders,
		m.Reconciliation, m.Requests, m.LatencyMS)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
