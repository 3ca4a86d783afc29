package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "settlement"

type Metrics struct {
	Requests      *prometheus.CounterVec
	LatencyMS     *prometheus.HistogramVec
	Confirmations *prometheus.CounterVec
	Releases      *prometheus.CounterVec
	Tasks         *prometheus.CounterVec
	CartSyncs     *prometheus.CounterVec
}

// New registers the service collectors on reg. Pass prometheus.NewRegistry()
// in tests to avoid clashing with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Payment confirmations by channel and outcome.",
		}, []string{"channel", "outcome"}),
		Releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_releases_total",
			Help:      "Checkout quote releases by reason.",
		}, []string{"reason"}),
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_tasks_total",
			Help:      "Fulfillment task attempts by collaborator and outcome.",
		}, []string{"collaborator", "outcome"}),
		CartSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_sync_total",
			Help:      "Cart sync calls by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.Confirmations, m.Releases, m.Tasks, m.CartSyncs)
	return m
}

// Noop returns metrics registered on a throwaway registry.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
