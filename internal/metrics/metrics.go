package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "komodo_checkout"

// ServerMetrics instruments the HTTP surface.
type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "method", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// CheckoutMetrics instruments checkout attempts and wallet lookups. A nil
// *CheckoutMetrics records nothing.
type CheckoutMetrics struct {
	Attempts      *prometheus.CounterVec
	WalletFetches *prometheus.CounterVec
	SubmitMS      prometheus.Histogram
}

func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attempts_total",
		Help:      "Checkout confirmations by outcome.",
	}, []string{"outcome"})
	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wallet_fetches_total",
		Help:      "Wallet balance lookups by outcome.",
	}, []string{"outcome"})
	submit := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "order_submit_duration_ms",
		Help:      "Latency of order creation calls in milliseconds.",
		Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	reg.MustRegister(attempts, fetches, submit)
	return &CheckoutMetrics{Attempts: attempts, WalletFetches: fetches, SubmitMS: submit}
}

func (m *CheckoutMetrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(outcome).Inc()
}

func (m *CheckoutMetrics) ObserveWalletFetch(outcome string) {
	if m == nil {
		return
	}
	m.WalletFetches.WithLabelValues(outcome).Inc()
}

func (m *CheckoutMetrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.SubmitMS.Observe(float64(d.Milliseconds()))
}

// Handler exposes the given gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
