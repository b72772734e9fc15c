package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Metrics holds the collectors recorded by the checkout, order and HTTP
// layers. A nil *Metrics records nothing.
type Metrics struct {
	Checkouts           *prometheus.CounterVec
	CheckoutDuration    prometheus.Histogram
	ReservationFailures *prometheus.CounterVec
	Cancellations       prometheus.Counter
	Requests            *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	OutboxPublished     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New builds the collectors and registers them on reg. When reg is also a
// Gatherer, Handler serves exactly what was registered there.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkouts by result.",
		}, []string{"result"}),
		CheckoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "Time spent converting a cart into an order.",
			Buckets:   prometheus.DefBuckets,
		}),
		ReservationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_failures_total",
			Help:      "Failed stock reservations by reason.",
		}, []string{"reason"}),
		Cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_cancellations_total",
			Help:      "Orders cancelled with stock restored.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox events handled by the publisher, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.Checkouts,
		m.CheckoutDuration,
		m.ReservationFailures,
		m.Cancellations,
		m.Requests,
		m.RequestDuration,
		m.OutboxPublished,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

func (m *Metrics) ObserveCheckout(result string, seconds float64) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(result).Inc()
	m.CheckoutDuration.Observe(seconds)
}

func (m *Metrics) ReservationFailed(reason string) {
	if m == nil {
		return
	}
	m.ReservationFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) OrderCancelled() {
	if m == nil {
		return
	}
	m.Cancellations.Inc()
}

func (m *Metrics) ObserveRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) OutboxEvent(result string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(result).Inc()
}

// Handler serves the registry New was given, or the default one.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
