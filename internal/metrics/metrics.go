// README: Prometheus collectors for negotiation outcomes, background loops and the HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuotationsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movebid_quotations_submitted_total",
			Help: "Quotations accepted into the ledger",
		},
	)

	// Terminal transitions partitioned by record kind and target status
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movebid_transitions_total",
			Help: "Quotation and counter-offer status transitions",
		},
		[]string{"kind", "status"},
	)

	// Binding attempts partitioned by outcome (bound, already_bound, error)
	Bindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movebid_bindings_total",
			Help: "Booking price binding attempts",
		},
		[]string{"outcome"},
	)

	SweepExpired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movebid_sweep_expired_total",
			Help: "Records expired by the background sweep",
		},
		[]string{"kind"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movebid_events_published_total",
			Help: "Outbox events handed to the publisher",
		},
		[]string{"type"},
	)

	EventPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "movebid_event_publish_failures_total",
			Help: "Relay batches that failed to publish",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movebid_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "movebid_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "movebid_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		},
	)
)

const (
	KindQuotation    = "quotation"
	KindCounterOffer = "counter_offer"
)
