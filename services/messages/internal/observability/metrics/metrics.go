package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	EnvelopesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envelopes_published_total",
			Help: "Envelopes accepted for publishing, by outcome (stored, duplicate).",
		},
		[]string{"service", "outcome"},
	)

	EnvelopeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "envelope_message_bytes",
			Help:    "Sizes of stored envelope messages.",
			Buckets: prometheus.ExponentialBuckets(64, 2, 12),
		},
		[]string{"service", "topic_kind"},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envelope_queries_total",
			Help: "Total number of envelope queries.",
		},
		[]string{"service", "kind"},
	)

	ActiveSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "envelope_subscriptions_active",
			Help: "Open subscribe streams.",
		},
		[]string{"service"},
	)
)

func MustRegister(serviceName string) {
	labels := prometheus.Labels{"service": serviceName}
	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(labels)
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(labels).(*prometheus.HistogramVec)
	EnvelopesPublishedTotal = EnvelopesPublishedTotal.MustCurryWith(labels)
	EnvelopeBytes = EnvelopeBytes.MustCurryWith(labels).(*prometheus.HistogramVec)
	QueriesTotal = QueriesTotal.MustCurryWith(labels)
	ActiveSubscriptions = ActiveSubscriptions.MustCurryWith(labels)

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		EnvelopesPublishedTotal,
		EnvelopeBytes,
		QueriesTotal,
		ActiveSubscriptions,
	)
}
