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

	ContactsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contacts_published_total",
			Help: "Contact bundle publishes by outcome (stored, stale, failure).",
		},
		[]string{"service", "outcome"},
	)

	ContactLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contact_lookups_total",
			Help: "Contact directory lookups by outcome (hit, miss, failure).",
		},
		[]string{"service", "outcome"},
	)
)

func MustRegister(serviceName string) {
	labels := prometheus.Labels{"service": serviceName}
	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(labels)
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(labels).(*prometheus.HistogramVec)
	ContactsPublishedTotal = ContactsPublishedTotal.MustCurryWith(labels)
	ContactLookupsTotal = ContactLookupsTotal.MustCurryWith(labels)

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		ContactsPublishedTotal,
		ContactLookupsTotal,
	)
}
