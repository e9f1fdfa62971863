package correlation

import "github.com/prometheus/client_golang/prometheus"

var (
	// notificationsTotal counts handled notifications by disposition
	// (resolved, duplicate, unresolved_provider, invalid, error).
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndi_notifications_total",
			Help: "Provider notifications handled, by outcome.",
		},
		[]string{"outcome"},
	)

	// evictionsTotal counts entries removed by the janitor per store.
	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ndi_janitor_evictions_total",
			Help: "Entries evicted by the expiry sweep, by store.",
		},
		[]string{"store"},
	)

	pendingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ndi_pending_requests",
			Help: "Proof requests awaiting a provider notification.",
		},
	)
)

func init() {
	prometheus.MustRegister(notificationsTotal, evictionsTotal, pendingGauge)
}
