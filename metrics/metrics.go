// Package metrics holds the Prometheus collectors of the sync layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MessagesSent counts messages accepted by the store.
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wolfpack",
		Name:      "messages_sent_total",
		Help:      "Messages written to the remote store.",
	})

	// Toggles counts edge toggles by kind and outcome
	// (committed, rolled_back, ignored).
	Toggles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wolfpack",
		Name:      "toggles_total",
		Help:      "Optimistic edge toggles by kind and outcome.",
	}, []string{"kind", "outcome"})

	// Notifications counts notification deliveries by channel (in_app, push)
	// and outcome (ok, failed, skipped, suppressed).
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wolfpack",
		Name:      "notifications_total",
		Help:      "Notification deliveries by channel and outcome.",
	}, []string{"channel", "outcome"})

	// Subscriptions is the number of open realtime subscriptions.
	Subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wolfpack",
		Name:      "realtime_subscriptions",
		Help:      "Open realtime subscriptions.",
	})
)

func init() {
	prometheus.MustRegister(MessagesSent, Toggles, Notifications, Subscriptions)
}
