// Package metrics holds Prometheus instruments that are used across the
// service.  All collectors are registered with the global registry, so
// importing this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ShareResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "share_resolutions_total",
			Help: "Public share-link resolutions by outcome (ok, not_found, revoked, expired).",
		},
		[]string{"outcome"})

	AccessEventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "access_events_dropped_total",
			Help: "Share-link access events dropped because the queue was full.",
		})

	WriteConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "write_conflicts_total",
			Help: "Conditional writes rejected on a stale version token, by entity.",
		},
		[]string{"entity"})
)

func init() {
	prometheus.MustRegister(
		ShareResolutionsTotal,
		AccessEventsDroppedTotal,
		WriteConflictsTotal,
	)
}
