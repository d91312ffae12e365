// Package metrics exposes the engine's operational counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the engine's collectors. All components share one
// instance, created in main and registered on a private registry.
type Metrics struct {
	// FetchTotal counts acquisition attempts per integration, labeled by
	// result ("success" or "error").
	FetchTotal *prometheus.CounterVec

	// SnapshotsPublished counts published snapshots per integration.
	SnapshotsPublished *prometheus.CounterVec

	// SessionsActive tracks the number of live viewer sessions.
	SessionsActive prometheus.Gauge

	// SessionsDropped counts sessions dropped for falling behind.
	SessionsDropped prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homeboard",
			Name:      "fetch_total",
			Help:      "Integration acquisition attempts by result.",
		}, []string{"integration", "result"}),
		SnapshotsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homeboard",
			Name:      "snapshots_published_total",
			Help:      "Snapshots published per integration.",
		}, []string{"integration"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "homeboard",
			Name:      "sessions_active",
			Help:      "Currently connected viewer sessions.",
		}),
		SessionsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "homeboard",
			Name:      "sessions_dropped_total",
			Help:      "Viewer sessions dropped for falling behind.",
		}),
	}
}

// ObserveSnapshot records one published snapshot.
func (m *Metrics) ObserveSnapshot(integration string, ok bool) {
	result := "success"
	if !ok {
		result = "error"
	}
	m.FetchTotal.WithLabelValues(integration, result).Inc()
	m.SnapshotsPublished.WithLabelValues(integration).Inc()
}
