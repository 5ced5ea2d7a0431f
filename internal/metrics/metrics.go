// Package metrics exposes prometheus collectors for trigger invocations,
// document writes and notification sends.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatsync"

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	Invocations   *prometheus.CounterVec   // by route and outcome
	Duration      *prometheus.HistogramVec // by route
	Writes        *prometheus.CounterVec   // by document kind and op
	Notifications *prometheus.CounterVec   // by kind and outcome
	Skipped       *prometheus.CounterVec   // by reason
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_invocations_total",
			Help:      "Trigger handler invocations.",
		}, []string{"route", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trigger_duration_seconds",
			Help:      "Trigger handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_writes_total",
			Help:      "Derived document writes issued by the synchronizer.",
		}, []string{"kind", "op"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Push notifications handed to the gateway.",
		}, []string{"kind", "outcome"}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_skipped_total",
			Help:      "Message events the synchronizer ignored.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(m.Invocations, m.Duration, m.Writes, m.Notifications, m.Skipped)
	m.registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return m
}

// Handler returns an http.Handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
