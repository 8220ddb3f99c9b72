// Copyright 2025 Certen Protocol
//
// Package metrics exposes the Driver Loop's Prometheus surface: one
// Registry per worker process, safe for concurrent updates from the iteration
// loop and rendered by cmd/worker's /metrics HTTP handler.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every collector the Driver Loop and its supporting
// packages update. One Registry is created per worker process and passed
// down rather than relying on package-level globals, so tests can use an
// isolated prometheus.Registry instead of the default one.
type Registry struct {
	PlansInFlight     prometheus.Gauge
	NonceReclaims     prometheus.Counter
	LeaseConflicts    prometheus.Counter
	LeaseRefreshFails prometheus.Counter
	AdapterCallSeconds *prometheus.HistogramVec
	StepsSubmitted    prometheus.Counter
	StepsDropped      prometheus.Counter
	PlansConfirmed    prometheus.Counter
	PlansAborted      prometheus.Counter
}

// New registers every collector against reg and returns the bundle. Pass
// prometheus.NewRegistry() in tests; cmd/worker passes
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		PlansInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "privadex",
			Subsystem: "driver",
			Name:      "plans_in_flight",
			Help:      "Number of plans currently leased by this worker.",
		}),
		NonceReclaims: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "privadex",
			Subsystem: "noncemgr",
			Name:      "nonce_reclaims_total",
			Help:      "Count of dropped nonces reclaimed by a later step.",
		}),
		LeaseConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "privadex",
			Subsystem: "planassigner",
			Name:      "lease_conflicts_total",
			Help:      "Count of Acquire calls that found the plan already leased.",
		}),
		LeaseRefreshFails: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "privadex",
			Subsystem: "planassigner",
			Name:      "lease_refresh_failures_total",
			Help:      "Count of Refresh calls that lost the lease.",
		}),
		AdapterCallSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "privadex",
			Subsystem: "chainadapter",
			Name:      "call_seconds",
			Help:      "Latency of adapter calls, labeled by chain family and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"family", "method"}),
		StepsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "privadex",
			Subsystem: "driver",
			Name:      "steps_submitted_total",
			Help:      "Count of ExecutionStep submissions issued.",
		}),
		StepsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "privadex",
			Subsystem: "driver",
			Name:      "steps_dropped_total",
			Help:      "Count of ExecutionSteps that reached a Dropped terminal state.",
		}),
		PlansConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "privadex",
			Subsystem: "driver",
			Name:      "plans_confirmed_total",
			Help:      "Count of plans that reached Confirmed.",
		}),
		PlansAborted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "privadex",
			Subsystem: "driver",
			Name:      "plans_aborted_total",
			Help:      "Count of plans that reached Aborted or Dropped.",
		}),
	}
}
