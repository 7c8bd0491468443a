package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session Metrics
var (
	SessionActiveCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aimex",
		Subsystem: "session",
		Name:      "active_count",
		Help:      "Number of sessions currently awaiting input, processing or idle",
	})

	SessionAcquireLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "aimex",
		Subsystem: "session",
		Name:      "acquire_latency_seconds",
		Help:      "Latency of acquiring a ready session, including worker provisioning",
		Buckets:   []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120, 300},
	})

	SessionProvisioningErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aimex",
		Subsystem: "session",
		Name:      "provisioning_errors_total",
		Help:      "Total number of failed worker provisioning attempts",
	})

	SessionUnitsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aimex",
		Subsystem: "session",
		Name:      "units_dispatched_total",
		Help:      "Total units of work dispatched across all sessions",
	})
)

// Reconciler Metrics
var (
	ReconcilerSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aimex",
		Subsystem: "reconciler",
		Name:      "sweeps_total",
		Help:      "Total number of reconciler sweep ticks",
	})

	ReconcilerReapedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aimex",
		Subsystem: "reconciler",
		Name:      "reaped_sessions_total",
		Help:      "Total number of expired sessions terminated by the reconciler",
	})
)

// Health Probe Metrics
var (
	HealthProbeVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aimex",
		Subsystem: "health",
		Name:      "probe_verdicts_total",
		Help:      "Health probe verdicts by service and status",
	}, []string{"service", "status"})
)
