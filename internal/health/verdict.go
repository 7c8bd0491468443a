package health

import (
	"fmt"

	"github.com/kicet3/AIMEX-back-sub002/internal/gpu"
)

// Verdict is the tri-state (plus unknown) health classification of one
// service's worker pool.
type Verdict string

const (
	StatusHealthy   Verdict = "healthy"
	StatusDegraded  Verdict = "degraded"
	StatusUnhealthy Verdict = "unhealthy"
	StatusUnknown   Verdict = "unknown"
)

// Usable reports whether work can still be dispatched to the pool.
// Degraded pools accept work, they just queue or throttle it.
func (v Verdict) Usable() bool {
	return v == StatusHealthy || v == StatusDegraded
}

// Thresholds tune when queuing and latency symptoms count as degraded.
type Thresholds struct {
	QueueDepth int
	LatencyMs  float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{QueueDepth: 10, LatencyMs: 30000}
}

// evaluateDirect classifies the endpoint's own health surface. Rules are
// applied in priority order; the first that fires decides the verdict.
func evaluateDirect(h *gpu.EndpointHealth, t Thresholds) (Verdict, string) {
	w := h.Workers
	total := w.Idle + w.Initializing + w.Ready + w.Running + w.Throttled + w.Unhealthy
	healthy := w.Idle + w.Ready + w.Running

	switch {
	case w.Unhealthy > 0:
		return StatusUnhealthy, fmt.Sprintf("%d unhealthy workers", w.Unhealthy)
	case total == 0:
		return StatusUnhealthy, "no workers in pool"
	case w.Throttled > 0:
		return StatusDegraded, fmt.Sprintf("%d throttled workers", w.Throttled)
	case h.Jobs.InQueue > t.QueueDepth:
		return StatusDegraded, fmt.Sprintf("queue depth %d exceeds %d", h.Jobs.InQueue, t.QueueDepth)
	case healthy == 0 && h.Jobs.InQueue > 0:
		return StatusDegraded, "jobs queued with no healthy workers"
	default:
		return StatusHealthy, fmt.Sprintf("%d workers available", healthy)
	}
}

// evaluateStats classifies the aggregate management-API view, used when
// the direct surface is unreachable.
func evaluateStats(s *gpu.EndpointStats, t Thresholds) (Verdict, string) {
	switch {
	case s.WorkersRunning == 0 && s.QueuedRequests > 0:
		return StatusDegraded, fmt.Sprintf("%d requests queued with no running workers", s.QueuedRequests)
	case s.WorkersThrottled > 0:
		return StatusDegraded, fmt.Sprintf("%d throttled workers", s.WorkersThrottled)
	case s.AvgResponseTime > t.LatencyMs:
		return StatusDegraded, fmt.Sprintf("avg response time %.0fms exceeds %.0fms", s.AvgResponseTime, t.LatencyMs)
	case s.QueuedRequests > t.QueueDepth:
		return StatusDegraded, fmt.Sprintf("queue depth %d exceeds %d", s.QueuedRequests, t.QueueDepth)
	default:
		return StatusHealthy, fmt.Sprintf("%d workers running", s.WorkersRunning)
	}
}
