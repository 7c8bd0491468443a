package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/kicet3/AIMEX-back-sub002/internal/gpu"
	"github.com/kicet3/AIMEX-back-sub002/internal/monitor"
)

// Result is the full diagnostic output of one probe.
type Result struct {
	Service        gpu.ServiceType `json:"service"`
	Status         Verdict         `json:"status"`
	Message        string          `json:"message"`
	EndpointID     string          `json:"endpoint_id,omitempty"`
	ResponseTimeMs float64         `json:"response_time_ms"`
	CheckedAt      time.Time       `json:"checked_at"`
}

// Summary rolls up results across all service categories.
type Summary struct {
	Total     int     `json:"total_services"`
	Healthy   int     `json:"healthy_services"`
	Degraded  int     `json:"degraded_services"`
	Unhealthy int     `json:"unhealthy_services"`
	Unknown   int     `json:"unknown_services"`
	Overall   Verdict `json:"overall_status"`
}

type ProbeConfig struct {
	Timeout    time.Duration
	Thresholds Thresholds
}

// Probe produces health verdicts for remote worker pools. It never
// returns an error: probe failures degrade to StatusUnknown so that
// monitoring callers keep functioning.
type Probe struct {
	client gpu.IClient
	config ProbeConfig
	logger *slog.Logger
}

func NewProbe(client gpu.IClient, config ProbeConfig, logger *slog.Logger) *Probe {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	defaults := DefaultThresholds()
	if config.Thresholds.QueueDepth == 0 {
		config.Thresholds.QueueDepth = defaults.QueueDepth
	}
	if config.Thresholds.LatencyMs == 0 {
		config.Thresholds.LatencyMs = defaults.LatencyMs
	}

	return &Probe{
		client: client,
		config: config,
		logger: logger.With("component", "health-probe"),
	}
}

// Check resolves the service's endpoint and classifies it, preferring
// the endpoint's direct health surface and falling back to aggregate
// stats from the management API when the direct call errors.
func (p *Probe) Check(ctx context.Context, service gpu.ServiceType) (result Result) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	result = Result{Service: service, CheckedAt: start}
	defer func() {
		result.ResponseTimeMs = float64(time.Since(start).Microseconds()) / 1000
		monitor.HealthProbeVerdicts.WithLabelValues(string(service), string(result.Status)).Inc()
	}()

	endpoint, err := p.client.FindEndpoint(ctx, service)
	if err != nil {
		p.logger.Warn("Endpoint resolution failed", "service", service, "error", err)
		result.Status = StatusUnhealthy
		result.Message = "endpoint not resolved: " + err.Error()
		return result
	}
	result.EndpointID = endpoint.ID

	direct, err := p.client.GetEndpointHealth(ctx, endpoint.ID)
	if err == nil {
		result.Status, result.Message = evaluateDirect(direct, p.config.Thresholds)
		return result
	}
	p.logger.Warn("Direct health surface failed, falling back to stats",
		"service", service,
		"endpoint_id", endpoint.ID,
		"error", err,
	)

	stats, err := p.client.GetEndpointStats(ctx, endpoint.ID)
	if err != nil {
		p.logger.Error("Both health strategies failed", "service", service, "error", err)
		result.Status = StatusUnknown
		result.Message = "health check failed: " + err.Error()
		return result
	}

	result.Status, result.Message = evaluateStats(stats, p.config.Thresholds)
	return result
}

// CheckAll probes every service category in the catalog.
func (p *Probe) CheckAll(ctx context.Context) map[gpu.ServiceType]Result {
	results := make(map[gpu.ServiceType]Result, len(gpu.Catalog()))
	for _, spec := range gpu.Catalog() {
		results[spec.Type] = p.Check(ctx, spec.Type)
	}
	return results
}

// Usable is the go/no-go view for dispatch paths that do not need the
// diagnostic detail.
func (p *Probe) Usable(ctx context.Context, service gpu.ServiceType) bool {
	return p.Check(ctx, service).Status.Usable()
}

// Summarize rolls a result set up into an overall status: unhealthy if
// any pool is down, degraded if any pool is degraded or unknown.
func Summarize(results map[gpu.ServiceType]Result) Summary {
	s := Summary{Total: len(results), Overall: StatusHealthy}
	for _, r := range results {
		switch r.Status {
		case StatusHealthy:
			s.Healthy++
		case StatusDegraded:
			s.Degraded++
		case StatusUnhealthy:
			s.Unhealthy++
		default:
			s.Unknown++
		}
	}
	if s.Unhealthy > 0 {
		s.Overall = StatusUnhealthy
	} else if s.Degraded > 0 || s.Unknown > 0 {
		s.Overall = StatusDegraded
	}
	return s
}
