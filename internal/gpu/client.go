package gpu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const workerServicePort = 8188

// ClientConfig carries the provisioning API settings.
type ClientConfig struct {
	APIKey         string
	GraphQLURL     string
	RESTURL        string
	GPUType        string
	TemplateID     string
	BidPerGPUHour  float64
	AllowAutoSetup bool
	RequestTimeout time.Duration
}

var _ IClient = (*Client)(nil)

// Client talks to the GPU provider's control plane (GraphQL) and the
// per-endpoint REST surface. Endpoint resolutions are cached for the
// process lifetime; failed lookups are not cached because pools may be
// created out-of-band at any time.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	endpoints map[ServiceType]*EndpointHandle
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	return &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.RequestTimeout},
		logger:    logger.With("component", "gpu-client"),
		endpoints: make(map[ServiceType]*EndpointHandle),
	}
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

func (c *Client) graphql(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.GraphQLURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("control plane request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("control plane returned %d: %s", resp.StatusCode, msg)
	}

	var gr graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(gr.Errors) > 0 {
		return fmt.Errorf("control plane error: %s", gr.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

type podPayload struct {
	ID            string `json:"id"`
	DesiredStatus string `json:"desiredStatus"`
	CostPerHr     float64 `json:"costPerHr"`
	Machine       struct {
		GPUDisplayName string `json:"gpuDisplayName"`
	} `json:"machine"`
	Runtime *struct {
		Ports []struct {
			IP          string `json:"ip"`
			IsIPPublic  bool   `json:"isIpPublic"`
			PrivatePort int    `json:"privatePort"`
			PublicPort  int    `json:"publicPort"`
		} `json:"ports"`
	} `json:"runtime"`
}

func (p *podPayload) handle() *WorkerHandle {
	h := &WorkerHandle{
		ID:          p.ID,
		RunState:    RunState(p.DesiredStatus),
		GPUType:     p.Machine.GPUDisplayName,
		CostPerHour: p.CostPerHr,
	}
	if p.Runtime != nil {
		for _, port := range p.Runtime.Ports {
			if port.PrivatePort == workerServicePort && port.IsIPPublic {
				h.EndpointURL = fmt.Sprintf("http://%s:%d", port.IP, port.PublicPort)
				break
			}
		}
	}
	return h
}

const createWorkerMutation = `
mutation podRentInterruptable($input: PodRentInterruptableInput!) {
    podRentInterruptable(input: $input) {
        id
        desiredStatus
        costPerHr
        machine { gpuDisplayName }
        runtime {
            ports { ip isIpPublic privatePort publicPort }
        }
    }
}`

func (c *Client) CreateWorker(ctx context.Context, label string) (*WorkerHandle, error) {
	input := map[string]any{
		"name":              label,
		"bidPerGpu":         c.cfg.BidPerGPUHour,
		"gpuCount":          1,
		"gpuTypeId":         c.cfg.GPUType,
		"volumeInGb":        50,
		"containerDiskInGb": 30,
		"minVcpuCount":      4,
		"minMemoryInGb":     20,
		"ports":             fmt.Sprintf("%d/http,22/tcp", workerServicePort),
	}
	if c.cfg.TemplateID != "" {
		input["templateId"] = c.cfg.TemplateID
	}

	var out struct {
		Pod podPayload `json:"podRentInterruptable"`
	}
	if err := c.graphql(ctx, createWorkerMutation, map[string]any{"input": input}, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	if out.Pod.ID == "" {
		return nil, fmt.Errorf("%w: provider returned no worker id", ErrProvisioning)
	}

	c.logger.Info("Worker created", "worker_id", out.Pod.ID, "label", label, "state", out.Pod.DesiredStatus)
	return out.Pod.handle(), nil
}

const workerStatusQuery = `
query pod($podId: String!) {
    pod(input: { podId: $podId }) {
        id
        desiredStatus
        costPerHr
        machine { gpuDisplayName }
        runtime {
            ports { ip isIpPublic privatePort publicPort }
        }
    }
}`

func (c *Client) GetWorkerStatus(ctx context.Context, workerID string) (*WorkerHandle, error) {
	var out struct {
		Pod podPayload `json:"pod"`
	}
	if err := c.graphql(ctx, workerStatusQuery, map[string]any{"podId": workerID}, &out); err != nil {
		return nil, err
	}
	if out.Pod.ID == "" {
		// The provider drops the record shortly after termination.
		return &WorkerHandle{ID: workerID, RunState: RunStateTerminated}, nil
	}
	return out.Pod.handle(), nil
}

const terminateWorkerMutation = `
mutation podTerminate($input: PodTerminateInput!) {
    podTerminate(input: $input)
}`

func (c *Client) TerminateWorker(ctx context.Context, workerID string) error {
	err := c.graphql(ctx, terminateWorkerMutation, map[string]any{
		"input": map[string]any{"podId": workerID},
	}, nil)
	if err != nil {
		return fmt.Errorf("terminate worker %s: %w", workerID, err)
	}
	c.logger.Info("Worker terminated", "worker_id", workerID)
	return nil
}

type endpointPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	WorkersMin int    `json:"workersMin"`
	WorkersMax int    `json:"workersMax"`
	Template   struct {
		Name      string `json:"name"`
		ImageName string `json:"imageName"`
	} `json:"template"`
}

func (e *endpointPayload) handle() *EndpointHandle {
	return &EndpointHandle{
		ID:           e.ID,
		Name:         e.Name,
		TemplateName: e.Template.Name,
		ImageName:    e.Template.ImageName,
		WorkersMin:   e.WorkersMin,
		WorkersMax:   e.WorkersMax,
	}
}

const listEndpointsQuery = `
query {
    myself {
        endpoints {
            id
            name
            workersMin
            workersMax
            template { name imageName }
        }
    }
}`

func (c *Client) listEndpoints(ctx context.Context) ([]endpointPayload, error) {
	var out struct {
		Myself struct {
			Endpoints []endpointPayload `json:"endpoints"`
		} `json:"myself"`
	}
	if err := c.graphql(ctx, listEndpointsQuery, nil, &out); err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	return out.Myself.Endpoints, nil
}

// FindEndpoint resolves the endpoint pool for a service category, caching
// successful resolutions for the process lifetime.
func (c *Client) FindEndpoint(ctx context.Context, service ServiceType) (*EndpointHandle, error) {
	c.mu.Lock()
	if ep, ok := c.endpoints[service]; ok {
		c.mu.Unlock()
		return ep, nil
	}
	c.mu.Unlock()

	spec, ok := SpecFor(service)
	if !ok {
		return nil, fmt.Errorf("%w: unknown service type %q", ErrEndpointNotFound, service)
	}

	endpoints, err := c.listEndpoints(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]*EndpointHandle, 0, len(endpoints))
	for i := range endpoints {
		candidates = append(candidates, endpoints[i].handle())
	}

	match := MatchEndpoint(spec, candidates)
	if match == nil {
		return nil, fmt.Errorf("%w: service %q", ErrEndpointNotFound, service)
	}

	c.logger.Info("Endpoint resolved",
		"service", service,
		"endpoint_id", match.ID,
		"endpoint_name", match.Name,
		"image", match.ImageName,
	)

	c.mu.Lock()
	c.endpoints[service] = match
	c.mu.Unlock()

	return match, nil
}

const saveTemplateMutation = `
mutation saveTemplate($input: SaveTemplateInput!) {
    saveTemplate(input: $input) { id }
}`

const saveEndpointMutation = `
mutation saveEndpoint($input: EndpointInput!) {
    saveEndpoint(input: $input) {
        id
        name
        workersMin
        workersMax
        template { name imageName }
    }
}`

// CreateEndpoint provisions a new serverless pool for the service. Most
// accounts disable this and require the operator to create the pool in
// the dashboard, in which case ErrManualProvisioningRequired is returned
// and discovery picks the pool up once it exists.
func (c *Client) CreateEndpoint(ctx context.Context, service ServiceType) (*EndpointHandle, error) {
	spec, ok := SpecFor(service)
	if !ok {
		return nil, fmt.Errorf("%w: unknown service type %q", ErrEndpointNotFound, service)
	}

	if !c.cfg.AllowAutoSetup {
		c.logger.Warn("Endpoint auto-setup disabled, create it in the provider dashboard",
			"service", service,
			"image", spec.WorkerImage,
			"name", spec.EndpointName,
		)
		return nil, ErrManualProvisioningRequired
	}

	var tmpl struct {
		SaveTemplate struct {
			ID string `json:"id"`
		} `json:"saveTemplate"`
	}
	err := c.graphql(ctx, saveTemplateMutation, map[string]any{
		"input": map[string]any{
			"name":              spec.EndpointName,
			"imageName":         spec.WorkerImage,
			"dockerArgs":        "",
			"containerDiskInGb": 50,
			"volumeInGb":        0,
			"ports":             "8000/http",
			"isServerless":      true,
		},
	}, &tmpl)
	if err != nil {
		return nil, fmt.Errorf("create template for %s: %w", service, err)
	}

	var out struct {
		SaveEndpoint endpointPayload `json:"saveEndpoint"`
	}
	err = c.graphql(ctx, saveEndpointMutation, map[string]any{
		"input": map[string]any{
			"name":        spec.EndpointName,
			"templateId":  tmpl.SaveTemplate.ID,
			"gpuIds":      "AMPERE_16,AMPERE_24",
			"workersMin":  0,
			"workersMax":  3,
			"locations":   "ANY",
			"scalerType":  "QUEUE_DELAY",
			"scalerValue": 4,
		},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("create endpoint for %s: %w", service, err)
	}

	ep := out.SaveEndpoint.handle()
	c.logger.Info("Endpoint created", "service", service, "endpoint_id", ep.ID)

	c.mu.Lock()
	c.endpoints[service] = ep
	c.mu.Unlock()

	return ep, nil
}

// GetEndpointHealth queries the endpoint's direct health surface.
func (c *Client) GetEndpointHealth(ctx context.Context, endpointID string) (*EndpointHealth, error) {
	url := fmt.Sprintf("%s/%s/health", c.cfg.RESTURL, endpointID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("endpoint health request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("endpoint health returned %d: %s", resp.StatusCode, msg)
	}

	var health EndpointHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode endpoint health: %w", err)
	}
	return &health, nil
}

const endpointStatsQuery = `
query GetEndpointStatus($endpointId: String!) {
    endpoint(id: $endpointId) {
        workersRunning
        workersThrottled
        queuedRequests
        avgResponseTime
    }
}`

// GetEndpointStats queries aggregate endpoint statistics through the
// management API. Used as the fallback when the direct surface errors.
func (c *Client) GetEndpointStats(ctx context.Context, endpointID string) (*EndpointStats, error) {
	var out struct {
		Endpoint struct {
			WorkersRunning   int     `json:"workersRunning"`
			WorkersThrottled int     `json:"workersThrottled"`
			QueuedRequests   int     `json:"queuedRequests"`
			AvgResponseTime  float64 `json:"avgResponseTime"`
		} `json:"endpoint"`
	}
	if err := c.graphql(ctx, endpointStatsQuery, map[string]any{"endpointId": endpointID}, &out); err != nil {
		return nil, fmt.Errorf("endpoint stats: %w", err)
	}
	return &EndpointStats{
		WorkersRunning:   out.Endpoint.WorkersRunning,
		WorkersThrottled: out.Endpoint.WorkersThrottled,
		QueuedRequests:   out.Endpoint.QueuedRequests,
		AvgResponseTime:  out.Endpoint.AvgResponseTime,
	}, nil
}

// ProbeWorkerService checks that the service hosted on a worker is
// accepting requests. A worker can be RUNNING at the infrastructure
// level while its service process is still loading models.
func (c *Client) ProbeWorkerService(ctx context.Context, endpointURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL+"/system_stats", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("worker service probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker service returned %d", resp.StatusCode)
	}
	return nil
}
