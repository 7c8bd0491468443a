package gpu

import "context"

// IClient is the surface the lifecycle manager and health probe consume.
type IClient interface {
	CreateWorker(ctx context.Context, label string) (*WorkerHandle, error)
	GetWorkerStatus(ctx context.Context, workerID string) (*WorkerHandle, error)
	TerminateWorker(ctx context.Context, workerID string) error

	FindEndpoint(ctx context.Context, service ServiceType) (*EndpointHandle, error)
	CreateEndpoint(ctx context.Context, service ServiceType) (*EndpointHandle, error)

	GetEndpointHealth(ctx context.Context, endpointID string) (*EndpointHealth, error)
	GetEndpointStats(ctx context.Context, endpointID string) (*EndpointStats, error)

	ProbeWorkerService(ctx context.Context, endpointURL string) error
}
