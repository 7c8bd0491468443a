package gpu

import "errors"

var (
	ErrProvisioning = errors.New("worker could not be provisioned")

	ErrReadinessTimeout = errors.New("worker did not become ready in time")

	ErrEndpointNotFound = errors.New("no matching endpoint")

	// ErrManualProvisioningRequired is returned when the account does not
	// permit creating endpoints through the API; the pool must be created
	// in the provider dashboard and is picked up on the next discovery.
	ErrManualProvisioningRequired = errors.New("endpoint must be created manually")
)
