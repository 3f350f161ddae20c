package cloud

import (
	"context"
)

// ConfigSource fetches the desired configuration for a resource from the
// control plane.
type ConfigSource interface {
	DesiredConfig(ctx context.Context, resourceID string) (DesiredConfig, error)
}

// Applier pushes a desired configuration to a running instance. Apply must be
// idempotent from the orchestrator's perspective: re-applying a configuration
// that is already current is a no-op.
type Applier interface {
	Apply(ctx context.Context, resourceID string, desired DesiredConfig) error
}

// Provisioner manages the backing compute instance for a resource.
type Provisioner interface {
	// Destroy removes the backing instance. Destroying an absent instance
	// is not an error.
	Destroy(ctx context.Context, resourceID string) error

	// Create provisions a fresh backing instance.
	Create(ctx context.Context, resourceID string) (InstanceRef, error)

	// IsReachable reports whether the instance answers on its management
	// channel.
	IsReachable(ctx context.Context, ref InstanceRef) (bool, error)

	// Status returns the provisioner's current view of the resource's
	// backing instance. Used on recovery to decide whether to re-provision
	// or proceed directly to configuration.
	Status(ctx context.Context, resourceID string) (InstanceStatus, error)
}

// Inventory enumerates the resources the orchestrator is responsible for.
type Inventory interface {
	// ListResources returns every known resource.
	ListResources(ctx context.Context) ([]Resource, error)

	// ListTenantResources returns the resources owned by a tenant.
	ListTenantResources(ctx context.Context, tenantID string) ([]Resource, error)
}
