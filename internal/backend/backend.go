// Package backend defines the narrow contract between the orchestrator and
// a virtualization driver.
package backend

import (
	"context"

	"github.com/terabiome/clusterup/internal/plan"
)

// Handle identifies an instance known to a backend.
type Handle struct {
	ID   string
	Name string
}

// Backend drives the lifecycle of individual instances. Calls block until
// the backend operation finishes; implementations must be safe for
// concurrent use by different instances.
type Backend interface {
	Name() string
	Create(ctx context.Context, spec plan.InstancePlan) (Handle, error)
	Start(ctx context.Context, handle Handle) error
	Stop(ctx context.Context, handle Handle) error
	Lookup(ctx context.Context, name string) (Handle, error)
	Destroy(ctx context.Context, handle Handle) error
}
