package outbound

import (
	"context"

	"github.com/ajkula/GoPIO/domain/model"
)

// Orchestrator is the subset of the orchestration engine used by the sync loop
type Orchestrator interface {
	// selects the services the following calls act upon
	Ensure(ctx context.Context, selector string, opts model.EnsureOptions) (model.Result, error)

	// deploys the ensured services
	Deploy(ctx context.Context) (model.Result, error)

	// restarts one running service
	Restart(ctx context.Context, serviceID model.ServiceID) (model.Result, error)

	// invokes a remote primitive; a nil result means the remote answered null
	Call(ctx context.Context, method string, args map[string]any) (*bool, error)
}

// LifecycleOrchestrator adds the operations behind the lifecycle commands
type LifecycleOrchestrator interface {
	Orchestrator

	List(ctx context.Context) ([]string, error)
	Info(ctx context.Context) (model.Result, error)
	Status(ctx context.Context) (model.Result, error)
	Test(ctx context.Context) (model.Result, error)
	Publish(ctx context.Context) (model.Result, error)

	// releases the underlying connection
	Close() error
}
