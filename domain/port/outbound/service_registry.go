package outbound

import (
	"context"

	"github.com/ajkula/GoPIO/domain/model"
)

// ServiceRegistry resolves the services declared by the workspace
type ServiceRegistry interface {
	// returns the workspace root directory
	Root() string

	// lists every declared service, enabled or not
	Services(ctx context.Context) ([]*model.Service, error)
}
