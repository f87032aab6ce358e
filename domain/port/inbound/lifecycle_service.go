package inbound

import (
	"context"

	"github.com/ajkula/GoPIO/domain/model"
)

// LifecycleService runs the one-shot workspace commands
type LifecycleService interface {
	List(ctx context.Context) ([]string, error)
	Deploy(ctx context.Context, selector string) error
	Info(ctx context.Context, selector string) (model.Result, error)
	Status(ctx context.Context, selector string) (model.Result, error)
	Test(ctx context.Context, selector string) (model.Result, error)
	Publish(ctx context.Context, selector string) error

	// returns a fresh v4 UUID
	GenID() string
}
