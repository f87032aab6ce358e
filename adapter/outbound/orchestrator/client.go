package orchestrator

import (
	"context"
	"fmt"

	"github.com/ajkula/GoPIO/domain/model"
	"github.com/ajkula/GoPIO/domain/port/outbound"
)

// operations exposed by the orchestration engine
const (
	opEnsure  = "Ensure"
	opDeploy  = "Deploy"
	opRestart = "Restart"
	opCall    = "Call"
	opList    = "List"
	opInfo    = "Info"
	opStatus  = "Status"
	opTest    = "Test"
	opPublish = "Publish"
)

// invoker carries one request to the engine and returns the decoded result.
// A nil result means the engine answered null.
type invoker interface {
	invoke(ctx context.Context, op string, method string, args map[string]any) (any, error)
	Close() error
}

// Client implements the orchestrator port over a transport
type Client struct {
	inv    invoker
	logger outbound.Logger
}

var _ outbound.LifecycleOrchestrator = (*Client)(nil)

func newClient(inv invoker, logger outbound.Logger) *Client {
	return &Client{inv: inv, logger: logger}
}

func (c *Client) Ensure(ctx context.Context, selector string, opts model.EnsureOptions) (model.Result, error) {
	return c.result(ctx, opEnsure, map[string]any{
		"selector": selector,
		"force":    opts.Force,
	})
}

func (c *Client) Deploy(ctx context.Context) (model.Result, error) {
	return c.result(ctx, opDeploy, nil)
}

func (c *Client) Restart(ctx context.Context, serviceID model.ServiceID) (model.Result, error) {
	return c.result(ctx, opRestart, map[string]any{"service": string(serviceID)})
}

func (c *Client) Call(ctx context.Context, method string, args map[string]any) (*bool, error) {
	value, err := c.inv.invoke(ctx, opCall, method, args)
	if err != nil {
		return nil, err
	}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		return &v, nil
	default:
		return nil, fmt.Errorf("%s %s: unexpected result type %T", opCall, method, value)
	}
}

func (c *Client) List(ctx context.Context) ([]string, error) {
	value, err := c.inv.invoke(ctx, opList, opList, nil)
	if err != nil {
		return nil, err
	}
	items, ok := value.([]any)
	if value != nil && !ok {
		return nil, fmt.Errorf("%s: unexpected result type %T", opList, value)
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, fmt.Sprint(item))
	}
	return names, nil
}

func (c *Client) Info(ctx context.Context) (model.Result, error) {
	return c.result(ctx, opInfo, nil)
}

func (c *Client) Status(ctx context.Context) (model.Result, error) {
	return c.result(ctx, opStatus, nil)
}

func (c *Client) Test(ctx context.Context) (model.Result, error) {
	return c.result(ctx, opTest, nil)
}

func (c *Client) Publish(ctx context.Context) (model.Result, error) {
	return c.result(ctx, opPublish, nil)
}

func (c *Client) Close() error {
	return c.inv.Close()
}

func (c *Client) result(ctx context.Context, op string, args map[string]any) (model.Result, error) {
	c.logger.Debug("Orchestrator request", "op", op)
	value, err := c.inv.invoke(ctx, op, op, args)
	if err != nil {
		return nil, err
	}
	return toResult(value), nil
}

// toResult wraps non-object answers under "value"
func toResult(value any) model.Result {
	switch v := value.(type) {
	case nil:
		return model.Result{}
	case map[string]any:
		return model.Result(v)
	default:
		return model.Result{"value": v}
	}
}

// envelope is the request body shared by both transports
func envelope(id, method string, args map[string]any) map[string]any {
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{
		"id":     id,
		"method": method,
		"args":   args,
	}
}
