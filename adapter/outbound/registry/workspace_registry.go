package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/tidwall/jsonc"

	"github.com/ajkula/GoPIO/domain/model"
	"github.com/ajkula/GoPIO/domain/port/outbound"
)

// DescriptorFile is the workspace descriptor at the workspace root
const DescriptorFile = "pio.json"

type descriptor struct {
	Services map[string]map[string]any `json:"services"`
}

// WorkspaceRegistry reads services from the workspace descriptor on every
// call so that redeploys pick up added or disabled services
type WorkspaceRegistry struct {
	root   string
	logger outbound.Logger
}

func NewWorkspaceRegistry(root string, logger outbound.Logger) (*WorkspaceRegistry, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", root, err)
	}
	return &WorkspaceRegistry{root: abs, logger: logger}, nil
}

func (r *WorkspaceRegistry) Root() string {
	return r.root
}

func (r *WorkspaceRegistry) Services(ctx context.Context) ([]*model.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(r.root, DescriptorFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", model.ErrRegistryNotFound, path)
		}
		return nil, fmt.Errorf("failed to read workspace descriptor: %w", err)
	}

	var desc descriptor
	if err := json.Unmarshal(jsonc.ToJSON(data), &desc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	services := make([]*model.Service, 0, len(desc.Services))
	for id, fields := range desc.Services {
		svc, err := toService(id, fields)
		if err != nil {
			return nil, fmt.Errorf("service %q in %s: %w", id, path, err)
		}
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })

	r.logger.Debug("Workspace descriptor loaded", "path", path, "services", len(services))
	return services, nil
}

// toService maps one descriptor entry. path defaults to the service ID and
// enabled defaults to true.
func toService(id string, fields map[string]any) (*model.Service, error) {
	svc := &model.Service{
		ID:         model.ServiceID(id),
		Path:       id,
		Enabled:    true,
		Descriptor: fields,
	}
	if raw, ok := fields["path"]; ok {
		path, isString := raw.(string)
		if !isString || path == "" {
			return nil, fmt.Errorf("path must be a non-empty string")
		}
		svc.Path = path
	}
	if raw, ok := fields["enabled"]; ok {
		enabled, isBool := raw.(bool)
		if !isBool {
			return nil, fmt.Errorf("enabled must be a boolean")
		}
		svc.Enabled = enabled
	}
	return svc, nil
}

