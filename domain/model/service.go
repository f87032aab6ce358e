package model

// Service is one entry of the workspace service registry
type Service struct {
	ID         ServiceID      `json:"id"`
	Path       string         `json:"path"`
	Enabled    bool           `json:"enabled"`
	Descriptor map[string]any `json:"descriptor,omitempty"`
}

// EnsureOptions are passed along with every ensure call
type EnsureOptions struct {
	Force bool `json:"force,omitempty"`
}

// Result is the loosely typed payload returned by the orchestrator
type Result map[string]any
