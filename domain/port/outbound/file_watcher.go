package outbound

import (
	"context"
)

// represents a file system change observed under a watched directory
type FileChangeEvent struct {
	FilePath  string `json:"filePath"`  // Absolute path of the changed file
	EventType string `json:"eventType"` // "create" or "modify"
}

// defines operations for receiving file system change hints
type FileWatcher interface {
	// starts monitoring the directory containing path
	Watch(ctx context.Context, path string) error

	// stops watching all directories and releases resources
	Stop() error

	// returns a channel for receiving file change events
	Events() <-chan FileChangeEvent

	// returns a channel for receiving file watcher errors
	Errors() <-chan error

	// returns true if at least one directory is watched
	IsWatching() bool

	// returns a list of currently watched directories
	GetWatchedPaths() []string
}
