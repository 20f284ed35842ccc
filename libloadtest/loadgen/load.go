package loadgen

import (
	"context"
	"fmt"
)

// Load defines one kind of load against a photo library.
// Implementations provide initialization logic and job execution logic.
type Load interface {
	// Options returns the supported option names with descriptions
	Options() map[string]string

	// Init initializes the load testing environment.
	// This is called once before starting the worker.
	// It should prepare any necessary resources or fetch initial data.
	Init(ctx context.Context, options map[string]string) error

	// Job executes a single load testing operation.
	// This is called repeatedly by the worker during load testing.
	Job(ctx context.Context) error

	// Close cleans up resources used by the load testing implementation.
	Close() error
}

// NewLoad returns the load implementation registered under name.
func NewLoad(name string) (Load, error) {
	switch name {
	case "originals":
		return &OriginalsLoad{}, nil
	case "metadata":
		return &MetadataLoad{}, nil
	default:
		return nil, fmt.Errorf("unknown load %q (must be 'originals' or 'metadata')", name)
	}
}
