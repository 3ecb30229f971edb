package store

import (
	"context"
)

// Store is a path-addressed document store. Paths are slash separated
// ("sales/<id>/applianceIds"). Values are JSON trees: map[string]any, []any,
// string, float64, bool. Writing nil removes the path. No operation spans
// more than one path atomically.
type Store interface {
	// Read returns the value at path and whether it exists.
	Read(ctx context.Context, path string) (any, bool, error)
	// Write replaces the value at path.
	Write(ctx context.Context, path string, value any) error
	// Update merges fields into the object at path. Keys are sub-paths
	// relative to path; a nil value removes that sub-path. Other fields are
	// left untouched.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Delete removes path and everything below it.
	Delete(ctx context.Context, path string) error
	// Subscribe calls onChange with the new value at path after every change
	// made through this store at, above or below path. The returned func
	// cancels the subscription.
	Subscribe(ctx context.Context, path string, onChange func(Event)) (func(), error)
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the backend.
	Close() error
}

// Event is delivered to subscribers.
type Event struct {
	Path   string
	Value  any
	Exists bool
}
