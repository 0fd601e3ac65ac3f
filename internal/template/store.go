package template

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the named template does not exist.
var ErrNotFound = errors.New("template not found")

// Store persists and retrieves watermark templates.
type Store interface {
	// Save inserts or replaces the named template.
	Save(ctx context.Context, name string, cfg Config) error
	// Get returns the named template, or (nil, nil) when it does not exist.
	Get(ctx context.Context, name string) (*Config, error)
	// List returns all templates keyed by name.
	List(ctx context.Context) (map[string]Config, error)
	// Delete removes the named template, returning ErrNotFound when absent.
	Delete(ctx context.Context, name string) error
	Close() error
}
