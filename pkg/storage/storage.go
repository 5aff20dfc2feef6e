// Package storage is the blob backend behind checkpoints, credentials and
// page artifacts. Names are slash-separated paths relative to the backend root.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotExist is returned when a named object does not exist.
	ErrNotExist = errors.New("object does not exist")

	// ErrExist is returned by CreateFile when the object already exists.
	ErrExist = errors.New("object already exists")
)

// Backend is a minimal object store.
type Backend interface {
	// ReadFile returns the object content or ErrNotExist.
	ReadFile(ctx context.Context, name string) ([]byte, error)

	// WriteFile atomically replaces the object.
	WriteFile(ctx context.Context, name string, data []byte) error

	// CreateFile writes the object only if it does not exist yet and returns
	// ErrExist otherwise. Readers never observe a partial object.
	CreateFile(ctx context.Context, name string, data []byte) error

	// Exists reports whether the object exists.
	Exists(ctx context.Context, name string) (bool, error)

	// List returns the sorted names of all objects under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
