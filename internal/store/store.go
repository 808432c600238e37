package store

import (
	"context"

	"github.com/corebank/dualmount/internal/model"
)

// TargetStore is the persistence surface for one storage target. Operations
// block on the underlying filesystem; callers bound them with goroutine
// deadlines where needed. Implementations must be safe for concurrent use.
type TargetStore interface {
	// Target returns the static identity this store writes to.
	Target() model.Target

	// Write persists data under key, overwriting any previous content.
	// Returns the number of bytes written.
	Write(ctx context.Context, key string, data []byte) (int64, error)

	// Read returns the stored bytes for key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Stat returns metadata for key without reading its content.
	Stat(ctx context.Context, key string) (model.FileInfo, error)

	// List walks the target under prefix. Every call is a fresh walk;
	// health probe artifacts are excluded.
	List(ctx context.Context, prefix string) ([]model.FileInfo, error)

	// Remove deletes the file for key. Missing keys are not an error.
	Remove(ctx context.Context, key string) error

	// Probe verifies the target accepts a round-trip: write a marker,
	// read it back, compare, clean up.
	Probe(ctx context.Context) error
}
