package storage

import (
	"context"
	"io"
)

// Backend abstracts the medium artifacts are stored on. Paths are logical,
// slash separated, and relative to the backend root.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Write streams r to path. size is the number of bytes r will deliver,
	// or -1 if unknown. Writes are atomic: on error nothing is committed and
	// any previous artifact at path is kept.
	Write(ctx context.Context, path string, r io.Reader, size int64) (int64, error)

	// Open opens path for sequential reading and returns its size.
	// The caller must close the returned reader.
	Open(ctx context.Context, path string) (io.ReadCloser, int64, error)

	// ReadAt returns up to length bytes starting at offset. Fewer bytes are
	// returned when the artifact ends first.
	ReadAt(ctx context.Context, path string, offset, length int64) ([]byte, error)

	// Stat returns the artifact size.
	Stat(ctx context.Context, path string) (int64, error)

	// Delete removes path. Deleting a missing artifact is not an error.
	Delete(ctx context.Context, path string) error
}
