// Package storage abstracts artifact stores behind a Backend interface.
// Backends are constructed from an explicit configuration per call site;
// there is no shared connection registry.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist is returned when the referenced file or directory is
// missing. Cleanup treats it as already-deleted.
var ErrNotExist = errors.New("file does not exist")

// Backend reads, writes and removes report artifacts.
type Backend interface {
	Upload(ctx context.Context, path string, r io.Reader) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
	Size(ctx context.Context, path string) (int64, error)
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, dir string) ([]string, error)
	MakeDirectory(ctx context.Context, dir string) error

	// DeleteDirectory removes a directory; implementations may refuse
	// non-empty directories.
	DeleteDirectory(ctx context.Context, dir string) error

	Close() error
}
