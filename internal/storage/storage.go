// Package storage owns the application-private directory segment files are
// written to and the optional S3 bucket they are archived in.
// It defines the Storage interface (port) and implementations for local
// disk and S3.
package storage

import (
	"context"
	"io"
)

// Archiver copies a finished segment to durable storage.
type Archiver interface {
	// Archive uploads data under key and returns the object URL.
	// Returns ErrArchiveNotConfigured if no bucket is configured.
	Archive(ctx context.Context, key string, data io.Reader) (url string, err error)
}

// Storage defines the segment file store.
type Storage interface {
	Archiver

	// Dir returns the directory segment files are written to.
	Dir() string

	// Open returns a reader for a segment file.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Size returns the size in bytes of a segment file.
	Size(path string) (int64, error)

	// Remove deletes the given files, ignoring files that do not exist.
	// It continues even if some files fail to delete.
	Remove(ctx context.Context, paths ...string) error

	// ArchiveEnabled reports whether Archive uploads anywhere.
	ArchiveEnabled() bool
}
