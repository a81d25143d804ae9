package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrArchiveNotConfigured is returned when an archive upload is attempted
// without a bucket.
var ErrArchiveNotConfigured = errors.New("storage: archive is not configured")

// DefaultDirName is the directory created under os.TempDir when no
// directory is configured.
const DefaultDirName = "tunewatch"

// LocalStorage implements Storage on local disk. It does not archive
// unless wrapped with S3Storage.
type LocalStorage struct {
	dir string
}

// NewLocalStorage creates a new LocalStorage instance.
// If dir is empty, a "tunewatch" directory under os.TempDir() is used.
// The directory is created, readable only by the current user, if it
// doesn't exist.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), DefaultDirName)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create segment directory: %w", err)
	}

	return &LocalStorage{dir: dir}, nil
}

// Dir returns the segment directory path.
func (s *LocalStorage) Dir() string {
	return s.dir
}

// Open implements Storage.
func (s *LocalStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open segment file: %w", err)
	}

	return f, nil
}

// Size implements Storage.
func (s *LocalStorage) Size(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat segment file: %w", err)
	}
	return st.Size(), nil
}

// Remove implements Storage. It returns the first error encountered.
func (s *LocalStorage) Remove(ctx context.Context, paths ...string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove segment file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// Archive is not supported by LocalStorage and returns ErrArchiveNotConfigured.
func (s *LocalStorage) Archive(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrArchiveNotConfigured
}

// ArchiveEnabled implements Storage.
func (s *LocalStorage) ArchiveEnabled() bool { return false }

var _ Storage = (*LocalStorage)(nil)
