package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zacjmagee/genjobs/internal/generator"
)

// Compile-time check that LocalStorage implements generator.ArtifactStore.
var _ generator.ArtifactStore = (*LocalStorage)(nil)

// LocalStorage stores artifacts on local disk. Files are written under a
// root directory and addressed as publicURL + "/" + key.
type LocalStorage struct {
	dir       string
	publicURL string
}

// NewLocalStorage creates a new LocalStorage instance.
// If dir is empty, a "genjobs" directory under os.TempDir() is used.
// The directory is created if it doesn't exist. If publicURL is empty,
// Put returns file:// URLs.
func NewLocalStorage(dir, publicURL string) (*LocalStorage, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "genjobs")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve archive directory: %w", err)
	}

	return &LocalStorage{dir: abs, publicURL: publicURL}, nil
}

// Dir returns the archive root directory.
func (s *LocalStorage) Dir() string {
	return s.dir
}

// Put writes data to dir/key. The file appears atomically: it is written to a
// temporary file first and renamed into place.
func (s *LocalStorage) Put(ctx context.Context, key, _ string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(dst), ".upload_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	tmp := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename file: %w", err)
	}

	if s.publicURL == "" {
		return "file://" + filepath.ToSlash(dst), nil
	}
	return joinURL(s.publicURL, key), nil
}
