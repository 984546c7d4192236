package packages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FilesystemBlobs stores file contents under a root directory, one file
// per key
type FilesystemBlobs struct {
	rootDir string
}

// NewFilesystemBlobs creates the root directory if needed
func NewFilesystemBlobs(rootDir string) (*FilesystemBlobs, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FilesystemBlobs{rootDir: rootDir}, nil
}

func (s *FilesystemBlobs) path(key string) string {
	return filepath.Join(s.rootDir, filepath.FromSlash(key))
}

func (s *FilesystemBlobs) Put(_ context.Context, key string, data []byte) error {
	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	// write-then-rename so readers never see a partial file; each writer
	// gets its own temp file so concurrent uploads of one key do not mix
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to set blob permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move blob into place: %w", err)
	}
	return nil
}

func (s *FilesystemBlobs) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *FilesystemBlobs) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// HealthCheck verifies the root directory is still there
func (s *FilesystemBlobs) HealthCheck(context.Context) error {
	info, err := os.Stat(s.rootDir)
	if err != nil {
		return fmt.Errorf("blob root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("blob root %s is not a directory", s.rootDir)
	}
	return nil
}
