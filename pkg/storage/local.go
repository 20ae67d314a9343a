package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalBackend stores artifacts on the local file system under a root
// directory. It backs development setups and the engine's shared volume.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates a backend rooted at the given directory.
func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{root: root}
}

func (b *LocalBackend) fullPath(path string) string {
	return filepath.Join(b.root, filepath.FromSlash(path))
}

func (b *LocalBackend) Upload(_ context.Context, path string, r io.Reader) error {
	full := b.fullPath(path)

	err := os.MkdirAll(filepath.Dir(full), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	file, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}

	_, err = io.Copy(file, r)
	if err != nil {
		_ = file.Close()

		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	err = file.Close()
	if err != nil {
		return fmt.Errorf("failed to close file %s: %w", path, err)
	}

	return nil
}

func (b *LocalBackend) Open(_ context.Context, path string) (io.ReadCloser, error) {
	file, err := os.Open(b.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}

		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	return file, nil
}

func (b *LocalBackend) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(b.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to stat file %s: %w", path, err)
	}

	return true, nil
}

func (b *LocalBackend) Size(_ context.Context, path string) (int64, error) {
	info, err := os.Stat(b.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotExist
		}

		return 0, fmt.Errorf("failed to stat file %s: %w", path, err)
	}

	return info.Size(), nil
}

func (b *LocalBackend) Delete(_ context.Context, path string) error {
	err := os.Remove(b.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExist
		}

		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}

	return nil
}

func (b *LocalBackend) List(_ context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(b.fullPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}

		return nil, fmt.Errorf("failed to list directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}

	return names, nil
}

func (b *LocalBackend) MakeDirectory(_ context.Context, dir string) error {
	err := os.MkdirAll(b.fullPath(dir), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	return nil
}

func (b *LocalBackend) DeleteDirectory(_ context.Context, dir string) error {
	err := os.Remove(b.fullPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExist
		}

		return fmt.Errorf("failed to delete directory %s: %w", dir, err)
	}

	return nil
}

func (b *LocalBackend) Close() error {
	return nil
}
