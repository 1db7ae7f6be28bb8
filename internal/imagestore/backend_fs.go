package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// FSBackend stores objects as files below a root directory.
type FSBackend struct {
	root string
}

// NewFSBackend creates root and one subdirectory per policy. Directories are
// created here once, never on the request path.
func NewFSBackend(root string, policies map[Type]Policy) (*FSBackend, error) {
	if policies == nil {
		policies = DefaultPolicies()
	}
	for t, p := range policies {
		dir := filepath.Join(root, p.Dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s image directory: %w", t, err)
		}
	}
	slog.Info("image storage ready", "backend", "fs", "root", root)
	return &FSBackend{root: root}, nil
}

func (b *FSBackend) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

// Put writes data to a temporary file and renames it into place so that
// readers never observe a partial image.
func (b *FSBackend) Put(_ context.Context, key string, data []byte, _ string) error {
	dst := b.path(key)
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

func (b *FSBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	return data, nil
}

func (b *FSBackend) Delete(_ context.Context, key string) (bool, error) {
	err := os.Remove(b.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
