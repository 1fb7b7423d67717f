package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/newthinker/augur/internal/core"
)

var _ Blob = (*LocalFS)(nil)

// LocalFS stores blobs as files under a root directory.
type LocalFS struct {
	root string
}

// NewLocalFS creates the root directory if needed.
func NewLocalFS(root string) (*LocalFS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("creating archive root: %w", err))
	}
	return &LocalFS{root: root}, nil
}

func (l *LocalFS) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// Put writes through a temp file so readers never see a partial document.
func (l *LocalFS) Put(_ context.Context, key string, data []byte) error {
	full := l.path(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return core.WrapError(core.ErrStorageFailed, err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return core.WrapError(core.ErrStorageFailed, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return core.WrapError(core.ErrStorageFailed, err)
	}
	return nil
}

func (l *LocalFS) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		return nil, fsError(key, err)
	}
	return data, nil
}

func (l *LocalFS) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(l.path(prefix), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) == ".tmp" {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *LocalFS) Delete(_ context.Context, key string) error {
	if err := os.Remove(l.path(key)); err != nil {
		return fsError(key, err)
	}
	return nil
}

func (l *LocalFS) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, core.WrapError(core.ErrStorageFailed, err)
}

func fsError(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return core.Errorf(core.ErrNotFound, "archive key %s", key)
	}
	return core.WrapError(core.ErrStorageFailed, err)
}
