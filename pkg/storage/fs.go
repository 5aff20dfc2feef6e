package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// FS stores objects as files below a root directory.
type FS struct {
	root string
}

// NewFS creates the root directory if needed and checks that it is writable.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}

	probe := filepath.Join(root, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("storage root %s is not writable: %w", root, err)
	}
	os.Remove(probe)

	return &FS{root: root}, nil
}

// Root returns the backend root directory.
func (b *FS) Root() string {
	return b.root
}

func (b *FS) fullPath(name string) (string, error) {
	clean := path.Clean("/" + name)
	if clean == "/" {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	return filepath.Join(b.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// ReadFile implements Backend.
func (b *FS) ReadFile(_ context.Context, name string) ([]byte, error) {
	full, err := b.fullPath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// WriteFile implements Backend: temp file, fsync, atomic rename.
func (b *FS) WriteFile(_ context.Context, name string, data []byte) error {
	full, err := b.fullPath(name)
	if err != nil {
		return err
	}

	tmp, err := b.writeTemp(full, data)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// CreateFile implements Backend. The final name is hard-linked to a fully
// written temp file, which fails if the name is taken.
func (b *FS) CreateFile(_ context.Context, name string, data []byte) error {
	full, err := b.fullPath(name)
	if err != nil {
		return err
	}

	tmp, err := b.writeTemp(full, data)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, full); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExist, name)
		}
		return fmt.Errorf("link %s: %w", name, err)
	}
	return nil
}

func (b *FS) writeTemp(full string, data []byte) (string, error) {
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", err
	}

	tmp := full + "." + uuid.New().String()[:8] + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// Exists implements Backend.
func (b *FS) Exists(_ context.Context, name string) (bool, error) {
	full, err := b.fullPath(name)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(full)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", name, err)
}

// List implements Backend. Temp files are never listed.
func (b *FS) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(b.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}

		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	sort.Strings(names)
	return names, nil
}
