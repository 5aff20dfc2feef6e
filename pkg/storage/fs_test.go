package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	fsBackend, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS() error = %v", err)
	}
	return map[string]Backend{
		"fs":     fsBackend,
		"memory": NewMemory(),
	}
}

func TestBackend_ReadWrite(t *testing.T) {
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := b.ReadFile(ctx, "dir/missing.csv"); !errors.Is(err, ErrNotExist) {
				t.Errorf("ReadFile(missing) error = %v, want ErrNotExist", err)
			}

			if err := b.WriteFile(ctx, "dir/a.csv", []byte("v1")); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			if err := b.WriteFile(ctx, "dir/a.csv", []byte("v2")); err != nil {
				t.Fatalf("WriteFile() overwrite error = %v", err)
			}

			data, err := b.ReadFile(ctx, "dir/a.csv")
			if err != nil {
				t.Fatalf("ReadFile() error = %v", err)
			}
			if string(data) != "v2" {
				t.Errorf("ReadFile() = %q, want v2", data)
			}

			ok, err := b.Exists(ctx, "dir/a.csv")
			if err != nil || !ok {
				t.Errorf("Exists() = %v, %v, want true", ok, err)
			}
		})
	}
}

func TestBackend_CreateFileNoClobber(t *testing.T) {
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := b.CreateFile(ctx, "data/p_0.json.gz", []byte("first")); err != nil {
				t.Fatalf("CreateFile() error = %v", err)
			}

			err := b.CreateFile(ctx, "data/p_0.json.gz", []byte("second"))
			if !errors.Is(err, ErrExist) {
				t.Fatalf("second CreateFile() error = %v, want ErrExist", err)
			}

			data, _ := b.ReadFile(ctx, "data/p_0.json.gz")
			if string(data) != "first" {
				t.Errorf("content = %q, want first", data)
			}
		})
	}
}

func TestBackend_List(t *testing.T) {
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, n := range []string{"data/b.json.gz", "data/a.json.gz", "keys/k.csv"} {
				if err := b.WriteFile(ctx, n, []byte("x")); err != nil {
					t.Fatalf("WriteFile(%s) error = %v", n, err)
				}
			}

			names, err := b.List(ctx, "data/")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(names) != 2 || names[0] != "data/a.json.gz" || names[1] != "data/b.json.gz" {
				t.Errorf("List() = %v", names)
			}
		})
	}
}

func TestFS_NoTempFilesLeft(t *testing.T) {
	root := t.TempDir()
	b, err := NewFS(root)
	if err != nil {
		t.Fatalf("NewFS() error = %v", err)
	}

	ctx := context.Background()
	_ = b.WriteFile(ctx, "x/a.csv", []byte("a"))
	_ = b.CreateFile(ctx, "x/b.csv", []byte("b"))
	_ = b.CreateFile(ctx, "x/b.csv", []byte("b"))

	entries, err := os.ReadDir(filepath.Join(root, "x"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("found %d entries, want 2 (no temp files)", len(entries))
	}
}

func TestFS_RejectsEscape(t *testing.T) {
	b, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS() error = %v", err)
	}

	if err := b.WriteFile(context.Background(), "../../etc/evil", []byte("x")); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	ok, _ := b.Exists(context.Background(), "etc/evil")
	if !ok {
		t.Error("path traversal was not confined to the root")
	}
}
