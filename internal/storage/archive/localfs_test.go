package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/newthinker/augur/internal/core"
)

func TestLocalFS_PutGet(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}

	ctx := context.Background()
	data := []byte(`{"id":"x"}`)

	if err := fs.Put(ctx, "runs/x.json", data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := fs.Get(ctx, "runs/x.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q, want %q", got, data)
	}
}

func TestLocalFS_GetMissing(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())

	_, err := fs.Get(context.Background(), "runs/missing.json")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalFS_Exists(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	exists, err := fs.Exists(ctx, "nope.json")
	if err != nil || exists {
		t.Errorf("Exists(nope) = %v, %v; want false, nil", exists, err)
	}

	_ = fs.Put(ctx, "yes.json", []byte("{}"))
	exists, _ = fs.Exists(ctx, "yes.json")
	if !exists {
		t.Error("expected true for existing key")
	}
}

func TestLocalFS_List(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	_ = fs.Put(ctx, "runs/b.json", []byte("b"))
	_ = fs.Put(ctx, "runs/a.json", []byte("a"))
	_ = fs.Put(ctx, "other/c.json", []byte("c"))

	keys, err := fs.List(ctx, "runs")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0] != "runs/a.json" || keys[1] != "runs/b.json" {
		t.Errorf("List(runs) = %v", keys)
	}

	keys, err = fs.List(ctx, "empty")
	if err != nil || len(keys) != 0 {
		t.Errorf("List(empty) = %v, %v", keys, err)
	}
}

func TestLocalFS_Delete(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	_ = fs.Put(ctx, "delete.json", []byte("data"))
	if err := fs.Delete(ctx, "delete.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	exists, _ := fs.Exists(ctx, "delete.json")
	if exists {
		t.Error("key should be deleted")
	}

	if err := fs.Delete(ctx, "delete.json"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}
