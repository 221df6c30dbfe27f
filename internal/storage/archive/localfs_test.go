package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/newthinker/tradecore/internal/core"
)

func TestLocalFS_ImplementsStorage(t *testing.T) {
	var _ Storage = (*LocalFS)(nil)
}

func TestLocalFS_WriteRead(t *testing.T) {
	fs, err := NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}

	ctx := context.Background()
	data := []byte(`{"strategy":"sma_crossover"}`)

	if err := fs.Write(ctx, "reports/run-1.json", data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := fs.Read(ctx, "reports/run-1.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q, want %q", got, data)
	}

	if _, err := fs.Read(ctx, "reports/missing.json"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestLocalFS_Exists(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	exists, _ := fs.Exists(ctx, "nonexistent.txt")
	if exists {
		t.Error("expected false for nonexistent file")
	}

	fs.Write(ctx, "exists.txt", []byte("data"))
	exists, _ = fs.Exists(ctx, "exists.txt")
	if !exists {
		t.Error("expected true for existing file")
	}
}

func TestLocalFS_List(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	fs.Write(ctx, "data/2024/01/a.txt", []byte("a"))
	fs.Write(ctx, "data/2024/01/b.txt", []byte("b"))
	fs.Write(ctx, "data/2024/02/c.txt", []byte("c"))

	paths, err := fs.List(ctx, "data/2024/01")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paths) != 2 || paths[0] != "data/2024/01/a.txt" {
		t.Errorf("unexpected paths %v", paths)
	}

	empty, err := fs.List(ctx, "nothing")
	if err != nil || len(empty) != 0 {
		t.Errorf("missing prefix should list nothing, got %v, %v", empty, err)
	}
}

func TestLocalFS_Delete(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	ctx := context.Background()

	fs.Write(ctx, "delete.txt", []byte("data"))
	if err := fs.Delete(ctx, "delete.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	exists, _ := fs.Exists(ctx, "delete.txt")
	if exists {
		t.Error("file should be deleted")
	}
	if err := fs.Delete(ctx, "delete.txt"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestLocalFS_RejectsEscapingPaths(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	for _, p := range []string{"../outside.txt", "a/../../outside.txt", "/etc/passwd"} {
		if err := fs.Write(context.Background(), p, []byte("x")); !errors.Is(err, core.ErrInvalidInput) {
			t.Errorf("%s: expected INVALID_INPUT, got %v", p, err)
		}
	}
}
