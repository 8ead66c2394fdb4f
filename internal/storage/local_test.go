package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/minipdb/minipdb/internal/config"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.bin")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	src := writeTemp(t, "registry snapshot")

	if err := storage.Upload(ctx, src, "minipdb/minipdb.sqlite.sz"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "nested", "out.sz")
	if err := storage.Download(ctx, "minipdb/minipdb.sqlite.sz", dst); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "registry snapshot" {
		t.Errorf("content mismatch: %q", got)
	}
}

func TestLocalStorage_UploadLargeReturnsContentETag(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	a, err := storage.UploadLarge(ctx, writeTemp(t, "same"), "a")
	if err != nil {
		t.Fatalf("UploadLarge failed: %v", err)
	}
	b, err := storage.UploadLarge(ctx, writeTemp(t, "same"), "b")
	if err != nil {
		t.Fatal(err)
	}
	c, err := storage.UploadLarge(ctx, writeTemp(t, "different"), "c")
	if err != nil {
		t.Fatal(err)
	}
	if a == "" || a != b {
		t.Errorf("identical content should share an ETag: %q vs %q", a, b)
	}
	if a == c {
		t.Error("different content should not share an ETag")
	}
}

func TestLocalStorage_ExistsDelete(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := storage.Upload(ctx, writeTemp(t, "x"), "obj"); err != nil {
		t.Fatal(err)
	}
	exists, err := storage.Exists(ctx, "obj")
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v; want true", exists, err)
	}

	if err := storage.Delete(ctx, "obj"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := storage.Delete(ctx, "obj"); err != nil {
		t.Errorf("deleting a missing object should succeed: %v", err)
	}
	exists, err = storage.Exists(ctx, "obj")
	if err != nil || exists {
		t.Errorf("Exists after delete = %v, %v", exists, err)
	}
}

func TestLocalStorage_DownloadNotFound(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	err = storage.Download(context.Background(), "nonexistent/object", filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_List(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	src := writeTemp(t, "x")
	for _, key := range []string{"snap/b.json", "snap/a.sz", "other/c"} {
		if err := storage.Upload(ctx, src, key); err != nil {
			t.Fatal(err)
		}
	}

	got, err := storage.List(ctx, "snap")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if want := []string{"snap/a.sz", "snap/b.json"}; !reflect.DeepEqual(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}

	got, err = storage.List(ctx, "missing")
	if err != nil || len(got) != 0 {
		t.Errorf("List of missing prefix = %v, %v", got, err)
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	dir := t.TempDir()
	s, err := New(context.Background(), config.StorageConfig{Type: "local", Path: dir})
	if err != nil {
		t.Fatalf("New local: %v", err)
	}
	if s.Location() != dir {
		t.Errorf("Location = %q, want %q", s.Location(), dir)
	}

	if _, err := New(context.Background(), config.StorageConfig{Type: "gcs"}); err == nil {
		t.Error("expected error for unsupported type")
	}
	if _, err := New(context.Background(), config.StorageConfig{Type: "local"}); err == nil {
		t.Error("expected error for local storage without a path")
	}
}
