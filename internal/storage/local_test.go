package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "skein-store-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	return store
}

func writeObject(t *testing.T, store Store, key, content string) {
	t.Helper()
	ctx := context.Background()
	w, err := store.Create(ctx, key)
	if err != nil {
		t.Fatalf("Create(%s) failed: %v", key, err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("Write(%s) failed: %v", key, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close(%s) failed: %v", key, err)
	}
}

func readObject(t *testing.T, store Store, key string) string {
	t.Helper()
	r, err := store.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll(%s) failed: %v", key, err)
	}
	return string(data)
}

func TestLocalStoreCreateIsExclusive(t *testing.T) {
	store := newTestStore(t)
	writeObject(t, store, "cp/a", "first")

	if _, err := store.Create(context.Background(), "cp/a"); !errors.Is(err, ErrExists) {
		t.Errorf("second Create should fail with ErrExists, got %v", err)
	}
	if got := readObject(t, store, "cp/a"); got != "first" {
		t.Errorf("existing object clobbered: %q", got)
	}
}

func TestLocalStoreRename(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	writeObject(t, store, "cp/.tmp-1", "payload")

	if err := store.Rename(ctx, "cp/.tmp-1", "cp/part-00000"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	if got := readObject(t, store, "cp/part-00000"); got != "payload" {
		t.Errorf("renamed content = %q", got)
	}
	if exists, _ := store.Exists(ctx, "cp/.tmp-1"); exists {
		t.Error("source still present after rename")
	}
}

func TestLocalStoreRenameDoesNotReplace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	writeObject(t, store, "cp/part-00000", "winner")
	writeObject(t, store, "cp/.tmp-2", "loser")

	err := store.Rename(ctx, "cp/.tmp-2", "cp/part-00000")
	if !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	if got := readObject(t, store, "cp/part-00000"); got != "winner" {
		t.Errorf("destination clobbered: %q", got)
	}
	// The losing temp file survives so the caller can clean it up.
	if exists, _ := store.Exists(ctx, "cp/.tmp-2"); !exists {
		t.Error("source removed by failed rename")
	}
}

func TestLocalStoreRenameMissingSource(t *testing.T) {
	store := newTestStore(t)
	err := store.Rename(context.Background(), "cp/gone", "cp/part-00000")
	if !errors.Is(err, ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestLocalStoreListSorted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	writeObject(t, store, "cp/part-00002", "c")
	writeObject(t, store, "cp/part-00000", "a")
	writeObject(t, store, "cp/part-00001", "b")

	keys, err := store.List(ctx, "cp")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"cp/part-00000", "cp/part-00001", "cp/part-00002"}
	if len(keys) != len(want) {
		t.Fatalf("List returned %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestLocalStoreListMissingPrefix(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.List(context.Background(), "nope"); !errors.Is(err, ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestLocalStoreDeleteIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	writeObject(t, store, "cp/x", "x")

	if err := store.Delete(ctx, "cp/x"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "cp/x"); err != nil {
		t.Errorf("repeat Delete failed: %v", err)
	}
	if exists, _ := store.Exists(ctx, "cp/x"); exists {
		t.Error("object still present after delete")
	}
}

func TestLocalStoreOpenMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Open(context.Background(), "cp/none"); !errors.Is(err, ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestLocalStoreURI(t *testing.T) {
	store := newTestStore(t)
	uri := store.URI("cp/part-00000")
	if len(uri) < 8 || uri[:7] != "file://" {
		t.Errorf("URI = %q, want file:// prefix", uri)
	}
}
