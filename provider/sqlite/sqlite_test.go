package sqlite

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatalf("expected error for blank path")
	}
}

func TestSetGetOverwriteDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, ok, err := s.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("miss expected, ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, "k", []byte("one")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("two")); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	b, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(b) != "two" {
		t.Fatalf("Get = %q ok=%v err=%v", b, ok, err)
	}
	if err := s.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("deleted key still present")
	}
}

func TestBatchAndClear(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	items := map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")}
	if err := s.MSet(ctx, items); err != nil {
		t.Fatalf("MSet: %v", err)
	}
	got, err := s.MGet(ctx, []string{"a", "c", "zz"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 || string(got["a"]) != "1" || string(got["c"]) != "3" {
		t.Fatalf("MGet = %v", got)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Fatalf("Keys = %v", keys)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if keys, _ := s.Keys(ctx); len(keys) != 0 {
		t.Fatalf("Keys after Clear = %v", keys)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s2.Close(ctx) })
	b, ok, err := s2.Get(ctx, "k")
	if err != nil || !ok || string(b) != "v" {
		t.Fatalf("Get after reopen = %q ok=%v err=%v", b, ok, err)
	}
}

func TestCanceledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Set(ctx, "k", []byte("v")); err == nil {
		t.Fatalf("expected context error")
	}
}
