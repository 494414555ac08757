package pebblestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rzbill/brrr/internal/store"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	s, err := Open(Options{DataDir: dir, Fsync: FsyncModeNever})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	k := store.Key{Namespace: "call", ID: "abc"}
	if err := s.Set(ctx, k, []byte("payload")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := s.Get(ctx, k)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "payload" {
		t.Fatalf("got %q want %q", v, "payload")
	}
}

func TestSetNewValueConflict(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	k := store.Key{Namespace: "value", ID: "x"}
	if err := s.SetNewValue(ctx, k, []byte("a")); err != nil {
		t.Fatalf("first SetNewValue: %v", err)
	}
	if err := s.SetNewValue(ctx, k, []byte("b")); !errors.Is(err, store.ErrCompareMismatch) {
		t.Fatalf("expected ErrCompareMismatch, got %v", err)
	}
}

func TestCompareAndSetAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	k := store.Key{Namespace: "pending_returns", ID: "child"}
	if err := s.SetNewValue(ctx, k, []byte("v1")); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := s.CompareAndSet(ctx, k, []byte("v2"), []byte("wrong")); !errors.Is(err, store.ErrCompareMismatch) {
		t.Fatalf("expected ErrCompareMismatch, got %v", err)
	}
	if err := s.CompareAndSet(ctx, k, []byte("v2"), []byte("v1")); err != nil {
		t.Fatalf("CompareAndSet: %v", err)
	}
	if err := s.CompareAndDelete(ctx, k, []byte("v2")); err != nil {
		t.Fatalf("CompareAndDelete: %v", err)
	}
	if ok, _ := s.Has(ctx, k); ok {
		t.Fatalf("expected key removed")
	}
}

func TestIncrPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")
	s, err := Open(Options{DataDir: dir, Fsync: FsyncModeNever})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Incr(ctx, "count/root1"); err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if v, err := s.Incr(ctx, "count/root1"); err != nil || v != 2 {
		t.Fatalf("Incr: v=%d err=%v", v, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(Options{DataDir: dir, Fsync: FsyncModeNever})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	v, err := s2.Incr(ctx, "count/root1")
	if err != nil {
		t.Fatalf("Incr after reopen: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected counter to survive reopen at 3, got %d", v)
	}
}
