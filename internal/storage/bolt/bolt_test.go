package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/goodtune/untether/internal/storage"
)

func TestValueStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	values := store.Values()

	if _, err := values.Get(ctx, storage.KeyStats); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := values.Put(ctx, storage.KeyStats, []byte(`{"streak":3}`)); err != nil {
		t.Fatalf("put stats: %v", err)
	}
	if err := values.Put(ctx, storage.KeyConsent, []byte("true")); err != nil {
		t.Fatalf("put consent: %v", err)
	}

	got, err := values.Get(ctx, storage.KeyStats)
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if string(got) != `{"streak":3}` {
		t.Fatalf("unexpected stats value %q", got)
	}

	keys, err := values.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != storage.KeyConsent || keys[1] != storage.KeyStats {
		t.Fatalf("unexpected keys %v", keys)
	}

	if err := values.Delete(ctx, storage.KeyConsent); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := values.Delete(ctx, storage.KeyConsent); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestValueStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "untether.bolt")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Values().Put(context.Background(), storage.KeyOnboardingComplete, []byte("true")); err != nil {
		t.Fatalf("put: %v", err)
	}
	_ = store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = store.Close() }()

	got, err := store.Values().Get(context.Background(), storage.KeyOnboardingComplete)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if string(got) != "true" {
		t.Fatalf("unexpected value %q", got)
	}
}

func TestSyncStateStore(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	states := store.SyncState()

	if _, err := states.Get(ctx, "user-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := states.Put(ctx, storage.SyncState{}); err == nil {
		t.Fatal("expected error for missing user id")
	}

	pushed := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if err := states.Put(ctx, storage.SyncState{UserID: "user-1", Pending: true, LastPushAt: pushed, Pushes: 4}); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := states.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Pending || got.Pushes != 4 || !got.LastPushAt.Equal(pushed) {
		t.Fatalf("unexpected state %+v", got)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "untether.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
