package service

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryNegativeCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryNegativeLookupCacheStore()

	if err := store.Set(ctx, "auth.users", "gone-id", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	hit, err := store.Get(ctx, "auth.users", "gone-id")
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}

	// A different namespace never sees the entry.
	hit, err = store.Get(ctx, "auth.sessions", "gone-id")
	if err != nil || hit {
		t.Fatalf("namespace leak: hit=%v err=%v", hit, err)
	}

	if err := store.InvalidateNamespace(ctx, "auth.users"); err != nil {
		t.Fatalf("InvalidateNamespace: %v", err)
	}
	if hit, _ := store.Get(ctx, "auth.users", "gone-id"); hit {
		t.Fatal("entry survived namespace invalidation")
	}
}

func TestInMemoryNegativeCacheExpires(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryNegativeLookupCacheStore()

	if err := store.Set(ctx, "auth.users", "brief", 20*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(35 * time.Millisecond)
	if hit, err := store.Get(ctx, "auth.users", "brief"); err != nil || hit {
		t.Fatalf("expected expiry, hit=%v err=%v", hit, err)
	}
}

func TestNoopNegativeCacheIsInert(t *testing.T) {
	ctx := context.Background()
	store := NewNoopNegativeLookupCacheStore()

	if err := store.Set(ctx, "auth.users", "anything", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if hit, err := store.Get(ctx, "auth.users", "anything"); err != nil || hit {
		t.Fatalf("noop store must always miss, hit=%v err=%v", hit, err)
	}
	if err := store.InvalidateNamespace(ctx, "auth.users"); err != nil {
		t.Fatalf("InvalidateNamespace: %v", err)
	}
}
