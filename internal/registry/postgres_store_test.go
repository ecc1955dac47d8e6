package registry

import (
	"context"
	"os"
	"testing"
	"time"

	"bidrails/internal/money"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn, time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	auctionID := time.Now().UnixNano()
	for i, amt := range []int64{40, 55, 55} {
		lock := lockFixture(int64(i+1), money.Micros(amt))
		if err := store.Push(ctx, auctionID, lock); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	locks, err := store.ReadAll(ctx, auctionID)
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if len(locks) != 3 {
		t.Fatalf("expected 3 locks, got %d", len(locks))
	}
	for i, lock := range locks {
		if lock.LockID != int64(i+1) {
			t.Fatalf("lock[%d].LockID = %d, insertion order lost", i, lock.LockID)
		}
	}

	drained, err := store.Drain(ctx, auctionID)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained locks, got %d", len(drained))
	}

	again, err := store.Drain(ctx, auctionID)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected empty second drain, got %d", len(again))
	}
}
