package registry

import (
	"context"
	"testing"
	"time"

	"bidrails/internal/money"
)

func lockFixture(lockID int64, amount money.Micros) BidLock {
	return BidLock{
		LockID:       lockID,
		Bidder:       "0xabc",
		AmountMicros: amount,
		Status:       StatusPending,
		LockedAt:     time.Now(),
	}
}

func TestMemoryStorePreservesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i, amt := range []money.Micros{40, 55, 55} {
		if err := store.Push(ctx, 1, lockFixture(int64(i+1), amt)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	locks, err := store.ReadAll(ctx, 1)
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
}

func TestMemoryStoreDrainEmptiesAuction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Push(ctx, 7, lockFixture(1, 100)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := store.Push(ctx, 8, lockFixture(2, 200)); err != nil {
		t.Fatalf("push: %v", err)
	}

	drained, err := store.Drain(ctx, 7)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(drained) != 1 || drained[0].LockID != 1 {
		t.Fatalf("unexpected drain result: %#v", drained)
	}

	// A second drain sees nothing: the auction is fully processed.
	again, err := store.Drain(ctx, 7)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected empty second drain, got %d locks", len(again))
	}

	// Other auctions are untouched.
	other, err := store.ReadAll(ctx, 8)
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if len(other) != 1 {
		t.Fatalf("auction 8 should still hold its lock")
	}
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Push(ctx, 3, lockFixture(9, 50)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := store.Clear(ctx, 3); err != nil {
		t.Fatalf("clear: %v", err)
	}
	locks, err := store.ReadAll(ctx, 3)
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if len(locks) != 0 {
		t.Fatalf("expected no locks after clear, got %d", len(locks))
	}
}
