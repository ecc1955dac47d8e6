// Package registry tracks pending fund locks per auction between the moment
// lockForBid confirms and the moment settlement resolves them.
package registry

import (
	"context"
	"sync"
	"time"

	"bidrails/internal/money"
)

// Status of a bid lock. A lock moves PENDING -> SETTLED or PENDING ->
// REFUNDED exactly once and never regresses.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSettled  Status = "SETTLED"
	StatusRefunded Status = "REFUNDED"
)

// BidLock is an on-chain reservation of a bidder's funds against an auction.
type BidLock struct {
	LockID       int64        `json:"lockId"`
	AuctionID    int64        `json:"auctionId"`
	Bidder       string       `json:"bidderAddress"`
	AmountMicros money.Micros `json:"amountMicros"`
	Status       Status       `json:"status"`
	LockedAt     time.Time    `json:"lockedAt"`
}

// LockStore abstracts lock persistence, keyed by auction id. Insertion order
// is preserved; it breaks ties between equal bid amounts.
//
// Drain is the settlement path: it reads and removes the auction's locks in
// one atomic step so the same auction can never be processed twice.
type LockStore interface {
	Push(ctx context.Context, auctionID int64, lock BidLock) error
	ReadAll(ctx context.Context, auctionID int64) ([]BidLock, error)
	Clear(ctx context.Context, auctionID int64) error
	Drain(ctx context.Context, auctionID int64) ([]BidLock, error)
}

// MemoryStore is the process-local fallback used when no durable store is
// configured. It has no TTL and no cross-restart durability; entries from a
// crashed run live until the process exits. Acceptable only for
// single-process deployments; the orphan scanner covers the gap on-chain.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[int64][]BidLock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[int64][]BidLock)}
}

func (m *MemoryStore) Push(_ context.Context, auctionID int64, lock BidLock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[auctionID] = append(m.locks[auctionID], lock)
	return nil
}

func (m *MemoryStore) ReadAll(_ context.Context, auctionID int64) ([]BidLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BidLock(nil), m.locks[auctionID]...), nil
}

func (m *MemoryStore) Clear(_ context.Context, auctionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, auctionID)
	return nil
}

func (m *MemoryStore) Drain(_ context.Context, auctionID int64) ([]BidLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.locks[auctionID]
	delete(m.locks, auctionID)
	return out, nil
}
