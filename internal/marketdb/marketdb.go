// Package marketdb exposes the marketplace persistence layer the settlement
// core reads and writes: auction rows and the cached ledger mirror. The
// marketplace owns both; the core only flips auction status once at
// settlement and heals the ledger cache toward on-chain truth.
package marketdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"bidrails/internal/money"
)

type AuctionStatus string

const (
	StatusInAuction AuctionStatus = "IN_AUCTION"
	StatusSold      AuctionStatus = "SOLD"
	StatusUnsold    AuctionStatus = "UNSOLD"
)

// Auction is the marketplace's view of one listing.
type Auction struct {
	ID            int64
	Status        AuctionStatus
	Seller        string
	ReserveMicros money.Micros
	Deadline      time.Time
}

// LedgerEntry mirrors one holder's on-chain balances. The chain is always
// authoritative; this cache exists so the marketplace UI avoids RPC reads.
type LedgerEntry struct {
	Owner         string
	BalanceMicros money.Micros
	LockedMicros  money.Micros
}

// AuctionStore is the auction-side persistence surface.
type AuctionStore interface {
	// FindExpiredUnprocessed returns the expired IN_AUCTION auction with the
	// earliest deadline, or nil when none is due. Auctions whose id is in skip
	// are passed over so one stuck row cannot block the ones behind it.
	FindExpiredUnprocessed(ctx context.Context, skip []int64) (*Auction, error)
	MarkSettled(ctx context.Context, id int64, winner string, amount money.Micros, txHash string) error
	MarkUnsold(ctx context.Context, id int64) error
}

// LedgerStore is the cached-ledger persistence surface.
type LedgerStore interface {
	Get(ctx context.Context, owner string) (*LedgerEntry, error)
	SetBalance(ctx context.Context, owner string, balance money.Micros) error
	// ListFunded returns every entry with a non-zero cached balance.
	ListFunded(ctx context.Context) ([]LedgerEntry, error)
}

// MemoryAuctionStore backs tests and keyless dev runs.
type MemoryAuctionStore struct {
	mu       sync.Mutex
	auctions map[int64]*Auction
}

func NewMemoryAuctionStore() *MemoryAuctionStore {
	return &MemoryAuctionStore{auctions: make(map[int64]*Auction)}
}

// Put inserts or replaces an auction row.
func (m *MemoryAuctionStore) Put(a Auction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := a
	m.auctions[a.ID] = &copied
}

// Get returns a copy of the row, or nil.
func (m *MemoryAuctionStore) Get(id int64) *Auction {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return nil
	}
	copied := *a
	return &copied
}

func (m *MemoryAuctionStore) FindExpiredUnprocessed(_ context.Context, skip []int64) (*Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	skipped := make(map[int64]bool, len(skip))
	for _, id := range skip {
		skipped[id] = true
	}
	now := time.Now()
	var due []*Auction
	for _, a := range m.auctions {
		if a.Status == StatusInAuction && !a.Deadline.After(now) && !skipped[a.ID] {
			due = append(due, a)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Deadline.Before(due[j].Deadline) })
	copied := *due[0]
	return &copied, nil
}

func (m *MemoryAuctionStore) MarkSettled(_ context.Context, id int64, _ string, _ money.Micros, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.auctions[id]; ok {
		a.Status = StatusSold
	}
	return nil
}

func (m *MemoryAuctionStore) MarkUnsold(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.auctions[id]; ok {
		a.Status = StatusUnsold
	}
	return nil
}

// MemoryLedgerStore backs tests.
type MemoryLedgerStore struct {
	mu      sync.Mutex
	entries map[string]LedgerEntry
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{entries: make(map[string]LedgerEntry)}
}

func (m *MemoryLedgerStore) Put(e LedgerEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Owner] = e
}

func (m *MemoryLedgerStore) Get(_ context.Context, owner string) (*LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[owner]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryLedgerStore) SetBalance(_ context.Context, owner string, balance money.Micros) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[owner]
	e.Owner = owner
	e.BalanceMicros = balance
	m.entries[owner] = e
	return nil
}

func (m *MemoryLedgerStore) ListFunded(_ context.Context) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LedgerEntry
	for _, e := range m.entries {
		if e.BalanceMicros != 0 {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out, nil
}
