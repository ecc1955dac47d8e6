// Package settlement drives expired auctions through settle/refund against
// the vault: poll for an expired auction, drain its locks, pay the winner's
// funds to the seller, refund everyone else.
package settlement

import (
	"sort"
	"sync"

	"bidrails/internal/registry"
)

// PendingSet is the process-local view of locks that are open on-chain but
// not yet resolved. Shutdown cleanup refunds whatever is still here.
type PendingSet struct {
	mu    sync.Mutex
	locks map[int64]registry.BidLock
}

func NewPendingSet() *PendingSet {
	return &PendingSet{locks: make(map[int64]registry.BidLock)}
}

func (p *PendingSet) Add(lock registry.BidLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locks[lock.LockID] = lock
}

func (p *PendingSet) Remove(lockID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.locks, lockID)
}

func (p *PendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}

// Snapshot returns the open locks ordered by lock id.
func (p *PendingSet) Snapshot() []registry.BidLock {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]registry.BidLock, 0, len(p.locks))
	for _, l := range p.locks {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LockID < out[j].LockID })
	return out
}
