package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bidrails/internal/chain"
	"bidrails/internal/events"
	"bidrails/internal/money"
	"bidrails/internal/registry"
)

// DefaultCleanupBudget caps the shutdown refund sweep. On expiry the sweep is
// abandoned with whatever completed; it never blocks process shutdown.
const DefaultCleanupBudget = 4 * time.Minute

// Orchestrator owns the mutable run state the settlement side shares: the
// pending-lock set and the intake of new locks. One is constructed per run so
// independent runs and tests never touch shared globals.
type Orchestrator struct {
	vault   chain.Vault
	locks   registry.LockStore
	pending *PendingSet
	emit    *events.Emitter
}

func NewOrchestrator(vault chain.Vault, locks registry.LockStore, pending *PendingSet, emit *events.Emitter) *Orchestrator {
	return &Orchestrator{vault: vault, locks: locks, pending: pending, emit: emit}
}

// Pending exposes the run's pending-lock set for the monitor and cleanup.
func (o *Orchestrator) Pending() *PendingSet {
	return o.pending
}

// LockFunds reserves a bidder's deposited funds against an auction. The bid
// is checked against the bidder's free vault balance first; an underfunded
// bid is skipped, not retried. On confirmation the chain-assigned lock id is
// recorded in the registry and the pending set.
func (o *Orchestrator) LockFunds(ctx context.Context, auctionID int64, bidder common.Address, amount money.Micros) (registry.BidLock, error) {
	balance, err := o.vault.BalanceOf(ctx, bidder)
	if err != nil {
		return registry.BidLock{}, fmt.Errorf("free balance check: %w", err)
	}
	locked, err := o.vault.LockedBalances(ctx, bidder)
	if err != nil {
		return registry.BidLock{}, fmt.Errorf("free balance check: %w", err)
	}
	if free := balance - locked; amount > free {
		return registry.BidLock{}, fmt.Errorf("bid %s exceeds free balance %s for %s: %w",
			amount, free, bidder.Hex(), chain.ErrInsufficientFunds)
	}

	res, err := o.vault.LockForBid(ctx, bidder, amount)
	if err != nil {
		return registry.BidLock{}, err
	}

	lock := registry.BidLock{
		LockID:       res.LockID,
		AuctionID:    auctionID,
		Bidder:       bidder.Hex(),
		AmountMicros: amount,
		Status:       registry.StatusPending,
		LockedAt:     time.Now().UTC(),
	}
	if err := o.locks.Push(ctx, auctionID, lock); err != nil {
		// The lock exists on-chain but the registry write failed; keep it in
		// the pending set so cleanup or the orphan scanner resolves it.
		o.pending.Add(lock)
		return lock, fmt.Errorf("registry push for lock %d: %w", res.LockID, err)
	}
	o.pending.Add(lock)
	o.emit.Infof(fmt.Sprintf("auction %d: locked %s for %s (lock %d)", auctionID, amount, lock.Bidder, res.LockID), res.TxHash)
	return lock, nil
}

// Cleanup refunds every lock still open in the pending set, concurrently and
// best-effort: one failure never blocks the others. Returns how many refunds
// succeeded.
func (o *Orchestrator) Cleanup(ctx context.Context) int {
	open := o.pending.Snapshot()
	if len(open) == 0 {
		return 0
	}
	o.emit.Info(fmt.Sprintf("cleanup: refunding %d open locks", len(open)))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, lock := range open {
		wg.Add(1)
		go func(lock registry.BidLock) {
			defer wg.Done()
			txHash, err := o.vault.RefundBid(ctx, lock.LockID)
			if err != nil {
				o.emit.Error(fmt.Sprintf("cleanup: refund of lock %d failed: %v", lock.LockID, err))
				return
			}
			o.pending.Remove(lock.LockID)
			o.emit.Infof(fmt.Sprintf("cleanup: lock %d refunded", lock.LockID), txHash)
			mu.Lock()
			succeeded++
			mu.Unlock()
		}(lock)
	}
	wg.Wait()
	return succeeded
}

// CleanupWithBudget runs Cleanup under a hard wall-clock budget. Partial
// completion on timeout is logged and accepted.
func (o *Orchestrator) CleanupWithBudget(parent context.Context, budget time.Duration) int {
	if budget <= 0 {
		budget = DefaultCleanupBudget
	}
	ctx, cancel := context.WithTimeout(parent, budget)
	defer cancel()

	done := make(chan int, 1)
	go func() { done <- o.Cleanup(ctx) }()

	select {
	case n := <-done:
		return n
	case <-ctx.Done():
		o.emit.Warn(fmt.Sprintf("cleanup abandoned after %s with %d locks still open", budget, o.pending.Len()))
		return 0
	}
}
