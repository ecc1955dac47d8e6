package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"bidrails/internal/chain"
	"bidrails/internal/events"
	"bidrails/internal/marketdb"
	"bidrails/internal/money"
	"bidrails/internal/registry"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultRefundDelay  = 250 * time.Millisecond
)

// Recorder receives settlement metrics. A nil Recorder is a no-op.
type Recorder interface {
	IncSettlement(outcome string)
	IncRefund(result string)
	SetPendingLocks(n int)
}

// Monitor polls for expired auctions and settles them one per tick. Each
// auction moves through OPEN -> EXPIRED_UNPROCESSED -> SETTLING and lands on
// SOLD or UNSOLD exactly once; the persistence filter plus the in-memory
// processed set keep a terminal auction from re-entering settlement.
type Monitor struct {
	auctions marketdb.AuctionStore
	locks    registry.LockStore
	vault    chain.Vault
	ledger   marketdb.LedgerStore
	fallback FallbackSettler
	pending  *PendingSet
	emit     *events.Emitter
	rec      Recorder

	pollInterval time.Duration
	refundDelay  time.Duration

	mu        sync.Mutex
	processed map[int64]bool
}

type MonitorConfig struct {
	PollInterval time.Duration
	RefundDelay  time.Duration
}

func NewMonitor(auctions marketdb.AuctionStore, locks registry.LockStore, vault chain.Vault, ledger marketdb.LedgerStore, fallback FallbackSettler, pending *PendingSet, emit *events.Emitter, rec Recorder, cfg MonitorConfig) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RefundDelay <= 0 {
		cfg.RefundDelay = defaultRefundDelay
	}
	return &Monitor{
		auctions:     auctions,
		locks:        locks,
		vault:        vault,
		ledger:       ledger,
		fallback:     fallback,
		pending:      pending,
		emit:         emit,
		rec:          rec,
		pollInterval: cfg.PollInterval,
		refundDelay:  cfg.RefundDelay,
		processed:    make(map[int64]bool),
	}
}

// Run polls until the context is cancelled. Tick failures are logged events,
// never loop exits; the cancellation signal is only checked between ticks so
// a settlement in flight finishes its current step.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick processes at most one expired auction. One per tick bounds nonce
// contention with the scanner and cleanup paths.
func (m *Monitor) Tick(ctx context.Context) {
	auction, err := m.auctions.FindExpiredUnprocessed(ctx, m.claimedIDs())
	if err != nil {
		m.emit.Error(fmt.Sprintf("expired-auction query failed: %v", err))
		return
	}
	if auction == nil {
		return
	}
	if !m.claim(auction.ID) {
		return
	}

	emit := m.emit.WithRun(uuid.NewString())
	locks, err := m.locks.Drain(ctx, auction.ID)
	if err != nil {
		// Nothing was cleared; release the claim so the next tick retries.
		m.release(auction.ID)
		emit.Error(fmt.Sprintf("auction %d: lock registry drain failed: %v", auction.ID, err))
		return
	}

	if len(locks) == 0 {
		if err := m.auctions.MarkUnsold(ctx, auction.ID); err != nil {
			// No chain writes happened; release so a later tick retries the
			// mark instead of the auction sitting claimed forever.
			m.release(auction.ID)
			emit.Error(fmt.Sprintf("auction %d: mark unsold failed: %v", auction.ID, err))
			return
		}
		m.recSettlement("unsold")
		emit.Info(fmt.Sprintf("auction %d closed with no locks, marked UNSOLD", auction.ID))
		return
	}

	m.settle(ctx, *auction, locks, emit)
}

// claim reserves the auction for this process run; false means a previous
// tick already handled it.
func (m *Monitor) claim(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed[id] {
		return false
	}
	m.processed[id] = true
	return true
}

func (m *Monitor) release(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processed, id)
}

// claimedIDs feeds the expired-auction query so an auction kept claimed after
// a partial failure (chain writes done, persistence mark pending) is skipped
// and the ones behind it still settle.
func (m *Monitor) claimedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.processed))
	for id := range m.processed {
		ids = append(ids, id)
	}
	return ids
}

// pickWinner returns the highest lock and the rest in their original
// insertion order. Equal amounts break toward the earliest lock; this is
// deliberate insertion-order behavior, not a randomized fairness guarantee.
func pickWinner(locks []registry.BidLock) (registry.BidLock, []registry.BidLock) {
	ranked := append([]registry.BidLock(nil), locks...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].AmountMicros > ranked[j].AmountMicros
	})
	winner := ranked[0]

	losers := make([]registry.BidLock, 0, len(locks)-1)
	for _, l := range locks {
		if l.LockID != winner.LockID {
			losers = append(losers, l)
		}
	}
	return winner, losers
}

func (m *Monitor) settle(ctx context.Context, auction marketdb.Auction, locks []registry.BidLock, emit *events.Emitter) {
	winner, losers := pickWinner(locks)

	txHash, err := m.vault.SettleBid(ctx, winner.LockID, common.HexToAddress(auction.Seller))
	if err != nil {
		if errors.Is(err, chain.ErrChainWrite) {
			// Contract rejected the settlement; take the no-vault path for
			// this auction and never retry the vault for it.
			m.fallbackSettle(ctx, auction, locks, err, emit)
			return
		}
		// Read-side failure (nonce, fees): nothing was submitted. Locks were
		// already drained, so park them in the pending set for cleanup and
		// let the orphan scanner recover if we crash first.
		for _, l := range locks {
			m.pending.Add(l)
		}
		m.recPending()
		emitChainError(emit, fmt.Sprintf("auction %d: settlement submit failed: %v", auction.ID, err), err)
		return
	}

	winner.Status = registry.StatusSettled
	m.pending.Remove(winner.LockID)
	m.recPending()
	emit.Infof(fmt.Sprintf("auction %d: lock %d settled for %s, seller %s receives %s after %s fee",
		auction.ID, winner.LockID, winner.AmountMicros, auction.Seller,
		money.SellerProceeds(winner.AmountMicros), money.PlatformFee(winner.AmountMicros)), txHash)
	m.healLedger(ctx, auction.Seller, emit)
	m.healLedger(ctx, winner.Bidder, emit)

	// Refunds run sequentially to preserve nonce ordering, with a short gap
	// between submissions to reduce mempool contention. One refund failing
	// must not block the rest; the orphan scanner picks up the stragglers.
	for _, loser := range losers {
		if !m.pause(ctx) {
			emit.Warn(fmt.Sprintf("auction %d: cancelled before refunding lock %d", auction.ID, loser.LockID))
			m.pending.Add(loser)
			m.recPending()
			continue
		}
		refundTx, err := m.vault.RefundBid(ctx, loser.LockID)
		if err != nil {
			m.recRefund("failed")
			m.pending.Add(loser)
			m.recPending()
			emitChainError(emit, fmt.Sprintf("auction %d: refund of lock %d failed: %v", auction.ID, loser.LockID, err), err)
			continue
		}
		m.recRefund("ok")
		m.pending.Remove(loser.LockID)
		m.recPending()
		emit.Infof(fmt.Sprintf("auction %d: lock %d refunded %s to %s", auction.ID, loser.LockID, loser.AmountMicros, loser.Bidder), refundTx)
		m.healLedger(ctx, loser.Bidder, emit)
	}

	if err := m.auctions.MarkSettled(ctx, auction.ID, winner.Bidder, winner.AmountMicros, txHash); err != nil {
		emit.Error(fmt.Sprintf("auction %d: mark settled failed: %v", auction.ID, err))
		return
	}
	m.recSettlement("sold")
	emit.Info(fmt.Sprintf("auction %d marked SOLD, winner %s at %s", auction.ID, winner.Bidder, winner.AmountMicros))
}

func (m *Monitor) fallbackSettle(ctx context.Context, auction marketdb.Auction, locks []registry.BidLock, cause error, emit *events.Emitter) {
	emit.Warn(fmt.Sprintf("auction %d: vault settlement reverted, using no-vault path: %v", auction.ID, cause))
	if err := m.fallback.Settle(ctx, auction, locks); err != nil {
		emit.Error(fmt.Sprintf("auction %d: no-vault settlement failed: %v", auction.ID, err))
	}
	if err := m.auctions.MarkUnsold(ctx, auction.ID); err != nil {
		emit.Error(fmt.Sprintf("auction %d: mark unsold failed: %v", auction.ID, err))
		return
	}
	m.recSettlement("fallback")
}

// healLedger refreshes one holder's cached balance from chain truth after a
// settlement or refund moved funds. The cache holds the free balance
// (balanceOf minus lockedBalances), the same value reconciliation compares
// against; writing the total would plant a drift for any holder with a lock
// still open elsewhere. Best effort.
func (m *Monitor) healLedger(ctx context.Context, owner string, emit *events.Emitter) {
	if m.ledger == nil {
		return
	}
	addr := common.HexToAddress(owner)
	balance, err := m.vault.BalanceOf(ctx, addr)
	if err != nil {
		emit.Warn(fmt.Sprintf("ledger refresh for %s skipped: %v", owner, err))
		return
	}
	locked, err := m.vault.LockedBalances(ctx, addr)
	if err != nil {
		emit.Warn(fmt.Sprintf("ledger refresh for %s skipped: %v", owner, err))
		return
	}
	if err := m.ledger.SetBalance(ctx, owner, balance-locked); err != nil {
		emit.Warn(fmt.Sprintf("ledger write for %s failed: %v", owner, err))
	}
}

// pause waits the inter-refund delay; false means the context ended first.
func (m *Monitor) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(m.refundDelay):
		return true
	}
}

// emitChainError attaches the transaction hash when the failure carries one
// (a broadcast that reverted or timed out waiting for its receipt).
func emitChainError(emit *events.Emitter, msg string, err error) {
	var werr *chain.WriteError
	if errors.As(err, &werr) && werr.TxHash != "" {
		emit.Errorf(msg, werr.TxHash)
		return
	}
	emit.Error(msg)
}

func (m *Monitor) recSettlement(outcome string) {
	if m.rec != nil {
		m.rec.IncSettlement(outcome)
	}
}

func (m *Monitor) recRefund(result string) {
	if m.rec != nil {
		m.rec.IncRefund(result)
	}
}

func (m *Monitor) recPending() {
	if m.rec != nil {
		m.rec.SetPendingLocks(m.pending.Len())
	}
}
