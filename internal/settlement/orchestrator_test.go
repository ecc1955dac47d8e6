package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"bidrails/internal/chain"
	"bidrails/internal/events"
	"bidrails/internal/money"
	"bidrails/internal/registry"
)

func newTestOrchestrator() (*Orchestrator, *chain.FakeVault, *registry.MemoryStore) {
	vault := chain.NewFakeVault()
	locks := registry.NewMemoryStore()
	return NewOrchestrator(vault, locks, NewPendingSet(), events.NewEmitter(&events.MemorySink{})), vault, locks
}

func TestLockFundsRecordsLock(t *testing.T) {
	orch, vault, locks := newTestOrchestrator()
	bidder := common.HexToAddress("0x2222222222222222222222222222222222222222")
	vault.Balances[bidder] = 100 * money.Dollar

	lock, err := orch.LockFunds(context.Background(), 9, bidder, 40*money.Dollar)
	require.NoError(t, err)
	require.Equal(t, int64(1), lock.LockID)
	require.Equal(t, registry.StatusPending, lock.Status)

	stored, err := locks.ReadAll(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, 40*money.Dollar, stored[0].AmountMicros)
	require.Equal(t, 1, orch.Pending().Len())
}

func TestLockFundsRejectsOverFreeBalance(t *testing.T) {
	orch, vault, _ := newTestOrchestrator()
	bidder := common.HexToAddress("0x3333333333333333333333333333333333333333")
	vault.Balances[bidder] = 100 * money.Dollar
	vault.Locked[bidder] = 70 * money.Dollar

	_, err := orch.LockFunds(context.Background(), 9, bidder, 40*money.Dollar)
	require.ErrorIs(t, err, chain.ErrInsufficientFunds)
	require.Empty(t, vault.LockCalls, "no lock may be submitted for an underfunded bid")
	require.Equal(t, 0, orch.Pending().Len())
}

func TestCleanupRefundsIndependently(t *testing.T) {
	orch, vault, _ := newTestOrchestrator()
	orch.Pending().Add(registry.BidLock{LockID: 7, AuctionID: 1, AmountMicros: 5 * money.Dollar})
	orch.Pending().Add(registry.BidLock{LockID: 8, AuctionID: 1, AmountMicros: 6 * money.Dollar})
	vault.RefundErr[7] = &chain.WriteError{Label: "refundBid", Attempts: 3, Err: chain.ErrTransientFee}

	n := orch.Cleanup(context.Background())

	// Both refunds were attempted; lock 7's failure did not stop lock 8.
	require.Equal(t, 1, n)
	require.Equal(t, 2, vault.RefundCount())
	require.Equal(t, 1, orch.Pending().Len())
	require.Equal(t, int64(7), orch.Pending().Snapshot()[0].LockID)
}

func TestCleanupWithBudgetCompletes(t *testing.T) {
	orch, _, _ := newTestOrchestrator()
	orch.Pending().Add(registry.BidLock{LockID: 1, AuctionID: 1, AmountMicros: money.Dollar})

	n := orch.CleanupWithBudget(context.Background(), time.Second)
	require.Equal(t, 1, n)
	require.Equal(t, 0, orch.Pending().Len())
}

func TestCleanupEmptySetIsNoop(t *testing.T) {
	orch, vault, _ := newTestOrchestrator()
	require.Equal(t, 0, orch.Cleanup(context.Background()))
	require.Zero(t, vault.RefundCount())
}
