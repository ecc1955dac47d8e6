package recovery

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"bidrails/internal/chain"
	"bidrails/internal/events"
	"bidrails/internal/money"
)

type countingRecorder struct {
	results map[string]int
}

func (r *countingRecorder) IncOrphanRefund(result string) {
	if r.results == nil {
		r.results = make(map[string]int)
	}
	r.results[result]++
}

func newTestScanner(vault *chain.FakeVault, rec Recorder) *Scanner {
	head := func(context.Context) (uint64, error) { return 100, nil }
	return NewScanner(vault, head, events.NewEmitter(&events.MemorySink{}), rec, ScannerConfig{})
}

func lockEvent(id int64) chain.LockedEvent {
	return chain.LockedEvent{
		LockID:       id,
		Bidder:       common.HexToAddress("0x4444444444444444444444444444444444444444"),
		AmountMicros: 10 * money.Dollar,
	}
}

func TestScanRefundsOrphans(t *testing.T) {
	vault := chain.NewFakeVault()
	vault.History.Locked = []chain.LockedEvent{lockEvent(1), lockEvent(2), lockEvent(3)}
	vault.History.Resolved[2] = true
	rec := &countingRecorder{}

	refunded, err := newTestScanner(vault, rec).Scan(context.Background(), 0, 100)
	require.NoError(t, err)
	require.Equal(t, 2, refunded)
	require.Equal(t, []int64{1, 3}, vault.RefundCalls)
	require.Equal(t, 2, rec.results["refunded"])
}

func TestScanSecondPassFindsNothing(t *testing.T) {
	vault := chain.NewFakeVault()
	vault.History.Locked = []chain.LockedEvent{lockEvent(1), lockEvent(2)}
	scanner := newTestScanner(vault, nil)

	first, err := scanner.Scan(context.Background(), 0, 100)
	require.NoError(t, err)
	require.Equal(t, 2, first)

	second, err := scanner.Scan(context.Background(), 0, 100)
	require.NoError(t, err)
	require.Equal(t, 0, second, "refunded locks are resolved and must not be refunded again")
	require.Equal(t, 2, vault.RefundCount())
}

func TestScanRaceWithResolutionIsHarmless(t *testing.T) {
	vault := chain.NewFakeVault()
	vault.History.Locked = []chain.LockedEvent{lockEvent(1)}
	rec := &countingRecorder{}

	// The history snapshot shows lock 1 open, but settlement resolves it
	// before our refund lands; the contract reverts the second resolution.
	vault.RefundErr[1] = &chain.WriteError{Label: "refundBid", Attempts: 1, Err: chain.ErrReverted}

	refunded, err := newTestScanner(vault, rec).Scan(context.Background(), 0, 100)
	require.NoError(t, err)
	require.Equal(t, 0, refunded)
	require.Equal(t, 1, rec.results["already_resolved"])
}

func TestScanFailureContinues(t *testing.T) {
	vault := chain.NewFakeVault()
	vault.History.Locked = []chain.LockedEvent{lockEvent(1), lockEvent(2)}
	vault.RefundErr[1] = &chain.WriteError{Label: "refundBid", Attempts: 3, Err: chain.ErrTransientFee}
	rec := &countingRecorder{}

	refunded, err := newTestScanner(vault, rec).Scan(context.Background(), 0, 100)
	require.NoError(t, err)
	require.Equal(t, 1, refunded)
	require.Equal(t, []int64{1, 2}, vault.RefundCalls)
	require.Equal(t, 1, rec.results["failed"])
	require.Equal(t, 1, rec.results["refunded"])
}
