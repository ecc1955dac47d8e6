package reconcile

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"bidrails/internal/chain"
	"bidrails/internal/events"
	"bidrails/internal/marketdb"
	"bidrails/internal/money"
)

const (
	holderA = "0x5555555555555555555555555555555555555555"
	holderB = "0x6666666666666666666666666666666666666666"
)

func newTestJob(ledger marketdb.LedgerStore, vault *chain.FakeVault, sink *events.MemorySink) *Job {
	return NewJob(ledger, vault, events.NewEmitter(sink), nil, JobConfig{})
}

func TestRunSubCentDriftIsSynced(t *testing.T) {
	ledger := marketdb.NewMemoryLedgerStore()
	ledger.Put(marketdb.LedgerEntry{Owner: holderA, BalanceMicros: 10 * money.Dollar})
	vault := chain.NewFakeVault()
	vault.Balances[common.HexToAddress(holderA)] = 10*money.Dollar + 5_000
	sink := &events.MemorySink{}

	report := newTestJob(ledger, vault, sink).Run(context.Background())

	require.Equal(t, 1, report.Scanned)
	require.Equal(t, 1, report.Synced)
	require.Zero(t, report.Drifted)
	require.Empty(t, sink.ByLevel(events.LevelError))

	// The cache is left alone when the difference is rounding noise.
	entry, err := ledger.Get(context.Background(), holderA)
	require.NoError(t, err)
	require.Equal(t, 10*money.Dollar, entry.BalanceMicros)
}

func TestRunDriftAlertsOnceAndHeals(t *testing.T) {
	ledger := marketdb.NewMemoryLedgerStore()
	ledger.Put(marketdb.LedgerEntry{Owner: holderA, BalanceMicros: 10 * money.Dollar})
	vault := chain.NewFakeVault()
	vault.Balances[common.HexToAddress(holderA)] = 10*money.Dollar + 2*money.Cent
	sink := &events.MemorySink{}

	report := newTestJob(ledger, vault, sink).Run(context.Background())

	require.Equal(t, 1, report.Drifted)
	require.Len(t, report.Drifts, 1)
	require.Equal(t, 2*money.Cent, report.Drifts[0].DriftMicros)
	require.Len(t, sink.ByLevel(events.LevelError), 1)

	entry, err := ledger.Get(context.Background(), holderA)
	require.NoError(t, err)
	require.Equal(t, 10*money.Dollar+2*money.Cent, entry.BalanceMicros)

	// After the heal, a second run sees the chain value and stays quiet.
	second := newTestJob(ledger, vault, sink).Run(context.Background())
	require.Zero(t, second.Drifted)
	require.Equal(t, 1, second.Synced)
}

func TestRunLockedBalanceCountsAgainstFree(t *testing.T) {
	ledger := marketdb.NewMemoryLedgerStore()
	ledger.Put(marketdb.LedgerEntry{Owner: holderA, BalanceMicros: 60 * money.Dollar})
	vault := chain.NewFakeVault()
	vault.Balances[common.HexToAddress(holderA)] = 100 * money.Dollar
	vault.Locked[common.HexToAddress(holderA)] = 40 * money.Dollar

	report := newTestJob(ledger, vault, &events.MemorySink{}).Run(context.Background())
	require.Equal(t, 1, report.Synced)
	require.Zero(t, report.Drifted)
}

func TestRunReadFailureSkipsHolder(t *testing.T) {
	ledger := marketdb.NewMemoryLedgerStore()
	ledger.Put(marketdb.LedgerEntry{Owner: holderA, BalanceMicros: 10 * money.Dollar})
	ledger.Put(marketdb.LedgerEntry{Owner: holderB, BalanceMicros: 20 * money.Dollar})
	vault := chain.NewFakeVault()
	vault.BalanceErr[common.HexToAddress(holderA)] = &chain.ReadError{Op: "balanceOf", Err: context.DeadlineExceeded}
	vault.Balances[common.HexToAddress(holderB)] = 20 * money.Dollar

	report := newTestJob(ledger, vault, &events.MemorySink{}).Run(context.Background())

	require.Equal(t, 2, report.Scanned)
	require.Equal(t, 1, report.Errors)
	require.Equal(t, 1, report.Synced, "one holder failing must not end the scan")
}
