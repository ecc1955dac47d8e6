// Package reconcile periodically compares the cached ledger against on-chain
// balances and heals the cache where they disagree. The chain is always
// authoritative.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"bidrails/internal/events"
	"bidrails/internal/marketdb"
	"bidrails/internal/money"
)

// DriftTolerance is the largest cache/chain difference still treated as
// rounding noise: one cent.
const DriftTolerance = money.Cent

// Drift describes one holder whose cache disagreed with the chain.
type Drift struct {
	Owner         string       `json:"address"`
	CachedMicros  money.Micros `json:"dbBalance"`
	OnChainMicros money.Micros `json:"onChainBalance"`
	DriftMicros   money.Micros `json:"driftMicros"`
}

// Report summarizes one reconciliation run. It is ephemeral; only the alert
// events and this summary leave the job.
type Report struct {
	RunID     string    `json:"runId"`
	StartedAt time.Time `json:"startedAt"`
	Scanned   int       `json:"scannedCount"`
	Synced    int       `json:"syncedCount"`
	Drifted   int       `json:"driftedCount"`
	Errors    int       `json:"errorCount"`
	Drifts    []Drift   `json:"driftDetails,omitempty"`
}

// BalanceReader is the chain surface the job needs.
type BalanceReader interface {
	BalanceOf(ctx context.Context, owner common.Address) (money.Micros, error)
	LockedBalances(ctx context.Context, owner common.Address) (money.Micros, error)
}

// Recorder receives reconciliation metrics. Nil is a no-op.
type Recorder interface {
	ObserveReconcile(drifted, errs int)
}

// Job walks every funded holder in the ledger cache on a fixed interval.
type Job struct {
	ledger marketdb.LedgerStore
	reader BalanceReader
	emit   *events.Emitter
	rec    Recorder

	interval time.Duration
	disabled bool
}

type JobConfig struct {
	Interval time.Duration
	// Disabled turns Run into a no-op for test and ephemeral environments.
	Disabled bool
}

func NewJob(ledger marketdb.LedgerStore, reader BalanceReader, emit *events.Emitter, rec Recorder, cfg JobConfig) *Job {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Job{
		ledger:   ledger,
		reader:   reader,
		emit:     emit,
		rec:      rec,
		interval: cfg.Interval,
		disabled: cfg.Disabled,
	}
}

// Start runs the job on its interval until cancelled.
func (j *Job) Start(ctx context.Context) {
	if j.disabled {
		j.emit.Info("reconciliation disabled, skipping")
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Run(ctx)
		}
	}
}

// Run scans every funded holder once. A read failure for one holder counts
// as an error and the scan moves on; drift at or above one cent triggers one
// alert and an auto-heal of the cache to the on-chain value.
func (j *Job) Run(ctx context.Context) Report {
	report := Report{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	emit := j.emit.WithRun(report.RunID)

	holders, err := j.ledger.ListFunded(ctx)
	if err != nil {
		report.Errors++
		emit.Error(fmt.Sprintf("reconcile: ledger listing failed: %v", err))
		return report
	}

	for _, holder := range holders {
		report.Scanned++
		owner := common.HexToAddress(holder.Owner)

		balance, err := j.reader.BalanceOf(ctx, owner)
		if err != nil {
			report.Errors++
			emit.Warn(fmt.Sprintf("reconcile: balance read for %s failed: %v", holder.Owner, err))
			continue
		}
		locked, err := j.reader.LockedBalances(ctx, owner)
		if err != nil {
			report.Errors++
			emit.Warn(fmt.Sprintf("reconcile: locked read for %s failed: %v", holder.Owner, err))
			continue
		}

		free := balance - locked
		drift := (holder.BalanceMicros - free).Abs()
		if drift < DriftTolerance {
			report.Synced++
			continue
		}

		report.Drifted++
		report.Drifts = append(report.Drifts, Drift{
			Owner:         holder.Owner,
			CachedMicros:  holder.BalanceMicros,
			OnChainMicros: free,
			DriftMicros:   drift,
		})
		emit.Error(fmt.Sprintf("reconcile: %s drifted %s (cache %s, chain %s), healing cache",
			holder.Owner, drift, holder.BalanceMicros, free))

		if err := j.ledger.SetBalance(ctx, holder.Owner, free); err != nil {
			report.Errors++
			emit.Error(fmt.Sprintf("reconcile: auto-heal for %s failed: %v", holder.Owner, err))
		}
	}

	if j.rec != nil {
		j.rec.ObserveReconcile(report.Drifted, report.Errors)
	}
	emit.Info(fmt.Sprintf("reconcile: scanned %d, synced %d, drifted %d, errors %d",
		report.Scanned, report.Synced, report.Drifted, report.Errors))
	return report
}
