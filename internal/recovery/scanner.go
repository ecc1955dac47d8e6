// Package recovery reconciles on-chain lock events against what settlement
// actually resolved, refunding locks that a crashed or skipped run left
// behind.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bidrails/internal/chain"
	"bidrails/internal/events"
)

// Recorder receives orphan-scan metrics. Nil is a no-op.
type Recorder interface {
	IncOrphanRefund(result string)
}

// Scanner finds orphaned locks: a BidLocked event with no matching BidSettled
// or BidRefunded. Safe over overlapping block ranges: refunding a lock that
// was resolved in the meantime reverts harmlessly on-chain.
type Scanner struct {
	vault chain.Vault
	emit  *events.Emitter
	rec   Recorder

	interval time.Duration
	lookback uint64
	// headBlock reports the current chain head for interval scans.
	headBlock func(ctx context.Context) (uint64, error)
}

type ScannerConfig struct {
	Interval       time.Duration
	LookbackBlocks uint64
}

func NewScanner(vault chain.Vault, headBlock func(ctx context.Context) (uint64, error), emit *events.Emitter, rec Recorder, cfg ScannerConfig) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.LookbackBlocks == 0 {
		cfg.LookbackBlocks = 5000
	}
	return &Scanner{
		vault:     vault,
		emit:      emit,
		rec:       rec,
		interval:  cfg.Interval,
		lookback:  cfg.LookbackBlocks,
		headBlock: headBlock,
	}
}

// Run scans the trailing lookback window on a fixed interval until cancelled.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			head, err := s.headBlock(ctx)
			if err != nil {
				s.emit.Error(fmt.Sprintf("orphan scan: head block read failed: %v", err))
				continue
			}
			from := uint64(0)
			if head > s.lookback {
				from = head - s.lookback
			}
			if _, err := s.Scan(ctx, from, head); err != nil {
				s.emit.Error(fmt.Sprintf("orphan scan failed: %v", err))
			}
		}
	}
}

// Scan refunds every orphaned lock in the block range and returns how many
// refunds confirmed. A failure on one orphan never blocks the rest.
func (s *Scanner) Scan(ctx context.Context, fromBlock, toBlock uint64) (int, error) {
	history, err := s.vault.LockHistory(ctx, fromBlock, toBlock)
	if err != nil {
		return 0, fmt.Errorf("lock history %d-%d: %w", fromBlock, toBlock, err)
	}

	var orphans []chain.LockedEvent
	for _, ev := range history.Locked {
		if !history.Resolved[ev.LockID] {
			orphans = append(orphans, ev)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	s.emit.Warn(fmt.Sprintf("orphan scan: %d unresolved locks in blocks %d-%d", len(orphans), fromBlock, toBlock))

	refunded := 0
	for _, orphan := range orphans {
		txHash, err := s.vault.RefundBid(ctx, orphan.LockID)
		if err != nil {
			if errors.Is(err, chain.ErrReverted) {
				// Resolved between the history read and our refund; the
				// contract makes the second resolution a no-op revert.
				s.recResult("already_resolved")
				s.emit.Infof(fmt.Sprintf("orphan lock %d already resolved on-chain", orphan.LockID), "")
				continue
			}
			s.recResult("failed")
			s.emit.Error(fmt.Sprintf("orphan lock %d refund failed: %v", orphan.LockID, err))
			continue
		}
		refunded++
		s.recResult("refunded")
		s.emit.Infof(fmt.Sprintf("orphan lock %d refunded %s to %s", orphan.LockID, orphan.AmountMicros, orphan.Bidder.Hex()), txHash)
	}
	return refunded, nil
}

func (s *Scanner) recResult(result string) {
	if s.rec != nil {
		s.rec.IncOrphanRefund(result)
	}
}
