package chain

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy for chain interaction. Transient fee/nonce races are retried
// inside the submitter; reverts and read failures surface to the caller, who
// decides between fallback paths and logged skips.
var (
	ErrChainRead         = errors.New("chain read failed")
	ErrChainWrite        = errors.New("chain write failed")
	ErrTransientFee      = errors.New("transient fee contention")
	ErrReverted          = errors.New("transaction reverted")
	ErrInsufficientFunds = errors.New("insufficient free balance")
)

// ReadError wraps an RPC/network failure on a read path.
type ReadError struct {
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("chain read %s: %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

func (e *ReadError) Is(target error) bool { return target == ErrChainRead }

// WriteError wraps a rejected or reverted transaction, carrying the label and
// how many attempts were spent before giving up.
type WriteError struct {
	Label    string
	Attempts int
	TxHash   string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("chain write %s (attempt %d): %v", e.Label, e.Attempts, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrChainWrite }

// Markers the node returns when a replacement transaction loses a fee or
// nonce race. These are recovered by escalating the fee and resubmitting.
var transientFeeMarkers = []string{
	"replacement fee too low",
	"already known",
	"nonce too low",
	"underpriced",
}

func isTransientFee(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientFee) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientFeeMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
