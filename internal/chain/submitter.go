package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bidrails/internal/events"
)

const (
	// Starting fee multiplier over the current base fee, in thousandths.
	startFeeMultiplierMilli = 1100
	// Each transient failure escalates the multiplier by 1.5x.
	escalationNum = 3
	escalationDen = 2

	defaultMaxAttempts = 3
)

// FeeQuote is a snapshot of current network fee conditions.
type FeeQuote struct {
	BaseFee *big.Int
	TipCap  *big.Int
}

// FeeSource quotes fees before each submission attempt.
type FeeSource interface {
	QuoteFees(ctx context.Context) (FeeQuote, error)
}

// TxSender signs and broadcasts one contract call with explicit nonce and
// EIP-1559 fee fields.
type TxSender interface {
	SendTx(ctx context.Context, nonce uint64, feeCap, tipCap *big.Int, method string, args []interface{}) (common.Hash, error)
}

// ReceiptWaiter blocks until the transaction is mined.
type ReceiptWaiter interface {
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Submitter pushes contract calls through the shared nonce sequencer and
// retries fee/nonce races with an escalating max fee. One nonce is consumed
// per Submit call; retries are replacement transactions and reuse it.
type Submitter struct {
	nonces      *NonceSequencer
	fees        FeeSource
	sender      TxSender
	waiter      ReceiptWaiter
	maxAttempts int
	emit        *events.Emitter
}

func NewSubmitter(nonces *NonceSequencer, fees FeeSource, sender TxSender, waiter ReceiptWaiter, maxAttempts int, emit *events.Emitter) *Submitter {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Submitter{
		nonces:      nonces,
		fees:        fees,
		sender:      sender,
		waiter:      waiter,
		maxAttempts: maxAttempts,
		emit:        emit,
	}
}

// Submit broadcasts the call and waits for its receipt. Transient fee errors
// are retried with the multiplier escalated 1.1 -> 1.65 -> 2.475; any other
// send error, a wait failure, or a revert is fatal for this call.
func (s *Submitter) Submit(ctx context.Context, label, method string, args ...interface{}) (*types.Receipt, error) {
	nonce, err := s.nonces.Next(ctx)
	if err != nil {
		return nil, err
	}

	mult := int64(startFeeMultiplierMilli)
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		quote, err := s.fees.QuoteFees(ctx)
		if err != nil {
			return nil, &ReadError{Op: "fee quote", Err: err}
		}

		feeCap := new(big.Int).Mul(quote.BaseFee, big.NewInt(mult))
		feeCap.Div(feeCap, big.NewInt(1000))
		feeCap.Add(feeCap, quote.TipCap)

		hash, err := s.sender.SendTx(ctx, nonce, feeCap, quote.TipCap, method, args)
		if err != nil {
			if isTransientFee(err) {
				lastErr = err
				mult = mult * escalationNum / escalationDen
				s.emit.Warn(fmt.Sprintf("%s: fee race on nonce %d, escalating (attempt %d): %v", label, nonce, attempt, err))
				continue
			}
			return nil, &WriteError{Label: label, Attempts: attempt, Err: err}
		}

		receipt, err := s.waiter.WaitMined(ctx, hash)
		if err != nil {
			return nil, &WriteError{Label: label, Attempts: attempt, TxHash: hash.Hex(), Err: err}
		}
		if receipt.Status == types.ReceiptStatusFailed {
			return nil, &WriteError{Label: label, Attempts: attempt, TxHash: hash.Hex(), Err: ErrReverted}
		}

		s.emit.Infof(fmt.Sprintf("%s confirmed (nonce %d)", label, nonce), hash.Hex())
		return receipt, nil
	}

	return nil, &WriteError{
		Label:    label,
		Attempts: s.maxAttempts,
		Err:      fmt.Errorf("%w: %v", ErrTransientFee, lastErr),
	}
}
