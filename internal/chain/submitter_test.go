package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bidrails/internal/events"
)

type stubFees struct {
	base *big.Int
	tip  *big.Int
}

func (s stubFees) QuoteFees(_ context.Context) (FeeQuote, error) {
	return FeeQuote{BaseFee: s.base, TipCap: s.tip}, nil
}

type sendAttempt struct {
	nonce  uint64
	feeCap *big.Int
}

type stubSender struct {
	errs     []error
	attempts []sendAttempt
}

func (s *stubSender) SendTx(_ context.Context, nonce uint64, feeCap, _ *big.Int, _ string, _ []interface{}) (common.Hash, error) {
	s.attempts = append(s.attempts, sendAttempt{nonce: nonce, feeCap: new(big.Int).Set(feeCap)})
	i := len(s.attempts) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return common.Hash{}, s.errs[i]
	}
	return common.HexToHash(fmt.Sprintf("0x%064x", i+1)), nil
}

type stubWaiter struct {
	status uint64
}

func (s stubWaiter) WaitMined(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: s.status, TxHash: txHash}, nil
}

func newTestSubmitter(sender *stubSender, status uint64) *Submitter {
	seq := NewNonceSequencer(&stubPendingCounter{pending: 5}, common.Address{})
	return NewSubmitter(seq, stubFees{base: big.NewInt(1000), tip: big.NewInt(10)}, sender, stubWaiter{status: status}, 3, events.NewEmitter(&events.MemorySink{}))
}

func TestSubmitEscalatesFeesOnTransientErrors(t *testing.T) {
	sender := &stubSender{errs: []error{
		errors.New("replacement fee too low"),
		errors.New("replacement fee too low"),
		nil,
	}}
	sub := newTestSubmitter(sender, types.ReceiptStatusSuccessful)

	receipt, err := sub.Submit(context.Background(), "settleBid", "settleBid")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt == nil {
		t.Fatal("expected receipt")
	}
	if len(sender.attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(sender.attempts))
	}

	// base 1000, tip 10: multipliers 1.1 -> 1.65 -> 2.475.
	wantFeeCaps := []int64{1110, 1660, 2485}
	for i, attempt := range sender.attempts {
		if attempt.nonce != 5 {
			t.Fatalf("attempt %d used nonce %d, want 5 (replacements reuse the nonce)", i, attempt.nonce)
		}
		if attempt.feeCap.Int64() != wantFeeCaps[i] {
			t.Fatalf("attempt %d feeCap = %s, want %d", i, attempt.feeCap, wantFeeCaps[i])
		}
	}
}

func TestSubmitFatalErrorPropagatesImmediately(t *testing.T) {
	sender := &stubSender{errs: []error{errors.New("execution reverted: LockNotPending")}}
	sub := newTestSubmitter(sender, types.ReceiptStatusSuccessful)

	_, err := sub.Submit(context.Background(), "refundBid", "refundBid")
	if !errors.Is(err, ErrChainWrite) {
		t.Fatalf("expected chain write error, got %v", err)
	}
	if len(sender.attempts) != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on fatal error)", len(sender.attempts))
	}
}

func TestSubmitExhaustsRetries(t *testing.T) {
	sender := &stubSender{errs: []error{
		errors.New("already known"),
		errors.New("nonce too low"),
		errors.New("transaction underpriced"),
	}}
	sub := newTestSubmitter(sender, types.ReceiptStatusSuccessful)

	_, err := sub.Submit(context.Background(), "settleBid", "settleBid")
	if !errors.Is(err, ErrChainWrite) {
		t.Fatalf("expected chain write error, got %v", err)
	}
	if !errors.Is(err, ErrTransientFee) {
		t.Fatalf("expected transient fee cause, got %v", err)
	}
	if len(sender.attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(sender.attempts))
	}
}

func TestSubmitRevertedReceipt(t *testing.T) {
	sender := &stubSender{}
	sub := newTestSubmitter(sender, types.ReceiptStatusFailed)

	_, err := sub.Submit(context.Background(), "settleBid", "settleBid")
	if !errors.Is(err, ErrReverted) {
		t.Fatalf("expected revert, got %v", err)
	}
}

func TestTransientFeeClassification(t *testing.T) {
	transient := []string{
		"replacement fee too low",
		"replacement transaction underpriced",
		"already known",
		"nonce too low",
	}
	for _, msg := range transient {
		if !isTransientFee(errors.New(msg)) {
			t.Fatalf("%q should classify as transient", msg)
		}
	}
	if isTransientFee(errors.New("execution reverted")) {
		t.Fatal("revert must not classify as transient")
	}
	if isTransientFee(nil) {
		t.Fatal("nil must not classify as transient")
	}
}
