package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"bidrails/internal/money"
)

// SettleCall records one SettleBid invocation against the fake.
type SettleCall struct {
	LockID int64
	Seller common.Address
}

// FakeVault is an in-memory Vault for tests and keyless dev runs. Calls are
// recorded in order; per-lock and per-address errors can be scripted.
type FakeVault struct {
	mu         sync.Mutex
	nextLockID int64

	Balances map[common.Address]money.Micros
	Locked   map[common.Address]money.Micros
	History  LockHistory
	Solvent  bool

	SettleErr  map[int64]error
	RefundErr  map[int64]error
	BalanceErr map[common.Address]error

	LockCalls   []LockResult
	SettleCalls []SettleCall
	RefundCalls []int64
}

func NewFakeVault() *FakeVault {
	return &FakeVault{
		nextLockID: 1,
		Balances:   make(map[common.Address]money.Micros),
		Locked:     make(map[common.Address]money.Micros),
		History:    LockHistory{Resolved: make(map[int64]bool)},
		Solvent:    true,
		SettleErr:  make(map[int64]error),
		RefundErr:  make(map[int64]error),
		BalanceErr: make(map[common.Address]error),
	}
}

func fakeHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return "0x" + hex.EncodeToString(sum[:])
}

func (f *FakeVault) LockForBid(_ context.Context, bidder common.Address, amount money.Micros) (LockResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextLockID
	f.nextLockID++
	res := LockResult{LockID: id, TxHash: fakeHash(fmt.Sprintf("lock-%d-%s-%d", id, bidder.Hex(), amount))}
	f.LockCalls = append(f.LockCalls, res)
	f.History.Locked = append(f.History.Locked, LockedEvent{LockID: id, Bidder: bidder, AmountMicros: amount})
	return res, nil
}

func (f *FakeVault) SettleBid(_ context.Context, lockID int64, seller common.Address) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SettleCalls = append(f.SettleCalls, SettleCall{LockID: lockID, Seller: seller})
	if err := f.SettleErr[lockID]; err != nil {
		return "", err
	}
	f.History.Resolved[lockID] = true
	return fakeHash(fmt.Sprintf("settle-%d", lockID)), nil
}

func (f *FakeVault) RefundBid(_ context.Context, lockID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RefundCalls = append(f.RefundCalls, lockID)
	if err := f.RefundErr[lockID]; err != nil {
		return "", err
	}
	if f.History.Resolved[lockID] {
		return "", &WriteError{Label: "refundBid", Attempts: 1, Err: ErrReverted}
	}
	f.History.Resolved[lockID] = true
	return fakeHash(fmt.Sprintf("refund-%d", lockID)), nil
}

func (f *FakeVault) BalanceOf(_ context.Context, owner common.Address) (money.Micros, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.BalanceErr[owner]; err != nil {
		return 0, err
	}
	return f.Balances[owner], nil
}

func (f *FakeVault) LockedBalances(_ context.Context, owner common.Address) (money.Micros, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.BalanceErr[owner]; err != nil {
		return 0, err
	}
	return f.Locked[owner], nil
}

func (f *FakeVault) LockHistory(_ context.Context, _, _ uint64) (LockHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := LockHistory{
		Locked:   append([]LockedEvent(nil), f.History.Locked...),
		Resolved: make(map[int64]bool, len(f.History.Resolved)),
	}
	for id := range f.History.Resolved {
		out.Resolved[id] = true
	}
	return out, nil
}

func (f *FakeVault) VerifyReserves(_ context.Context) (string, error) {
	return fakeHash("verifyReserves"), nil
}

func (f *FakeVault) LastPorSolvent(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Solvent, nil
}

// RefundCount returns how many refund attempts were recorded.
func (f *FakeVault) RefundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.RefundCalls)
}
