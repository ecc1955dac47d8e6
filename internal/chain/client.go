package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"bidrails/internal/contracts"
	"bidrails/internal/events"
	"bidrails/internal/money"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// LockResult is the outcome of a confirmed lockForBid transaction.
type LockResult struct {
	LockID int64
	TxHash string
}

// LockedEvent is one BidLocked occurrence from the event history.
type LockedEvent struct {
	LockID       int64
	Bidder       common.Address
	AmountMicros money.Micros
}

// LockHistory is the event history over a block range: every lock creation
// plus the set of lock ids that were since settled or refunded.
type LockHistory struct {
	Locked   []LockedEvent
	Resolved map[int64]bool
}

// Vault abstracts the on-chain BidVault escrow contract.
type Vault interface {
	LockForBid(ctx context.Context, bidder common.Address, amount money.Micros) (LockResult, error)
	SettleBid(ctx context.Context, lockID int64, seller common.Address) (string, error)
	RefundBid(ctx context.Context, lockID int64) (string, error)
	BalanceOf(ctx context.Context, owner common.Address) (money.Micros, error)
	LockedBalances(ctx context.Context, owner common.Address) (money.Micros, error)
	LockHistory(ctx context.Context, fromBlock, toBlock uint64) (LockHistory, error)
	VerifyReserves(ctx context.Context) (string, error)
	LastPorSolvent(ctx context.Context) (bool, error)
}

// HealthChecker is implemented by vaults that can probe RPC liveness.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// EthVault talks to the BidVault contract over JSON-RPC. All writes funnel
// through one Submitter backed by the shared nonce sequencer.
type EthVault struct {
	rpc      *ethclient.Client
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
	signer   *bind.TransactOpts
	submit   *Submitter
}

type VaultConfig struct {
	RPCURL            string
	PrivateKeyHex     string
	ContractBidVault  string
	MaxSubmitAttempts int
}

func NewEthVault(ctx context.Context, cfg VaultConfig, emit *events.Emitter) (*EthVault, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.ContractBidVault == "" {
		return nil, fmt.Errorf("bid vault address is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for the custodial signer")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(contracts.BidVaultABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate

	address := common.HexToAddress(cfg.ContractBidVault)
	v := &EthVault{
		rpc:      cli,
		contract: bind.NewBoundContract(address, parsedABI, cli, cli, cli),
		abi:      parsedABI,
		address:  address,
		chainID:  chainID,
		signer:   txOpts,
	}
	seq := NewNonceSequencer(cli, txOpts.From)
	v.submit = NewSubmitter(seq, v, v, v, cfg.MaxSubmitAttempts, emit)
	return v, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// QuoteFees implements FeeSource from the latest header and the node's
// suggested tip.
func (v *EthVault) QuoteFees(ctx context.Context) (FeeQuote, error) {
	header, err := v.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeeQuote{}, fmt.Errorf("latest header: %w", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	tip, err := v.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		return FeeQuote{}, fmt.Errorf("suggest tip: %w", err)
	}
	return FeeQuote{BaseFee: baseFee, TipCap: tip}, nil
}

// SendTx implements TxSender through the bound contract.
func (v *EthVault) SendTx(ctx context.Context, nonce uint64, feeCap, tipCap *big.Int, method string, args []interface{}) (common.Hash, error) {
	opts := *v.signer
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(nonce)
	opts.GasFeeCap = feeCap
	opts.GasTipCap = tipCap

	tx, err := v.contract.Transact(&opts, method, args...)
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// WaitMined polls until the transaction is mined or the context ends.
func (v *EthVault) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := v.rpc.TransactionReceipt(ctx, txHash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && err.Error() != "not found" {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (v *EthVault) LockForBid(ctx context.Context, bidder common.Address, amount money.Micros) (LockResult, error) {
	receipt, err := v.submit.Submit(ctx, "lockForBid", "lockForBid", bidder, amount.BigInt())
	if err != nil {
		return LockResult{}, err
	}

	lockedID := v.abi.Events["BidLocked"].ID
	for _, lg := range receipt.Logs {
		if lg.Address != v.address || len(lg.Topics) < 2 || lg.Topics[0] != lockedID {
			continue
		}
		lockID := new(big.Int).SetBytes(lg.Topics[1].Bytes())
		if !lockID.IsInt64() {
			return LockResult{}, fmt.Errorf("lock id %s out of range", lockID)
		}
		return LockResult{LockID: lockID.Int64(), TxHash: receipt.TxHash.Hex()}, nil
	}
	return LockResult{}, fmt.Errorf("lockForBid confirmed without BidLocked event (tx %s)", receipt.TxHash.Hex())
}

func (v *EthVault) SettleBid(ctx context.Context, lockID int64, seller common.Address) (string, error) {
	receipt, err := v.submit.Submit(ctx, "settleBid", "settleBid", big.NewInt(lockID), seller)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

func (v *EthVault) RefundBid(ctx context.Context, lockID int64) (string, error) {
	receipt, err := v.submit.Submit(ctx, "refundBid", "refundBid", big.NewInt(lockID))
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

func (v *EthVault) VerifyReserves(ctx context.Context) (string, error) {
	receipt, err := v.submit.Submit(ctx, "verifyReserves", "verifyReserves")
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

func (v *EthVault) BalanceOf(ctx context.Context, owner common.Address) (money.Micros, error) {
	return v.callMicros(ctx, "balanceOf", owner)
}

func (v *EthVault) LockedBalances(ctx context.Context, owner common.Address) (money.Micros, error) {
	return v.callMicros(ctx, "lockedBalances", owner)
}

func (v *EthVault) LastPorSolvent(ctx context.Context) (bool, error) {
	var out []interface{}
	if err := v.contract.Call(&bind.CallOpts{Context: ctx}, &out, "lastPorSolvent"); err != nil {
		return false, &ReadError{Op: "lastPorSolvent", Err: err}
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (v *EthVault) callMicros(ctx context.Context, method string, owner common.Address) (money.Micros, error) {
	var out []interface{}
	if err := v.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, owner); err != nil {
		return 0, &ReadError{Op: method, Err: err}
	}
	raw := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	m, err := money.FromBigInt(raw)
	if err != nil {
		return 0, &ReadError{Op: method, Err: err}
	}
	return m, nil
}

// LockHistory scans BidLocked, BidSettled, and BidRefunded events over the
// block range.
func (v *EthVault) LockHistory(ctx context.Context, fromBlock, toBlock uint64) (LockHistory, error) {
	lockedID := v.abi.Events["BidLocked"].ID
	settledID := v.abi.Events["BidSettled"].ID
	refundedID := v.abi.Events["BidRefunded"].ID

	logs, err := v.rpc.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{v.address},
		Topics:    [][]common.Hash{{lockedID, settledID, refundedID}},
	})
	if err != nil {
		return LockHistory{}, &ReadError{Op: "filter lock events", Err: err}
	}

	history := LockHistory{Resolved: make(map[int64]bool)}
	for _, lg := range logs {
		if len(lg.Topics) < 2 {
			continue
		}
		lockID := new(big.Int).SetBytes(lg.Topics[1].Bytes())
		if !lockID.IsInt64() {
			continue
		}
		switch lg.Topics[0] {
		case lockedID:
			ev := LockedEvent{LockID: lockID.Int64()}
			if len(lg.Topics) >= 3 {
				ev.Bidder = common.BytesToAddress(lg.Topics[2].Bytes())
			}
			if vals, err := v.abi.Events["BidLocked"].Inputs.NonIndexed().Unpack(lg.Data); err == nil && len(vals) > 0 {
				if amt, ok := vals[0].(*big.Int); ok {
					if m, err := money.FromBigInt(amt); err == nil {
						ev.AmountMicros = m
					}
				}
			}
			history.Locked = append(history.Locked, ev)
		case settledID, refundedID:
			history.Resolved[lockID.Int64()] = true
		}
	}
	return history, nil
}

// HeadBlock returns the current chain head number.
func (v *EthVault) HeadBlock(ctx context.Context) (uint64, error) {
	head, err := v.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, &ReadError{Op: "head block", Err: err}
	}
	return head, nil
}

// Ping checks RPC connectivity for the health endpoint.
func (v *EthVault) Ping(ctx context.Context) error {
	if v.rpc == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := v.rpc.BlockNumber(ctx)
	return err
}
