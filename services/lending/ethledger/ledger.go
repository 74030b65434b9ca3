// Package ethledger adapts a live Compound v2 deployment to the lending
// engine's ledger interfaces. Reads are eth_calls against the latest block.
// Writes are signed EIP-1559 transactions sent from accounts whose keys the
// ledger holds; each one is simulated first so protocol error codes surface
// before gas is spent, and is considered committed once its receipt succeeds.
package ethledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"mmlink/native/lending"
)

var (
	_ lending.MoneyMarket = (*Ledger)(nil)
	_ lending.PriceOracle = (*Ledger)(nil)
	_ lending.TokenLedger = (*Ledger)(nil)
)

var (
	// ErrNoKey is returned when a write must be signed by an account whose
	// key was not configured.
	ErrNoKey = errors.New("ethledger: no signing key for account")
	// ErrFailureCode is returned when a protocol call reports a nonzero
	// error code or an ERC-20 call returns false.
	ErrFailureCode = errors.New("ethledger: call reported failure")
	// ErrReverted is returned when a mined transaction has a failed status.
	ErrReverted = errors.New("ethledger: transaction reverted")
)

// Client is the subset of the Ethereum RPC used by the ledger.
type Client interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Config wires a ledger to one comptroller.
type Config struct {
	Comptroller common.Address
	// Oracle defaults to the comptroller's configured oracle.
	Oracle  common.Address
	ChainID *big.Int
	// Keys sign transactions for the accounts they control.
	Keys []*ecdsa.PrivateKey
	// PollInterval paces receipt polling; defaults to two seconds.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Ledger implements the engine's money market, oracle and token ledger over
// RPC. One mutex orders transactions so nonces never race.
type Ledger struct {
	client      Client
	comptroller common.Address
	oracle      common.Address
	chainID     *big.Int
	signer      gethtypes.Signer
	keys        map[common.Address]*ecdsa.PrivateKey
	poll        time.Duration
	logger      *slog.Logger

	txMu sync.Mutex

	cacheMu  sync.RWMutex
	decimals map[common.Address]uint8
}

// Dial connects to endpoint and builds a ledger, reading the chain id from
// the node when cfg leaves it unset.
func Dial(ctx context.Context, endpoint string, cfg Config) (*Ledger, *ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, nil, fmt.Errorf("evm endpoint required")
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, nil, fmt.Errorf("dial evm: %w", err)
	}
	if cfg.ChainID == nil {
		if cfg.ChainID, err = client.ChainID(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("chain id: %w", err)
		}
	}
	ledger, err := New(ctx, client, cfg)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return ledger, client, nil
}

// New builds a ledger over client.
func New(ctx context.Context, client Client, cfg Config) (*Ledger, error) {
	if client == nil {
		return nil, fmt.Errorf("evm client required")
	}
	if cfg.Comptroller == (common.Address{}) {
		return nil, fmt.Errorf("comptroller address required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id required")
	}
	l := &Ledger{
		client:      client,
		comptroller: cfg.Comptroller,
		oracle:      cfg.Oracle,
		chainID:     new(big.Int).Set(cfg.ChainID),
		signer:      gethtypes.LatestSignerForChainID(cfg.ChainID),
		keys:        make(map[common.Address]*ecdsa.PrivateKey, len(cfg.Keys)),
		poll:        cfg.PollInterval,
		logger:      cfg.Logger,
		decimals:    make(map[common.Address]uint8),
	}
	if l.poll <= 0 {
		l.poll = 2 * time.Second
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	for _, key := range cfg.Keys {
		if key == nil {
			continue
		}
		l.keys[gethcrypto.PubkeyToAddress(key.PublicKey)] = key
	}
	if l.oracle == (common.Address{}) {
		out, err := l.call(ctx, l.comptroller, comptrollerContract, "oracle")
		if err != nil {
			return nil, fmt.Errorf("resolve oracle: %w", err)
		}
		l.oracle = out[0].(common.Address)
	}
	return l, nil
}

// Accounts lists the addresses the ledger can sign for.
func (l *Ledger) Accounts() []common.Address {
	out := make([]common.Address, 0, len(l.keys))
	for addr := range l.keys {
		out = append(out, addr)
	}
	return out
}

// Oracle returns the price oracle in use.
func (l *Ledger) Oracle() common.Address { return l.oracle }

func (l *Ledger) call(ctx context.Context, to common.Address, contract *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := l.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

func (l *Ledger) callUint(ctx context.Context, to common.Address, contract *abi.ABI, method string, args ...interface{}) (*uint256.Int, error) {
	out, err := l.call(ctx, to, contract, method, args...)
	if err != nil {
		return nil, err
	}
	return toUint256(method, out[0].(*big.Int))
}

// transact signs and sends method on to from account, then waits for the
// receipt.
func (l *Ledger) transact(ctx context.Context, from, to common.Address, contract *abi.ABI, method string, args ...interface{}) error {
	key, ok := l.keys[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoKey, from.Hex())
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("pack %s: %w", method, err)
	}

	l.txMu.Lock()
	defer l.txMu.Unlock()

	msg := ethereum.CallMsg{From: from, To: &to, Data: data}
	raw, err := l.client.CallContract(ctx, msg, nil)
	if err != nil {
		return fmt.Errorf("simulate %s: %w", method, err)
	}
	if err := checkOutputs(contract, method, raw); err != nil {
		return err
	}

	nonce, err := l.client.PendingNonceAt(ctx, from)
	if err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	tip, err := l.client.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("gas tip: %w", err)
	}
	head, err := l.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	gas, err := l.client.EstimateGas(ctx, msg)
	if err != nil {
		return fmt.Errorf("estimate %s: %w", method, err)
	}
	gas += gas / 5

	tx, err := gethtypes.SignNewTx(key, l.signer, &gethtypes.DynamicFeeTx{
		ChainID:   l.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("sign %s: %w", method, err)
	}
	if err := l.client.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	receipt, err := l.waitMined(ctx, tx.Hash())
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s %s", ErrReverted, method, tx.Hash().Hex())
	}
	l.logger.Debug("ethledger transaction mined",
		slog.String("method", method),
		slog.String("from", from.Hex()),
		slog.String("to", to.Hex()),
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("gas_used", receipt.GasUsed))
	return nil
}

func (l *Ledger) waitMined(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		receipt, err := l.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// checkOutputs inspects the simulated return data. Compound reports most
// failures as nonzero codes rather than reverts; ERC-20 tokens may return
// false. Tokens returning nothing are accepted.
func checkOutputs(contract *abi.ABI, method string, raw []byte) error {
	if len(raw) == 0 {
		return nil
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return fmt.Errorf("unpack %s: %w", method, err)
	}
	for _, v := range out {
		switch x := v.(type) {
		case *big.Int:
			if x.Sign() != 0 {
				return fmt.Errorf("%w: %s code %s", ErrFailureCode, method, x)
			}
		case []*big.Int:
			for _, code := range x {
				if code.Sign() != 0 {
					return fmt.Errorf("%w: %s code %s", ErrFailureCode, method, code)
				}
			}
		case bool:
			if !x {
				return fmt.Errorf("%w: %s returned false", ErrFailureCode, method)
			}
		}
	}
	return nil
}

func toUint256(field string, v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		return nil, fmt.Errorf("%s out of range: %s", field, v)
	}
	return out, nil
}
