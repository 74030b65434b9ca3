package ethledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	comptroller = common.HexToAddress("0x3d9819210A31b4961b30EF54bE2aeD79B9c9Cd3B")
	oracle      = common.HexToAddress("0x50ce56A3239671Ab62f185704Caedf626352741e")
	cUSDC       = common.HexToAddress("0x39AA39c021dfbaE8faC545936693aC917d5E7563")
	usdc        = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	cUNI        = common.HexToAddress("0x35A18000230DA775CAc24873d00Ff85BccdeD550")
	uni         = common.HexToAddress("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984")
)

var chainID = big.NewInt(1337)

// fakeChain answers eth_calls from a table keyed by contract and method and
// records every transaction it is sent.
type fakeChain struct {
	mu        sync.Mutex
	responses map[string][]interface{}
	calls     map[string]int
	sent      []*gethtypes.Transaction
	nonce     uint64
	status    uint64
	notFound  int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		responses: map[string][]interface{}{
			comptroller.Hex() + ".oracle": {oracle},
		},
		calls:  make(map[string]int),
		status: gethtypes.ReceiptStatusSuccessful,
	}
}

func (f *fakeChain) respond(to common.Address, method string, values ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[to.Hex()+"."+method] = values
}

func (f *fakeChain) callCount(to common.Address, method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[to.Hex()+"."+method]
}

func lookupMethod(data []byte) (*abi.Method, error) {
	for _, contract := range []*abi.ABI{cTokenContract, comptrollerContract, oracleContract, erc20Contract} {
		if m, err := contract.MethodById(data[:4]); err == nil {
			return m, nil
		}
	}
	return nil, errors.New("unknown selector")
}

func (f *fakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	m, err := lookupMethod(call.Data)
	if err != nil {
		return nil, err
	}
	key := call.To.Hex() + "." + m.Name
	f.mu.Lock()
	values, ok := f.responses[key]
	f.calls[key]++
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return m.Outputs.Pack(values...)
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{Number: big.NewInt(100), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFound > 0 {
		f.notFound--
		return nil, ethereum.NotFound
	}
	return &gethtypes.Receipt{TxHash: hash, Status: f.status, GasUsed: 90_000}, nil
}

func newTestLedger(t *testing.T, chain *fakeChain) (*Ledger, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	l, err := New(context.Background(), chain, Config{
		Comptroller:  comptroller,
		ChainID:      chainID,
		Keys:         []*ecdsa.PrivateKey{key},
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return l, key
}

func TestNewResolvesOracle(t *testing.T) {
	l, key := newTestLedger(t, newFakeChain())
	require.Equal(t, oracle, l.Oracle())
	require.Equal(t, []common.Address{gethcrypto.PubkeyToAddress(key.PublicKey)}, l.Accounts())

	_, err := New(context.Background(), newFakeChain(), Config{ChainID: chainID})
	require.ErrorContains(t, err, "comptroller")
	_, err = New(context.Background(), newFakeChain(), Config{Comptroller: comptroller})
	require.ErrorContains(t, err, "chain id")
}

func TestUnderlyingPriceRescalesByDecimals(t *testing.T) {
	chain := newFakeChain()
	oneE30, _ := new(big.Int).SetString("1000000000000000000000000000000", 10)
	chain.respond(oracle, "getUnderlyingPrice", oneE30)
	chain.respond(cUSDC, "underlying", usdc)
	chain.respond(usdc, "decimals", uint8(6))
	l, _ := newTestLedger(t, chain)

	price, err := l.UnderlyingPrice(context.Background(), cUSDC)
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000", price.Dec())

	_, err = l.UnderlyingPrice(context.Background(), cUSDC)
	require.NoError(t, err)
	require.Equal(t, 1, chain.callCount(usdc, "decimals"))
}

func TestUnderlyingPriceEighteenDecimals(t *testing.T) {
	chain := newFakeChain()
	chain.respond(oracle, "getUnderlyingPrice", big.NewInt(4e17))
	chain.respond(cUNI, "underlying", uni)
	chain.respond(uni, "decimals", uint8(18))
	l, _ := newTestLedger(t, chain)

	price, err := l.UnderlyingPrice(context.Background(), cUNI)
	require.NoError(t, err)
	require.Equal(t, uint64(4e17), price.Uint64())
}

func TestAccountSnapshot(t *testing.T) {
	chain := newFakeChain()
	rate, _ := new(big.Int).SetString("200000000000000000000000000", 10)
	account := common.HexToAddress("0xa2")
	chain.respond(cUNI, "getAccountSnapshot", big.NewInt(0), big.NewInt(15_000_000_000_000), big.NewInt(0), rate)
	l, _ := newTestLedger(t, chain)

	snap, err := l.AccountSnapshot(context.Background(), account, cUNI)
	require.NoError(t, err)
	require.Equal(t, uint64(15_000_000_000_000), snap.Shares.Uint64())
	require.True(t, snap.Borrowed.IsZero())
	underlying, err := snap.Underlying()
	require.NoError(t, err)
	require.Equal(t, "3000000000000000000000", underlying.Dec())

	chain.respond(cUNI, "getAccountSnapshot", big.NewInt(9), big.NewInt(0), big.NewInt(0), rate)
	_, err = l.AccountSnapshot(context.Background(), account, cUNI)
	require.ErrorIs(t, err, ErrFailureCode)
}

func TestCollateralFactorRequiresListing(t *testing.T) {
	chain := newFakeChain()
	chain.respond(comptroller, "markets", true, big.NewInt(75e16), false)
	l, _ := newTestLedger(t, chain)

	factor, err := l.CollateralFactor(context.Background(), cUNI)
	require.NoError(t, err)
	require.Equal(t, uint64(75e16), factor.Uint64())

	chain.respond(comptroller, "markets", false, big.NewInt(0), false)
	_, err = l.CollateralFactor(context.Background(), cUNI)
	require.ErrorContains(t, err, "not listed")
}

func TestMintSendsSignedTransaction(t *testing.T) {
	chain := newFakeChain()
	chain.nonce = 7
	chain.respond(cUNI, "mint", big.NewInt(0))
	l, key := newTestLedger(t, chain)
	account := gethcrypto.PubkeyToAddress(key.PublicKey)

	amount := uint256.MustFromDecimal("3000000000000000000000")
	require.NoError(t, l.Mint(context.Background(), account, cUNI, amount))

	require.Len(t, chain.sent, 1)
	tx := chain.sent[0]
	sender, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(chainID), tx)
	require.NoError(t, err)
	require.Equal(t, account, sender)
	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, uint64(120_000), tx.Gas())
	require.Equal(t, cUNI, *tx.To())
	require.Equal(t, big.NewInt(4_000_000_000), tx.GasFeeCap())

	args, err := cTokenContract.Methods["mint"].Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	require.Equal(t, amount.ToBig(), args[0])
}

func TestTransactRejectsFailureCodeBeforeSending(t *testing.T) {
	chain := newFakeChain()
	chain.respond(cUSDC, "borrow", big.NewInt(3))
	l, key := newTestLedger(t, chain)

	err := l.Borrow(context.Background(), gethcrypto.PubkeyToAddress(key.PublicKey), cUSDC, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrFailureCode)
	require.Empty(t, chain.sent)

	chain.respond(usdc, "transfer", false)
	err = l.Transfer(context.Background(), usdc, gethcrypto.PubkeyToAddress(key.PublicKey), common.HexToAddress("0xb2"), uint256.NewInt(1))
	require.ErrorIs(t, err, ErrFailureCode)
	require.Empty(t, chain.sent)
}

func TestTransactRequiresKey(t *testing.T) {
	chain := newFakeChain()
	chain.respond(cUNI, "mint", big.NewInt(0))
	l, _ := newTestLedger(t, chain)

	err := l.Mint(context.Background(), common.HexToAddress("0xdead"), cUNI, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrNoKey)
}

func TestTransactWaitsForReceipt(t *testing.T) {
	chain := newFakeChain()
	chain.notFound = 3
	chain.respond(comptroller, "enterMarkets", []*big.Int{big.NewInt(0)})
	l, key := newTestLedger(t, chain)

	require.NoError(t, l.EnterMarkets(context.Background(), gethcrypto.PubkeyToAddress(key.PublicKey), cUNI))
	require.Zero(t, chain.notFound)

	chain.status = gethtypes.ReceiptStatusFailed
	err := l.EnterMarkets(context.Background(), gethcrypto.PubkeyToAddress(key.PublicKey), cUNI)
	require.ErrorIs(t, err, ErrReverted)
}

func TestTransactHonoursContext(t *testing.T) {
	chain := newFakeChain()
	chain.notFound = 1 << 30
	chain.respond(cUNI, "accrueInterest", big.NewInt(0))
	l, _ := newTestLedger(t, chain)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.AccrueInterest(ctx, cUNI), context.DeadlineExceeded)
}

func TestCheckOutputs(t *testing.T) {
	packed, err := comptrollerContract.Methods["enterMarkets"].Outputs.Pack([]*big.Int{big.NewInt(0), big.NewInt(14)})
	require.NoError(t, err)
	require.ErrorIs(t, checkOutputs(comptrollerContract, "enterMarkets", packed), ErrFailureCode)
	require.NoError(t, checkOutputs(erc20Contract, "transfer", nil))
}
