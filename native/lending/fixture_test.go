package lending_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/compound"
	"mmlink/native/fixedpoint"
	"mmlink/native/lending"
)

var (
	owner           = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	custody         = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	keeperOwner     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	keeperCustody   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	stranger        = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	liquiditySource = common.HexToAddress("0x00000000000000000000000000000000000000d1")

	errTransferDown = errors.New("token ledger unavailable")
)

// fixture is a protocol with an 18-decimal collateral token (UNI) and a
// 6-decimal borrow token (USDC), both registered with the engine.
type fixture struct {
	ctx        context.Context
	proto      *compound.Protocol
	registry   *lending.Registry
	engine     *lending.Engine
	liquidator *lending.Liquidator

	uni, usdc             common.Address
	uniMarket, usdcMarket common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	proto, err := compound.New(compound.Config{Deployer: common.HexToAddress("0xff")})
	if err != nil {
		t.Fatalf("new protocol: %v", err)
	}

	f := &fixture{ctx: ctx, proto: proto}
	if f.uni, err = proto.DeployToken("UNI", 18); err != nil {
		t.Fatalf("deploy UNI: %v", err)
	}
	if f.usdc, err = proto.DeployToken("USDC", 6); err != nil {
		t.Fatalf("deploy USDC: %v", err)
	}
	f.uniMarket, err = proto.ListMarket(compound.MarketConfig{
		Underlying:       f.uni,
		CollateralFactor: mantissa("0.75"),
		Price:            mantissa("1"),
	})
	if err != nil {
		t.Fatalf("list UNI: %v", err)
	}
	f.usdcMarket, err = proto.ListMarket(compound.MarketConfig{
		Underlying:       f.usdc,
		CollateralFactor: mantissa("0.8"),
		Price:            mantissa("1"),
	})
	if err != nil {
		t.Fatalf("list USDC: %v", err)
	}

	// Cash for borrowers.
	cash := units(t, "1000000", 6)
	f.fund(t, f.usdc, liquiditySource, f.usdcMarket, cash)
	if err := proto.Mint(ctx, liquiditySource, f.usdcMarket, cash); err != nil {
		t.Fatalf("seed USDC cash: %v", err)
	}

	backend := f.backend()
	f.registry = lending.NewRegistry(owner)
	if f.engine, err = lending.NewEngine(owner, custody, f.registry, backend); err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if f.liquidator, err = lending.NewLiquidator(keeperOwner, keeperCustody, backend); err != nil {
		t.Fatalf("new liquidator: %v", err)
	}

	if _, err := f.engine.RegisterAsset(ctx, owner, f.uni, f.uniMarket); err != nil {
		t.Fatalf("register UNI: %v", err)
	}
	if _, err := f.engine.RegisterAsset(ctx, owner, f.usdc, f.usdcMarket); err != nil {
		t.Fatalf("register USDC: %v", err)
	}
	return f
}

func (f *fixture) backend() lending.Backend {
	return lending.Backend{Market: f.proto, Oracle: f.proto, Tokens: f.proto}
}

// fund mints tokens to account and approves spender for them.
func (f *fixture) fund(t *testing.T, token, account, spender common.Address, amount *uint256.Int) {
	t.Helper()
	if err := f.proto.Faucet(token, account, amount); err != nil {
		t.Fatalf("faucet: %v", err)
	}
	if err := f.proto.Approve(f.ctx, token, account, spender, amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

// collateralize supplies whole UNI from the owner and enters the market.
func (f *fixture) collateralize(t *testing.T, whole string) {
	t.Helper()
	amount := units(t, whole, 18)
	f.fund(t, f.uni, owner, custody, amount)
	if err := f.engine.Supply(f.ctx, owner, f.uni, amount); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := f.engine.EnterMarket(f.ctx, f.uni); err != nil {
		t.Fatalf("enter market: %v", err)
	}
}

// borrow draws whole USDC against the owner's UNI collateral.
func (f *fixture) borrow(t *testing.T, whole string) {
	t.Helper()
	if err := f.engine.Borrow(f.ctx, owner, f.uni, f.usdcMarket, 6, units(t, whole, 6)); err != nil {
		t.Fatalf("borrow %s USDC: %v", whole, err)
	}
}

func (f *fixture) borrowed(t *testing.T, account common.Address) *uint256.Int {
	t.Helper()
	snap, err := f.proto.AccountSnapshot(f.ctx, account, f.usdcMarket)
	if err != nil {
		t.Fatalf("account snapshot: %v", err)
	}
	return snap.Borrowed
}

func (f *fixture) balance(t *testing.T, token, account common.Address) *uint256.Int {
	t.Helper()
	bal, err := f.proto.BalanceOf(f.ctx, token, account)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	return bal
}

func (f *fixture) supplied(t *testing.T, assetID common.Address) *uint256.Int {
	t.Helper()
	supplied, err := f.engine.Accessor().SuppliedBalance(f.ctx, assetID)
	if err != nil {
		t.Fatalf("supplied balance: %v", err)
	}
	return supplied
}

func (f *fixture) quote(t *testing.T) lending.LiquidityQuote {
	t.Helper()
	quote, err := f.engine.AccountLiquidity(f.ctx)
	if err != nil {
		t.Fatalf("account liquidity: %v", err)
	}
	return quote
}

func (f *fixture) state(t *testing.T) lending.PositionState {
	t.Helper()
	state, err := f.engine.State(f.ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	return state
}

// failingTransfers rejects every custody payout while pulls and approvals
// still reach the underlying ledger.
type failingTransfers struct {
	lending.TokenLedger
}

func (failingTransfers) Transfer(context.Context, common.Address, common.Address, common.Address, *uint256.Int) error {
	return errTransferDown
}

func assertAmount(t *testing.T, name string, got, want *uint256.Int) {
	t.Helper()
	if got == nil || !got.Eq(want) {
		t.Fatalf("%s: expected %s, got %v", name, want.Dec(), got)
	}
}

func assertZero(t *testing.T, name string, got *uint256.Int) {
	t.Helper()
	if got == nil || !got.IsZero() {
		t.Fatalf("%s: expected zero, got %v", name, got)
	}
}

func expectErrorIs(t *testing.T, err error, targets ...error) {
	t.Helper()
	for _, target := range targets {
		if !errors.Is(err, target) {
			t.Fatalf("expected %v, got %v", target, err)
		}
	}
}

func units(t *testing.T, s string, decimals uint8) *uint256.Int {
	t.Helper()
	v, err := fixedpoint.ParseDecimal(s, decimals)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func mantissa(s string) *uint256.Int {
	v, err := fixedpoint.ParseDecimal(s, fixedpoint.Decimals)
	if err != nil {
		panic(err)
	}
	return v
}
