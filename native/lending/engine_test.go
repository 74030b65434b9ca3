package lending_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/compound"
	"mmlink/native/fixedpoint"
	"mmlink/native/lending"
)

func TestSupplyAndEnterMarketLiquidity(t *testing.T) {
	f := newFixture(t)
	amount := units(t, "4000", 18)
	f.fund(t, f.uni, owner, custody, amount)
	if err := f.engine.Supply(f.ctx, owner, f.uni, amount); err != nil {
		t.Fatalf("supply: %v", err)
	}

	// Supplied but not entered: no borrowing power yet.
	quote := f.quote(t)
	assertZero(t, "liquidity before entering", quote.Liquidity)
	assertZero(t, "shortfall before entering", quote.Shortfall)

	if err := f.engine.EnterMarket(f.ctx, f.uni); err != nil {
		t.Fatalf("enter market: %v", err)
	}
	if err := f.engine.EnterMarket(f.ctx, f.uni); err != nil {
		t.Fatalf("enter market twice: %v", err)
	}

	rate, err := f.engine.Accessor().ExchangeRate(f.ctx, f.uniMarket)
	if err != nil {
		t.Fatalf("exchange rate: %v", err)
	}
	shares, err := f.engine.Accessor().ShareBalance(f.ctx, f.uni)
	if err != nil {
		t.Fatalf("share balance: %v", err)
	}
	want, err := fixedpoint.CollateralValue(shares, rate, 18, fixedpoint.One(), mantissa("0.75"))
	if err != nil {
		t.Fatalf("collateral value: %v", err)
	}

	quote = f.quote(t)
	assertAmount(t, "liquidity", quote.Liquidity, want)
	assertAmount(t, "liquidity in USD", quote.Liquidity, units(t, "3000", 18))
	assertZero(t, "shortfall", quote.Shortfall)
	assertAmount(t, "supplied", f.supplied(t, f.uni), amount)
}

func TestSupplyValidation(t *testing.T) {
	f := newFixture(t)
	unknown := common.HexToAddress("0x1234")

	expectErrorIs(t, f.engine.Supply(f.ctx, owner, unknown, uint256.NewInt(1)), lending.ErrUnknownAsset)
	expectErrorIs(t, f.engine.Supply(f.ctx, owner, f.uni, fixedpoint.Zero()), lending.ErrInvalidAmount)

	// No allowance granted to custody.
	if err := f.proto.Faucet(f.uni, stranger, units(t, "5", 18)); err != nil {
		t.Fatalf("faucet: %v", err)
	}
	err := f.engine.Supply(f.ctx, stranger, f.uni, units(t, "5", 18))
	expectErrorIs(t, err, lending.ErrTransferFailed, compound.ErrInsufficientAllowance)

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	expectErrorIs(t, f.engine.Supply(ctx, owner, f.uni, uint256.NewInt(1)), context.Canceled)
}

func TestSupplyRefundsWhenMarketRejects(t *testing.T) {
	f := newFixture(t)
	amount := units(t, "10", 18)
	f.fund(t, f.uni, stranger, custody, amount)
	if err := f.proto.SetPaused(f.uniMarket, true, false); err != nil {
		t.Fatalf("pause: %v", err)
	}

	err := f.engine.Supply(f.ctx, stranger, f.uni, amount)
	expectErrorIs(t, err, lending.ErrLedgerRejected, compound.ErrPaused)

	assertAmount(t, "refunded balance", f.balance(t, f.uni, stranger), amount)
	assertZero(t, "custody balance", f.balance(t, f.uni, custody))
	assertZero(t, "supplied", f.supplied(t, f.uni))
}

func TestBorrowAtLimitBoundary(t *testing.T) {
	f := newFixture(t)
	if err := f.proto.SetPrice(f.uniMarket, mantissa("7.3")); err != nil {
		t.Fatalf("set price: %v", err)
	}
	if err := f.proto.SetPrice(f.usdcMarket, mantissa("0.999")); err != nil {
		t.Fatalf("set price: %v", err)
	}
	f.collateralize(t, "4000")

	limit, err := f.engine.MaxBorrowAmount(f.ctx, f.usdcMarket)
	if err != nil {
		t.Fatalf("max borrow: %v", err)
	}
	if limit.IsZero() {
		t.Fatalf("expected a positive borrow limit")
	}

	over := new(uint256.Int).AddUint64(limit, 1)
	err = f.engine.Borrow(f.ctx, owner, f.uni, f.usdcMarket, 6, over)
	expectErrorIs(t, err, lending.ErrInsufficientLiquidity)
	assertZero(t, "debt after rejected borrow", f.borrowed(t, custody))

	if err := f.engine.Borrow(f.ctx, owner, f.uni, f.usdcMarket, 6, limit); err != nil {
		t.Fatalf("borrow at limit: %v", err)
	}
	assertAmount(t, "debt", f.borrowed(t, custody), limit)
	assertAmount(t, "proceeds held in custody", f.balance(t, f.usdc, custody), limit)
	assertZero(t, "shortfall", f.quote(t).Shortfall)
	if state := f.state(t); state != lending.StateBorrowed {
		t.Fatalf("expected %s, got %s", lending.StateBorrowed, state)
	}
}

func TestBorrowGuards(t *testing.T) {
	f := newFixture(t)
	f.collateralize(t, "100")

	err := f.engine.Borrow(f.ctx, stranger, f.uni, f.usdcMarket, 6, uint256.NewInt(1))
	expectErrorIs(t, err, lending.ErrUnauthorized)

	err = f.engine.Borrow(f.ctx, owner, f.uni, f.usdcMarket, 18, uint256.NewInt(1))
	expectErrorIs(t, err, lending.ErrInvalidAmount)

	err = f.engine.Borrow(f.ctx, owner, common.HexToAddress("0x99"), f.usdcMarket, 6, uint256.NewInt(1))
	expectErrorIs(t, err, lending.ErrUnknownAsset)

	_, err = f.engine.BorrowMax(f.ctx, stranger, f.usdcMarket, 6)
	expectErrorIs(t, err, lending.ErrUnauthorized)
}

func TestBorrowMaxDrawsFullLimit(t *testing.T) {
	f := newFixture(t)
	f.collateralize(t, "4000")

	amount, err := f.engine.BorrowMax(f.ctx, owner, f.usdcMarket, 6)
	if err != nil {
		t.Fatalf("borrow max: %v", err)
	}
	assertAmount(t, "drawn", amount, units(t, "3000", 6))
	assertAmount(t, "debt", f.borrowed(t, custody), amount)

	_, err = f.engine.BorrowMax(f.ctx, owner, f.usdcMarket, 6)
	expectErrorIs(t, err, lending.ErrInsufficientLiquidity)
}

func TestBorrowMaxAfterInterestAccrues(t *testing.T) {
	f := newFixture(t)
	f.collateralize(t, "4000")
	f.borrow(t, "1000")
	principal := f.borrowed(t, custody)

	f.proto.AdvanceBlocks(10)
	amount, err := f.engine.BorrowMax(f.ctx, owner, f.usdcMarket, 6)
	if err != nil {
		t.Fatalf("borrow max after accrual: %v", err)
	}

	// The limit is quoted against accrued debt, so it falls short of the
	// 2000 USDC left on the stored balance by the interest owed.
	debt := f.borrowed(t, custody)
	accrued := new(uint256.Int).Sub(debt, amount)
	if !accrued.Gt(principal) {
		t.Fatalf("expected accrued debt above %s, got %s", principal.Dec(), accrued.Dec())
	}
	interest := new(uint256.Int).Sub(accrued, principal)
	assertAmount(t, "drawn", amount, new(uint256.Int).Sub(units(t, "2000", 6), interest))
	assertAmount(t, "proceeds held in custody", f.balance(t, f.usdc, custody), new(uint256.Int).Add(units(t, "1000", 6), amount))
	assertZero(t, "shortfall", f.quote(t).Shortfall)
}

func TestBorrowRechecksLimitAfterAccrual(t *testing.T) {
	f := newFixture(t)
	f.collateralize(t, "4000")
	f.borrow(t, "1000")

	// MaxBorrowAmount reads stored balances only.
	f.proto.AdvanceBlocks(10)
	stale, err := f.engine.MaxBorrowAmount(f.ctx, f.usdcMarket)
	if err != nil {
		t.Fatalf("max borrow: %v", err)
	}
	assertAmount(t, "stale limit", stale, units(t, "2000", 6))

	err = f.engine.Borrow(f.ctx, owner, f.uni, f.usdcMarket, 6, stale)
	expectErrorIs(t, err, lending.ErrInsufficientLiquidity)
	if errors.Is(err, lending.ErrLedgerRejected) {
		t.Fatalf("expected the engine to reject before the ledger, got %v", err)
	}

	current, err := f.engine.MaxBorrowAmount(f.ctx, f.usdcMarket)
	if err != nil {
		t.Fatalf("max borrow: %v", err)
	}
	if !current.Lt(stale) {
		t.Fatalf("expected accrued limit below %s, got %s", stale.Dec(), current.Dec())
	}
	if err := f.engine.Borrow(f.ctx, owner, f.uni, f.usdcMarket, 6, current); err != nil {
		t.Fatalf("borrow at accrued limit: %v", err)
	}
}

func TestBorrowMaxStaleLimitIsRejectedByLedger(t *testing.T) {
	f := newFixture(t)
	f.collateralize(t, "4000")
	if err := f.proto.SetPaused(f.usdcMarket, false, true); err != nil {
		t.Fatalf("pause: %v", err)
	}

	_, err := f.engine.BorrowMax(f.ctx, owner, f.usdcMarket, 6)
	expectErrorIs(t, err, lending.ErrLedgerRejected)
	assertZero(t, "debt", f.borrowed(t, custody))
}

func TestMaxBorrowAmountMonotonic(t *testing.T) {
	f := newFixture(t)
	f.collateralize(t, "1000")
	first, err := f.engine.MaxBorrowAmount(f.ctx, f.usdcMarket)
	if err != nil {
		t.Fatalf("max borrow: %v", err)
	}

	f.collateralize(t, "500")
	second, err := f.engine.MaxBorrowAmount(f.ctx, f.usdcMarket)
	if err != nil {
		t.Fatalf("max borrow: %v", err)
	}
	if !second.Gt(first) {
		t.Fatalf("expected more collateral to raise the limit: %s -> %s", first.Dec(), second.Dec())
	}

	f.borrow(t, "100")
	third, err := f.engine.MaxBorrowAmount(f.ctx, f.usdcMarket)
	if err != nil {
		t.Fatalf("max borrow: %v", err)
	}
	assertAmount(t, "limit after debt", third, new(uint256.Int).Sub(second, units(t, "100", 6)))
}

func TestMaxBorrowAmountZeroWithoutPrice(t *testing.T) {
	f := newFixture(t)
	f.collateralize(t, "1000")
	if err := f.proto.SetPrice(f.usdcMarket, fixedpoint.Zero()); err != nil {
		t.Fatalf("set price: %v", err)
	}

	limit, err := f.engine.MaxBorrowAmount(f.ctx, f.usdcMarket)
	if err != nil {
		t.Fatalf("max borrow: %v", err)
	}
	assertZero(t, "limit", limit)

	_, err = f.engine.Accessor().Price(f.ctx, f.usdcMarket)
	expectErrorIs(t, err, lending.ErrPriceUnavailable)
}

func TestRepayCapsAtOutstandingDebt(t *testing.T) {
	f := newFixture(t)
	f.collateralize(t, "4000")
	f.borrow(t, "1000")
	if err := f.engine.Withdraw(f.ctx, owner, f.usdc, units(t, "1000", 6)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	assertAmount(t, "owner USDC", f.balance(t, f.usdc, owner), units(t, "1000", 6))
	if err := f.proto.Approve(f.ctx, f.usdc, owner, custody, units(t, "100000", 6)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	repaid, err := f.engine.Repay(f.ctx, owner, f.usdc, f.usdcMarket, units(t, "400", 6))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	assertAmount(t, "repaid", repaid, units(t, "400", 6))
	assertAmount(t, "debt", f.borrowed(t, custody), units(t, "600", 6))

	repaid, err = f.engine.Repay(f.ctx, owner, f.usdc, f.usdcMarket, units(t, "10000", 6))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	assertAmount(t, "repaid capped", repaid, units(t, "600", 6))
	assertZero(t, "debt", f.borrowed(t, custody))
	assertZero(t, "owner USDC", f.balance(t, f.usdc, owner))

	_, err = f.engine.Repay(f.ctx, owner, f.usdc, f.usdcMarket, uint256.NewInt(1))
	expectErrorIs(t, err, lending.ErrLedgerRejected)

	_, err = f.engine.Repay(f.ctx, owner, f.uni, f.usdcMarket, uint256.NewInt(1))
	expectErrorIs(t, err, lending.ErrUnknownAsset)

	if state := f.state(t); state != lending.StateInMarket {
		t.Fatalf("expected %s, got %s", lending.StateInMarket, state)
	}
}

func TestSupplyRedeemRoundTrip(t *testing.T) {
	f := newFixture(t)
	amount := units(t, "1234.567891234567891", 18)
	before := f.supplied(t, f.uni)

	f.fund(t, f.uni, owner, custody, amount)
	if err := f.engine.Supply(f.ctx, owner, f.uni, amount); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := f.engine.EnterMarket(f.ctx, f.uni); err != nil {
		t.Fatalf("enter market: %v", err)
	}

	expectErrorIs(t, f.engine.RedeemUnderlying(f.ctx, stranger, f.uni, amount), lending.ErrUnauthorized)

	if err := f.engine.RedeemUnderlying(f.ctx, owner, f.uni, amount); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	assertAmount(t, "supplied after round trip", f.supplied(t, f.uni), before)
	assertAmount(t, "owner UNI", f.balance(t, f.uni, owner), amount)
}

func TestRedeemSucceedsWhenPayoutFails(t *testing.T) {
	f := newFixture(t)
	f.collateralize(t, "100")

	backend := f.backend()
	backend.Tokens = failingTransfers{TokenLedger: f.proto}
	broken, err := lending.NewEngine(owner, custody, f.registry, backend)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	amount := units(t, "40", 18)
	if err := broken.RedeemUnderlying(f.ctx, owner, f.uni, amount); err != nil {
		t.Fatalf("expected committed redemption to succeed, got %v", err)
	}
	assertAmount(t, "supplied", f.supplied(t, f.uni), units(t, "60", 18))
	assertAmount(t, "proceeds held in custody", f.balance(t, f.uni, custody), amount)
	assertZero(t, "owner UNI", f.balance(t, f.uni, owner))

	expectErrorIs(t, broken.Withdraw(f.ctx, owner, f.uni, amount), lending.ErrTransferFailed)
	if err := f.engine.Withdraw(f.ctx, owner, f.uni, amount); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	assertAmount(t, "owner UNI", f.balance(t, f.uni, owner), amount)
	assertZero(t, "custody UNI", f.balance(t, f.uni, custody))
}

func TestRedeemRejectedWhenItWouldCreateShortfall(t *testing.T) {
	f := newFixture(t)
	f.collateralize(t, "4000")
	f.borrow(t, "2000")

	err := f.engine.RedeemUnderlying(f.ctx, owner, f.uni, units(t, "2000", 18))
	expectErrorIs(t, err, lending.ErrLedgerRejected, compound.ErrInsufficientLiquidity)
	assertAmount(t, "supplied", f.supplied(t, f.uni), units(t, "4000", 18))

	expectErrorIs(t, f.engine.ExitMarket(f.ctx, owner, f.uni), lending.ErrLedgerRejected)
}

func TestStateTransitions(t *testing.T) {
	f := newFixture(t)
	if state := f.state(t); state != lending.StateNoPosition {
		t.Fatalf("expected %s, got %s", lending.StateNoPosition, state)
	}

	amount := units(t, "10", 18)
	f.fund(t, f.uni, owner, custody, amount)
	if err := f.engine.Supply(f.ctx, owner, f.uni, amount); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if state := f.state(t); state != lending.StateSupplied {
		t.Fatalf("expected %s, got %s", lending.StateSupplied, state)
	}

	if err := f.engine.EnterMarket(f.ctx, f.uni); err != nil {
		t.Fatalf("enter market: %v", err)
	}
	if state := f.state(t); state != lending.StateInMarket {
		t.Fatalf("expected %s, got %s", lending.StateInMarket, state)
	}

	if err := f.engine.Borrow(f.ctx, owner, f.uni, f.usdcMarket, 6, uint256.NewInt(1)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	state := f.state(t)
	if state != lending.StateBorrowed || state.String() != "borrowed" {
		t.Fatalf("expected borrowed, got %s", state)
	}
}

func TestBalancesReflectLastMutation(t *testing.T) {
	f := newFixture(t)
	f.collateralize(t, "4000")
	principal := units(t, "1000", 6)
	f.borrow(t, "1000")

	f.proto.AdvanceBlocks(100_000)
	stored, err := f.engine.Accessor().BorrowedBalance(f.ctx, f.usdcMarket)
	if err != nil {
		t.Fatalf("borrowed balance: %v", err)
	}
	assertAmount(t, "stored debt without a mutating call", stored, principal)

	if err := f.engine.Accessor().Accrue(f.ctx, f.usdcMarket); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	accrued, err := f.engine.Accessor().BorrowedBalance(f.ctx, f.usdcMarket)
	if err != nil {
		t.Fatalf("borrowed balance: %v", err)
	}
	if !accrued.Gt(principal) {
		t.Fatalf("expected accrued debt above %s, got %s", principal.Dec(), accrued.Dec())
	}
}

func TestWithdrawIsOwnerOnly(t *testing.T) {
	f := newFixture(t)
	if err := f.proto.Faucet(f.usdc, custody, units(t, "5", 6)); err != nil {
		t.Fatalf("faucet: %v", err)
	}

	expectErrorIs(t, f.engine.Withdraw(f.ctx, stranger, f.usdc, units(t, "5", 6)), lending.ErrUnauthorized)
	expectErrorIs(t, f.engine.Withdraw(f.ctx, owner, f.usdc, units(t, "6", 6)), lending.ErrTransferFailed)

	if err := f.engine.Withdraw(f.ctx, owner, f.usdc, units(t, "5", 6)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	assertAmount(t, "owner USDC", f.balance(t, f.usdc, owner), units(t, "5", 6))
}

func TestMarketInfo(t *testing.T) {
	f := newFixture(t)
	info, err := f.engine.Accessor().Info(f.ctx, f.uni)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Asset.Market != f.uniMarket || info.Asset.Decimals != 18 {
		t.Fatalf("unexpected asset %+v", info.Asset)
	}
	assertAmount(t, "exchange rate", info.ExchangeRate, fixedpoint.MustUnits(2, 26))
	assertAmount(t, "collateral factor", info.CollateralFactor, mantissa("0.75"))
	assertAmount(t, "price", info.Price, fixedpoint.One())
	if info.BorrowRatePerBlock == nil {
		t.Fatalf("expected a borrow rate")
	}
	assertZero(t, "supply rate without borrows", info.SupplyRatePerBlock)
}

func TestRegisterAssetChecksLedger(t *testing.T) {
	f := newFixture(t)
	dai, err := f.proto.DeployToken("DAI", 18)
	if err != nil {
		t.Fatalf("deploy DAI: %v", err)
	}
	daiMarket, err := f.proto.ListMarket(compound.MarketConfig{Underlying: dai, Price: mantissa("1")})
	if err != nil {
		t.Fatalf("list DAI: %v", err)
	}

	_, err = f.engine.RegisterAsset(f.ctx, stranger, dai, daiMarket)
	expectErrorIs(t, err, lending.ErrUnauthorized)
	_, err = f.engine.RegisterAsset(f.ctx, owner, dai, f.uniMarket)
	expectErrorIs(t, err, lending.ErrUnknownAsset)
	_, err = f.engine.RegisterAsset(f.ctx, owner, f.uni, f.uniMarket)
	expectErrorIs(t, err, lending.ErrAlreadyRegistered)

	asset, err := f.engine.RegisterAsset(f.ctx, owner, dai, daiMarket)
	if err != nil {
		t.Fatalf("register DAI: %v", err)
	}
	if want := (lending.SupportedAsset{AssetID: dai, Market: daiMarket, Decimals: 18}); asset != want {
		t.Fatalf("expected %+v, got %+v", want, asset)
	}
	if n := len(f.registry.Assets()); n != 3 {
		t.Fatalf("expected 3 registered assets, got %d", n)
	}
}

type recordingObserver struct {
	ops          []string
	liquidations []lending.LiquidationResult
}

func (r *recordingObserver) ObserveOperation(op string, err error) {
	if err != nil {
		op += ":error"
	}
	r.ops = append(r.ops, op)
}

func (r *recordingObserver) ObserveLiquidation(result lending.LiquidationResult) {
	r.liquidations = append(r.liquidations, result)
}

func TestObserversFanOut(t *testing.T) {
	f := newFixture(t)
	first, second := &recordingObserver{}, &recordingObserver{}
	f.engine.SetObserver(lending.Observers(first, nil, second))

	amount := units(t, "10", 18)
	f.fund(t, f.uni, owner, custody, amount)
	if err := f.engine.Supply(f.ctx, owner, f.uni, amount); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := f.engine.Supply(f.ctx, owner, f.uni, uint256.NewInt(0)); err == nil {
		t.Fatalf("expected zero supply to fail")
	}

	if want := []string{"supply", "supply:error"}; !reflect.DeepEqual(first.ops, want) {
		t.Fatalf("expected %v, got %v", want, first.ops)
	}
	if !reflect.DeepEqual(first.ops, second.ops) {
		t.Fatalf("observers diverged: %v vs %v", first.ops, second.ops)
	}
}
