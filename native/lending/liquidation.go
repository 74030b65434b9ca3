package lending

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/fixedpoint"
)

// Liquidator repays debt of underwater positions and collects the seized
// collateral-market shares in its custody account. It never touches the
// underlying collateral directly.
type Liquidator struct {
	owner    common.Address
	custody  common.Address
	backend  Backend
	risk     *RiskCalculator
	logger   *slog.Logger
	observer Observer
}

// NewLiquidator wires a liquidator whose seized shares accrue to custody.
func NewLiquidator(owner, custody common.Address, backend Backend) (*Liquidator, error) {
	if err := backend.validate(); err != nil {
		return nil, err
	}
	return &Liquidator{
		owner:    owner,
		custody:  custody,
		backend:  backend,
		risk:     NewRiskCalculator(backend),
		logger:   slog.Default(),
		observer: nopObserver{},
	}, nil
}

func (l *Liquidator) SetLogger(logger *slog.Logger) {
	if l == nil || logger == nil {
		return
	}
	l.logger = logger
}

func (l *Liquidator) SetObserver(observer Observer) {
	if l == nil {
		return
	}
	if observer == nil {
		observer = nopObserver{}
	}
	l.observer = observer
}

func (l *Liquidator) Custody() common.Address { return l.custody }

// CloseFactor returns the protocol's maximum repayable fraction of a debt.
func (l *Liquidator) CloseFactor(ctx context.Context) (*uint256.Int, error) {
	factor, err := l.backend.Market.CloseFactor(ctx)
	if err != nil {
		return nil, ledgerErr("close factor", err)
	}
	return factor, nil
}

// LiquidationIncentive returns the protocol's seize bonus multiplier.
func (l *Liquidator) LiquidationIncentive(ctx context.Context) (*uint256.Int, error) {
	incentive, err := l.backend.Market.LiquidationIncentive(ctx)
	if err != nil {
		return nil, ledgerErr("liquidation incentive", err)
	}
	return incentive, nil
}

// AmountToBeLiquidated returns the seize-market shares the ledger would hand
// over for repayAmount, using the ledger's own computation.
func (l *Liquidator) AmountToBeLiquidated(ctx context.Context, repayMarket, seizeMarket common.Address, repayAmount *uint256.Int) (*uint256.Int, error) {
	if err := checkAmount(repayAmount); err != nil {
		return nil, err
	}
	seize, err := l.backend.Market.LiquidateCalculateSeizeTokens(ctx, repayMarket, seizeMarket, repayAmount)
	if err != nil {
		return nil, ledgerErr("calculate seize tokens", err)
	}
	return seize, nil
}

// EstimateSeize recomputes the seize amount from oracle prices and the stored
// exchange rate. It is for display only; Liquidate never consumes it.
func (l *Liquidator) EstimateSeize(ctx context.Context, repayMarket, seizeMarket common.Address, repayAmount *uint256.Int) (*uint256.Int, error) {
	if err := checkAmount(repayAmount); err != nil {
		return nil, err
	}
	repayPrice, err := quotePrice(ctx, l.backend.Oracle, repayMarket)
	if err != nil {
		return nil, err
	}
	seizePrice, err := quotePrice(ctx, l.backend.Oracle, seizeMarket)
	if err != nil {
		return nil, err
	}
	repayDecimals, err := l.risk.marketDecimals(ctx, repayMarket)
	if err != nil {
		return nil, err
	}
	seizeDecimals, err := l.risk.marketDecimals(ctx, seizeMarket)
	if err != nil {
		return nil, err
	}
	incentive, err := l.LiquidationIncentive(ctx)
	if err != nil {
		return nil, err
	}
	rate, err := l.backend.Market.ExchangeRateStored(ctx, seizeMarket)
	if err != nil {
		return nil, ledgerErr("exchange rate", err)
	}
	value, err := fixedpoint.ToUSD(repayAmount, repayDecimals, repayPrice)
	if err != nil {
		return nil, err
	}
	if value, err = fixedpoint.MulExp(value, incentive); err != nil {
		return nil, err
	}
	underlying, err := fixedpoint.FromUSD(value, seizeDecimals, seizePrice)
	if err != nil {
		return nil, err
	}
	return fixedpoint.DivExp(underlying, rate)
}

// MaxRepay returns closeFactor × borrowed for target in repayMarket, floored.
// Stored balances are used; call after accrual for an exact bound.
func (l *Liquidator) MaxRepay(ctx context.Context, target, repayMarket common.Address) (*uint256.Int, error) {
	snap, err := l.backend.Market.AccountSnapshot(ctx, target, repayMarket)
	if err != nil {
		return nil, ledgerErr("account snapshot", err)
	}
	factor, err := l.CloseFactor(ctx)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulExp(snap.Borrowed, factor)
}

// Liquidate repays repayAmount of target's debt in repayMarket with tokens
// pulled from caller and seizes collateral shares in seizeMarket. Both markets
// are accrued first so the shortfall and close-factor checks see current
// balances. SeizedShares is measured from custody after the call, falling back
// to the ledger's pre-trade quote when that read fails.
func (l *Liquidator) Liquidate(ctx context.Context, caller, target common.Address, repayAmount *uint256.Int, seizeMarket, repayAssetID, repayMarket common.Address) (result LiquidationResult, err error) {
	defer func() {
		l.observer.ObserveOperation("liquidate", err)
		if err != nil {
			l.logger.Warn("lending liquidation failed", "caller", caller, "target", target,
				"repay_market", repayMarket, "seize_market", seizeMarket, "amount", repayAmount, "error", err)
			return
		}
		l.observer.ObserveLiquidation(result)
		l.logger.Info("lending liquidation", "caller", caller, "target", target,
			"repay_market", repayMarket, "seize_market", seizeMarket, "repaid", result.Repaid, "seized", result.SeizedShares)
	}()
	if err := checkAmount(repayAmount); err != nil {
		return LiquidationResult{}, err
	}
	if target == l.custody {
		return LiquidationResult{}, fmt.Errorf("%w: cannot liquidate own custody", ErrUnauthorized)
	}
	if err := ctx.Err(); err != nil {
		return LiquidationResult{}, err
	}
	underlying, err := l.backend.Market.Underlying(ctx, repayMarket)
	if err != nil {
		return LiquidationResult{}, ledgerErr("underlying", err)
	}
	if underlying != repayAssetID {
		return LiquidationResult{}, fmt.Errorf("%w: market %s does not accept %s", ErrUnknownAsset, repayMarket.Hex(), repayAssetID.Hex())
	}
	for _, market := range []common.Address{repayMarket, seizeMarket} {
		if err := l.backend.Market.AccrueInterest(ctx, market); err != nil {
			return LiquidationResult{}, ledgerErr("accrue interest", err)
		}
	}
	quote, err := l.risk.AccountLiquidity(ctx, target)
	if err != nil {
		return LiquidationResult{}, err
	}
	if !quote.Liquidatable() {
		return LiquidationResult{}, fmt.Errorf("%w: %s", ErrNotLiquidatable, target.Hex())
	}
	limit, err := l.MaxRepay(ctx, target, repayMarket)
	if err != nil {
		return LiquidationResult{}, err
	}
	if repayAmount.Gt(limit) {
		return LiquidationResult{}, fmt.Errorf("%w: repay %s, limit %s", ErrExceedsCloseFactor, repayAmount.Dec(), limit.Dec())
	}
	before, err := l.SeizedBalance(ctx, seizeMarket)
	if err != nil {
		return LiquidationResult{}, err
	}
	quoted, err := l.AmountToBeLiquidated(ctx, repayMarket, seizeMarket, repayAmount)
	if err != nil {
		return LiquidationResult{}, err
	}

	if err := l.backend.Tokens.TransferFrom(ctx, repayAssetID, l.custody, caller, l.custody, repayAmount); err != nil {
		return LiquidationResult{}, transferErr("transfer from", err)
	}
	if err := l.backend.Tokens.Approve(ctx, repayAssetID, l.custody, repayMarket, repayAmount); err != nil {
		return LiquidationResult{}, l.refund(ctx, repayAssetID, caller, repayAmount, transferErr("approve", err))
	}
	if err := l.backend.Market.LiquidateBorrow(ctx, l.custody, target, repayMarket, repayAmount, seizeMarket); err != nil {
		return LiquidationResult{}, l.refund(ctx, repayAssetID, caller, repayAmount, ledgerErr("liquidate borrow", err))
	}

	result = LiquidationResult{
		Target:       target,
		RepayMarket:  repayMarket,
		SeizeMarket:  seizeMarket,
		Repaid:       new(uint256.Int).Set(repayAmount),
		SeizedShares: quoted,
	}
	// The liquidation has committed; a failed re-read falls back to the quote.
	after, err := l.SeizedBalance(ctx, seizeMarket)
	if err != nil {
		l.logger.Warn("lending seized balance unavailable", "seize_market", seizeMarket, "quoted", quoted, "error", err)
		return result, nil
	}
	result.SeizedShares = fixedpoint.SaturatingSub(after, before)
	return result, nil
}

// SeizedBalance returns the market shares held in the liquidator's custody.
func (l *Liquidator) SeizedBalance(ctx context.Context, market common.Address) (*uint256.Int, error) {
	snap, err := l.backend.Market.AccountSnapshot(ctx, l.custody, market)
	if err != nil {
		return nil, ledgerErr("account snapshot", err)
	}
	return snap.Shares, nil
}

// RedeemSeized converts seized shares back to the underlying token and pays
// the proceeds to the owner. It returns the underlying amount redeemed, which
// stays in custody if the payout transfer fails.
func (l *Liquidator) RedeemSeized(ctx context.Context, caller, market common.Address, shares *uint256.Int) (paid *uint256.Int, err error) {
	defer func() {
		l.observer.ObserveOperation("redeem_seized", err)
		if err != nil {
			l.logger.Warn("lending redeem seized failed", "caller", caller, "market", market, "shares", shares, "error", err)
			return
		}
		l.logger.Info("lending redeem seized", "market", market, "shares", shares, "paid", paid)
	}()
	if caller != l.owner {
		return nil, ErrUnauthorized
	}
	if err := checkAmount(shares); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token, err := l.backend.Market.Underlying(ctx, market)
	if err != nil {
		return nil, ledgerErr("underlying", err)
	}
	before, err := l.backend.Tokens.BalanceOf(ctx, token, l.custody)
	if err != nil {
		return nil, ledgerErr("balance of", err)
	}
	if err := l.backend.Market.Redeem(ctx, l.custody, market, shares); err != nil {
		return nil, ledgerErr("redeem", err)
	}
	after, err := l.backend.Tokens.BalanceOf(ctx, token, l.custody)
	if err != nil {
		return nil, ledgerErr("balance of", err)
	}
	paid = fixedpoint.SaturatingSub(after, before)
	if paid.IsZero() {
		return paid, nil
	}
	if err := l.backend.Tokens.Transfer(ctx, token, l.custody, l.owner, paid); err != nil {
		// The redemption has committed; the proceeds stay in custody.
		l.logger.Error("lending redeem seized payout failed", "token", token, "paid", paid, "custody", l.custody, "error", err)
	}
	return paid, nil
}

func (l *Liquidator) refund(ctx context.Context, token, to common.Address, amount *uint256.Int, cause error) error {
	if err := l.backend.Tokens.Transfer(ctx, token, l.custody, to, amount); err != nil {
		l.logger.Error("lending refund failed", "token", token, "to", to, "amount", amount, "error", err)
		return fmt.Errorf("%w (refund failed: %v)", cause, err)
	}
	return cause
}
