package lending

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/fixedpoint"
)

// RiskCalculator derives liquidity, shortfall and borrow limits for any
// account from fresh ledger and oracle reads.
type RiskCalculator struct {
	backend Backend
}

// NewRiskCalculator returns a calculator over backend.
func NewRiskCalculator(backend Backend) *RiskCalculator {
	return &RiskCalculator{backend: backend}
}

// CollateralFactor returns the fraction of market's supplied value that counts
// toward borrowing power, as an 18-decimal mantissa.
func (r *RiskCalculator) CollateralFactor(ctx context.Context, market common.Address) (*uint256.Int, error) {
	factor, err := r.backend.Market.CollateralFactor(ctx, market)
	if err != nil {
		return nil, ledgerErr("collateral factor", err)
	}
	if factor.Gt(fixedpoint.Scale) {
		return nil, ledgerErr("collateral factor", errors.New("factor above 1"))
	}
	return factor, nil
}

// AccountLiquidity returns the USD surplus or deficit of account across the
// markets it has entered. Exactly one of the two sides is nonzero unless
// collateral and debt are equal, in which case both are zero.
func (r *RiskCalculator) AccountLiquidity(ctx context.Context, account common.Address) (LiquidityQuote, error) {
	collateral, debt, err := r.accountValues(ctx, account)
	if err != nil {
		return LiquidityQuote{}, err
	}
	return newLiquidityQuote(collateral, debt), nil
}

// HealthFactor returns collateral/debt as an 18-decimal mantissa. Accounts
// without debt report the maximum value.
func (r *RiskCalculator) HealthFactor(ctx context.Context, account common.Address) (*uint256.Int, error) {
	collateral, debt, err := r.accountValues(ctx, account)
	if err != nil {
		return nil, err
	}
	if debt.IsZero() {
		return new(uint256.Int).SetAllOne(), nil
	}
	return fixedpoint.DivExp(collateral, debt)
}

// MaxBorrowAmount converts the account's liquidity into raw units of the
// borrow market's underlying, flooring at its precision. It returns zero when
// there is no liquidity or the borrow asset cannot be priced.
func (r *RiskCalculator) MaxBorrowAmount(ctx context.Context, account, borrowMarket common.Address) (*uint256.Int, error) {
	quote, err := r.AccountLiquidity(ctx, account)
	if err != nil {
		return nil, err
	}
	if quote.Liquidity.IsZero() {
		return fixedpoint.Zero(), nil
	}
	price, err := quotePrice(ctx, r.backend.Oracle, borrowMarket)
	if err != nil {
		return fixedpoint.Zero(), nil
	}
	decimals, err := r.marketDecimals(ctx, borrowMarket)
	if err != nil {
		return nil, err
	}
	return fixedpoint.FromUSD(quote.Liquidity, decimals, price)
}

func (r *RiskCalculator) accountValues(ctx context.Context, account common.Address) (*uint256.Int, *uint256.Int, error) {
	markets, err := r.backend.Market.AssetsIn(ctx, account)
	if err != nil {
		return nil, nil, ledgerErr("assets in", err)
	}
	collateral, debt := fixedpoint.Zero(), fixedpoint.Zero()
	for _, market := range markets {
		snap, err := r.backend.Market.AccountSnapshot(ctx, account, market)
		if err != nil {
			return nil, nil, ledgerErr("account snapshot", err)
		}
		if snap.Shares.IsZero() && snap.Borrowed.IsZero() {
			continue
		}
		price, err := quotePrice(ctx, r.backend.Oracle, market)
		if err != nil {
			return nil, nil, err
		}
		decimals, err := r.marketDecimals(ctx, market)
		if err != nil {
			return nil, nil, err
		}
		if !snap.Shares.IsZero() {
			factor, err := r.CollateralFactor(ctx, market)
			if err != nil {
				return nil, nil, err
			}
			value, err := fixedpoint.CollateralValue(snap.Shares, snap.ExchangeRate, decimals, price, factor)
			if err != nil {
				return nil, nil, err
			}
			if collateral, err = fixedpoint.Add(collateral, value); err != nil {
				return nil, nil, err
			}
		}
		if !snap.Borrowed.IsZero() {
			value, err := fixedpoint.ToUSD(snap.Borrowed, decimals, price)
			if err != nil {
				return nil, nil, err
			}
			if debt, err = fixedpoint.Add(debt, value); err != nil {
				return nil, nil, err
			}
		}
	}
	return collateral, debt, nil
}

func (r *RiskCalculator) marketDecimals(ctx context.Context, market common.Address) (uint8, error) {
	underlying, err := r.backend.Market.Underlying(ctx, market)
	if err != nil {
		return 0, ledgerErr("underlying", err)
	}
	decimals, err := r.backend.Tokens.Decimals(ctx, underlying)
	if err != nil {
		return 0, ledgerErr("decimals", err)
	}
	return decimals, nil
}
