package ethledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/lending"
)

func (l *Ledger) Mint(ctx context.Context, account, market common.Address, amount *uint256.Int) error {
	return l.transact(ctx, account, market, cTokenContract, "mint", amount.ToBig())
}

func (l *Ledger) Redeem(ctx context.Context, account, market common.Address, shares *uint256.Int) error {
	return l.transact(ctx, account, market, cTokenContract, "redeem", shares.ToBig())
}

func (l *Ledger) RedeemUnderlying(ctx context.Context, account, market common.Address, amount *uint256.Int) error {
	return l.transact(ctx, account, market, cTokenContract, "redeemUnderlying", amount.ToBig())
}

func (l *Ledger) Borrow(ctx context.Context, account, market common.Address, amount *uint256.Int) error {
	return l.transact(ctx, account, market, cTokenContract, "borrow", amount.ToBig())
}

func (l *Ledger) RepayBorrow(ctx context.Context, account, market common.Address, amount *uint256.Int) error {
	return l.transact(ctx, account, market, cTokenContract, "repayBorrow", amount.ToBig())
}

func (l *Ledger) EnterMarkets(ctx context.Context, account common.Address, markets ...common.Address) error {
	return l.transact(ctx, account, l.comptroller, comptrollerContract, "enterMarkets", markets)
}

func (l *Ledger) ExitMarket(ctx context.Context, account, market common.Address) error {
	return l.transact(ctx, account, l.comptroller, comptrollerContract, "exitMarket", market)
}

// AccrueInterest is sent from the first account the ledger can sign for;
// any sender may trigger accrual.
func (l *Ledger) AccrueInterest(ctx context.Context, market common.Address) error {
	for addr := range l.keys {
		return l.transact(ctx, addr, market, cTokenContract, "accrueInterest")
	}
	return fmt.Errorf("%w: accrue interest", ErrNoKey)
}

func (l *Ledger) LiquidateBorrow(ctx context.Context, liquidator, borrower, repayMarket common.Address, repayAmount *uint256.Int, seizeMarket common.Address) error {
	return l.transact(ctx, liquidator, repayMarket, cTokenContract, "liquidateBorrow", borrower, repayAmount.ToBig(), seizeMarket)
}

func (l *Ledger) AccountSnapshot(ctx context.Context, account, market common.Address) (lending.AccountSnapshot, error) {
	out, err := l.call(ctx, market, cTokenContract, "getAccountSnapshot", account)
	if err != nil {
		return lending.AccountSnapshot{}, err
	}
	if code := out[0].(*big.Int); code.Sign() != 0 {
		return lending.AccountSnapshot{}, fmt.Errorf("%w: getAccountSnapshot code %s", ErrFailureCode, code)
	}
	var snap lending.AccountSnapshot
	if snap.Shares, err = toUint256("shares", out[1].(*big.Int)); err != nil {
		return lending.AccountSnapshot{}, err
	}
	if snap.Borrowed, err = toUint256("borrowed", out[2].(*big.Int)); err != nil {
		return lending.AccountSnapshot{}, err
	}
	if snap.ExchangeRate, err = toUint256("exchange rate", out[3].(*big.Int)); err != nil {
		return lending.AccountSnapshot{}, err
	}
	return snap, nil
}

func (l *Ledger) AssetsIn(ctx context.Context, account common.Address) ([]common.Address, error) {
	out, err := l.call(ctx, l.comptroller, comptrollerContract, "getAssetsIn", account)
	if err != nil {
		return nil, err
	}
	return out[0].([]common.Address), nil
}

func (l *Ledger) Underlying(ctx context.Context, market common.Address) (common.Address, error) {
	out, err := l.call(ctx, market, cTokenContract, "underlying")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

func (l *Ledger) ExchangeRateStored(ctx context.Context, market common.Address) (*uint256.Int, error) {
	return l.callUint(ctx, market, cTokenContract, "exchangeRateStored")
}

func (l *Ledger) BorrowRatePerBlock(ctx context.Context, market common.Address) (*uint256.Int, error) {
	return l.callUint(ctx, market, cTokenContract, "borrowRatePerBlock")
}

func (l *Ledger) SupplyRatePerBlock(ctx context.Context, market common.Address) (*uint256.Int, error) {
	return l.callUint(ctx, market, cTokenContract, "supplyRatePerBlock")
}

// CollateralFactor reads the comptroller's market record. Unlisted markets
// report an error rather than a zero factor.
func (l *Ledger) CollateralFactor(ctx context.Context, market common.Address) (*uint256.Int, error) {
	out, err := l.call(ctx, l.comptroller, comptrollerContract, "markets", market)
	if err != nil {
		return nil, err
	}
	if listed := out[0].(bool); !listed {
		return nil, fmt.Errorf("market %s not listed", market.Hex())
	}
	return toUint256("collateral factor", out[1].(*big.Int))
}

func (l *Ledger) CloseFactor(ctx context.Context) (*uint256.Int, error) {
	return l.callUint(ctx, l.comptroller, comptrollerContract, "closeFactorMantissa")
}

func (l *Ledger) LiquidationIncentive(ctx context.Context) (*uint256.Int, error) {
	return l.callUint(ctx, l.comptroller, comptrollerContract, "liquidationIncentiveMantissa")
}

func (l *Ledger) LiquidateCalculateSeizeTokens(ctx context.Context, repayMarket, seizeMarket common.Address, repayAmount *uint256.Int) (*uint256.Int, error) {
	out, err := l.call(ctx, l.comptroller, comptrollerContract, "liquidateCalculateSeizeTokens", repayMarket, seizeMarket, repayAmount.ToBig())
	if err != nil {
		return nil, err
	}
	if code := out[0].(*big.Int); code.Sign() != 0 {
		return nil, fmt.Errorf("%w: liquidateCalculateSeizeTokens code %s", ErrFailureCode, code)
	}
	return toUint256("seize tokens", out[1].(*big.Int))
}
