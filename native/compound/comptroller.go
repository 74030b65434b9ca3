package compound

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/fixedpoint"
)

func (p *Protocol) isMember(account, marketAddr common.Address) bool {
	for _, m := range p.membership[account] {
		if m == marketAddr {
			return true
		}
	}
	return false
}

// EnterMarkets adds markets to account's collateral set. Markets already
// entered are skipped.
func (p *Protocol) EnterMarkets(ctx context.Context, account common.Address, markets ...common.Address) error {
	if err := p.begin(ctx); err != nil {
		return err
	}
	defer p.mu.Unlock()
	for _, addr := range markets {
		if _, err := p.market(addr); err != nil {
			return err
		}
	}
	for _, addr := range markets {
		if !p.isMember(account, addr) {
			p.membership[account] = append(p.membership[account], addr)
		}
	}
	return nil
}

// ExitMarket removes marketAddr from account's collateral set. It fails while
// account owes the market or when losing the collateral would leave a
// shortfall.
func (p *Protocol) ExitMarket(ctx context.Context, account, marketAddr common.Address) error {
	if err := p.begin(ctx); err != nil {
		return err
	}
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return err
	}
	if !p.isMember(account, marketAddr) {
		return nil
	}
	if !m.borrowBalance(account).IsZero() {
		return ErrNonzeroBorrow
	}
	_, shortfall, err := p.hypotheticalLiquidity(account, p.membership[account], marketAddr, m.shareBalance(account), nil)
	if err != nil {
		return err
	}
	if !shortfall.IsZero() {
		return ErrInsufficientLiquidity
	}
	kept := make([]common.Address, 0, len(p.membership[account]))
	for _, addr := range p.membership[account] {
		if addr != marketAddr {
			kept = append(kept, addr)
		}
	}
	p.membership[account] = kept
	return nil
}

func (p *Protocol) AssetsIn(_ context.Context, account common.Address) ([]common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]common.Address(nil), p.membership[account]...), nil
}

// AccountLiquidity reports account's surplus and shortfall from stored
// balances, in 18-decimal USD.
func (p *Protocol) AccountLiquidity(_ context.Context, account common.Address) (*uint256.Int, *uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hypotheticalLiquidity(account, p.membership[account], common.Address{}, nil, nil)
}

// hypotheticalLiquidity values account's position across markets as if it
// additionally redeemed redeemShares of modify and borrowed borrowAmount of
// it.
func (p *Protocol) hypotheticalLiquidity(account common.Address, markets []common.Address, modify common.Address, redeemShares, borrowAmount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	collateral, debt := fixedpoint.Zero(), fixedpoint.Zero()
	for _, addr := range markets {
		m, err := p.market(addr)
		if err != nil {
			return nil, nil, err
		}
		shares := m.shareBalance(account)
		borrowed := m.borrowBalance(account)
		touched := addr == modify && (redeemShares != nil || borrowAmount != nil)
		if shares.IsZero() && borrowed.IsZero() && !touched {
			continue
		}
		if m.price.IsZero() {
			return nil, nil, fmt.Errorf("%w: %s", ErrPriceError, addr.Hex())
		}
		rate := p.exchangeRate(m)
		value, err := fixedpoint.CollateralValue(shares, rate, m.decimals, m.price, m.collateralFactor)
		if err != nil {
			return nil, nil, err
		}
		if collateral, err = fixedpoint.Add(collateral, value); err != nil {
			return nil, nil, err
		}
		if value, err = fixedpoint.ToUSD(borrowed, m.decimals, m.price); err != nil {
			return nil, nil, err
		}
		if debt, err = fixedpoint.Add(debt, value); err != nil {
			return nil, nil, err
		}
		if addr != modify {
			continue
		}
		if redeemShares != nil {
			if value, err = fixedpoint.CollateralValue(redeemShares, rate, m.decimals, m.price, m.collateralFactor); err != nil {
				return nil, nil, err
			}
			if debt, err = fixedpoint.Add(debt, value); err != nil {
				return nil, nil, err
			}
		}
		if borrowAmount != nil {
			if value, err = fixedpoint.ToUSD(borrowAmount, m.decimals, m.price); err != nil {
				return nil, nil, err
			}
			if debt, err = fixedpoint.Add(debt, value); err != nil {
				return nil, nil, err
			}
		}
	}
	return fixedpoint.SaturatingSub(collateral, debt), fixedpoint.SaturatingSub(debt, collateral), nil
}

// LiquidateCalculateSeizeTokens returns the seizeMarket shares worth
// repayAmount of the repay market's underlying plus the liquidation incentive.
func (p *Protocol) LiquidateCalculateSeizeTokens(_ context.Context, repayMarket, seizeMarket common.Address, repayAmount *uint256.Int) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	repay, err := p.market(repayMarket)
	if err != nil {
		return nil, err
	}
	seize, err := p.market(seizeMarket)
	if err != nil {
		return nil, err
	}
	return p.seizeTokens(repay, seize, repayAmount)
}

func (p *Protocol) seizeTokens(repay, seize *market, repayAmount *uint256.Int) (*uint256.Int, error) {
	if repay.price.IsZero() || seize.price.IsZero() {
		return nil, ErrPriceError
	}
	value, err := fixedpoint.ToUSD(repayAmount, repay.decimals, repay.price)
	if err != nil {
		return nil, err
	}
	if value, err = fixedpoint.MulExp(value, p.liquidationIncentive); err != nil {
		return nil, err
	}
	underlying, err := fixedpoint.FromUSD(value, seize.decimals, seize.price)
	if err != nil {
		return nil, err
	}
	return fixedpoint.DivExp(underlying, p.exchangeRate(seize))
}

// LiquidateBorrow repays repayAmount of borrower's debt in repayMarket with
// liquidator's tokens and transfers the seized seizeMarket shares from
// borrower to liquidator. The liquidator must have approved repayMarket.
func (p *Protocol) LiquidateBorrow(ctx context.Context, liquidator, borrower, repayMarket common.Address, repayAmount *uint256.Int, seizeMarket common.Address) error {
	if err := p.begin(ctx); err != nil {
		return err
	}
	defer p.mu.Unlock()
	repay, err := p.market(repayMarket)
	if err != nil {
		return err
	}
	seize, err := p.market(seizeMarket)
	if err != nil {
		return err
	}
	if err := checkPositive(repayAmount); err != nil {
		return err
	}
	if liquidator == borrower {
		return ErrSelfLiquidation
	}
	if err := p.accrue(repay); err != nil {
		return err
	}
	if err := p.accrue(seize); err != nil {
		return err
	}
	_, shortfall, err := p.hypotheticalLiquidity(borrower, p.membership[borrower], common.Address{}, nil, nil)
	if err != nil {
		return err
	}
	if shortfall.IsZero() {
		return ErrInsufficientShortfall
	}
	balance := repay.borrowBalance(borrower)
	maxClose, err := fixedpoint.MulExp(balance, p.closeFactor)
	if err != nil {
		return err
	}
	if repayAmount.Gt(maxClose) {
		return ErrTooMuchRepay
	}
	seized, err := p.seizeTokens(repay, seize, repayAmount)
	if err != nil {
		return err
	}
	if seize.shareBalance(borrower).Lt(seized) {
		return fmt.Errorf("%w: seize too much", ErrInsufficientBalance)
	}
	t := p.tokens[repay.underlying]
	if err := t.checkTransferFrom(repayMarket, liquidator, repayAmount); err != nil {
		return err
	}

	t.spend(liquidator, repayMarket, repayAmount)
	t.move(liquidator, repayMarket, repayAmount)
	repay.setBorrow(borrower, new(uint256.Int).Sub(balance, repayAmount))
	repay.totalBorrows = fixedpoint.SaturatingSub(repay.totalBorrows, repayAmount)
	seize.shares[borrower] = new(uint256.Int).Sub(seize.shareBalance(borrower), seized)
	seize.shares[liquidator] = new(uint256.Int).Add(seize.shareBalance(liquidator), seized)
	return nil
}
