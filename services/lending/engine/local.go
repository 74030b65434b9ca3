package engine

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/lending"
)

type localAdapter struct {
	engine     *lending.Engine
	liquidator *lending.Liquidator
}

// NewLocal wires an in-process lending engine and liquidator into the Engine
// abstraction expected by the service.
func NewLocal(eng *lending.Engine, liq *lending.Liquidator) (Engine, error) {
	if eng == nil || liq == nil {
		return nil, errors.New("engine: lending engine and liquidator required")
	}
	return &localAdapter{engine: eng, liquidator: liq}, nil
}

func (a *localAdapter) Assets() []lending.SupportedAsset {
	return a.engine.Registry().Assets()
}

func (a *localAdapter) MarketInfo(ctx context.Context, assetID common.Address) (lending.MarketInfo, error) {
	return a.engine.Accessor().Info(ctx, assetID)
}

func (a *localAdapter) RegisterAsset(ctx context.Context, caller, assetID, market common.Address) (lending.SupportedAsset, error) {
	return a.engine.RegisterAsset(ctx, caller, assetID, market)
}

// Liquidity quotes account, or the engine's own position for the zero
// address.
func (a *localAdapter) Liquidity(ctx context.Context, account common.Address) (Liquidity, error) {
	if account == (common.Address{}) {
		account = a.engine.Custody()
	}
	quote, err := a.engine.RiskCalculator().AccountLiquidity(ctx, account)
	if err != nil {
		return Liquidity{}, err
	}
	return Liquidity{Account: account, LiquidityQuote: quote}, nil
}

func (a *localAdapter) MaxBorrow(ctx context.Context, market common.Address) (*uint256.Int, error) {
	return a.engine.MaxBorrowAmount(ctx, market)
}

func (a *localAdapter) Position(ctx context.Context) (Position, error) {
	accessor := a.engine.Accessor()
	entered, err := accessor.EnteredMarkets(ctx)
	if err != nil {
		return Position{}, err
	}
	inMarket := make(map[common.Address]bool, len(entered))
	for _, market := range entered {
		inMarket[market] = true
	}
	pos := Position{Owner: a.engine.Owner(), Custody: a.engine.Custody()}
	if pos.State, err = a.engine.State(ctx); err != nil {
		return Position{}, err
	}
	if pos.Quote, err = a.engine.AccountLiquidity(ctx); err != nil {
		return Position{}, err
	}
	if pos.HealthFactor, err = a.engine.RiskCalculator().HealthFactor(ctx, pos.Custody); err != nil {
		return Position{}, err
	}
	for _, asset := range a.engine.Registry().Assets() {
		snap, err := accessor.Snapshot(ctx, asset.Market)
		if err != nil {
			return Position{}, err
		}
		supplied, err := snap.Underlying()
		if err != nil {
			return Position{}, err
		}
		pos.Balances = append(pos.Balances, Balance{
			Asset:    asset,
			Shares:   snap.Shares,
			Supplied: supplied,
			Borrowed: snap.Borrowed,
			Entered:  inMarket[asset.Market],
		})
	}
	return pos, nil
}

func (a *localAdapter) Supply(ctx context.Context, caller, assetID common.Address, amount *uint256.Int) error {
	return a.engine.Supply(ctx, caller, assetID, amount)
}

func (a *localAdapter) EnterMarket(ctx context.Context, assetID common.Address) error {
	return a.engine.EnterMarket(ctx, assetID)
}

func (a *localAdapter) ExitMarket(ctx context.Context, caller, assetID common.Address) error {
	return a.engine.ExitMarket(ctx, caller, assetID)
}

func (a *localAdapter) Borrow(ctx context.Context, caller, collateralAsset, market common.Address, decimals uint8, amount *uint256.Int) error {
	return a.engine.Borrow(ctx, caller, collateralAsset, market, decimals, amount)
}

func (a *localAdapter) BorrowMax(ctx context.Context, caller, market common.Address, decimals uint8) (*uint256.Int, error) {
	return a.engine.BorrowMax(ctx, caller, market, decimals)
}

func (a *localAdapter) Repay(ctx context.Context, caller, assetID, market common.Address, amount *uint256.Int) (*uint256.Int, error) {
	return a.engine.Repay(ctx, caller, assetID, market, amount)
}

func (a *localAdapter) Redeem(ctx context.Context, caller, assetID common.Address, amount *uint256.Int) error {
	return a.engine.RedeemUnderlying(ctx, caller, assetID, amount)
}

func (a *localAdapter) Withdraw(ctx context.Context, caller, token common.Address, amount *uint256.Int) error {
	return a.engine.Withdraw(ctx, caller, token, amount)
}

func (a *localAdapter) LiquidationParams(ctx context.Context) (LiquidationParams, error) {
	closeFactor, err := a.liquidator.CloseFactor(ctx)
	if err != nil {
		return LiquidationParams{}, err
	}
	incentive, err := a.liquidator.LiquidationIncentive(ctx)
	if err != nil {
		return LiquidationParams{}, err
	}
	return LiquidationParams{
		CloseFactor:          closeFactor,
		LiquidationIncentive: incentive,
		Custody:              a.liquidator.Custody(),
	}, nil
}

func (a *localAdapter) QuoteLiquidation(ctx context.Context, target, repayMarket, seizeMarket common.Address, amount *uint256.Int) (LiquidationQuote, error) {
	quote, err := a.engine.RiskCalculator().AccountLiquidity(ctx, target)
	if err != nil {
		return LiquidationQuote{}, err
	}
	out := LiquidationQuote{Quote: quote}
	if out.MaxRepay, err = a.liquidator.MaxRepay(ctx, target, repayMarket); err != nil {
		return LiquidationQuote{}, err
	}
	if amount == nil || amount.IsZero() {
		return out, nil
	}
	if out.SeizeTokens, err = a.liquidator.AmountToBeLiquidated(ctx, repayMarket, seizeMarket, amount); err != nil {
		return LiquidationQuote{}, err
	}
	if out.EstimatedSeize, err = a.liquidator.EstimateSeize(ctx, repayMarket, seizeMarket, amount); err != nil {
		return LiquidationQuote{}, err
	}
	return out, nil
}

func (a *localAdapter) Liquidate(ctx context.Context, caller, target, repayAsset, repayMarket, seizeMarket common.Address, amount *uint256.Int) (lending.LiquidationResult, error) {
	return a.liquidator.Liquidate(ctx, caller, target, amount, seizeMarket, repayAsset, repayMarket)
}

func (a *localAdapter) RedeemSeized(ctx context.Context, caller, market common.Address, shares *uint256.Int) (*uint256.Int, error) {
	return a.liquidator.RedeemSeized(ctx, caller, market, shares)
}
