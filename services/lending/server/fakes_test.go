package server

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/lending"
	"mmlink/services/lending/engine"
)

// fakeEngine embeds the interface so unexercised methods panic when called.
type fakeEngine struct {
	engine.Engine

	assets      []lending.SupportedAsset
	supplyFn    func(ctx context.Context, caller, assetID common.Address, amount *uint256.Int) error
	borrowFn    func(ctx context.Context, caller, collateral, market common.Address, decimals uint8, amount *uint256.Int) error
	repayFn     func(ctx context.Context, caller, assetID, market common.Address, amount *uint256.Int) (*uint256.Int, error)
	liquidityFn func(ctx context.Context, account common.Address) (engine.Liquidity, error)
	quoteFn     func(ctx context.Context, target, repayMarket, seizeMarket common.Address, amount *uint256.Int) (engine.LiquidationQuote, error)
	liquidateFn func(ctx context.Context, caller, target, repayAsset, repayMarket, seizeMarket common.Address, amount *uint256.Int) (lending.LiquidationResult, error)
}

func (f *fakeEngine) Assets() []lending.SupportedAsset { return f.assets }

func (f *fakeEngine) Supply(ctx context.Context, caller, assetID common.Address, amount *uint256.Int) error {
	if f.supplyFn != nil {
		return f.supplyFn(ctx, caller, assetID, amount)
	}
	return nil
}

func (f *fakeEngine) Borrow(ctx context.Context, caller, collateral, market common.Address, decimals uint8, amount *uint256.Int) error {
	if f.borrowFn != nil {
		return f.borrowFn(ctx, caller, collateral, market, decimals, amount)
	}
	return nil
}

func (f *fakeEngine) Repay(ctx context.Context, caller, assetID, market common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if f.repayFn != nil {
		return f.repayFn(ctx, caller, assetID, market, amount)
	}
	return amount, nil
}

func (f *fakeEngine) Liquidity(ctx context.Context, account common.Address) (engine.Liquidity, error) {
	if f.liquidityFn != nil {
		return f.liquidityFn(ctx, account)
	}
	return engine.Liquidity{}, nil
}

func (f *fakeEngine) QuoteLiquidation(ctx context.Context, target, repayMarket, seizeMarket common.Address, amount *uint256.Int) (engine.LiquidationQuote, error) {
	if f.quoteFn != nil {
		return f.quoteFn(ctx, target, repayMarket, seizeMarket, amount)
	}
	return engine.LiquidationQuote{}, nil
}

func (f *fakeEngine) Liquidate(ctx context.Context, caller, target, repayAsset, repayMarket, seizeMarket common.Address, amount *uint256.Int) (lending.LiquidationResult, error) {
	if f.liquidateFn != nil {
		return f.liquidateFn(ctx, caller, target, repayAsset, repayMarket, seizeMarket, amount)
	}
	return lending.LiquidationResult{}, nil
}

type fakeAuthorizer struct {
	called bool
	caller common.Address
	err    error
}

func (f *fakeAuthorizer) Caller(context.Context) (common.Address, error) {
	f.called = true
	if f.err != nil {
		return common.Address{}, f.err
	}
	return f.caller, nil
}
