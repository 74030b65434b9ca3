package lending

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Accessor translates ledger state for one account into engine values. Every
// call reads through to the ledger; nothing is cached between calls.
type Accessor struct {
	account  common.Address
	registry *Registry
	backend  Backend
}

// NewAccessor binds an accessor to the position held by account.
func NewAccessor(account common.Address, registry *Registry, backend Backend) *Accessor {
	return &Accessor{account: account, registry: registry, backend: backend}
}

// Account returns the position address the accessor reads.
func (a *Accessor) Account() common.Address { return a.account }

// Snapshot returns the stored account snapshot in market.
func (a *Accessor) Snapshot(ctx context.Context, market common.Address) (AccountSnapshot, error) {
	snap, err := a.backend.Market.AccountSnapshot(ctx, a.account, market)
	if err != nil {
		return AccountSnapshot{}, ledgerErr("account snapshot", err)
	}
	return snap, nil
}

// SuppliedBalance returns the underlying value of the position's shares in
// the asset's market, as of the market's last mutating call.
func (a *Accessor) SuppliedBalance(ctx context.Context, assetID common.Address) (*uint256.Int, error) {
	asset, err := a.registry.Resolve(assetID)
	if err != nil {
		return nil, err
	}
	snap, err := a.Snapshot(ctx, asset.Market)
	if err != nil {
		return nil, err
	}
	return snap.Underlying()
}

// ShareBalance returns the raw market-share balance for assetID.
func (a *Accessor) ShareBalance(ctx context.Context, assetID common.Address) (*uint256.Int, error) {
	asset, err := a.registry.Resolve(assetID)
	if err != nil {
		return nil, err
	}
	snap, err := a.Snapshot(ctx, asset.Market)
	if err != nil {
		return nil, err
	}
	return snap.Shares, nil
}

// BorrowedBalance returns the position's stored debt in market.
func (a *Accessor) BorrowedBalance(ctx context.Context, market common.Address) (*uint256.Int, error) {
	snap, err := a.Snapshot(ctx, market)
	if err != nil {
		return nil, err
	}
	return snap.Borrowed, nil
}

// EnteredMarkets returns the markets the position counts as collateral.
func (a *Accessor) EnteredMarkets(ctx context.Context) ([]common.Address, error) {
	markets, err := a.backend.Market.AssetsIn(ctx, a.account)
	if err != nil {
		return nil, ledgerErr("assets in", err)
	}
	return markets, nil
}

func (a *Accessor) ExchangeRate(ctx context.Context, market common.Address) (*uint256.Int, error) {
	rate, err := a.backend.Market.ExchangeRateStored(ctx, market)
	if err != nil {
		return nil, ledgerErr("exchange rate", err)
	}
	return rate, nil
}

func (a *Accessor) BorrowRatePerBlock(ctx context.Context, market common.Address) (*uint256.Int, error) {
	rate, err := a.backend.Market.BorrowRatePerBlock(ctx, market)
	if err != nil {
		return nil, ledgerErr("borrow rate", err)
	}
	return rate, nil
}

func (a *Accessor) SupplyRatePerBlock(ctx context.Context, market common.Address) (*uint256.Int, error) {
	rate, err := a.backend.Market.SupplyRatePerBlock(ctx, market)
	if err != nil {
		return nil, ledgerErr("supply rate", err)
	}
	return rate, nil
}

// Price returns the oracle quote for market. A zero quote is treated as
// unavailable.
func (a *Accessor) Price(ctx context.Context, market common.Address) (*uint256.Int, error) {
	return quotePrice(ctx, a.backend.Oracle, market)
}

// Accrue asks the ledger to bring market's interest up to date. This is a
// mutating call.
func (a *Accessor) Accrue(ctx context.Context, market common.Address) error {
	if err := a.backend.Market.AccrueInterest(ctx, market); err != nil {
		return ledgerErr("accrue interest", err)
	}
	return nil
}

// Info collects the display figures for a registered asset.
func (a *Accessor) Info(ctx context.Context, assetID common.Address) (MarketInfo, error) {
	asset, err := a.registry.Resolve(assetID)
	if err != nil {
		return MarketInfo{}, err
	}
	info := MarketInfo{Asset: asset}
	if info.ExchangeRate, err = a.ExchangeRate(ctx, asset.Market); err != nil {
		return MarketInfo{}, err
	}
	if info.SupplyRatePerBlock, err = a.SupplyRatePerBlock(ctx, asset.Market); err != nil {
		return MarketInfo{}, err
	}
	if info.BorrowRatePerBlock, err = a.BorrowRatePerBlock(ctx, asset.Market); err != nil {
		return MarketInfo{}, err
	}
	if info.CollateralFactor, err = a.backend.Market.CollateralFactor(ctx, asset.Market); err != nil {
		return MarketInfo{}, ledgerErr("collateral factor", err)
	}
	if info.Price, err = a.Price(ctx, asset.Market); err != nil {
		return MarketInfo{}, err
	}
	return info, nil
}

func quotePrice(ctx context.Context, oracle PriceOracle, market common.Address) (*uint256.Int, error) {
	price, err := oracle.UnderlyingPrice(ctx, market)
	if err != nil {
		return nil, priceErr(err)
	}
	if price == nil || price.IsZero() {
		return nil, fmt.Errorf("%w: zero quote for %s", ErrPriceUnavailable, market.Hex())
	}
	return price, nil
}
