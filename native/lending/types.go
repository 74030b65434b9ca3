package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/fixedpoint"
)

// SupportedAsset maps an underlying token to the money-market handle that
// accepts it. Entries are immutable once registered.
type SupportedAsset struct {
	// AssetID is the underlying token address.
	AssetID common.Address
	// Market is the interest-bearing market (cToken) for the asset.
	Market common.Address
	// Decimals is the underlying token precision captured at registration.
	Decimals uint8
}

// LiquidityQuote is the USD-equivalent surplus or deficit of an account,
// expressed with 18 decimals. At most one side is nonzero.
type LiquidityQuote struct {
	Liquidity *uint256.Int
	Shortfall *uint256.Int
}

func newLiquidityQuote(collateral, debt *uint256.Int) LiquidityQuote {
	return LiquidityQuote{
		Liquidity: fixedpoint.SaturatingSub(collateral, debt),
		Shortfall: fixedpoint.SaturatingSub(debt, collateral),
	}
}

// Liquidatable reports whether the account is underwater.
func (q LiquidityQuote) Liquidatable() bool {
	return q.Shortfall != nil && !q.Shortfall.IsZero()
}

// AccountSnapshot is the ledger's stored view of one account in one market.
// Values reflect interest accrued up to the market's last mutating call.
type AccountSnapshot struct {
	// Shares is the account's market-share (cToken) balance.
	Shares *uint256.Int
	// Borrowed is the account's outstanding debt in raw underlying units.
	Borrowed *uint256.Int
	// ExchangeRate converts shares to underlying: underlying = shares*rate/1e18.
	ExchangeRate *uint256.Int
}

// Underlying returns the supplied balance implied by the snapshot.
func (s AccountSnapshot) Underlying() (*uint256.Int, error) {
	return fixedpoint.MulExp(s.Shares, s.ExchangeRate)
}

// MarketInfo aggregates the pass-through market reads used for display.
type MarketInfo struct {
	Asset              SupportedAsset
	ExchangeRate       *uint256.Int
	SupplyRatePerBlock *uint256.Int
	BorrowRatePerBlock *uint256.Int
	CollateralFactor   *uint256.Int
	Price              *uint256.Int
}

// PositionState is the derived lifecycle stage of the engine's position.
type PositionState int

const (
	StateNoPosition PositionState = iota
	StateSupplied
	StateInMarket
	StateBorrowed
)

func (s PositionState) String() string {
	switch s {
	case StateSupplied:
		return "supplied"
	case StateInMarket:
		return "in_market"
	case StateBorrowed:
		return "borrowed"
	default:
		return "no_position"
	}
}

// LiquidationResult reports what a successful liquidation moved.
type LiquidationResult struct {
	Target       common.Address
	RepayMarket  common.Address
	SeizeMarket  common.Address
	Repaid       *uint256.Int
	SeizedShares *uint256.Int
}
