package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/lending"
)

// Engine describes the operations required by the lending gRPC surface.
type Engine interface {
	Assets() []lending.SupportedAsset
	MarketInfo(ctx context.Context, assetID common.Address) (lending.MarketInfo, error)
	RegisterAsset(ctx context.Context, caller, assetID, market common.Address) (lending.SupportedAsset, error)
	Liquidity(ctx context.Context, account common.Address) (Liquidity, error)
	MaxBorrow(ctx context.Context, market common.Address) (*uint256.Int, error)
	Position(ctx context.Context) (Position, error)

	Supply(ctx context.Context, caller, assetID common.Address, amount *uint256.Int) error
	EnterMarket(ctx context.Context, assetID common.Address) error
	ExitMarket(ctx context.Context, caller, assetID common.Address) error
	Borrow(ctx context.Context, caller, collateralAsset, market common.Address, decimals uint8, amount *uint256.Int) error
	BorrowMax(ctx context.Context, caller, market common.Address, decimals uint8) (*uint256.Int, error)
	Repay(ctx context.Context, caller, assetID, market common.Address, amount *uint256.Int) (*uint256.Int, error)
	Redeem(ctx context.Context, caller, assetID common.Address, amount *uint256.Int) error
	Withdraw(ctx context.Context, caller, token common.Address, amount *uint256.Int) error

	LiquidationParams(ctx context.Context) (LiquidationParams, error)
	QuoteLiquidation(ctx context.Context, target, repayMarket, seizeMarket common.Address, amount *uint256.Int) (LiquidationQuote, error)
	Liquidate(ctx context.Context, caller, target, repayAsset, repayMarket, seizeMarket common.Address, amount *uint256.Int) (lending.LiquidationResult, error)
	RedeemSeized(ctx context.Context, caller, market common.Address, shares *uint256.Int) (*uint256.Int, error)
}

// Liquidity is the liquidity quote of a resolved account.
type Liquidity struct {
	Account common.Address
	lending.LiquidityQuote
}

// Balance is the position's standing in one registered market.
type Balance struct {
	Asset    lending.SupportedAsset
	Shares   *uint256.Int
	Supplied *uint256.Int
	Borrowed *uint256.Int
	Entered  bool
}

// Position aggregates everything the service reports about the engine's
// position.
type Position struct {
	Owner        common.Address
	Custody      common.Address
	State        lending.PositionState
	Quote        lending.LiquidityQuote
	HealthFactor *uint256.Int
	Balances     []Balance
}

// LiquidationParams are the protocol-wide liquidation knobs plus the account
// that receives seized shares.
type LiquidationParams struct {
	CloseFactor          *uint256.Int
	LiquidationIncentive *uint256.Int
	Custody              common.Address
}

// LiquidationQuote reports a target's standing and the seize figures for a
// candidate repay amount. Seize fields are nil when no amount was given.
type LiquidationQuote struct {
	Quote          lending.LiquidityQuote
	MaxRepay       *uint256.Int
	SeizeTokens    *uint256.Int
	EstimatedSeize *uint256.Int
}
