package lending

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MoneyMarket is the external ledger holding supply and borrow balances. Every
// mutating call either commits in full or fails without effect; the ledger
// serializes them into a single transaction order.
type MoneyMarket interface {
	Mint(ctx context.Context, account, market common.Address, amount *uint256.Int) error
	Redeem(ctx context.Context, account, market common.Address, shares *uint256.Int) error
	RedeemUnderlying(ctx context.Context, account, market common.Address, amount *uint256.Int) error
	Borrow(ctx context.Context, account, market common.Address, amount *uint256.Int) error
	RepayBorrow(ctx context.Context, account, market common.Address, amount *uint256.Int) error
	EnterMarkets(ctx context.Context, account common.Address, markets ...common.Address) error
	ExitMarket(ctx context.Context, account, market common.Address) error
	AccrueInterest(ctx context.Context, market common.Address) error
	LiquidateBorrow(ctx context.Context, liquidator, borrower, repayMarket common.Address, repayAmount *uint256.Int, seizeMarket common.Address) error

	AccountSnapshot(ctx context.Context, account, market common.Address) (AccountSnapshot, error)
	AssetsIn(ctx context.Context, account common.Address) ([]common.Address, error)
	Underlying(ctx context.Context, market common.Address) (common.Address, error)
	ExchangeRateStored(ctx context.Context, market common.Address) (*uint256.Int, error)
	BorrowRatePerBlock(ctx context.Context, market common.Address) (*uint256.Int, error)
	SupplyRatePerBlock(ctx context.Context, market common.Address) (*uint256.Int, error)
	CollateralFactor(ctx context.Context, market common.Address) (*uint256.Int, error)
	CloseFactor(ctx context.Context) (*uint256.Int, error)
	LiquidationIncentive(ctx context.Context) (*uint256.Int, error)
	LiquidateCalculateSeizeTokens(ctx context.Context, repayMarket, seizeMarket common.Address, repayAmount *uint256.Int) (*uint256.Int, error)
}

// PriceOracle quotes the USD value of one whole unit of a market's
// underlying asset with 18 decimals, regardless of the asset's precision.
type PriceOracle interface {
	UnderlyingPrice(ctx context.Context, market common.Address) (*uint256.Int, error)
}

// TokenLedger moves underlying tokens between accounts.
type TokenLedger interface {
	Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, token, spender, owner, recipient common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, token, owner, spender common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, token, account common.Address) (*uint256.Int, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// Backend bundles the external collaborators consumed by the engine.
type Backend struct {
	Market MoneyMarket
	Oracle PriceOracle
	Tokens TokenLedger
}

func (b Backend) validate() error {
	if b.Market == nil || b.Oracle == nil || b.Tokens == nil {
		return errNilBackend
	}
	return nil
}

// Observer receives per-operation outcomes for metrics.
type Observer interface {
	ObserveOperation(op string, err error)
	ObserveLiquidation(result LiquidationResult)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, error)        {}
func (nopObserver) ObserveLiquidation(LiquidationResult) {}

// Observers fans each event out to every non-nil observer in order.
func Observers(observers ...Observer) Observer {
	out := make(multiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) ObserveOperation(op string, err error) {
	for _, o := range m {
		o.ObserveOperation(op, err)
	}
}

func (m multiObserver) ObserveLiquidation(result LiquidationResult) {
	for _, o := range m {
		o.ObserveLiquidation(result)
	}
}
