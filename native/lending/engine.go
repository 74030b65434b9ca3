package lending

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/fixedpoint"
)

// Engine drives the lending lifecycle of a single position held at the custody
// address. The owner is the only caller allowed to move value out of custody
// or to take on debt; anybody may add collateral or repay.
type Engine struct {
	owner    common.Address
	custody  common.Address
	registry *Registry
	backend  Backend
	accessor *Accessor
	risk     *RiskCalculator
	logger   *slog.Logger
	observer Observer
}

// NewEngine wires an engine for the position at custody.
func NewEngine(owner, custody common.Address, registry *Registry, backend Backend) (*Engine, error) {
	if registry == nil {
		return nil, errNilRegistry
	}
	if err := backend.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		owner:    owner,
		custody:  custody,
		registry: registry,
		backend:  backend,
		accessor: NewAccessor(custody, registry, backend),
		risk:     NewRiskCalculator(backend),
		logger:   slog.Default(),
		observer: nopObserver{},
	}, nil
}

// SetLogger replaces the structured logger used for operation records.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// SetObserver wires a metrics sink.
func (e *Engine) SetObserver(observer Observer) {
	if e == nil {
		return
	}
	if observer == nil {
		observer = nopObserver{}
	}
	e.observer = observer
}

func (e *Engine) Owner() common.Address           { return e.owner }
func (e *Engine) Custody() common.Address         { return e.custody }
func (e *Engine) Registry() *Registry             { return e.registry }
func (e *Engine) Accessor() *Accessor             { return e.accessor }
func (e *Engine) RiskCalculator() *RiskCalculator { return e.risk }

// RegisterAsset maps assetID to market after checking with the ledger that the
// market really accepts the asset. The token precision is captured once.
func (e *Engine) RegisterAsset(ctx context.Context, caller, assetID, market common.Address) (asset SupportedAsset, err error) {
	defer func() { err = e.finish("register_asset", err, "asset", assetID, "market", market) }()
	if caller != e.registry.Owner() {
		return SupportedAsset{}, ErrUnauthorized
	}
	if err := ctx.Err(); err != nil {
		return SupportedAsset{}, err
	}
	if err := e.checkUnderlying(ctx, market, assetID); err != nil {
		return SupportedAsset{}, err
	}
	decimals, err := e.backend.Tokens.Decimals(ctx, assetID)
	if err != nil {
		return SupportedAsset{}, ledgerErr("decimals", err)
	}
	asset = SupportedAsset{AssetID: assetID, Market: market, Decimals: decimals}
	if err := e.registry.Register(caller, asset); err != nil {
		return SupportedAsset{}, err
	}
	return asset, nil
}

// Supply pulls amount of assetID from caller into custody and deposits it in
// the asset's market. The deposit does not count as collateral until
// EnterMarket is called.
func (e *Engine) Supply(ctx context.Context, caller, assetID common.Address, amount *uint256.Int) (err error) {
	defer func() { err = e.finish("supply", err, "caller", caller, "asset", assetID, "amount", amount) }()
	if err := checkAmount(amount); err != nil {
		return err
	}
	asset, err := e.registry.Resolve(assetID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.pull(ctx, assetID, caller, amount); err != nil {
		return err
	}
	if err := e.backend.Tokens.Approve(ctx, assetID, e.custody, asset.Market, amount); err != nil {
		return e.refund(ctx, assetID, caller, amount, transferErr("approve", err))
	}
	if err := e.backend.Market.Mint(ctx, e.custody, asset.Market, amount); err != nil {
		return e.refund(ctx, assetID, caller, amount, ledgerErr("mint", err))
	}
	return nil
}

// EnterMarket marks the asset's market as collateral for the position.
// Entering an already entered market is a no-op.
func (e *Engine) EnterMarket(ctx context.Context, assetID common.Address) (err error) {
	defer func() { err = e.finish("enter_market", err, "asset", assetID) }()
	asset, err := e.registry.Resolve(assetID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.backend.Market.EnterMarkets(ctx, e.custody, asset.Market); err != nil {
		return ledgerErr("enter markets", err)
	}
	return nil
}

// ExitMarket removes the asset's market from the position's collateral set.
// The ledger refuses while the exit would leave a shortfall or debt remains.
func (e *Engine) ExitMarket(ctx context.Context, caller, assetID common.Address) (err error) {
	defer func() { err = e.finish("exit_market", err, "caller", caller, "asset", assetID) }()
	if err := e.checkOwner(caller); err != nil {
		return err
	}
	asset, err := e.registry.Resolve(assetID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.backend.Market.ExitMarket(ctx, e.custody, asset.Market); err != nil {
		return ledgerErr("exit market", err)
	}
	return nil
}

// Borrow draws amount from borrowMarket against collateral already supplied in
// collateralAsset. decimals must match the borrowed token. Proceeds stay in
// custody until the owner withdraws them.
func (e *Engine) Borrow(ctx context.Context, caller, collateralAsset, borrowMarket common.Address, decimals uint8, amount *uint256.Int) (err error) {
	defer func() {
		err = e.finish("borrow", err, "caller", caller, "collateral", collateralAsset, "market", borrowMarket, "amount", amount)
	}()
	if err := e.checkOwner(caller); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if _, err := e.registry.Resolve(collateralAsset); err != nil {
		return err
	}
	if err := e.checkDecimals(ctx, borrowMarket, decimals); err != nil {
		return err
	}
	limit, err := e.currentBorrowLimit(ctx, borrowMarket)
	if err != nil {
		return err
	}
	if amount.Gt(limit) {
		return fmt.Errorf("%w: requested %s, limit %s", ErrInsufficientLiquidity, amount.Dec(), limit.Dec())
	}
	return e.submitBorrow(ctx, borrowMarket, amount)
}

// BorrowMax borrows the full limit computed immediately before submission and
// returns the amount drawn. A race with another ledger mutation surfaces as
// ErrLedgerRejected; nothing is retried.
func (e *Engine) BorrowMax(ctx context.Context, caller, borrowMarket common.Address, decimals uint8) (amount *uint256.Int, err error) {
	defer func() { err = e.finish("borrow_max", err, "caller", caller, "market", borrowMarket, "amount", amount) }()
	if err := e.checkOwner(caller); err != nil {
		return nil, err
	}
	if err := e.checkDecimals(ctx, borrowMarket, decimals); err != nil {
		return nil, err
	}
	limit, err := e.currentBorrowLimit(ctx, borrowMarket)
	if err != nil {
		return nil, err
	}
	if limit.IsZero() {
		return nil, fmt.Errorf("%w: no borrowing power", ErrInsufficientLiquidity)
	}
	if err := e.submitBorrow(ctx, borrowMarket, limit); err != nil {
		return nil, err
	}
	return limit, nil
}

// Repay pulls up to amount of assetID from caller and repays the position's
// debt in borrowMarket. Amounts above the outstanding balance are capped; the
// repaid amount is returned.
func (e *Engine) Repay(ctx context.Context, caller, assetID, borrowMarket common.Address, amount *uint256.Int) (repaid *uint256.Int, err error) {
	defer func() {
		err = e.finish("repay", err, "caller", caller, "asset", assetID, "market", borrowMarket, "amount", repaid)
	}()
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.checkUnderlying(ctx, borrowMarket, assetID); err != nil {
		return nil, err
	}
	if err := e.accessor.Accrue(ctx, borrowMarket); err != nil {
		return nil, err
	}
	owed, err := e.accessor.BorrowedBalance(ctx, borrowMarket)
	if err != nil {
		return nil, err
	}
	if owed.IsZero() {
		return nil, fmt.Errorf("%w: nothing owed in %s", ErrLedgerRejected, borrowMarket.Hex())
	}
	repaid = fixedpoint.Min(amount, owed)
	if err := e.pull(ctx, assetID, caller, repaid); err != nil {
		return nil, err
	}
	if err := e.backend.Tokens.Approve(ctx, assetID, e.custody, borrowMarket, repaid); err != nil {
		return nil, e.refund(ctx, assetID, caller, repaid, transferErr("approve", err))
	}
	if err := e.backend.Market.RepayBorrow(ctx, e.custody, borrowMarket, repaid); err != nil {
		return nil, e.refund(ctx, assetID, caller, repaid, ledgerErr("repay borrow", err))
	}
	return repaid, nil
}

// RedeemUnderlying withdraws amount of assetID from its market and hands it to
// the owner. The ledger rejects a redemption that would create a shortfall.
// Once the redemption commits the call succeeds; a failed payout leaves the
// proceeds in custody for Withdraw.
func (e *Engine) RedeemUnderlying(ctx context.Context, caller, assetID common.Address, amount *uint256.Int) (err error) {
	defer func() { err = e.finish("redeem", err, "caller", caller, "asset", assetID, "amount", amount) }()
	if err := e.checkOwner(caller); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	asset, err := e.registry.Resolve(assetID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.backend.Market.RedeemUnderlying(ctx, e.custody, asset.Market, amount); err != nil {
		return ledgerErr("redeem underlying", err)
	}
	if err := e.backend.Tokens.Transfer(ctx, assetID, e.custody, e.owner, amount); err != nil {
		// The redemption has committed; the proceeds stay in custody for Withdraw.
		e.logger.Error("lending redeem payout failed", "asset", assetID, "amount", amount, "custody", e.custody, "error", err)
	}
	return nil
}

// Withdraw moves tokens held in custody, such as borrow proceeds, to the owner.
func (e *Engine) Withdraw(ctx context.Context, caller, token common.Address, amount *uint256.Int) (err error) {
	defer func() { err = e.finish("withdraw", err, "caller", caller, "token", token, "amount", amount) }()
	if err := e.checkOwner(caller); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.backend.Tokens.Transfer(ctx, token, e.custody, e.owner, amount); err != nil {
		return transferErr("transfer to owner", err)
	}
	return nil
}

// AccountLiquidity returns the position's current liquidity quote.
func (e *Engine) AccountLiquidity(ctx context.Context) (LiquidityQuote, error) {
	return e.risk.AccountLiquidity(ctx, e.custody)
}

// MaxBorrowAmount returns the position's borrow limit in borrowMarket.
func (e *Engine) MaxBorrowAmount(ctx context.Context, borrowMarket common.Address) (*uint256.Int, error) {
	return e.risk.MaxBorrowAmount(ctx, e.custody, borrowMarket)
}

// State derives the lifecycle stage of the position from ledger balances.
func (e *Engine) State(ctx context.Context) (PositionState, error) {
	entered, err := e.accessor.EnteredMarkets(ctx)
	if err != nil {
		return StateNoPosition, err
	}
	inMarket := make(map[common.Address]bool, len(entered))
	markets := make([]common.Address, 0, len(entered))
	for _, market := range entered {
		inMarket[market] = true
		markets = append(markets, market)
	}
	for _, asset := range e.registry.Assets() {
		if !inMarket[asset.Market] {
			markets = append(markets, asset.Market)
		}
	}
	state := StateNoPosition
	for _, market := range markets {
		snap, err := e.accessor.Snapshot(ctx, market)
		if err != nil {
			return StateNoPosition, err
		}
		switch {
		case !snap.Borrowed.IsZero():
			return StateBorrowed, nil
		case snap.Shares.IsZero():
		case inMarket[market]:
			state = StateInMarket
		case state == StateNoPosition:
			state = StateSupplied
		}
	}
	return state, nil
}

// currentBorrowLimit accrues borrowMarket before quoting. The ledger accrues
// the borrowed market ahead of its own liquidity check and values every other
// market at its stored exchange rate, so the quote matches what it enforces.
func (e *Engine) currentBorrowLimit(ctx context.Context, borrowMarket common.Address) (*uint256.Int, error) {
	if err := e.accessor.Accrue(ctx, borrowMarket); err != nil {
		return nil, err
	}
	return e.risk.MaxBorrowAmount(ctx, e.custody, borrowMarket)
}

func (e *Engine) submitBorrow(ctx context.Context, market common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.backend.Market.Borrow(ctx, e.custody, market, amount); err != nil {
		return ledgerErr("borrow", err)
	}
	return nil
}

func (e *Engine) pull(ctx context.Context, token, from common.Address, amount *uint256.Int) error {
	if err := e.backend.Tokens.TransferFrom(ctx, token, e.custody, from, e.custody, amount); err != nil {
		return transferErr("transfer from", err)
	}
	return nil
}

// refund returns pulled tokens after a later step failed and reports cause.
func (e *Engine) refund(ctx context.Context, token, to common.Address, amount *uint256.Int, cause error) error {
	if err := e.backend.Tokens.Transfer(ctx, token, e.custody, to, amount); err != nil {
		e.logger.Error("lending refund failed", "token", token, "to", to, "amount", amount, "error", err)
		return fmt.Errorf("%w (refund failed: %v)", cause, err)
	}
	return cause
}

func (e *Engine) checkOwner(caller common.Address) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) checkUnderlying(ctx context.Context, market, assetID common.Address) error {
	underlying, err := e.backend.Market.Underlying(ctx, market)
	if err != nil {
		return ledgerErr("underlying", err)
	}
	if underlying != assetID {
		return fmt.Errorf("%w: market %s does not accept %s", ErrUnknownAsset, market.Hex(), assetID.Hex())
	}
	return nil
}

func (e *Engine) checkDecimals(ctx context.Context, market common.Address, decimals uint8) error {
	actual, err := e.risk.marketDecimals(ctx, market)
	if err != nil {
		return err
	}
	if actual != decimals {
		return fmt.Errorf("%w: market %s uses %d decimals, not %d", ErrInvalidAmount, market.Hex(), actual, decimals)
	}
	return nil
}

func (e *Engine) finish(op string, err error, attrs ...any) error {
	e.observer.ObserveOperation(op, err)
	if err != nil {
		e.logger.Warn("lending operation failed", append([]any{"op", op, "error", err}, attrs...)...)
		return err
	}
	e.logger.Info("lending operation", append([]any{"op", op}, attrs...)...)
	return nil
}

func checkAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}
