package compound

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/fixedpoint"
	"mmlink/native/lending"
)

// ShareDecimals is the precision of market shares.
const ShareDecimals = 8

// MarketConfig lists a market for an existing token.
type MarketConfig struct {
	Underlying common.Address
	// CollateralFactor defaults to zero, i.e. not usable as collateral.
	CollateralFactor *uint256.Int
	ReserveFactor    *uint256.Int
	// InitialExchangeRate defaults to 0.02 underlying per share, scaled for
	// the token and share precisions.
	InitialExchangeRate *uint256.Int
	// Model defaults to DefaultInterestModel.
	Model *InterestModel
	// Price is the initial oracle quote; zero leaves the market unpriced.
	Price *uint256.Int
}

type borrowSnapshot struct {
	principal *uint256.Int
	index     *uint256.Int
}

type market struct {
	address    common.Address
	underlying common.Address
	decimals   uint8

	model            *InterestModel
	collateralFactor *uint256.Int
	reserveFactor    *uint256.Int
	initialRate      *uint256.Int
	price            *uint256.Int

	totalSupply   *uint256.Int
	totalBorrows  *uint256.Int
	totalReserves *uint256.Int
	borrowIndex   *uint256.Int
	accrualBlock  uint64

	shares  map[common.Address]*uint256.Int
	borrows map[common.Address]borrowSnapshot

	mintPaused   bool
	borrowPaused bool
}

// ListMarket creates the market for cfg.Underlying and returns its address.
func (p *Protocol) ListMarket(cfg MarketConfig) (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.token(cfg.Underlying)
	if err != nil {
		return common.Address{}, err
	}
	for _, m := range p.markets {
		if m.underlying == cfg.Underlying {
			return common.Address{}, fmt.Errorf("%w: %s", ErrMarketExists, t.symbol)
		}
	}
	m := &market{
		underlying:       cfg.Underlying,
		decimals:         t.decimals,
		model:            cfg.Model,
		collateralFactor: orZero(cfg.CollateralFactor),
		reserveFactor:    orZero(cfg.ReserveFactor),
		initialRate:      cfg.InitialExchangeRate,
		price:            orZero(cfg.Price),
		totalSupply:      fixedpoint.Zero(),
		totalBorrows:     fixedpoint.Zero(),
		totalReserves:    fixedpoint.Zero(),
		borrowIndex:      fixedpoint.One(),
		accrualBlock:     p.block,
		shares:           make(map[common.Address]*uint256.Int),
		borrows:          make(map[common.Address]borrowSnapshot),
	}
	if m.model == nil {
		m.model = DefaultInterestModel
	}
	if m.collateralFactor.Gt(fixedpoint.Scale) || m.reserveFactor.Gt(fixedpoint.Scale) {
		return common.Address{}, fmt.Errorf("%w: factor above 1", ErrInvalidParameter)
	}
	if m.initialRate == nil {
		if m.initialRate, err = fixedpoint.Units(2, t.decimals+18-ShareDecimals-2); err != nil {
			return common.Address{}, err
		}
	}
	if m.initialRate.IsZero() {
		return common.Address{}, fmt.Errorf("%w: zero exchange rate", ErrInvalidParameter)
	}
	m.address = p.nextAddress()
	p.markets[m.address] = m
	p.marketOrder = append(p.marketOrder, m.address)
	return m.address, nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return fixedpoint.Zero()
	}
	return new(uint256.Int).Set(v)
}

func (p *Protocol) cash(m *market) *uint256.Int {
	return p.tokens[m.underlying].balance(m.address)
}

// accrue applies simple interest for the blocks elapsed since the market was
// last touched. On error the market is left untouched.
func (p *Protocol) accrue(m *market) error {
	delta := p.block - m.accrualBlock
	if delta == 0 {
		return nil
	}
	if m.totalBorrows.IsZero() {
		m.accrualBlock = p.block
		return nil
	}
	rate, err := m.model.BorrowRate(p.cash(m), m.totalBorrows, m.totalReserves)
	if err != nil {
		return err
	}
	factor, overflow := new(uint256.Int).MulOverflow(rate, uint256.NewInt(delta))
	if overflow {
		return fmt.Errorf("accrue interest: %w", fixedpoint.ErrOverflow)
	}
	interest, err := fixedpoint.MulExp(factor, m.totalBorrows)
	if err != nil {
		return fmt.Errorf("accrue interest: %w", err)
	}
	reserves, err := fixedpoint.MulExp(interest, m.reserveFactor)
	if err != nil {
		return fmt.Errorf("accrue reserves: %w", err)
	}
	indexDelta, err := fixedpoint.MulExp(factor, m.borrowIndex)
	if err != nil {
		return fmt.Errorf("accrue borrow index: %w", err)
	}
	m.accrualBlock = p.block
	m.totalBorrows = new(uint256.Int).Add(m.totalBorrows, interest)
	m.totalReserves = new(uint256.Int).Add(m.totalReserves, reserves)
	m.borrowIndex = new(uint256.Int).Add(m.borrowIndex, indexDelta)
	return nil
}

func (p *Protocol) exchangeRate(m *market) *uint256.Int {
	if m.totalSupply.IsZero() {
		return new(uint256.Int).Set(m.initialRate)
	}
	backing := new(uint256.Int).Add(p.cash(m), m.totalBorrows)
	backing = fixedpoint.SaturatingSub(backing, m.totalReserves)
	rate, err := fixedpoint.DivExp(backing, m.totalSupply)
	if err != nil {
		return new(uint256.Int).Set(m.initialRate)
	}
	return rate
}

func (m *market) shareBalance(account common.Address) *uint256.Int {
	if s, ok := m.shares[account]; ok {
		return new(uint256.Int).Set(s)
	}
	return fixedpoint.Zero()
}

func (m *market) borrowBalance(account common.Address) *uint256.Int {
	snap, ok := m.borrows[account]
	if !ok || snap.principal.IsZero() {
		return fixedpoint.Zero()
	}
	bal, err := fixedpoint.MulDiv(snap.principal, m.borrowIndex, snap.index)
	if err != nil {
		return new(uint256.Int).Set(snap.principal)
	}
	return bal
}

func (m *market) setBorrow(account common.Address, balance *uint256.Int) {
	if balance.IsZero() {
		delete(m.borrows, account)
		return
	}
	m.borrows[account] = borrowSnapshot{principal: balance, index: new(uint256.Int).Set(m.borrowIndex)}
}

// Mint deposits amount of the underlying from account, which must have
// approved the market, in exchange for shares at the current rate.
func (p *Protocol) Mint(ctx context.Context, account, marketAddr common.Address, amount *uint256.Int) error {
	if err := p.begin(ctx); err != nil {
		return err
	}
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return err
	}
	if err := checkPositive(amount); err != nil {
		return err
	}
	if m.mintPaused {
		return fmt.Errorf("%w: mint", ErrPaused)
	}
	if err := p.accrue(m); err != nil {
		return err
	}
	shares, err := fixedpoint.DivExp(amount, p.exchangeRate(m))
	if err != nil {
		return err
	}
	if shares.IsZero() {
		return ErrZeroShares
	}
	t := p.tokens[m.underlying]
	if err := t.checkTransferFrom(marketAddr, account, amount); err != nil {
		return err
	}
	t.spend(account, marketAddr, amount)
	t.move(account, marketAddr, amount)
	m.shares[account] = new(uint256.Int).Add(m.shareBalance(account), shares)
	m.totalSupply = new(uint256.Int).Add(m.totalSupply, shares)
	return nil
}

// Redeem burns shares and pays the underlying to account.
func (p *Protocol) Redeem(ctx context.Context, account, marketAddr common.Address, shares *uint256.Int) error {
	if err := p.begin(ctx); err != nil {
		return err
	}
	defer p.mu.Unlock()
	return p.redeem(account, marketAddr, shares, nil)
}

// RedeemUnderlying burns the shares worth amount, truncating, and pays amount
// to account.
func (p *Protocol) RedeemUnderlying(ctx context.Context, account, marketAddr common.Address, amount *uint256.Int) error {
	if err := p.begin(ctx); err != nil {
		return err
	}
	defer p.mu.Unlock()
	return p.redeem(account, marketAddr, nil, amount)
}

func (p *Protocol) redeem(account, marketAddr common.Address, shares, amount *uint256.Int) error {
	m, err := p.market(marketAddr)
	if err != nil {
		return err
	}
	if err := p.accrue(m); err != nil {
		return err
	}
	rate := p.exchangeRate(m)
	if shares != nil {
		if err := checkPositive(shares); err != nil {
			return err
		}
		if amount, err = fixedpoint.MulExp(shares, rate); err != nil {
			return err
		}
	} else {
		if err := checkPositive(amount); err != nil {
			return err
		}
		if shares, err = fixedpoint.DivExp(amount, rate); err != nil {
			return err
		}
	}
	if shares.IsZero() {
		return ErrZeroShares
	}
	if m.shareBalance(account).Lt(shares) {
		return fmt.Errorf("%w: shares", ErrInsufficientBalance)
	}
	if p.cash(m).Lt(amount) {
		return ErrInsufficientCash
	}
	if p.isMember(account, marketAddr) {
		_, shortfall, err := p.hypotheticalLiquidity(account, p.membership[account], marketAddr, shares, nil)
		if err != nil {
			return err
		}
		if !shortfall.IsZero() {
			return ErrInsufficientLiquidity
		}
	}
	m.shares[account] = new(uint256.Int).Sub(m.shareBalance(account), shares)
	m.totalSupply = new(uint256.Int).Sub(m.totalSupply, shares)
	p.tokens[m.underlying].move(marketAddr, account, amount)
	return nil
}

// Borrow lends amount of the underlying to account, entering the market on
// its behalf if needed.
func (p *Protocol) Borrow(ctx context.Context, account, marketAddr common.Address, amount *uint256.Int) error {
	if err := p.begin(ctx); err != nil {
		return err
	}
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return err
	}
	if err := checkPositive(amount); err != nil {
		return err
	}
	if m.borrowPaused {
		return fmt.Errorf("%w: borrow", ErrPaused)
	}
	if m.price.IsZero() {
		return ErrPriceError
	}
	if err := p.accrue(m); err != nil {
		return err
	}
	if p.cash(m).Lt(amount) {
		return ErrInsufficientCash
	}
	member := p.isMember(account, marketAddr)
	markets := p.membership[account]
	if !member {
		markets = append(append([]common.Address(nil), markets...), marketAddr)
	}
	_, shortfall, err := p.hypotheticalLiquidity(account, markets, marketAddr, nil, amount)
	if err != nil {
		return err
	}
	if !shortfall.IsZero() {
		return ErrInsufficientLiquidity
	}
	if !member {
		p.membership[account] = markets
	}
	m.setBorrow(account, new(uint256.Int).Add(m.borrowBalance(account), amount))
	m.totalBorrows = new(uint256.Int).Add(m.totalBorrows, amount)
	p.tokens[m.underlying].move(marketAddr, account, amount)
	return nil
}

// RepayBorrow repays amount of account's debt from account's own tokens. The
// account must have approved the market.
func (p *Protocol) RepayBorrow(ctx context.Context, account, marketAddr common.Address, amount *uint256.Int) error {
	if err := p.begin(ctx); err != nil {
		return err
	}
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return err
	}
	if err := checkPositive(amount); err != nil {
		return err
	}
	if err := p.accrue(m); err != nil {
		return err
	}
	balance := m.borrowBalance(account)
	if amount.Gt(balance) {
		return ErrRepayExceedsBorrow
	}
	t := p.tokens[m.underlying]
	if err := t.checkTransferFrom(marketAddr, account, amount); err != nil {
		return err
	}
	t.spend(account, marketAddr, amount)
	t.move(account, marketAddr, amount)
	m.setBorrow(account, new(uint256.Int).Sub(balance, amount))
	m.totalBorrows = fixedpoint.SaturatingSub(m.totalBorrows, amount)
	return nil
}

// AccrueInterest brings market's interest up to the current block.
func (p *Protocol) AccrueInterest(ctx context.Context, marketAddr common.Address) error {
	if err := p.begin(ctx); err != nil {
		return err
	}
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return err
	}
	return p.accrue(m)
}

// AccountSnapshot returns stored balances without accruing.
func (p *Protocol) AccountSnapshot(_ context.Context, account, marketAddr common.Address) (lending.AccountSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return lending.AccountSnapshot{}, err
	}
	return lending.AccountSnapshot{
		Shares:       m.shareBalance(account),
		Borrowed:     m.borrowBalance(account),
		ExchangeRate: p.exchangeRate(m),
	}, nil
}

func (p *Protocol) Underlying(_ context.Context, marketAddr common.Address) (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return common.Address{}, err
	}
	return m.underlying, nil
}

func (p *Protocol) ExchangeRateStored(_ context.Context, marketAddr common.Address) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return nil, err
	}
	return p.exchangeRate(m), nil
}

func (p *Protocol) BorrowRatePerBlock(_ context.Context, marketAddr common.Address) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return nil, err
	}
	return m.model.BorrowRate(p.cash(m), m.totalBorrows, m.totalReserves)
}

func (p *Protocol) SupplyRatePerBlock(_ context.Context, marketAddr common.Address) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return nil, err
	}
	return m.model.SupplyRate(p.cash(m), m.totalBorrows, m.totalReserves, m.reserveFactor)
}

func (p *Protocol) CollateralFactor(_ context.Context, marketAddr common.Address) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(m.collateralFactor), nil
}

func checkPositive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}
