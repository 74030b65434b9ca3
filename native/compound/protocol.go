// Package compound is an in-process money market with Compound v2 semantics:
// share-based supply, index-based borrow balances, an opt-in collateral set,
// a close factor and a liquidation incentive. It backs the lending engine in
// tests and in the daemon's sim mode.
//
// One mutex orders every call, so each call behaves as a single transaction.
// Mutating calls validate everything before they touch state; a failed call
// leaves no trace except interest accrual, which is a state change of its own.
package compound

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"mmlink/native/fixedpoint"
	"mmlink/native/lending"
)

var (
	_ lending.MoneyMarket = (*Protocol)(nil)
	_ lending.PriceOracle = (*Protocol)(nil)
	_ lending.TokenLedger = (*Protocol)(nil)
)

// Config carries protocol-wide risk parameters as 18-decimal mantissas.
type Config struct {
	// Deployer seeds token and market addresses.
	Deployer common.Address
	// CloseFactor defaults to 0.5.
	CloseFactor *uint256.Int
	// LiquidationIncentive defaults to 1.08.
	LiquidationIncentive *uint256.Int
}

// Protocol is the simulated money market, oracle and token ledger.
type Protocol struct {
	mu sync.Mutex

	deployer common.Address
	nonce    uint64
	block    uint64

	tokens      map[common.Address]*token
	markets     map[common.Address]*market
	marketOrder []common.Address

	closeFactor          *uint256.Int
	liquidationIncentive *uint256.Int
	membership           map[common.Address][]common.Address
}

// New returns an empty protocol at block 1.
func New(cfg Config) (*Protocol, error) {
	closeFactor := cfg.CloseFactor
	if closeFactor == nil {
		closeFactor = fixedpoint.MustUnits(5, 17)
	}
	incentive := cfg.LiquidationIncentive
	if incentive == nil {
		incentive = fixedpoint.MustUnits(108, 16)
	}
	if closeFactor.IsZero() || closeFactor.Gt(fixedpoint.Scale) {
		return nil, fmt.Errorf("%w: close factor %s", ErrInvalidParameter, closeFactor.Dec())
	}
	if incentive.Lt(fixedpoint.Scale) {
		return nil, fmt.Errorf("%w: liquidation incentive %s", ErrInvalidParameter, incentive.Dec())
	}
	return &Protocol{
		deployer:             cfg.Deployer,
		block:                1,
		tokens:               make(map[common.Address]*token),
		markets:              make(map[common.Address]*market),
		closeFactor:          new(uint256.Int).Set(closeFactor),
		liquidationIncentive: new(uint256.Int).Set(incentive),
		membership:           make(map[common.Address][]common.Address),
	}, nil
}

func (p *Protocol) nextAddress() common.Address {
	addr := crypto.CreateAddress(p.deployer, p.nonce)
	p.nonce++
	return addr
}

// BlockNumber returns the current block.
func (p *Protocol) BlockNumber() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.block
}

// AdvanceBlocks moves the chain forward n blocks. Interest for the elapsed
// blocks is applied lazily by the next call touching each market.
func (p *Protocol) AdvanceBlocks(n uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.block += n
}

// SetPrice sets the oracle quote for market in USD per whole unit with 18
// decimals. A zero price makes the market unpriceable.
func (p *Protocol) SetPrice(marketAddr common.Address, price *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return err
	}
	m.price = new(uint256.Int).Set(price)
	return nil
}

func (p *Protocol) SetCollateralFactor(marketAddr common.Address, factor *uint256.Int) error {
	if factor.Gt(fixedpoint.Scale) {
		return fmt.Errorf("%w: collateral factor %s", ErrInvalidParameter, factor.Dec())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return err
	}
	m.collateralFactor = new(uint256.Int).Set(factor)
	return nil
}

func (p *Protocol) SetCloseFactor(factor *uint256.Int) error {
	if factor.IsZero() || factor.Gt(fixedpoint.Scale) {
		return fmt.Errorf("%w: close factor %s", ErrInvalidParameter, factor.Dec())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeFactor = new(uint256.Int).Set(factor)
	return nil
}

func (p *Protocol) SetLiquidationIncentive(incentive *uint256.Int) error {
	if incentive.Lt(fixedpoint.Scale) {
		return fmt.Errorf("%w: liquidation incentive %s", ErrInvalidParameter, incentive.Dec())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liquidationIncentive = new(uint256.Int).Set(incentive)
	return nil
}

// SetPaused toggles minting and borrowing for market.
func (p *Protocol) SetPaused(marketAddr common.Address, mint, borrow bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return err
	}
	m.mintPaused, m.borrowPaused = mint, borrow
	return nil
}

// Markets lists market addresses in listing order.
func (p *Protocol) Markets() []common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]common.Address(nil), p.marketOrder...)
}

// UnderlyingPrice implements the oracle. Unpriced markets quote zero.
func (p *Protocol) UnderlyingPrice(_ context.Context, marketAddr common.Address) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(marketAddr)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(m.price), nil
}

func (p *Protocol) CloseFactor(context.Context) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(uint256.Int).Set(p.closeFactor), nil
}

func (p *Protocol) LiquidationIncentive(context.Context) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(uint256.Int).Set(p.liquidationIncentive), nil
}

func (p *Protocol) market(addr common.Address) (*market, error) {
	m, ok := p.markets[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotListed, addr.Hex())
	}
	return m, nil
}

func (p *Protocol) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	return nil
}
