package compound

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/fixedpoint"
)

type token struct {
	symbol     string
	decimals   uint8
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

func newToken(symbol string, decimals uint8) *token {
	return &token{
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (t *token) balance(account common.Address) *uint256.Int {
	if b, ok := t.balances[account]; ok {
		return new(uint256.Int).Set(b)
	}
	return fixedpoint.Zero()
}

func (t *token) allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return new(uint256.Int).Set(a)
	}
	return fixedpoint.Zero()
}

func (t *token) checkTransfer(from common.Address, amount *uint256.Int) error {
	if t.balance(from).Lt(amount) {
		return fmt.Errorf("%w: %s of %s", ErrInsufficientBalance, t.symbol, from.Hex())
	}
	return nil
}

func (t *token) checkTransferFrom(spender, owner common.Address, amount *uint256.Int) error {
	if t.allowance(owner, spender).Lt(amount) {
		return fmt.Errorf("%w: %s spender %s", ErrInsufficientAllowance, t.symbol, spender.Hex())
	}
	return t.checkTransfer(owner, amount)
}

// move assumes checkTransfer passed.
func (t *token) move(from, to common.Address, amount *uint256.Int) {
	t.balances[from] = new(uint256.Int).Sub(t.balance(from), amount)
	t.balances[to] = new(uint256.Int).Add(t.balance(to), amount)
}

func (t *token) spend(owner, spender common.Address, amount *uint256.Int) {
	t.setAllowance(owner, spender, new(uint256.Int).Sub(t.allowance(owner, spender), amount))
}

func (t *token) setAllowance(owner, spender common.Address, amount *uint256.Int) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*uint256.Int)
	}
	t.allowances[owner][spender] = new(uint256.Int).Set(amount)
}

// DeployToken creates a token with the given precision and returns its
// address.
func (p *Protocol) DeployToken(symbol string, decimals uint8) (common.Address, error) {
	if decimals > fixedpoint.MaxDecimals {
		return common.Address{}, fmt.Errorf("%w: decimals %d", ErrInvalidParameter, decimals)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	addr := p.nextAddress()
	p.tokens[addr] = newToken(symbol, decimals)
	return addr, nil
}

// Faucet mints amount of tokenAddr to account.
func (p *Protocol) Faucet(tokenAddr, account common.Address, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.token(tokenAddr)
	if err != nil {
		return err
	}
	next, err := fixedpoint.Add(t.balance(account), amount)
	if err != nil {
		return err
	}
	t.balances[account] = next
	return nil
}

func (p *Protocol) Transfer(ctx context.Context, tokenAddr, from, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.token(tokenAddr)
	if err != nil {
		return err
	}
	if err := t.checkTransfer(from, amount); err != nil {
		return err
	}
	t.move(from, to, amount)
	return nil
}

func (p *Protocol) TransferFrom(ctx context.Context, tokenAddr, spender, owner, recipient common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.token(tokenAddr)
	if err != nil {
		return err
	}
	if err := t.checkTransferFrom(spender, owner, amount); err != nil {
		return err
	}
	t.spend(owner, spender, amount)
	t.move(owner, recipient, amount)
	return nil
}

// Approve sets the allowance of spender over owner's tokens, replacing any
// previous value.
func (p *Protocol) Approve(ctx context.Context, tokenAddr, owner, spender common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.token(tokenAddr)
	if err != nil {
		return err
	}
	t.setAllowance(owner, spender, amount)
	return nil
}

func (p *Protocol) BalanceOf(_ context.Context, tokenAddr, account common.Address) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.token(tokenAddr)
	if err != nil {
		return nil, err
	}
	return t.balance(account), nil
}

func (p *Protocol) Decimals(_ context.Context, tokenAddr common.Address) (uint8, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, err := p.token(tokenAddr)
	if err != nil {
		return 0, err
	}
	return t.decimals, nil
}

func (p *Protocol) token(addr common.Address) (*token, error) {
	t, ok := p.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return t, nil
}
