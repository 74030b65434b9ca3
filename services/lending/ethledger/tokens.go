package ethledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/fixedpoint"
)

// pricePrecision is the scale of Compound oracle quotes before adjusting for
// the underlying token's decimals.
const pricePrecision = 36

func (l *Ledger) Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error {
	return l.transact(ctx, from, token, erc20Contract, "transfer", to, amount.ToBig())
}

func (l *Ledger) TransferFrom(ctx context.Context, token, spender, owner, recipient common.Address, amount *uint256.Int) error {
	return l.transact(ctx, spender, token, erc20Contract, "transferFrom", owner, recipient, amount.ToBig())
}

func (l *Ledger) Approve(ctx context.Context, token, owner, spender common.Address, amount *uint256.Int) error {
	return l.transact(ctx, owner, token, erc20Contract, "approve", spender, amount.ToBig())
}

func (l *Ledger) BalanceOf(ctx context.Context, token, account common.Address) (*uint256.Int, error) {
	return l.callUint(ctx, token, erc20Contract, "balanceOf", account)
}

// Decimals is cached per token; ERC-20 precision never changes.
func (l *Ledger) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	l.cacheMu.RLock()
	d, ok := l.decimals[token]
	l.cacheMu.RUnlock()
	if ok {
		return d, nil
	}
	out, err := l.call(ctx, token, erc20Contract, "decimals")
	if err != nil {
		return 0, err
	}
	d = out[0].(uint8)
	l.cacheMu.Lock()
	l.decimals[token] = d
	l.cacheMu.Unlock()
	return d, nil
}

// UnderlyingPrice converts the oracle's 1e(36-decimals) quote into USD per
// whole unit with 18 decimals.
func (l *Ledger) UnderlyingPrice(ctx context.Context, market common.Address) (*uint256.Int, error) {
	raw, err := l.callUint(ctx, l.oracle, oracleContract, "getUnderlyingPrice", market)
	if err != nil {
		return nil, err
	}
	underlying, err := l.Underlying(ctx, market)
	if err != nil {
		return nil, err
	}
	decimals, err := l.Decimals(ctx, underlying)
	if err != nil {
		return nil, err
	}
	if decimals > pricePrecision {
		return nil, fmt.Errorf("token %s precision %d above oracle scale", underlying.Hex(), decimals)
	}
	return fixedpoint.Rescale(raw, pricePrecision-decimals, fixedpoint.Decimals)
}
