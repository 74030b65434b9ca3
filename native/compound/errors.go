package compound

import "errors"

var (
	ErrUnknownToken          = errors.New("compound: unknown token")
	ErrMarketNotListed       = errors.New("compound: market not listed")
	ErrMarketExists          = errors.New("compound: market already listed for token")
	ErrInvalidAmount         = errors.New("compound: amount must be positive")
	ErrInvalidParameter      = errors.New("compound: invalid parameter")
	ErrInsufficientBalance   = errors.New("compound: insufficient balance")
	ErrInsufficientAllowance = errors.New("compound: insufficient allowance")
	ErrInsufficientCash      = errors.New("compound: insufficient cash")
	ErrInsufficientLiquidity = errors.New("compound: insufficient liquidity")
	ErrInsufficientShortfall = errors.New("compound: insufficient shortfall")
	ErrTooMuchRepay          = errors.New("compound: too much repay")
	ErrRepayExceedsBorrow    = errors.New("compound: repay exceeds borrow balance")
	ErrNonzeroBorrow         = errors.New("compound: nonzero borrow balance")
	ErrSelfLiquidation       = errors.New("compound: liquidator is borrower")
	ErrPaused                = errors.New("compound: paused")
	ErrPriceError            = errors.New("compound: price error")
	ErrZeroShares            = errors.New("compound: amount rounds to zero shares")
)
