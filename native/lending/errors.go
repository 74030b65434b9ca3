package lending

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized          = errors.New("lending: unauthorized")
	ErrUnknownAsset          = errors.New("lending: unknown asset")
	ErrAlreadyRegistered     = errors.New("lending: asset already registered")
	ErrInsufficientLiquidity = errors.New("lending: insufficient liquidity")
	ErrExceedsCloseFactor    = errors.New("lending: repay amount exceeds close factor")
	ErrPriceUnavailable      = errors.New("lending: price unavailable")
	ErrTransferFailed        = errors.New("lending: token transfer failed")
	ErrLedgerRejected        = errors.New("lending: money market rejected call")
	ErrInvalidAmount         = errors.New("lending: amount must be positive")
	ErrNotLiquidatable       = errors.New("lending: target has no shortfall")

	errNilBackend  = errors.New("lending: backend not configured")
	errNilRegistry = errors.New("lending: registry not configured")
)

func ledgerErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLedgerRejected, op, err)
}

func transferErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransferFailed, op, err)
}

func priceErr(err error) error {
	return fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
}
