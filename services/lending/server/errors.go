package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"mmlink/native/lending"
)

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, lending.ErrUnauthorized):
		return status.Errorf(codes.PermissionDenied, "unauthorized")
	case errors.Is(err, lending.ErrInvalidAmount):
		return status.Errorf(codes.InvalidArgument, "invalid amount")
	case errors.Is(err, lending.ErrUnknownAsset):
		return status.Errorf(codes.NotFound, "unknown asset")
	case errors.Is(err, lending.ErrAlreadyRegistered):
		return status.Errorf(codes.AlreadyExists, "asset already registered")
	case errors.Is(err, lending.ErrInsufficientLiquidity):
		return status.Errorf(codes.ResourceExhausted, "insufficient liquidity")
	case errors.Is(err, lending.ErrExceedsCloseFactor):
		return status.Errorf(codes.FailedPrecondition, "repay amount exceeds close factor")
	case errors.Is(err, lending.ErrNotLiquidatable):
		return status.Errorf(codes.FailedPrecondition, "target has no shortfall")
	case errors.Is(err, lending.ErrPriceUnavailable):
		return status.Errorf(codes.Unavailable, "price unavailable")
	case errors.Is(err, lending.ErrTransferFailed):
		return status.Errorf(codes.Aborted, "token transfer failed")
	case errors.Is(err, lending.ErrLedgerRejected):
		return status.Errorf(codes.Aborted, "money market rejected call")
	default:
		return status.Errorf(codes.Internal, "internal error")
	}
}
