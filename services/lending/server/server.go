package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	lendingv1 "mmlink/api/lending/v1"
	"mmlink/native/fixedpoint"
	"mmlink/native/lending"
	"mmlink/services/lending/engine"
)

var _ lendingv1.LendingServiceServer = (*Service)(nil)

// Service implements the lending.v1 gRPC interface and proxies requests into
// the lending engine.
type Service struct {
	engine engine.Engine
	logger *slog.Logger
	auth   Authorizer
}

// Authorizer resolves the caller a request acts for.
type Authorizer interface {
	Caller(context.Context) (common.Address, error)
}

type interceptorAuthorizer struct{}

// NewInterceptorAuthorizer constructs an Authorizer that trusts the caller
// installed by the auth interceptor.
func NewInterceptorAuthorizer() Authorizer {
	return interceptorAuthorizer{}
}

func (interceptorAuthorizer) Caller(ctx context.Context) (common.Address, error) {
	if caller, ok := CallerFromContext(ctx); ok {
		return caller, nil
	}
	return common.Address{}, status.Error(codes.Unauthenticated, "authentication required")
}

// New constructs a new lending service instance.
func New(engine engine.Engine, logger *slog.Logger, auth Authorizer) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if auth == nil {
		auth = NewInterceptorAuthorizer()
	}
	return &Service{engine: engine, logger: logger, auth: auth}
}

// ListAssets enumerates registered assets, optionally with market figures.
func (s *Service) ListAssets(ctx context.Context, req *lendingv1.ListAssetsRequest) (*lendingv1.ListAssetsResponse, error) {
	if err := s.ensureEngine(); err != nil {
		return nil, err
	}
	assets := s.engine.Assets()
	out := make([]lendingv1.Asset, 0, len(assets))
	for _, asset := range assets {
		if req == nil || !req.WithMarketInfo {
			out = append(out, toAsset(asset))
			continue
		}
		info, err := s.engine.MarketInfo(ctx, asset.AssetID)
		if err != nil {
			return nil, s.translateEngineError("list_assets", err)
		}
		out = append(out, toAssetInfo(info))
	}
	return &lendingv1.ListAssetsResponse{Assets: out}, nil
}

// RegisterAsset maps an underlying asset to its market.
func (s *Service) RegisterAsset(ctx context.Context, req *lendingv1.RegisterAssetRequest) (*lendingv1.RegisterAssetResponse, error) {
	caller, err := authorizeMsg(ctx, s, req)
	if err != nil {
		return nil, err
	}
	assetID, err := parseAddress("asset_id", req.AssetID)
	if err != nil {
		return nil, err
	}
	market, err := parseAddress("market", req.Market)
	if err != nil {
		return nil, err
	}
	asset, err := s.engine.RegisterAsset(ctx, caller, assetID, market)
	if err != nil {
		return nil, s.translateEngineError("register_asset", err)
	}
	return &lendingv1.RegisterAssetResponse{Asset: toAsset(asset)}, nil
}

// GetLiquidity quotes an account, defaulting to the engine's own position.
func (s *Service) GetLiquidity(ctx context.Context, req *lendingv1.GetLiquidityRequest) (*lendingv1.GetLiquidityResponse, error) {
	if err := s.ensureEngine(); err != nil {
		return nil, err
	}
	var account common.Address
	if req != nil && strings.TrimSpace(req.Account) != "" {
		parsed, err := parseAddress("account", req.Account)
		if err != nil {
			return nil, err
		}
		account = parsed
	}
	liq, err := s.engine.Liquidity(ctx, account)
	if err != nil {
		return nil, s.translateEngineError("get_liquidity", err)
	}
	return &lendingv1.GetLiquidityResponse{
		Account:      liq.Account.Hex(),
		Liquidity:    dec(liq.Liquidity),
		Shortfall:    dec(liq.Shortfall),
		Liquidatable: liq.Liquidatable(),
	}, nil
}

// GetMaxBorrow returns the position's borrow limit in a market.
func (s *Service) GetMaxBorrow(ctx context.Context, req *lendingv1.GetMaxBorrowRequest) (*lendingv1.GetMaxBorrowResponse, error) {
	if err := s.ensureEngine(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}
	market, err := parseAddress("market", req.Market)
	if err != nil {
		return nil, err
	}
	amount, err := s.engine.MaxBorrow(ctx, market)
	if err != nil {
		return nil, s.translateEngineError("get_max_borrow", err)
	}
	return &lendingv1.GetMaxBorrowResponse{Amount: dec(amount)}, nil
}

// GetPosition reports the engine's position across registered markets.
func (s *Service) GetPosition(ctx context.Context, _ *lendingv1.GetPositionRequest) (*lendingv1.GetPositionResponse, error) {
	if err := s.ensureEngine(); err != nil {
		return nil, err
	}
	pos, err := s.engine.Position(ctx)
	if err != nil {
		return nil, s.translateEngineError("get_position", err)
	}
	resp := &lendingv1.GetPositionResponse{
		Owner:        pos.Owner.Hex(),
		Custody:      pos.Custody.Hex(),
		State:        pos.State.String(),
		Liquidity:    dec(pos.Quote.Liquidity),
		Shortfall:    dec(pos.Quote.Shortfall),
		HealthFactor: dec(pos.HealthFactor),
		Balances:     make([]lendingv1.Balance, 0, len(pos.Balances)),
	}
	for _, bal := range pos.Balances {
		resp.Balances = append(resp.Balances, lendingv1.Balance{
			AssetID:  bal.Asset.AssetID.Hex(),
			Market:   bal.Asset.Market.Hex(),
			Shares:   dec(bal.Shares),
			Supplied: dec(bal.Supplied),
			Borrowed: dec(bal.Borrowed),
			Entered:  bal.Entered,

			SuppliedDisplay: fixedpoint.Format(bal.Supplied, bal.Asset.Decimals),
			BorrowedDisplay: fixedpoint.Format(bal.Borrowed, bal.Asset.Decimals),
		})
	}
	return resp, nil
}

// Supply deposits the caller's tokens into the position.
func (s *Service) Supply(ctx context.Context, req *lendingv1.SupplyRequest) (*lendingv1.SupplyResponse, error) {
	caller, err := authorizeMsg(ctx, s, req)
	if err != nil {
		return nil, err
	}
	assetID, err := parseAddress("asset_id", req.AssetID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Supply(ctx, caller, assetID, amount); err != nil {
		return nil, s.translateEngineError("supply", err)
	}
	return &lendingv1.SupplyResponse{}, nil
}

// EnterMarket opts a supplied asset in as collateral.
func (s *Service) EnterMarket(ctx context.Context, req *lendingv1.EnterMarketRequest) (*lendingv1.EnterMarketResponse, error) {
	if _, err := authorizeMsg(ctx, s, req); err != nil {
		return nil, err
	}
	assetID, err := parseAddress("asset_id", req.AssetID)
	if err != nil {
		return nil, err
	}
	if err := s.engine.EnterMarket(ctx, assetID); err != nil {
		return nil, s.translateEngineError("enter_market", err)
	}
	return &lendingv1.EnterMarketResponse{}, nil
}

// ExitMarket removes an asset from the collateral set.
func (s *Service) ExitMarket(ctx context.Context, req *lendingv1.ExitMarketRequest) (*lendingv1.ExitMarketResponse, error) {
	caller, err := authorizeMsg(ctx, s, req)
	if err != nil {
		return nil, err
	}
	assetID, err := parseAddress("asset_id", req.AssetID)
	if err != nil {
		return nil, err
	}
	if err := s.engine.ExitMarket(ctx, caller, assetID); err != nil {
		return nil, s.translateEngineError("exit_market", err)
	}
	return &lendingv1.ExitMarketResponse{}, nil
}

// Borrow draws a fixed amount against the position's collateral.
func (s *Service) Borrow(ctx context.Context, req *lendingv1.BorrowRequest) (*lendingv1.BorrowResponse, error) {
	caller, err := authorizeMsg(ctx, s, req)
	if err != nil {
		return nil, err
	}
	collateral, err := parseAddress("collateral_asset", req.CollateralAsset)
	if err != nil {
		return nil, err
	}
	market, err := parseAddress("market", req.Market)
	if err != nil {
		return nil, err
	}
	decimals, err := parseDecimals(req.Decimals)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Borrow(ctx, caller, collateral, market, decimals, amount); err != nil {
		return nil, s.translateEngineError("borrow", err)
	}
	return &lendingv1.BorrowResponse{}, nil
}

// BorrowMax draws the full borrow limit.
func (s *Service) BorrowMax(ctx context.Context, req *lendingv1.BorrowMaxRequest) (*lendingv1.BorrowMaxResponse, error) {
	caller, err := authorizeMsg(ctx, s, req)
	if err != nil {
		return nil, err
	}
	market, err := parseAddress("market", req.Market)
	if err != nil {
		return nil, err
	}
	decimals, err := parseDecimals(req.Decimals)
	if err != nil {
		return nil, err
	}
	amount, err := s.engine.BorrowMax(ctx, caller, market, decimals)
	if err != nil {
		return nil, s.translateEngineError("borrow_max", err)
	}
	return &lendingv1.BorrowMaxResponse{Amount: dec(amount)}, nil
}

// Repay settles debt with the caller's tokens.
func (s *Service) Repay(ctx context.Context, req *lendingv1.RepayRequest) (*lendingv1.RepayResponse, error) {
	caller, err := authorizeMsg(ctx, s, req)
	if err != nil {
		return nil, err
	}
	assetID, err := parseAddress("asset_id", req.AssetID)
	if err != nil {
		return nil, err
	}
	market, err := parseAddress("market", req.Market)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	repaid, err := s.engine.Repay(ctx, caller, assetID, market, amount)
	if err != nil {
		return nil, s.translateEngineError("repay", err)
	}
	return &lendingv1.RepayResponse{Repaid: dec(repaid)}, nil
}

// Redeem withdraws supplied underlying to the owner.
func (s *Service) Redeem(ctx context.Context, req *lendingv1.RedeemRequest) (*lendingv1.RedeemResponse, error) {
	caller, err := authorizeMsg(ctx, s, req)
	if err != nil {
		return nil, err
	}
	assetID, err := parseAddress("asset_id", req.AssetID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Redeem(ctx, caller, assetID, amount); err != nil {
		return nil, s.translateEngineError("redeem", err)
	}
	return &lendingv1.RedeemResponse{}, nil
}

// Withdraw moves tokens held in custody to the owner.
func (s *Service) Withdraw(ctx context.Context, req *lendingv1.WithdrawRequest) (*lendingv1.WithdrawResponse, error) {
	caller, err := authorizeMsg(ctx, s, req)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Withdraw(ctx, caller, token, amount); err != nil {
		return nil, s.translateEngineError("withdraw", err)
	}
	return &lendingv1.WithdrawResponse{}, nil
}

// GetLiquidationParams returns the protocol's close factor and incentive.
func (s *Service) GetLiquidationParams(ctx context.Context, _ *lendingv1.GetLiquidationParamsRequest) (*lendingv1.GetLiquidationParamsResponse, error) {
	if err := s.ensureEngine(); err != nil {
		return nil, err
	}
	params, err := s.engine.LiquidationParams(ctx)
	if err != nil {
		return nil, s.translateEngineError("get_liquidation_params", err)
	}
	return &lendingv1.GetLiquidationParamsResponse{
		CloseFactor:          dec(params.CloseFactor),
		LiquidationIncentive: dec(params.LiquidationIncentive),
		Custody:              params.Custody.Hex(),
	}, nil
}

// QuoteLiquidation previews a liquidation without submitting it. The amount
// is optional.
func (s *Service) QuoteLiquidation(ctx context.Context, req *lendingv1.QuoteLiquidationRequest) (*lendingv1.QuoteLiquidationResponse, error) {
	if err := s.ensureEngine(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}
	target, err := parseAddress("target", req.Target)
	if err != nil {
		return nil, err
	}
	repayMarket, err := parseAddress("repay_market", req.RepayMarket)
	if err != nil {
		return nil, err
	}
	seizeMarket, err := parseAddress("seize_market", req.SeizeMarket)
	if err != nil {
		return nil, err
	}
	var amount *uint256.Int
	if strings.TrimSpace(req.Amount) != "" {
		if amount, err = parseAmount("amount", req.Amount); err != nil {
			return nil, err
		}
	}
	quote, err := s.engine.QuoteLiquidation(ctx, target, repayMarket, seizeMarket, amount)
	if err != nil {
		return nil, s.translateEngineError("quote_liquidation", err)
	}
	resp := &lendingv1.QuoteLiquidationResponse{
		Liquidity:    dec(quote.Quote.Liquidity),
		Shortfall:    dec(quote.Quote.Shortfall),
		Liquidatable: quote.Quote.Liquidatable(),
		MaxRepay:     dec(quote.MaxRepay),
	}
	if quote.SeizeTokens != nil {
		resp.SeizeTokens = dec(quote.SeizeTokens)
	}
	if quote.EstimatedSeize != nil {
		resp.EstimatedSeize = dec(quote.EstimatedSeize)
	}
	return resp, nil
}

// Liquidate repays part of an underwater target's debt and seizes collateral.
func (s *Service) Liquidate(ctx context.Context, req *lendingv1.LiquidateRequest) (*lendingv1.LiquidateResponse, error) {
	caller, err := authorizeMsg(ctx, s, req)
	if err != nil {
		return nil, err
	}
	target, err := parseAddress("target", req.Target)
	if err != nil {
		return nil, err
	}
	repayAsset, err := parseAddress("repay_asset", req.RepayAsset)
	if err != nil {
		return nil, err
	}
	repayMarket, err := parseAddress("repay_market", req.RepayMarket)
	if err != nil {
		return nil, err
	}
	seizeMarket, err := parseAddress("seize_market", req.SeizeMarket)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	result, err := s.engine.Liquidate(ctx, caller, target, repayAsset, repayMarket, seizeMarket, amount)
	if err != nil {
		return nil, s.translateEngineError("liquidate", err)
	}
	return &lendingv1.LiquidateResponse{Repaid: dec(result.Repaid), SeizedShares: dec(result.SeizedShares)}, nil
}

// RedeemSeized converts seized shares to underlying for the liquidator owner.
func (s *Service) RedeemSeized(ctx context.Context, req *lendingv1.RedeemSeizedRequest) (*lendingv1.RedeemSeizedResponse, error) {
	caller, err := authorizeMsg(ctx, s, req)
	if err != nil {
		return nil, err
	}
	market, err := parseAddress("market", req.Market)
	if err != nil {
		return nil, err
	}
	shares, err := parseAmount("shares", req.Shares)
	if err != nil {
		return nil, err
	}
	paid, err := s.engine.RedeemSeized(ctx, caller, market, shares)
	if err != nil {
		return nil, s.translateEngineError("redeem_seized", err)
	}
	return &lendingv1.RedeemSeizedResponse{Paid: dec(paid)}, nil
}

// authorizeMsg runs the common preamble of Msg RPCs and returns the caller.
func authorizeMsg[T any](ctx context.Context, s *Service, req *T) (common.Address, error) {
	if err := s.ensureEngine(); err != nil {
		return common.Address{}, err
	}
	caller, err := s.auth.Caller(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if req == nil {
		return common.Address{}, status.Error(codes.InvalidArgument, "request required")
	}
	return caller, nil
}

func (s *Service) ensureEngine() error {
	if s == nil || s.engine == nil {
		return status.Error(codes.FailedPrecondition, "lending engine unavailable")
	}
	return nil
}

func (s *Service) translateEngineError(action string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	stErr := toStatus(err)
	if status.Code(stErr) == codes.Internal {
		s.log().Error("lending engine error", "action", action, "error", err)
	}
	return stErr
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, status.Errorf(codes.InvalidArgument, "%s required", field)
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, status.Errorf(codes.InvalidArgument, "%s is not a hex address", field)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(field, value string) (*uint256.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, status.Errorf(codes.InvalidArgument, "%s required", field)
	}
	amount, err := fixedpoint.ParseRaw(value)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s must be a base-10 integer", field)
	}
	if amount.IsZero() {
		return nil, status.Errorf(codes.InvalidArgument, "%s must be positive", field)
	}
	return amount, nil
}

func parseDecimals(value uint32) (uint8, error) {
	if value > fixedpoint.MaxDecimals {
		return 0, status.Errorf(codes.InvalidArgument, "decimals must not exceed %d", fixedpoint.MaxDecimals)
	}
	return uint8(value), nil
}

func toAsset(asset lending.SupportedAsset) lendingv1.Asset {
	return lendingv1.Asset{
		AssetID:  asset.AssetID.Hex(),
		Market:   asset.Market.Hex(),
		Decimals: uint32(asset.Decimals),
	}
}

func toAssetInfo(info lending.MarketInfo) lendingv1.Asset {
	out := toAsset(info.Asset)
	out.ExchangeRate = dec(info.ExchangeRate)
	out.SupplyRatePerBlock = dec(info.SupplyRatePerBlock)
	out.BorrowRatePerBlock = dec(info.BorrowRatePerBlock)
	out.CollateralFactor = dec(info.CollateralFactor)
	out.Price = dec(info.Price)
	return out
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
