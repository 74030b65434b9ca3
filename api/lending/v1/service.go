package lendingv1

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mmlink.lending.v1.LendingService"

const (
	LendingService_ListAssets_FullMethodName           = "/" + ServiceName + "/ListAssets"
	LendingService_RegisterAsset_FullMethodName        = "/" + ServiceName + "/RegisterAsset"
	LendingService_GetLiquidity_FullMethodName         = "/" + ServiceName + "/GetLiquidity"
	LendingService_GetMaxBorrow_FullMethodName         = "/" + ServiceName + "/GetMaxBorrow"
	LendingService_GetPosition_FullMethodName          = "/" + ServiceName + "/GetPosition"
	LendingService_Supply_FullMethodName               = "/" + ServiceName + "/Supply"
	LendingService_EnterMarket_FullMethodName          = "/" + ServiceName + "/EnterMarket"
	LendingService_ExitMarket_FullMethodName           = "/" + ServiceName + "/ExitMarket"
	LendingService_Borrow_FullMethodName               = "/" + ServiceName + "/Borrow"
	LendingService_BorrowMax_FullMethodName            = "/" + ServiceName + "/BorrowMax"
	LendingService_Repay_FullMethodName                = "/" + ServiceName + "/Repay"
	LendingService_Redeem_FullMethodName               = "/" + ServiceName + "/Redeem"
	LendingService_Withdraw_FullMethodName             = "/" + ServiceName + "/Withdraw"
	LendingService_GetLiquidationParams_FullMethodName = "/" + ServiceName + "/GetLiquidationParams"
	LendingService_QuoteLiquidation_FullMethodName     = "/" + ServiceName + "/QuoteLiquidation"
	LendingService_Liquidate_FullMethodName            = "/" + ServiceName + "/Liquidate"
	LendingService_RedeemSeized_FullMethodName         = "/" + ServiceName + "/RedeemSeized"
)

// LendingServiceServer is the server API for the lending service.
type LendingServiceServer interface {
	ListAssets(context.Context, *ListAssetsRequest) (*ListAssetsResponse, error)
	RegisterAsset(context.Context, *RegisterAssetRequest) (*RegisterAssetResponse, error)
	GetLiquidity(context.Context, *GetLiquidityRequest) (*GetLiquidityResponse, error)
	GetMaxBorrow(context.Context, *GetMaxBorrowRequest) (*GetMaxBorrowResponse, error)
	GetPosition(context.Context, *GetPositionRequest) (*GetPositionResponse, error)
	Supply(context.Context, *SupplyRequest) (*SupplyResponse, error)
	EnterMarket(context.Context, *EnterMarketRequest) (*EnterMarketResponse, error)
	ExitMarket(context.Context, *ExitMarketRequest) (*ExitMarketResponse, error)
	Borrow(context.Context, *BorrowRequest) (*BorrowResponse, error)
	BorrowMax(context.Context, *BorrowMaxRequest) (*BorrowMaxResponse, error)
	Repay(context.Context, *RepayRequest) (*RepayResponse, error)
	Redeem(context.Context, *RedeemRequest) (*RedeemResponse, error)
	Withdraw(context.Context, *WithdrawRequest) (*WithdrawResponse, error)
	GetLiquidationParams(context.Context, *GetLiquidationParamsRequest) (*GetLiquidationParamsResponse, error)
	QuoteLiquidation(context.Context, *QuoteLiquidationRequest) (*QuoteLiquidationResponse, error)
	Liquidate(context.Context, *LiquidateRequest) (*LiquidateResponse, error)
	RedeemSeized(context.Context, *RedeemSeizedRequest) (*RedeemSeizedResponse, error)
}

// LendingService_ServiceDesc is the grpc.ServiceDesc for the lending service.
var LendingService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LendingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListAssets", LendingServiceServer.ListAssets),
		unary("RegisterAsset", LendingServiceServer.RegisterAsset),
		unary("GetLiquidity", LendingServiceServer.GetLiquidity),
		unary("GetMaxBorrow", LendingServiceServer.GetMaxBorrow),
		unary("GetPosition", LendingServiceServer.GetPosition),
		unary("Supply", LendingServiceServer.Supply),
		unary("EnterMarket", LendingServiceServer.EnterMarket),
		unary("ExitMarket", LendingServiceServer.ExitMarket),
		unary("Borrow", LendingServiceServer.Borrow),
		unary("BorrowMax", LendingServiceServer.BorrowMax),
		unary("Repay", LendingServiceServer.Repay),
		unary("Redeem", LendingServiceServer.Redeem),
		unary("Withdraw", LendingServiceServer.Withdraw),
		unary("GetLiquidationParams", LendingServiceServer.GetLiquidationParams),
		unary("QuoteLiquidation", LendingServiceServer.QuoteLiquidation),
		unary("Liquidate", LendingServiceServer.Liquidate),
		unary("RedeemSeized", LendingServiceServer.RedeemSeized),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lending/v1/lending.json",
}

// RegisterLendingServiceServer attaches srv to s.
func RegisterLendingServiceServer(s grpc.ServiceRegistrar, srv LendingServiceServer) {
	s.RegisterService(&LendingService_ServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(LendingServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LendingServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LendingServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LendingServiceClient is the client API for the lending service. Every call
// negotiates the JSON codec.
type LendingServiceClient interface {
	ListAssets(ctx context.Context, in *ListAssetsRequest, opts ...grpc.CallOption) (*ListAssetsResponse, error)
	RegisterAsset(ctx context.Context, in *RegisterAssetRequest, opts ...grpc.CallOption) (*RegisterAssetResponse, error)
	GetLiquidity(ctx context.Context, in *GetLiquidityRequest, opts ...grpc.CallOption) (*GetLiquidityResponse, error)
	GetMaxBorrow(ctx context.Context, in *GetMaxBorrowRequest, opts ...grpc.CallOption) (*GetMaxBorrowResponse, error)
	GetPosition(ctx context.Context, in *GetPositionRequest, opts ...grpc.CallOption) (*GetPositionResponse, error)
	Supply(ctx context.Context, in *SupplyRequest, opts ...grpc.CallOption) (*SupplyResponse, error)
	EnterMarket(ctx context.Context, in *EnterMarketRequest, opts ...grpc.CallOption) (*EnterMarketResponse, error)
	ExitMarket(ctx context.Context, in *ExitMarketRequest, opts ...grpc.CallOption) (*ExitMarketResponse, error)
	Borrow(ctx context.Context, in *BorrowRequest, opts ...grpc.CallOption) (*BorrowResponse, error)
	BorrowMax(ctx context.Context, in *BorrowMaxRequest, opts ...grpc.CallOption) (*BorrowMaxResponse, error)
	Repay(ctx context.Context, in *RepayRequest, opts ...grpc.CallOption) (*RepayResponse, error)
	Redeem(ctx context.Context, in *RedeemRequest, opts ...grpc.CallOption) (*RedeemResponse, error)
	Withdraw(ctx context.Context, in *WithdrawRequest, opts ...grpc.CallOption) (*WithdrawResponse, error)
	GetLiquidationParams(ctx context.Context, in *GetLiquidationParamsRequest, opts ...grpc.CallOption) (*GetLiquidationParamsResponse, error)
	QuoteLiquidation(ctx context.Context, in *QuoteLiquidationRequest, opts ...grpc.CallOption) (*QuoteLiquidationResponse, error)
	Liquidate(ctx context.Context, in *LiquidateRequest, opts ...grpc.CallOption) (*LiquidateResponse, error)
	RedeemSeized(ctx context.Context, in *RedeemSeizedRequest, opts ...grpc.CallOption) (*RedeemSeizedResponse, error)
}

type lendingServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLendingServiceClient(cc grpc.ClientConnInterface) LendingServiceClient {
	return &lendingServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *lendingServiceClient) ListAssets(ctx context.Context, in *ListAssetsRequest, opts ...grpc.CallOption) (*ListAssetsResponse, error) {
	return invoke[ListAssetsResponse](ctx, c.cc, LendingService_ListAssets_FullMethodName, in, opts)
}

func (c *lendingServiceClient) RegisterAsset(ctx context.Context, in *RegisterAssetRequest, opts ...grpc.CallOption) (*RegisterAssetResponse, error) {
	return invoke[RegisterAssetResponse](ctx, c.cc, LendingService_RegisterAsset_FullMethodName, in, opts)
}

func (c *lendingServiceClient) GetLiquidity(ctx context.Context, in *GetLiquidityRequest, opts ...grpc.CallOption) (*GetLiquidityResponse, error) {
	return invoke[GetLiquidityResponse](ctx, c.cc, LendingService_GetLiquidity_FullMethodName, in, opts)
}

func (c *lendingServiceClient) GetMaxBorrow(ctx context.Context, in *GetMaxBorrowRequest, opts ...grpc.CallOption) (*GetMaxBorrowResponse, error) {
	return invoke[GetMaxBorrowResponse](ctx, c.cc, LendingService_GetMaxBorrow_FullMethodName, in, opts)
}

func (c *lendingServiceClient) GetPosition(ctx context.Context, in *GetPositionRequest, opts ...grpc.CallOption) (*GetPositionResponse, error) {
	return invoke[GetPositionResponse](ctx, c.cc, LendingService_GetPosition_FullMethodName, in, opts)
}

func (c *lendingServiceClient) Supply(ctx context.Context, in *SupplyRequest, opts ...grpc.CallOption) (*SupplyResponse, error) {
	return invoke[SupplyResponse](ctx, c.cc, LendingService_Supply_FullMethodName, in, opts)
}

func (c *lendingServiceClient) EnterMarket(ctx context.Context, in *EnterMarketRequest, opts ...grpc.CallOption) (*EnterMarketResponse, error) {
	return invoke[EnterMarketResponse](ctx, c.cc, LendingService_EnterMarket_FullMethodName, in, opts)
}

func (c *lendingServiceClient) ExitMarket(ctx context.Context, in *ExitMarketRequest, opts ...grpc.CallOption) (*ExitMarketResponse, error) {
	return invoke[ExitMarketResponse](ctx, c.cc, LendingService_ExitMarket_FullMethodName, in, opts)
}

func (c *lendingServiceClient) Borrow(ctx context.Context, in *BorrowRequest, opts ...grpc.CallOption) (*BorrowResponse, error) {
	return invoke[BorrowResponse](ctx, c.cc, LendingService_Borrow_FullMethodName, in, opts)
}

func (c *lendingServiceClient) BorrowMax(ctx context.Context, in *BorrowMaxRequest, opts ...grpc.CallOption) (*BorrowMaxResponse, error) {
	return invoke[BorrowMaxResponse](ctx, c.cc, LendingService_BorrowMax_FullMethodName, in, opts)
}

func (c *lendingServiceClient) Repay(ctx context.Context, in *RepayRequest, opts ...grpc.CallOption) (*RepayResponse, error) {
	return invoke[RepayResponse](ctx, c.cc, LendingService_Repay_FullMethodName, in, opts)
}

func (c *lendingServiceClient) Redeem(ctx context.Context, in *RedeemRequest, opts ...grpc.CallOption) (*RedeemResponse, error) {
	return invoke[RedeemResponse](ctx, c.cc, LendingService_Redeem_FullMethodName, in, opts)
}

func (c *lendingServiceClient) Withdraw(ctx context.Context, in *WithdrawRequest, opts ...grpc.CallOption) (*WithdrawResponse, error) {
	return invoke[WithdrawResponse](ctx, c.cc, LendingService_Withdraw_FullMethodName, in, opts)
}

func (c *lendingServiceClient) GetLiquidationParams(ctx context.Context, in *GetLiquidationParamsRequest, opts ...grpc.CallOption) (*GetLiquidationParamsResponse, error) {
	return invoke[GetLiquidationParamsResponse](ctx, c.cc, LendingService_GetLiquidationParams_FullMethodName, in, opts)
}

func (c *lendingServiceClient) QuoteLiquidation(ctx context.Context, in *QuoteLiquidationRequest, opts ...grpc.CallOption) (*QuoteLiquidationResponse, error) {
	return invoke[QuoteLiquidationResponse](ctx, c.cc, LendingService_QuoteLiquidation_FullMethodName, in, opts)
}

func (c *lendingServiceClient) Liquidate(ctx context.Context, in *LiquidateRequest, opts ...grpc.CallOption) (*LiquidateResponse, error) {
	return invoke[LiquidateResponse](ctx, c.cc, LendingService_Liquidate_FullMethodName, in, opts)
}

func (c *lendingServiceClient) RedeemSeized(ctx context.Context, in *RedeemSeizedRequest, opts ...grpc.CallOption) (*RedeemSeizedResponse, error) {
	return invoke[RedeemSeizedResponse](ctx, c.cc, LendingService_RedeemSeized_FullMethodName, in, opts)
}
