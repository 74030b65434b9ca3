package client

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	lendingv1 "mmlink/api/lending/v1"
	"mmlink/native/fixedpoint"
)

// Client provides a thin wrapper around the lending service gRPC API.
type Client struct {
	conn *grpc.ClientConn
	api  lendingv1.LendingServiceClient
}

// Dial initialises a client connection to the lending service endpoint.
// Without options the connection is plaintext and unauthenticated.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, api: lendingv1.NewLendingServiceClient(conn)}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Raw exposes the wire-level client for advanced usage.
func (c *Client) Raw() lendingv1.LendingServiceClient {
	if c == nil {
		return nil
	}
	return c.api
}

// BearerToken returns per-RPC credentials presenting a signed JWT. When
// requireTLS is false the token is also sent over plaintext connections.
func BearerToken(token string, requireTLS bool) grpc.DialOption {
	return grpc.WithPerRPCCredentials(bearerToken{token: token, secure: requireTLS})
}

type bearerToken struct {
	token  string
	secure bool
}

func (b bearerToken) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}

func (b bearerToken) RequireTransportSecurity() bool { return b.secure }

// Supply deposits amount raw units of asset into the position.
func (c *Client) Supply(ctx context.Context, asset common.Address, amount *uint256.Int) error {
	_, err := c.api.Supply(ctx, &lendingv1.SupplyRequest{AssetID: asset.Hex(), Amount: amount.Dec()})
	return err
}

// Borrow draws amount raw units from market.
func (c *Client) Borrow(ctx context.Context, collateral, market common.Address, decimals uint8, amount *uint256.Int) error {
	_, err := c.api.Borrow(ctx, &lendingv1.BorrowRequest{
		CollateralAsset: collateral.Hex(),
		Market:          market.Hex(),
		Decimals:        uint32(decimals),
		Amount:          amount.Dec(),
	})
	return err
}

// Repay repays up to amount and returns what was actually repaid.
func (c *Client) Repay(ctx context.Context, asset, market common.Address, amount *uint256.Int) (*uint256.Int, error) {
	resp, err := c.api.Repay(ctx, &lendingv1.RepayRequest{AssetID: asset.Hex(), Market: market.Hex(), Amount: amount.Dec()})
	if err != nil {
		return nil, err
	}
	return parseField("repaid", resp.Repaid)
}

// MaxBorrow returns the position's current borrow limit in market.
func (c *Client) MaxBorrow(ctx context.Context, market common.Address) (*uint256.Int, error) {
	resp, err := c.api.GetMaxBorrow(ctx, &lendingv1.GetMaxBorrowRequest{Market: market.Hex()})
	if err != nil {
		return nil, err
	}
	return parseField("amount", resp.Amount)
}

// Liquidity is a decoded liquidity quote.
type Liquidity struct {
	Account   common.Address
	Liquidity *uint256.Int
	Shortfall *uint256.Int
}

// Liquidity quotes account; the zero address quotes the engine's position.
func (c *Client) Liquidity(ctx context.Context, account common.Address) (Liquidity, error) {
	req := &lendingv1.GetLiquidityRequest{}
	if account != (common.Address{}) {
		req.Account = account.Hex()
	}
	resp, err := c.api.GetLiquidity(ctx, req)
	if err != nil {
		return Liquidity{}, err
	}
	out := Liquidity{Account: common.HexToAddress(resp.Account)}
	if out.Liquidity, err = parseField("liquidity", resp.Liquidity); err != nil {
		return Liquidity{}, err
	}
	if out.Shortfall, err = parseField("shortfall", resp.Shortfall); err != nil {
		return Liquidity{}, err
	}
	return out, nil
}

// Liquidate repays amount of target's debt and returns the seized shares.
func (c *Client) Liquidate(ctx context.Context, target, repayAsset, repayMarket, seizeMarket common.Address, amount *uint256.Int) (*uint256.Int, error) {
	resp, err := c.api.Liquidate(ctx, &lendingv1.LiquidateRequest{
		Target:      target.Hex(),
		RepayAsset:  repayAsset.Hex(),
		RepayMarket: repayMarket.Hex(),
		SeizeMarket: seizeMarket.Hex(),
		Amount:      amount.Dec(),
	})
	if err != nil {
		return nil, err
	}
	return parseField("seized_shares", resp.SeizedShares)
}

func parseField(name, value string) (*uint256.Int, error) {
	v, err := fixedpoint.ParseRaw(value)
	if err != nil {
		return nil, fmt.Errorf("lending client: %s: %w", name, err)
	}
	return v, nil
}
