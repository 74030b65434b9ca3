// Package lendingv1 defines the wire contract of the lending gRPC service.
// Messages are plain structs carried by a JSON codec; amounts, rates and USD
// values travel as base-10 strings of raw units or 18-decimal mantissas.
package lendingv1

// Asset describes a registered asset and, when requested, its market figures.
type Asset struct {
	AssetID            string `json:"asset_id"`
	Market             string `json:"market"`
	Decimals           uint32 `json:"decimals"`
	ExchangeRate       string `json:"exchange_rate,omitempty"`
	SupplyRatePerBlock string `json:"supply_rate_per_block,omitempty"`
	BorrowRatePerBlock string `json:"borrow_rate_per_block,omitempty"`
	CollateralFactor   string `json:"collateral_factor,omitempty"`
	Price              string `json:"price,omitempty"`
}

type ListAssetsRequest struct {
	WithMarketInfo bool `json:"with_market_info,omitempty"`
}

type ListAssetsResponse struct {
	Assets []Asset `json:"assets"`
}

type RegisterAssetRequest struct {
	AssetID string `json:"asset_id"`
	Market  string `json:"market"`
}

type RegisterAssetResponse struct {
	Asset Asset `json:"asset"`
}

// GetLiquidityRequest quotes the engine's own position when Account is empty.
type GetLiquidityRequest struct {
	Account string `json:"account,omitempty"`
}

type GetLiquidityResponse struct {
	Account      string `json:"account"`
	Liquidity    string `json:"liquidity"`
	Shortfall    string `json:"shortfall"`
	Liquidatable bool   `json:"liquidatable"`
}

type GetMaxBorrowRequest struct {
	Market string `json:"market"`
}

type GetMaxBorrowResponse struct {
	Amount string `json:"amount"`
}

type GetPositionRequest struct{}

// Balance is the position's standing in one registered market. The display
// fields render Supplied and Borrowed in whole tokens.
type Balance struct {
	AssetID         string `json:"asset_id"`
	Market          string `json:"market"`
	Shares          string `json:"shares"`
	Supplied        string `json:"supplied"`
	Borrowed        string `json:"borrowed"`
	Entered         bool   `json:"entered"`
	SuppliedDisplay string `json:"supplied_display,omitempty"`
	BorrowedDisplay string `json:"borrowed_display,omitempty"`
}

type GetPositionResponse struct {
	Owner        string    `json:"owner"`
	Custody      string    `json:"custody"`
	State        string    `json:"state"`
	Liquidity    string    `json:"liquidity"`
	Shortfall    string    `json:"shortfall"`
	HealthFactor string    `json:"health_factor"`
	Balances     []Balance `json:"balances"`
}

type SupplyRequest struct {
	AssetID string `json:"asset_id"`
	Amount  string `json:"amount"`
}

type SupplyResponse struct{}

type EnterMarketRequest struct {
	AssetID string `json:"asset_id"`
}

type EnterMarketResponse struct{}

type ExitMarketRequest struct {
	AssetID string `json:"asset_id"`
}

type ExitMarketResponse struct{}

type BorrowRequest struct {
	CollateralAsset string `json:"collateral_asset"`
	Market          string `json:"market"`
	Decimals        uint32 `json:"decimals"`
	Amount          string `json:"amount"`
}

type BorrowResponse struct{}

type BorrowMaxRequest struct {
	Market   string `json:"market"`
	Decimals uint32 `json:"decimals"`
}

type BorrowMaxResponse struct {
	Amount string `json:"amount"`
}

type RepayRequest struct {
	AssetID string `json:"asset_id"`
	Market  string `json:"market"`
	Amount  string `json:"amount"`
}

type RepayResponse struct {
	Repaid string `json:"repaid"`
}

type RedeemRequest struct {
	AssetID string `json:"asset_id"`
	Amount  string `json:"amount"`
}

type RedeemResponse struct{}

type WithdrawRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type WithdrawResponse struct{}

type GetLiquidationParamsRequest struct{}

type GetLiquidationParamsResponse struct {
	CloseFactor          string `json:"close_factor"`
	LiquidationIncentive string `json:"liquidation_incentive"`
	Custody              string `json:"custody"`
}

type QuoteLiquidationRequest struct {
	Target      string `json:"target"`
	RepayMarket string `json:"repay_market"`
	SeizeMarket string `json:"seize_market"`
	Amount      string `json:"amount"`
}

// QuoteLiquidationResponse reports the target's standing and, when an amount
// was supplied, the seize figures. SeizeTokens comes from the money market;
// EstimatedSeize is recomputed from oracle prices for display.
type QuoteLiquidationResponse struct {
	Liquidity      string `json:"liquidity"`
	Shortfall      string `json:"shortfall"`
	Liquidatable   bool   `json:"liquidatable"`
	MaxRepay       string `json:"max_repay"`
	SeizeTokens    string `json:"seize_tokens,omitempty"`
	EstimatedSeize string `json:"estimated_seize,omitempty"`
}

type LiquidateRequest struct {
	Target      string `json:"target"`
	RepayAsset  string `json:"repay_asset"`
	RepayMarket string `json:"repay_market"`
	SeizeMarket string `json:"seize_market"`
	Amount      string `json:"amount"`
}

type LiquidateResponse struct {
	Repaid       string `json:"repaid"`
	SeizedShares string `json:"seized_shares"`
}

type RedeemSeizedRequest struct {
	Market string `json:"market"`
	Shares string `json:"shares"`
}

type RedeemSeizedResponse struct {
	Paid string `json:"paid"`
}
