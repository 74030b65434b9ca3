package ethledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const cTokenABI = `[
 {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"mintAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"redeem","stateMutability":"nonpayable","inputs":[{"name":"redeemTokens","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"redeemUnderlying","stateMutability":"nonpayable","inputs":[{"name":"redeemAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"borrow","stateMutability":"nonpayable","inputs":[{"name":"borrowAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"repayBorrow","stateMutability":"nonpayable","inputs":[{"name":"repayAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"liquidateBorrow","stateMutability":"nonpayable","inputs":[{"name":"borrower","type":"address"},{"name":"repayAmount","type":"uint256"},{"name":"cTokenCollateral","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"accrueInterest","stateMutability":"nonpayable","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getAccountSnapshot","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"},{"name":"","type":"uint256"},{"name":"","type":"uint256"}]},
 {"type":"function","name":"underlying","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"exchangeRateStored","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"borrowRatePerBlock","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"supplyRatePerBlock","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const comptrollerABI = `[
 {"type":"function","name":"enterMarkets","stateMutability":"nonpayable","inputs":[{"name":"cTokens","type":"address[]"}],"outputs":[{"name":"","type":"uint256[]"}]},
 {"type":"function","name":"exitMarket","stateMutability":"nonpayable","inputs":[{"name":"cTokenAddress","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getAssetsIn","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"address[]"}]},
 {"type":"function","name":"markets","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"isListed","type":"bool"},{"name":"collateralFactorMantissa","type":"uint256"},{"name":"isComped","type":"bool"}]},
 {"type":"function","name":"closeFactorMantissa","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"liquidationIncentiveMantissa","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"liquidateCalculateSeizeTokens","stateMutability":"view","inputs":[{"name":"cTokenBorrowed","type":"address"},{"name":"cTokenCollateral","type":"address"},{"name":"actualRepayAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"}]},
 {"type":"function","name":"oracle","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const oracleABI = `[
 {"type":"function","name":"getUnderlyingPrice","stateMutability":"view","inputs":[{"name":"cToken","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const erc20ABI = `[
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	cTokenContract      = mustParseABI(cTokenABI)
	comptrollerContract = mustParseABI(comptrollerABI)
	oracleContract      = mustParseABI(oracleABI)
	erc20Contract       = mustParseABI(erc20ABI)
)

func mustParseABI(raw string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return &parsed
}
