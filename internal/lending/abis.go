package lending

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Hand-inlined read ABIs for the pool, the price oracle, and ERC-20
// balances. Only the view functions the monitor needs.
const (
	poolABIJSON = `[
{"inputs":[{"name":"user","type":"address"}],"name":"getUserAccountData","outputs":[{"name":"totalCollateralBase","type":"uint256"},{"name":"totalDebtBase","type":"uint256"},{"name":"availableBorrowsBase","type":"uint256"},{"name":"currentLiquidationThreshold","type":"uint256"},{"name":"ltv","type":"uint256"},{"name":"healthFactor","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"getReservesList","outputs":[{"name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"asset","type":"address"}],"name":"getConfiguration","outputs":[{"name":"data","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"asset","type":"address"}],"name":"getReserveData","outputs":[{"components":[{"name":"configuration","type":"uint256"},{"name":"liquidityIndex","type":"uint128"},{"name":"currentLiquidityRate","type":"uint128"},{"name":"variableBorrowIndex","type":"uint128"},{"name":"currentVariableBorrowRate","type":"uint128"},{"name":"currentStableBorrowRate","type":"uint128"},{"name":"lastUpdateTimestamp","type":"uint40"},{"name":"id","type":"uint16"},{"name":"aTokenAddress","type":"address"},{"name":"stableDebtTokenAddress","type":"address"},{"name":"variableDebtTokenAddress","type":"address"},{"name":"interestRateStrategyAddress","type":"address"},{"name":"accruedToTreasury","type":"uint128"},{"name":"unbacked","type":"uint128"},{"name":"isolationModeTotalDebt","type":"uint128"}],"name":"","type":"tuple"}],"stateMutability":"view","type":"function"}
]`

	oracleABIJSON = `[
{"inputs":[{"name":"assets","type":"address[]"}],"name":"getAssetsPrices","outputs":[{"name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"BASE_CURRENCY_UNIT","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

	erc20ABIJSON = `[
{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`
)

var (
	poolABI   abi.ABI
	oracleABI abi.ABI
	erc20ABI  abi.ABI
)

func init() {
	poolABI = mustParseABI(poolABIJSON)
	oracleABI = mustParseABI(oracleABIJSON)
	erc20ABI = mustParseABI(erc20ABIJSON)
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse lending ABI: " + err.Error())
	}
	return parsed
}

func abiConvertReserveData(v interface{}) *reserveDataTuple {
	return abi.ConvertType(v, new(reserveDataTuple)).(*reserveDataTuple)
}
