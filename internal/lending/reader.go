// Package lending reads account and reserve state from a collateralized
// lending pool and its price oracle. Reserve reference data changes rarely
// and is read-through cached for the process lifetime; account state is
// fetched fresh every tick.
package lending

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"liqwatcher/internal/multicall"
)

// Batcher executes a batch of reads with per-item failure isolation.
type Batcher interface {
	Aggregate(ctx context.Context, calls []multicall.Call) ([]multicall.Result, error)
}

// AccountSummary is the ephemeral per-tick snapshot of one account. A nil
// HealthFactor means the account has no debt (undefined/infinite health).
type AccountSummary struct {
	TotalCollateralBase *big.Int
	TotalDebtBase       *big.Int
	HealthFactor        *big.Int
}

// Reserve couples an asset with its decoded configuration and token
// addresses.
type Reserve struct {
	Asset             common.Address
	Config            ReserveConfig
	AToken            common.Address
	VariableDebtToken common.Address
}

// Position is one account's balances against a single reserve.
type Position struct {
	Reserve           Reserve
	CollateralBalance *big.Int
	DebtBalance       *big.Int
}

// Reader exposes the semantic read operations the scheduler needs.
type Reader struct {
	batch  Batcher
	caller multicall.ContractCaller
	pool   common.Address
	oracle common.Address
	logger zerolog.Logger

	mu       sync.RWMutex
	reserves []Reserve
	baseUnit *big.Int
}

// NewReader wires a Reader against pool and oracle contracts.
func NewReader(batch Batcher, caller multicall.ContractCaller, pool, oracle common.Address, logger zerolog.Logger) *Reader {
	return &Reader{
		batch:  batch,
		caller: caller,
		pool:   pool,
		oracle: oracle,
		logger: logger.With().Str("component", "lending_reader").Logger(),
	}
}

// AccountSummaries batch-reads getUserAccountData for every user. The result
// slice is parallel to users; a slot is nil when that account's sub-read
// failed or did not decode. The batch itself only fails on transport errors.
func (r *Reader) AccountSummaries(ctx context.Context, users []common.Address) ([]*AccountSummary, error) {
	if len(users) == 0 {
		return []*AccountSummary{}, nil
	}

	calls := make([]multicall.Call, 0, len(users))
	for _, user := range users {
		data, err := poolABI.Pack("getUserAccountData", user)
		if err != nil {
			return nil, fmt.Errorf("pack getUserAccountData: %w", err)
		}
		calls = append(calls, multicall.Call{Target: r.pool, AllowFailure: true, CallData: data})
	}

	results, err := r.batch.Aggregate(ctx, calls)
	if err != nil {
		return nil, err
	}

	summaries := make([]*AccountSummary, len(users))
	for i, res := range results {
		if !res.Success || len(res.ReturnData) == 0 {
			continue
		}
		summary, err := decodeAccountSummary(res.ReturnData)
		if err != nil {
			r.logger.Debug().Err(err).Str("user", users[i].Hex()).Msg("undecodable account summary")
			continue
		}
		summaries[i] = summary
	}
	return summaries, nil
}

func decodeAccountSummary(raw []byte) (*AccountSummary, error) {
	out, err := poolABI.Unpack("getUserAccountData", raw)
	if err != nil {
		return nil, err
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("unexpected getUserAccountData arity %d", len(out))
	}

	collateral, ok1 := out[0].(*big.Int)
	debt, ok2 := out[1].(*big.Int)
	health, ok3 := out[5].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("unexpected getUserAccountData field types")
	}

	summary := &AccountSummary{
		TotalCollateralBase: collateral,
		TotalDebtBase:       debt,
	}
	// With no debt the pool reports an effectively infinite health factor;
	// leave it undefined instead of carrying a sentinel around.
	if debt.Sign() > 0 {
		summary.HealthFactor = health
	}
	return summary, nil
}

// Reserves returns the pool's reserve list with decoded configuration and
// token addresses, cached after the first call. Reserves whose metadata
// cannot be read are omitted (they cannot be evaluated, not fatal).
func (r *Reader) Reserves(ctx context.Context) ([]Reserve, error) {
	r.mu.RLock()
	cached := r.reserves
	r.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	assets, err := r.reservesList(ctx)
	if err != nil {
		return nil, err
	}

	calls := make([]multicall.Call, 0, len(assets)*2)
	for _, asset := range assets {
		cfgData, err := poolABI.Pack("getConfiguration", asset)
		if err != nil {
			return nil, fmt.Errorf("pack getConfiguration: %w", err)
		}
		resData, err := poolABI.Pack("getReserveData", asset)
		if err != nil {
			return nil, fmt.Errorf("pack getReserveData: %w", err)
		}
		calls = append(calls,
			multicall.Call{Target: r.pool, AllowFailure: true, CallData: cfgData},
			multicall.Call{Target: r.pool, AllowFailure: true, CallData: resData},
		)
	}

	results, err := r.batch.Aggregate(ctx, calls)
	if err != nil {
		return nil, err
	}

	reserves := make([]Reserve, 0, len(assets))
	for i, asset := range assets {
		cfgRes := results[i*2]
		datRes := results[i*2+1]
		if !cfgRes.Success || !datRes.Success {
			r.logger.Warn().Str("asset", asset.Hex()).Msg("skipping reserve with unreadable metadata")
			continue
		}

		cfgWord, err := decodeConfigurationWord(cfgRes.ReturnData)
		if err != nil {
			r.logger.Warn().Err(err).Str("asset", asset.Hex()).Msg("skipping reserve with undecodable configuration")
			continue
		}
		aToken, debtToken, err := decodeReserveTokens(datRes.ReturnData)
		if err != nil {
			r.logger.Warn().Err(err).Str("asset", asset.Hex()).Msg("skipping reserve with undecodable reserve data")
			continue
		}

		reserves = append(reserves, Reserve{
			Asset:             asset,
			Config:            DecodeReserveConfig(cfgWord),
			AToken:            aToken,
			VariableDebtToken: debtToken,
		})
	}

	r.mu.Lock()
	r.reserves = reserves
	r.mu.Unlock()

	r.logger.Info().Int("reserves", len(reserves)).Msg("reserve reference data loaded")
	return reserves, nil
}

func (r *Reader) reservesList(ctx context.Context) ([]common.Address, error) {
	data, err := poolABI.Pack("getReservesList")
	if err != nil {
		return nil, fmt.Errorf("pack getReservesList: %w", err)
	}
	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.pool, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getReservesList: %w", err)
	}
	out, err := poolABI.Unpack("getReservesList", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack getReservesList: %w", err)
	}
	assets, ok := out[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected getReservesList output type")
	}
	return assets, nil
}

func decodeConfigurationWord(raw []byte) (*big.Int, error) {
	out, err := poolABI.Unpack("getConfiguration", raw)
	if err != nil {
		return nil, err
	}
	word, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getConfiguration output type")
	}
	return word, nil
}

type reserveDataTuple struct {
	Configuration               *big.Int
	LiquidityIndex              *big.Int
	CurrentLiquidityRate        *big.Int
	VariableBorrowIndex         *big.Int
	CurrentVariableBorrowRate   *big.Int
	CurrentStableBorrowRate     *big.Int
	LastUpdateTimestamp         *big.Int
	Id                          uint16
	ATokenAddress               common.Address
	StableDebtTokenAddress      common.Address
	VariableDebtTokenAddress    common.Address
	InterestRateStrategyAddress common.Address
	AccruedToTreasury           *big.Int
	Unbacked                    *big.Int
	IsolationModeTotalDebt      *big.Int
}

func decodeReserveTokens(raw []byte) (aToken, variableDebt common.Address, err error) {
	out, err := poolABI.Unpack("getReserveData", raw)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	tuple := *abiConvertReserveData(out[0])
	return tuple.ATokenAddress, tuple.VariableDebtTokenAddress, nil
}

// BaseCurrencyUnit reads the oracle's base-currency scaling unit, cached for
// the process lifetime.
func (r *Reader) BaseCurrencyUnit(ctx context.Context) (*big.Int, error) {
	r.mu.RLock()
	cached := r.baseUnit
	r.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	data, err := oracleABI.Pack("BASE_CURRENCY_UNIT")
	if err != nil {
		return nil, fmt.Errorf("pack BASE_CURRENCY_UNIT: %w", err)
	}
	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.oracle, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call BASE_CURRENCY_UNIT: %w", err)
	}
	out, err := oracleABI.Unpack("BASE_CURRENCY_UNIT", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack BASE_CURRENCY_UNIT: %w", err)
	}
	unit, ok := out[0].(*big.Int)
	if !ok || unit.Sign() <= 0 {
		return nil, fmt.Errorf("oracle returned invalid base currency unit")
	}

	r.mu.Lock()
	r.baseUnit = unit
	r.mu.Unlock()
	return unit, nil
}

// AssetPrices reads current prices for the given assets in one oracle call.
func (r *Reader) AssetPrices(ctx context.Context, assets []common.Address) (map[common.Address]*big.Int, error) {
	prices := make(map[common.Address]*big.Int, len(assets))
	if len(assets) == 0 {
		return prices, nil
	}

	data, err := oracleABI.Pack("getAssetsPrices", assets)
	if err != nil {
		return nil, fmt.Errorf("pack getAssetsPrices: %w", err)
	}
	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.oracle, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getAssetsPrices: %w", err)
	}
	out, err := oracleABI.Unpack("getAssetsPrices", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack getAssetsPrices: %w", err)
	}
	values, ok := out[0].([]*big.Int)
	if !ok || len(values) != len(assets) {
		return nil, fmt.Errorf("unexpected getAssetsPrices output")
	}

	for i, asset := range assets {
		prices[asset] = values[i]
	}
	return prices, nil
}

// Positions reads the account's aToken collateral and variable-debt balances
// across all reserves in one batch and keeps the non-zero entries.
func (r *Reader) Positions(ctx context.Context, user common.Address) ([]Position, error) {
	reserves, err := r.Reserves(ctx)
	if err != nil {
		return nil, err
	}
	if len(reserves) == 0 {
		return []Position{}, nil
	}

	balanceData, err := erc20ABI.Pack("balanceOf", user)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}

	calls := make([]multicall.Call, 0, len(reserves)*2)
	for _, reserve := range reserves {
		calls = append(calls,
			multicall.Call{Target: reserve.AToken, AllowFailure: true, CallData: balanceData},
			multicall.Call{Target: reserve.VariableDebtToken, AllowFailure: true, CallData: balanceData},
		)
	}

	results, err := r.batch.Aggregate(ctx, calls)
	if err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(reserves))
	for i, reserve := range reserves {
		collateral := decodeBalance(results[i*2])
		debt := decodeBalance(results[i*2+1])
		if collateral == nil && debt == nil {
			continue
		}
		if (collateral == nil || collateral.Sign() == 0) && (debt == nil || debt.Sign() == 0) {
			continue
		}
		if collateral == nil {
			collateral = new(big.Int)
		}
		if debt == nil {
			debt = new(big.Int)
		}
		positions = append(positions, Position{
			Reserve:           reserve,
			CollateralBalance: collateral,
			DebtBalance:       debt,
		})
	}
	return positions, nil
}

func decodeBalance(res multicall.Result) *big.Int {
	if !res.Success || len(res.ReturnData) == 0 {
		return nil
	}
	out, err := erc20ABI.Unpack("balanceOf", res.ReturnData)
	if err != nil {
		return nil
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil
	}
	return balance
}
