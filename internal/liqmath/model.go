// Package liqmath implements the integer liquidation economics: the maximum
// profitable repay amount for a (debt, collateral) pair and the expected
// profit of executing it. Everything on the exact path is math/big integer
// arithmetic with truncating division; the USD figure is a segregated
// approximation used only for ranking and thresholds.
package liqmath

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput marks a violated precondition (non-positive price, bonus,
// or balance). Callers skip the offending pair and continue.
var ErrInvalidInput = errors.New("liqmath: invalid input")

const bpsDenominator = 10_000

var bpsDen = big.NewInt(bpsDenominator)

// MaxRepayInput collects the integer inputs for the repay bound computation.
// Prices are in the oracle's base-currency unit; amounts in native token
// units; bonuses and the close factor in basis points.
type MaxRepayInput struct {
	DebtAmount          *big.Int
	CloseFactorBps      int64
	CollateralBalance   *big.Int
	PriceDebt           *big.Int
	PriceCollateral     *big.Int
	LiquidationBonusBps int64
	DebtDecimals        uint8
	CollateralDecimals  uint8
}

func (in MaxRepayInput) validate() error {
	if in.DebtAmount == nil || in.DebtAmount.Sign() < 0 {
		return fmt.Errorf("%w: debt amount must be set and non-negative", ErrInvalidInput)
	}
	if in.CollateralBalance == nil || in.CollateralBalance.Sign() <= 0 {
		return fmt.Errorf("%w: collateral balance must be positive", ErrInvalidInput)
	}
	if in.PriceDebt == nil || in.PriceDebt.Sign() <= 0 {
		return fmt.Errorf("%w: debt price must be positive", ErrInvalidInput)
	}
	if in.PriceCollateral == nil || in.PriceCollateral.Sign() <= 0 {
		return fmt.Errorf("%w: collateral price must be positive", ErrInvalidInput)
	}
	if in.LiquidationBonusBps <= 0 {
		return fmt.Errorf("%w: liquidation bonus must be positive", ErrInvalidInput)
	}
	if in.CloseFactorBps <= 0 || in.CloseFactorBps > bpsDenominator {
		return fmt.Errorf("%w: close factor %d bps out of range", ErrInvalidInput, in.CloseFactorBps)
	}
	return nil
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// MaxRepay returns the largest repay amount (in debt token units) bounded by
// both the close factor and the seizable collateral. All divisions truncate
// toward zero, so the result can only under-estimate collateral availability.
func MaxRepay(in MaxRepayInput) (*big.Int, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	// maxByCloseFactor = debtAmount * closeFactorBps / 10000
	byCloseFactor := new(big.Int).Mul(in.DebtAmount, big.NewInt(in.CloseFactorBps))
	byCloseFactor.Quo(byCloseFactor, bpsDen)

	// maxByCollateral = colBalance * priceCol * 10000 * 10^debtDec
	//                 / (priceDebt * bonusBps * 10^colDec)
	num := new(big.Int).Mul(in.CollateralBalance, in.PriceCollateral)
	num.Mul(num, bpsDen)
	num.Mul(num, pow10(in.DebtDecimals))

	den := new(big.Int).Mul(in.PriceDebt, big.NewInt(in.LiquidationBonusBps))
	den.Mul(den, pow10(in.CollateralDecimals))

	byCollateral := new(big.Int).Quo(num, den)

	if byCloseFactor.Cmp(byCollateral) <= 0 {
		return byCloseFactor, nil
	}
	return byCollateral, nil
}

// ProfitInput extends MaxRepayInput with the cost model.
type ProfitInput struct {
	MaxRepayInput

	// DexFeeBps models the swap fee paid to convert seized collateral back
	// into the debt asset. Zero disables it.
	DexFeeBps int64
	// ExtraCostBase is a flat cost in base-currency units (gas, bots, etc.).
	// Nil means zero.
	ExtraCostBase *big.Int
	// BaseCurrencyUnit scales base-currency integers to whole units for the
	// approximate USD figure. Must be positive.
	BaseCurrencyUnit *big.Int
}

// ProfitResult reports the outcome of evaluating one (debt, collateral) pair.
type ProfitResult struct {
	RepayAmount *big.Int
	// ProfitBase is exact, in base-currency units. May be negative.
	ProfitBase *big.Int
	// ProfitUSD is approximate and only suitable for ranking and threshold
	// comparison, never for on-chain amounts.
	ProfitUSD decimal.Decimal
}

// EvaluateProfit computes the repay amount for the pair and the expected
// profit of seizing collateral at the liquidation bonus, net of the swap fee
// and any flat cost.
func EvaluateProfit(in ProfitInput) (ProfitResult, error) {
	if in.DexFeeBps < 0 {
		return ProfitResult{}, fmt.Errorf("%w: dex fee must be non-negative", ErrInvalidInput)
	}
	if in.BaseCurrencyUnit == nil || in.BaseCurrencyUnit.Sign() <= 0 {
		return ProfitResult{}, fmt.Errorf("%w: base currency unit must be positive", ErrInvalidInput)
	}

	repay, err := MaxRepay(in.MaxRepayInput)
	if err != nil {
		return ProfitResult{}, err
	}

	// repayValueBase = repay * priceDebt / 10^debtDec
	repayValue := new(big.Int).Mul(repay, in.PriceDebt)
	repayValue.Quo(repayValue, pow10(in.DebtDecimals))

	seizedValue := new(big.Int).Mul(repayValue, big.NewInt(in.LiquidationBonusBps))
	seizedValue.Quo(seizedValue, bpsDen)

	fee := new(big.Int)
	if in.DexFeeBps > 0 {
		fee.Mul(repayValue, big.NewInt(in.DexFeeBps))
		fee.Quo(fee, bpsDen)
	}

	profit := new(big.Int).Sub(seizedValue, repayValue)
	profit.Sub(profit, fee)
	if in.ExtraCostBase != nil {
		profit.Sub(profit, in.ExtraCostBase)
	}

	usd := decimal.NewFromBigInt(profit, 0).Div(decimal.NewFromBigInt(in.BaseCurrencyUnit, 0))

	return ProfitResult{
		RepayAmount: repay,
		ProfitBase:  profit,
		ProfitUSD:   usd,
	}, nil
}
