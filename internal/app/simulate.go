package app

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"liqwatcher/internal/alerting"
	"liqwatcher/internal/liqmath"
)

// Simulate evaluates one (debt, collateral) pair from CLI inputs using the
// configured economics, without touching chain or database.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	parse := func(name, val string) (*big.Int, error) {
		n, ok := new(big.Int).SetString(val, 10)
		if !ok {
			return nil, fmt.Errorf("%w: --%s %q is not an integer", errSimulateInput, name, val)
		}
		return n, nil
	}

	debtAmount, err := parse("debt-amount", opts.DebtAmount)
	if err != nil {
		return err
	}
	colBalance, err := parse("collateral-balance", opts.CollateralBalance)
	if err != nil {
		return err
	}
	priceDebt, err := parse("price-debt", opts.PriceDebt)
	if err != nil {
		return err
	}
	priceCol, err := parse("price-collateral", opts.PriceCollateral)
	if err != nil {
		return err
	}
	baseUnit, err := parse("base-unit", opts.BaseCurrencyUnit)
	if err != nil {
		return err
	}

	var extraCost *big.Int
	if a.Config.Monitor.ExtraCostBase > 0 {
		extraCost = big.NewInt(a.Config.Monitor.ExtraCostBase)
	}

	result, err := liqmath.EvaluateProfit(liqmath.ProfitInput{
		MaxRepayInput: liqmath.MaxRepayInput{
			DebtAmount:          debtAmount,
			CloseFactorBps:      a.Config.Monitor.CloseFactorBps,
			CollateralBalance:   colBalance,
			PriceDebt:           priceDebt,
			PriceCollateral:     priceCol,
			LiquidationBonusBps: opts.LiquidationBonusBps,
			DebtDecimals:        opts.DebtDecimals,
			CollateralDecimals:  opts.CollateralDecimals,
		},
		DexFeeBps:        a.Config.Monitor.DexFeeBps,
		ExtraCostBase:    extraCost,
		BaseCurrencyUnit: baseUnit,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "repay amount:  %s\n", result.RepayAmount.String())
	fmt.Fprintf(os.Stdout, "profit (base): %s\n", result.ProfitBase.String())
	fmt.Fprintf(os.Stdout, "profit (USD):  %s\n", result.ProfitUSD.StringFixed(4))

	if opts.Notify {
		notifier := a.newNotifier()
		if notifier == nil {
			return fmt.Errorf("no notification channel configured")
		}
		return notifier.Notify(ctx, alerting.Notification{
			AccountAddress:  "simulated",
			DebtAsset:       "simulated",
			CollateralAsset: "simulated",
			RepayAmount:     result.RepayAmount,
			ProfitUSD:       result.ProfitUSD,
			DetectedAt:      time.Now().UTC(),
		})
	}
	return nil
}
