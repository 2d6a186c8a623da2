package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"liqwatcher/internal/app"
)

var (
	simulateDebtAmount   string
	simulateColBalance   string
	simulatePriceDebt    string
	simulatePriceCol     string
	simulateBonusBps     int64
	simulateDebtDecimals uint8
	simulateColDecimals  uint8
	simulateBaseUnit     string
	simulateNotify       bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Evaluate one debt/collateral pair with the configured economics",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateDebtAmount == "" || simulateColBalance == "" {
			return errors.New("--debt-amount and --collateral-balance must be provided")
		}
		if simulatePriceDebt == "" || simulatePriceCol == "" {
			return errors.New("--price-debt and --price-collateral must be provided")
		}

		opts := app.SimulateOptions{
			DebtAmount:          simulateDebtAmount,
			CollateralBalance:   simulateColBalance,
			PriceDebt:           simulatePriceDebt,
			PriceCollateral:     simulatePriceCol,
			LiquidationBonusBps: simulateBonusBps,
			DebtDecimals:        simulateDebtDecimals,
			CollateralDecimals:  simulateColDecimals,
			BaseCurrencyUnit:    simulateBaseUnit,
			Notify:              simulateNotify,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateDebtAmount, "debt-amount", "", "Debt amount in native token units")
	simulateCmd.Flags().StringVar(&simulateColBalance, "collateral-balance", "", "Collateral balance in native token units")
	simulateCmd.Flags().StringVar(&simulatePriceDebt, "price-debt", "", "Debt asset price in base-currency units")
	simulateCmd.Flags().StringVar(&simulatePriceCol, "price-collateral", "", "Collateral asset price in base-currency units")
	simulateCmd.Flags().Int64Var(&simulateBonusBps, "bonus-bps", 10500, "Liquidation bonus in basis points")
	simulateCmd.Flags().Uint8Var(&simulateDebtDecimals, "debt-decimals", 18, "Debt token decimals")
	simulateCmd.Flags().Uint8Var(&simulateColDecimals, "collateral-decimals", 18, "Collateral token decimals")
	simulateCmd.Flags().StringVar(&simulateBaseUnit, "base-unit", "100000000", "Oracle base currency unit")
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "Send the result through the configured notifier")
}
