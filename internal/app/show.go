package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent opportunities.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	opportunities, err := store.ListRecentOpportunities(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(opportunities) == 0 {
		fmt.Fprintln(os.Stdout, "no opportunities found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tAccount\tDebt\tCollateral\tRepay\tProfit USD\tNotes")

	for _, opp := range opportunities {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			opp.CreatedAt.UTC().Format(time.RFC3339),
			opp.AccountAddress,
			opp.DebtAsset,
			opp.CollateralAsset,
			opp.RepayAmount.String(),
			opp.ProfitUSD.StringFixed(2),
			sanitizeInline(opp.Notes),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
