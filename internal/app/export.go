package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"liqwatcher/internal/storage"
)

// Export renders opportunity history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, 0, -30)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	opportunities, err := store.ListOpportunitiesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(opportunities) == 0 {
		a.Logger.Info().Msg("no opportunities found for export window")
		return nil
	}

	downsampled := downsampleOpportunities(opportunities, opts.MaxPoints)
	a.Logger.Info().Int("total", len(opportunities)).Int("exported", len(downsampled)).Msg("exporting opportunities")

	if opts.CSVPath != "" {
		if err := writeOpportunitiesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeOpportunitiesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleOpportunities(opportunities []storage.Opportunity, max int) []storage.Opportunity {
	if max <= 0 || len(opportunities) <= max {
		return opportunities
	}

	result := make([]storage.Opportunity, 0, max)
	step := float64(len(opportunities)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(opportunities) {
			idx = len(opportunities) - 1
		}
		result = append(result, opportunities[idx])
	}
	return result
}

func writeOpportunitiesCSV(path string, opportunities []storage.Opportunity) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"detected_at", "account", "debt_asset", "collateral_asset", "repay_amount", "profit_base", "profit_usd", "notes"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, opp := range opportunities {
		record := []string{
			opp.CreatedAt.UTC().Format(time.RFC3339),
			opp.AccountAddress,
			opp.DebtAsset,
			opp.CollateralAsset,
			opp.RepayAmount.String(),
			opp.ProfitBase.String(),
			opp.ProfitUSD.String(),
			opp.Notes,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeOpportunitiesPNG(path string, opportunities []storage.Opportunity) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(opportunities))
	profit := make([]float64, len(opportunities))
	cumulative := make([]float64, len(opportunities))

	running := 0.0
	for i, opp := range opportunities {
		x[i] = opp.CreatedAt
		profit[i] = opp.ProfitUSD.InexactFloat64()
		running += profit[i]
		cumulative[i] = running
	}

	usdFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Profit (USD)",
			ValueFormatter: usdFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Cumulative (USD)",
			ValueFormatter: usdFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Per-opportunity profit",
				XValues: x,
				YValues: profit,
			},
			chart.TimeSeries{
				Name:    "Cumulative profit",
				XValues: x,
				YValues: cumulative,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
