package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"liqwatcher/internal/discovery"
)

// Discover pulls borrower addresses from the configured indexer and seeds
// the monitored-account set.
func (a *App) Discover(ctx context.Context, opts DiscoverOptions) error {
	if a.Config.Discovery.BaseURL == "" {
		return errors.New("discovery.base_url is not configured")
	}

	client := discovery.NewClient(discovery.Options{
		BaseURL:        a.Config.Discovery.BaseURL,
		PageSize:       a.Config.Discovery.PageSize,
		RequestTimeout: a.Config.Discovery.RequestTimeout,
		UserAgent:      a.Config.Discovery.UserAgent,
	}, a.Logger)

	addresses, err := client.FetchAccounts(ctx)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		a.Logger.Warn().Msg("indexer returned no accounts")
		return nil
	}

	if opts.DryRun {
		fmt.Fprintf(os.Stdout, "dry run: %d account(s) discovered, nothing written\n", len(addresses))
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	touched, err := store.UpsertAccounts(ctx, a.Config.Network.ChainID, addresses)
	if err != nil {
		return fmt.Errorf("seed accounts: %w", err)
	}

	total, err := store.CountAccounts(ctx, a.Config.Network.ChainID)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Int("discovered", len(addresses)).
		Int("touched", touched).
		Int64("active_total", total).
		Msg("account discovery finished")
	return nil
}
