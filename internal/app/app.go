package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"liqwatcher/internal/alerting"
	"liqwatcher/internal/config"
	"liqwatcher/internal/lending"
	"liqwatcher/internal/metrics"
	"liqwatcher/internal/multicall"
	"liqwatcher/internal/provider"
	"liqwatcher/internal/risk"
	"liqwatcher/internal/scheduler"
	"liqwatcher/internal/service"
	"liqwatcher/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Config.Alerting.Cooldown, a.Logger)
	}
	return nil
}

// newReader wires the provider, multicall batcher, and lending reader. The
// returned closer releases dialed RPC clients.
func (a *App) newReader() (*lending.Reader, *provider.Provider, error) {
	if a.Config.Contracts.Pool == "" {
		return nil, nil, errors.New("contracts.pool is not configured")
	}
	if a.Config.Contracts.Oracle == "" {
		return nil, nil, errors.New("contracts.oracle is not configured")
	}

	prov, err := provider.New(provider.Options{
		RPCURLs:          a.Config.Network.RPCURLs,
		ChainID:          a.Config.Network.ChainID,
		ThrottleInterval: a.Config.Provider.ThrottleInterval,
		RotationHop:      a.Config.Provider.RotationHop,
		RequestTimeout:   a.Config.Network.RequestTimeout,
	}, a.Logger)
	if err != nil {
		return nil, nil, err
	}

	multicallAddr := common.HexToAddress(multicall.DefaultContract)
	if a.Config.Contracts.Multicall3 != "" {
		multicallAddr = common.HexToAddress(a.Config.Contracts.Multicall3)
	}

	batcher := multicall.New(prov, multicallAddr)
	reader := lending.NewReader(
		batcher,
		prov,
		common.HexToAddress(a.Config.Contracts.Pool),
		common.HexToAddress(a.Config.Contracts.Oracle),
		a.Logger,
	)
	return reader, prov, nil
}

func (a *App) serviceOptions() (service.Options, error) {
	thresholds, err := a.Config.Monitor.RiskThresholds()
	if err != nil {
		return service.Options{}, err
	}

	intervals := make(map[risk.Tier]time.Duration, len(risk.Tiers))
	batches := make(map[risk.Tier]int, len(risk.Tiers))
	for _, tier := range risk.Tiers {
		tc, err := a.Config.Tiers.ForTier(tier)
		if err != nil {
			return service.Options{}, err
		}
		intervals[tier] = tc.Interval
		batches[tier] = tc.BatchSize
	}

	var extraCost *big.Int
	if a.Config.Monitor.ExtraCostBase > 0 {
		extraCost = big.NewInt(a.Config.Monitor.ExtraCostBase)
	}

	return service.Options{
		NetworkID:       a.Config.Network.ChainID,
		Thresholds:      thresholds,
		TierIntervals:   intervals,
		BatchSizes:      batches,
		RetryInterval:   a.Config.Monitor.RetryInterval,
		CloseFactorBps:  a.Config.Monitor.CloseFactorBps,
		DexFeeBps:       a.Config.Monitor.DexFeeBps,
		ExtraCostBase:   extraCost,
		MinProfitUSD:    decimal.NewFromFloat(a.Config.Monitor.MinProfitUSD),
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
	}, nil
}

// Run executes the long-running monitoring loops, one worker per tier.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	reader, prov, err := a.newReader()
	if err != nil {
		return err
	}
	defer prov.Close()

	opts, err := a.serviceOptions()
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		m = metrics.New()
		prov.OnRotate = m.Rotations.Inc
		go func() {
			if err := m.Serve(ctx, addr, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	svc := service.New(opts, store, reader, a.newNotifier(), m, a.Logger)

	workers := make([]*scheduler.Worker, 0, len(risk.Tiers))
	for _, tier := range risk.Tiers {
		tc, err := a.Config.Tiers.ForTier(tier)
		if err != nil {
			return err
		}
		workers = append(workers, scheduler.NewWorker(tier, scheduler.Options{
			Interval:     tc.Interval,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, svc.TickTier, a.Logger))
	}

	a.Logger.Info().
		Int64("chain_id", a.Config.Network.ChainID).
		Int("workers", len(workers)).
		Msg("starting monitoring loops")

	err = scheduler.NewGroup(workers...).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitoring terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring stopped")
	return nil
}

// ExportOptions hold parameters for exporting opportunity history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// DiscoverOptions configure account discovery.
type DiscoverOptions struct {
	DryRun bool
}

// SimulateOptions carry the inputs of one ad-hoc pair evaluation.
type SimulateOptions struct {
	DebtAmount          string
	CollateralBalance   string
	PriceDebt           string
	PriceCollateral     string
	LiquidationBonusBps int64
	DebtDecimals        uint8
	CollateralDecimals  uint8
	BaseCurrencyUnit    string
	Notify              bool
}

var errSimulateInput = fmt.Errorf("invalid simulate input")
