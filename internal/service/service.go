package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"liqwatcher/internal/alerting"
	"liqwatcher/internal/lending"
	"liqwatcher/internal/liqmath"
	"liqwatcher/internal/metrics"
	"liqwatcher/internal/risk"
	"liqwatcher/internal/storage"
)

// ChainReader is the slice of lending pool access the service needs.
type ChainReader interface {
	AccountSummaries(ctx context.Context, users []common.Address) ([]*lending.AccountSummary, error)
	Positions(ctx context.Context, user common.Address) ([]lending.Position, error)
	AssetPrices(ctx context.Context, assets []common.Address) (map[common.Address]*big.Int, error)
	BaseCurrencyUnit(ctx context.Context) (*big.Int, error)
}

// Options parameterise the monitoring service.
type Options struct {
	NetworkID       int64
	Thresholds      risk.Thresholds
	TierIntervals   map[risk.Tier]time.Duration
	BatchSizes      map[risk.Tier]int
	RetryInterval   time.Duration
	CloseFactorBps  int64
	DexFeeBps       int64
	ExtraCostBase   *big.Int
	MinProfitUSD    decimal.Decimal
	AdvisoryLockKey int64
}

// Service orchestrates claiming due accounts, evaluating their health, and
// recording liquidation opportunities.
type Service struct {
	opts     Options
	store    storage.MonitorStore
	locker   storage.AdvisoryLocker
	reader   ChainReader
	notifier alerting.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	now func() time.Time
}

// New constructs the monitoring service. Locking is used when the store also
// implements AdvisoryLocker and a key is configured.
func New(opts Options, store storage.MonitorStore, reader ChainReader, notifier alerting.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		opts:     opts,
		store:    store,
		locker:   locker,
		reader:   reader,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "service").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// TickTier runs one scheduling pass for a tier: claim due accounts, read
// their state in one batch, reclassify each, and chase liquidatable ones for
// opportunities. Per-account read failures are recorded and retried on a
// short cadence without failing the pass.
func (s *Service) TickTier(ctx context.Context, tier risk.Tier) error {
	unlock, proceed, err := s.acquireLock(ctx, tier)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Str("tier", string(tier)).Msg("skip pass, advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if s.metrics != nil {
		s.metrics.Ticks.WithLabelValues(string(tier)).Inc()
		start := time.Now()
		defer func() {
			s.metrics.TickDuration.WithLabelValues(string(tier)).Observe(time.Since(start).Seconds())
		}()
	}

	limit := s.opts.BatchSizes[tier]
	due, err := s.store.ClaimDue(ctx, s.opts.NetworkID, tier, limit)
	if err != nil {
		return fmt.Errorf("claim due accounts: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	if s.metrics != nil {
		s.metrics.AccountsClaimed.WithLabelValues(string(tier)).Add(float64(len(due)))
	}

	users := make([]common.Address, len(due))
	for i, acct := range due {
		users[i] = common.HexToAddress(acct.Address)
	}

	summaries, err := s.reader.AccountSummaries(ctx, users)
	if err != nil {
		// Transport-level failure: nothing was read, nothing is written, and
		// the accounts stay due for the next firing.
		return fmt.Errorf("read account summaries: %w", err)
	}

	for i, acct := range due {
		if err := s.evaluateAccount(ctx, acct, users[i], summaries[i]); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.logger.Error().Err(err).Str("address", acct.Address).Msg("account evaluation failed")
		}
	}
	return nil
}

func (s *Service) evaluateAccount(ctx context.Context, acct storage.DueAccount, user common.Address, summary *lending.AccountSummary) error {
	now := s.now()

	if summary == nil {
		if s.metrics != nil {
			s.metrics.ReadFailures.Inc()
		}
		msg := "account summary read failed"
		update := storage.ResultUpdate{
			Error:       &msg,
			NextCheckAt: now.Add(s.opts.RetryInterval),
		}
		return s.store.RecordResult(ctx, acct.ID, update)
	}

	tier := risk.Classify(summary.HealthFactor, s.opts.Thresholds)
	update := storage.ResultUpdate{
		HealthMeasure: summary.HealthFactor,
		Tier:          &tier,
		NextCheckAt:   now.Add(s.opts.TierIntervals[tier]),
	}
	if err := s.store.RecordResult(ctx, acct.ID, update); err != nil {
		return fmt.Errorf("record result: %w", err)
	}

	if tier == risk.TierLiquidatable {
		if err := s.chaseOpportunity(ctx, acct, user); err != nil {
			s.logger.Warn().Err(err).Str("address", acct.Address).Msg("opportunity evaluation failed")
		}
	}
	return nil
}

// chaseOpportunity evaluates every (debt, collateral) pair the account holds
// and records the single most profitable one when it clears the USD floor.
func (s *Service) chaseOpportunity(ctx context.Context, acct storage.DueAccount, user common.Address) error {
	positions, err := s.reader.Positions(ctx, user)
	if err != nil {
		return fmt.Errorf("read positions: %w", err)
	}

	var debts, collaterals []lending.Position
	assetSet := make(map[common.Address]struct{})
	for _, pos := range positions {
		if pos.DebtBalance.Sign() > 0 {
			debts = append(debts, pos)
			assetSet[pos.Reserve.Asset] = struct{}{}
		}
		if pos.CollateralBalance.Sign() > 0 && pos.Reserve.Config.UsableAsCollateral() {
			collaterals = append(collaterals, pos)
			assetSet[pos.Reserve.Asset] = struct{}{}
		}
	}
	if len(debts) == 0 || len(collaterals) == 0 {
		return s.recordNoOpportunity(ctx, acct, "no evaluable debt/collateral pair")
	}

	assets := make([]common.Address, 0, len(assetSet))
	for asset := range assetSet {
		assets = append(assets, asset)
	}
	prices, err := s.reader.AssetPrices(ctx, assets)
	if err != nil {
		return fmt.Errorf("read asset prices: %w", err)
	}
	baseUnit, err := s.reader.BaseCurrencyUnit(ctx)
	if err != nil {
		return fmt.Errorf("read base currency unit: %w", err)
	}

	var (
		best     liqmath.ProfitResult
		bestPair [2]lending.Position
		found    bool
	)
	for _, debt := range debts {
		for _, col := range collaterals {
			in := liqmath.ProfitInput{
				MaxRepayInput: liqmath.MaxRepayInput{
					DebtAmount:          debt.DebtBalance,
					CloseFactorBps:      s.opts.CloseFactorBps,
					CollateralBalance:   col.CollateralBalance,
					PriceDebt:           prices[debt.Reserve.Asset],
					PriceCollateral:     prices[col.Reserve.Asset],
					LiquidationBonusBps: col.Reserve.Config.LiquidationBonusBps,
					DebtDecimals:        debt.Reserve.Config.Decimals,
					CollateralDecimals:  col.Reserve.Config.Decimals,
				},
				DexFeeBps:        s.opts.DexFeeBps,
				ExtraCostBase:    s.opts.ExtraCostBase,
				BaseCurrencyUnit: baseUnit,
			}

			res, err := liqmath.EvaluateProfit(in)
			if err != nil {
				if errors.Is(err, liqmath.ErrInvalidInput) {
					continue
				}
				return err
			}
			if !found || res.ProfitUSD.GreaterThan(best.ProfitUSD) {
				best = res
				bestPair = [2]lending.Position{debt, col}
				found = true
			}
		}
	}

	if !found {
		return s.recordNoOpportunity(ctx, acct, "no valid pair evaluation")
	}
	if best.ProfitUSD.LessThan(s.opts.MinProfitUSD) {
		note := fmt.Sprintf("no opportunity: best pair %s below floor %s USD",
			best.ProfitUSD.StringFixed(4), s.opts.MinProfitUSD.String())
		return s.recordNoOpportunity(ctx, acct, note)
	}

	opp := storage.Opportunity{
		AccountID:       acct.ID,
		AccountAddress:  acct.Address,
		DebtAsset:       bestPair[0].Reserve.Asset.Hex(),
		CollateralAsset: bestPair[1].Reserve.Asset.Hex(),
		RepayAmount:     best.RepayAmount,
		ProfitBase:      best.ProfitBase,
		ProfitUSD:       best.ProfitUSD,
		Notes: fmt.Sprintf("best of %d pair(s), bonus %d bps",
			len(debts)*len(collaterals), bestPair[1].Reserve.Config.LiquidationBonusBps),
	}

	recorded, err := s.store.RecordOpportunity(ctx, opp)
	if err != nil {
		return fmt.Errorf("record opportunity: %w", err)
	}
	if s.metrics != nil {
		s.metrics.Opportunities.Inc()
	}

	s.logger.Info().
		Str("address", acct.Address).
		Str("debt_asset", recorded.DebtAsset).
		Str("collateral_asset", recorded.CollateralAsset).
		Str("profit_usd", recorded.ProfitUSD.String()).
		Msg("opportunity recorded")

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, alerting.Notification{
			AccountAddress:  recorded.AccountAddress,
			DebtAsset:       recorded.DebtAsset,
			CollateralAsset: recorded.CollateralAsset,
			RepayAmount:     recorded.RepayAmount,
			ProfitUSD:       recorded.ProfitUSD,
			DetectedAt:      recorded.CreatedAt,
		}); err != nil {
			s.logger.Error().Err(err).Str("address", acct.Address).Msg("failed to dispatch notification")
		}
	}
	return nil
}

// recordNoOpportunity appends a diagnostic row so a liquidatable account that
// yielded nothing is visible in history and not mistaken for an error.
func (s *Service) recordNoOpportunity(ctx context.Context, acct storage.DueAccount, reason string) error {
	if !strings.HasPrefix(reason, "no opportunity") {
		reason = "no opportunity: " + reason
	}
	_, err := s.store.RecordOpportunity(ctx, storage.Opportunity{
		AccountID:      acct.ID,
		AccountAddress: acct.Address,
		RepayAmount:    new(big.Int),
		ProfitBase:     new(big.Int),
		ProfitUSD:      decimal.Zero,
		Notes:          reason,
	})
	if err != nil {
		return fmt.Errorf("record diagnostic: %w", err)
	}
	s.logger.Debug().Str("address", acct.Address).Str("reason", reason).Msg("no opportunity recorded")
	return nil
}

func (s *Service) acquireLock(ctx context.Context, tier risk.Tier) (func(), bool, error) {
	if s.opts.AdvisoryLockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	key := s.opts.AdvisoryLockKey + tierLockOffset(tier)
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func tierLockOffset(tier risk.Tier) int64 {
	for i, t := range risk.Tiers {
		if t == tier {
			return int64(i)
		}
	}
	return 0
}
