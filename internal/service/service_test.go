package service

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"liqwatcher/internal/alerting"
	"liqwatcher/internal/lending"
	"liqwatcher/internal/risk"
	"liqwatcher/internal/storage"
)

type fakeStore struct {
	due           []storage.DueAccount
	claimErr      error
	claimedTiers  []risk.Tier
	results       map[int64]storage.ResultUpdate
	opportunities []storage.Opportunity
}

func newFakeStore(due ...storage.DueAccount) *fakeStore {
	return &fakeStore{due: due, results: make(map[int64]storage.ResultUpdate)}
}

func (f *fakeStore) ClaimDue(ctx context.Context, networkID int64, tier risk.Tier, limit int) ([]storage.DueAccount, error) {
	f.claimedTiers = append(f.claimedTiers, tier)
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if limit < len(f.due) {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeStore) RecordResult(ctx context.Context, accountID int64, update storage.ResultUpdate) error {
	f.results[accountID] = update
	return nil
}

func (f *fakeStore) RecordOpportunity(ctx context.Context, opp storage.Opportunity) (storage.Opportunity, error) {
	opp.ID = int64(len(f.opportunities) + 1)
	opp.CreatedAt = time.Now()
	f.opportunities = append(f.opportunities, opp)
	return opp, nil
}

type fakeReader struct {
	summaries    []*lending.AccountSummary
	summariesErr error
	positions    []lending.Position
	positionsErr error
	prices       map[common.Address]*big.Int
	baseUnit     *big.Int

	summaryCalls int
}

func (f *fakeReader) AccountSummaries(ctx context.Context, users []common.Address) ([]*lending.AccountSummary, error) {
	f.summaryCalls++
	if f.summariesErr != nil {
		return nil, f.summariesErr
	}
	return f.summaries, nil
}

func (f *fakeReader) Positions(ctx context.Context, user common.Address) ([]lending.Position, error) {
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	return f.positions, nil
}

func (f *fakeReader) AssetPrices(ctx context.Context, assets []common.Address) (map[common.Address]*big.Int, error) {
	return f.prices, nil
}

func (f *fakeReader) BaseCurrencyUnit(ctx context.Context) (*big.Int, error) {
	return f.baseUnit, nil
}

type fakeNotifier struct {
	notes []alerting.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	f.notes = append(f.notes, note)
	return nil
}

func scaled(s string) *big.Int {
	d := decimal.RequireFromString(s)
	return d.Shift(18).BigInt()
}

func testOptions() Options {
	return Options{
		NetworkID: 1,
		Thresholds: risk.Thresholds{
			Liquidation: scaled("1.0"),
			HighFreq:    scaled("1.1"),
			Normal:      scaled("1.5"),
		},
		TierIntervals: map[risk.Tier]time.Duration{
			risk.TierLiquidatable:  10 * time.Second,
			risk.TierHighFreqWatch: 30 * time.Second,
			risk.TierNormalWatch:   5 * time.Minute,
			risk.TierHealthy:       30 * time.Minute,
		},
		BatchSizes: map[risk.Tier]int{
			risk.TierLiquidatable:  50,
			risk.TierHighFreqWatch: 100,
			risk.TierNormalWatch:   200,
			risk.TierHealthy:       500,
		},
		RetryInterval:  30 * time.Second,
		CloseFactorBps: 5000,
		DexFeeBps:      30,
		MinProfitUSD:   decimal.NewFromInt(10),
	}
}

var (
	debtAsset = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	colAsset  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

// liquidatablePositions mirrors a 1000 USDC debt against 2000 units of an
// 18-decimal collateral priced at 2000: repay 500 USDC, ~23.5 profit.
func liquidatablePositions() ([]lending.Position, map[common.Address]*big.Int) {
	debtBalance, _ := new(big.Int).SetString("1000000000", 10) // 1000 * 1e6
	colBalance, _ := new(big.Int).SetString("2000000000000000000000", 10)

	positions := []lending.Position{
		{
			Reserve: lending.Reserve{
				Asset: debtAsset,
				Config: lending.ReserveConfig{
					Decimals:                6,
					Active:                  true,
					BorrowingEnabled:        true,
					LiquidationThresholdBps: 8500,
					LiquidationBonusBps:     10500,
				},
			},
			CollateralBalance: new(big.Int),
			DebtBalance:       debtBalance,
		},
		{
			Reserve: lending.Reserve{
				Asset: colAsset,
				Config: lending.ReserveConfig{
					Decimals:                18,
					Active:                  true,
					LiquidationThresholdBps: 8250,
					LiquidationBonusBps:     10500,
				},
			},
			CollateralBalance: colBalance,
			DebtBalance:       new(big.Int),
		},
	}

	prices := map[common.Address]*big.Int{
		debtAsset: big.NewInt(100_000_000),     // 1.0 * 1e8
		colAsset:  big.NewInt(200_000_000_000), // 2000 * 1e8
	}
	return positions, prices
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestTickTierReclassifiesAccount(t *testing.T) {
	store := newFakeStore(storage.DueAccount{ID: 7, Address: "0x00000000000000000000000000000000000000aa"})
	reader := &fakeReader{
		summaries: []*lending.AccountSummary{{
			TotalCollateralBase: big.NewInt(1),
			TotalDebtBase:       big.NewInt(1),
			HealthFactor:        scaled("1.05"),
		}},
	}

	svc := New(testOptions(), store, reader, nil, nil, zerolog.Nop())
	svc.now = fixedNow

	require.NoError(t, svc.TickTier(context.Background(), risk.TierNormalWatch))

	update, ok := store.results[7]
	require.True(t, ok)
	require.NotNil(t, update.Tier)
	require.Equal(t, risk.TierHighFreqWatch, *update.Tier)
	require.Equal(t, scaled("1.05"), update.HealthMeasure)
	require.Nil(t, update.Error)
	// rescheduled on the new tier's cadence, not the claiming tier's
	require.Equal(t, fixedNow().Add(30*time.Second), update.NextCheckAt)
}

func TestTickTierZeroDebtIsHealthy(t *testing.T) {
	store := newFakeStore(storage.DueAccount{ID: 3, Address: "0x00000000000000000000000000000000000000ab"})
	reader := &fakeReader{
		summaries: []*lending.AccountSummary{{
			TotalCollateralBase: big.NewInt(100),
			TotalDebtBase:       new(big.Int),
			HealthFactor:        nil,
		}},
	}

	svc := New(testOptions(), store, reader, nil, nil, zerolog.Nop())
	svc.now = fixedNow

	require.NoError(t, svc.TickTier(context.Background(), risk.TierNormalWatch))

	update := store.results[3]
	require.Equal(t, risk.TierHealthy, *update.Tier)
	require.Nil(t, update.HealthMeasure)
	require.Equal(t, fixedNow().Add(30*time.Minute), update.NextCheckAt)
}

func TestTickTierRecordsReadFailureWithShortRetry(t *testing.T) {
	store := newFakeStore(
		storage.DueAccount{ID: 1, Address: "0x00000000000000000000000000000000000000aa"},
		storage.DueAccount{ID: 2, Address: "0x00000000000000000000000000000000000000ab"},
	)
	reader := &fakeReader{
		summaries: []*lending.AccountSummary{
			nil, // first account's sub-read failed
			{TotalCollateralBase: big.NewInt(1), TotalDebtBase: big.NewInt(1), HealthFactor: scaled("2.0")},
		},
	}

	svc := New(testOptions(), store, reader, nil, nil, zerolog.Nop())
	svc.now = fixedNow

	require.NoError(t, svc.TickTier(context.Background(), risk.TierNormalWatch))

	failed := store.results[1]
	require.NotNil(t, failed.Error)
	require.Nil(t, failed.Tier)
	require.Nil(t, failed.HealthMeasure)
	require.Equal(t, fixedNow().Add(30*time.Second), failed.NextCheckAt)

	// the healthy neighbour is unaffected by the failed slot
	ok := store.results[2]
	require.NotNil(t, ok.Tier)
	require.Equal(t, risk.TierHealthy, *ok.Tier)
}

func TestTickTierTransportErrorWritesNothing(t *testing.T) {
	store := newFakeStore(storage.DueAccount{ID: 1, Address: "0x00000000000000000000000000000000000000aa"})
	reader := &fakeReader{summariesErr: fmt.Errorf("rpc unreachable")}

	svc := New(testOptions(), store, reader, nil, nil, zerolog.Nop())
	svc.now = fixedNow

	require.Error(t, svc.TickTier(context.Background(), risk.TierNormalWatch))
	require.Empty(t, store.results)
}

func TestTickTierEmptyClaimSkipsReads(t *testing.T) {
	store := newFakeStore()
	reader := &fakeReader{}

	svc := New(testOptions(), store, reader, nil, nil, zerolog.Nop())

	require.NoError(t, svc.TickTier(context.Background(), risk.TierHealthy))
	require.Zero(t, reader.summaryCalls)
}

func TestTickTierRecordsOpportunityAndNotifies(t *testing.T) {
	store := newFakeStore(storage.DueAccount{ID: 9, Address: "0x00000000000000000000000000000000000000aa"})
	positions, prices := liquidatablePositions()
	reader := &fakeReader{
		summaries: []*lending.AccountSummary{{
			TotalCollateralBase: big.NewInt(1),
			TotalDebtBase:       big.NewInt(1),
			HealthFactor:        scaled("0.95"),
		}},
		positions: positions,
		prices:    prices,
		baseUnit:  big.NewInt(100_000_000),
	}
	notifier := &fakeNotifier{}

	svc := New(testOptions(), store, reader, notifier, nil, zerolog.Nop())
	svc.now = fixedNow

	require.NoError(t, svc.TickTier(context.Background(), risk.TierHighFreqWatch))

	require.Len(t, store.opportunities, 1)
	opp := store.opportunities[0]
	require.Equal(t, int64(9), opp.AccountID)
	require.Equal(t, debtAsset.Hex(), opp.DebtAsset)
	require.Equal(t, colAsset.Hex(), opp.CollateralAsset)
	require.Equal(t, "500000000", opp.RepayAmount.String())
	require.Equal(t, "23.5", opp.ProfitUSD.String())

	require.Len(t, notifier.notes, 1)
	require.Equal(t, opp.AccountAddress, notifier.notes[0].AccountAddress)

	// account is still reclassified after the chase
	update := store.results[9]
	require.Equal(t, risk.TierLiquidatable, *update.Tier)
	require.Equal(t, fixedNow().Add(10*time.Second), update.NextCheckAt)
}

func TestTickTierSkipsOpportunityBelowProfitFloor(t *testing.T) {
	store := newFakeStore(storage.DueAccount{ID: 4, Address: "0x00000000000000000000000000000000000000aa"})
	positions, prices := liquidatablePositions()
	reader := &fakeReader{
		summaries: []*lending.AccountSummary{{
			TotalCollateralBase: big.NewInt(1),
			TotalDebtBase:       big.NewInt(1),
			HealthFactor:        scaled("0.95"),
		}},
		positions: positions,
		prices:    prices,
		baseUnit:  big.NewInt(100_000_000),
	}

	opts := testOptions()
	opts.MinProfitUSD = decimal.NewFromInt(100)

	svc := New(opts, store, reader, nil, nil, zerolog.Nop())
	svc.now = fixedNow

	require.NoError(t, svc.TickTier(context.Background(), risk.TierLiquidatable))

	// a diagnostic row is written instead of a real opportunity
	require.Len(t, store.opportunities, 1)
	diag := store.opportunities[0]
	require.Contains(t, diag.Notes, "no opportunity")
	require.Contains(t, diag.Notes, "below floor")
	require.Zero(t, diag.RepayAmount.Sign())
	require.Zero(t, diag.ProfitBase.Sign())

	update := store.results[4]
	require.Equal(t, risk.TierLiquidatable, *update.Tier)
}

func TestTickTierLiquidatableWithNoPairsStillRecorded(t *testing.T) {
	store := newFakeStore(storage.DueAccount{ID: 5, Address: "0x00000000000000000000000000000000000000aa"})
	reader := &fakeReader{
		summaries: []*lending.AccountSummary{{
			TotalCollateralBase: big.NewInt(1),
			TotalDebtBase:       big.NewInt(1),
			HealthFactor:        scaled("0.5"),
		}},
		positions: []lending.Position{},
	}

	svc := New(testOptions(), store, reader, nil, nil, zerolog.Nop())
	svc.now = fixedNow

	require.NoError(t, svc.TickTier(context.Background(), risk.TierLiquidatable))

	require.Len(t, store.opportunities, 1)
	require.Contains(t, store.opportunities[0].Notes, "no opportunity")

	update := store.results[5]
	require.Equal(t, risk.TierLiquidatable, *update.Tier)
}

func TestTickTierPositionFailureStillReschedules(t *testing.T) {
	store := newFakeStore(storage.DueAccount{ID: 6, Address: "0x00000000000000000000000000000000000000aa"})
	reader := &fakeReader{
		summaries: []*lending.AccountSummary{{
			TotalCollateralBase: big.NewInt(1),
			TotalDebtBase:       big.NewInt(1),
			HealthFactor:        scaled("0.9"),
		}},
		positionsErr: fmt.Errorf("positions unavailable"),
	}

	svc := New(testOptions(), store, reader, nil, nil, zerolog.Nop())
	svc.now = fixedNow

	require.NoError(t, svc.TickTier(context.Background(), risk.TierLiquidatable))

	update := store.results[6]
	require.Equal(t, risk.TierLiquidatable, *update.Tier)
	require.Equal(t, scaled("0.9"), update.HealthMeasure)
}
