package lending

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func packConfig(ltv, threshold, bonus int64, decimals uint8, active, frozen, borrowing, stable, paused bool) *big.Int {
	word := big.NewInt(0)
	word.Or(word, big.NewInt(ltv))
	word.Or(word, new(big.Int).Lsh(big.NewInt(threshold), liqThresholdOffset))
	word.Or(word, new(big.Int).Lsh(big.NewInt(bonus), liqBonusOffset))
	word.Or(word, new(big.Int).Lsh(big.NewInt(int64(decimals)), decimalsOffset))
	setFlag := func(offset uint, on bool) {
		if on {
			word.SetBit(word, int(offset), 1)
		}
	}
	setFlag(activeFlagOffset, active)
	setFlag(frozenFlagOffset, frozen)
	setFlag(borrowingFlagOffset, borrowing)
	setFlag(stableRateOffset, stable)
	setFlag(pausedFlagOffset, paused)
	return word
}

func TestDecodeReserveConfigAllFields(t *testing.T) {
	word := packConfig(8000, 8250, 10500, 18, true, false, true, false, false)

	cfg := DecodeReserveConfig(word)
	require.EqualValues(t, 8000, cfg.LTVBps)
	require.EqualValues(t, 8250, cfg.LiquidationThresholdBps)
	require.EqualValues(t, 10500, cfg.LiquidationBonusBps)
	require.EqualValues(t, 18, cfg.Decimals)
	require.True(t, cfg.Active)
	require.False(t, cfg.Frozen)
	require.True(t, cfg.BorrowingEnabled)
	require.False(t, cfg.StableRateEnabled)
	require.False(t, cfg.Paused)
}

// Each field decodes independently of its neighbours: saturate everything
// except the field under test and check it reads back zero, then the
// inverse.
func TestDecodeReserveConfigFieldIsolation(t *testing.T) {
	t.Run("ltv", func(t *testing.T) {
		only := DecodeReserveConfig(packConfig(0xFFFF, 0, 0, 0, false, false, false, false, false))
		require.EqualValues(t, 0xFFFF, only.LTVBps)
		require.Zero(t, only.LiquidationThresholdBps)
		require.Zero(t, only.LiquidationBonusBps)
		require.Zero(t, only.Decimals)
	})

	t.Run("threshold", func(t *testing.T) {
		only := DecodeReserveConfig(packConfig(0, 0xFFFF, 0, 0, false, false, false, false, false))
		require.Zero(t, only.LTVBps)
		require.EqualValues(t, 0xFFFF, only.LiquidationThresholdBps)
		require.Zero(t, only.LiquidationBonusBps)
	})

	t.Run("bonus", func(t *testing.T) {
		only := DecodeReserveConfig(packConfig(0, 0, 0xFFFF, 0, false, false, false, false, false))
		require.Zero(t, only.LiquidationThresholdBps)
		require.EqualValues(t, 0xFFFF, only.LiquidationBonusBps)
		require.Zero(t, only.Decimals)
	})

	t.Run("decimals", func(t *testing.T) {
		only := DecodeReserveConfig(packConfig(0, 0, 0, 0xFF, false, false, false, false, false))
		require.Zero(t, only.LiquidationBonusBps)
		require.EqualValues(t, 0xFF, only.Decimals)
		require.False(t, only.Active)
	})

	t.Run("flags", func(t *testing.T) {
		cfg := DecodeReserveConfig(packConfig(0, 0, 0, 0, true, true, true, true, true))
		require.True(t, cfg.Active)
		require.True(t, cfg.Frozen)
		require.True(t, cfg.BorrowingEnabled)
		require.True(t, cfg.StableRateEnabled)
		require.True(t, cfg.Paused)
		require.Zero(t, cfg.LTVBps)
		require.Zero(t, cfg.Decimals)
	})
}

func TestDecodeReserveConfigAgainstKnownWord(t *testing.T) {
	// decimals 6, bonus 10450, threshold 7800, ltv 7500, active+borrowing.
	// Assembled with raw shifts, independent of the decoder's constants.
	manual := new(big.Int)
	manual.SetInt64(7500)
	manual.Or(manual, new(big.Int).Lsh(big.NewInt(7800), 16))
	manual.Or(manual, new(big.Int).Lsh(big.NewInt(10450), 32))
	manual.Or(manual, new(big.Int).Lsh(big.NewInt(6), 48))
	manual.Or(manual, new(big.Int).Lsh(big.NewInt(1), 56)) // active
	manual.Or(manual, new(big.Int).Lsh(big.NewInt(1), 58)) // borrowing

	cfg := DecodeReserveConfig(manual)
	require.EqualValues(t, 7500, cfg.LTVBps)
	require.EqualValues(t, 7800, cfg.LiquidationThresholdBps)
	require.EqualValues(t, 10450, cfg.LiquidationBonusBps)
	require.EqualValues(t, 6, cfg.Decimals)
	require.True(t, cfg.Active)
	require.False(t, cfg.Frozen)
	require.True(t, cfg.BorrowingEnabled)
	require.False(t, cfg.Paused)
	require.True(t, cfg.UsableAsCollateral())
	require.True(t, cfg.Borrowable())
}

func TestUsableAsCollateral(t *testing.T) {
	base := ReserveConfig{Active: true, LiquidationThresholdBps: 8000}
	require.True(t, base.UsableAsCollateral())

	paused := base
	paused.Paused = true
	require.False(t, paused.UsableAsCollateral())

	inactive := base
	inactive.Active = false
	require.False(t, inactive.UsableAsCollateral())

	noThreshold := base
	noThreshold.LiquidationThresholdBps = 0
	require.False(t, noThreshold.UsableAsCollateral())
}
