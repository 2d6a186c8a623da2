package lending

import "math/big"

// Bit layout of the packed per-reserve configuration word. Each field sits
// at a fixed offset inside one uint256.
const (
	ltvOffset           = 0
	liqThresholdOffset  = 16
	liqBonusOffset      = 32
	decimalsOffset      = 48
	activeFlagOffset    = 56
	frozenFlagOffset    = 57
	borrowingFlagOffset = 58
	stableRateOffset    = 59
	pausedFlagOffset    = 60
)

const (
	ltvMask          = 0xFFFF
	liqThresholdMask = 0xFFFF
	liqBonusMask     = 0xFFFF
	decimalsMask     = 0xFF
)

// ReserveConfig is the decoded per-asset configuration.
type ReserveConfig struct {
	LTVBps                  int64
	LiquidationThresholdBps int64
	LiquidationBonusBps     int64
	Decimals                uint8
	Active                  bool
	Frozen                  bool
	BorrowingEnabled        bool
	StableRateEnabled       bool
	Paused                  bool
}

// UsableAsCollateral reports whether seized collateral from this reserve can
// carry a liquidation: the asset must be live and carry a liquidation
// threshold.
func (c ReserveConfig) UsableAsCollateral() bool {
	return c.Active && !c.Paused && c.LiquidationThresholdBps > 0
}

// Borrowable reports whether debt can exist against this reserve.
func (c ReserveConfig) Borrowable() bool {
	return c.Active && !c.Paused && c.BorrowingEnabled
}

func extractBits(data *big.Int, offset uint, mask int64) int64 {
	shifted := new(big.Int).Rsh(data, offset)
	return shifted.And(shifted, big.NewInt(mask)).Int64()
}

func extractFlag(data *big.Int, offset uint) bool {
	return data.Bit(int(offset)) == 1
}

// DecodeReserveConfig unpacks the configuration bitfield into a typed record.
func DecodeReserveConfig(data *big.Int) ReserveConfig {
	return ReserveConfig{
		LTVBps:                  extractBits(data, ltvOffset, ltvMask),
		LiquidationThresholdBps: extractBits(data, liqThresholdOffset, liqThresholdMask),
		LiquidationBonusBps:     extractBits(data, liqBonusOffset, liqBonusMask),
		Decimals:                uint8(extractBits(data, decimalsOffset, decimalsMask)),
		Active:                  extractFlag(data, activeFlagOffset),
		Frozen:                  extractFlag(data, frozenFlagOffset),
		BorrowingEnabled:        extractFlag(data, borrowingFlagOffset),
		StableRateEnabled:       extractFlag(data, stableRateOffset),
		Paused:                  extractFlag(data, pausedFlagOffset),
	}
}
