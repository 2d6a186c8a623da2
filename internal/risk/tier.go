package risk

import (
	"fmt"
	"math/big"
)

// Tier is the monitoring urgency band assigned to an account.
type Tier string

const (
	TierLiquidatable  Tier = "liquidatable"
	TierHighFreqWatch Tier = "high_freq_watch"
	TierNormalWatch   Tier = "normal_watch"
	TierHealthy       Tier = "healthy"
)

// Tiers lists all bands in decreasing order of urgency.
var Tiers = []Tier{TierLiquidatable, TierHighFreqWatch, TierNormalWatch, TierHealthy}

// Valid reports whether t is one of the known bands.
func (t Tier) Valid() bool {
	switch t {
	case TierLiquidatable, TierHighFreqWatch, TierNormalWatch, TierHealthy:
		return true
	}
	return false
}

// Thresholds hold the three band boundaries, fixed-point scaled to the same
// base as the health measure (1e18).
type Thresholds struct {
	Liquidation *big.Int
	HighFreq    *big.Int
	Normal      *big.Int
}

// Validate enforces liquidation < highFreq < normal, all positive.
func (t Thresholds) Validate() error {
	if t.Liquidation == nil || t.HighFreq == nil || t.Normal == nil {
		return fmt.Errorf("risk: all three thresholds must be set")
	}
	if t.Liquidation.Sign() <= 0 {
		return fmt.Errorf("risk: liquidation threshold must be positive")
	}
	if t.Liquidation.Cmp(t.HighFreq) >= 0 {
		return fmt.Errorf("risk: liquidation threshold %s must be below high-freq threshold %s", t.Liquidation, t.HighFreq)
	}
	if t.HighFreq.Cmp(t.Normal) >= 0 {
		return fmt.Errorf("risk: high-freq threshold %s must be below normal threshold %s", t.HighFreq, t.Normal)
	}
	return nil
}

// Classify maps a health measure to its band. Bands are closed at the lower
// boundary and open at the upper one. A nil health measure means the account
// has no debt and is always healthy.
func Classify(health *big.Int, t Thresholds) Tier {
	if health == nil {
		return TierHealthy
	}
	switch {
	case health.Cmp(t.Liquidation) < 0:
		return TierLiquidatable
	case health.Cmp(t.HighFreq) < 0:
		return TierHighFreqWatch
	case health.Cmp(t.Normal) < 0:
		return TierNormalWatch
	default:
		return TierHealthy
	}
}
