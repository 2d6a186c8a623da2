package storage

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"liqwatcher/internal/risk"
)

// MonitoredAccount is one persisted account row. Accounts are never deleted,
// only deactivated.
type MonitoredAccount struct {
	ID                int64
	NetworkID         int64
	Address           string
	Tier              risk.Tier
	NextCheckAt       time.Time
	LastCheckAt       *time.Time
	LastHealthMeasure *big.Int // nil when undefined (no debt)
	LastError         *string
	Active            bool
	CreatedAt         time.Time
}

// DueAccount is the claim-due projection handed to the scheduler.
type DueAccount struct {
	ID      int64
	Address string
}

// ResultUpdate carries the outcome of one account evaluation. Tier and
// HealthMeasure are applied only when set; an error-only update never
// clobbers the last known health measure.
type ResultUpdate struct {
	HealthMeasure *big.Int
	Tier          *risk.Tier
	Error         *string
	NextCheckAt   time.Time
}

// Opportunity is a write-once record of a detected liquidatable pair.
type Opportunity struct {
	ID              int64
	AccountID       int64
	AccountAddress  string
	DebtAsset       string
	CollateralAsset string
	RepayAmount     *big.Int
	ProfitBase      *big.Int
	ProfitUSD       decimal.Decimal
	Notes           string
	CreatedAt       time.Time
}
