package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"liqwatcher/internal/risk"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	claimDueSQL = `SELECT id, address
    FROM monitored_accounts
    WHERE network_id = $1
      AND tier = $2
      AND active
      AND next_check_at <= now()
    ORDER BY next_check_at ASC
    LIMIT $3;`

	recordResultSQL = `UPDATE monitored_accounts
    SET last_check_at       = now(),
        next_check_at       = $2,
        last_error          = $3,
        tier                = COALESCE($4, tier),
        last_health_measure = COALESCE($5, last_health_measure)
    WHERE id = $1;`

	insertOpportunitySQL = `INSERT INTO opportunities (
        account_id,
        debt_asset,
        collateral_asset,
        repay_amount,
        profit_base,
        profit_usd,
        notes
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    ) RETURNING id, created_at;`

	upsertAccountSQL = `INSERT INTO monitored_accounts (
        network_id, address, tier, next_check_at
    ) VALUES (
        $1, $2, $3, now()
    )
    ON CONFLICT (network_id, address) DO UPDATE
    SET active = TRUE;`

	listRecentOpportunitiesSQL = `SELECT
        o.id,
        o.account_id,
        a.address,
        o.debt_asset,
        o.collateral_asset,
        o.repay_amount::text,
        o.profit_base::text,
        o.profit_usd::text,
        o.notes,
        o.created_at
    FROM opportunities o
    JOIN monitored_accounts a ON a.id = o.account_id
    ORDER BY o.created_at DESC
    LIMIT $1;`

	listOpportunitiesBetweenSQL = `SELECT
        o.id,
        o.account_id,
        a.address,
        o.debt_asset,
        o.collateral_asset,
        o.repay_amount::text,
        o.profit_base::text,
        o.profit_usd::text,
        o.notes,
        o.created_at
    FROM opportunities o
    JOIN monitored_accounts a ON a.id = o.account_id
    WHERE o.created_at >= $1
      AND o.created_at < $2
    ORDER BY o.created_at;`

	countAccountsSQL = `SELECT COUNT(*) FROM monitored_accounts WHERE network_id = $1 AND active;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// MonitorStore defines the operations the scheduler depends on.
type MonitorStore interface {
	ClaimDue(ctx context.Context, networkID int64, tier risk.Tier, limit int) ([]DueAccount, error)
	RecordResult(ctx context.Context, accountID int64, update ResultUpdate) error
	RecordOpportunity(ctx context.Context, opp Opportunity) (Opportunity, error)
}

// AccountSeeder defines the discovery-side write path.
type AccountSeeder interface {
	UpsertAccounts(ctx context.Context, networkID int64, addresses []string) (int, error)
	CountAccounts(ctx context.Context, networkID int64) (int64, error)
}

// OpportunityLister exposes read access for the CLI surface.
type OpportunityLister interface {
	ListRecentOpportunities(ctx context.Context, limit int) ([]Opportunity, error)
	ListOpportunitiesBetween(ctx context.Context, from, to time.Time) ([]Opportunity, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to monitored accounts and opportunities.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ClaimDue returns up to limit due accounts for one tier, oldest due first.
func (s *Store) ClaimDue(ctx context.Context, networkID int64, tier risk.Tier, limit int) ([]DueAccount, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, claimDueSQL, networkID, string(tier), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("claim due accounts: %w", queryErr)
	}
	defer rows.Close()

	accounts := make([]DueAccount, 0, limit)
	for rows.Next() {
		var acct DueAccount
		if scanErr := rows.Scan(&acct.ID, &acct.Address); scanErr != nil {
			return nil, scanErr
		}
		accounts = append(accounts, acct)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return accounts, nil
}

// RecordResult upserts one account's monitoring outcome in a single atomic
// statement.
func (s *Store) RecordResult(ctx context.Context, accountID int64, update ResultUpdate) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if update.Error != nil {
		errMsg = *update.Error
	}

	var tier interface{}
	if update.Tier != nil {
		tier = string(*update.Tier)
	}

	var health interface{}
	if update.HealthMeasure != nil {
		health = update.HealthMeasure.String()
	}

	cmdTag, execErr := pool.Exec(ctx, recordResultSQL,
		accountID,
		update.NextCheckAt,
		errMsg,
		tier,
		health,
	)
	if execErr != nil {
		return fmt.Errorf("record result: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// RecordOpportunity appends one detected opportunity. Never updated.
func (s *Store) RecordOpportunity(ctx context.Context, opp Opportunity) (Opportunity, error) {
	pool, err := s.getPool()
	if err != nil {
		return Opportunity{}, err
	}

	repay := "0"
	if opp.RepayAmount != nil {
		repay = opp.RepayAmount.String()
	}
	profit := "0"
	if opp.ProfitBase != nil {
		profit = opp.ProfitBase.String()
	}

	row := pool.QueryRow(ctx, insertOpportunitySQL,
		opp.AccountID,
		opp.DebtAsset,
		opp.CollateralAsset,
		repay,
		profit,
		opp.ProfitUSD.String(),
		opp.Notes,
	)

	rec := opp
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return Opportunity{}, fmt.Errorf("record opportunity: %w", scanErr)
	}
	return rec, nil
}

// UpsertAccounts seeds discovered accounts, reactivating known ones. Returns
// the number of rows touched.
func (s *Store) UpsertAccounts(ctx context.Context, networkID int64, addresses []string) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	touched := 0
	for _, addr := range addresses {
		cmdTag, execErr := pool.Exec(ctx, upsertAccountSQL, networkID, addr, string(risk.TierNormalWatch))
		if execErr != nil {
			return touched, fmt.Errorf("upsert account %s: %w", addr, execErr)
		}
		touched += int(cmdTag.RowsAffected())
	}
	return touched, nil
}

// CountAccounts counts active monitored accounts on one network.
func (s *Store) CountAccounts(ctx context.Context, networkID int64) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countAccountsSQL, networkID).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count accounts: %w", scanErr)
	}
	return count, nil
}

// ListRecentOpportunities lists the most recent opportunities.
func (s *Store) ListRecentOpportunities(ctx context.Context, limit int) ([]Opportunity, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOpportunitiesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent opportunities: %w", queryErr)
	}
	defer rows.Close()

	return scanOpportunities(rows)
}

// ListOpportunitiesBetween lists opportunities within a time window.
func (s *Store) ListOpportunitiesBetween(ctx context.Context, from, to time.Time) ([]Opportunity, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOpportunitiesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list opportunities between: %w", queryErr)
	}
	defer rows.Close()

	return scanOpportunities(rows)
}

func scanOpportunities(rows pgx.Rows) ([]Opportunity, error) {
	opportunities := make([]Opportunity, 0)
	for rows.Next() {
		var (
			rec       Opportunity
			repayStr  string
			profitStr string
			usdStr    string
			notes     sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.AccountID,
			&rec.AccountAddress,
			&rec.DebtAsset,
			&rec.CollateralAsset,
			&repayStr,
			&profitStr,
			&usdStr,
			&notes,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		repay, ok := new(big.Int).SetString(repayStr, 10)
		if !ok {
			return nil, fmt.Errorf("parse repay amount %q", repayStr)
		}
		profit, ok := new(big.Int).SetString(profitStr, 10)
		if !ok {
			return nil, fmt.Errorf("parse profit base %q", profitStr)
		}
		usd, convErr := decimal.NewFromString(usdStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse profit usd: %w", convErr)
		}

		rec.RepayAmount = repay
		rec.ProfitBase = profit
		rec.ProfitUSD = usd
		if notes.Valid {
			rec.Notes = notes.String
		}
		opportunities = append(opportunities, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return opportunities, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}
