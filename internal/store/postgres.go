package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/autogrowth/growth-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// allocation mixes are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateTier(ctx context.Context, t *model.Tier) error {
	mix, err := marshalMix(t.AllocationMix)
	if err != nil {
		return fmt.Errorf("create tier %d: %w", t.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tiers (id, name, min_amount, max_amount, days, daily_roi, allocation_mix)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6::NUMERIC, $7)`,
		t.ID, t.Name,
		t.MinAmount.String(), t.MaxAmount.String(),
		t.Days, t.DailyROI.String(), mix,
	)
	return err
}

func (s *PostgresStore) ListTiers(ctx context.Context) ([]model.Tier, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, min_amount::TEXT, max_amount::TEXT, days, daily_roi::TEXT, allocation_mix
		 FROM tiers ORDER BY min_amount, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []model.Tier
	for rows.Next() {
		var t model.Tier
		var minS, maxS, roiS string
		var mix []byte
		if err := rows.Scan(&t.ID, &t.Name, &minS, &maxS, &t.Days, &roiS, &mix); err != nil {
			return nil, err
		}
		t.MinAmount, _ = decimal.NewFromString(minS)
		t.MaxAmount, _ = decimal.NewFromString(maxS)
		t.DailyROI, _ = decimal.NewFromString(roiS)
		if len(mix) > 0 {
			if err := json.Unmarshal(mix, &t.AllocationMix); err != nil {
				return nil, fmt.Errorf("tier %d allocation mix: %w", t.ID, err)
			}
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

const positionColumns = `id, user_id, tier_id, currency,
	        principal::TEXT, accrued_roi::TEXT, claimed_roi::TEXT,
	        opened_at, matures_at, last_roi_calculation, status`

func (s *PostgresStore) CreatePosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, user_id, tier_id, currency, principal, accrued_roi, claimed_roi,
		                        opened_at, matures_at, last_roi_calculation, status)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11)`,
		p.ID, p.UserID, p.TierID, p.Currency,
		p.Principal.String(), p.AccruedROI.String(), p.ClaimedROI.String(),
		p.OpenedAt, p.MaturesAt, nullableTime(p.LastROICalc), p.Status,
	)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListActivePositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status = 'active' ORDER BY opened_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ListUserPositions(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY opened_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) ApplyAccrual(ctx context.Context, p *model.Position, prevCalc time.Time) error {
	// IS NOT DISTINCT FROM treats NULL (never accrued) and the zero-time
	// guard uniformly; a stale basis updates zero rows.
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET accrued_roi = $2::NUMERIC, last_roi_calculation = $3, status = $4
		 WHERE id = $1 AND status = 'active'
		   AND last_roi_calculation IS NOT DISTINCT FROM $5`,
		p.ID, p.AccruedROI.String(), nullableTime(p.LastROICalc), p.Status, nullableTime(prevCalc),
	)
	if err != nil {
		return fmt.Errorf("apply accrual %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s accrual basis moved: %w", p.ID, ErrConflict)
	}
	return nil
}

func (s *PostgresStore) ClaimROI(ctx context.Context, userID string) (decimal.Decimal, error) {
	var totalS string
	err := s.pool.QueryRow(ctx,
		`WITH claimable AS (
		     SELECT id, accrued_roi FROM positions
		     WHERE user_id = $1 AND status IN ('active', 'matured') AND accrued_roi > 0
		     FOR UPDATE
		 ), claimed AS (
		     UPDATE positions p
		     SET claimed_roi = p.claimed_roi + c.accrued_roi, accrued_roi = 0
		     FROM claimable c WHERE p.id = c.id
		 )
		 SELECT COALESCE(SUM(accrued_roi), 0)::TEXT FROM claimable`,
		userID).Scan(&totalS)
	if err != nil {
		return decimal.Zero, fmt.Errorf("claim roi for %s: %w", userID, err)
	}

	total, _ := decimal.NewFromString(totalS)
	return total, nil
}

func (s *PostgresStore) ApplyUpgrade(ctx context.Context, userID string, closeIDs []string, newPos *model.Position) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin upgrade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row-level locks serialize concurrent upgrades for the same user
	// across instances; a position that is no longer active fails the
	// whole commit.
	rows, err := tx.Query(ctx,
		`SELECT id FROM positions
		 WHERE id = ANY($1) AND user_id = $2 AND status = 'active'
		 FOR UPDATE`,
		closeIDs, userID)
	if err != nil {
		return fmt.Errorf("lock positions: %w", err)
	}
	locked := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		locked++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if locked != len(closeIDs) {
		return fmt.Errorf("expected %d active positions, locked %d: %w",
			len(closeIDs), locked, ErrConflict)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE positions
		 SET status = 'closed', claimed_roi = claimed_roi + accrued_roi, accrued_roi = 0
		 WHERE id = ANY($1)`,
		closeIDs); err != nil {
		return fmt.Errorf("close positions: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO positions (id, user_id, tier_id, currency, principal, accrued_roi, claimed_roi,
		                        opened_at, matures_at, last_roi_calculation, status)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, $11)`,
		newPos.ID, newPos.UserID, newPos.TierID, newPos.Currency,
		newPos.Principal.String(), newPos.AccruedROI.String(), newPos.ClaimedROI.String(),
		newPos.OpenedAt, newPos.MaturesAt, nullableTime(newPos.LastROICalc), newPos.Status,
	); err != nil {
		return fmt.Errorf("open upgraded position: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) SystemStats(ctx context.Context) (*model.SystemStats, error) {
	var stats model.SystemStats
	var principalS, accruedS, claimedS string

	err := s.pool.QueryRow(ctx,
		`SELECT
		    COUNT(*) FILTER (WHERE status = 'active'),
		    COUNT(*) FILTER (WHERE status = 'matured'),
		    COALESCE(SUM(principal) FILTER (WHERE status = 'active'), 0)::TEXT,
		    COALESCE(SUM(accrued_roi), 0)::TEXT,
		    COALESCE(SUM(claimed_roi), 0)::TEXT,
		    COUNT(DISTINCT user_id) FILTER (WHERE status IN ('active', 'matured'))
		 FROM positions`).
		Scan(&stats.ActivePositions, &stats.MaturedPositions,
			&principalS, &accruedS, &claimedS, &stats.InvestorCount)
	if err != nil {
		return nil, fmt.Errorf("system stats: %w", err)
	}

	stats.TotalPrincipal, _ = decimal.NewFromString(principalS)
	stats.TotalAccruedROI, _ = decimal.NewFromString(accruedS)
	stats.TotalClaimedROI, _ = decimal.NewFromString(claimedS)
	return &stats, nil
}

// --- scan helpers ---

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row pgxRow) (*model.Position, error) {
	var p model.Position
	var principalS, accruedS, claimedS string
	var lastCalc *time.Time

	if err := row.Scan(&p.ID, &p.UserID, &p.TierID, &p.Currency,
		&principalS, &accruedS, &claimedS,
		&p.OpenedAt, &p.MaturesAt, &lastCalc, &p.Status); err != nil {
		return nil, err
	}

	p.Principal, _ = decimal.NewFromString(principalS)
	p.AccruedROI, _ = decimal.NewFromString(accruedS)
	p.ClaimedROI, _ = decimal.NewFromString(claimedS)
	if lastCalc != nil {
		p.LastROICalc = *lastCalc
	}
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func marshalMix(mix map[string]decimal.Decimal) ([]byte, error) {
	if len(mix) == 0 {
		return nil, nil
	}
	return json.Marshal(mix)
}
