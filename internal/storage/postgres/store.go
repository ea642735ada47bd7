package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"basketfund/internal/model"
)

// Store provides Postgres persistence for fund observability records:
// NAV snapshots, rebalance reports, and fee accruals.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// FundSnapshot is one point-in-time valuation row.
type FundSnapshot struct {
	FundID      string
	Timestamp   time.Time
	NAV         string
	TotalSupply string
	SharePrice  string
}

// UpsertSnapshots inserts or updates fund valuation snapshots.
func (s *Store) UpsertSnapshots(ctx context.Context, snapshots []FundSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		batch.Queue(`
			INSERT INTO fund_snapshots (
				fund_id, snapshot_ts, nav, total_supply, share_price, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (fund_id, snapshot_ts)
			DO UPDATE SET
				nav = EXCLUDED.nav,
				total_supply = EXCLUDED.total_supply,
				share_price = EXCLUDED.share_price,
				updated_at = now()
		`,
			snap.FundID,
			snap.Timestamp,
			snap.NAV,
			snap.TotalSupply,
			snap.SharePrice,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range snapshots {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// InsertRebalanceReports appends rebalance cost records.
func (s *Store) InsertRebalanceReports(ctx context.Context, reports []model.RebalanceReport) error {
	if len(reports) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, report := range reports {
		batch.Queue(`
			INSERT INTO rebalance_reports (
				fund_id, cycle_ts, nav_before, nav_after,
				max_deviation_before_bps, max_deviation_after_bps, trade_count, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		`,
			report.FundID,
			time.Unix(report.Timestamp, 0).UTC(),
			report.NAVBefore.String(),
			report.NAVAfter.String(),
			int64(report.MaxDeviationBefore),
			int64(report.MaxDeviationAfter),
			len(report.Trades),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range reports {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LastSnapshotTime returns the most recent snapshot timestamp for a fund.
func (s *Store) LastSnapshotTime(ctx context.Context, fundID string) (time.Time, bool, error) {
	if fundID == "" {
		return time.Time{}, false, fmt.Errorf("fund id required")
	}
	var ts time.Time
	row := s.pool.QueryRow(ctx, `SELECT snapshot_ts FROM fund_snapshots WHERE fund_id=$1 ORDER BY snapshot_ts DESC LIMIT 1`, fundID)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return ts, true, nil
}
