package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/model"
)

// postgresStore implements SnapshotStore against the `prices` table
// described in spec §6, with prepared-statement batch inserts and an
// ON CONFLICT upsert for idempotence — grounded on the teacher's
// trades_repo.go / regime_repo.go upsert pattern.
type postgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

func newPostgresStore(dbURL string, opts Options) (SnapshotStore, error) {
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, wrapFailure("connect", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConn)
	db.SetMaxIdleConns(opts.MaxIdleConn)
	db.SetConnMaxLifetime(opts.ConnMaxLife)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, wrapFailure("migrate", err)
	}

	return &postgresStore{db: db, timeout: opts.Timeout}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS prices (
	item_id    BIGINT NOT NULL,
	ts         BIGINT NOT NULL,
	low        BIGINT,
	high       BIGINT,
	volume     BIGINT,
	PRIMARY KEY (item_id, ts)
);
CREATE INDEX IF NOT EXISTS idx_prices_ts ON prices (ts);
CREATE INDEX IF NOT EXISTS idx_prices_item_ts ON prices (item_id, ts);
`

func (s *postgresStore) PutSnapshots(ctx context.Context, batch []model.Snapshot) error {
	if len(batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for start := 0; start < len(batch); start += MaxBatchRows {
		end := start + MaxBatchRows
		if end > len(batch) {
			end = len(batch)
		}
		if err := s.putBatch(ctx, batch[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) putBatch(ctx context.Context, rows []model.Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapFailure("begin tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO prices (item_id, ts, low, high, volume)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_id, ts) DO UPDATE SET
			low = EXCLUDED.low, high = EXCLUDED.high, volume = EXCLUDED.volume`)
	if err != nil {
		return wrapFailure("prepare", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.ItemID, r.Timestamp, r.Low, r.High, r.Volume); err != nil {
			return wrapFailure("insert snapshot", err)
		}
	}
	return wrapFailure("commit", tx.Commit())
}

func (s *postgresStore) Recent(ctx context.Context, item model.ItemID, n int) ([]model.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []model.Snapshot
	err := s.db.SelectContext(ctx, &rows, `
		SELECT item_id, ts, low, high, volume FROM prices
		WHERE item_id = $1 ORDER BY ts DESC LIMIT $2`, item, n)
	if err != nil {
		return nil, wrapFailure("recent", err)
	}
	return rows, nil
}

func (s *postgresStore) Range(ctx context.Context, item model.ItemID, sinceTS int64) ([]model.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []model.Snapshot
	err := s.db.SelectContext(ctx, &rows, `
		SELECT item_id, ts, low, high, volume FROM prices
		WHERE item_id = $1 AND ts >= $2 ORDER BY ts ASC`, item, sinceTS)
	if err != nil {
		return nil, wrapFailure("range", err)
	}
	return rows, nil
}

func (s *postgresStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cutoff := time.Now().Add(-retention).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM prices WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, wrapFailure("prune", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *postgresStore) Counts(ctx context.Context) (Counts, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var c Counts
	err := s.db.GetContext(ctx, &c, `
		SELECT COUNT(*) AS snapshots,
		       COUNT(DISTINCT item_id) AS items,
		       COALESCE(MIN(ts), 0) AS oldest_ts,
		       COALESCE(MAX(ts), 0) AS newest_ts
		FROM prices`)
	if err != nil {
		return Counts{}, wrapFailure("counts", err)
	}
	return c, nil
}

func (s *postgresStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
