// Package store persists Snapshot rows and enforces the retention window
// (spec §4.B). SnapshotStore is implemented twice — Postgres-backed when
// DB_URL is set, file-backed otherwise — selected once at startup by
// NewFromEnv so every other component only ever sees the interface.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ImPanick/OSRS-GE-Sniper/internal/model"
)

// ErrFailure is the sentinel every store implementation wraps on write
// failure, per spec §4.B / §7 ("StoreFailure").
var ErrFailure = errors.New("store failure")

// MaxBatchRows is the transactional batch size policy from spec §4.B.
const MaxBatchRows = 1000

// Counts is the diagnostic cardinality report spec §4.B's counts() needs.
type Counts struct {
	Snapshots int64 `json:"snapshots"`
	Items     int64 `json:"items"`
	OldestTS  int64 `json:"oldest_ts"`
	NewestTS  int64 `json:"newest_ts"`
}

// SnapshotStore is the persistence contract spec §4.B names.
type SnapshotStore interface {
	// PutSnapshots performs a transactional bulk insert; a duplicate
	// (item_id, timestamp) is a no-op (idempotent overwrite-same).
	PutSnapshots(ctx context.Context, batch []model.Snapshot) error

	// Recent returns the last n snapshots for item, descending by time.
	Recent(ctx context.Context, item model.ItemID, n int) ([]model.Snapshot, error)

	// Range returns snapshots with timestamp >= sinceTS, ascending by time.
	Range(ctx context.Context, item model.ItemID, sinceTS int64) ([]model.Snapshot, error)

	// Prune deletes rows older than now - retention.
	Prune(ctx context.Context, retention time.Duration) (int64, error)

	// Counts reports diagnostic table cardinalities.
	Counts(ctx context.Context) (Counts, error)

	// Close releases underlying resources (connection pool, file handle).
	Close() error
}

// Options configures either backend.
type Options struct {
	DBURL       string
	DBPath      string
	Timeout     time.Duration
	MaxOpenConn int
	MaxIdleConn int
	ConnMaxLife time.Duration
}

// DefaultOptions mirrors the pool sizing named in spec §5.
func DefaultOptions() Options {
	return Options{
		Timeout:     5 * time.Second,
		MaxOpenConn: 30, // pool size 10 + overflow 20
		MaxIdleConn: 10,
		ConnMaxLife: time.Hour,
	}
}

// NewFromEnv picks the Postgres backend when DB_URL is set, otherwise the
// file-backed fallback rooted at DB_PATH (spec §6).
func NewFromEnv(opts Options) (SnapshotStore, error) {
	dbURL := opts.DBURL
	if dbURL == "" {
		dbURL = os.Getenv("DB_URL")
	}
	if dbURL != "" {
		return newPostgresStore(dbURL, opts)
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = os.Getenv("DB_PATH")
	}
	if dbPath == "" {
		dbPath = "data/snapshots"
	}
	return newFileStore(dbPath)
}

func wrapFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %v", op, ErrFailure, err)
}
