package watermark

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"orderpulse/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx, so the
// store works inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps the watermark in a single-row table:
//
//	CREATE TABLE order_watermark (
//	    id                SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
//	    last_processed_id BIGINT NOT NULL DEFAULT 0,
//	    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// The GREATEST upsert makes Advance a single atomic statement, so concurrent
// writers (which the scheduler's unique-work semantics should already
// prevent) can never move the cursor backwards.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a PostgresStore backed by the given database
// connection (pool or transaction).
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Read returns the current watermark, or zero if no row exists yet.
func (s *PostgresStore) Read(ctx context.Context) (int64, error) {
	var current int64
	err := s.db.QueryRow(ctx,
		`SELECT last_processed_id FROM order_watermark WHERE id = 1`,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, types.NewAppError(types.ErrCodeWatermarkStore,
			"reading watermark", err)
	}
	return current, nil
}

// Advance raises the watermark to candidate atomically, never decreasing it.
func (s *PostgresStore) Advance(ctx context.Context, candidate int64) (int64, error) {
	var result int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO order_watermark (id, last_processed_id, updated_at)
		 VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE
		 SET last_processed_id = GREATEST(order_watermark.last_processed_id, EXCLUDED.last_processed_id),
		     updated_at = now()
		 RETURNING last_processed_id`,
		candidate,
	).Scan(&result)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeWatermarkStore,
			fmt.Sprintf("advancing watermark to %d", candidate), err)
	}
	return result, nil
}

// Ping verifies connectivity for health probes.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `SELECT 1`); err != nil {
		return fmt.Errorf("watermark store unreachable: %w", err)
	}
	return nil
}
