package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rfid-wallet-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

const (
	idempotencyColumns = `key, transaction_id, response_json, created_at`

	insertIdempotencySQL = `INSERT INTO idempotency_logs (` + idempotencyColumns + `)
		VALUES ($1, $2, $3, $4)`
	selectIdempotencySQL = `SELECT ` + idempotencyColumns + ` FROM idempotency_logs WHERE key = $1`
	pruneIdempotencySQL  = `DELETE FROM idempotency_logs WHERE created_at < $1`
)

// IdempotencyRepo is the durable record of every committed money movement's
// response, keyed by actor, operation and client key.
type IdempotencyRepo struct {
	pool Pool
}

func NewIdempotencyRepo(pool Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Create must run inside the money transaction it describes. A key that is
// already recorded fails with ports.ErrDuplicate, which callers treat as a
// lost race and answer with the winner's stored response.
func (r *IdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, rec *domain.IdempotencyLog) error {
	_, err := tx.Exec(ctx, insertIdempotencySQL, rec.Key, rec.TransactionID, rec.ResponseJSON, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record idempotent result %q: %w", rec.Key, classify(err))
	}
	return nil
}

// Get returns nil, nil for a key that was never committed.
func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	var rec domain.IdempotencyLog
	err := r.pool.QueryRow(ctx, selectIdempotencySQL, key).
		Scan(&rec.Key, &rec.TransactionID, &rec.ResponseJSON, &rec.CreatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("load idempotent result %q: %w", key, err)
	}
	return &rec, nil
}

// Prune drops records created before cutoff and returns how many went.
// Once pruned, a retried key executes as a new operation.
func (r *IdempotencyRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, pruneIdempotencySQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune idempotency log: %w", err)
	}
	return tag.RowsAffected(), nil
}
