package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Transactor implements ports.DBTransactor using pgxpool.Pool.
type Transactor struct {
	pool Pool
}

// NewTransactor creates a new Transactor wrapping the connection pool.
func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Begin starts a new database transaction. Commit failures caused by
// serialization conflicts surface as ports.ErrConflict.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &classifiedTx{Tx: tx}, nil
}

type classifiedTx struct {
	pgx.Tx
}

func (t *classifiedTx) Commit(ctx context.Context) error {
	return classify(t.Tx.Commit(ctx))
}
