package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, reference, group_reference, wallet_id, amount, fee, kind, description, status,
	counterparty_id, counterparty_kind, card_id, original_transaction_id, note, actor_id, created_at, updated_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a ledger entry within a database transaction. A clash on the
// reference or on the single-refund index is a conflict: the caller's view of
// the ledger is stale.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.Reference, t.GroupReference, t.WalletID, t.Amount, t.Fee,
		t.Kind, t.Description, t.Status,
		t.Metadata.CounterpartyID, ownerKindPtr(t.Metadata.CounterpartyKind), t.Metadata.CardID,
		t.Metadata.OriginalTransactionID, t.Metadata.Note, t.Metadata.ActorID,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ports.ErrDuplicate) {
			return fmt.Errorf("insert transaction %s (%s): %w", t.Reference, constraintName(err), ports.ErrConflict)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return r.getByID(ctx, r.pool, id)
}

// GetByIDTx fetches a transaction inside an atomic block.
func (r *TransactionRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	return r.getByID(ctx, tx, id)
}

// ListByGroupTx returns both legs of a movement.
func (r *TransactionRepo) ListByGroupTx(ctx context.Context, tx pgx.Tx, groupReference string) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE group_reference = $1 ORDER BY amount ASC`

	rows, err := tx.Query(ctx, query, groupReference)
	if err != nil {
		return nil, fmt.Errorf("list transaction group: %w", classify(err))
	}
	return collectTransactions(rows)
}

// FindRefundTx returns the refund leg that points at originalID, if any.
func (r *TransactionRepo) FindRefundTx(ctx context.Context, tx pgx.Tx, originalID uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE original_transaction_id = $1 AND kind = 'REFUND' LIMIT 1`

	t, err := scanTransaction(tx.QueryRow(ctx, query, originalID))
	if err != nil {
		return nil, fmt.Errorf("find refund: %w", err)
	}
	return t, nil
}

// MarkRefundedTx flips the given legs from COMPLETED to REFUNDED. If any leg
// is no longer COMPLETED the statement is reported as a conflict.
func (r *TransactionRepo) MarkRefundedTx(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error {
	query := `UPDATE transactions SET status = 'REFUNDED', updated_at = NOW()
		WHERE id = ANY($1) AND status = 'COMPLETED'`

	tag, err := tx.Exec(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("mark refunded: %w", classify(err))
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return fmt.Errorf("mark refunded: %d of %d legs still completed: %w", tag.RowsAffected(), len(ids), ports.ErrConflict)
	}
	return nil
}

// List fetches a wallet's transactions, newest first.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("wallet_id = $%d", argIdx))
	args = append(args, params.WalletID)
	argIdx++

	if params.CardID != nil {
		conditions = append(conditions, fmt.Sprintf("card_id = $%d", argIdx))
		args = append(args, *params.CardID)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, *params.Kind)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions %s
		ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, transactionColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	txns, err := collectTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// GetStats aggregates a wallet's settled entries.
func (r *TransactionRepo) GetStats(ctx context.Context, walletID uuid.UUID) (*ports.TransactionStats, error) {
	query := `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE amount > 0 AND kind <> 'REFUND' AND counterparty_id IS NOT NULL) AS credits,
		COUNT(*) FILTER (WHERE amount < 0 AND kind <> 'REFUND') AS debits,
		COUNT(*) FILTER (WHERE kind = 'REFUND') AS refunds,
		COUNT(*) FILTER (WHERE kind = 'CREDIT' AND counterparty_id IS NULL) AS top_ups,
		COALESCE(SUM(amount) FILTER (WHERE amount > 0 AND kind <> 'REFUND' AND counterparty_id IS NOT NULL), 0) AS credited,
		COALESCE(SUM(-amount) FILTER (WHERE amount < 0 AND kind <> 'REFUND'), 0) AS debited,
		COALESCE(SUM(ABS(amount)) FILTER (WHERE kind = 'REFUND'), 0) AS refunded,
		COALESCE(SUM(amount) FILTER (WHERE kind = 'CREDIT' AND counterparty_id IS NULL), 0) AS topped_up,
		COALESCE(SUM(fee), 0) AS fees
		FROM transactions
		WHERE wallet_id = $1 AND status IN ('COMPLETED', 'REFUNDED')`

	stats := &ports.TransactionStats{}
	err := r.pool.QueryRow(ctx, query, walletID).Scan(
		&stats.TotalTransactions, &stats.Credits, &stats.Debits, &stats.Refunds, &stats.TopUps,
		&stats.TotalCredited, &stats.TotalDebited, &stats.TotalRefunded, &stats.TotalToppedUp, &stats.TotalFees,
	)
	if err != nil {
		return nil, fmt.Errorf("get transaction stats: %w", err)
	}
	return stats, nil
}

func (r *TransactionRepo) getByID(ctx context.Context, q querier, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	t, err := scanTransaction(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

// scanTransaction scans one row; pgx.ErrNoRows becomes (nil, nil).
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var counterpartyKind *string
	err := row.Scan(
		&t.ID, &t.Reference, &t.GroupReference, &t.WalletID, &t.Amount, &t.Fee,
		&t.Kind, &t.Description, &t.Status,
		&t.Metadata.CounterpartyID, &counterpartyKind, &t.Metadata.CardID,
		&t.Metadata.OriginalTransactionID, &t.Metadata.Note, &t.Metadata.ActorID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	if counterpartyKind != nil {
		k := domain.OwnerKind(*counterpartyKind)
		t.Metadata.CounterpartyKind = &k
	}
	return t, nil
}

func ownerKindPtr(k *domain.OwnerKind) *string {
	if k == nil {
		return nil
	}
	s := string(*k)
	return &s
}
