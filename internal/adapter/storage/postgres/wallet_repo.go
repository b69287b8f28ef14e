package postgres

import (
	"context"
	"errors"
	"fmt"

	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumns = `id, owner_id, owner_kind, balance, currency, is_active, transaction_refs, version, created_at, updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Create inserts a new wallet. A second wallet for the same owner fails with ports.ErrDuplicate.
func (r *WalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	query := `INSERT INTO wallets (` + walletColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	refs := w.TransactionRefs
	if refs == nil {
		refs = []string{}
	}
	_, err := r.pool.Exec(ctx, query,
		w.ID, w.OwnerID, w.OwnerKind, w.Balance, w.Currency, w.IsActive,
		refs, w.Version, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", classify(err))
	}
	return nil
}

// GetByID fetches a wallet by its UUID.
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	return r.getByID(ctx, r.pool, id)
}

// GetByIDTx fetches a wallet inside an atomic block.
func (r *WalletRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	return r.getByID(ctx, tx, id)
}

// GetByOwner fetches the wallet held by an owner.
func (r *WalletRepo) GetByOwner(ctx context.Context, owner domain.OwnerRef) (*domain.Wallet, error) {
	return r.getByOwner(ctx, r.pool, owner)
}

// GetByOwnerTx fetches the wallet held by an owner inside an atomic block.
func (r *WalletRepo) GetByOwnerTx(ctx context.Context, tx pgx.Tx, owner domain.OwnerRef) (*domain.Wallet, error) {
	return r.getByOwner(ctx, tx, owner)
}

// ApplyDelta moves the balance by delta and appends reference, provided the
// wallet still has the version that was read. Zero rows means another writer
// got there first.
func (r *WalletRepo) ApplyDelta(ctx context.Context, tx pgx.Tx, w *domain.Wallet, delta int64, reference string) error {
	query := `UPDATE wallets
		SET balance = balance + $1,
			transaction_refs = array_append(transaction_refs, $2),
			version = version + 1,
			updated_at = NOW()
		WHERE id = $3 AND version = $4
		RETURNING balance, version, updated_at`

	err := tx.QueryRow(ctx, query, delta, reference, w.ID, w.Version).Scan(&w.Balance, &w.Version, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update wallet %s at version %d: %w", w.ID, w.Version, ports.ErrConflict)
		}
		return fmt.Errorf("update wallet balance: %w", classify(err))
	}
	w.TransactionRefs = append(w.TransactionRefs, reference)
	return nil
}

func (r *WalletRepo) getByID(ctx context.Context, q querier, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`

	w, err := scanWallet(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get wallet by id: %w", err)
	}
	return w, nil
}

func (r *WalletRepo) getByOwner(ctx context.Context, q querier, owner domain.OwnerRef) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 AND owner_kind = $2`

	w, err := scanWallet(q.QueryRow(ctx, query, owner.ID, owner.Kind))
	if err != nil {
		return nil, fmt.Errorf("get wallet by owner: %w", err)
	}
	return w, nil
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := row.Scan(
		&w.ID, &w.OwnerID, &w.OwnerKind, &w.Balance, &w.Currency, &w.IsActive,
		&w.TransactionRefs, &w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return w, nil
}
