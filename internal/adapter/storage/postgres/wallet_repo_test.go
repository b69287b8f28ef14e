package postgres

import (
	"context"
	"testing"
	"time"

	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWallet(kind domain.OwnerKind) *domain.Wallet {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Wallet{
		ID:              uuid.New(),
		OwnerID:         uuid.New(),
		OwnerKind:       kind,
		Balance:         500,
		Currency:        "NPR",
		IsActive:        true,
		TransactionRefs: []string{"TOP1718000000000AAAAAA"},
		Version:         3,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func walletColumnNames() []string {
	return []string{"id", "owner_id", "owner_kind", "balance", "currency", "is_active", "transaction_refs", "version", "created_at", "updated_at"}
}

func walletRow(w *domain.Wallet) *pgxmock.Rows {
	return pgxmock.NewRows(walletColumnNames()).AddRow(
		w.ID, w.OwnerID, w.OwnerKind, w.Balance, w.Currency, w.IsActive,
		w.TransactionRefs, w.Version, w.CreatedAt, w.UpdatedAt,
	)
}

func TestWalletRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet(domain.OwnerKindCustomer)
	w.TransactionRefs = nil

	mock.ExpectExec("INSERT INTO wallets").
		WithArgs(w.ID, w.OwnerID, w.OwnerKind, w.Balance, w.Currency, w.IsActive,
			[]string{}, w.Version, w.CreatedAt, w.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = repo.Create(context.Background(), w)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_Create_DuplicateOwner(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet(domain.OwnerKindMerchant)

	mock.ExpectExec("INSERT INTO wallets").
		WithArgs(anyArgs(10)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_wallets_owner"})

	err = repo.Create(context.Background(), w)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrDuplicate)
}

func TestWalletRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet(domain.OwnerKindCustomer)

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE id").
		WithArgs(w.ID).
		WillReturnRows(walletRow(w))

	result, err := repo.GetByID(context.Background(), w.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, w.ID, result.ID)
	assert.Equal(t, int64(500), result.Balance)
	assert.Equal(t, int64(3), result.Version)
	assert.Equal(t, w.TransactionRefs, result.TransactionRefs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM wallets WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(walletColumnNames()))

	result, err := repo.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestWalletRepo_GetByOwnerTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet(domain.OwnerKindMerchant)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM wallets WHERE owner_id").
		WithArgs(w.OwnerID, domain.OwnerKindMerchant).
		WillReturnRows(walletRow(w))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	result, err := repo.GetByOwnerTx(context.Background(), tx, w.Owner())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.OwnerKindMerchant, result.OwnerKind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_ApplyDelta(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet(domain.OwnerKindCustomer)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE wallets").
		WithArgs(int64(-200), "RFID1-PAY", w.ID, int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"balance", "version", "updated_at"}).AddRow(int64(300), int64(4), now))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.ApplyDelta(context.Background(), tx, w, -200, "RFID1-PAY")
	require.NoError(t, err)
	assert.Equal(t, int64(300), w.Balance)
	assert.Equal(t, int64(4), w.Version)
	assert.Equal(t, "RFID1-PAY", w.TransactionRefs[len(w.TransactionRefs)-1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletRepo_ApplyDelta_StaleVersion(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet(domain.OwnerKindCustomer)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE wallets").
		WithArgs(int64(100), "TRF1-IN", w.ID, int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"balance", "version", "updated_at"}))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.ApplyDelta(context.Background(), tx, w, 100, "TRF1-IN")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConflict)
	assert.Equal(t, int64(500), w.Balance, "balance must not change on conflict")
}

func TestWalletRepo_ApplyDelta_SerializationFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWalletRepo(mock)
	w := newTestWallet(domain.OwnerKindCustomer)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE wallets").
		WithArgs(int64(100), "TRF1-IN", w.ID, w.Version).
		WillReturnError(&pgconn.PgError{Code: "40001"})

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.ApplyDelta(context.Background(), tx, w, 100, "TRF1-IN")
	assert.ErrorIs(t, err, ports.ErrConflict)
}
