package ports

import (
	"context"

	"rfid-wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OwnerRepository is the owner directory: customers and merchants looked up
// by id or phone.
type OwnerRepository interface {
	CreateCustomer(ctx context.Context, customer *domain.Customer) error
	CreateMerchant(ctx context.Context, merchant *domain.Merchant) error
	Get(ctx context.Context, ref domain.OwnerRef) (*domain.Owner, error)
	FindByPhone(ctx context.Context, kind domain.OwnerKind, phoneVariants []string) (*domain.Owner, error)
}

// MerchantRepository defines persistence operations for merchant settings.
type MerchantRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error)
	Update(ctx context.Context, merchant *domain.Merchant) error
}

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx run inside an atomic block; writes are
// version-conditional and report ErrConflict when the row moved underneath.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByOwner(ctx context.Context, owner domain.OwnerRef) (*domain.Wallet, error)
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	GetByOwnerTx(ctx context.Context, tx pgx.Tx, owner domain.OwnerRef) (*domain.Wallet, error)
	// ApplyDelta adds delta to the balance and appends reference to the
	// wallet's reference list. On success wallet carries the new balance and version.
	ApplyDelta(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet, delta int64, reference string) error
}

// TransactionRepository defines persistence operations for ledger entries.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error)
	ListByGroupTx(ctx context.Context, tx pgx.Tx, groupReference string) ([]domain.Transaction, error)
	FindRefundTx(ctx context.Context, tx pgx.Tx, originalID uuid.UUID) (*domain.Transaction, error)
	// MarkRefundedTx moves every id from COMPLETED to REFUNDED, or none.
	MarkRefundedTx(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	GetStats(ctx context.Context, walletID uuid.UUID) (*TransactionStats, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	WalletID uuid.UUID
	CardID   *uuid.UUID
	Status   *domain.TransactionStatus
	Kind     *domain.TransactionKind
	Page     int
	PageSize int
}

// TransactionStats holds aggregated statistics for one wallet.
type TransactionStats struct {
	TotalTransactions int64 `json:"total_transactions"`
	Credits           int64 `json:"credits"`
	Debits            int64 `json:"debits"`
	Refunds           int64 `json:"refunds"`
	TopUps            int64 `json:"top_ups"`
	TotalCredited     int64 `json:"total_credited"`
	TotalDebited      int64 `json:"total_debited"`
	TotalRefunded     int64 `json:"total_refunded"`
	TotalToppedUp     int64 `json:"total_topped_up"`
	TotalFees         int64 `json:"total_fees"`
}

// CardRepository defines persistence operations for RFID cards.
type CardRepository interface {
	CreateTx(ctx context.Context, tx pgx.Tx, card *domain.RfidCard) error
	GetByUID(ctx context.Context, cardUID string) (*domain.RfidCard, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RfidCard, error)
	GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RfidCard, error)
	GetActiveByCustomerTx(ctx context.Context, tx pgx.Tx, customerID uuid.UUID) (*domain.RfidCard, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.RfidCard, error)
	// Update writes the card's mutable state as a standalone single-row
	// statement, conditional on card.Version.
	Update(ctx context.Context, card *domain.RfidCard) error
	UpdateTx(ctx context.Context, tx pgx.Tx, card *domain.RfidCard) error
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// WebhookRepository persists webhook delivery attempts.
type WebhookRepository interface {
	Create(ctx context.Context, log *domain.WebhookDeliveryLog) error
	Update(ctx context.Context, log *domain.WebhookDeliveryLog) error
	GetByTransactionID(ctx context.Context, txID uuid.UUID) ([]domain.WebhookDeliveryLog, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
