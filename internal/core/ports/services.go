package ports

import (
	"context"
	"time"

	"rfid-wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// HashService is the slow, salted hash behind PIN storage (Argon2id).
type HashService interface {
	Hash(secret string) (string, error)
	Verify(secret string, hash string) (bool, error)
}

// TokenService handles JWT principal tokens.
type TokenService interface {
	Generate(principal domain.Principal) (string, time.Time, error)
	Validate(tokenString string) (*domain.Principal, error)
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CardLock serializes PIN verification per card.
type CardLock interface {
	// Acquire returns a release token and true when the lock was taken,
	// or false when another request holds it.
	Acquire(ctx context.Context, cardUID string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, cardUID string, token string) error
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// --- Service Ports (Business Logic) ---

// WalletService defines wallet lifecycle, balance and top-up.
type WalletService interface {
	CreateWallet(ctx context.Context, owner domain.OwnerRef) (*domain.Wallet, error)
	GetBalance(ctx context.Context, owner domain.OwnerRef) (*BalanceResult, error)
	FindOwnerByPhone(ctx context.Context, phone string) (*domain.OwnerLookup, error)
	TopUp(ctx context.Context, req TopUpRequest) (*TopUpResult, error)
}

// BalanceResult is a wallet's current balance.
type BalanceResult struct {
	WalletID uuid.UUID `json:"wallet_id"`
	Balance  int64     `json:"balance"`
	Currency string    `json:"currency"`
}

// TopUpRequest holds validated input for a wallet top-up.
type TopUpRequest struct {
	Owner          domain.OwnerRef
	Amount         int64
	IdempotencyKey string
	ClientIP       string
}

// TopUpResult is the outcome of a top-up.
type TopUpResult struct {
	Reference     string    `json:"reference"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Balance       int64     `json:"balance"`
	Currency      string    `json:"currency"`
	CreatedAt     time.Time `json:"created_at"`
	Replayed      bool      `json:"-"`
}

// PaymentGateway is the tap-to-pay entry point: card checks, PIN guard and
// the payment ledger operation.
type PaymentGateway interface {
	PayByCard(ctx context.Context, req CardPaymentRequest) (*PaymentResult, error)
	VerifyCard(ctx context.Context, req VerifyCardRequest) (*CardVerification, error)
	CheckCardBalance(ctx context.Context, cardUID string, pin string) (*BalanceResult, error)
	ChangePin(ctx context.Context, actor domain.Principal, cardUID, currentPin, newPin string) error
	AdminResetPin(ctx context.Context, actor domain.Principal, cardUID, newPin string) error
	Unlock(ctx context.Context, actor domain.Principal, cardUID string) error
}

// CardPaymentRequest holds validated input for a card tap payment.
type CardPaymentRequest struct {
	MerchantID     uuid.UUID
	CardUID        string
	Pin            string
	Amount         int64
	Description    string
	IdempotencyKey string
	ClientIP       string
}

// PaymentResult is the outcome of a card payment.
type PaymentResult struct {
	Reference           string    `json:"reference"`
	DebitTransactionID  uuid.UUID `json:"debit_transaction_id"`
	CreditTransactionID uuid.UUID `json:"credit_transaction_id"`
	CustomerID          uuid.UUID `json:"customer_id"`
	Amount              int64     `json:"amount"`
	Fee                 int64     `json:"fee"`
	Currency            string    `json:"currency"`
	RemainingBalance    int64     `json:"remaining_balance"`
	CreatedAt           time.Time `json:"created_at"`
	Replayed            bool      `json:"-"`
}

// VerifyCardRequest checks a card, optionally with its PIN.
type VerifyCardRequest struct {
	CardUID string
	Pin     *string
}

// CardVerification reports card state and, after a valid PIN, the balance.
type CardVerification struct {
	CardUID           string            `json:"card_uid"`
	CustomerID        uuid.UUID         `json:"customer_id"`
	Status            domain.CardStatus `json:"status"`
	ExpiresAt         time.Time         `json:"expires_at"`
	LastUsed          *time.Time        `json:"last_used,omitempty"`
	RequiresPinChange bool              `json:"requires_pin_change"`
	RemainingAttempts int               `json:"remaining_attempts"`
	IsLocked          bool              `json:"is_locked"`
	LockedUntil       *time.Time        `json:"locked_until,omitempty"`
	PinVerified       *bool             `json:"pin_verified,omitempty"`
	Balance           *int64            `json:"balance,omitempty"`
	Currency          string            `json:"currency,omitempty"`
}

// LedgerService defines peer transfer and refund.
type LedgerService interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// TransferRequest holds validated input for a peer transfer.
type TransferRequest struct {
	Sender         domain.OwnerRef
	RecipientPhone string
	RecipientKind  domain.OwnerKind // tried first; the other kind is the fallback
	Amount         int64
	Description    string
	IdempotencyKey string
	ClientIP       string
}

// TransferResult is the outcome of a transfer.
type TransferResult struct {
	Reference           string          `json:"reference"`
	DebitTransactionID  uuid.UUID       `json:"debit_transaction_id"`
	CreditTransactionID uuid.UUID       `json:"credit_transaction_id"`
	Recipient           domain.OwnerRef `json:"recipient"`
	Amount              int64           `json:"amount"`
	Currency            string          `json:"currency"`
	RemainingBalance    int64           `json:"remaining_balance"`
	CreatedAt           time.Time       `json:"created_at"`
	Replayed            bool            `json:"-"`
}

// RefundRequest holds validated input for a refund.
type RefundRequest struct {
	Actor          domain.Principal
	TransactionID  uuid.UUID
	Reason         string
	IdempotencyKey string
	ClientIP       string
}

// RefundResult is the outcome of a refund.
type RefundResult struct {
	Reference             string    `json:"reference"`
	OriginalTransactionID uuid.UUID `json:"original_transaction_id"`
	DebitTransactionID    uuid.UUID `json:"debit_transaction_id"`
	CreditTransactionID   uuid.UUID `json:"credit_transaction_id"`
	Amount                int64     `json:"amount"`
	Fee                   int64     `json:"fee"`
	Currency              string    `json:"currency"`
	CreatedAt             time.Time `json:"created_at"`
	Replayed              bool      `json:"-"`
}

// CardService defines card assignment and lifecycle.
type CardService interface {
	Assign(ctx context.Context, actor domain.Principal, req AssignCardRequest) (*domain.RfidCard, error)
	Deactivate(ctx context.Context, actor domain.Principal, cardUID string, reason string) (*domain.RfidCard, error)
	ListByCustomer(ctx context.Context, actor domain.Principal, customerID uuid.UUID) ([]domain.RfidCard, error)
}

// AssignCardRequest holds input for issuing a card to a customer.
type AssignCardRequest struct {
	CustomerID uuid.UUID
	CardUID    string
	Pin        string
}

// HistoryService defines transaction history and statistics.
type HistoryService interface {
	WalletHistory(ctx context.Context, owner domain.OwnerRef, params HistoryParams) (*HistoryPage, error)
	CardHistory(ctx context.Context, actor domain.Principal, cardUID string, params HistoryParams) (*HistoryPage, error)
	WalletStats(ctx context.Context, owner domain.OwnerRef) (*TransactionStats, error)
}

// HistoryParams holds pagination and filters for history queries.
type HistoryParams struct {
	Page     int
	PageSize int
	Kind     *domain.TransactionKind
	Status   *domain.TransactionStatus
}

// HistoryPage is one page of transactions, newest first.
type HistoryPage struct {
	Transactions []domain.Transaction `json:"transactions"`
	Total        int64                `json:"total"`
	Page         int                  `json:"page"`
	PageSize     int                  `json:"page_size"`
	TotalPages   int                  `json:"total_pages"`
}

// MerchantService defines merchant webhook settings.
type MerchantService interface {
	GetWebhook(ctx context.Context, merchantID uuid.UUID) (*WebhookSettings, error)
	UpdateWebhook(ctx context.Context, merchantID uuid.UUID, webhookURL *string) error
	RotateWebhookSecret(ctx context.Context, merchantID uuid.UUID) (string, error)
}

// WebhookSettings is the merchant's notification configuration.
type WebhookSettings struct {
	WebhookURL *string `json:"webhook_url"`
	HasSecret  bool    `json:"has_secret"`
}

// WebhookService defines async webhook delivery.
type WebhookService interface {
	Notify(ctx context.Context, event domain.WebhookEvent, merchantID uuid.UUID, transaction *domain.Transaction) error
}

// AuditService records audit entries without blocking the caller.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
