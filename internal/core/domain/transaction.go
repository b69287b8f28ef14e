package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind represents the kind of ledger entry.
type TransactionKind string

const (
	TransactionKindCredit   TransactionKind = "CREDIT"
	TransactionKindDebit    TransactionKind = "DEBIT"
	TransactionKindTransfer TransactionKind = "TRANSFER"
	TransactionKindRefund   TransactionKind = "REFUND"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusRefunded  TransactionStatus = "REFUNDED"
)

// TransactionMetadata links a ledger entry to the other side of the movement.
type TransactionMetadata struct {
	CounterpartyID        *uuid.UUID `json:"counterparty_id,omitempty"`
	CounterpartyKind      *OwnerKind `json:"counterparty_kind,omitempty"`
	CardID                *uuid.UUID `json:"card_id,omitempty"`
	OriginalTransactionID *uuid.UUID `json:"original_transaction_id,omitempty"`
	Note                  *string    `json:"note,omitempty"`
	ActorID               *uuid.UUID `json:"actor_id,omitempty"`
}

// Transaction is one leg of a money movement. Amount is signed:
// negative leaves the wallet, positive enters it.
type Transaction struct {
	ID             uuid.UUID           `json:"id"`
	Reference      string              `json:"reference"`
	GroupReference string              `json:"group_reference"`
	WalletID       uuid.UUID           `json:"wallet_id"`
	Amount         int64               `json:"amount"`
	Fee            int64               `json:"fee"`
	Kind           TransactionKind     `json:"kind"`
	Description    string              `json:"description"`
	Status         TransactionStatus   `json:"status"`
	Metadata       TransactionMetadata `json:"metadata"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// IsDebit returns true for the leg that removed money from its wallet.
func (t *Transaction) IsDebit() bool {
	return t.Amount < 0
}

// IsTopUp returns true for a single-leg credit with no counterparty.
func (t *Transaction) IsTopUp() bool {
	return t.Kind == TransactionKindCredit && t.Metadata.CounterpartyID == nil
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status != TransactionStatusPending
}

// IsRefundableKind returns true for the legs of card payments and transfers.
func (t *Transaction) IsRefundableKind() bool {
	return t.Kind != TransactionKindRefund && !t.IsTopUp()
}

// IsRefundable returns true if this transaction can still be refunded.
func (t *Transaction) IsRefundable() bool {
	return t.IsRefundableKind() && t.Status == TransactionStatusCompleted
}

// Magnitude returns the absolute amount.
func (t *Transaction) Magnitude() int64 {
	if t.Amount < 0 {
		return -t.Amount
	}
	return t.Amount
}
