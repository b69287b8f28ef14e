package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is a custodial balance held by exactly one owner.
// Balance is in minor units and never negative.
type Wallet struct {
	ID              uuid.UUID `json:"id"`
	OwnerID         uuid.UUID `json:"owner_id"`
	OwnerKind       OwnerKind `json:"owner_kind"`
	Balance         int64     `json:"balance"`
	Currency        string    `json:"currency"`
	IsActive        bool      `json:"is_active"`
	TransactionRefs []string  `json:"-"`
	Version         int64     `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Owner returns the polymorphic owner reference.
func (w *Wallet) Owner() OwnerRef {
	return OwnerRef{Kind: w.OwnerKind, ID: w.OwnerID}
}

// CanDebit reports whether amount can leave the wallet.
func (w *Wallet) CanDebit(amount int64) bool {
	return w.IsActive && amount > 0 && w.Balance >= amount
}
