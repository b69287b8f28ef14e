package dto

import (
	"time"

	"rfid-wallet-ledger/internal/core/domain"
)

// TopUpRequest is the request body for POST /wallets/topup.
type TopUpRequest struct {
	Amount int64 `json:"amount"`
}

// TransferRequest is the request body for POST /transfers.
// RecipientKind is tried first; the other kind is the fallback.
type TransferRequest struct {
	RecipientPhone string `json:"recipient_phone" binding:"required,phone"`
	RecipientKind  string `json:"recipient_kind" binding:"omitempty,oneof=CUSTOMER MERCHANT"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description" binding:"max=255"`
}

// CardPaymentRequest is the request body for POST /payments/card.
type CardPaymentRequest struct {
	CardUID     string `json:"card_uid" binding:"required,card_uid"`
	Pin         string `json:"pin" binding:"required,pin"`
	Amount      int64  `json:"amount"`
	Description string `json:"description" binding:"max=255"`
}

// RefundRequest is the request body for POST /payments/:id/refund.
type RefundRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

// VerifyCardRequest is the request body for POST /cards/verify. The PIN is optional.
type VerifyCardRequest struct {
	CardUID string  `json:"card_uid" binding:"required,card_uid"`
	Pin     *string `json:"pin,omitempty" binding:"omitempty,pin"`
}

// CardBalanceRequest is the request body for POST /cards/balance.
type CardBalanceRequest struct {
	CardUID string `json:"card_uid" binding:"required,card_uid"`
	Pin     string `json:"pin" binding:"required,pin"`
}

// AssignCardRequest is the request body for POST /cards.
type AssignCardRequest struct {
	CustomerID string `json:"customer_id" binding:"required,uuid"`
	CardUID    string `json:"card_uid" binding:"required,card_uid"`
	Pin        string `json:"pin" binding:"required,pin"`
}

// DeactivateCardRequest is the request body for POST /cards/:uid/deactivate.
type DeactivateCardRequest struct {
	Reason string `json:"reason" binding:"max=50"`
}

// ChangePinRequest is the request body for PUT /cards/:uid/pin.
type ChangePinRequest struct {
	CurrentPin string `json:"current_pin" binding:"required,pin"`
	NewPin     string `json:"new_pin" binding:"required,pin"`
}

// ResetPinRequest is the request body for POST /cards/:uid/pin/reset.
type ResetPinRequest struct {
	NewPin string `json:"new_pin" binding:"required,pin"`
}

// UpdateWebhookRequest is the request body for PUT /merchants/me/webhook.
// A null or empty URL turns notifications off.
type UpdateWebhookRequest struct {
	WebhookURL *string `json:"webhook_url" binding:"omitempty,max=500,webhook_url"`
}

// HistoryQuery binds the pagination and filter query string.
type HistoryQuery struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Kind     string `form:"kind" binding:"omitempty,oneof=CREDIT DEBIT TRANSFER REFUND"`
	Status   string `form:"status" binding:"omitempty,oneof=PENDING COMPLETED FAILED REFUNDED"`
}

// WalletResponse is the response body for a wallet.
type WalletResponse struct {
	ID        string           `json:"id"`
	OwnerID   string           `json:"owner_id"`
	OwnerKind domain.OwnerKind `json:"owner_kind"`
	Balance   int64            `json:"balance"`
	Currency  string           `json:"currency"`
	IsActive  bool             `json:"is_active"`
	CreatedAt time.Time        `json:"created_at"`
}

// CardResponse is the response body for a card. The PIN hash never leaves the service.
type CardResponse struct {
	ID                 string            `json:"id"`
	CardUID            string            `json:"card_uid"`
	CustomerID         string            `json:"customer_id"`
	Status             domain.CardStatus `json:"status"`
	IsActive           bool              `json:"is_active"`
	IssuedAt           time.Time         `json:"issued_at"`
	ExpiresAt          time.Time         `json:"expires_at"`
	LastUsed           *time.Time        `json:"last_used,omitempty"`
	RequiresPinChange  bool              `json:"requires_pin_change"`
	DeactivatedAt      *time.Time        `json:"deactivated_at,omitempty"`
	DeactivationReason *string           `json:"deactivation_reason,omitempty"`
}

// RotateSecretResponse carries the new webhook signing secret. It is shown once.
type RotateSecretResponse struct {
	WebhookSecret string `json:"webhook_secret"`
}

// NewWalletResponse converts a domain wallet.
func NewWalletResponse(w *domain.Wallet) WalletResponse {
	return WalletResponse{
		ID:        w.ID.String(),
		OwnerID:   w.OwnerID.String(),
		OwnerKind: w.OwnerKind,
		Balance:   w.Balance,
		Currency:  w.Currency,
		IsActive:  w.IsActive,
		CreatedAt: w.CreatedAt,
	}
}

// NewCardResponse converts a domain card.
func NewCardResponse(c *domain.RfidCard) CardResponse {
	return CardResponse{
		ID:                 c.ID.String(),
		CardUID:            c.CardUID,
		CustomerID:         c.CustomerID.String(),
		Status:             c.Status,
		IsActive:           c.IsActive,
		IssuedAt:           c.IssuedAt,
		ExpiresAt:          c.ExpiresAt,
		LastUsed:           c.LastUsed,
		RequiresPinChange:  c.RequiresPinChange,
		DeactivatedAt:      c.DeactivatedAt,
		DeactivationReason: c.DeactivationReason,
	}
}
