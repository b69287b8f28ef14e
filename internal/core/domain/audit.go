package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionPayment        AuditAction = "PAYMENT"
	AuditActionTransfer       AuditAction = "TRANSFER"
	AuditActionRefund         AuditAction = "REFUND"
	AuditActionTopUp          AuditAction = "TOPUP"
	AuditActionCreateWallet   AuditAction = "CREATE_WALLET"
	AuditActionPinFailed      AuditAction = "PIN_FAILED"
	AuditActionCardLocked     AuditAction = "CARD_LOCKED"
	AuditActionPinChanged     AuditAction = "PIN_CHANGED"
	AuditActionPinReset       AuditAction = "PIN_RESET"
	AuditActionCardUnlocked   AuditAction = "CARD_UNLOCKED"
	AuditActionCardAssigned   AuditAction = "CARD_ASSIGNED"
	AuditActionCardDeactivate AuditAction = "CARD_DEACTIVATED"
	AuditActionUpdateWebhook  AuditAction = "UPDATE_WEBHOOK"
	AuditActionRotateSecret   AuditAction = "ROTATE_WEBHOOK_SECRET"
	AuditActionAccessDenied   AuditAction = "ACCESS_DENIED"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID     `json:"id"`
	ActorID      *uuid.UUID    `json:"actor_id,omitempty"`
	ActorKind    PrincipalKind `json:"actor_kind,omitempty"`
	Action       AuditAction   `json:"action"`
	ResourceType string        `json:"resource_type"`
	ResourceID   string        `json:"resource_id,omitempty"`
	Details      string        `json:"details,omitempty"` // JSON string
	IPAddress    string        `json:"ip_address"`
	CreatedAt    time.Time     `json:"created_at"`
}
