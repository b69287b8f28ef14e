package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog represents a cached operation result to prevent double-processing.
type IdempotencyLog struct {
	Key           string    `json:"key"` // Format: "principal_id:operation:client_key"
	TransactionID uuid.UUID `json:"transaction_id"`
	ResponseJSON  []byte    `json:"response_json"` // Cached response to return
	CreatedAt     time.Time `json:"created_at"`
}

// Idempotent operations.
const (
	OpCardPayment = "card_payment"
	OpTransfer    = "transfer"
	OpTopUp       = "topup"
	OpRefund      = "refund"
)

// BuildIdempotencyKey constructs the standard key format.
func BuildIdempotencyKey(principalID uuid.UUID, operation, clientKey string) string {
	return principalID.String() + ":" + operation + ":" + clientKey
}
