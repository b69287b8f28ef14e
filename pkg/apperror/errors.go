package apperror

import (
	"fmt"
	"net/http"
	"time"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Data       any    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithData attaches client-visible details (e.g. remaining PIN attempts).
func (e *AppError) WithData(data any) *AppError {
	e.Data = data
	return e
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Validation (VAL) ----

// Validation returns a generic 400 for malformed input.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return New("VAL_002", "Amount must be greater than zero", http.StatusBadRequest)
}

func ErrPayloadTooLarge(limit int64) *AppError {
	return New("VAL_004", fmt.Sprintf("Request body exceeds %d bytes", limit), http.StatusRequestEntityTooLarge)
}

func ErrInvalidPinFormat() *AppError {
	return New("VAL_003", "PIN must be 4 to 6 digits", http.StatusBadRequest)
}

// ---- Not found (NF) ----

func ErrNotFound(entity string) *AppError {
	return New("NF_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrWalletNotFound() *AppError {
	return New("NF_002", "Wallet not found", http.StatusNotFound)
}

func ErrUserNotFound() *AppError {
	return New("NF_003", "User not found", http.StatusNotFound)
}

// ---- Ledger business rules (PAY) ----

func ErrInsufficientFunds() *AppError {
	return New("PAY_001", "Insufficient balance in wallet", http.StatusBadRequest)
}

func ErrBelowMinimum(minimum int64) *AppError {
	return New("PAY_002", fmt.Sprintf("Amount is below the minimum of %d", minimum), http.StatusBadRequest)
}

func ErrAlreadyRefunded() *AppError {
	return New("PAY_003", "Transaction has already been refunded", http.StatusBadRequest)
}

func ErrNotRefundable() *AppError {
	return New("PAY_004", "Only completed payments and transfers can be refunded", http.StatusBadRequest)
}

func ErrSelfTransfer() *AppError {
	return New("PAY_005", "Cannot transfer to your own wallet", http.StatusBadRequest)
}

func ErrRecipientInactive() *AppError {
	return New("PAY_006", "Recipient wallet is not active", http.StatusBadRequest)
}

func ErrWalletInactive() *AppError {
	return New("PAY_007", "Wallet is not active", http.StatusBadRequest)
}

func ErrWalletExists() *AppError {
	return New("PAY_008", "Wallet already exists for this owner", http.StatusBadRequest)
}

func ErrMerchantSuspended() *AppError {
	return New("PAY_009", "Merchant account is not active", http.StatusBadRequest)
}

// ErrConcurrentModification is returned once the conflict retry budget is spent.
// Nothing was applied.
func ErrConcurrentModification(err error) *AppError {
	return Wrap("PAY_010", "The operation was not applied because the records were modified concurrently; please retry", http.StatusConflict, err)
}

// ---- Card & PIN (CARD) ----

func ErrCardLocked(until *time.Time) *AppError {
	e := New("CARD_001", "Card is locked due to too many failed PIN attempts", http.StatusBadRequest)
	if until != nil {
		e.Data = map[string]any{"is_locked": true, "unlock_time": until.UTC().Format(time.RFC3339)}
	}
	return e
}

func ErrInvalidPin(remaining int) *AppError {
	return New("CARD_002", "Invalid PIN", http.StatusUnauthorized).
		WithData(map[string]any{"remaining_attempts": remaining, "is_locked": false})
}

func ErrCardInactive(status string) *AppError {
	return New("CARD_003", fmt.Sprintf("Card is not active (status: %s)", status), http.StatusBadRequest)
}

func ErrCardExpired() *AppError {
	return New("CARD_004", "Card has expired", http.StatusBadRequest)
}

func ErrPinChangeRequired() *AppError {
	return New("CARD_005", "PIN change required before further payments", http.StatusForbidden)
}

func ErrSamePin() *AppError {
	return New("CARD_006", "New PIN must differ from the current PIN", http.StatusBadRequest)
}

func ErrCardAlreadyAssigned() *AppError {
	return New("CARD_007", "Card UID is already registered", http.StatusBadRequest)
}

func ErrCardBusy() *AppError {
	return New("CARD_009", "Card is being verified by another request", http.StatusTooManyRequests)
}

// ---- Authentication & authorization (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New("AUTH_002", "You do not have permission to perform this action", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_003", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
