package domain

import (
	"time"

	"github.com/google/uuid"
)

// CardStatus is the lifecycle state of an RFID card.
type CardStatus string

const (
	CardStatusPendingActivation CardStatus = "PENDING_ACTIVATION"
	CardStatusActive            CardStatus = "ACTIVE"
	CardStatusInactive          CardStatus = "INACTIVE"
	CardStatusLost              CardStatus = "LOST"
	CardStatusExpired           CardStatus = "EXPIRED"
	CardStatusPinLocked         CardStatus = "PIN_LOCKED"
)

// MaxPinAttempts is the number of consecutive failures that locks a card.
const MaxPinAttempts = 3

// RfidCard is a customer's tap-to-pay card and its PIN lockout state.
type RfidCard struct {
	ID                 uuid.UUID  `json:"id"`
	CardUID            string     `json:"card_uid"`
	CustomerID         uuid.UUID  `json:"customer_id"`
	PinHash            string     `json:"-"`
	PinAttempts        int        `json:"pin_attempts"`
	PinLockedUntil     *time.Time `json:"pin_locked_until,omitempty"`
	LastPinChange      *time.Time `json:"last_pin_change,omitempty"`
	RequiresPinChange  bool       `json:"requires_pin_change"`
	IsActive           bool       `json:"is_active"`
	Status             CardStatus `json:"status"`
	IssuedAt           time.Time  `json:"issued_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	LastUsed           *time.Time `json:"last_used,omitempty"`
	DeactivatedAt      *time.Time `json:"deactivated_at,omitempty"`
	DeactivationReason *string    `json:"deactivation_reason,omitempty"`
	Version            int64      `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsPinLocked reports whether the lock is set and still in the future.
func (c *RfidCard) IsPinLocked(now time.Time) bool {
	return c.PinLockedUntil != nil && now.Before(*c.PinLockedUntil)
}

// IsExpired reports whether the card is past its expiry date.
func (c *RfidCard) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// IsUsable reports whether the card may be presented for payment.
// A PIN_LOCKED card whose lock has elapsed counts as usable.
func (c *RfidCard) IsUsable(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	switch c.Status {
	case CardStatusActive:
		return true
	case CardStatusPinLocked:
		return !c.IsPinLocked(now)
	}
	return false
}

// RemainingAttempts returns how many PIN failures are left before lockout.
func (c *RfidCard) RemainingAttempts() int {
	if c.PinAttempts >= MaxPinAttempts {
		return 0
	}
	return MaxPinAttempts - c.PinAttempts
}

// ClearElapsedLock resets the counter once a lock has run out,
// giving the holder a fresh set of attempts.
func (c *RfidCard) ClearElapsedLock(now time.Time) bool {
	if c.PinLockedUntil == nil || c.IsPinLocked(now) {
		return false
	}
	c.PinLockedUntil = nil
	c.PinAttempts = 0
	if c.Status == CardStatusPinLocked {
		c.Status = CardStatusActive
	}
	return true
}

// RecordPinFailure counts a mismatch and locks the card on the last allowed attempt.
// It returns true when this failure locked the card.
func (c *RfidCard) RecordPinFailure(now time.Time, lockFor time.Duration) bool {
	c.ClearElapsedLock(now)
	if c.PinAttempts < MaxPinAttempts {
		c.PinAttempts++
	}
	if c.PinAttempts >= MaxPinAttempts {
		until := now.Add(lockFor)
		c.PinLockedUntil = &until
		c.Status = CardStatusPinLocked
		return true
	}
	return false
}

// RecordPinSuccess resets lockout state after a matching PIN.
func (c *RfidCard) RecordPinSuccess(now time.Time) {
	c.PinAttempts = 0
	c.PinLockedUntil = nil
	if c.Status == CardStatusPinLocked {
		c.Status = CardStatusActive
	}
	c.LastUsed = &now
}

// Unlock clears the counter and lock regardless of elapsed time.
func (c *RfidCard) Unlock() {
	c.PinAttempts = 0
	c.PinLockedUntil = nil
	if c.Status == CardStatusPinLocked {
		c.Status = CardStatusActive
	}
}

// MarkExpired takes a card past its expiry date out of service.
func (c *RfidCard) MarkExpired() {
	c.Status = CardStatusExpired
	c.IsActive = false
}

// Deactivate takes the card out of service.
func (c *RfidCard) Deactivate(now time.Time, reason string) {
	c.IsActive = false
	if reason == string(CardStatusLost) {
		c.Status = CardStatusLost
	} else {
		c.Status = CardStatusInactive
	}
	c.DeactivatedAt = &now
	r := reason
	c.DeactivationReason = &r
}

// ValidatePinFormat reports whether pin is 4 to 6 ASCII digits.
func ValidatePinFormat(pin string) bool {
	if len(pin) < 4 || len(pin) > 6 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
