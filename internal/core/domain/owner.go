package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OwnerKind discriminates the directory table an owner id points into.
type OwnerKind string

const (
	OwnerKindCustomer OwnerKind = "CUSTOMER"
	OwnerKindMerchant OwnerKind = "MERCHANT"
)

// Valid reports whether k is a known owner kind.
func (k OwnerKind) Valid() bool {
	return k == OwnerKindCustomer || k == OwnerKindMerchant
}

// Other returns the opposite owner kind.
func (k OwnerKind) Other() OwnerKind {
	if k == OwnerKindCustomer {
		return OwnerKindMerchant
	}
	return OwnerKindCustomer
}

// OwnerRef is a polymorphic reference to a customer or a merchant.
type OwnerRef struct {
	Kind OwnerKind `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// Customer is a card-holding wallet owner.
type Customer struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MerchantStatus represents the state of a merchant account.
type MerchantStatus string

const (
	MerchantStatusActive      MerchantStatus = "ACTIVE"
	MerchantStatusSuspended   MerchantStatus = "SUSPENDED"
	MerchantStatusDeactivated MerchantStatus = "DEACTIVATED"
)

// Merchant accepts card payments into its wallet.
type Merchant struct {
	ID               uuid.UUID      `json:"id"`
	BusinessName     string         `json:"business_name"`
	Phone            string         `json:"phone"`
	Email            string         `json:"email"`
	Status           MerchantStatus `json:"status"`
	WebhookURL       *string        `json:"webhook_url,omitempty"`
	WebhookSecretEnc *string        `json:"-"` // Encrypted, never expose
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// IsActive returns true if the merchant account is active.
func (m *Merchant) IsActive() bool {
	return m.Status == MerchantStatusActive
}

// Owner is the directory view shared by customers and merchants.
type Owner struct {
	Ref   OwnerRef `json:"ref"`
	Name  string   `json:"name"`
	Phone string   `json:"phone"`
	Email string   `json:"email"`
}

// OwnerLookup is the result of a phone search.
type OwnerLookup struct {
	Owner           Owner `json:"owner"`
	HasActiveWallet bool  `json:"has_active_wallet"`
}

// NormalizePhone strips the country prefix and separators from a phone number.
func NormalizePhone(phone string) string {
	p := strings.TrimSpace(phone)
	p = strings.NewReplacer(" ", "", "-", "").Replace(p)
	for _, prefix := range []string{"+977", "977"} {
		if strings.HasPrefix(p, prefix) && len(p) > len(prefix) {
			p = strings.TrimPrefix(p, prefix)
			break
		}
	}
	return p
}

// PhoneVariants returns the stored forms a normalized phone may have been saved as.
func PhoneVariants(phone string) []string {
	n := NormalizePhone(phone)
	if n == "" {
		return nil
	}
	return []string{n, "+977" + n, "+977-" + n, "977" + n}
}
