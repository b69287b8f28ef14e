package domain

import "github.com/google/uuid"

// PrincipalKind is the role carried by an authenticated caller.
type PrincipalKind string

const (
	PrincipalCustomer PrincipalKind = "CUSTOMER"
	PrincipalMerchant PrincipalKind = "MERCHANT"
	PrincipalAdmin    PrincipalKind = "ADMIN"
)

// Valid reports whether k is a known principal kind.
func (k PrincipalKind) Valid() bool {
	switch k {
	case PrincipalCustomer, PrincipalMerchant, PrincipalAdmin:
		return true
	}
	return false
}

// Principal is the authenticated caller as asserted by the identity layer.
type Principal struct {
	ID   uuid.UUID     `json:"id"`
	Kind PrincipalKind `json:"kind"`
}

// IsAdmin returns true for the privileged operator role.
func (p Principal) IsAdmin() bool {
	return p.Kind == PrincipalAdmin
}

// OwnerKind maps a customer or merchant principal to its wallet owner kind.
// Admins own no wallet.
func (p Principal) OwnerKind() (OwnerKind, bool) {
	switch p.Kind {
	case PrincipalCustomer:
		return OwnerKindCustomer, true
	case PrincipalMerchant:
		return OwnerKindMerchant, true
	}
	return "", false
}

// Owns reports whether the principal is the given owner.
func (p Principal) Owns(ref OwnerRef) bool {
	kind, ok := p.OwnerKind()
	return ok && kind == ref.Kind && p.ID == ref.ID
}
