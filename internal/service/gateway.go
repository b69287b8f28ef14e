package service

import (
	"context"
	"strings"
	"time"

	"rfid-wallet-ledger/config"
	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/apperror"
	"rfid-wallet-ledger/pkg/logger"

	"github.com/rs/zerolog"
)

// cardSettler books a card payment once the card and PIN have been accepted.
type cardSettler interface {
	SettleCardPayment(ctx context.Context, req ports.CardPaymentRequest, card *domain.RfidCard) (*ports.PaymentResult, error)
}

// PaymentGatewayImpl is the tap-to-pay entry point.
type PaymentGatewayImpl struct {
	cards     ports.CardRepository
	merchants ports.MerchantRepository
	wallets   ports.WalletRepository
	guard     *PinGuard
	settler   cardSettler
	idem      *idempotencyStore
	audit     ports.AuditService
	now       func() time.Time
	log       zerolog.Logger
}

var _ ports.PaymentGateway = (*PaymentGatewayImpl)(nil)

// NewPaymentGateway creates the payment gateway facade.
func NewPaymentGateway(
	cards ports.CardRepository,
	merchants ports.MerchantRepository,
	wallets ports.WalletRepository,
	guard *PinGuard,
	settler cardSettler,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	audit ports.AuditService,
	cfg config.LedgerConfig,
	log zerolog.Logger,
) *PaymentGatewayImpl {
	return &PaymentGatewayImpl{
		cards:     cards,
		merchants: merchants,
		wallets:   wallets,
		guard:     guard,
		settler:   settler,
		idem:      newIdempotencyStore(idempRepo, idempCache, cfg.IdempotencyTTL, log),
		audit:     audit,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
}

// PayByCard runs a tap payment: validate, check the PIN, then settle.
// The PIN outcome is persisted whatever happens to the payment.
func (g *PaymentGatewayImpl) PayByCard(ctx context.Context, req ports.CardPaymentRequest) (*ports.PaymentResult, error) {
	req.CardUID = strings.TrimSpace(req.CardUID)
	if req.CardUID == "" {
		return nil, apperror.Validation("Card UID is required")
	}
	if !domain.ValidatePinFormat(req.Pin) {
		return nil, apperror.ErrInvalidPinFormat()
	}
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	merchant, err := g.merchants.GetByID(ctx, req.MerchantID)
	if err != nil {
		return nil, storageErr("get merchant", err)
	}
	if merchant == nil {
		return nil, apperror.ErrNotFound("Merchant")
	}
	if !merchant.IsActive() {
		return nil, apperror.ErrMerchantSuspended()
	}

	key := idempotencyKey(req.MerchantID, domain.OpCardPayment, req.IdempotencyKey)
	var prior ports.PaymentResult
	found, err := g.idem.lookup(ctx, key, &prior)
	if err != nil {
		return nil, err
	}
	if found {
		g.log.Info().Str("idempotency_key", key).Msg("idempotent replay (card payment)")
		prior.Replayed = true
		return &prior, nil
	}

	card, err := g.usableCard(ctx, req.CardUID)
	if err != nil {
		return nil, err
	}
	if err := g.guard.Verify(ctx, card, req.Pin); err != nil {
		return nil, err
	}
	if card.RequiresPinChange {
		return nil, apperror.ErrPinChangeRequired()
	}

	return g.settler.SettleCardPayment(ctx, req, card)
}

// VerifyCard reports the card's state. With a PIN it also runs the PIN
// check; a wrong PIN is reported in the result rather than as an error.
func (g *PaymentGatewayImpl) VerifyCard(ctx context.Context, req ports.VerifyCardRequest) (*ports.CardVerification, error) {
	if req.Pin != nil && !domain.ValidatePinFormat(*req.Pin) {
		return nil, apperror.ErrInvalidPinFormat()
	}

	card, err := g.loadCard(ctx, req.CardUID)
	if err != nil {
		return nil, err
	}
	now := g.now()
	if expired(card, now) {
		g.markExpired(ctx, card)
		return nil, apperror.ErrCardExpired()
	}
	if !card.IsActive {
		return nil, apperror.ErrCardInactive(string(card.Status))
	}

	if req.Pin == nil {
		return verification(card, now), nil
	}

	outcome, err := g.guard.Check(ctx, card, *req.Pin)
	if err != nil {
		return nil, err
	}
	v := verification(card, g.now())
	v.PinVerified = &outcome.Matched
	if !outcome.Matched {
		return v, nil
	}

	wallet, err := g.customerWallet(ctx, card)
	if err != nil {
		return nil, err
	}
	v.Balance = &wallet.Balance
	v.Currency = wallet.Currency
	return v, nil
}

// CheckCardBalance returns the card holder's balance after a PIN check.
func (g *PaymentGatewayImpl) CheckCardBalance(ctx context.Context, cardUID string, pin string) (*ports.BalanceResult, error) {
	if !domain.ValidatePinFormat(pin) {
		return nil, apperror.ErrInvalidPinFormat()
	}
	card, err := g.usableCard(ctx, cardUID)
	if err != nil {
		return nil, err
	}
	if err := g.guard.Verify(ctx, card, pin); err != nil {
		return nil, err
	}
	wallet, err := g.customerWallet(ctx, card)
	if err != nil {
		return nil, err
	}
	return &ports.BalanceResult{WalletID: wallet.ID, Balance: wallet.Balance, Currency: wallet.Currency}, nil
}

// ChangePin lets the card holder replace their PIN.
func (g *PaymentGatewayImpl) ChangePin(ctx context.Context, actor domain.Principal, cardUID, currentPin, newPin string) error {
	card, err := g.loadCard(ctx, cardUID)
	if err != nil {
		return err
	}
	if actor.Kind != domain.PrincipalCustomer || card.CustomerID != actor.ID {
		return apperror.ErrForbidden()
	}
	if !card.IsActive {
		return apperror.ErrCardInactive(string(card.Status))
	}
	if err := g.guard.ChangePin(ctx, card, currentPin, newPin); err != nil {
		return err
	}

	g.log.Info().Str("card_uid", logger.MaskCardUID(card.CardUID)).Msg("pin changed")
	g.audit.Log(ctx, auditEntry(&actor, domain.AuditActionPinChanged, "card", card.CardUID, "", nil))
	return nil
}

// AdminResetPin sets a temporary PIN the holder must change before paying.
func (g *PaymentGatewayImpl) AdminResetPin(ctx context.Context, actor domain.Principal, cardUID, newPin string) error {
	if !actor.IsAdmin() {
		return apperror.ErrForbidden()
	}
	card, err := g.loadCard(ctx, cardUID)
	if err != nil {
		return err
	}
	if err := g.guard.AdminReset(ctx, card, newPin); err != nil {
		return err
	}

	g.log.Info().Str("card_uid", logger.MaskCardUID(card.CardUID)).Str("admin_id", actor.ID.String()).Msg("pin reset by admin")
	g.audit.Log(ctx, auditEntry(&actor, domain.AuditActionPinReset, "card", card.CardUID, "", nil))
	return nil
}

// Unlock clears a PIN lock ahead of its expiry.
func (g *PaymentGatewayImpl) Unlock(ctx context.Context, actor domain.Principal, cardUID string) error {
	if !actor.IsAdmin() {
		return apperror.ErrForbidden()
	}
	card, err := g.loadCard(ctx, cardUID)
	if err != nil {
		return err
	}
	if err := g.guard.Unlock(ctx, card); err != nil {
		return err
	}

	g.log.Info().Str("card_uid", logger.MaskCardUID(card.CardUID)).Str("admin_id", actor.ID.String()).Msg("card unlocked")
	g.audit.Log(ctx, auditEntry(&actor, domain.AuditActionCardUnlocked, "card", card.CardUID, "", nil))
	return nil
}

func (g *PaymentGatewayImpl) loadCard(ctx context.Context, cardUID string) (*domain.RfidCard, error) {
	cardUID = strings.TrimSpace(cardUID)
	if cardUID == "" {
		return nil, apperror.Validation("Card UID is required")
	}
	card, err := g.cards.GetByUID(ctx, cardUID)
	if err != nil {
		return nil, storageErr("get card", err)
	}
	if card == nil {
		return nil, apperror.ErrNotFound("Card")
	}
	return card, nil
}

// usableCard loads a card that may be presented for payment.
func (g *PaymentGatewayImpl) usableCard(ctx context.Context, cardUID string) (*domain.RfidCard, error) {
	card, err := g.loadCard(ctx, cardUID)
	if err != nil {
		return nil, err
	}
	now := g.now()
	if card.IsPinLocked(now) {
		return nil, apperror.ErrCardLocked(card.PinLockedUntil)
	}
	if expired(card, now) {
		g.markExpired(ctx, card)
		return nil, apperror.ErrCardExpired()
	}
	if !card.IsUsable(now) {
		return nil, apperror.ErrCardInactive(string(card.Status))
	}
	return card, nil
}

// expired covers both a card past its date and one already marked EXPIRED.
func expired(card *domain.RfidCard, now time.Time) bool {
	return card.IsExpired(now) || card.Status == domain.CardStatusExpired
}

func (g *PaymentGatewayImpl) markExpired(ctx context.Context, card *domain.RfidCard) {
	if err := g.guard.MarkExpired(ctx, card); err != nil {
		g.log.Warn().Err(err).Str("card_uid", logger.MaskCardUID(card.CardUID)).Msg("failed to persist expired card status")
	}
}

func (g *PaymentGatewayImpl) customerWallet(ctx context.Context, card *domain.RfidCard) (*domain.Wallet, error) {
	wallet, err := g.wallets.GetByOwner(ctx, domain.OwnerRef{Kind: domain.OwnerKindCustomer, ID: card.CustomerID})
	if err != nil {
		return nil, storageErr("get wallet", err)
	}
	if wallet == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	return wallet, nil
}

// verification reports the card as its next PIN attempt would see it: a lock
// that has run out shows as ACTIVE with a full set of attempts.
func verification(stored *domain.RfidCard, now time.Time) *ports.CardVerification {
	card := *stored
	card.ClearElapsedLock(now)
	return &ports.CardVerification{
		CardUID:           card.CardUID,
		CustomerID:        card.CustomerID,
		Status:            card.Status,
		ExpiresAt:         card.ExpiresAt,
		LastUsed:          card.LastUsed,
		RequiresPinChange: card.RequiresPinChange,
		RemainingAttempts: card.RemainingAttempts(),
		IsLocked:          card.IsPinLocked(now),
		LockedUntil:       card.PinLockedUntil,
	}
}
