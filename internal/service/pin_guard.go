package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rfid-wallet-ledger/config"
	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/apperror"
	"rfid-wallet-ledger/pkg/logger"

	"github.com/rs/zerolog"
)

// PinOutcome is the result of one PIN comparison.
type PinOutcome struct {
	Matched           bool
	RemainingAttempts int
	Locked            bool
	LockedUntil       *time.Time
}

// PinGuard owns a card's PIN hash, attempt counter and lock timer.
// Every state change is written straight away as a standalone,
// version-conditional update, independent of any money movement.
type PinGuard struct {
	cards   ports.CardRepository
	hasher  ports.HashService
	lock    ports.CardLock
	audit   ports.AuditService
	lockFor time.Duration
	lockTTL time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// NewPinGuard creates a PIN guard.
func NewPinGuard(
	cards ports.CardRepository,
	hasher ports.HashService,
	lock ports.CardLock,
	audit ports.AuditService,
	cfg config.LedgerConfig,
	log zerolog.Logger,
) *PinGuard {
	return &PinGuard{
		cards:   cards,
		hasher:  hasher,
		lock:    lock,
		audit:   audit,
		lockFor: cfg.PinLockDuration,
		lockTTL: cfg.CardLockTTL,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}
}

// Check compares pin against the card's hash and records the outcome.
// The card is re-read once the verification lock is held, so the comparison
// never runs against state older than the last recorded attempt. A card whose
// lock is still running fails with CARD_001 and no attempt is consumed. card
// is updated in place with the persisted state.
func (g *PinGuard) Check(ctx context.Context, card *domain.RfidCard, pin string) (*PinOutcome, error) {
	release, err := g.acquire(ctx, card.CardUID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := g.reload(ctx, card); err != nil {
		return nil, err
	}
	now := g.now()
	if card.IsPinLocked(now) {
		return nil, apperror.ErrCardLocked(card.PinLockedUntil)
	}

	matched, err := g.hasher.Verify(pin, card.PinHash)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("verify pin hash: %w", err))
	}

	if matched {
		if err := g.persist(ctx, card, unlessLocked(now, func(c *domain.RfidCard) { c.RecordPinSuccess(now) })); err != nil {
			return nil, err
		}
		g.log.Info().Str("card_uid", logger.MaskCardUID(card.CardUID)).Msg("pin verified")
		return &PinOutcome{Matched: true, RemainingAttempts: card.RemainingAttempts()}, nil
	}

	var lockedNow bool
	if err := g.persist(ctx, card, unlessLocked(now, func(c *domain.RfidCard) { lockedNow = c.RecordPinFailure(now, g.lockFor) })); err != nil {
		return nil, err
	}

	outcome := &PinOutcome{
		RemainingAttempts: card.RemainingAttempts(),
		Locked:            card.IsPinLocked(now),
		LockedUntil:       card.PinLockedUntil,
	}

	g.log.Warn().
		Str("card_uid", logger.MaskCardUID(card.CardUID)).
		Int("pin_attempts", card.PinAttempts).
		Bool("locked", outcome.Locked).
		Msg("pin mismatch")

	g.audit.Log(ctx, auditEntry(nil, domain.AuditActionPinFailed, "card", card.CardUID, "",
		map[string]any{"pin_attempts": card.PinAttempts}))
	if lockedNow {
		g.audit.Log(ctx, auditEntry(nil, domain.AuditActionCardLocked, "card", card.CardUID, "",
			map[string]any{"locked_until": card.PinLockedUntil}))
	}

	return outcome, nil
}

// Verify is Check with a mismatch reported as an error: CARD_002 with the
// remaining attempts, or CARD_001 when this failure locked the card.
func (g *PinGuard) Verify(ctx context.Context, card *domain.RfidCard, pin string) error {
	outcome, err := g.Check(ctx, card, pin)
	if err != nil {
		return err
	}
	if outcome.Matched {
		return nil
	}
	if outcome.Locked {
		return apperror.ErrCardLocked(outcome.LockedUntil)
	}
	return apperror.ErrInvalidPin(outcome.RemainingAttempts)
}

// ChangePin replaces the PIN after verifying the current one.
func (g *PinGuard) ChangePin(ctx context.Context, card *domain.RfidCard, currentPin, newPin string) error {
	if !domain.ValidatePinFormat(newPin) {
		return apperror.ErrInvalidPinFormat()
	}
	if newPin == currentPin {
		return apperror.ErrSamePin()
	}
	if err := g.Verify(ctx, card, currentPin); err != nil {
		return err
	}

	hash, err := g.hasher.Hash(newPin)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("hash pin: %w", err))
	}
	now := g.now()
	return g.persist(ctx, card, unlessLocked(now, func(c *domain.RfidCard) {
		c.PinHash = hash
		c.RequiresPinChange = false
		c.LastPinChange = &now
	}))
}

// AdminReset sets a new PIN that the holder must change on next use.
func (g *PinGuard) AdminReset(ctx context.Context, card *domain.RfidCard, newPin string) error {
	if !domain.ValidatePinFormat(newPin) {
		return apperror.ErrInvalidPinFormat()
	}
	hash, err := g.hasher.Hash(newPin)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("hash pin: %w", err))
	}
	now := g.now()
	return g.persist(ctx, card, always(func(c *domain.RfidCard) {
		c.PinHash = hash
		c.RequiresPinChange = true
		c.LastPinChange = &now
		c.Unlock()
	}))
}

// Unlock clears the attempt counter and any lock.
func (g *PinGuard) Unlock(ctx context.Context, card *domain.RfidCard) error {
	return g.persist(ctx, card, always(func(c *domain.RfidCard) { c.Unlock() }))
}

// MarkExpired takes a card past its expiry date out of service.
func (g *PinGuard) MarkExpired(ctx context.Context, card *domain.RfidCard) error {
	if card.Status == domain.CardStatusExpired && !card.IsActive {
		return nil
	}
	return g.persist(ctx, card, always(func(c *domain.RfidCard) { c.MarkExpired() }))
}

// unlessLocked refuses to apply a PIN outcome to a card that is locked,
// which happens when a concurrent failure locked it after this comparison.
func unlessLocked(now time.Time, apply func(*domain.RfidCard)) func(*domain.RfidCard) error {
	return func(c *domain.RfidCard) error {
		if c.IsPinLocked(now) {
			return apperror.ErrCardLocked(c.PinLockedUntil)
		}
		apply(c)
		return nil
	}
}

func always(apply func(*domain.RfidCard)) func(*domain.RfidCard) error {
	return func(c *domain.RfidCard) error {
		apply(c)
		return nil
	}
}

// reload replaces card with its stored state.
func (g *PinGuard) reload(ctx context.Context, card *domain.RfidCard) error {
	fresh, err := g.cards.GetByID(ctx, card.ID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("reload card: %w", err))
	}
	if fresh == nil {
		return apperror.ErrNotFound("card")
	}
	*card = *fresh
	return nil
}

// persist applies change and writes the card. If the write fails or the
// version moved, the card is reloaded and change is applied once more to
// the fresh state; a change that rejects the fresh state leaves card holding
// it and returns the rejection.
func (g *PinGuard) persist(ctx context.Context, card *domain.RfidCard, change func(*domain.RfidCard) error) error {
	if err := change(card); err != nil {
		return err
	}
	err := g.cards.Update(ctx, card)
	if err == nil {
		return nil
	}

	g.log.Warn().Err(err).
		Str("card_uid", logger.MaskCardUID(card.CardUID)).
		Bool("conflict", errors.Is(err, ports.ErrConflict)).
		Msg("card state write failed, reapplying on fresh state")

	fresh, gerr := g.cards.GetByID(ctx, card.ID)
	if gerr != nil {
		return apperror.InternalError(fmt.Errorf("reload card: %w", gerr))
	}
	if fresh == nil {
		return apperror.ErrNotFound("card")
	}
	if err := change(fresh); err != nil {
		*card = *fresh
		return err
	}
	if err := g.cards.Update(ctx, fresh); err != nil {
		g.log.Error().Err(err).Str("card_uid", logger.MaskCardUID(card.CardUID)).Msg("card state write failed twice")
		return apperror.InternalError(fmt.Errorf("update card: %w", err))
	}
	*card = *fresh
	return nil
}

// acquire takes the per-card verification lock. A Redis outage degrades to
// unguarded verification.
func (g *PinGuard) acquire(ctx context.Context, cardUID string) (func(), error) {
	token, ok, err := g.lock.Acquire(ctx, cardUID, g.lockTTL)
	if err != nil {
		g.log.Warn().Err(err).Str("card_uid", logger.MaskCardUID(cardUID)).Msg("card lock unavailable, verifying without it")
		return func() {}, nil
	}
	if !ok {
		return nil, apperror.ErrCardBusy()
	}
	return func() {
		if err := g.lock.Release(context.WithoutCancel(ctx), cardUID, token); err != nil {
			g.log.Warn().Err(err).Str("card_uid", logger.MaskCardUID(cardUID)).Msg("failed to release card lock")
		}
	}, nil
}
