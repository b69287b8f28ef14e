package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/internal/core/ports/mocks"
	"rfid-wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var pinTestNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type pinGuardTestDeps struct {
	guard  *PinGuard
	cards  *mocks.MockCardRepository
	hasher *mocks.MockHashService
	lock   *mocks.MockCardLock
	audit  *mocks.MockAuditService
}

func setupPinGuard(t *testing.T) *pinGuardTestDeps {
	ctrl := gomock.NewController(t)
	d := &pinGuardTestDeps{
		cards:  mocks.NewMockCardRepository(ctrl),
		hasher: mocks.NewMockHashService(ctrl),
		lock:   mocks.NewMockCardLock(ctrl),
		audit:  mocks.NewMockAuditService(ctrl),
	}
	d.guard = NewPinGuard(d.cards, d.hasher, d.lock, d.audit, testLedgerConfig(), newTestLogger())
	d.guard.now = func() time.Time { return pinTestNow }
	return d
}

// expectLock expects one acquire/release cycle on the card and the re-read
// of its stored state made under the lock.
func (d *pinGuardTestDeps) expectLock(card *domain.RfidCard) {
	d.lock.EXPECT().Acquire(gomock.Any(), card.CardUID, 5*time.Second).Return("tok", true, nil)
	d.cards.EXPECT().GetByID(gomock.Any(), card.ID).Return(card, nil)
	d.lock.EXPECT().Release(gomock.Any(), card.CardUID, "tok").Return(nil)
}

func newPinCard() *domain.RfidCard {
	return &domain.RfidCard{
		ID:        uuid.New(),
		CardUID:   "04A1B2C3D4",
		PinHash:   "stored-hash",
		IsActive:  true,
		Status:    domain.CardStatusActive,
		ExpiresAt: pinTestNow.Add(365 * 24 * time.Hour),
		Version:   1,
	}
}

func TestPinGuard_Check_Match(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()
	card.PinAttempts = 2

	d.expectLock(card)
	d.hasher.EXPECT().Verify("1234", "stored-hash").Return(true, nil)
	d.cards.EXPECT().Update(gomock.Any(), card).Return(nil)

	outcome, err := d.guard.Check(context.Background(), card, "1234")

	require.NoError(t, err)
	assert.True(t, outcome.Matched)
	assert.Equal(t, domain.MaxPinAttempts, outcome.RemainingAttempts)
	assert.Equal(t, 0, card.PinAttempts)
	require.NotNil(t, card.LastUsed)
	assert.Equal(t, pinTestNow, *card.LastUsed)
}

func TestPinGuard_Check_MismatchCountsAttempt(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()

	d.expectLock(card)
	d.hasher.EXPECT().Verify("9999", "stored-hash").Return(false, nil)
	d.cards.EXPECT().Update(gomock.Any(), card).Return(nil)
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionPinFailed, e.Action)
	})

	outcome, err := d.guard.Check(context.Background(), card, "9999")

	require.NoError(t, err)
	assert.False(t, outcome.Matched)
	assert.False(t, outcome.Locked)
	assert.Equal(t, 2, outcome.RemainingAttempts)
	assert.Equal(t, 1, card.PinAttempts)
}

func TestPinGuard_Check_ThirdFailureLocks(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()
	card.PinAttempts = 2

	d.expectLock(card)
	d.hasher.EXPECT().Verify("9999", "stored-hash").Return(false, nil)
	d.cards.EXPECT().Update(gomock.Any(), card).Return(nil)

	var actions []domain.AuditAction
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e *domain.AuditLog) {
		actions = append(actions, e.Action)
	}).Times(2)

	err := d.guard.Verify(context.Background(), card, "9999")

	assertAppError(t, err, "CARD_001")
	assert.Equal(t, domain.MaxPinAttempts, card.PinAttempts)
	assert.Equal(t, domain.CardStatusPinLocked, card.Status)
	require.NotNil(t, card.PinLockedUntil)
	assert.Equal(t, pinTestNow.Add(30*time.Minute), *card.PinLockedUntil)
	assert.Equal(t, []domain.AuditAction{domain.AuditActionPinFailed, domain.AuditActionCardLocked}, actions)
}

func TestPinGuard_Check_LockedCardConsumesNoAttempt(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()
	until := pinTestNow.Add(10 * time.Minute)
	card.PinAttempts = domain.MaxPinAttempts
	card.PinLockedUntil = &until
	card.Status = domain.CardStatusPinLocked

	d.expectLock(card)

	_, err := d.guard.Check(context.Background(), card, "1234")

	assertAppError(t, err, "CARD_001")
	assert.Equal(t, domain.MaxPinAttempts, card.PinAttempts)
}

func TestPinGuard_Check_ElapsedLockStartsFreshWindow(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()
	until := pinTestNow.Add(-time.Minute)
	card.PinAttempts = domain.MaxPinAttempts
	card.PinLockedUntil = &until
	card.Status = domain.CardStatusPinLocked

	d.expectLock(card)
	d.hasher.EXPECT().Verify("9999", "stored-hash").Return(false, nil)
	d.cards.EXPECT().Update(gomock.Any(), card).Return(nil)
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any())

	err := d.guard.Verify(context.Background(), card, "9999")

	assertAppError(t, err, "CARD_002")
	assert.Equal(t, 1, card.PinAttempts)
	assert.Nil(t, card.PinLockedUntil)
	assert.Equal(t, domain.CardStatusActive, card.Status)
}

func TestPinGuard_Verify_MismatchReportsRemaining(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()

	d.expectLock(card)
	d.hasher.EXPECT().Verify("9999", "stored-hash").Return(false, nil)
	d.cards.EXPECT().Update(gomock.Any(), card).Return(nil)
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any())

	err := d.guard.Verify(context.Background(), card, "9999")

	assertAppError(t, err, "CARD_002")
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 2, appErr.Data.(map[string]any)["remaining_attempts"])
}

func TestPinGuard_Check_CardBusy(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()

	d.lock.EXPECT().Acquire(gomock.Any(), card.CardUID, gomock.Any()).Return("", false, nil)

	_, err := d.guard.Check(context.Background(), card, "1234")
	assertAppError(t, err, "CARD_009")
}

func TestPinGuard_Check_RedisDownDegrades(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()

	d.lock.EXPECT().Acquire(gomock.Any(), card.CardUID, gomock.Any()).Return("", false, errors.New("connection refused"))
	d.cards.EXPECT().GetByID(gomock.Any(), card.ID).Return(card, nil)
	d.hasher.EXPECT().Verify("1234", "stored-hash").Return(true, nil)
	d.cards.EXPECT().Update(gomock.Any(), card).Return(nil)

	outcome, err := d.guard.Check(context.Background(), card, "1234")

	require.NoError(t, err)
	assert.True(t, outcome.Matched)
}

func TestPinGuard_Check_ReappliesOnFreshStateAfterConflict(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()

	// Someone else recorded a failure in between.
	fresh := *card
	fresh.PinAttempts = 1
	fresh.Version = 2

	d.expectLock(card)
	d.hasher.EXPECT().Verify("9999", "stored-hash").Return(false, nil)
	d.cards.EXPECT().Update(gomock.Any(), gomock.Any()).Return(fmt.Errorf("update card: %w", ports.ErrConflict))
	d.cards.EXPECT().GetByID(gomock.Any(), card.ID).Return(&fresh, nil)
	d.cards.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, c *domain.RfidCard) error {
		assert.Equal(t, int64(2), c.Version)
		return nil
	})
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any())

	outcome, err := d.guard.Check(context.Background(), card, "9999")

	require.NoError(t, err)
	assert.Equal(t, 2, card.PinAttempts)
	assert.Equal(t, 1, outcome.RemainingAttempts)
}

func TestPinGuard_Check_SecondWriteFails(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()
	fresh := *card

	d.expectLock(card)
	d.hasher.EXPECT().Verify("1234", "stored-hash").Return(true, nil)
	d.cards.EXPECT().Update(gomock.Any(), gomock.Any()).Return(errors.New("connection reset")).Times(2)
	d.cards.EXPECT().GetByID(gomock.Any(), card.ID).Return(&fresh, nil)

	_, err := d.guard.Check(context.Background(), card, "1234")
	assertAppError(t, err, "SYS_001")
}

func TestPinGuard_ChangePin(t *testing.T) {
	t.Run("invalid format", func(t *testing.T) {
		d := setupPinGuard(t)
		err := d.guard.ChangePin(context.Background(), newPinCard(), "1234", "12a4")
		assertAppError(t, err, "VAL_003")
	})

	t.Run("same pin", func(t *testing.T) {
		d := setupPinGuard(t)
		err := d.guard.ChangePin(context.Background(), newPinCard(), "1234", "1234")
		assertAppError(t, err, "CARD_006")
	})

	t.Run("wrong current pin", func(t *testing.T) {
		d := setupPinGuard(t)
		card := newPinCard()
		d.expectLock(card)
		d.hasher.EXPECT().Verify("1111", "stored-hash").Return(false, nil)
		d.cards.EXPECT().Update(gomock.Any(), card).Return(nil)
		d.audit.EXPECT().Log(gomock.Any(), gomock.Any())

		err := d.guard.ChangePin(context.Background(), card, "1111", "567890")
		assertAppError(t, err, "CARD_002")
		assert.Equal(t, "stored-hash", card.PinHash)
	})

	t.Run("success", func(t *testing.T) {
		d := setupPinGuard(t)
		card := newPinCard()
		card.RequiresPinChange = true
		d.expectLock(card)
		d.hasher.EXPECT().Verify("1234", "stored-hash").Return(true, nil)
		d.hasher.EXPECT().Hash("567890").Return("new-hash", nil)
		d.cards.EXPECT().Update(gomock.Any(), card).Return(nil).Times(2)

		err := d.guard.ChangePin(context.Background(), card, "1234", "567890")

		require.NoError(t, err)
		assert.Equal(t, "new-hash", card.PinHash)
		assert.False(t, card.RequiresPinChange)
		require.NotNil(t, card.LastPinChange)
	})
}

func TestPinGuard_AdminReset(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()
	until := pinTestNow.Add(10 * time.Minute)
	card.PinAttempts = domain.MaxPinAttempts
	card.PinLockedUntil = &until
	card.Status = domain.CardStatusPinLocked

	d.hasher.EXPECT().Hash("4321").Return("reset-hash", nil)
	d.cards.EXPECT().Update(gomock.Any(), card).Return(nil)

	err := d.guard.AdminReset(context.Background(), card, "4321")

	require.NoError(t, err)
	assert.Equal(t, "reset-hash", card.PinHash)
	assert.True(t, card.RequiresPinChange)
	assert.Equal(t, 0, card.PinAttempts)
	assert.Nil(t, card.PinLockedUntil)
	assert.Equal(t, domain.CardStatusActive, card.Status)
}

func TestPinGuard_AdminReset_InvalidFormat(t *testing.T) {
	d := setupPinGuard(t)
	err := d.guard.AdminReset(context.Background(), newPinCard(), "12")
	assertAppError(t, err, "VAL_003")
}

func TestPinGuard_Unlock(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()
	until := pinTestNow.Add(10 * time.Minute)
	card.PinAttempts = domain.MaxPinAttempts
	card.PinLockedUntil = &until
	card.Status = domain.CardStatusPinLocked

	d.cards.EXPECT().Update(gomock.Any(), card).Return(nil)

	require.NoError(t, d.guard.Unlock(context.Background(), card))
	assert.Equal(t, 0, card.PinAttempts)
	assert.Nil(t, card.PinLockedUntil)
	assert.Equal(t, domain.CardStatusActive, card.Status)
}

func TestPinGuard_MarkExpired(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()

	d.cards.EXPECT().Update(gomock.Any(), card).Return(nil)

	require.NoError(t, d.guard.MarkExpired(context.Background(), card))
	assert.Equal(t, domain.CardStatusExpired, card.Status)
	assert.False(t, card.IsActive)

	// Already expired: no write.
	require.NoError(t, d.guard.MarkExpired(context.Background(), card))
}

// lockedCardAt returns the stored state after a third failure locked the card.
func lockedCardAt(stale *domain.RfidCard) *domain.RfidCard {
	locked := *stale
	until := pinTestNow.Add(30 * time.Minute)
	locked.PinAttempts = domain.MaxPinAttempts
	locked.PinLockedUntil = &until
	locked.Status = domain.CardStatusPinLocked
	locked.Version = stale.Version + 1
	return &locked
}

func TestPinGuard_Check_RereadsCardUnderLock(t *testing.T) {
	d := setupPinGuard(t)
	stale := newPinCard()
	stale.PinAttempts = 2
	stored := lockedCardAt(stale)

	d.lock.EXPECT().Acquire(gomock.Any(), stale.CardUID, gomock.Any()).Return("tok", true, nil)
	d.cards.EXPECT().GetByID(gomock.Any(), stale.ID).Return(stored, nil)
	d.lock.EXPECT().Release(gomock.Any(), stale.CardUID, "tok").Return(nil)

	_, err := d.guard.Check(context.Background(), stale, "1234")

	assertAppError(t, err, "CARD_001")
	assert.Equal(t, domain.CardStatusPinLocked, stale.Status)
	assert.Equal(t, domain.MaxPinAttempts, stale.PinAttempts)
}

func TestPinGuard_Check_CorrectPinLosesRaceToLockingFailure(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()
	card.PinAttempts = 2
	seenUnderLock := *card
	stored := lockedCardAt(card)

	// Redis is down, so a parallel wrong guess locks the card between this
	// request's read and its write.
	d.lock.EXPECT().Acquire(gomock.Any(), card.CardUID, gomock.Any()).Return("", false, errors.New("connection refused"))
	gomock.InOrder(
		d.cards.EXPECT().GetByID(gomock.Any(), card.ID).Return(&seenUnderLock, nil),
		d.cards.EXPECT().Update(gomock.Any(), gomock.Any()).Return(fmt.Errorf("update card: %w", ports.ErrConflict)),
		d.cards.EXPECT().GetByID(gomock.Any(), card.ID).Return(stored, nil),
	)
	d.hasher.EXPECT().Verify("1234", "stored-hash").Return(true, nil)

	outcome, err := d.guard.Check(context.Background(), card, "1234")

	assertAppError(t, err, "CARD_001")
	assert.Nil(t, outcome)
	assert.Equal(t, domain.CardStatusPinLocked, card.Status)
	require.NotNil(t, card.PinLockedUntil)
	assert.Equal(t, *stored.PinLockedUntil, *card.PinLockedUntil)
}

func TestPinGuard_Check_FailureOnAlreadyLockedCardIsNotCounted(t *testing.T) {
	d := setupPinGuard(t)
	card := newPinCard()
	card.PinAttempts = 2
	seenUnderLock := *card
	stored := lockedCardAt(card)

	d.lock.EXPECT().Acquire(gomock.Any(), card.CardUID, gomock.Any()).Return("", false, errors.New("connection refused"))
	gomock.InOrder(
		d.cards.EXPECT().GetByID(gomock.Any(), card.ID).Return(&seenUnderLock, nil),
		d.cards.EXPECT().Update(gomock.Any(), gomock.Any()).Return(fmt.Errorf("update card: %w", ports.ErrConflict)),
		d.cards.EXPECT().GetByID(gomock.Any(), card.ID).Return(stored, nil),
	)
	d.hasher.EXPECT().Verify("0000", "stored-hash").Return(false, nil)

	err := d.guard.Verify(context.Background(), card, "0000")

	assertAppError(t, err, "CARD_001")
	assert.Equal(t, domain.MaxPinAttempts, card.PinAttempts)
}
