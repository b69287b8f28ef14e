package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rfid-wallet-ledger/config"
	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/apperror"
	"rfid-wallet-ledger/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const replacedReason = "REPLACED"

// CardServiceImpl implements ports.CardService.
type CardServiceImpl struct {
	cards      ports.CardRepository
	owners     ports.OwnerRepository
	hasher     ports.HashService
	transactor ports.DBTransactor
	audit      ports.AuditService
	retry      retryPolicy
	validity   time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

var _ ports.CardService = (*CardServiceImpl)(nil)

// NewCardService creates a new card service.
func NewCardService(
	cards ports.CardRepository,
	owners ports.OwnerRepository,
	hasher ports.HashService,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	cfg config.LedgerConfig,
	log zerolog.Logger,
) *CardServiceImpl {
	return &CardServiceImpl{
		cards:      cards,
		owners:     owners,
		hasher:     hasher,
		transactor: transactor,
		audit:      audit,
		retry:      newRetryPolicy(cfg.MaxAttempts, cfg.RetryBaseDelay),
		validity:   cfg.CardValidity,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// Assign issues a new active card to a customer. Any card the customer
// already holds is deactivated in the same atomic block.
func (s *CardServiceImpl) Assign(ctx context.Context, actor domain.Principal, req ports.AssignCardRequest) (*domain.RfidCard, error) {
	if !actor.IsAdmin() {
		return nil, apperror.ErrForbidden()
	}
	req.CardUID = strings.TrimSpace(req.CardUID)
	if req.CardUID == "" {
		return nil, apperror.Validation("Card UID is required")
	}
	if !domain.ValidatePinFormat(req.Pin) {
		return nil, apperror.ErrInvalidPinFormat()
	}

	customer, err := s.owners.Get(ctx, domain.OwnerRef{Kind: domain.OwnerKindCustomer, ID: req.CustomerID})
	if err != nil {
		return nil, storageErr("get customer", err)
	}
	if customer == nil {
		return nil, apperror.ErrUserNotFound()
	}

	pinHash, err := s.hasher.Hash(req.Pin)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("hash pin: %w", err))
	}

	var (
		card     *domain.RfidCard
		replaced *domain.RfidCard
	)
	err = withConflictRetry(ctx, s.retry, s.log, "assign_card", func(ctx context.Context) error {
		existing, err := s.cards.GetByUID(ctx, req.CardUID)
		if err != nil {
			return storageErr("get card", err)
		}
		if existing != nil {
			return apperror.ErrCardAlreadyAssigned()
		}

		return inTx(ctx, s.transactor, func(tx pgx.Tx) error {
			now := s.now()
			replaced, err = s.cards.GetActiveByCustomerTx(ctx, tx, req.CustomerID)
			if err != nil {
				return storageErr("get active card", err)
			}
			if replaced != nil {
				replaced.Deactivate(now, replacedReason)
				if err := s.cards.UpdateTx(ctx, tx, replaced); err != nil {
					return storageErr("deactivate previous card", err)
				}
			}

			card = &domain.RfidCard{
				ID:         uuid.New(),
				CardUID:    req.CardUID,
				CustomerID: req.CustomerID,
				PinHash:    pinHash,
				IsActive:   true,
				Status:     domain.CardStatusActive,
				IssuedAt:   now,
				ExpiresAt:  now.Add(s.validity),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := s.cards.CreateTx(ctx, tx, card); err != nil {
				if errors.Is(err, ports.ErrDuplicate) {
					// The UID or the customer's active slot was taken
					// concurrently; the next attempt re-checks both.
					return fmt.Errorf("insert card: %w", ports.ErrConflict)
				}
				return storageErr("insert card", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	ev := s.log.Info().
		Str("card_uid", logger.MaskCardUID(card.CardUID)).
		Str("customer_id", req.CustomerID.String())
	if replaced != nil {
		ev = ev.Str("replaced_card_uid", replaced.CardUID)
	}
	ev.Msg("card assigned")

	details := map[string]any{"customer_id": req.CustomerID.String()}
	if replaced != nil {
		details["replaced_card_uid"] = replaced.CardUID
	}
	s.audit.Log(ctx, auditEntry(&actor, domain.AuditActionCardAssigned, "card", card.CardUID, "", details))
	return card, nil
}

// Deactivate takes a card out of service. Reason LOST marks it lost.
func (s *CardServiceImpl) Deactivate(ctx context.Context, actor domain.Principal, cardUID string, reason string) (*domain.RfidCard, error) {
	reason = strings.ToUpper(strings.TrimSpace(reason))
	if reason == "" {
		reason = string(domain.CardStatusInactive)
	}

	var card *domain.RfidCard
	err := withConflictRetry(ctx, s.retry, s.log, "deactivate_card", func(ctx context.Context) error {
		var err error
		card, err = s.cards.GetByUID(ctx, strings.TrimSpace(cardUID))
		if err != nil {
			return storageErr("get card", err)
		}
		if card == nil {
			return apperror.ErrNotFound("Card")
		}
		if !canManageCards(actor, card.CustomerID) {
			return apperror.ErrForbidden()
		}
		if !card.IsActive {
			return apperror.ErrCardInactive(string(card.Status))
		}

		card.Deactivate(s.now(), reason)
		if err := s.cards.Update(ctx, card); err != nil {
			return storageErr("deactivate card", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("card_uid", logger.MaskCardUID(card.CardUID)).Str("reason", reason).Msg("card deactivated")
	s.audit.Log(ctx, auditEntry(&actor, domain.AuditActionCardDeactivate, "card", card.CardUID, "",
		map[string]any{"reason": reason}))
	return card, nil
}

// ListByCustomer returns every card issued to the customer, newest first.
func (s *CardServiceImpl) ListByCustomer(ctx context.Context, actor domain.Principal, customerID uuid.UUID) ([]domain.RfidCard, error) {
	if !canManageCards(actor, customerID) {
		return nil, apperror.ErrForbidden()
	}
	cards, err := s.cards.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, storageErr("list cards", err)
	}
	return cards, nil
}

func canManageCards(actor domain.Principal, customerID uuid.UUID) bool {
	return actor.IsAdmin() || (actor.Kind == domain.PrincipalCustomer && actor.ID == customerID)
}
