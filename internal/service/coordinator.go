package service

import (
	"context"
	"errors"
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

// Coordinator moves money between wallets. Every movement is a pair of
// legs written in one atomic block together with both balance updates,
// retried as a whole on a write conflict.
type Coordinator struct {
	wallets    ports.WalletRepository
	txns       ports.TransactionRepository
	cards      ports.CardRepository
	owners     ports.OwnerRepository
	transactor ports.DBTransactor
	idem       *idempotencyStore
	webhooks   ports.WebhookService
	audit      ports.AuditService
	fees       FeeCalculator
	retry      retryPolicy
	cfg        config.LedgerConfig
	now        func() time.Time
	log        zerolog.Logger
}

var _ ports.LedgerService = (*Coordinator)(nil)

// NewCoordinator creates the transaction coordinator.
func NewCoordinator(
	wallets ports.WalletRepository,
	txns ports.TransactionRepository,
	cards ports.CardRepository,
	owners ports.OwnerRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	webhooks ports.WebhookService,
	audit ports.AuditService,
	fees FeeCalculator,
	cfg config.LedgerConfig,
	log zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		wallets:    wallets,
		txns:       txns,
		cards:      cards,
		owners:     owners,
		transactor: transactor,
		idem:       newIdempotencyStore(idempRepo, idempCache, cfg.IdempotencyTTL, log),
		webhooks:   webhooks,
		audit:      audit,
		fees:       fees,
		retry:      newRetryPolicy(cfg.MaxAttempts, cfg.RetryBaseDelay),
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// idempotencyKey scopes a client key to the caller and operation.
// No client key means no idempotency.
func idempotencyKey(principalID uuid.UUID, op, clientKey string) string {
	if clientKey == "" {
		return ""
	}
	return domain.BuildIdempotencyKey(principalID, op, clientKey)
}

// ==================== Card payment ====================

// SettleCardPayment debits the card holder's wallet and credits the
// merchant's. The card must already have passed the PIN check.
func (c *Coordinator) SettleCardPayment(ctx context.Context, req ports.CardPaymentRequest, card *domain.RfidCard) (*ports.PaymentResult, error) {
	key := idempotencyKey(req.MerchantID, domain.OpCardPayment, req.IdempotencyKey)
	merchantRef := domain.OwnerRef{Kind: domain.OwnerKindMerchant, ID: req.MerchantID}
	customerRef := domain.OwnerRef{Kind: domain.OwnerKindCustomer, ID: card.CustomerID}

	var (
		result *ports.PaymentResult
		credit *domain.Transaction
		body   []byte
	)
	err := withConflictRetry(ctx, c.retry, c.log, domain.OpCardPayment, func(ctx context.Context) error {
		return inTx(ctx, c.transactor, func(tx pgx.Tx) error {
			merchantWallet, err := c.activeWallet(ctx, tx, merchantRef, apperror.ErrRecipientInactive)
			if err != nil {
				return err
			}

			fresh, err := c.cards.GetByIDTx(ctx, tx, card.ID)
			if err != nil {
				return storageErr("get card", err)
			}
			now := c.now()
			if fresh == nil {
				return apperror.ErrNotFound("Card")
			}
			if !fresh.IsUsable(now) {
				return apperror.ErrCardInactive(string(fresh.Status))
			}

			customerWallet, err := c.activeWallet(ctx, tx, customerRef, apperror.ErrWalletInactive)
			if err != nil {
				return err
			}
			if !customerWallet.CanDebit(req.Amount) {
				return apperror.ErrInsufficientFunds()
			}

			fee := c.fees.Fee(req.Amount)
			ref := domain.NewReference(domain.RefPrefixPayment, now)
			description := req.Description
			if description == "" {
				description = "Card payment"
			}
			cardID := card.ID

			debit := newLeg(ref, domain.LegPay, customerWallet.ID, -req.Amount, domain.TransactionKindDebit, description, now)
			debit.Fee = fee
			debit.Metadata.CounterpartyID = &req.MerchantID
			debit.Metadata.CounterpartyKind = kindPtr(domain.OwnerKindMerchant)
			debit.Metadata.CardID = &cardID

			credit = newLeg(ref, domain.LegRecv, merchantWallet.ID, req.Amount, domain.TransactionKindCredit, description, now)
			credit.Fee = fee
			credit.Metadata.CounterpartyID = &card.CustomerID
			credit.Metadata.CounterpartyKind = kindPtr(domain.OwnerKindCustomer)
			credit.Metadata.CardID = &cardID

			if err := c.post(ctx, tx, debit, customerWallet, credit, merchantWallet); err != nil {
				return err
			}

			fresh.LastUsed = &now
			if err := c.cards.UpdateTx(ctx, tx, fresh); err != nil {
				return storageErr("stamp card last used", err)
			}

			result = &ports.PaymentResult{
				Reference:           ref,
				DebitTransactionID:  debit.ID,
				CreditTransactionID: credit.ID,
				CustomerID:          card.CustomerID,
				Amount:              req.Amount,
				Fee:                 fee,
				Currency:            customerWallet.Currency,
				RemainingBalance:    customerWallet.Balance,
				CreatedAt:           now,
			}
			body, err = c.idem.save(ctx, tx, key, debit.ID, result)
			return err
		})
	})
	if err != nil {
		if replayed, ok := replayAfterRace(ctx, c.idem, key, err, &ports.PaymentResult{}); ok {
			return replayed.(*ports.PaymentResult), nil
		}
		return nil, err
	}

	c.idem.remember(ctx, key, body)

	c.log.Info().
		Str("reference", result.Reference).
		Str("merchant_id", req.MerchantID.String()).
		Str("card_uid", logger.MaskCardUID(card.CardUID)).
		Int64("amount", req.Amount).
		Int64("fee", result.Fee).
		Msg("card payment settled")

	actor := domain.Principal{ID: req.MerchantID, Kind: domain.PrincipalMerchant}
	c.audit.Log(ctx, auditEntry(&actor, domain.AuditActionPayment, "transaction", result.Reference, req.ClientIP,
		map[string]any{"amount": req.Amount, "fee": result.Fee, "card_uid": card.CardUID}))
	c.notify(ctx, domain.WebhookEventPaymentReceived, req.MerchantID, credit)

	return result, nil
}

// ==================== Transfer ====================

// Transfer moves money from the sender's wallet to the wallet of the owner
// registered under the recipient phone.
func (c *Coordinator) Transfer(ctx context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.Amount < c.cfg.MinTransfer {
		return nil, apperror.ErrBelowMinimum(c.cfg.MinTransfer)
	}

	key := idempotencyKey(req.Sender.ID, domain.OpTransfer, req.IdempotencyKey)
	var prior ports.TransferResult
	found, err := c.idem.lookup(ctx, key, &prior)
	if err != nil {
		return nil, err
	}
	if found {
		prior.Replayed = true
		return &prior, nil
	}

	recipient, err := c.resolveRecipient(ctx, req.RecipientPhone, req.RecipientKind)
	if err != nil {
		return nil, err
	}
	if recipient.Ref == req.Sender {
		return nil, apperror.ErrSelfTransfer()
	}

	var (
		result *ports.TransferResult
		body   []byte
	)
	err = withConflictRetry(ctx, c.retry, c.log, domain.OpTransfer, func(ctx context.Context) error {
		return inTx(ctx, c.transactor, func(tx pgx.Tx) error {
			sender, err := c.activeWallet(ctx, tx, req.Sender, apperror.ErrWalletInactive)
			if err != nil {
				return err
			}
			receiver, err := c.activeWallet(ctx, tx, recipient.Ref, apperror.ErrRecipientInactive)
			if err != nil {
				return err
			}
			if sender.ID == receiver.ID {
				return apperror.ErrSelfTransfer()
			}
			if !sender.CanDebit(req.Amount) {
				return apperror.ErrInsufficientFunds()
			}

			now := c.now()
			ref := domain.NewReference(domain.RefPrefixTransfer, now)
			description := req.Description
			if description == "" {
				description = "Transfer to " + recipient.Name
			}

			out := newLeg(ref, domain.LegOut, sender.ID, -req.Amount, domain.TransactionKindTransfer, description, now)
			out.Metadata.CounterpartyID = &recipient.Ref.ID
			out.Metadata.CounterpartyKind = kindPtr(recipient.Ref.Kind)

			in := newLeg(ref, domain.LegIn, receiver.ID, req.Amount, domain.TransactionKindTransfer, description, now)
			in.Metadata.CounterpartyID = &req.Sender.ID
			in.Metadata.CounterpartyKind = kindPtr(req.Sender.Kind)

			if err := c.post(ctx, tx, out, sender, in, receiver); err != nil {
				return err
			}

			result = &ports.TransferResult{
				Reference:           ref,
				DebitTransactionID:  out.ID,
				CreditTransactionID: in.ID,
				Recipient:           recipient.Ref,
				Amount:              req.Amount,
				Currency:            sender.Currency,
				RemainingBalance:    sender.Balance,
				CreatedAt:           now,
			}
			body, err = c.idem.save(ctx, tx, key, out.ID, result)
			return err
		})
	})
	if err != nil {
		if replayed, ok := replayAfterRace(ctx, c.idem, key, err, &ports.TransferResult{}); ok {
			return replayed.(*ports.TransferResult), nil
		}
		return nil, err
	}

	c.idem.remember(ctx, key, body)

	c.log.Info().
		Str("reference", result.Reference).
		Str("sender_id", req.Sender.ID.String()).
		Str("recipient_id", recipient.Ref.ID.String()).
		Int64("amount", req.Amount).
		Msg("transfer completed")

	actor := principalFor(req.Sender)
	c.audit.Log(ctx, auditEntry(&actor, domain.AuditActionTransfer, "transaction", result.Reference, req.ClientIP,
		map[string]any{"amount": req.Amount, "recipient_id": recipient.Ref.ID.String(), "recipient_kind": recipient.Ref.Kind}))

	return result, nil
}

// resolveRecipient looks the phone up under the preferred kind first, then
// under the other kind.
func (c *Coordinator) resolveRecipient(ctx context.Context, phone string, preferred domain.OwnerKind) (*domain.Owner, error) {
	variants := domain.PhoneVariants(phone)
	if variants == nil {
		return nil, apperror.Validation("Recipient phone is required")
	}
	if !preferred.Valid() {
		preferred = domain.OwnerKindCustomer
	}
	for _, kind := range []domain.OwnerKind{preferred, preferred.Other()} {
		owner, err := c.owners.FindByPhone(ctx, kind, variants)
		if err != nil {
			return nil, storageErr("find recipient", err)
		}
		if owner != nil {
			return owner, nil
		}
	}
	return nil, apperror.ErrUserNotFound()
}

// ==================== Refund ====================

// Refund reverses a completed payment or transfer. The receiving party
// returns the amount net of the recorded fee.
func (c *Coordinator) Refund(ctx context.Context, req ports.RefundRequest) (*ports.RefundResult, error) {
	key := idempotencyKey(req.Actor.ID, domain.OpRefund, req.IdempotencyKey)
	var prior ports.RefundResult
	found, err := c.idem.lookup(ctx, key, &prior)
	if err != nil {
		return nil, err
	}
	if found {
		prior.Replayed = true
		return &prior, nil
	}

	var (
		result   *ports.RefundResult
		body     []byte
		out      *domain.Transaction
		receiver *domain.Wallet
	)
	err = withConflictRetry(ctx, c.retry, c.log, domain.OpRefund, func(ctx context.Context) error {
		return inTx(ctx, c.transactor, func(tx pgx.Tx) error {
			credit, debit, err := c.loadPair(ctx, tx, req.TransactionID)
			if err != nil {
				return err
			}

			receiver, err = c.wallets.GetByIDTx(ctx, tx, credit.WalletID)
			if err != nil {
				return storageErr("get receiver wallet", err)
			}
			if receiver == nil {
				return apperror.ErrWalletNotFound()
			}
			if !req.Actor.IsAdmin() && !req.Actor.Owns(receiver.Owner()) {
				return apperror.ErrForbidden()
			}

			existing, err := c.txns.FindRefundTx(ctx, tx, credit.ID)
			if err != nil {
				return storageErr("find refund", err)
			}
			if existing != nil {
				return apperror.ErrAlreadyRefunded()
			}
			if !credit.IsRefundable() || !debit.IsRefundable() {
				return apperror.ErrNotRefundable()
			}

			amount := credit.Magnitude() - credit.Fee
			if amount <= 0 {
				return apperror.ErrNotRefundable()
			}
			if !receiver.IsActive {
				return apperror.ErrWalletInactive()
			}
			if !receiver.CanDebit(amount) {
				return apperror.ErrInsufficientFunds()
			}

			payer, err := c.wallets.GetByIDTx(ctx, tx, debit.WalletID)
			if err != nil {
				return storageErr("get payer wallet", err)
			}
			if payer == nil {
				return apperror.ErrWalletNotFound()
			}

			now := c.now()
			ref := domain.NewReference(domain.RefPrefixRefund, now)
			description := "Refund for transaction " + credit.GroupReference
			var note *string
			if req.Reason != "" {
				description += ": " + req.Reason
				reason := req.Reason
				note = &reason
			}
			actorID := req.Actor.ID

			out = newLeg(ref, domain.LegOut, receiver.ID, -amount, domain.TransactionKindRefund, description, now)
			out.Metadata.CounterpartyID = &payer.OwnerID
			out.Metadata.CounterpartyKind = kindPtr(payer.OwnerKind)
			out.Metadata.OriginalTransactionID = &credit.ID
			out.Metadata.Note = note
			out.Metadata.ActorID = &actorID

			in := newLeg(ref, domain.LegIn, payer.ID, amount, domain.TransactionKindRefund, description, now)
			in.Metadata.CounterpartyID = &receiver.OwnerID
			in.Metadata.CounterpartyKind = kindPtr(receiver.OwnerKind)
			in.Metadata.OriginalTransactionID = &debit.ID
			in.Metadata.Note = note
			in.Metadata.ActorID = &actorID

			if err := c.txns.MarkRefundedTx(ctx, tx, []uuid.UUID{credit.ID, debit.ID}); err != nil {
				return storageErr("mark originals refunded", err)
			}
			if err := c.post(ctx, tx, out, receiver, in, payer); err != nil {
				return err
			}

			result = &ports.RefundResult{
				Reference:             ref,
				OriginalTransactionID: credit.ID,
				DebitTransactionID:    out.ID,
				CreditTransactionID:   in.ID,
				Amount:                amount,
				Fee:                   credit.Fee,
				Currency:              receiver.Currency,
				CreatedAt:             now,
			}
			body, err = c.idem.save(ctx, tx, key, out.ID, result)
			return err
		})
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.Code == "PAY_010" {
			// The last conflict may have been a refund committed by a
			// concurrent request.
			if c.refundedMeanwhile(ctx, req.TransactionID) {
				return nil, apperror.ErrAlreadyRefunded()
			}
		}
		if replayed, ok := replayAfterRace(ctx, c.idem, key, err, &ports.RefundResult{}); ok {
			return replayed.(*ports.RefundResult), nil
		}
		return nil, err
	}

	c.idem.remember(ctx, key, body)

	c.log.Info().
		Str("reference", result.Reference).
		Str("original_id", result.OriginalTransactionID.String()).
		Int64("amount", result.Amount).
		Msg("refund issued")

	c.audit.Log(ctx, auditEntry(&req.Actor, domain.AuditActionRefund, "transaction", result.OriginalTransactionID.String(), req.ClientIP,
		map[string]any{"amount": result.Amount, "reference": result.Reference, "reason": req.Reason}))
	if receiver.OwnerKind == domain.OwnerKindMerchant {
		c.notify(ctx, domain.WebhookEventRefundIssued, receiver.OwnerID, out)
	}

	return result, nil
}

// loadPair resolves either leg of a movement to its credit and debit legs.
func (c *Coordinator) loadPair(ctx context.Context, tx pgx.Tx, id uuid.UUID) (credit, debit *domain.Transaction, err error) {
	original, err := c.txns.GetByIDTx(ctx, tx, id)
	if err != nil {
		return nil, nil, storageErr("get transaction", err)
	}
	if original == nil {
		return nil, nil, apperror.ErrNotFound("Transaction")
	}
	if !original.IsRefundableKind() {
		return nil, nil, apperror.ErrNotRefundable()
	}

	legs, err := c.txns.ListByGroupTx(ctx, tx, original.GroupReference)
	if err != nil {
		return nil, nil, storageErr("list transaction legs", err)
	}
	if len(legs) != 2 {
		return nil, nil, apperror.ErrNotRefundable()
	}
	for i := range legs {
		if legs[i].IsDebit() {
			debit = &legs[i]
		} else {
			credit = &legs[i]
		}
	}
	if credit == nil || debit == nil {
		return nil, nil, apperror.ErrNotRefundable()
	}
	return credit, debit, nil
}

func (c *Coordinator) refundedMeanwhile(ctx context.Context, id uuid.UUID) bool {
	t, err := c.txns.GetByID(ctx, id)
	return err == nil && t != nil && t.Status == domain.TransactionStatusRefunded
}

// ==================== Shared ====================

// activeWallet reads the owner's wallet inside tx. inactive builds the
// error for a wallet that exists but is switched off.
func (c *Coordinator) activeWallet(ctx context.Context, tx pgx.Tx, owner domain.OwnerRef, inactive func() *apperror.AppError) (*domain.Wallet, error) {
	w, err := c.wallets.GetByOwnerTx(ctx, tx, owner)
	if err != nil {
		return nil, storageErr("get wallet", err)
	}
	if w == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	if !w.IsActive {
		return nil, inactive()
	}
	return w, nil
}

// post inserts both legs and applies them to their wallets.
func (c *Coordinator) post(ctx context.Context, tx pgx.Tx, out *domain.Transaction, from *domain.Wallet, in *domain.Transaction, to *domain.Wallet) error {
	if err := c.txns.Create(ctx, tx, out); err != nil {
		return storageErr("insert debit leg", err)
	}
	if err := c.txns.Create(ctx, tx, in); err != nil {
		return storageErr("insert credit leg", err)
	}
	if err := c.wallets.ApplyDelta(ctx, tx, from, out.Amount, out.Reference); err != nil {
		return storageErr("debit wallet", err)
	}
	if err := c.wallets.ApplyDelta(ctx, tx, to, in.Amount, in.Reference); err != nil {
		return storageErr("credit wallet", err)
	}
	return nil
}

// replayAfterRace handles a concurrent request with the same idempotency
// key winning the insert: its stored result is returned instead.
func replayAfterRace(ctx context.Context, idem *idempotencyStore, key string, err error, out any) (any, bool) {
	if key == "" || !errors.Is(err, ports.ErrDuplicate) {
		return nil, false
	}
	found, lerr := idem.lookup(ctx, key, out)
	if lerr != nil || !found {
		return nil, false
	}
	switch r := out.(type) {
	case *ports.PaymentResult:
		r.Replayed = true
	case *ports.TransferResult:
		r.Replayed = true
	case *ports.RefundResult:
		r.Replayed = true
	case *ports.TopUpResult:
		r.Replayed = true
	}
	return out, true
}

func (c *Coordinator) notify(ctx context.Context, event domain.WebhookEvent, merchantID uuid.UUID, txn *domain.Transaction) {
	if c.webhooks == nil || txn == nil {
		return
	}
	if err := c.webhooks.Notify(context.WithoutCancel(ctx), event, merchantID, txn); err != nil {
		c.log.Warn().Err(err).
			Str("event", string(event)).
			Str("merchant_id", merchantID.String()).
			Msg("failed to queue webhook")
	}
}

func newLeg(groupRef, leg string, walletID uuid.UUID, amount int64, kind domain.TransactionKind, description string, now time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:             uuid.New(),
		Reference:      groupRef + leg,
		GroupReference: groupRef,
		WalletID:       walletID,
		Amount:         amount,
		Kind:           kind,
		Description:    description,
		Status:         domain.TransactionStatusCompleted,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func kindPtr(k domain.OwnerKind) *domain.OwnerKind {
	return &k
}

// principalFor maps a wallet owner back to the principal acting for it.
func principalFor(owner domain.OwnerRef) domain.Principal {
	kind := domain.PrincipalCustomer
	if owner.Kind == domain.OwnerKindMerchant {
		kind = domain.PrincipalMerchant
	}
	return domain.Principal{ID: owner.ID, Kind: kind}
}
