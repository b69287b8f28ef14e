package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"rfid-wallet-ledger/config"
	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/internal/core/ports/mocks"
	"rfid-wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}

func testLedgerConfig() config.LedgerConfig {
	return config.LedgerConfig{
		Currency:        "NPR",
		MinTopUp:        1000,
		MinTransfer:     1000,
		MerchantFeeRate: "0",
		MaxAttempts:     3,
		RetryBaseDelay:  time.Millisecond,
		CardValidity:    365 * 24 * time.Hour,
		PinLockDuration: 30 * time.Minute,
		CardLockTTL:     5 * time.Second,
		IdempotencyTTL:  24 * time.Hour,
	}
}

var errConflict = fmt.Errorf("update wallet at version 1: %w", ports.ErrConflict)

type coordinatorTestDeps struct {
	svc        *Coordinator
	wallets    *mocks.MockWalletRepository
	txns       *mocks.MockTransactionRepository
	cards      *mocks.MockCardRepository
	owners     *mocks.MockOwnerRepository
	idempRepo  *mocks.MockIdempotencyRepository
	idempCache *mocks.MockIdempotencyCache
	transactor *mocks.MockDBTransactor
	webhooks   *mocks.MockWebhookService
	audit      *mocks.MockAuditService
	ctrl       *gomock.Controller
}

func setupCoordinator(t *testing.T) *coordinatorTestDeps {
	ctrl := gomock.NewController(t)
	d := &coordinatorTestDeps{
		wallets:    mocks.NewMockWalletRepository(ctrl),
		txns:       mocks.NewMockTransactionRepository(ctrl),
		cards:      mocks.NewMockCardRepository(ctrl),
		owners:     mocks.NewMockOwnerRepository(ctrl),
		idempRepo:  mocks.NewMockIdempotencyRepository(ctrl),
		idempCache: mocks.NewMockIdempotencyCache(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		webhooks:   mocks.NewMockWebhookService(ctrl),
		audit:      mocks.NewMockAuditService(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewCoordinator(
		d.wallets, d.txns, d.cards, d.owners, d.idempRepo, d.idempCache,
		d.transactor, d.webhooks, d.audit, FeeCalculator{}, testLedgerConfig(), newTestLogger(),
	)
	d.audit.EXPECT().Log(gomock.Any(), gomock.Any()).AnyTimes()
	return d
}

func newTestWallet(kind domain.OwnerKind, ownerID uuid.UUID, balance int64) *domain.Wallet {
	return &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		OwnerKind: kind,
		Balance:   balance,
		Currency:  "NPR",
		IsActive:  true,
		Version:   1,
	}
}

func newActiveCard(customerID uuid.UUID) *domain.RfidCard {
	now := time.Now().UTC()
	return &domain.RfidCard{
		ID:         uuid.New(),
		CardUID:    "04A1B2C3D4",
		CustomerID: customerID,
		PinHash:    "hash",
		IsActive:   true,
		Status:     domain.CardStatusActive,
		IssuedAt:   now.Add(-24 * time.Hour),
		ExpiresAt:  now.Add(300 * 24 * time.Hour),
		Version:    1,
	}
}

// applyDelta mimics the repository: the wallet carries the new state.
func applyDelta(_ context.Context, _ pgx.Tx, w *domain.Wallet, delta int64, ref string) error {
	w.Balance += delta
	w.Version++
	w.TransactionRefs = append(w.TransactionRefs, ref)
	return nil
}

// ==================== SettleCardPayment ====================

func TestCoordinator_SettleCardPayment_Success(t *testing.T) {
	d := setupCoordinator(t)
	ctx := context.Background()

	merchantID := uuid.New()
	customerID := uuid.New()
	card := newActiveCard(customerID)
	merchantWallet := newTestWallet(domain.OwnerKindMerchant, merchantID, 0)
	customerWallet := newTestWallet(domain.OwnerKindCustomer, customerID, 500)
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, merchantWallet.Owner()).Return(merchantWallet, nil)
	d.cards.EXPECT().GetByIDTx(gomock.Any(), tx, card.ID).Return(card, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, customerWallet.Owner()).Return(customerWallet, nil)

	var legs []*domain.Transaction
	d.txns.EXPECT().Create(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			legs = append(legs, txn)
			return nil
		}).Times(2)
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, customerWallet, int64(-200), gomock.Any()).DoAndReturn(applyDelta)
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, merchantWallet, int64(200), gomock.Any()).DoAndReturn(applyDelta)
	d.cards.EXPECT().UpdateTx(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, c *domain.RfidCard) error {
			assert.NotNil(t, c.LastUsed)
			return nil
		})
	d.webhooks.EXPECT().Notify(gomock.Any(), domain.WebhookEventPaymentReceived, merchantID, gomock.Any()).Return(nil)

	result, err := d.svc.SettleCardPayment(ctx, ports.CardPaymentRequest{
		MerchantID: merchantID,
		CardUID:    card.CardUID,
		Pin:        "1234",
		Amount:     200,
	}, card)

	require.NoError(t, err)
	assert.Equal(t, int64(300), result.RemainingBalance)
	assert.Equal(t, int64(200), merchantWallet.Balance)
	assert.Equal(t, int64(0), result.Fee)
	assert.Equal(t, customerID, result.CustomerID)
	assert.True(t, strings.HasPrefix(result.Reference, domain.RefPrefixPayment))

	require.Len(t, legs, 2)
	debit, credit := legs[0], legs[1]
	assert.Equal(t, result.Reference+domain.LegPay, debit.Reference)
	assert.Equal(t, result.Reference+domain.LegRecv, credit.Reference)
	assert.Equal(t, debit.GroupReference, credit.GroupReference)
	assert.Equal(t, int64(-200), debit.Amount)
	assert.Equal(t, int64(200), credit.Amount)
	assert.Equal(t, domain.TransactionKindDebit, debit.Kind)
	assert.Equal(t, domain.TransactionKindCredit, credit.Kind)
	assert.Equal(t, card.ID, *debit.Metadata.CardID)
	assert.Equal(t, merchantID, *debit.Metadata.CounterpartyID)
	assert.Equal(t, result.DebitTransactionID, debit.ID)
	assert.Equal(t, result.CreditTransactionID, credit.ID)
}

func TestCoordinator_SettleCardPayment_RecordsFee(t *testing.T) {
	d := setupCoordinator(t)
	fees, err := NewFeeCalculator("0.015")
	require.NoError(t, err)
	d.svc.fees = fees

	merchantID := uuid.New()
	customerID := uuid.New()
	card := newActiveCard(customerID)
	merchantWallet := newTestWallet(domain.OwnerKindMerchant, merchantID, 0)
	customerWallet := newTestWallet(domain.OwnerKindCustomer, customerID, 5000)
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, merchantWallet.Owner()).Return(merchantWallet, nil)
	d.cards.EXPECT().GetByIDTx(gomock.Any(), tx, card.ID).Return(card, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, customerWallet.Owner()).Return(customerWallet, nil)
	d.txns.EXPECT().Create(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			assert.Equal(t, int64(15), txn.Fee)
			return nil
		}).Times(2)
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(applyDelta).Times(2)
	d.cards.EXPECT().UpdateTx(gomock.Any(), tx, gomock.Any()).Return(nil)
	d.webhooks.EXPECT().Notify(gomock.Any(), gomock.Any(), merchantID, gomock.Any()).Return(nil)

	result, err := d.svc.SettleCardPayment(context.Background(), ports.CardPaymentRequest{
		MerchantID: merchantID, CardUID: card.CardUID, Amount: 1000,
	}, card)

	require.NoError(t, err)
	assert.Equal(t, int64(15), result.Fee)
	assert.Equal(t, int64(4000), result.RemainingBalance)
	assert.Equal(t, int64(1000), merchantWallet.Balance)
}

func TestCoordinator_SettleCardPayment_InsufficientFunds(t *testing.T) {
	d := setupCoordinator(t)

	merchantID := uuid.New()
	customerID := uuid.New()
	card := newActiveCard(customerID)
	merchantWallet := newTestWallet(domain.OwnerKindMerchant, merchantID, 0)
	customerWallet := newTestWallet(domain.OwnerKindCustomer, customerID, 100)
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, merchantWallet.Owner()).Return(merchantWallet, nil)
	d.cards.EXPECT().GetByIDTx(gomock.Any(), tx, card.ID).Return(card, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, customerWallet.Owner()).Return(customerWallet, nil)

	_, err := d.svc.SettleCardPayment(context.Background(), ports.CardPaymentRequest{
		MerchantID: merchantID, CardUID: card.CardUID, Amount: 200,
	}, card)

	assertAppError(t, err, "PAY_001")
	assert.Equal(t, int64(100), customerWallet.Balance)
}

func TestCoordinator_SettleCardPayment_CardDeactivatedMeanwhile(t *testing.T) {
	d := setupCoordinator(t)

	merchantID := uuid.New()
	card := newActiveCard(uuid.New())
	merchantWallet := newTestWallet(domain.OwnerKindMerchant, merchantID, 0)
	tx := &mockTx{}

	fresh := *card
	fresh.Deactivate(time.Now(), "LOST")

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, merchantWallet.Owner()).Return(merchantWallet, nil)
	d.cards.EXPECT().GetByIDTx(gomock.Any(), tx, card.ID).Return(&fresh, nil)

	_, err := d.svc.SettleCardPayment(context.Background(), ports.CardPaymentRequest{
		MerchantID: merchantID, CardUID: card.CardUID, Amount: 200,
	}, card)

	assertAppError(t, err, "CARD_003")
}

func TestCoordinator_SettleCardPayment_ConflictThenCommit(t *testing.T) {
	d := setupCoordinator(t)

	merchantID := uuid.New()
	customerID := uuid.New()
	card := newActiveCard(customerID)
	merchantWallet := newTestWallet(domain.OwnerKindMerchant, merchantID, 0)
	customerWallet := newTestWallet(domain.OwnerKindCustomer, customerID, 500)
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil).Times(2)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, merchantWallet.Owner()).Return(merchantWallet, nil).Times(2)
	d.cards.EXPECT().GetByIDTx(gomock.Any(), tx, card.ID).Return(card, nil).Times(2)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, customerWallet.Owner()).Return(customerWallet, nil).Times(2)
	d.txns.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(nil).Times(4)

	// Attempt 1 loses the version race on the customer wallet.
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, customerWallet, int64(-200), gomock.Any()).Return(errConflict)
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, customerWallet, int64(-200), gomock.Any()).DoAndReturn(applyDelta)
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, merchantWallet, int64(200), gomock.Any()).DoAndReturn(applyDelta)
	d.cards.EXPECT().UpdateTx(gomock.Any(), tx, gomock.Any()).Return(nil)
	d.webhooks.EXPECT().Notify(gomock.Any(), gomock.Any(), merchantID, gomock.Any()).Return(nil)

	result, err := d.svc.SettleCardPayment(context.Background(), ports.CardPaymentRequest{
		MerchantID: merchantID, CardUID: card.CardUID, Amount: 200,
	}, card)

	require.NoError(t, err)
	assert.Equal(t, int64(300), result.RemainingBalance)
}

func TestCoordinator_SettleCardPayment_RetriesExhausted(t *testing.T) {
	d := setupCoordinator(t)

	merchantID := uuid.New()
	customerID := uuid.New()
	card := newActiveCard(customerID)
	merchantWallet := newTestWallet(domain.OwnerKindMerchant, merchantID, 0)
	customerWallet := newTestWallet(domain.OwnerKindCustomer, customerID, 500)
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil).Times(3)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, owner domain.OwnerRef) (*domain.Wallet, error) {
			if owner.Kind == domain.OwnerKindMerchant {
				return merchantWallet, nil
			}
			return customerWallet, nil
		}).Times(6)
	d.cards.EXPECT().GetByIDTx(gomock.Any(), tx, card.ID).Return(card, nil).Times(3)
	d.txns.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(nil).Times(6)
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, customerWallet, int64(-200), gomock.Any()).Return(errConflict).Times(3)

	_, err := d.svc.SettleCardPayment(context.Background(), ports.CardPaymentRequest{
		MerchantID: merchantID, CardUID: card.CardUID, Amount: 200,
	}, card)

	assertAppError(t, err, "PAY_010")
	assert.Equal(t, int64(500), customerWallet.Balance)
}

func TestCoordinator_SettleCardPayment_SavesIdempotencyLog(t *testing.T) {
	d := setupCoordinator(t)

	merchantID := uuid.New()
	customerID := uuid.New()
	card := newActiveCard(customerID)
	merchantWallet := newTestWallet(domain.OwnerKindMerchant, merchantID, 0)
	customerWallet := newTestWallet(domain.OwnerKindCustomer, customerID, 500)
	tx := &mockTx{}
	key := domain.BuildIdempotencyKey(merchantID, domain.OpCardPayment, "order-1")

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, merchantWallet.Owner()).Return(merchantWallet, nil)
	d.cards.EXPECT().GetByIDTx(gomock.Any(), tx, card.ID).Return(card, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, customerWallet.Owner()).Return(customerWallet, nil)
	d.txns.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(nil).Times(2)
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(applyDelta).Times(2)
	d.cards.EXPECT().UpdateTx(gomock.Any(), tx, gomock.Any()).Return(nil)
	d.idempRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, entry *domain.IdempotencyLog) error {
			assert.Equal(t, key, entry.Key)
			var stored ports.PaymentResult
			require.NoError(t, json.Unmarshal(entry.ResponseJSON, &stored))
			assert.Equal(t, entry.TransactionID, stored.DebitTransactionID)
			return nil
		})
	d.idempCache.EXPECT().Set(gomock.Any(), key, gomock.Any(), 24*time.Hour).Return(nil)
	d.webhooks.EXPECT().Notify(gomock.Any(), gomock.Any(), merchantID, gomock.Any()).Return(nil)

	_, err := d.svc.SettleCardPayment(context.Background(), ports.CardPaymentRequest{
		MerchantID: merchantID, CardUID: card.CardUID, Amount: 200, IdempotencyKey: "order-1",
	}, card)
	require.NoError(t, err)
}

func TestCoordinator_SettleCardPayment_ConcurrentSameKeyReplays(t *testing.T) {
	d := setupCoordinator(t)

	merchantID := uuid.New()
	customerID := uuid.New()
	card := newActiveCard(customerID)
	merchantWallet := newTestWallet(domain.OwnerKindMerchant, merchantID, 0)
	customerWallet := newTestWallet(domain.OwnerKindCustomer, customerID, 500)
	tx := &mockTx{}
	key := domain.BuildIdempotencyKey(merchantID, domain.OpCardPayment, "order-1")

	winner := ports.PaymentResult{Reference: "RFID1", Amount: 200, RemainingBalance: 300}
	winnerJSON, _ := json.Marshal(winner)

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, owner domain.OwnerRef) (*domain.Wallet, error) {
			if owner.Kind == domain.OwnerKindMerchant {
				return merchantWallet, nil
			}
			return customerWallet, nil
		}).Times(2)
	d.cards.EXPECT().GetByIDTx(gomock.Any(), tx, card.ID).Return(card, nil)
	d.txns.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(nil).Times(2)
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(applyDelta).Times(2)
	d.cards.EXPECT().UpdateTx(gomock.Any(), tx, gomock.Any()).Return(nil)
	d.idempRepo.EXPECT().Create(gomock.Any(), tx, gomock.Any()).
		Return(fmt.Errorf("insert idempotency log: %w", ports.ErrDuplicate))
	d.idempCache.EXPECT().Get(gomock.Any(), key).Return(winnerJSON, nil)

	result, err := d.svc.SettleCardPayment(context.Background(), ports.CardPaymentRequest{
		MerchantID: merchantID, CardUID: card.CardUID, Amount: 200, IdempotencyKey: "order-1",
	}, card)

	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, "RFID1", result.Reference)
}

// ==================== Transfer ====================

func TestCoordinator_Transfer_Success(t *testing.T) {
	d := setupCoordinator(t)
	ctx := context.Background()

	senderID := uuid.New()
	recipientID := uuid.New()
	sender := newTestWallet(domain.OwnerKindCustomer, senderID, 5000)
	receiver := newTestWallet(domain.OwnerKindCustomer, recipientID, 100)
	tx := &mockTx{}

	d.owners.EXPECT().FindByPhone(gomock.Any(), domain.OwnerKindCustomer, domain.PhoneVariants("9800000001")).
		Return(&domain.Owner{Ref: receiver.Owner(), Name: "Sita", Phone: "9800000001"}, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, sender.Owner()).Return(sender, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, receiver.Owner()).Return(receiver, nil)

	var legs []*domain.Transaction
	d.txns.EXPECT().Create(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			legs = append(legs, txn)
			return nil
		}).Times(2)
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, sender, int64(-1500), gomock.Any()).DoAndReturn(applyDelta)
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, receiver, int64(1500), gomock.Any()).DoAndReturn(applyDelta)

	result, err := d.svc.Transfer(ctx, ports.TransferRequest{
		Sender:         sender.Owner(),
		RecipientPhone: "+977-9800000001",
		RecipientKind:  domain.OwnerKindCustomer,
		Amount:         1500,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(3500), result.RemainingBalance)
	assert.Equal(t, int64(1600), receiver.Balance)
	assert.Equal(t, receiver.Owner(), result.Recipient)
	require.Len(t, legs, 2)
	assert.Equal(t, result.Reference+domain.LegOut, legs[0].Reference)
	assert.Equal(t, result.Reference+domain.LegIn, legs[1].Reference)
	assert.Equal(t, legs[0].Magnitude(), legs[1].Magnitude())
	assert.Equal(t, domain.TransactionKindTransfer, legs[0].Kind)
	assert.Equal(t, domain.TransactionKindTransfer, legs[1].Kind)
	assert.True(t, strings.HasPrefix(result.Reference, domain.RefPrefixTransfer))
}

func TestCoordinator_Transfer_FallsBackToOtherKind(t *testing.T) {
	d := setupCoordinator(t)

	sender := newTestWallet(domain.OwnerKindCustomer, uuid.New(), 5000)
	merchant := newTestWallet(domain.OwnerKindMerchant, uuid.New(), 0)
	tx := &mockTx{}

	d.owners.EXPECT().FindByPhone(gomock.Any(), domain.OwnerKindCustomer, gomock.Any()).Return(nil, nil)
	d.owners.EXPECT().FindByPhone(gomock.Any(), domain.OwnerKindMerchant, gomock.Any()).
		Return(&domain.Owner{Ref: merchant.Owner(), Name: "Shop"}, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, sender.Owner()).Return(sender, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, merchant.Owner()).Return(merchant, nil)
	d.txns.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(nil).Times(2)
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(applyDelta).Times(2)

	result, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		Sender: sender.Owner(), RecipientPhone: "9811111111", RecipientKind: domain.OwnerKindCustomer, Amount: 2000,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.OwnerKindMerchant, result.Recipient.Kind)
}

func TestCoordinator_Transfer_Validation(t *testing.T) {
	d := setupCoordinator(t)
	sender := domain.OwnerRef{Kind: domain.OwnerKindCustomer, ID: uuid.New()}

	tests := []struct {
		name   string
		amount int64
		code   string
	}{
		{"zero", 0, "VAL_002"},
		{"negative", -10, "VAL_002"},
		{"below minimum", 999, "PAY_002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
				Sender: sender, RecipientPhone: "9800000001", Amount: tt.amount,
			})
			assertAppError(t, err, tt.code)
		})
	}
}

func TestCoordinator_Transfer_SelfTransfer(t *testing.T) {
	d := setupCoordinator(t)
	sender := domain.OwnerRef{Kind: domain.OwnerKindCustomer, ID: uuid.New()}

	d.owners.EXPECT().FindByPhone(gomock.Any(), domain.OwnerKindCustomer, gomock.Any()).
		Return(&domain.Owner{Ref: sender}, nil)

	_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		Sender: sender, RecipientPhone: "9800000001", RecipientKind: domain.OwnerKindCustomer, Amount: 1000,
	})
	assertAppError(t, err, "PAY_005")
}

func TestCoordinator_Transfer_RecipientNotFound(t *testing.T) {
	d := setupCoordinator(t)

	d.owners.EXPECT().FindByPhone(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).Times(2)

	_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		Sender:         domain.OwnerRef{Kind: domain.OwnerKindCustomer, ID: uuid.New()},
		RecipientPhone: "9800000001",
		Amount:         1000,
	})
	assertAppError(t, err, "NF_003")
}

func TestCoordinator_Transfer_InsufficientFunds(t *testing.T) {
	d := setupCoordinator(t)

	sender := newTestWallet(domain.OwnerKindCustomer, uuid.New(), 1000)
	receiver := newTestWallet(domain.OwnerKindCustomer, uuid.New(), 0)
	tx := &mockTx{}

	d.owners.EXPECT().FindByPhone(gomock.Any(), domain.OwnerKindCustomer, gomock.Any()).
		Return(&domain.Owner{Ref: receiver.Owner()}, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, sender.Owner()).Return(sender, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, receiver.Owner()).Return(receiver, nil)

	_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		Sender: sender.Owner(), RecipientPhone: "9800000001", Amount: 1500,
	})

	assertAppError(t, err, "PAY_001")
	assert.Equal(t, int64(1000), sender.Balance)
	assert.Equal(t, int64(0), receiver.Balance)
}

func TestCoordinator_Transfer_RecipientInactive(t *testing.T) {
	d := setupCoordinator(t)

	sender := newTestWallet(domain.OwnerKindCustomer, uuid.New(), 5000)
	receiver := newTestWallet(domain.OwnerKindCustomer, uuid.New(), 0)
	receiver.IsActive = false
	tx := &mockTx{}

	d.owners.EXPECT().FindByPhone(gomock.Any(), domain.OwnerKindCustomer, gomock.Any()).
		Return(&domain.Owner{Ref: receiver.Owner()}, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, sender.Owner()).Return(sender, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, receiver.Owner()).Return(receiver, nil)

	_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		Sender: sender.Owner(), RecipientPhone: "9800000001", Amount: 1500,
	})
	assertAppError(t, err, "PAY_006")
}

func TestCoordinator_Transfer_RecipientWithoutWallet(t *testing.T) {
	d := setupCoordinator(t)

	sender := newTestWallet(domain.OwnerKindCustomer, uuid.New(), 5000)
	recipient := domain.OwnerRef{Kind: domain.OwnerKindCustomer, ID: uuid.New()}
	tx := &mockTx{}

	d.owners.EXPECT().FindByPhone(gomock.Any(), domain.OwnerKindCustomer, gomock.Any()).
		Return(&domain.Owner{Ref: recipient}, nil)
	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, sender.Owner()).Return(sender, nil)
	d.wallets.EXPECT().GetByOwnerTx(gomock.Any(), tx, recipient).Return(nil, nil)

	_, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		Sender: sender.Owner(), RecipientPhone: "9800000001", Amount: 1500,
	})
	assertAppError(t, err, "NF_002")
}

func TestCoordinator_Transfer_IdempotentReplay(t *testing.T) {
	d := setupCoordinator(t)

	senderID := uuid.New()
	key := domain.BuildIdempotencyKey(senderID, domain.OpTransfer, "client-1")
	prior := ports.TransferResult{Reference: "TRF1", Amount: 1500, RemainingBalance: 3500}
	priorJSON, _ := json.Marshal(prior)

	d.idempCache.EXPECT().Get(gomock.Any(), key).Return(priorJSON, nil)

	result, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		Sender:         domain.OwnerRef{Kind: domain.OwnerKindCustomer, ID: senderID},
		RecipientPhone: "9800000001",
		Amount:         1500,
		IdempotencyKey: "client-1",
	})

	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, "TRF1", result.Reference)
	assert.Equal(t, int64(3500), result.RemainingBalance)
}

func TestCoordinator_Transfer_IdempotencyFallsBackToDB(t *testing.T) {
	d := setupCoordinator(t)

	senderID := uuid.New()
	key := domain.BuildIdempotencyKey(senderID, domain.OpTransfer, "client-1")
	priorJSON, _ := json.Marshal(ports.TransferResult{Reference: "TRF1"})

	d.idempCache.EXPECT().Get(gomock.Any(), key).Return(nil, fmt.Errorf("redis down"))
	d.idempRepo.EXPECT().Get(gomock.Any(), key).Return(&domain.IdempotencyLog{Key: key, ResponseJSON: priorJSON}, nil)
	d.idempCache.EXPECT().Set(gomock.Any(), key, priorJSON, 24*time.Hour).Return(nil)

	result, err := d.svc.Transfer(context.Background(), ports.TransferRequest{
		Sender:         domain.OwnerRef{Kind: domain.OwnerKindCustomer, ID: senderID},
		RecipientPhone: "9800000001",
		Amount:         1500,
		IdempotencyKey: "client-1",
	})

	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, "TRF1", result.Reference)
}

// ==================== Refund ====================

type paymentPair struct {
	debit, credit          domain.Transaction
	payerWallet, rcvWallet *domain.Wallet
}

func newPaymentPair(amount, fee int64) paymentPair {
	customerID := uuid.New()
	merchantID := uuid.New()
	payer := newTestWallet(domain.OwnerKindCustomer, customerID, 1000)
	rcv := newTestWallet(domain.OwnerKindMerchant, merchantID, 2000)
	now := time.Now().UTC()
	ref := domain.NewReference(domain.RefPrefixPayment, now)

	debit := *newLeg(ref, domain.LegPay, payer.ID, -amount, domain.TransactionKindDebit, "Card payment", now)
	debit.Fee = fee
	debit.Metadata.CounterpartyID = &merchantID
	credit := *newLeg(ref, domain.LegRecv, rcv.ID, amount, domain.TransactionKindCredit, "Card payment", now)
	credit.Fee = fee
	credit.Metadata.CounterpartyID = &customerID

	return paymentPair{debit: debit, credit: credit, payerWallet: payer, rcvWallet: rcv}
}

func TestCoordinator_Refund_Success(t *testing.T) {
	d := setupCoordinator(t)
	p := newPaymentPair(200, 10)
	tx := &mockTx{}
	actor := domain.Principal{ID: p.rcvWallet.OwnerID, Kind: domain.PrincipalMerchant}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.txns.EXPECT().GetByIDTx(gomock.Any(), tx, p.debit.ID).Return(&p.debit, nil)
	d.txns.EXPECT().ListByGroupTx(gomock.Any(), tx, p.debit.GroupReference).Return([]domain.Transaction{p.debit, p.credit}, nil)
	d.wallets.EXPECT().GetByIDTx(gomock.Any(), tx, p.rcvWallet.ID).Return(p.rcvWallet, nil)
	d.txns.EXPECT().FindRefundTx(gomock.Any(), tx, p.credit.ID).Return(nil, nil)
	d.wallets.EXPECT().GetByIDTx(gomock.Any(), tx, p.payerWallet.ID).Return(p.payerWallet, nil)
	d.txns.EXPECT().MarkRefundedTx(gomock.Any(), tx, []uuid.UUID{p.credit.ID, p.debit.ID}).Return(nil)

	var legs []*domain.Transaction
	d.txns.EXPECT().Create(gomock.Any(), tx, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ pgx.Tx, txn *domain.Transaction) error {
			legs = append(legs, txn)
			return nil
		}).Times(2)
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, p.rcvWallet, int64(-190), gomock.Any()).DoAndReturn(applyDelta)
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, p.payerWallet, int64(190), gomock.Any()).DoAndReturn(applyDelta)
	d.webhooks.EXPECT().Notify(gomock.Any(), domain.WebhookEventRefundIssued, p.rcvWallet.OwnerID, gomock.Any()).Return(nil)

	result, err := d.svc.Refund(context.Background(), ports.RefundRequest{
		Actor:         actor,
		TransactionID: p.debit.ID,
		Reason:        "damaged goods",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(190), result.Amount)
	assert.Equal(t, int64(10), result.Fee)
	assert.Equal(t, p.credit.ID, result.OriginalTransactionID)
	assert.Equal(t, int64(1810), p.rcvWallet.Balance)
	assert.Equal(t, int64(1190), p.payerWallet.Balance)

	require.Len(t, legs, 2)
	out, in := legs[0], legs[1]
	assert.Equal(t, domain.TransactionKindRefund, out.Kind)
	assert.Equal(t, result.Reference+domain.LegOut, out.Reference)
	assert.Equal(t, result.Reference+domain.LegIn, in.Reference)
	assert.Equal(t, p.credit.ID, *out.Metadata.OriginalTransactionID)
	assert.Equal(t, p.debit.ID, *in.Metadata.OriginalTransactionID)
	assert.Equal(t, "damaged goods", *out.Metadata.Note)
	assert.Equal(t, actor.ID, *out.Metadata.ActorID)
	assert.Equal(t, "Refund for transaction "+p.credit.GroupReference+": damaged goods", out.Description)
}

func TestCoordinator_Refund_AdminMayRefund(t *testing.T) {
	d := setupCoordinator(t)
	p := newPaymentPair(200, 0)
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.txns.EXPECT().GetByIDTx(gomock.Any(), tx, p.credit.ID).Return(&p.credit, nil)
	d.txns.EXPECT().ListByGroupTx(gomock.Any(), tx, p.credit.GroupReference).Return([]domain.Transaction{p.debit, p.credit}, nil)
	d.wallets.EXPECT().GetByIDTx(gomock.Any(), tx, p.rcvWallet.ID).Return(p.rcvWallet, nil)
	d.txns.EXPECT().FindRefundTx(gomock.Any(), tx, p.credit.ID).Return(nil, nil)
	d.wallets.EXPECT().GetByIDTx(gomock.Any(), tx, p.payerWallet.ID).Return(p.payerWallet, nil)
	d.txns.EXPECT().MarkRefundedTx(gomock.Any(), tx, gomock.Any()).Return(nil)
	d.txns.EXPECT().Create(gomock.Any(), tx, gomock.Any()).Return(nil).Times(2)
	d.wallets.EXPECT().ApplyDelta(gomock.Any(), tx, gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(applyDelta).Times(2)
	d.webhooks.EXPECT().Notify(gomock.Any(), domain.WebhookEventRefundIssued, gomock.Any(), gomock.Any()).Return(nil)

	result, err := d.svc.Refund(context.Background(), ports.RefundRequest{
		Actor:         domain.Principal{ID: uuid.New(), Kind: domain.PrincipalAdmin},
		TransactionID: p.credit.ID,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(200), result.Amount)
}

func TestCoordinator_Refund_PayerForbidden(t *testing.T) {
	d := setupCoordinator(t)
	p := newPaymentPair(200, 0)
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.txns.EXPECT().GetByIDTx(gomock.Any(), tx, p.debit.ID).Return(&p.debit, nil)
	d.txns.EXPECT().ListByGroupTx(gomock.Any(), tx, gomock.Any()).Return([]domain.Transaction{p.debit, p.credit}, nil)
	d.wallets.EXPECT().GetByIDTx(gomock.Any(), tx, p.rcvWallet.ID).Return(p.rcvWallet, nil)

	_, err := d.svc.Refund(context.Background(), ports.RefundRequest{
		Actor:         domain.Principal{ID: p.payerWallet.OwnerID, Kind: domain.PrincipalCustomer},
		TransactionID: p.debit.ID,
	})
	assertAppError(t, err, "AUTH_002")
}

func TestCoordinator_Refund_AlreadyRefunded(t *testing.T) {
	d := setupCoordinator(t)
	p := newPaymentPair(200, 0)
	tx := &mockTx{}
	existing := domain.Transaction{ID: uuid.New(), Kind: domain.TransactionKindRefund}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.txns.EXPECT().GetByIDTx(gomock.Any(), tx, p.credit.ID).Return(&p.credit, nil)
	d.txns.EXPECT().ListByGroupTx(gomock.Any(), tx, gomock.Any()).Return([]domain.Transaction{p.debit, p.credit}, nil)
	d.wallets.EXPECT().GetByIDTx(gomock.Any(), tx, p.rcvWallet.ID).Return(p.rcvWallet, nil)
	d.txns.EXPECT().FindRefundTx(gomock.Any(), tx, p.credit.ID).Return(&existing, nil)

	_, err := d.svc.Refund(context.Background(), ports.RefundRequest{
		Actor:         domain.Principal{ID: uuid.New(), Kind: domain.PrincipalAdmin},
		TransactionID: p.credit.ID,
	})

	assertAppError(t, err, "PAY_003")
	assert.Equal(t, int64(2000), p.rcvWallet.Balance)
	assert.Equal(t, int64(1000), p.payerWallet.Balance)
}

func TestCoordinator_Refund_ConcurrentRefundWins(t *testing.T) {
	d := setupCoordinator(t)
	p := newPaymentPair(200, 0)
	tx := &mockTx{}
	existing := domain.Transaction{ID: uuid.New(), Kind: domain.TransactionKindRefund}
	admin := domain.Principal{ID: uuid.New(), Kind: domain.PrincipalAdmin}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil).Times(2)
	d.txns.EXPECT().GetByIDTx(gomock.Any(), tx, p.credit.ID).Return(&p.credit, nil).Times(2)
	d.txns.EXPECT().ListByGroupTx(gomock.Any(), tx, gomock.Any()).Return([]domain.Transaction{p.debit, p.credit}, nil).Times(2)
	d.wallets.EXPECT().GetByIDTx(gomock.Any(), tx, p.rcvWallet.ID).Return(p.rcvWallet, nil).Times(2)

	// Attempt 1 sees no refund yet but loses the status condition;
	// attempt 2 sees the winner's refund.
	d.txns.EXPECT().FindRefundTx(gomock.Any(), tx, p.credit.ID).Return(nil, nil)
	d.txns.EXPECT().FindRefundTx(gomock.Any(), tx, p.credit.ID).Return(&existing, nil)
	d.wallets.EXPECT().GetByIDTx(gomock.Any(), tx, p.payerWallet.ID).Return(p.payerWallet, nil)
	d.txns.EXPECT().MarkRefundedTx(gomock.Any(), tx, gomock.Any()).
		Return(fmt.Errorf("mark refunded: %w", ports.ErrConflict))

	_, err := d.svc.Refund(context.Background(), ports.RefundRequest{Actor: admin, TransactionID: p.credit.ID})
	assertAppError(t, err, "PAY_003")
}

func TestCoordinator_Refund_TopUpNotRefundable(t *testing.T) {
	d := setupCoordinator(t)
	tx := &mockTx{}
	topUp := *newLeg("TOP1", "", uuid.New(), 5000, domain.TransactionKindCredit, "Wallet top-up", time.Now())

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.txns.EXPECT().GetByIDTx(gomock.Any(), tx, topUp.ID).Return(&topUp, nil)

	_, err := d.svc.Refund(context.Background(), ports.RefundRequest{
		Actor:         domain.Principal{ID: uuid.New(), Kind: domain.PrincipalAdmin},
		TransactionID: topUp.ID,
	})
	assertAppError(t, err, "PAY_004")
}

func TestCoordinator_Refund_NotFound(t *testing.T) {
	d := setupCoordinator(t)
	tx := &mockTx{}
	id := uuid.New()

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.txns.EXPECT().GetByIDTx(gomock.Any(), tx, id).Return(nil, nil)

	_, err := d.svc.Refund(context.Background(), ports.RefundRequest{
		Actor:         domain.Principal{ID: uuid.New(), Kind: domain.PrincipalAdmin},
		TransactionID: id,
	})
	assertAppError(t, err, "NF_001")
}

func TestCoordinator_Refund_ReceiverCannotCover(t *testing.T) {
	d := setupCoordinator(t)
	p := newPaymentPair(200, 0)
	p.rcvWallet.Balance = 50
	tx := &mockTx{}

	d.transactor.EXPECT().Begin(gomock.Any()).Return(tx, nil)
	d.txns.EXPECT().GetByIDTx(gomock.Any(), tx, p.credit.ID).Return(&p.credit, nil)
	d.txns.EXPECT().ListByGroupTx(gomock.Any(), tx, gomock.Any()).Return([]domain.Transaction{p.debit, p.credit}, nil)
	d.wallets.EXPECT().GetByIDTx(gomock.Any(), tx, p.rcvWallet.ID).Return(p.rcvWallet, nil)
	d.txns.EXPECT().FindRefundTx(gomock.Any(), tx, p.credit.ID).Return(nil, nil)

	_, err := d.svc.Refund(context.Background(), ports.RefundRequest{
		Actor:         domain.Principal{ID: p.rcvWallet.OwnerID, Kind: domain.PrincipalMerchant},
		TransactionID: p.credit.ID,
	})
	assertAppError(t, err, "PAY_001")
}
