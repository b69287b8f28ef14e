package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Delivery headers.
const (
	HeaderWebhookEvent     = "X-Webhook-Event"
	HeaderWebhookTimestamp = "X-Webhook-Timestamp"
	HeaderWebhookSignature = "X-Webhook-Signature"
)

// webhookRetryIntervals are the waits before the 2nd through 6th attempts.
var webhookRetryIntervals = []time.Duration{
	15 * time.Second,
	1 * time.Minute,
	2 * time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

const webhookLogWriteTimeout = 5 * time.Second

// WebhookPayload is the JSON body POSTed to the merchant's webhook URL.
type WebhookPayload struct {
	Event      domain.WebhookEvent `json:"event"`
	DeliveryID uuid.UUID           `json:"delivery_id"`
	Data       WebhookPayloadData  `json:"data"`
}

// WebhookPayloadData describes the merchant's leg of the movement.
type WebhookPayloadData struct {
	TransactionID         uuid.UUID                `json:"transaction_id"`
	Reference             string                   `json:"reference"`
	GroupReference        string                   `json:"group_reference"`
	Kind                  domain.TransactionKind   `json:"kind"`
	Status                domain.TransactionStatus `json:"status"`
	Amount                int64                    `json:"amount"`
	Fee                   int64                    `json:"fee"`
	Currency              string                   `json:"currency"`
	Description           string                   `json:"description"`
	CardID                *uuid.UUID               `json:"card_id,omitempty"`
	CounterpartyID        *uuid.UUID               `json:"counterparty_id,omitempty"`
	OriginalTransactionID *uuid.UUID               `json:"original_transaction_id,omitempty"`
	CreatedAt             time.Time                `json:"created_at"`
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// webhookService implements ports.WebhookService.
type webhookService struct {
	merchantRepo ports.MerchantRepository
	walletRepo   ports.WalletRepository
	webhookRepo  ports.WebhookRepository
	encSvc       ports.EncryptionService
	sigSvc       ports.SignatureService
	httpClient   HTTPClient
	intervals    []time.Duration
	sleep        func(time.Duration)
	now          func() time.Time
	log          zerolog.Logger
}

// NewWebhookService creates a new webhook service.
func NewWebhookService(
	merchantRepo ports.MerchantRepository,
	walletRepo ports.WalletRepository,
	webhookRepo ports.WebhookRepository,
	encSvc ports.EncryptionService,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	log zerolog.Logger,
) ports.WebhookService {
	return &webhookService{
		merchantRepo: merchantRepo,
		walletRepo:   walletRepo,
		webhookRepo:  webhookRepo,
		encSvc:       encSvc,
		sigSvc:       sigSvc,
		httpClient:   httpClient,
		intervals:    webhookRetryIntervals,
		sleep:        time.Sleep,
		now:          func() time.Time { return time.Now().UTC() },
		log:          log,
	}
}

// Notify records a delivery and sends it in the background. Merchants
// without a webhook URL or signing secret are skipped.
func (s *webhookService) Notify(ctx context.Context, event domain.WebhookEvent, merchantID uuid.UUID, transaction *domain.Transaction) error {
	merchant, err := s.merchantRepo.GetByID(ctx, merchantID)
	if err != nil {
		s.log.Error().Err(err).Str("merchant_id", merchantID.String()).Msg("webhook: failed to fetch merchant")
		return apperror.InternalError(fmt.Errorf("get merchant: %w", err))
	}
	if merchant == nil || merchant.WebhookURL == nil || *merchant.WebhookURL == "" {
		s.log.Debug().Str("merchant_id", merchantID.String()).Msg("webhook: no webhook URL configured, skipping")
		return nil
	}
	if merchant.WebhookSecretEnc == nil || *merchant.WebhookSecretEnc == "" {
		s.log.Warn().Str("merchant_id", merchantID.String()).Msg("webhook: no signing secret, skipping")
		return nil
	}

	secret, err := s.encSvc.Decrypt(*merchant.WebhookSecretEnc)
	if err != nil {
		s.log.Error().Err(err).Msg("webhook: failed to decrypt merchant secret")
		return apperror.ErrEncryptionFailure(err)
	}

	currency := ""
	if wallet, err := s.walletRepo.GetByID(ctx, transaction.WalletID); err == nil && wallet != nil {
		currency = wallet.Currency
	}

	deliveryID := uuid.New()
	body, err := json.Marshal(WebhookPayload{
		Event:      event,
		DeliveryID: deliveryID,
		Data: WebhookPayloadData{
			TransactionID:         transaction.ID,
			Reference:             transaction.Reference,
			GroupReference:        transaction.GroupReference,
			Kind:                  transaction.Kind,
			Status:                transaction.Status,
			Amount:                transaction.Amount,
			Fee:                   transaction.Fee,
			Currency:              currency,
			Description:           transaction.Description,
			CardID:                transaction.Metadata.CardID,
			CounterpartyID:        transaction.Metadata.CounterpartyID,
			OriginalTransactionID: transaction.Metadata.OriginalTransactionID,
			CreatedAt:             transaction.CreatedAt,
		},
	})
	if err != nil {
		return apperror.InternalError(fmt.Errorf("marshal webhook payload: %w", err))
	}

	now := s.now()
	delivery := &domain.WebhookDeliveryLog{
		ID:            deliveryID,
		TransactionID: transaction.ID,
		MerchantID:    merchantID,
		WebhookURL:    *merchant.WebhookURL,
		Payload:       string(body),
		Status:        domain.WebhookStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.webhookRepo.Create(ctx, delivery); err != nil {
		return apperror.InternalError(fmt.Errorf("create webhook log: %w", err))
	}

	go s.deliverWithRetries(event, secret, body, delivery)
	return nil
}

// deliverWithRetries posts the payload until a 2xx answer or the retry
// schedule runs out, recording every attempt on the delivery log.
func (s *webhookService) deliverWithRetries(event domain.WebhookEvent, secret string, body []byte, delivery *domain.WebhookDeliveryLog) {
	txID := delivery.TransactionID.String()
	maxAttempts := len(s.intervals) + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			s.sleep(s.intervals[attempt-2])
		}

		status, err := s.post(event, secret, delivery.WebhookURL, body)

		var retryIn time.Duration
		if attempt < maxAttempts {
			retryIn = s.intervals[attempt-1]
		}
		delivery.RecordAttempt(attempt, s.now(), status, err, retryIn)
		s.record(delivery)

		switch {
		case err == nil:
			s.log.Info().Str("tx_id", txID).Int("attempt", attempt).Int("status", status).Msg("webhook: delivered successfully")
			return
		case !delivery.Settled():
			s.log.Warn().Err(err).Str("tx_id", txID).Int("attempt", attempt).Msg("webhook: delivery failed, will retry")
		}
	}

	s.log.Error().Str("tx_id", txID).Msg("webhook: all retry attempts exhausted")
}

// post sends one signed attempt. A non-2xx answer is an error.
func (s *webhookService) post(event domain.WebhookEvent, secret, url string, body []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	ts := s.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWebhookEvent, string(event))
	req.Header.Set(HeaderWebhookTimestamp, fmt.Sprintf("%d", ts))
	req.Header.Set(HeaderWebhookSignature, s.sigSvc.Sign(secret, webhookSigningPayload(ts, body)))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (s *webhookService) record(delivery *domain.WebhookDeliveryLog) {
	ctx, cancel := context.WithTimeout(context.Background(), webhookLogWriteTimeout)
	defer cancel()
	if err := s.webhookRepo.Update(ctx, delivery); err != nil {
		s.log.Warn().Err(err).Str("delivery_id", delivery.ID.String()).Msg("webhook: failed to update delivery log")
	}
}
