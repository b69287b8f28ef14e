package domain

import (
	"time"

	"github.com/google/uuid"
)

type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "PENDING"
	WebhookStatusDelivered WebhookStatus = "DELIVERED"
	WebhookStatusFailed    WebhookStatus = "FAILED"
)

// WebhookEvent names what happened to a merchant's money.
type WebhookEvent string

const (
	WebhookEventPaymentReceived WebhookEvent = "payment.received"
	WebhookEventRefundIssued    WebhookEvent = "refund.issued"
)

// WebhookDeliveryLog tracks the notification sent to a merchant for one
// ledger entry. Payload is the exact signed JSON body.
type WebhookDeliveryLog struct {
	ID            uuid.UUID     `json:"id"`
	TransactionID uuid.UUID     `json:"transaction_id"`
	MerchantID    uuid.UUID     `json:"merchant_id"`
	WebhookURL    string        `json:"webhook_url"`
	Payload       string        `json:"payload"`
	HTTPStatus    *int          `json:"http_status"`
	Attempt       int           `json:"attempt"`
	Status        WebhookStatus `json:"status"`
	NextRetryAt   *time.Time    `json:"next_retry_at"`
	LastError     *string       `json:"last_error"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// RecordAttempt folds one POST outcome into the log. httpStatus is zero when
// no response arrived. A failed attempt stays PENDING while retryIn is
// positive and becomes FAILED once no retry is left.
func (d *WebhookDeliveryLog) RecordAttempt(attempt int, at time.Time, httpStatus int, err error, retryIn time.Duration) {
	d.Attempt = attempt
	d.UpdatedAt = at
	d.HTTPStatus = nil
	d.LastError = nil
	d.NextRetryAt = nil
	if httpStatus != 0 {
		d.HTTPStatus = &httpStatus
	}

	if err == nil {
		d.Status = WebhookStatusDelivered
		return
	}
	msg := err.Error()
	d.LastError = &msg
	if retryIn <= 0 {
		d.Status = WebhookStatusFailed
		return
	}
	next := at.Add(retryIn)
	d.NextRetryAt = &next
	d.Status = WebhookStatusPending
}

// Settled reports whether no further attempt will be made.
func (d *WebhookDeliveryLog) Settled() bool {
	return d.Status == WebhookStatusDelivered || d.Status == WebhookStatusFailed
}
