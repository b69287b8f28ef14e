package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
)

type merchantService struct {
	merchantRepo ports.MerchantRepository
	encSvc       ports.EncryptionService
	audit        ports.AuditService
}

// NewMerchantService creates the merchant webhook settings service.
func NewMerchantService(
	merchantRepo ports.MerchantRepository,
	encSvc ports.EncryptionService,
	audit ports.AuditService,
) ports.MerchantService {
	return &merchantService{
		merchantRepo: merchantRepo,
		encSvc:       encSvc,
		audit:        audit,
	}
}

func (s *merchantService) GetWebhook(ctx context.Context, merchantID uuid.UUID) (*ports.WebhookSettings, error) {
	merchant, err := s.load(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	return &ports.WebhookSettings{
		WebhookURL: merchant.WebhookURL,
		HasSecret:  merchant.WebhookSecretEnc != nil && *merchant.WebhookSecretEnc != "",
	}, nil
}

// UpdateWebhook sets the notification URL. A nil or blank URL turns
// notifications off.
func (s *merchantService) UpdateWebhook(ctx context.Context, merchantID uuid.UUID, webhookURL *string) error {
	if webhookURL != nil {
		trimmed := strings.TrimSpace(*webhookURL)
		if trimmed == "" {
			webhookURL = nil
		} else {
			if !validWebhookURL(trimmed) {
				return apperror.Validation("Webhook URL must be an absolute http or https URL")
			}
			webhookURL = &trimmed
		}
	}

	merchant, err := s.load(ctx, merchantID)
	if err != nil {
		return err
	}

	merchant.WebhookURL = webhookURL
	merchant.UpdatedAt = time.Now().UTC()

	if err := s.merchantRepo.Update(ctx, merchant); err != nil {
		return apperror.InternalError(err)
	}

	actor := principalFor(domain.OwnerRef{Kind: domain.OwnerKindMerchant, ID: merchantID})
	s.audit.Log(ctx, auditEntry(&actor, domain.AuditActionUpdateWebhook, "merchant", merchantID.String(), "",
		map[string]any{"enabled": webhookURL != nil}))
	return nil
}

// RotateWebhookSecret issues a new signing secret. The plaintext is
// returned once and only its ciphertext is stored.
func (s *merchantService) RotateWebhookSecret(ctx context.Context, merchantID uuid.UUID) (string, error) {
	merchant, err := s.load(ctx, merchantID)
	if err != nil {
		return "", err
	}

	secret, err := generateKey("whsec_", 24)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("generate webhook secret: %w", err))
	}
	enc, err := s.encSvc.Encrypt(secret)
	if err != nil {
		return "", apperror.ErrEncryptionFailure(fmt.Errorf("encrypt webhook secret: %w", err))
	}

	merchant.WebhookSecretEnc = &enc
	merchant.UpdatedAt = time.Now().UTC()

	if err := s.merchantRepo.Update(ctx, merchant); err != nil {
		return "", apperror.InternalError(err)
	}

	actor := principalFor(domain.OwnerRef{Kind: domain.OwnerKindMerchant, ID: merchantID})
	s.audit.Log(ctx, auditEntry(&actor, domain.AuditActionRotateSecret, "merchant", merchantID.String(), "", nil))
	return secret, nil
}

func (s *merchantService) load(ctx context.Context, merchantID uuid.UUID) (*domain.Merchant, error) {
	merchant, err := s.merchantRepo.GetByID(ctx, merchantID)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	if merchant == nil {
		return nil, apperror.ErrNotFound("Merchant")
	}
	return merchant, nil
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func generateKey(prefix string, length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(b), nil
}
