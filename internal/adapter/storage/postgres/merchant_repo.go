package postgres

import (
	"context"
	"errors"
	"fmt"

	"rfid-wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const merchantColumns = `id, business_name, phone, email, status, webhook_url, webhook_secret_enc, created_at, updated_at`

// MerchantRepo reads merchant profiles and stores their webhook settings.
// Onboarding and status changes happen outside the ledger.
type MerchantRepo struct {
	pool Pool
}

func NewMerchantRepo(pool Pool) *MerchantRepo {
	return &MerchantRepo{pool: pool}
}

// GetByID returns nil, nil for an unknown merchant.
func (r *MerchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id)

	var m domain.Merchant
	err := row.Scan(
		&m.ID, &m.BusinessName, &m.Phone, &m.Email, &m.Status,
		&m.WebhookURL, &m.WebhookSecretEnc, &m.CreatedAt, &m.UpdatedAt,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("load merchant %s: %w", id, err)
	}
	return &m, nil
}

// Update persists the webhook URL and encrypted signing secret. Other
// profile fields on m are ignored.
func (r *MerchantRepo) Update(ctx context.Context, m *domain.Merchant) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE merchants SET webhook_url = $1, webhook_secret_enc = $2, updated_at = $3 WHERE id = $4`,
		m.WebhookURL, m.WebhookSecretEnc, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return fmt.Errorf("save webhook settings for merchant %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("merchant not found: %s", m.ID)
	}
	return nil
}
