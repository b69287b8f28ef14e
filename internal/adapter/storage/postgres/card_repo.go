package postgres

import (
	"context"
	"errors"
	"fmt"

	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const cardColumns = `id, card_uid, customer_id, pin_hash, pin_attempts, pin_locked_until, last_pin_change,
	requires_pin_change, is_active, status, issued_at, expires_at, last_used, deactivated_at,
	deactivation_reason, version, created_at, updated_at`

// CardRepo implements ports.CardRepository.
type CardRepo struct {
	pool Pool
}

// NewCardRepo creates a new CardRepo.
func NewCardRepo(pool Pool) *CardRepo {
	return &CardRepo{pool: pool}
}

// CreateTx inserts a card. A reused UID fails with ports.ErrDuplicate.
func (r *CardRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *domain.RfidCard) error {
	query := `INSERT INTO rfid_cards (` + cardColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := tx.Exec(ctx, query,
		c.ID, c.CardUID, c.CustomerID, c.PinHash, c.PinAttempts, c.PinLockedUntil, c.LastPinChange,
		c.RequiresPinChange, c.IsActive, c.Status, c.IssuedAt, c.ExpiresAt, c.LastUsed, c.DeactivatedAt,
		c.DeactivationReason, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert card: %w", classify(err))
	}
	return nil
}

// GetByUID fetches a card by its RFID UID.
func (r *CardRepo) GetByUID(ctx context.Context, cardUID string) (*domain.RfidCard, error) {
	query := `SELECT ` + cardColumns + ` FROM rfid_cards WHERE card_uid = $1`

	c, err := scanCard(r.pool.QueryRow(ctx, query, cardUID))
	if err != nil {
		return nil, fmt.Errorf("get card by uid: %w", err)
	}
	return c, nil
}

// GetByID fetches a card by UUID.
func (r *CardRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RfidCard, error) {
	return r.getByID(ctx, r.pool, id)
}

// GetByIDTx fetches a card inside an atomic block.
func (r *CardRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RfidCard, error) {
	return r.getByID(ctx, tx, id)
}

// GetActiveByCustomerTx fetches the customer's active card, if any.
func (r *CardRepo) GetActiveByCustomerTx(ctx context.Context, tx pgx.Tx, customerID uuid.UUID) (*domain.RfidCard, error) {
	query := `SELECT ` + cardColumns + ` FROM rfid_cards WHERE customer_id = $1 AND is_active`

	c, err := scanCard(tx.QueryRow(ctx, query, customerID))
	if err != nil {
		return nil, fmt.Errorf("get active card: %w", err)
	}
	return c, nil
}

// ListByCustomer returns every card issued to a customer, newest first.
func (r *CardRepo) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.RfidCard, error) {
	query := `SELECT ` + cardColumns + ` FROM rfid_cards WHERE customer_id = $1 ORDER BY issued_at DESC`

	rows, err := r.pool.Query(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []domain.RfidCard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card row: %w", err)
		}
		cards = append(cards, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate card rows: %w", err)
	}
	return cards, nil
}

// Update persists the card as a single-row statement outside any atomic block.
func (r *CardRepo) Update(ctx context.Context, c *domain.RfidCard) error {
	return r.update(ctx, r.pool, c)
}

// UpdateTx persists the card inside an atomic block.
func (r *CardRepo) UpdateTx(ctx context.Context, tx pgx.Tx, c *domain.RfidCard) error {
	return r.update(ctx, tx, c)
}

func (r *CardRepo) update(ctx context.Context, q querier, c *domain.RfidCard) error {
	query := `UPDATE rfid_cards SET
			pin_hash = $1, pin_attempts = $2, pin_locked_until = $3, last_pin_change = $4,
			requires_pin_change = $5, is_active = $6, status = $7, last_used = $8,
			deactivated_at = $9, deactivation_reason = $10,
			version = version + 1, updated_at = NOW()
		WHERE id = $11 AND version = $12
		RETURNING version, updated_at`

	err := q.QueryRow(ctx, query,
		c.PinHash, c.PinAttempts, c.PinLockedUntil, c.LastPinChange,
		c.RequiresPinChange, c.IsActive, c.Status, c.LastUsed,
		c.DeactivatedAt, c.DeactivationReason,
		c.ID, c.Version,
	).Scan(&c.Version, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update card %s at version %d: %w", c.CardUID, c.Version, ports.ErrConflict)
		}
		return fmt.Errorf("update card: %w", classify(err))
	}
	return nil
}

func (r *CardRepo) getByID(ctx context.Context, q querier, id uuid.UUID) (*domain.RfidCard, error) {
	query := `SELECT ` + cardColumns + ` FROM rfid_cards WHERE id = $1`

	c, err := scanCard(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get card by id: %w", err)
	}
	return c, nil
}

func scanCard(row pgx.Row) (*domain.RfidCard, error) {
	c := &domain.RfidCard{}
	err := row.Scan(
		&c.ID, &c.CardUID, &c.CustomerID, &c.PinHash, &c.PinAttempts, &c.PinLockedUntil, &c.LastPinChange,
		&c.RequiresPinChange, &c.IsActive, &c.Status, &c.IssuedAt, &c.ExpiresAt, &c.LastUsed, &c.DeactivatedAt,
		&c.DeactivationReason, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return c, nil
}
