package postgres

import (
	"context"
	"errors"
	"fmt"

	"rfid-wallet-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// ownerTables resolves the polymorphic owner reference to its directory table.
var ownerTables = map[domain.OwnerKind]struct {
	table   string
	nameCol string
}{
	domain.OwnerKindCustomer: {table: "customers", nameCol: "full_name"},
	domain.OwnerKindMerchant: {table: "merchants", nameCol: "business_name"},
}

// OwnerRepo implements ports.OwnerRepository over the customers and merchants tables.
type OwnerRepo struct {
	pool Pool
}

// NewOwnerRepo creates a new OwnerRepo.
func NewOwnerRepo(pool Pool) *OwnerRepo {
	return &OwnerRepo{pool: pool}
}

// CreateCustomer inserts a customer. A reused phone fails with ports.ErrDuplicate.
func (r *OwnerRepo) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	query := `INSERT INTO customers (id, full_name, phone, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query, c.ID, c.FullName, c.Phone, c.Email, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert customer: %w", classify(err))
	}
	return nil
}

// CreateMerchant inserts a merchant. A reused phone fails with ports.ErrDuplicate.
func (r *OwnerRepo) CreateMerchant(ctx context.Context, m *domain.Merchant) error {
	query := `INSERT INTO merchants (id, business_name, phone, email, status, webhook_url, webhook_secret_enc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		m.ID, m.BusinessName, m.Phone, m.Email, m.Status,
		m.WebhookURL, m.WebhookSecretEnc, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert merchant: %w", classify(err))
	}
	return nil
}

// Get resolves an owner reference.
func (r *OwnerRepo) Get(ctx context.Context, ref domain.OwnerRef) (*domain.Owner, error) {
	t, ok := ownerTables[ref.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown owner kind %q", ref.Kind)
	}
	query := fmt.Sprintf(`SELECT id, %s, phone, email FROM %s WHERE id = $1`, t.nameCol, t.table)

	o, err := scanOwner(r.pool.QueryRow(ctx, query, ref.ID), ref.Kind)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", t.table, err)
	}
	return o, nil
}

// FindByPhone returns the owner of the given kind whose stored phone matches
// any of the variants.
func (r *OwnerRepo) FindByPhone(ctx context.Context, kind domain.OwnerKind, phoneVariants []string) (*domain.Owner, error) {
	t, ok := ownerTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown owner kind %q", kind)
	}
	query := fmt.Sprintf(`SELECT id, %s, phone, email FROM %s WHERE phone = ANY($1) ORDER BY created_at LIMIT 1`, t.nameCol, t.table)

	o, err := scanOwner(r.pool.QueryRow(ctx, query, phoneVariants), kind)
	if err != nil {
		return nil, fmt.Errorf("find %s by phone: %w", t.table, err)
	}
	return o, nil
}

func scanOwner(row pgx.Row, kind domain.OwnerKind) (*domain.Owner, error) {
	o := &domain.Owner{Ref: domain.OwnerRef{Kind: kind}}
	if err := row.Scan(&o.Ref.ID, &o.Name, &o.Phone, &o.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}
