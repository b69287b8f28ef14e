package postgres

import (
	"context"
	"fmt"
	"time"
)

const healthTimeout = 2 * time.Second

// HealthCheck probes the ledger tables rather than the bare connection, so
// an unmigrated database reports unhealthy.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if _, err := h.pool.Exec(ctx, "SELECT 1 FROM wallets LIMIT 1"); err != nil {
		return fmt.Errorf("ledger tables: %w", err)
	}
	return nil
}

func (h *HealthCheck) Name() string { return "postgresql" }
