package ports

import "context"

// HealthChecker is one backing store reported by GET /health. The ledger is
// only ready to take money when every checker answers Ping without error.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Name() string
}
