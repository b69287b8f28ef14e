package postgres

import (
	"errors"
	"fmt"

	"rfid-wallet-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the ledger reacts to.
const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// classify maps driver errors onto the storage sentinels in ports.
// The original error stays in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return fmt.Errorf("%w: %w", ports.ErrConflict, err)
	case sqlStateUniqueViolation:
		return fmt.Errorf("%w: %w", ports.ErrDuplicate, err)
	}
	return err
}

// constraintName returns the violated constraint, if the error carries one.
func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
