package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// retryPolicy bounds how often an atomic block is re-run after a write conflict.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
}

func newRetryPolicy(maxAttempts int, baseDelay time.Duration) retryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return retryPolicy{maxAttempts: maxAttempts, baseDelay: baseDelay}
}

// withConflictRetry runs fn until it succeeds, fails with anything other than
// ports.ErrConflict, or the attempts run out. Attempt n waits n × baseDelay
// before the next one. Exhaustion surfaces as PAY_010.
func withConflictRetry(ctx context.Context, p retryPolicy, log zerolog.Logger, op string, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ports.ErrConflict) {
			return err
		}
		if attempt >= p.maxAttempts {
			log.Warn().Err(err).Str("op", op).Int("attempts", attempt).Msg("conflict retries exhausted")
			return apperror.ErrConcurrentModification(err)
		}

		log.Debug().Err(err).Str("op", op).Int("attempt", attempt).Msg("write conflict, retrying")

		timer := time.NewTimer(time.Duration(attempt) * p.baseDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return apperror.InternalError(fmt.Errorf("%s: %w", op, ctx.Err()))
		case <-timer.C:
		}
	}
}

// inTx runs fn inside one database transaction. fn's error aborts the block.
func inTx(ctx context.Context, transactor ports.DBTransactor, fn func(tx pgx.Tx) error) error {
	tx, err := transactor.Begin(ctx)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit tx", err)
	}
	return nil
}

// storageErr wraps an infrastructure failure. A conflict stays detectable
// with errors.Is so the retry loop still sees it.
func storageErr(op string, err error) error {
	return apperror.InternalError(fmt.Errorf("%s: %w", op, err))
}
