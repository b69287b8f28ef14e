package service

import (
	"context"
	"encoding/json"
	"time"

	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// idempotencyStore keeps client-keyed results: Redis in front, the
// idempotency_logs table as the source of truth.
type idempotencyStore struct {
	repo  ports.IdempotencyRepository
	cache ports.IdempotencyCache
	ttl   time.Duration
	log   zerolog.Logger
}

func newIdempotencyStore(repo ports.IdempotencyRepository, cache ports.IdempotencyCache, ttl time.Duration, log zerolog.Logger) *idempotencyStore {
	return &idempotencyStore{repo: repo, cache: cache, ttl: ttl, log: log}
}

// lookup decodes a previously stored result into out. An empty key never matches.
func (s *idempotencyStore) lookup(ctx context.Context, key string, out any) (bool, error) {
	if key == "" {
		return false, nil
	}

	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
	}
	if cached != nil {
		if err := json.Unmarshal(cached, out); err != nil {
			return false, storageErr("decode cached result", err)
		}
		return true, nil
	}

	entry, err := s.repo.Get(ctx, key)
	if err != nil {
		return false, storageErr("db idempotency check", err)
	}
	if entry == nil {
		return false, nil
	}
	if err := json.Unmarshal(entry.ResponseJSON, out); err != nil {
		return false, storageErr("decode stored result", err)
	}
	s.remember(ctx, key, entry.ResponseJSON)
	return true, nil
}

// save writes the log entry inside the operation's atomic block.
func (s *idempotencyStore) save(ctx context.Context, tx pgx.Tx, key string, txID uuid.UUID, result any) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, storageErr("marshal response", err)
	}
	entry := &domain.IdempotencyLog{
		Key:           key,
		TransactionID: txID,
		ResponseJSON:  body,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, tx, entry); err != nil {
		return nil, storageErr("save idempotency log", err)
	}
	return body, nil
}

// remember copies a committed result into Redis. Failures only cost a DB read later.
func (s *idempotencyStore) remember(ctx context.Context, key string, body []byte) {
	if key == "" || body == nil {
		return
	}
	if err := s.cache.Set(ctx, key, body, s.ttl); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to cache idempotency in redis")
	}
}
