// Package app wires storage adapters, services and the HTTP router.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"rfid-wallet-ledger/config"
	httpHandler "rfid-wallet-ledger/internal/adapter/http/handler"
	pgStorage "rfid-wallet-ledger/internal/adapter/storage/postgres"
	redisStorage "rfid-wallet-ledger/internal/adapter/storage/redis"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/internal/service"
	"rfid-wallet-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Stores holds the persistence and cache adapters the services run on.
type Stores struct {
	Owners           ports.OwnerRepository
	Merchants        ports.MerchantRepository
	Wallets          ports.WalletRepository
	Transactions     ports.TransactionRepository
	Cards            ports.CardRepository
	Idempotency      ports.IdempotencyRepository
	Webhooks         ports.WebhookRepository
	Audit            ports.AuditRepository
	Transactor       ports.DBTransactor
	IdempotencyCache ports.IdempotencyCache
	CardLock         ports.CardLock
	RateLimiter      ports.RateLimiter // nil = rate limiting disabled
	HealthCheckers   []ports.HealthChecker
	HTTPClient       service.HTTPClient
}

// Services is the wired business layer.
type Services struct {
	Tokens   ports.TokenService
	Audit    ports.AuditService
	Webhooks ports.WebhookService
	Wallets  ports.WalletService
	Ledger   ports.LedgerService
	Gateway  ports.PaymentGateway
	Cards    ports.CardService
	History  ports.HistoryService
	Merchant ports.MerchantService
}

// Wire builds every service on top of stores.
func Wire(cfg *config.Config, stores Stores, log zerolog.Logger) (*Services, error) {
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		return nil, fmt.Errorf("initializing encryption service: %w", err)
	}
	fees, err := service.NewFeeCalculator(cfg.Ledger.MerchantFeeRate)
	if err != nil {
		return nil, fmt.Errorf("initializing fee calculator: %w", err)
	}
	hashSvc := service.NewArgon2HashService()

	auditSvc := service.NewAuditService(stores.Audit, logger.Component(log, "audit"))
	webhookSvc := service.NewWebhookService(
		stores.Merchants,
		stores.Wallets,
		stores.Webhooks,
		encSvc,
		service.NewHMACSignatureService(),
		stores.HTTPClient,
		logger.Component(log, "webhook"),
	)
	coordinator := service.NewCoordinator(
		stores.Wallets, stores.Transactions, stores.Cards, stores.Owners,
		stores.Idempotency, stores.IdempotencyCache,
		stores.Transactor, webhookSvc, auditSvc, fees, cfg.Ledger,
		logger.Component(log, "ledger"),
	)
	guard := service.NewPinGuard(stores.Cards, hashSvc, stores.CardLock, auditSvc, cfg.Ledger, logger.Component(log, "pin"))

	return &Services{
		Tokens:   service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer),
		Audit:    auditSvc,
		Webhooks: webhookSvc,
		Wallets: service.NewWalletService(
			stores.Wallets, stores.Transactions, stores.Owners,
			stores.Idempotency, stores.IdempotencyCache,
			stores.Transactor, auditSvc, cfg.Ledger,
			logger.Component(log, "wallet"),
		),
		Ledger: coordinator,
		Gateway: service.NewPaymentGateway(
			stores.Cards, stores.Merchants, stores.Wallets,
			guard, coordinator,
			stores.Idempotency, stores.IdempotencyCache,
			auditSvc, cfg.Ledger,
			logger.Component(log, "gateway"),
		),
		Cards: service.NewCardService(
			stores.Cards, stores.Owners, hashSvc, stores.Transactor, auditSvc, cfg.Ledger,
			logger.Component(log, "cards"),
		),
		History:  service.NewHistoryService(stores.Transactions, stores.Wallets, stores.Cards),
		Merchant: service.NewMerchantService(stores.Merchants, encSvc, auditSvc),
	}, nil
}

// Router builds the HTTP API over svcs.
func Router(cfg *config.Config, svcs *Services, stores Stores, log zerolog.Logger) *gin.Engine {
	limiter := stores.RateLimiter
	if !cfg.RateLimit.Enabled {
		limiter = nil
	}
	apiDocs, err := os.ReadFile(cfg.Server.OpenAPIPath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Server.OpenAPIPath).Msg("API docs unavailable at /swagger")
	}
	return httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      svcs.Wallets,
		LedgerSvc:      svcs.Ledger,
		Gateway:        svcs.Gateway,
		CardSvc:        svcs.Cards,
		HistorySvc:     svcs.History,
		MerchantSvc:    svcs.Merchant,
		TokenSvc:       svcs.Tokens,
		RateLimiter:    limiter,
		AuditSvc:       svcs.Audit,
		HealthCheckers: stores.HealthCheckers,
		RequestTimeout: cfg.Server.RequestTimeout,
		OpenAPISpec:    apiDocs,
		Logger:         log,
	})
}

// App is the production stack: PostgreSQL, Redis and the wired services.
type App struct {
	Pool     *pgxpool.Pool
	Redis    *goredis.Client
	Stores   Stores
	Services *Services
}

// Open connects to PostgreSQL and Redis and wires the services.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, err
	}

	stores := Stores{
		Owners:           pgStorage.NewOwnerRepo(pool),
		Merchants:        pgStorage.NewMerchantRepo(pool),
		Wallets:          pgStorage.NewWalletRepo(pool),
		Transactions:     pgStorage.NewTransactionRepo(pool),
		Cards:            pgStorage.NewCardRepo(pool),
		Idempotency:      pgStorage.NewIdempotencyRepo(pool),
		Webhooks:         pgStorage.NewWebhookRepo(pool),
		Audit:            pgStorage.NewAuditRepo(pool),
		Transactor:       pgStorage.NewTransactor(pool),
		IdempotencyCache: redisStorage.NewIdempotencyCache(rdb),
		CardLock:         redisStorage.NewCardLock(rdb),
		RateLimiter:      redisStorage.NewRateLimitStore(rdb),
		HealthCheckers:   []ports.HealthChecker{pgStorage.NewHealthCheck(pool), redisStorage.NewHealthCheck(rdb)},
		HTTPClient:       &http.Client{Timeout: cfg.Webhook.Timeout},
	}

	svcs, err := Wire(cfg, stores, log)
	if err != nil {
		_ = rdb.Close()
		pool.Close()
		return nil, err
	}
	return &App{Pool: pool, Redis: rdb, Stores: stores, Services: svcs}, nil
}

// Close releases the database pool and the Redis client.
func (a *App) Close() {
	_ = a.Redis.Close()
	a.Pool.Close()
}
