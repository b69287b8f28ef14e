package handler

import (
	"time"

	"rfid-wallet-ledger/internal/adapter/http/middleware"
	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	LedgerSvc      ports.LedgerService
	Gateway        ports.PaymentGateway
	CardSvc        ports.CardService
	HistorySvc     ports.HistoryService
	MerchantSvc    ports.MerchantService
	TokenSvc       ports.TokenService
	RateLimiter    ports.RateLimiter  // nil = rate limiting disabled
	AuditSvc       ports.AuditService // nil = denied-access auditing disabled
	HealthCheckers []ports.HealthChecker
	RequestTimeout time.Duration // zero = no per-request deadline
	OpenAPISpec    []byte        // nil = /swagger/spec answers 404
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit
	if deps.RequestTimeout > 0 {
		r.Use(middleware.Timeout(deps.RequestTimeout))
	}
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditDenied(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	docs := newAPIDocs(deps.OpenAPISpec)
	r.GET("/swagger", docs.page)
	r.GET("/swagger/spec", docs.spec)

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimiter == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimiter, group, rule, deps.Logger)
	}

	holders := middleware.RequireKind(domain.PrincipalCustomer, domain.PrincipalMerchant)
	merchantOnly := middleware.RequireKind(domain.PrincipalMerchant)
	adminOnly := middleware.RequireKind(domain.PrincipalAdmin)

	walletHandler := NewWalletHandler(deps.WalletSvc, deps.HistorySvc)
	ledgerHandler := NewLedgerHandler(deps.LedgerSvc)
	paymentHandler := NewPaymentHandler(deps.Gateway)
	cardHandler := NewCardHandler(deps.CardSvc, deps.Gateway, deps.HistorySvc)
	merchantHandler := NewMerchantHandler(deps.MerchantSvc)

	// Every API route needs a bearer token.
	v1 := r.Group("/api/v1", middleware.JWTAuth(deps.TokenSvc, deps.Logger))

	wallets := v1.Group("/wallets", holders)
	{
		wallets.POST("", rl("read"), walletHandler.Create)
		wallets.GET("/balance", rl("read"), walletHandler.GetBalance)
		wallets.POST("/topup", rl("topups"), walletHandler.TopUp)
		wallets.GET("/transactions", rl("read"), walletHandler.Transactions)
		wallets.GET("/stats", rl("read"), walletHandler.Stats)
	}

	v1.GET("/owners/lookup", rl("lookup"), walletHandler.LookupOwner)
	v1.POST("/transfers", holders, rl("transfers"), ledgerHandler.Transfer)

	payments := v1.Group("/payments")
	{
		payments.POST("/card", merchantOnly, rl("payments"), paymentHandler.PayByCard)
		payments.POST("/:id/refund", rl("refunds"), ledgerHandler.Refund)
	}

	cards := v1.Group("/cards")
	{
		cards.POST("", adminOnly, rl("cards"), cardHandler.Assign)
		cards.POST("/verify", rl("cards"), paymentHandler.VerifyCard)
		cards.POST("/balance", rl("cards"), paymentHandler.CardBalance)
		cards.POST("/:uid/deactivate", rl("cards"), cardHandler.Deactivate)
		cards.PUT("/:uid/pin", rl("cards"), cardHandler.ChangePin)
		cards.POST("/:uid/pin/reset", adminOnly, rl("cards"), cardHandler.ResetPin)
		cards.POST("/:uid/unlock", adminOnly, rl("cards"), cardHandler.Unlock)
		cards.GET("/:uid/transactions", rl("read"), cardHandler.Transactions)
	}

	v1.GET("/customers/:id/cards", rl("read"), cardHandler.ListByCustomer)

	merchants := v1.Group("/merchants/me", merchantOnly)
	{
		merchants.GET("/webhook", rl("read"), merchantHandler.GetWebhook)
		merchants.PUT("/webhook", rl("read"), merchantHandler.UpdateWebhook)
		merchants.POST("/webhook/rotate-secret", rl("read"), merchantHandler.RotateSecret)
	}

	return r
}
