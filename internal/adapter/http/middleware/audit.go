package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditDenied records write requests rejected with 401 or 403. Successful
// operations are audited by the services themselves.
func AuditDenied(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status != http.StatusUnauthorized && status != http.StatusForbidden {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}

		resourceType, resourceID := mapPathToResource(c)
		details, _ := json.Marshal(map[string]any{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": status,
		})

		entry := &domain.AuditLog{
			ID:           uuid.New(),
			Action:       domain.AuditActionAccessDenied,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		}
		if p, ok := PrincipalFrom(c); ok {
			id := p.ID
			entry.ActorID = &id
			entry.ActorKind = p.Kind
		}
		auditSvc.Log(c.Request.Context(), entry)
	}
}

func mapPathToResource(c *gin.Context) (string, string) {
	switch c.FullPath() {
	case "/api/v1/payments/card":
		return "transaction", ""
	case "/api/v1/payments/:id/refund":
		return "transaction", c.Param("id")
	case "/api/v1/transfers":
		return "transaction", ""
	case "/api/v1/wallets", "/api/v1/wallets/topup":
		return "wallet", ""
	case "/api/v1/cards", "/api/v1/cards/verify", "/api/v1/cards/balance":
		return "card", ""
	case "/api/v1/cards/:uid/deactivate", "/api/v1/cards/:uid/pin",
		"/api/v1/cards/:uid/pin/reset", "/api/v1/cards/:uid/unlock":
		return "card", c.Param("uid")
	case "/api/v1/merchants/me/webhook", "/api/v1/merchants/me/webhook/rotate-secret":
		return "merchant", ""
	}
	return "request", ""
}
