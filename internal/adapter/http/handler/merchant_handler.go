package handler

import (
	"rfid-wallet-ledger/internal/adapter/http/dto"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// MerchantHandler handles merchant webhook settings.
type MerchantHandler struct {
	merchantSvc ports.MerchantService
}

// NewMerchantHandler creates a new merchant handler.
func NewMerchantHandler(merchantSvc ports.MerchantService) *MerchantHandler {
	return &MerchantHandler{merchantSvc: merchantSvc}
}

// GetWebhook returns the authenticated merchant's webhook settings.
func (h *MerchantHandler) GetWebhook(c *gin.Context) {
	merchant, ok := principal(c)
	if !ok {
		return
	}

	settings, err := h.merchantSvc.GetWebhook(c.Request.Context(), merchant.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, settings)
}

// UpdateWebhook sets or clears the merchant's webhook URL.
func (h *MerchantHandler) UpdateWebhook(c *gin.Context) {
	merchant, ok := principal(c)
	if !ok {
		return
	}

	var req dto.UpdateWebhookRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.merchantSvc.UpdateWebhook(c.Request.Context(), merchant.ID, req.WebhookURL); err != nil {
		response.Error(c, err)
		return
	}
	response.OKMessage(c, "Webhook URL updated", nil)
}

// RotateSecret issues a new webhook signing secret.
func (h *MerchantHandler) RotateSecret(c *gin.Context) {
	merchant, ok := principal(c)
	if !ok {
		return
	}

	secret, err := h.merchantSvc.RotateWebhookSecret(c.Request.Context(), merchant.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OKMessage(c, "Store this secret now; it will not be shown again",
		dto.RotateSecretResponse{WebhookSecret: secret})
}
