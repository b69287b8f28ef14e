package handler

import (
	"rfid-wallet-ledger/internal/adapter/http/dto"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// PaymentHandler handles the card terminal endpoints.
type PaymentHandler struct {
	gateway ports.PaymentGateway
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(gateway ports.PaymentGateway) *PaymentHandler {
	return &PaymentHandler{gateway: gateway}
}

// PayByCard handles POST /api/v1/payments/card. The caller is the merchant.
func (h *PaymentHandler) PayByCard(c *gin.Context) {
	merchant, ok := principal(c)
	if !ok {
		return
	}

	var req dto.CardPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.gateway.PayByCard(c.Request.Context(), ports.CardPaymentRequest{
		MerchantID:     merchant.ID,
		CardUID:        req.CardUID,
		Pin:            req.Pin,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: idempotencyKey(c),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	created(c, result.Replayed, "Payment successful", result)
}

// VerifyCard handles POST /api/v1/cards/verify.
func (h *PaymentHandler) VerifyCard(c *gin.Context) {
	var req dto.VerifyCardRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.gateway.VerifyCard(c.Request.Context(), ports.VerifyCardRequest{
		CardUID: req.CardUID,
		Pin:     req.Pin,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// CardBalance handles POST /api/v1/cards/balance.
func (h *PaymentHandler) CardBalance(c *gin.Context) {
	var req dto.CardBalanceRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.gateway.CheckCardBalance(c.Request.Context(), req.CardUID, req.Pin)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
