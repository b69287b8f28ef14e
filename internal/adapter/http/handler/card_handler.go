package handler

import (
	"rfid-wallet-ledger/internal/adapter/http/dto"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/apperror"
	"rfid-wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CardHandler handles card issuance, lifecycle and PIN management.
type CardHandler struct {
	cards   ports.CardService
	gateway ports.PaymentGateway
	history ports.HistoryService
}

// NewCardHandler creates a new CardHandler.
func NewCardHandler(cards ports.CardService, gateway ports.PaymentGateway, history ports.HistoryService) *CardHandler {
	return &CardHandler{cards: cards, gateway: gateway, history: history}
}

// Assign handles POST /api/v1/cards.
func (h *CardHandler) Assign(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	var req dto.AssignCardRequest
	if !bindJSON(c, &req) {
		return
	}
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		response.Error(c, apperror.Validation("customer_id must be a UUID"))
		return
	}

	card, err := h.cards.Assign(c.Request.Context(), actor, ports.AssignCardRequest{
		CustomerID: customerID,
		CardUID:    req.CardUID,
		Pin:        req.Pin,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "Card assigned", dto.NewCardResponse(card))
}

// ListByCustomer handles GET /api/v1/customers/:id/cards.
func (h *CardHandler) ListByCustomer(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}
	customerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("Customer id must be a UUID"))
		return
	}

	cards, err := h.cards.ListByCustomer(c.Request.Context(), actor, customerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]dto.CardResponse, 0, len(cards))
	for i := range cards {
		out = append(out, dto.NewCardResponse(&cards[i]))
	}
	response.OK(c, out)
}

// Deactivate handles POST /api/v1/cards/:uid/deactivate.
func (h *CardHandler) Deactivate(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	var req dto.DeactivateCardRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	card, err := h.cards.Deactivate(c.Request.Context(), actor, c.Param("uid"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OKMessage(c, "Card deactivated", dto.NewCardResponse(card))
}

// ChangePin handles PUT /api/v1/cards/:uid/pin.
func (h *CardHandler) ChangePin(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	var req dto.ChangePinRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.gateway.ChangePin(c.Request.Context(), actor, c.Param("uid"), req.CurrentPin, req.NewPin); err != nil {
		response.Error(c, err)
		return
	}
	response.OKMessage(c, "PIN changed", nil)
}

// ResetPin handles POST /api/v1/cards/:uid/pin/reset.
func (h *CardHandler) ResetPin(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	var req dto.ResetPinRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.gateway.AdminResetPin(c.Request.Context(), actor, c.Param("uid"), req.NewPin); err != nil {
		response.Error(c, err)
		return
	}
	response.OKMessage(c, "PIN reset; the holder must change it before paying", nil)
}

// Unlock handles POST /api/v1/cards/:uid/unlock.
func (h *CardHandler) Unlock(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}

	if err := h.gateway.Unlock(c.Request.Context(), actor, c.Param("uid")); err != nil {
		response.Error(c, err)
		return
	}
	response.OKMessage(c, "Card unlocked", nil)
}

// Transactions handles GET /api/v1/cards/:uid/transactions.
func (h *CardHandler) Transactions(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}
	params, ok := historyParams(c)
	if !ok {
		return
	}

	page, err := h.history.CardHistory(c.Request.Context(), actor, c.Param("uid"), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, page)
}
