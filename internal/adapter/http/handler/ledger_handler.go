package handler

import (
	"rfid-wallet-ledger/internal/adapter/http/dto"
	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/apperror"
	"rfid-wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// LedgerHandler handles peer transfers and refunds.
type LedgerHandler struct {
	ledger ports.LedgerService
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledger ports.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// Transfer handles POST /api/v1/transfers.
func (h *LedgerHandler) Transfer(c *gin.Context) {
	sender, ok := walletOwner(c)
	if !ok {
		return
	}

	var req dto.TransferRequest
	if !bindJSON(c, &req) {
		return
	}
	kind := domain.OwnerKind(req.RecipientKind)
	if kind == "" {
		kind = domain.OwnerKindCustomer
	}

	result, err := h.ledger.Transfer(c.Request.Context(), ports.TransferRequest{
		Sender:         sender,
		RecipientPhone: req.RecipientPhone,
		RecipientKind:  kind,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: idempotencyKey(c),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	created(c, result.Replayed, "Transfer successful", result)
}

// Refund handles POST /api/v1/payments/:id/refund. The id may be either leg.
func (h *LedgerHandler) Refund(c *gin.Context) {
	actor, ok := principal(c)
	if !ok {
		return
	}
	txID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("Transaction id must be a UUID"))
		return
	}

	var req dto.RefundRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	result, err := h.ledger.Refund(c.Request.Context(), ports.RefundRequest{
		Actor:          actor,
		TransactionID:  txID,
		Reason:         req.Reason,
		IdempotencyKey: idempotencyKey(c),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	created(c, result.Replayed, "Refund successful", result)
}
