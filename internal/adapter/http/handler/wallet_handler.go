package handler

import (
	"rfid-wallet-ledger/internal/adapter/http/dto"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/apperror"
	"rfid-wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler handles the caller's own wallet.
type WalletHandler struct {
	wallets ports.WalletService
	history ports.HistoryService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(wallets ports.WalletService, history ports.HistoryService) *WalletHandler {
	return &WalletHandler{wallets: wallets, history: history}
}

// Create handles POST /api/v1/wallets.
func (h *WalletHandler) Create(c *gin.Context) {
	owner, ok := walletOwner(c)
	if !ok {
		return
	}

	wallet, err := h.wallets.CreateWallet(c.Request.Context(), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "Wallet created", dto.NewWalletResponse(wallet))
}

// GetBalance handles GET /api/v1/wallets/balance.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	owner, ok := walletOwner(c)
	if !ok {
		return
	}

	balance, err := h.wallets.GetBalance(c.Request.Context(), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, balance)
}

// TopUp handles POST /api/v1/wallets/topup.
func (h *WalletHandler) TopUp(c *gin.Context) {
	owner, ok := walletOwner(c)
	if !ok {
		return
	}

	var req dto.TopUpRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.wallets.TopUp(c.Request.Context(), ports.TopUpRequest{
		Owner:          owner,
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(c),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	created(c, result.Replayed, "Wallet topped up", result)
}

// Transactions handles GET /api/v1/wallets/transactions.
func (h *WalletHandler) Transactions(c *gin.Context) {
	owner, ok := walletOwner(c)
	if !ok {
		return
	}
	params, ok := historyParams(c)
	if !ok {
		return
	}

	page, err := h.history.WalletHistory(c.Request.Context(), owner, params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, page)
}

// Stats handles GET /api/v1/wallets/stats.
func (h *WalletHandler) Stats(c *gin.Context) {
	owner, ok := walletOwner(c)
	if !ok {
		return
	}

	stats, err := h.history.WalletStats(c.Request.Context(), owner)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// LookupOwner handles GET /api/v1/owners/lookup?phone=.
func (h *WalletHandler) LookupOwner(c *gin.Context) {
	phone := c.Query("phone")
	if phone == "" {
		response.Error(c, apperror.Validation("Query parameter 'phone' is required"))
		return
	}

	lookup, err := h.wallets.FindOwnerByPhone(c.Request.Context(), phone)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, lookup)
}
