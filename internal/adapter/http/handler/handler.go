package handler

import (
	"errors"
	"fmt"
	"strings"

	"rfid-wallet-ledger/internal/adapter/http/dto"
	"rfid-wallet-ledger/internal/adapter/http/middleware"
	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/apperror"
	"rfid-wallet-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// HeaderIdempotencyKey carries the client's retry key on money-moving requests.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// principal returns the caller, writing AUTH_001 when the route is unauthenticated.
func principal(c *gin.Context) (domain.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
	}
	return p, ok
}

// walletOwner maps a customer or merchant caller to their own wallet.
// Admins hold no wallet.
func walletOwner(c *gin.Context) (domain.OwnerRef, bool) {
	p, ok := principal(c)
	if !ok {
		return domain.OwnerRef{}, false
	}
	kind, ok := p.OwnerKind()
	if !ok {
		response.Error(c, apperror.ErrForbidden())
		return domain.OwnerRef{}, false
	}
	return domain.OwnerRef{Kind: kind, ID: p.ID}, true
}

// bindJSON binds and sanitizes the body, writing the error response on failure.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, bindError(err))
		return false
	}
	dto.SanitizeStruct(req)
	return true
}

// bindError reports a malformed PIN as VAL_003 and anything else as VAL_001.
func bindError(err error) *apperror.AppError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		for _, fe := range verrs {
			if fe.Tag() == "pin" {
				return apperror.ErrInvalidPinFormat()
			}
		}
		fe := verrs[0]
		return apperror.Validation(fmt.Sprintf("Field '%s' failed validation '%s'", fe.Field(), fe.Tag()))
	}
	return apperror.Validation(err.Error())
}

func idempotencyKey(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
}

// created answers 201 for a new movement and 200 for an idempotent replay.
func created(c *gin.Context, replayed bool, message string, data any) {
	if replayed {
		c.Header(HeaderReplayed, "true")
		response.OKMessage(c, message, data)
		return
	}
	response.Created(c, message, data)
}

func historyParams(c *gin.Context) (ports.HistoryParams, bool) {
	var q dto.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, bindError(err))
		return ports.HistoryParams{}, false
	}
	params := ports.HistoryParams{Page: q.Page, PageSize: q.PageSize}
	if q.Kind != "" {
		k := domain.TransactionKind(q.Kind)
		params.Kind = &k
	}
	if q.Status != "" {
		s := domain.TransactionStatus(q.Status)
		params.Status = &s
	}
	return params, true
}
