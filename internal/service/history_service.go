package service

import (
	"context"
	"strings"

	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/apperror"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// historyService implements ports.HistoryService.
type historyService struct {
	txns    ports.TransactionRepository
	wallets ports.WalletRepository
	cards   ports.CardRepository
}

// NewHistoryService creates a new history service.
func NewHistoryService(
	txns ports.TransactionRepository,
	wallets ports.WalletRepository,
	cards ports.CardRepository,
) ports.HistoryService {
	return &historyService{
		txns:    txns,
		wallets: wallets,
		cards:   cards,
	}
}

// WalletHistory returns the owner's transactions, newest first.
func (s *historyService) WalletHistory(ctx context.Context, owner domain.OwnerRef, params ports.HistoryParams) (*ports.HistoryPage, error) {
	wallet, err := s.wallet(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.page(ctx, ports.TransactionListParams{
		WalletID: wallet.ID,
		Kind:     params.Kind,
		Status:   params.Status,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

// CardHistory returns the transactions made with one card.
func (s *historyService) CardHistory(ctx context.Context, actor domain.Principal, cardUID string, params ports.HistoryParams) (*ports.HistoryPage, error) {
	card, err := s.cards.GetByUID(ctx, strings.TrimSpace(cardUID))
	if err != nil {
		return nil, storageErr("get card", err)
	}
	if card == nil {
		return nil, apperror.ErrNotFound("Card")
	}
	if !canManageCards(actor, card.CustomerID) {
		return nil, apperror.ErrForbidden()
	}

	wallet, err := s.wallet(ctx, domain.OwnerRef{Kind: domain.OwnerKindCustomer, ID: card.CustomerID})
	if err != nil {
		return nil, err
	}
	cardID := card.ID
	return s.page(ctx, ports.TransactionListParams{
		WalletID: wallet.ID,
		CardID:   &cardID,
		Kind:     params.Kind,
		Status:   params.Status,
		Page:     params.Page,
		PageSize: params.PageSize,
	})
}

// WalletStats returns counts and sums over the owner's ledger entries.
func (s *historyService) WalletStats(ctx context.Context, owner domain.OwnerRef) (*ports.TransactionStats, error) {
	wallet, err := s.wallet(ctx, owner)
	if err != nil {
		return nil, err
	}
	stats, err := s.txns.GetStats(ctx, wallet.ID)
	if err != nil {
		return nil, storageErr("get stats", err)
	}
	return stats, nil
}

func (s *historyService) wallet(ctx context.Context, owner domain.OwnerRef) (*domain.Wallet, error) {
	wallet, err := s.wallets.GetByOwner(ctx, owner)
	if err != nil {
		return nil, storageErr("get wallet", err)
	}
	if wallet == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	return wallet, nil
}

func (s *historyService) page(ctx context.Context, params ports.TransactionListParams) (*ports.HistoryPage, error) {
	params.Page, params.PageSize = normalizePage(params.Page, params.PageSize)

	txns, total, err := s.txns.List(ctx, params)
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}

	totalPages := int((total + int64(params.PageSize) - 1) / int64(params.PageSize))
	return &ports.HistoryPage{
		Transactions: txns,
		Total:        total,
		Page:         params.Page,
		PageSize:     params.PageSize,
		TotalPages:   totalPages,
	}, nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}
	return page, size
}
