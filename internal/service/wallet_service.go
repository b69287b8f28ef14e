package service

import (
	"context"
	"errors"
	"time"

	"rfid-wallet-ledger/config"
	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// WalletServiceImpl implements ports.WalletService.
type WalletServiceImpl struct {
	wallets    ports.WalletRepository
	txns       ports.TransactionRepository
	owners     ports.OwnerRepository
	transactor ports.DBTransactor
	idem       *idempotencyStore
	audit      ports.AuditService
	retry      retryPolicy
	cfg        config.LedgerConfig
	now        func() time.Time
	log        zerolog.Logger
}

var _ ports.WalletService = (*WalletServiceImpl)(nil)

// NewWalletService creates a new wallet service.
func NewWalletService(
	wallets ports.WalletRepository,
	txns ports.TransactionRepository,
	owners ports.OwnerRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	transactor ports.DBTransactor,
	audit ports.AuditService,
	cfg config.LedgerConfig,
	log zerolog.Logger,
) *WalletServiceImpl {
	return &WalletServiceImpl{
		wallets:    wallets,
		txns:       txns,
		owners:     owners,
		transactor: transactor,
		idem:       newIdempotencyStore(idempRepo, idempCache, cfg.IdempotencyTTL, log),
		audit:      audit,
		retry:      newRetryPolicy(cfg.MaxAttempts, cfg.RetryBaseDelay),
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log,
	}
}

// CreateWallet opens the owner's single wallet with a zero balance.
func (s *WalletServiceImpl) CreateWallet(ctx context.Context, owner domain.OwnerRef) (*domain.Wallet, error) {
	if !owner.Kind.Valid() {
		return nil, apperror.Validation("Unknown owner kind")
	}
	existing, err := s.owners.Get(ctx, owner)
	if err != nil {
		return nil, storageErr("get owner", err)
	}
	if existing == nil {
		return nil, apperror.ErrUserNotFound()
	}

	now := s.now()
	wallet := &domain.Wallet{
		ID:        uuid.New(),
		OwnerID:   owner.ID,
		OwnerKind: owner.Kind,
		Currency:  s.cfg.Currency,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.wallets.Create(ctx, wallet); err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			return nil, apperror.ErrWalletExists()
		}
		return nil, storageErr("create wallet", err)
	}

	s.log.Info().
		Str("wallet_id", wallet.ID.String()).
		Str("owner_id", owner.ID.String()).
		Str("owner_kind", string(owner.Kind)).
		Msg("wallet created")

	actor := principalFor(owner)
	s.audit.Log(ctx, auditEntry(&actor, domain.AuditActionCreateWallet, "wallet", wallet.ID.String(), "", nil))
	return wallet, nil
}

// GetBalance returns the owner's current balance.
func (s *WalletServiceImpl) GetBalance(ctx context.Context, owner domain.OwnerRef) (*ports.BalanceResult, error) {
	wallet, err := s.wallets.GetByOwner(ctx, owner)
	if err != nil {
		return nil, storageErr("get wallet", err)
	}
	if wallet == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	return &ports.BalanceResult{WalletID: wallet.ID, Balance: wallet.Balance, Currency: wallet.Currency}, nil
}

// FindOwnerByPhone searches customers first, then merchants.
func (s *WalletServiceImpl) FindOwnerByPhone(ctx context.Context, phone string) (*domain.OwnerLookup, error) {
	variants := domain.PhoneVariants(phone)
	if variants == nil {
		return nil, apperror.Validation("Phone number is required")
	}

	for _, kind := range []domain.OwnerKind{domain.OwnerKindCustomer, domain.OwnerKindMerchant} {
		owner, err := s.owners.FindByPhone(ctx, kind, variants)
		if err != nil {
			return nil, storageErr("find owner by phone", err)
		}
		if owner == nil {
			continue
		}
		wallet, err := s.wallets.GetByOwner(ctx, owner.Ref)
		if err != nil {
			return nil, storageErr("get wallet", err)
		}
		return &domain.OwnerLookup{
			Owner:           *owner,
			HasActiveWallet: wallet != nil && wallet.IsActive,
		}, nil
	}
	return nil, apperror.ErrUserNotFound()
}

// TopUp credits the owner's wallet from outside the ledger.
func (s *WalletServiceImpl) TopUp(ctx context.Context, req ports.TopUpRequest) (*ports.TopUpResult, error) {
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.Amount < s.cfg.MinTopUp {
		return nil, apperror.ErrBelowMinimum(s.cfg.MinTopUp)
	}

	key := idempotencyKey(req.Owner.ID, domain.OpTopUp, req.IdempotencyKey)
	var prior ports.TopUpResult
	found, err := s.idem.lookup(ctx, key, &prior)
	if err != nil {
		return nil, err
	}
	if found {
		prior.Replayed = true
		return &prior, nil
	}

	var (
		result *ports.TopUpResult
		body   []byte
	)
	err = withConflictRetry(ctx, s.retry, s.log, domain.OpTopUp, func(ctx context.Context) error {
		return inTx(ctx, s.transactor, func(tx pgx.Tx) error {
			wallet, err := s.wallets.GetByOwnerTx(ctx, tx, req.Owner)
			if err != nil {
				return storageErr("get wallet", err)
			}
			if wallet == nil {
				return apperror.ErrWalletNotFound()
			}
			if !wallet.IsActive {
				return apperror.ErrWalletInactive()
			}

			now := s.now()
			ref := domain.NewReference(domain.RefPrefixTopUp, now)
			credit := &domain.Transaction{
				ID:             uuid.New(),
				Reference:      ref,
				GroupReference: ref,
				WalletID:       wallet.ID,
				Amount:         req.Amount,
				Kind:           domain.TransactionKindCredit,
				Description:    "Wallet top-up",
				Status:         domain.TransactionStatusCompleted,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.txns.Create(ctx, tx, credit); err != nil {
				return storageErr("insert top-up", err)
			}
			if err := s.wallets.ApplyDelta(ctx, tx, wallet, req.Amount, ref); err != nil {
				return storageErr("credit wallet", err)
			}

			result = &ports.TopUpResult{
				Reference:     ref,
				TransactionID: credit.ID,
				Amount:        req.Amount,
				Balance:       wallet.Balance,
				Currency:      wallet.Currency,
				CreatedAt:     now,
			}
			body, err = s.idem.save(ctx, tx, key, credit.ID, result)
			return err
		})
	})
	if err != nil {
		if replayed, ok := replayAfterRace(ctx, s.idem, key, err, &ports.TopUpResult{}); ok {
			return replayed.(*ports.TopUpResult), nil
		}
		return nil, err
	}

	s.idem.remember(ctx, key, body)

	s.log.Info().
		Str("reference", result.Reference).
		Str("owner_id", req.Owner.ID.String()).
		Int64("amount", req.Amount).
		Int64("balance", result.Balance).
		Msg("wallet topped up")

	actor := principalFor(req.Owner)
	s.audit.Log(ctx, auditEntry(&actor, domain.AuditActionTopUp, "wallet", result.Reference, req.ClientIP,
		map[string]any{"amount": req.Amount}))
	return result, nil
}
