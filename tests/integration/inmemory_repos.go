package integration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// memDB is an in-memory stand-in for the ledger schema. Transactions buffer
// their writes and validate row versions at commit, so concurrent requests
// conflict the way version-conditional UPDATEs do in PostgreSQL.
type memDB struct {
	mu        sync.Mutex
	customers map[uuid.UUID]domain.Customer
	merchants map[uuid.UUID]domain.Merchant
	wallets   map[uuid.UUID]domain.Wallet
	txns      map[uuid.UUID]domain.Transaction
	txnSeq    map[uuid.UUID]int
	cards     map[uuid.UUID]domain.RfidCard
	idem      map[string]domain.IdempotencyLog
	webhooks  map[uuid.UUID]domain.WebhookDeliveryLog
	audits    []domain.AuditLog
	seq       int
}

func newMemDB() *memDB {
	return &memDB{
		customers: make(map[uuid.UUID]domain.Customer),
		merchants: make(map[uuid.UUID]domain.Merchant),
		wallets:   make(map[uuid.UUID]domain.Wallet),
		txns:      make(map[uuid.UUID]domain.Transaction),
		txnSeq:    make(map[uuid.UUID]int),
		cards:     make(map[uuid.UUID]domain.RfidCard),
		idem:      make(map[string]domain.IdempotencyLog),
		webhooks:  make(map[uuid.UUID]domain.WebhookDeliveryLog),
	}
}

func copyWallet(w domain.Wallet) *domain.Wallet {
	w.TransactionRefs = slices.Clone(w.TransactionRefs)
	return &w
}

// totalBalance sums every wallet. Money only moves between wallets, so the
// total changes by top-ups alone.
func (db *memDB) totalBalance() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	var total int64
	for _, w := range db.wallets {
		total += w.Balance
	}
	return total
}

// ledgerSum sums every committed leg of one wallet.
func (db *memDB) ledgerSum(walletID uuid.UUID) int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	var sum int64
	for _, t := range db.txns {
		if t.WalletID == walletID {
			sum += t.Amount
		}
	}
	return sum
}

func (db *memDB) auditActions() []domain.AuditAction {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]domain.AuditAction, 0, len(db.audits))
	for _, a := range db.audits {
		out = append(out, a.Action)
	}
	return out
}

// ==================== Transactions ====================

type walletWrite struct {
	base int64
	next domain.Wallet
}

type cardWrite struct {
	base   int64
	insert bool
	next   domain.RfidCard
}

// memTx implements pgx.Tx over memDB.
type memTx struct {
	db       *memDB
	wallets  map[uuid.UUID]*walletWrite
	inserts  []domain.Transaction
	refunded map[uuid.UUID]bool
	cards    map[uuid.UUID]*cardWrite
	idem     []domain.IdempotencyLog
	closed   bool
}

type memTransactor struct {
	db *memDB
}

func (t *memTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memTx{
		db:       t.db,
		wallets:  make(map[uuid.UUID]*walletWrite),
		refunded: make(map[uuid.UUID]bool),
		cards:    make(map[uuid.UUID]*cardWrite),
	}, nil
}

func asMemTx(tx pgx.Tx) *memTx {
	mt, ok := tx.(*memTx)
	if !ok {
		panic(fmt.Sprintf("unexpected tx type %T", tx))
	}
	return mt
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true

	db := t.db
	db.mu.Lock()
	defer db.mu.Unlock()

	for id, w := range t.wallets {
		if db.wallets[id].Version != w.base {
			return fmt.Errorf("commit wallet %s: %w", id, ports.ErrConflict)
		}
	}
	for id := range t.refunded {
		if db.txns[id].Status != domain.TransactionStatusCompleted {
			return fmt.Errorf("commit refund mark %s: %w", id, ports.ErrConflict)
		}
	}
	for id, c := range t.cards {
		if c.insert {
			if err := db.checkCardInsert(&c.next, t.cards); err != nil {
				return err
			}
			continue
		}
		if db.cards[id].Version != c.base {
			return fmt.Errorf("commit card %s: %w", id, ports.ErrConflict)
		}
	}
	for _, l := range t.idem {
		if _, ok := db.idem[l.Key]; ok {
			return fmt.Errorf("commit idempotency log: %w", ports.ErrDuplicate)
		}
	}

	for id, w := range t.wallets {
		db.wallets[id] = w.next
	}
	for _, txn := range t.inserts {
		if t.refunded[txn.ID] {
			txn.Status = domain.TransactionStatusRefunded
		}
		db.seq++
		db.txns[txn.ID] = txn
		db.txnSeq[txn.ID] = db.seq
	}
	for id := range t.refunded {
		if txn, ok := db.txns[id]; ok && txn.Status == domain.TransactionStatusCompleted {
			txn.Status = domain.TransactionStatusRefunded
			db.txns[id] = txn
		}
	}
	for id, c := range t.cards {
		db.cards[id] = c.next
	}
	for _, l := range t.idem {
		db.idem[l.Key] = l
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	return nil
}

func (t *memTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, errors.New("nested tx unsupported") }
func (t *memTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *memTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *memTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *memTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *memTx) Conn() *pgx.Conn                                               { return nil }

// ==================== Owners ====================

type memOwnerRepo struct{ db *memDB }

func (r *memOwnerRepo) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.customers {
		if existing.Phone == c.Phone {
			return fmt.Errorf("insert customer: %w", ports.ErrDuplicate)
		}
	}
	r.db.customers[c.ID] = *c
	return nil
}

func (r *memOwnerRepo) CreateMerchant(ctx context.Context, m *domain.Merchant) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.merchants {
		if existing.Phone == m.Phone {
			return fmt.Errorf("insert merchant: %w", ports.ErrDuplicate)
		}
	}
	r.db.merchants[m.ID] = *m
	return nil
}

func (r *memOwnerRepo) Get(ctx context.Context, ref domain.OwnerRef) (*domain.Owner, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	switch ref.Kind {
	case domain.OwnerKindCustomer:
		if c, ok := r.db.customers[ref.ID]; ok {
			return &domain.Owner{Ref: ref, Name: c.FullName, Phone: c.Phone, Email: c.Email}, nil
		}
	case domain.OwnerKindMerchant:
		if m, ok := r.db.merchants[ref.ID]; ok {
			return &domain.Owner{Ref: ref, Name: m.BusinessName, Phone: m.Phone, Email: m.Email}, nil
		}
	}
	return nil, nil
}

func (r *memOwnerRepo) FindByPhone(ctx context.Context, kind domain.OwnerKind, variants []string) (*domain.Owner, error) {
	r.db.mu.Lock()
	var ref *domain.OwnerRef
	switch kind {
	case domain.OwnerKindCustomer:
		for _, c := range r.db.customers {
			if slices.Contains(variants, c.Phone) {
				ref = &domain.OwnerRef{Kind: kind, ID: c.ID}
			}
		}
	case domain.OwnerKindMerchant:
		for _, m := range r.db.merchants {
			if slices.Contains(variants, m.Phone) {
				ref = &domain.OwnerRef{Kind: kind, ID: m.ID}
			}
		}
	}
	r.db.mu.Unlock()
	if ref == nil {
		return nil, nil
	}
	return r.Get(ctx, *ref)
}

// ==================== Merchants ====================

type memMerchantRepo struct{ db *memDB }

func (r *memMerchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.merchants[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *memMerchantRepo) Update(ctx context.Context, m *domain.Merchant) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.merchants[m.ID]; !ok {
		return fmt.Errorf("merchant %s not found", m.ID)
	}
	m.UpdatedAt = time.Now().UTC()
	r.db.merchants[m.ID] = *m
	return nil
}

// ==================== Wallets ====================

type memWalletRepo struct{ db *memDB }

func (r *memWalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.wallets {
		if existing.Owner() == w.Owner() {
			return fmt.Errorf("insert wallet: %w", ports.ErrDuplicate)
		}
	}
	r.db.wallets[w.ID] = *copyWallet(*w)
	return nil
}

func (r *memWalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	w, ok := r.db.wallets[id]
	if !ok {
		return nil, nil
	}
	return copyWallet(w), nil
}

func (r *memWalletRepo) GetByOwner(ctx context.Context, owner domain.OwnerRef) (*domain.Wallet, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, w := range r.db.wallets {
		if w.Owner() == owner {
			return copyWallet(w), nil
		}
	}
	return nil, nil
}

func (r *memWalletRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	if w, ok := asMemTx(tx).wallets[id]; ok {
		return copyWallet(w.next), nil
	}
	return r.GetByID(ctx, id)
}

func (r *memWalletRepo) GetByOwnerTx(ctx context.Context, tx pgx.Tx, owner domain.OwnerRef) (*domain.Wallet, error) {
	for _, w := range asMemTx(tx).wallets {
		if w.next.Owner() == owner {
			return copyWallet(w.next), nil
		}
	}
	return r.GetByOwner(ctx, owner)
}

func (r *memWalletRepo) ApplyDelta(ctx context.Context, tx pgx.Tx, w *domain.Wallet, delta int64, reference string) error {
	mt := asMemTx(tx)
	pending, ok := mt.wallets[w.ID]
	if !ok {
		r.db.mu.Lock()
		current, found := r.db.wallets[w.ID]
		r.db.mu.Unlock()
		if !found {
			return fmt.Errorf("update wallet %s: %w", w.ID, ports.ErrConflict)
		}
		pending = &walletWrite{base: current.Version, next: *copyWallet(current)}
	}
	if pending.next.Version != w.Version {
		return fmt.Errorf("update wallet %s at version %d: %w", w.ID, w.Version, ports.ErrConflict)
	}
	if pending.next.Balance+delta < 0 {
		return fmt.Errorf("update wallet balance: balance check violated for %s", w.ID)
	}

	pending.next.Balance += delta
	pending.next.Version++
	pending.next.TransactionRefs = append(pending.next.TransactionRefs, reference)
	pending.next.UpdatedAt = time.Now().UTC()
	mt.wallets[w.ID] = pending

	w.Balance = pending.next.Balance
	w.Version = pending.next.Version
	w.UpdatedAt = pending.next.UpdatedAt
	w.TransactionRefs = append(w.TransactionRefs, reference)
	return nil
}

// ==================== Ledger entries ====================

type memTransactionRepo struct{ db *memDB }

func (r *memTransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	mt := asMemTx(tx)
	mt.inserts = append(mt.inserts, *t)
	return nil
}

func (r *memTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.txns[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// visible returns the committed entries overlaid with tx's own writes.
func (r *memTransactionRepo) visible(mt *memTx) []domain.Transaction {
	r.db.mu.Lock()
	out := make([]domain.Transaction, 0, len(r.db.txns)+len(mt.inserts))
	for _, t := range r.db.txns {
		out = append(out, t)
	}
	r.db.mu.Unlock()
	out = append(out, mt.inserts...)
	for i := range out {
		if mt.refunded[out[i].ID] {
			out[i].Status = domain.TransactionStatusRefunded
		}
	}
	return out
}

func (r *memTransactionRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	for _, t := range r.visible(asMemTx(tx)) {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, nil
}

func (r *memTransactionRepo) ListByGroupTx(ctx context.Context, tx pgx.Tx, groupReference string) ([]domain.Transaction, error) {
	var legs []domain.Transaction
	for _, t := range r.visible(asMemTx(tx)) {
		if t.GroupReference == groupReference {
			legs = append(legs, t)
		}
	}
	sort.Slice(legs, func(i, j int) bool { return legs[i].Amount < legs[j].Amount })
	return legs, nil
}

func (r *memTransactionRepo) FindRefundTx(ctx context.Context, tx pgx.Tx, originalID uuid.UUID) (*domain.Transaction, error) {
	for _, t := range r.visible(asMemTx(tx)) {
		orig := t.Metadata.OriginalTransactionID
		if t.Kind == domain.TransactionKindRefund && orig != nil && *orig == originalID {
			return &t, nil
		}
	}
	return nil, nil
}

func (r *memTransactionRepo) MarkRefundedTx(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error {
	mt := asMemTx(tx)
	for _, id := range ids {
		t, err := r.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if t == nil || t.Status != domain.TransactionStatusCompleted {
			return fmt.Errorf("mark refunded %s: %w", id, ports.ErrConflict)
		}
	}
	for _, id := range ids {
		mt.refunded[id] = true
	}
	return nil
}

func (r *memTransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	r.db.mu.Lock()
	var result []domain.Transaction
	for _, t := range r.db.txns {
		if t.WalletID != params.WalletID {
			continue
		}
		if params.CardID != nil && (t.Metadata.CardID == nil || *t.Metadata.CardID != *params.CardID) {
			continue
		}
		if params.Status != nil && t.Status != *params.Status {
			continue
		}
		if params.Kind != nil && t.Kind != *params.Kind {
			continue
		}
		result = append(result, t)
	}
	seq := r.db.txnSeq
	sort.Slice(result, func(i, j int) bool { return seq[result[i].ID] > seq[result[j].ID] })
	r.db.mu.Unlock()

	total := int64(len(result))
	start := (params.Page - 1) * params.PageSize
	if start >= len(result) {
		return []domain.Transaction{}, total, nil
	}
	end := min(start+params.PageSize, len(result))
	return result[start:end], total, nil
}

func (r *memTransactionRepo) GetStats(ctx context.Context, walletID uuid.UUID) (*ports.TransactionStats, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stats := &ports.TransactionStats{}
	for _, t := range r.db.txns {
		if t.WalletID != walletID {
			continue
		}
		if t.Status != domain.TransactionStatusCompleted && t.Status != domain.TransactionStatusRefunded {
			continue
		}
		stats.TotalTransactions++
		stats.TotalFees += t.Fee
		switch {
		case t.Kind == domain.TransactionKindRefund:
			stats.Refunds++
			stats.TotalRefunded += max(t.Amount, -t.Amount)
		case t.IsTopUp():
			stats.TopUps++
			stats.TotalToppedUp += t.Amount
		case t.Amount > 0:
			stats.Credits++
			stats.TotalCredited += t.Amount
		case t.Amount < 0:
			stats.Debits++
			stats.TotalDebited -= t.Amount
		}
	}
	return stats, nil
}

// ==================== Cards ====================

type memCardRepo struct{ db *memDB }

// checkCardInsert enforces the unique UID and the one-active-card-per-customer
// index against committed cards as the pending tx writes leave them. Callers
// hold db.mu.
func (db *memDB) checkCardInsert(c *domain.RfidCard, pending map[uuid.UUID]*cardWrite) error {
	for id, existing := range db.cards {
		if w, ok := pending[id]; ok && !w.insert {
			existing = w.next
		}
		if existing.CardUID == c.CardUID {
			return fmt.Errorf("insert card: %w", ports.ErrDuplicate)
		}
		if c.IsActive && existing.IsActive && existing.CustomerID == c.CustomerID {
			return fmt.Errorf("insert card: %w", ports.ErrDuplicate)
		}
	}
	return nil
}

func (r *memCardRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *domain.RfidCard) error {
	mt := asMemTx(tx)
	r.db.mu.Lock()
	for _, existing := range r.db.cards {
		if existing.CardUID == c.CardUID {
			r.db.mu.Unlock()
			return fmt.Errorf("insert card: %w", ports.ErrDuplicate)
		}
	}
	r.db.mu.Unlock()
	c.Version = 1
	mt.cards[c.ID] = &cardWrite{insert: true, next: *c}
	return nil
}

func (r *memCardRepo) GetByUID(ctx context.Context, cardUID string) (*domain.RfidCard, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, c := range r.db.cards {
		if c.CardUID == cardUID {
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memCardRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RfidCard, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.cards[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *memCardRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.RfidCard, error) {
	if c, ok := asMemTx(tx).cards[id]; ok {
		next := c.next
		return &next, nil
	}
	return r.GetByID(ctx, id)
}

func (r *memCardRepo) GetActiveByCustomerTx(ctx context.Context, tx pgx.Tx, customerID uuid.UUID) (*domain.RfidCard, error) {
	mt := asMemTx(tx)
	for _, c := range mt.cards {
		if c.next.CustomerID == customerID && c.next.IsActive {
			next := c.next
			return &next, nil
		}
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, c := range r.db.cards {
		if _, shadowed := mt.cards[id]; shadowed {
			continue
		}
		if c.CustomerID == customerID && c.IsActive {
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memCardRepo) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.RfidCard, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.RfidCard
	for _, c := range r.db.cards {
		if c.CustomerID == customerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (r *memCardRepo) Update(ctx context.Context, c *domain.RfidCard) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	current, ok := r.db.cards[c.ID]
	if !ok || current.Version != c.Version {
		return fmt.Errorf("update card %s at version %d: %w", c.CardUID, c.Version, ports.ErrConflict)
	}
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	r.db.cards[c.ID] = *c
	return nil
}

func (r *memCardRepo) UpdateTx(ctx context.Context, tx pgx.Tx, c *domain.RfidCard) error {
	mt := asMemTx(tx)
	pending, ok := mt.cards[c.ID]
	if !ok {
		r.db.mu.Lock()
		current, found := r.db.cards[c.ID]
		r.db.mu.Unlock()
		if !found {
			return fmt.Errorf("update card %s: %w", c.CardUID, ports.ErrConflict)
		}
		pending = &cardWrite{base: current.Version, next: current}
	}
	if pending.next.Version != c.Version {
		return fmt.Errorf("update card %s at version %d: %w", c.CardUID, c.Version, ports.ErrConflict)
	}
	c.Version++
	c.UpdatedAt = time.Now().UTC()
	pending.next = *c
	mt.cards[c.ID] = pending
	return nil
}

// ==================== Idempotency ====================

type memIdempotencyRepo struct{ db *memDB }

func (r *memIdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, l *domain.IdempotencyLog) error {
	r.db.mu.Lock()
	_, exists := r.db.idem[l.Key]
	r.db.mu.Unlock()
	if exists {
		return fmt.Errorf("insert idempotency log: %w", ports.ErrDuplicate)
	}
	mt := asMemTx(tx)
	mt.idem = append(mt.idem, *l)
	return nil
}

func (r *memIdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	l, ok := r.db.idem[key]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

// ==================== Webhooks and audit ====================

type memWebhookRepo struct{ db *memDB }

func (r *memWebhookRepo) Create(ctx context.Context, l *domain.WebhookDeliveryLog) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.webhooks[l.ID] = *l
	return nil
}

func (r *memWebhookRepo) Update(ctx context.Context, l *domain.WebhookDeliveryLog) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.webhooks[l.ID] = *l
	return nil
}

func (r *memWebhookRepo) GetByTransactionID(ctx context.Context, txID uuid.UUID) ([]domain.WebhookDeliveryLog, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.WebhookDeliveryLog
	for _, l := range r.db.webhooks {
		if l.TransactionID == txID {
			out = append(out, l)
		}
	}
	return out, nil
}

type memAuditRepo struct{ db *memDB }

func (r *memAuditRepo) Create(ctx context.Context, l *domain.AuditLog) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.audits = append(r.db.audits, *l)
	return nil
}
