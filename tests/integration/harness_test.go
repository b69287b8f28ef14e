package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"rfid-wallet-ledger/config"
	redisStorage "rfid-wallet-ledger/internal/adapter/storage/redis"
	"rfid-wallet-ledger/internal/app"
	"rfid-wallet-ledger/internal/core/domain"
	"rfid-wallet-ledger/internal/core/ports"
	"rfid-wallet-ledger/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testAESKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

// testApp is the full HTTP stack over the in-memory ledger and miniredis.
type testApp struct {
	server *httptest.Server
	db     *memDB
	redis  *miniredis.Miniredis
	svcs   *app.Services
	hooks  *hookRecorder
}

// hookRecorder captures outgoing webhook requests and answers 200.
type hookRecorder struct {
	mu     sync.Mutex
	events []string
	sigs   []string
}

func (h *hookRecorder) Do(req *http.Request) (*http.Response, error) {
	h.mu.Lock()
	h.events = append(h.events, req.Header.Get("X-Webhook-Event"))
	h.sigs = append(h.sigs, req.Header.Get("X-Webhook-Signature"))
	h.mu.Unlock()
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (h *hookRecorder) received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func newTestApp(t *testing.T, opts ...func(*config.Config)) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.AES.Key = testAESKey
	cfg.JWT.Secret = "integration-jwt-secret"
	cfg.RateLimit.Enabled = false
	cfg.Ledger.RetryBaseDelay = time.Millisecond
	cfg.Ledger.MaxAttempts = 25
	for _, opt := range opts {
		opt(cfg)
	}

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	db := newMemDB()
	hooks := &hookRecorder{}
	stores := app.Stores{
		Owners:           &memOwnerRepo{db: db},
		Merchants:        &memMerchantRepo{db: db},
		Wallets:          &memWalletRepo{db: db},
		Transactions:     &memTransactionRepo{db: db},
		Cards:            &memCardRepo{db: db},
		Idempotency:      &memIdempotencyRepo{db: db},
		Webhooks:         &memWebhookRepo{db: db},
		Audit:            &memAuditRepo{db: db},
		Transactor:       &memTransactor{db: db},
		IdempotencyCache: redisStorage.NewIdempotencyCache(rdb),
		CardLock:         redisStorage.NewCardLock(rdb),
		RateLimiter:      redisStorage.NewRateLimitStore(rdb),
		HealthCheckers:   []ports.HealthChecker{redisStorage.NewHealthCheck(rdb)},
		HTTPClient:       hooks,
	}

	log := logger.NewWithWriter("error", io.Discard)
	svcs, err := app.Wire(cfg, stores, log)
	require.NoError(t, err)

	server := httptest.NewServer(app.Router(cfg, svcs, stores, log))
	t.Cleanup(func() {
		server.Close()
		_ = rdb.Close()
		mr.Close()
	})

	return &testApp{server: server, db: db, redis: mr, svcs: svcs, hooks: hooks}
}

// ==================== Principals ====================

func (a *testApp) token(t *testing.T, kind domain.PrincipalKind, id uuid.UUID) string {
	t.Helper()
	tok, _, err := a.svcs.Tokens.Generate(domain.Principal{ID: id, Kind: kind})
	require.NoError(t, err)
	return tok
}

func (a *testApp) newCustomer(t *testing.T, name, phone string) (uuid.UUID, string) {
	t.Helper()
	now := time.Now().UTC()
	c := &domain.Customer{ID: uuid.New(), FullName: name, Phone: phone, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, (&memOwnerRepo{db: a.db}).CreateCustomer(t.Context(), c))
	return c.ID, a.token(t, domain.PrincipalCustomer, c.ID)
}

func (a *testApp) newMerchant(t *testing.T, name, phone string) (uuid.UUID, string) {
	t.Helper()
	now := time.Now().UTC()
	m := &domain.Merchant{
		ID:           uuid.New(),
		BusinessName: name,
		Phone:        phone,
		Status:       domain.MerchantStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, (&memOwnerRepo{db: a.db}).CreateMerchant(t.Context(), m))
	return m.ID, a.token(t, domain.PrincipalMerchant, m.ID)
}

func (a *testApp) adminToken(t *testing.T) string {
	return a.token(t, domain.PrincipalAdmin, uuid.New())
}

// ==================== HTTP ====================

type envelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code"`
}

type apiResponse struct {
	Code   int
	Header http.Header
	Body   envelope
}

func (r apiResponse) decode(t *testing.T, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Body.Data, out))
}

func (a *testApp) call(t *testing.T, method, path, token string, body any, headers ...string) apiResponse {
	t.Helper()
	resp, err := a.send(method, path, token, body, headers...)
	require.NoError(t, err)
	return resp
}

// send is call without assertions, safe to use from worker goroutines.
func (a *testApp) send(method, path, token string, body any, headers ...string) (apiResponse, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apiResponse{}, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	if err != nil {
		return apiResponse{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := a.server.Client().Do(req)
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return apiResponse{}, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return apiResponse{Code: resp.StatusCode, Header: resp.Header, Body: env}, nil
}

// ==================== Fixtures ====================

func (a *testApp) createWallet(t *testing.T, token string) uuid.UUID {
	t.Helper()
	resp := a.call(t, http.MethodPost, "/api/v1/wallets", token, nil)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.Message)
	var w struct {
		ID uuid.UUID `json:"id"`
	}
	resp.decode(t, &w)
	return w.ID
}

func (a *testApp) topUp(t *testing.T, token string, amount int64) {
	t.Helper()
	resp := a.call(t, http.MethodPost, "/api/v1/wallets/topup", token, map[string]any{"amount": amount})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.Message)
}

func (a *testApp) balance(t *testing.T, token string) int64 {
	t.Helper()
	resp := a.call(t, http.MethodGet, "/api/v1/wallets/balance", token, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.Message)
	var b ports.BalanceResult
	resp.decode(t, &b)
	return b.Balance
}

func (a *testApp) assignCard(t *testing.T, customerID uuid.UUID, uid, pin string) {
	t.Helper()
	resp := a.call(t, http.MethodPost, "/api/v1/cards", a.adminToken(t), map[string]any{
		"customer_id": customerID.String(),
		"card_uid":    uid,
		"pin":         pin,
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.Message)
}

func (a *testApp) payByCard(t *testing.T, merchantToken, uid, pin string, amount int64, headers ...string) apiResponse {
	t.Helper()
	return a.call(t, http.MethodPost, "/api/v1/payments/card", merchantToken, map[string]any{
		"card_uid": uid,
		"pin":      pin,
		"amount":   amount,
	}, headers...)
}

func phone(n int) string {
	return fmt.Sprintf("98%08d", n)
}

func (r apiResponse) decodeInto(out any) error {
	return json.Unmarshal(r.Body.Data, out)
}
