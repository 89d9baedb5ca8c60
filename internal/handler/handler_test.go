package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
	"github.com/mmeshcher/stars-ledger/internal/middleware"
	"github.com/mmeshcher/stars-ledger/internal/model"
	"github.com/mmeshcher/stars-ledger/internal/service"
)

type stubService struct {
	balance    model.Balance
	balanceErr error

	historyLimit int

	withdrawal    model.Withdrawal
	withdrawErr   error
	decision      model.Decision
	decisionAdmin string
	decisionErr   error

	event     service.PaymentEvent
	ingestRes service.IngestResult
	ingestErr error

	preCheckout    service.PreCheckout
	preCheckoutErr error

	grantAdmin string

	quoteErr error

	confirm    model.IntentConfirmation
	confirmRes model.CreditResult
}

func (s *stubService) GetBalance(ctx context.Context, userID int64) (model.Balance, error) {
	return s.balance, s.balanceErr
}

func (s *stubService) History(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	s.historyLimit = limit
	return nil, nil
}

func (s *stubService) RequestWithdrawal(ctx context.Context, userID, amount int64) (model.Withdrawal, error) {
	return s.withdrawal, s.withdrawErr
}

func (s *stubService) ListUserWithdrawals(ctx context.Context, userID int64) ([]model.Withdrawal, error) {
	return nil, nil
}

func (s *stubService) ListWithdrawals(ctx context.Context, status string) ([]model.Withdrawal, error) {
	return []model.Withdrawal{s.withdrawal}, nil
}

func (s *stubService) DecideWithdrawal(ctx context.Context, id string, decision model.Decision, adminID, reason string) (model.Withdrawal, error) {
	s.decision = decision
	s.decisionAdmin = adminID
	return s.withdrawal, s.decisionErr
}

func (s *stubService) ReferralStats(ctx context.Context, userID int64) (model.ReferralStats, error) {
	return model.ReferralStats{Code: "ABCD1234"}, nil
}

func (s *stubService) ApplyReferralCode(ctx context.Context, userID int64, code string) (bool, error) {
	return true, nil
}

func (s *stubService) QuoteFor(rail model.Rail, baseStars int64, amountUSDT decimal.Decimal) (model.Quote, error) {
	if s.quoteErr != nil {
		return model.Quote{}, s.quoteErr
	}
	return service.QuoteCharge(baseStars, rail, 30), nil
}

func (s *stubService) Rails() []service.RailInfo {
	return []service.RailInfo{{ID: model.RailStars, Enabled: true, FeePercent: 30}}
}

func (s *stubService) RunTask(ctx context.Context, userID int64, prompt string, estimateBase int64) (service.TaskResult, error) {
	return service.TaskResult{TaskID: "t1", Status: "done"}, nil
}

func (s *stubService) PurchaseDemoSkill(ctx context.Context, userID int64, skillID string, amount int64) error {
	return nil
}

func (s *stubService) CreateStarsOrder(ctx context.Context, userID, baseStars int64) (service.StarsOrderResult, error) {
	return service.StarsOrderResult{}, nil
}

func (s *stubService) CreateCryptoIntent(ctx context.Context, userID int64, amountUSDT decimal.Decimal) (model.CryptoIntent, error) {
	return model.CryptoIntent{}, nil
}

func (s *stubService) ConfirmCryptoIntent(ctx context.Context, c model.IntentConfirmation) (model.CreditResult, error) {
	s.confirm = c
	return s.confirmRes, nil
}

func (s *stubService) IngestPaymentEvent(ctx context.Context, e service.PaymentEvent) (service.IngestResult, error) {
	s.event = e
	return s.ingestRes, s.ingestErr
}

func (s *stubService) AnswerPreCheckout(ctx context.Context, q service.PreCheckout) error {
	s.preCheckout = q
	return s.preCheckoutErr
}

func (s *stubService) AdminGrant(ctx context.Context, adminID string, userID, amount int64, reason string) (string, error) {
	s.grantAdmin = adminID
	return "grant-1", nil
}

const (
	testAdminToken    = "admin-token"
	testWebhookSecret = "hook-secret"
	testWithdrawalID  = "6f1c2f7e-1d3b-4b7a-9a55-0f2d7f1e2a10"
)

type testEnv struct {
	svc     *stubService
	session *middleware.SessionMiddleware
	router  http.Handler
}

func newTestEnv(t *testing.T, svc *stubService) *testEnv {
	t.Helper()
	return newTestEnvWithLogger(t, svc, zap.NewNop())
}

func newTestEnvWithLogger(t *testing.T, svc *stubService, logger *zap.Logger) *testEnv {
	t.Helper()

	session := middleware.NewSessionMiddleware("test-secret")
	h := NewHandler(svc, logger, session, Config{
		AdminToken:     testAdminToken,
		WebhookSecret:  testWebhookSecret,
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("stars_ledger_ops_total 1"))
		}),
	})

	return &testEnv{svc: svc, session: session, router: h.SetupRouter()}
}

func (e *testEnv) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) asUser(userID int64) map[string]string {
	return map[string]string{"Authorization": "Bearer " + e.session.Sign(userID)}
}

func adminHeaders() map[string]string {
	return map[string]string{"X-Admin-Token": testAdminToken, "X-Admin-Id": "ops-1"}
}

func TestGetBalance_RequiresSession(t *testing.T) {
	env := newTestEnv(t, &stubService{})

	rec := env.do(http.MethodGet, "/api/me/balance", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetBalance_JSONResponse(t *testing.T) {
	env := newTestEnv(t, &stubService{balance: model.NewBalance(1000, 300)})

	rec := env.do(http.MethodGet, "/api/me/balance", nil, env.asUser(1))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got model.Balance
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, model.Balance{Total: 1000, Held: 300, Available: 700}, got)
}

func TestGetHistory_Limit(t *testing.T) {
	svc := &stubService{}
	env := newTestEnv(t, svc)

	rec := env.do(http.MethodGet, "/api/history?limit=20", nil, env.asUser(1))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, svc.historyLimit)
	assert.JSONEq(t, `{"ledger":[]}`, rec.Body.String())

	rec = env.do(http.MethodGet, "/api/history?limit=500", nil, env.asUser(1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorKindsMapToStatuses(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindInsufficientFunds, http.StatusPaymentRequired},
		{apperr.KindOnHold, http.StatusConflict},
		{apperr.KindAlreadyDecided, http.StatusConflict},
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindInvalidAmount, http.StatusBadRequest},
		{apperr.KindRailDisabled, http.StatusForbidden},
		{apperr.KindBalanceRowMissing, http.StatusInternalServerError},
		{apperr.KindUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			env := newTestEnv(t, &stubService{withdrawErr: apperr.New(tt.kind, "boom")})

			rec := env.do(http.MethodPost, "/api/withdrawals/request", withdrawRequest{AmountStars: 10}, env.asUser(1))
			assert.Equal(t, tt.want, rec.Code)

			var resp errorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			if tt.want != http.StatusInternalServerError {
				assert.Equal(t, tt.kind.String(), resp.Kind)
			} else {
				assert.Empty(t, resp.Kind)
			}
		})
	}
}

func TestMissingBalanceRowIsLoggedAsServerError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	svc := &stubService{withdrawErr: apperr.New(apperr.KindBalanceRowMissing, "balance row for user 1 is missing")}
	env := newTestEnvWithLogger(t, svc, zap.New(core))

	rec := env.do(http.MethodPost, "/api/withdrawals/request", withdrawRequest{AmountStars: 10}, env.asUser(1))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	entries := logs.FilterMessage("request failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/api/withdrawals/request", entries[0].ContextMap()["path"])
}

func TestRequestWithdrawal_RejectsNonPositive(t *testing.T) {
	env := newTestEnv(t, &stubService{})

	rec := env.do(http.MethodPost, "/api/withdrawals/request", withdrawRequest{AmountStars: 0}, env.asUser(1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentWebhook(t *testing.T) {
	svc := &stubService{ingestRes: service.IngestResult{CreditResult: model.CreditResult{Applied: true}}}
	env := newTestEnv(t, svc)

	body := map[string]any{
		"event_id":     "evt-1",
		"user_id":      777,
		"amount_stars": 50,
		"status":       "paid",
	}

	rec := env.do(http.MethodPost, "/api/payments/telegram/webhook", body, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPost, "/api/payments/telegram/webhook", body, map[string]string{
		"X-Telegram-Bot-Api-Secret-Token": testWebhookSecret,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"applied":true,"ignored":false}`, rec.Body.String())
	assert.Equal(t, "777", svc.event.TelegramUserID)
	assert.Equal(t, "evt-1", svc.event.EventID)
	assert.Equal(t, int64(50), svc.event.Amount)
}

func TestPaymentWebhook_InvalidPayload(t *testing.T) {
	env := newTestEnv(t, &stubService{})

	rec := env.do(http.MethodPost, "/api/payments/telegram/webhook", map[string]any{"status": "paid"}, map[string]string{
		"X-Telegram-Bot-Api-Secret-Token": testWebhookSecret,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreCheckout(t *testing.T) {
	query := map[string]any{
		"id":              "q1",
		"from":            map[string]any{"id": 777},
		"currency":        "XTR",
		"total_amount":    130,
		"invoice_payload": "sm1:payload",
	}
	headers := map[string]string{"X-Telegram-Bot-Api-Secret-Token": testWebhookSecret}

	svc := &stubService{}
	env := newTestEnv(t, svc)
	rec := env.do(http.MethodPost, "/api/payments/telegram/pre-checkout", query, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, service.PreCheckout{QueryID: "q1", TelegramUserID: "777", TotalAmount: 130, InvoicePayload: "sm1:payload"}, svc.preCheckout)

	svc.preCheckoutErr = apperr.New(apperr.KindAmountMismatch, "mismatch")
	rec = env.do(http.MethodPost, "/api/payments/telegram/pre-checkout", query, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":false,"kind":"amount_mismatch"}`, rec.Body.String())
}

func TestAdminRoutes(t *testing.T) {
	svc := &stubService{withdrawal: model.Withdrawal{ID: testWithdrawalID, Status: model.WithdrawalApproved, RequestedAt: time.Now().UTC()}}
	env := newTestEnv(t, svc)

	rec := env.do(http.MethodGet, "/api/admin/withdrawals", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/api/admin/withdrawals?status=pending", nil, adminHeaders())
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/api/admin/withdrawals/"+testWithdrawalID+"/approve", nil, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.DecisionApprove, svc.decision)
	assert.Equal(t, "ops-1", svc.decisionAdmin)

	rec = env.do(http.MethodPost, "/api/admin/withdrawals/not-a-uuid/approve", nil, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/admin/withdrawals/"+testWithdrawalID+"/reject", rejectRequest{Reason: "x"}, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/admin/withdrawals/"+testWithdrawalID+"/reject", rejectRequest{Reason: "fraud suspected"}, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.DecisionReject, svc.decision)

	svc.decisionErr = apperr.New(apperr.KindOnHold, "withdrawal is on hold until 2026-03-22T12:00:00Z")
	rec = env.do(http.MethodPost, "/api/admin/withdrawals/"+testWithdrawalID+"/approve", nil, adminHeaders())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminGrant(t *testing.T) {
	svc := &stubService{}
	env := newTestEnv(t, svc)

	rec := env.do(http.MethodPost, "/api/admin/grant", grantRequest{UserID: 5, AmountStars: 100, Reason: "compensation"}, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"refId":"grant-1"}`, rec.Body.String())
	assert.Equal(t, "ops-1", svc.grantAdmin)

	rec = env.do(http.MethodPost, "/api/admin/grant", grantRequest{UserID: 5, AmountStars: -1, Reason: "compensation"}, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirmCryptoIntent(t *testing.T) {
	svc := &stubService{confirmRes: model.CreditResult{Applied: true, Amount: 250}}
	env := newTestEnv(t, svc)

	body := confirmIntentRequest{IntentID: testWithdrawalID, TxHash: "a3f9c0de4b5e6f7a8b9c"}
	rec := env.do(http.MethodPost, "/api/payments/ton-usdt/confirm", body, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"applied":true,"idempotent":false,"creditedStars":250}`, rec.Body.String())
	assert.Equal(t, "ops-1", svc.confirm.AdminID)

	body.TxHash = "short"
	rec = env.do(http.MethodPost, "/api/payments/ton-usdt/confirm", body, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuote(t *testing.T) {
	svc := &stubService{}
	env := newTestEnv(t, svc)

	rec := env.do(http.MethodPost, "/api/pricing/quote", map[string]any{"rail": "stars", "baseStars": 100}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"quote":{"rail":"stars","baseStars":100,"feePercent":30,"feeStars":30,"totalStars":130}}`, rec.Body.String())

	svc.quoteErr = apperr.New(apperr.KindRailDisabled, "TON USDT payments disabled")
	rec = env.do(http.MethodPost, "/api/pricing/quote", map[string]any{"rail": "ton_usdt", "amountUsdt": 1}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRunTask_Validates(t *testing.T) {
	env := newTestEnv(t, &stubService{})

	rec := env.do(http.MethodPost, "/api/tasks/run", runTaskRequest{Prompt: "", EstimatedCostStars: 10}, env.asUser(1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/tasks/run", runTaskRequest{Prompt: "summarize", EstimatedCostStars: 10}, env.asUser(1))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t, &stubService{})

	rec := env.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stars_ledger_ops_total")
}
