// Package handler содержит HTTP-обработчики API сервиса леджера звёзд.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/stars-ledger/internal/middleware"
	"github.com/mmeshcher/stars-ledger/internal/model"
	"github.com/mmeshcher/stars-ledger/internal/service"
	"github.com/mmeshcher/stars-ledger/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	GetBalance(ctx context.Context, userID int64) (model.Balance, error)
	History(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error)

	RequestWithdrawal(ctx context.Context, userID, amount int64) (model.Withdrawal, error)
	ListUserWithdrawals(ctx context.Context, userID int64) ([]model.Withdrawal, error)
	ListWithdrawals(ctx context.Context, status string) ([]model.Withdrawal, error)
	DecideWithdrawal(ctx context.Context, id string, decision model.Decision, adminID, reason string) (model.Withdrawal, error)

	ReferralStats(ctx context.Context, userID int64) (model.ReferralStats, error)
	ApplyReferralCode(ctx context.Context, userID int64, code string) (bool, error)

	QuoteFor(rail model.Rail, baseStars int64, amountUSDT decimal.Decimal) (model.Quote, error)
	Rails() []service.RailInfo
	RunTask(ctx context.Context, userID int64, prompt string, estimateBase int64) (service.TaskResult, error)
	PurchaseDemoSkill(ctx context.Context, userID int64, skillID string, amount int64) error

	CreateStarsOrder(ctx context.Context, userID, baseStars int64) (service.StarsOrderResult, error)
	CreateCryptoIntent(ctx context.Context, userID int64, amountUSDT decimal.Decimal) (model.CryptoIntent, error)
	ConfirmCryptoIntent(ctx context.Context, c model.IntentConfirmation) (model.CreditResult, error)
	IngestPaymentEvent(ctx context.Context, e service.PaymentEvent) (service.IngestResult, error)
	AnswerPreCheckout(ctx context.Context, q service.PreCheckout) error
	AdminGrant(ctx context.Context, adminID string, userID, amount int64, reason string) (string, error)
}

// Config задаёт секреты и ограничения HTTP-слоя.
type Config struct {
	AdminToken     string
	WebhookSecret  string
	RateLimitRPS   int
	RateLimitBurst int
	Metrics        http.Handler
}

// Handler реализует HTTP-обработчики API сервиса леджера звёзд.
type Handler struct {
	service Service
	logger  *zap.Logger
	session *middleware.SessionMiddleware
	cfg     Config
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, session *middleware.SessionMiddleware, cfg Config) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
		session: session,
		cfg:     cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return false
	}
	return true
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return userID, ok
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

// GetHistory возвращает последние записи журнала текущего пользователя.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || !validation.IsHistoryLimit(n) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := h.service.History(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ledger": entries})
}

type withdrawRequest struct {
	AmountStars int64 `json:"amountStars"`
}

// RequestWithdrawal создаёт заявку на вывод для текущего пользователя.
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validation.IsPositiveStars(req.AmountStars) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "amountStars must be positive"})
		return
	}

	wd, err := h.service.RequestWithdrawal(r.Context(), userID, req.AmountStars)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"withdrawal": wd})
}

// GetWithdrawals возвращает заявки на вывод текущего пользователя.
func (h *Handler) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	withdrawals, err := h.service.ListUserWithdrawals(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if withdrawals == nil {
		withdrawals = []model.Withdrawal{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": withdrawals})
}

// GetReferral возвращает сводку реферальной программы текущего пользователя.
func (h *Handler) GetReferral(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.ReferralStats(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

type applyReferralRequest struct {
	Code string `json:"code"`
}

// ApplyReferral привязывает текущего пользователя к пригласившему по коду.
func (h *Handler) ApplyReferral(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req applyReferralRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	applied, err := h.service.ApplyReferralCode(r.Context(), userID, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
}

// GetRails возвращает доступные каналы оплаты.
func (h *Handler) GetRails(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"primary": model.RailStars,
		"rails":   h.service.Rails(),
	})
}

type quoteRequest struct {
	Rail       model.Rail      `json:"rail"`
	BaseStars  int64           `json:"baseStars"`
	AmountUSDT decimal.Decimal `json:"amountUsdt"`
}

// Quote рассчитывает стоимость для канала оплаты.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	quote, err := h.service.QuoteFor(req.Rail, req.BaseStars, req.AmountUSDT)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"quote": quote})
}

type runTaskRequest struct {
	Prompt             string `json:"prompt"`
	EstimatedCostStars int64  `json:"estimatedCostStars"`
}

// RunTask выполняет задачу с оплатой по факту.
func (h *Handler) RunTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req runTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validation.IsPrompt(req.Prompt) || !validation.IsEstimate(req.EstimatedCostStars) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid task"})
		return
	}

	res, err := h.service.RunTask(r.Context(), userID, req.Prompt, req.EstimatedCostStars)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type demoPurchaseRequest struct {
	AmountStars int64 `json:"amountStars"`
}

// PurchaseDemoSkill покупает демо-версию навыка.
func (h *Handler) PurchaseDemoSkill(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	skillID := urlParam(r, "skillID")
	var req demoPurchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if skillID == "" || !validation.IsPositiveStars(req.AmountStars) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid purchase"})
		return
	}

	if err := h.service.PurchaseDemoSkill(r.Context(), userID, skillID, req.AmountStars); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
