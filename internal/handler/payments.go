package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
	"github.com/mmeshcher/stars-ledger/internal/service"
	"github.com/mmeshcher/stars-ledger/internal/validation"
)

const starsCurrency = "XTR"

type starsOrderRequest struct {
	BaseStars int64 `json:"baseStars"`
}

// CreateStarsOrder создаёт заказ пополнения звёздами.
func (h *Handler) CreateStarsOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req starsOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validation.IsPositiveStars(req.BaseStars) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "baseStars must be positive"})
		return
	}

	order, err := h.service.CreateStarsOrder(r.Context(), userID, req.BaseStars)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

type createIntentRequest struct {
	AmountUSDT decimal.Decimal `json:"amountUsdt"`
}

// CreateCryptoIntent создаёт намерение оплаты TON/USDT.
func (h *Handler) CreateCryptoIntent(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req createIntentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validation.IsUSDTAmount(req.AmountUSDT) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "amountUsdt must be within (0, 100000]"})
		return
	}

	intent, err := h.service.CreateCryptoIntent(r.Context(), userID, req.AmountUSDT)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"intent": intent})
}

// telegramUserID принимает идентификатор пользователя и числом, и строкой.
type telegramUserID string

func (t *telegramUserID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = telegramUserID(strings.TrimSpace(s))
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = telegramUserID(strconv.FormatInt(n, 10))
	return nil
}

type paymentWebhookRequest struct {
	EventID        string         `json:"event_id"`
	ChargeID       string         `json:"telegram_payment_charge_id"`
	InvoicePayload string         `json:"invoice_payload"`
	UserID         telegramUserID `json:"user_id"`
	AmountStars    int64          `json:"amount_stars"`
	Status         string         `json:"status"`
}

// PaymentWebhook принимает подтверждённое событие оплаты.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !decodeJSON(w, r, &raw) {
		return
	}

	var req paymentWebhookRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid webhook payload"})
		return
	}
	if req.UserID == "" || req.Status == "" || req.AmountStars < 0 || (req.EventID == "" && req.InvoicePayload == "") {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid webhook payload"})
		return
	}

	res, err := h.service.IngestPaymentEvent(r.Context(), service.PaymentEvent{
		EventID:        req.EventID,
		ChargeID:       req.ChargeID,
		InvoicePayload: req.InvoicePayload,
		TelegramUserID: string(req.UserID),
		Amount:         req.AmountStars,
		Status:         req.Status,
		Raw:            raw,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"applied": res.Applied,
		"ignored": res.Ignored,
	})
}

type preCheckoutRequest struct {
	ID   string `json:"id"`
	From struct {
		ID int64 `json:"id"`
	} `json:"from"`
	Currency       string `json:"currency"`
	TotalAmount    int64  `json:"total_amount"`
	InvoicePayload string `json:"invoice_payload"`
}

// PreCheckout проверяет платёж перед списанием звёзд и отвечает Telegram.
// Отклонённая проверка не является ошибкой запроса: ответ {"ok": false}.
func (h *Handler) PreCheckout(w http.ResponseWriter, r *http.Request) {
	var req preCheckoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" || req.From.ID == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid pre-checkout query"})
		return
	}
	if req.Currency != starsCurrency {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "kind": apperr.KindInvalidInput.String()})
		return
	}

	err := h.service.AnswerPreCheckout(r.Context(), service.PreCheckout{
		QueryID:        req.ID,
		TelegramUserID: strconv.FormatInt(req.From.ID, 10),
		TotalAmount:    req.TotalAmount,
		InvoicePayload: req.InvoicePayload,
	})
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	kind := apperr.KindOf(err)
	if kind == apperr.KindUnknown {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("pre-checkout declined", zap.String("queryId", req.ID), zap.String("kind", kind.String()))
	writeJSON(w, http.StatusOK, map[string]any{"ok": false, "kind": kind.String()})
}
