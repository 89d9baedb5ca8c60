package handler

import (
	"net/http"
	"strings"

	"github.com/mmeshcher/stars-ledger/internal/middleware"
	"github.com/mmeshcher/stars-ledger/internal/model"
	"github.com/mmeshcher/stars-ledger/internal/validation"
)

func adminID(r *http.Request) string {
	id, _ := middleware.GetAdminIDFromContext(r.Context())
	return id
}

// ListWithdrawals возвращает заявки на вывод для администратора.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	withdrawals, err := h.service.ListWithdrawals(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if withdrawals == nil {
		withdrawals = []model.Withdrawal{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": withdrawals})
}

// ApproveWithdrawal одобряет заявку на вывод.
func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, model.DecisionApprove, "")
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// RejectWithdrawal отклоняет заявку на вывод и возвращает средства пользователю.
func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if !validation.IsReason(req.Reason) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "reason must be 2..500 characters"})
		return
	}

	h.decide(w, r, model.DecisionReject, req.Reason)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decision model.Decision, reason string) {
	id := urlParam(r, "id")
	if !validation.IsUUID(id) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid withdrawal id"})
		return
	}

	wd, err := h.service.DecideWithdrawal(r.Context(), id, decision, adminID(r), reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"withdrawal": wd})
}

type grantRequest struct {
	UserID      int64  `json:"userId"`
	AmountStars int64  `json:"amountStars"`
	Reason      string `json:"reason"`
}

// Grant начисляет звёзды пользователю от имени администратора.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.UserID <= 0 || !validation.IsPositiveStars(req.AmountStars) || !validation.IsReason(req.Reason) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid grant"})
		return
	}

	refID, err := h.service.AdminGrant(r.Context(), adminID(r), req.UserID, req.AmountStars, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "refId": refID})
}

type confirmIntentRequest struct {
	IntentID   string         `json:"intentId"`
	TxHash     string         `json:"txHash"`
	RawPayload map[string]any `json:"rawPayload"`
}

// ConfirmCryptoIntent подтверждает перевод TON/USDT и зачисляет звёзды.
func (h *Handler) ConfirmCryptoIntent(w http.ResponseWriter, r *http.Request) {
	var req confirmIntentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.TxHash = strings.TrimSpace(req.TxHash)
	if !validation.IsUUID(req.IntentID) || !validation.IsTxHash(req.TxHash) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid confirmation"})
		return
	}

	res, err := h.service.ConfirmCryptoIntent(r.Context(), model.IntentConfirmation{
		IntentID:   req.IntentID,
		TxHash:     req.TxHash,
		RawPayload: req.RawPayload,
		AdminID:    adminID(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"applied":       res.Applied,
		"idempotent":    res.Idempotent,
		"creditedStars": res.Amount,
	})
}
