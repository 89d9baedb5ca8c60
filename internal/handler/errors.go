package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor сопоставляет вид доменной ошибки HTTP-статусу.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidAmount, apperr.KindInvalidInput, apperr.KindInvalidStatus,
		apperr.KindSignatureInvalid, apperr.KindPayloadExpired, apperr.KindAmountMismatch,
		apperr.KindSettlementExceedsHold:
		return http.StatusBadRequest
	case apperr.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case apperr.KindRailDisabled:
		return http.StatusForbidden
	case apperr.KindNotFound, apperr.KindHoldNotFound:
		return http.StatusNotFound
	case apperr.KindOnHold, apperr.KindAlreadyDecided, apperr.KindConflict,
		apperr.KindExpired, apperr.KindRefAlreadySettled, apperr.KindAlreadyPurchased:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind.String()})
}

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
