package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

const (
	adminTokenHeader    = "X-Admin-Token"
	adminIDHeader       = "X-Admin-Id"
	webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	defaultAdminID      = "admin"
)

func secretEqual(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// AdminToken пропускает запрос только с верным заголовком X-Admin-Token.
// Идентификатор администратора берётся из X-Admin-Id и попадает в контекст.
// Пустой token закрывает административные маршруты.
func AdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !secretEqual(r.Header.Get(adminTokenHeader), token) {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			adminID := strings.TrimSpace(r.Header.Get(adminIDHeader))
			if adminID == "" {
				adminID = defaultAdminID
			}

			ctx := context.WithValue(r.Context(), adminIDKey, adminID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WebhookSecret проверяет секрет, которым Telegram подписывает доставку вебхука.
func WebhookSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !secretEqual(r.Header.Get(webhookSecretHeader), secret) {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
