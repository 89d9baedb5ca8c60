// Package middleware содержит HTTP middleware сервиса леджера звёзд.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
)

type contextKey string

const (
	userIDKey  contextKey = "userID"
	adminIDKey contextKey = "adminID"
)

const sessionCookieName = "session"

// SessionMiddleware проверяет подписанную сессию пользователя.
// Сессия выпускается внешним компонентом; здесь она только проверяется.
type SessionMiddleware struct {
	secretKey []byte
}

// NewSessionMiddleware создаёт проверку сессий с секретом secret.
// Пустой секрет заменяется случайным: такие сессии не переживут перезапуск.
func NewSessionMiddleware(secret string) *SessionMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic("middleware: generate session key: " + err.Error())
		}
	}

	return &SessionMiddleware{
		secretKey: key,
	}
}

// Middleware извлекает идентификатор пользователя из cookie или заголовка Authorization
// и кладёт его в контекст запроса.
func (a *SessionMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if cookie, err := r.Cookie(sessionCookieName); err == nil {
				token = cookie.Value
			}
		}

		userID, ok := a.Parse(token)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Sign возвращает токен сессии вида "<id>.<hex hmac>".
func (a *SessionMiddleware) Sign(userID int64) string {
	idStr := strconv.FormatInt(userID, 10)
	return idStr + "." + a.signature(idStr)
}

// Parse проверяет токен сессии и возвращает идентификатор пользователя.
func (a *SessionMiddleware) Parse(token string) (int64, bool) {
	idStr, signature, found := strings.Cut(token, ".")
	if !found {
		return 0, false
	}

	if !hmac.Equal([]byte(signature), []byte(a.signature(idStr))) {
		return 0, false
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}

func (a *SessionMiddleware) signature(idStr string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(idStr))
	return hex.EncodeToString(mac.Sum(nil))
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// WithUserID кладёт идентификатор пользователя в контекст.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetAdminIDFromContext извлекает идентификатор администратора из контекста запроса.
func GetAdminIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(adminIDKey).(string)
	return id, ok
}
