// Package invoice формирует и проверяет подписанную полезную нагрузку счёта Telegram Stars.
//
// Формат: sm1:<orderId>:<amount>:<expUnix>:<hex hmac-sha256(secret, "orderId:amount:exp")>.
package invoice

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
)

const prefix = "sm1"

// Claims - поля, закреплённые подписью.
type Claims struct {
	OrderID   string
	Amount    int64
	ExpiresAt time.Time
}

// Expired сообщает, истёк ли срок полезной нагрузки к моменту now.
func (c Claims) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Signer подписывает и проверяет полезную нагрузку общим секретом.
type Signer struct {
	secret []byte
}

// NewSigner создаёт подписчик с секретом secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) mac(orderID string, amount, exp int64) string {
	h := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(h, "%s:%d:%d", orderID, amount, exp)
	return hex.EncodeToString(h.Sum(nil))
}

// Sign возвращает полезную нагрузку для заказа.
func (s *Signer) Sign(c Claims) string {
	exp := c.ExpiresAt.Unix()
	return strings.Join([]string{
		prefix,
		c.OrderID,
		strconv.FormatInt(c.Amount, 10),
		strconv.FormatInt(exp, 10),
		s.mac(c.OrderID, c.Amount, exp),
	}, ":")
}

// Parse разбирает полезную нагрузку и сверяет подпись.
// Любое расхождение формата или подписи даёт ошибку SignatureInvalid; срок не проверяется.
func (s *Signer) Parse(payload string) (Claims, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 5 || parts[0] != prefix {
		return Claims{}, apperr.New(apperr.KindSignatureInvalid, "malformed invoice payload")
	}

	orderID, amountRaw, expRaw, sig := parts[1], parts[2], parts[3], parts[4]
	if _, err := uuid.Parse(orderID); err != nil {
		return Claims{}, apperr.Wrap(apperr.KindSignatureInvalid, err, "invalid order id")
	}

	amount, err := strconv.ParseInt(amountRaw, 10, 64)
	if err != nil || amount <= 0 {
		return Claims{}, apperr.New(apperr.KindSignatureInvalid, "invalid amount %q", amountRaw)
	}

	exp, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil || exp <= 0 {
		return Claims{}, apperr.New(apperr.KindSignatureInvalid, "invalid expiry %q", expRaw)
	}

	if !hmac.Equal([]byte(sig), []byte(s.mac(orderID, amount, exp))) {
		return Claims{}, apperr.New(apperr.KindSignatureInvalid, "invoice payload signature mismatch")
	}

	return Claims{OrderID: orderID, Amount: amount, ExpiresAt: time.Unix(exp, 0)}, nil
}

// Verify разбирает полезную нагрузку и дополнительно проверяет сумму и срок.
func (s *Signer) Verify(payload string, amount int64, now time.Time) (Claims, error) {
	c, err := s.Parse(payload)
	if err != nil {
		return Claims{}, err
	}
	if c.Amount != amount {
		return Claims{}, apperr.New(apperr.KindAmountMismatch, "payload amount %d, paid %d", c.Amount, amount)
	}
	if c.Expired(now) {
		return Claims{}, apperr.New(apperr.KindPayloadExpired, "payload expired at %s", c.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return c, nil
}
