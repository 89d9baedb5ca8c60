package invoice

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
)

const orderID = "4b0c8f8e-7f55-4d8c-9d51-3b3f0f1a2c11"

func TestSignParse(t *testing.T) {
	s := NewSigner("secret")
	exp := time.Unix(1_900_000_000, 0)

	payload := s.Sign(Claims{OrderID: orderID, Amount: 130, ExpiresAt: exp})
	assert.True(t, strings.HasPrefix(payload, "sm1:"+orderID+":130:1900000000:"))

	c, err := s.Parse(payload)
	require.NoError(t, err)
	assert.Equal(t, orderID, c.OrderID)
	assert.Equal(t, int64(130), c.Amount)
	assert.True(t, exp.Equal(c.ExpiresAt))
}

func TestParseRejects(t *testing.T) {
	s := NewSigner("secret")
	valid := s.Sign(Claims{OrderID: orderID, Amount: 130, ExpiresAt: time.Unix(1_900_000_000, 0)})
	parts := strings.Split(valid, ":")

	tests := []struct {
		name    string
		payload string
	}{
		{name: "empty", payload: ""},
		{name: "wrong prefix", payload: "sm2:" + strings.Join(parts[1:], ":")},
		{name: "not uuid", payload: strings.Join([]string{"sm1", "order", parts[2], parts[3], parts[4]}, ":")},
		{name: "tampered amount", payload: strings.Join([]string{"sm1", parts[1], "1", parts[3], parts[4]}, ":")},
		{name: "tampered expiry", payload: strings.Join([]string{"sm1", parts[1], parts[2], "1900000001", parts[4]}, ":")},
		{name: "zero amount", payload: strings.Join([]string{"sm1", parts[1], "0", parts[3], parts[4]}, ":")},
		{name: "other secret", payload: NewSigner("other").Sign(Claims{OrderID: orderID, Amount: 130, ExpiresAt: time.Unix(1_900_000_000, 0)})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Parse(tt.payload)
			assert.Equal(t, apperr.KindSignatureInvalid, apperr.KindOf(err))
		})
	}
}

func TestVerify(t *testing.T) {
	s := NewSigner("secret")
	now := time.Unix(1_800_000_000, 0)
	payload := s.Sign(Claims{OrderID: orderID, Amount: 130, ExpiresAt: now.Add(30 * time.Minute)})

	_, err := s.Verify(payload, 130, now)
	require.NoError(t, err)

	_, err = s.Verify(payload, 129, now)
	assert.Equal(t, apperr.KindAmountMismatch, apperr.KindOf(err))

	_, err = s.Verify(payload, 130, now.Add(31*time.Minute))
	assert.Equal(t, apperr.KindPayloadExpired, apperr.KindOf(err))
}
