package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindInsufficientFunds, "need %d more", 10)
	wrapped := fmt.Errorf("hold for task: %w", err)

	assert.Equal(t, KindInsufficientFunds, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestIsComparesByKind(t *testing.T) {
	err := fmt.Errorf("settle: %w", New(KindSettlementExceedsHold, "actual 350 > hold 300"))

	assert.True(t, errors.Is(err, SettlementExceedsHold))
	assert.False(t, errors.Is(err, InsufficientFunds))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("no rows")
	err := Wrap(KindBalanceRowMissing, cause, "lock balance")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "lock balance: no rows", err.Error())
	assert.Equal(t, "balance_row_missing", KindOf(err).String())
}
