package validation

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsTxHash(t *testing.T) {
	tests := []struct {
		name  string
		hash  string
		valid bool
	}{
		{name: "hex hash", hash: "a3f9c0de4b5e6f7a8b9c", valid: true},
		{name: "base64 hash", hash: "te6cckEBAQEAAgAAAEysuc0=", valid: true},
		{name: "too short", hash: "abc123", valid: false},
		{name: "too long", hash: strings.Repeat("a", MaxTxHashLen+1), valid: false},
		{name: "contains space", hash: "a3f9c0de 4b5e6f7a", valid: false},
		{name: "non ascii", hash: "хэштранзакции1", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTxHash(tt.hash); got != tt.valid {
				t.Fatalf("IsTxHash(%q) = %v, want %v", tt.hash, got, tt.valid)
			}
		})
	}
}

func TestIsUSDTAmount(t *testing.T) {
	tests := []struct {
		amount string
		valid  bool
	}{
		{amount: "0.000001", valid: true},
		{amount: "100000", valid: true},
		{amount: "100000.01", valid: false},
		{amount: "0", valid: false},
		{amount: "-1", valid: false},
	}

	for _, tt := range tests {
		if got := IsUSDTAmount(decimal.RequireFromString(tt.amount)); got != tt.valid {
			t.Fatalf("IsUSDTAmount(%s) = %v, want %v", tt.amount, got, tt.valid)
		}
	}
}

func TestIsReason(t *testing.T) {
	if IsReason("x") {
		t.Fatalf("one-rune reason must be rejected")
	}
	if !IsReason("ок") {
		t.Fatalf("two-rune reason must be accepted")
	}
	if IsReason(strings.Repeat("я", MaxReasonRunes+1)) {
		t.Fatalf("reason over limit must be rejected")
	}
}

func TestSimpleChecks(t *testing.T) {
	if !IsUUID("6f1c2f7e-1d3b-4b7a-9a55-0f2d7f1e2a10") || IsUUID("order-1") {
		t.Fatalf("IsUUID mismatch")
	}
	if IsEstimate(0) || !IsEstimate(MaxEstimateStars) || IsEstimate(MaxEstimateStars+1) {
		t.Fatalf("IsEstimate mismatch")
	}
	if IsPrompt("") || !IsPrompt("hello") || IsPrompt(strings.Repeat("a", MaxPromptRunes+1)) {
		t.Fatalf("IsPrompt mismatch")
	}
	if IsHistoryLimit(0) || !IsHistoryLimit(50) || IsHistoryLimit(101) {
		t.Fatalf("IsHistoryLimit mismatch")
	}
	if IsPositiveStars(0) || !IsPositiveStars(1) {
		t.Fatalf("IsPositiveStars mismatch")
	}
}
