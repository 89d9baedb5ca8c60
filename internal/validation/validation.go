// Package validation содержит проверки входных данных HTTP-запросов.
package validation

import (
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	MaxEstimateStars = 100000
	MaxPromptRunes   = 4000
	MinReasonRunes   = 2
	MaxReasonRunes   = 500
	MinTxHashLen     = 10
	MaxTxHashLen     = 128
	MinHistoryLimit  = 1
	MaxHistoryLimit  = 100
)

var maxUSDT = decimal.NewFromInt(100000)

// IsPositiveStars проверяет, что сумма в звёздах положительна.
func IsPositiveStars(amount int64) bool {
	return amount > 0
}

// IsEstimate проверяет оценку стоимости тарифицируемой операции.
func IsEstimate(stars int64) bool {
	return stars > 0 && stars <= MaxEstimateStars
}

// IsUSDTAmount проверяет сумму в USDT: больше нуля и не больше 100000.
func IsUSDTAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && !amount.GreaterThan(maxUSDT)
}

// IsUUID проверяет, что строка является UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// IsTxHash проверяет хэш транзакции: длина и только печатные символы без пробелов.
func IsTxHash(s string) bool {
	if len(s) < MinTxHashLen || len(s) > MaxTxHashLen {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// IsReason проверяет причину отклонения заявки.
func IsReason(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= MinReasonRunes && n <= MaxReasonRunes
}

// IsPrompt проверяет текст задачи.
func IsPrompt(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= 1 && n <= MaxPromptRunes
}

// IsHistoryLimit проверяет размер страницы истории.
func IsHistoryLimit(n int) bool {
	return n >= MinHistoryLimit && n <= MaxHistoryLimit
}
