package service

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
	"github.com/mmeshcher/stars-ledger/internal/model"
	"github.com/mmeshcher/stars-ledger/internal/validation"
)

// QuoteCharge рассчитывает стоимость с комиссией feePercent, округляя комиссию вверх.
func QuoteCharge(baseStars int64, rail model.Rail, feePercent int) model.Quote {
	if baseStars < 0 {
		baseStars = 0
	}
	fee := (baseStars*int64(feePercent) + 99) / 100
	return model.Quote{
		Rail:       rail,
		BaseStars:  baseStars,
		FeePercent: feePercent,
		FeeStars:   fee,
		TotalStars: baseStars + fee,
	}
}

// Quote рассчитывает стоимость для канала оплаты; комиссия взимается только с оплаты звёздами.
func (s *Service) Quote(baseStars int64, rail model.Rail) model.Quote {
	fee := 0
	if rail == model.RailStars {
		fee = s.cfg.StarsFeePercent
	}
	return QuoteCharge(baseStars, rail, fee)
}

// USDTToStars переводит сумму в USDT в звёзды по курсу USDT_TO_STARS_RATE с округлением вверх.
func (s *Service) USDTToStars(amount decimal.Decimal) int64 {
	return amount.Mul(s.cfg.USDTToStarsRate).Ceil().IntPart()
}

// QuoteFor рассчитывает стоимость по запросу клиента: для звёзд задаётся baseStars,
// для TON/USDT сумма amountUSDT переводится в звёзды.
func (s *Service) QuoteFor(rail model.Rail, baseStars int64, amountUSDT decimal.Decimal) (model.Quote, error) {
	switch rail {
	case model.RailStars:
	case model.RailTonUSDT:
		if !s.cfg.TonUSDTEnabled {
			return model.Quote{}, apperr.New(apperr.KindRailDisabled, "TON USDT payments disabled")
		}
		if !validation.IsUSDTAmount(amountUSDT) {
			return model.Quote{}, apperr.New(apperr.KindInvalidAmount, "amountUsdt is required for ton_usdt quote")
		}
		baseStars = s.USDTToStars(amountUSDT)
	default:
		return model.Quote{}, apperr.New(apperr.KindInvalidInput, "unknown rail %q", rail)
	}

	if baseStars <= 0 {
		return model.Quote{}, apperr.New(apperr.KindInvalidAmount, "baseStars must be positive")
	}
	return s.Quote(baseStars, rail), nil
}

// RailInfo описывает доступность канала оплаты.
type RailInfo struct {
	ID         model.Rail `json:"id"`
	Enabled    bool       `json:"enabled"`
	FeePercent int        `json:"feePercent"`
}

// Rails возвращает список каналов оплаты; основной канал - звёзды.
func (s *Service) Rails() []RailInfo {
	return []RailInfo{
		{ID: model.RailStars, Enabled: true, FeePercent: s.cfg.StarsFeePercent},
		{ID: model.RailTonUSDT, Enabled: s.cfg.TonUSDTEnabled},
	}
}
