// Package config содержит логику чтения конфигурации сервиса леджера звёзд.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	TelegramBotToken   string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIAddress string `env:"TELEGRAM_API_ADDRESS" envDefault:"https://api.telegram.org"`
	BotUsername        string `env:"BOT_USERNAME" envDefault:"SkillsMarketplacebot"`
	WebhookSecret      string `env:"WEBHOOK_SECRET_TOKEN"`
	AdminToken         string `env:"BILLING_ADMIN_TOKEN"`
	SessionSecret      string `env:"SESSION_SECRET"`

	WithdrawHoldDays int `env:"WITHDRAW_HOLD_DAYS" envDefault:"21"`
	StarsFeePercent  int `env:"STARS_PLATFORM_FEE_PERCENT" envDefault:"30"`

	TonUSDTEnabled  bool            `env:"TON_USDT_ENABLED" envDefault:"true"`
	TonUSDTWallet   string          `env:"TON_USDT_WALLET"`
	USDTToStarsRate decimal.Decimal `env:"USDT_TO_STARS_RATE" envDefault:"100"`

	ReferralL1Pct     int  `env:"REFERRAL_L1_PCT" envDefault:"10"`
	ReferralL2Pct     int  `env:"REFERRAL_L2_PCT" envDefault:"5"`
	ReferralL3Pct     int  `env:"REFERRAL_L3_PCT" envDefault:"2"`
	ReferralOnPayment bool `env:"REFERRAL_ON_PAYMENT" envDefault:"true"`

	OrderTTL           time.Duration `env:"ORDER_TTL" envDefault:"30m"`
	IntentTTL          time.Duration `env:"INTENT_TTL" envDefault:"30m"`
	HoldTTL            time.Duration `env:"HOLD_TTL" envDefault:"15m"`
	MeteredCallTimeout time.Duration `env:"METERED_CALL_TIMEOUT" envDefault:"60s"`
	SweepSchedule      string        `env:"SWEEP_SCHEDULE" envDefault:"@every 1m"`

	RateLimitRPS   int `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST" envDefault:"20"`
}

// ReferralPercents возвращает проценты по уровням 1..3.
func (c *Config) ReferralPercents() [3]int {
	return [3]int{c.ReferralL1Pct, c.ReferralL2Pct, c.ReferralL3Pct}
}

// WithdrawHold возвращает обязательный срок удержания вывода.
func (c *Config) WithdrawHold() time.Duration {
	return time.Duration(c.WithdrawHoldDays) * 24 * time.Hour
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// holdSettleMargin - запас на списание удержания после завершения платного вызова.
const holdSettleMargin = 30 * time.Second

func (c *Config) validate() error {
	if c.WithdrawHoldDays <= 0 {
		return errors.New("WITHDRAW_HOLD_DAYS must be positive")
	}
	if c.StarsFeePercent < 0 || c.StarsFeePercent > 100 {
		return errors.New("STARS_PLATFORM_FEE_PERCENT must be within 0..100")
	}
	for i, pct := range c.ReferralPercents() {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("REFERRAL_L%d_PCT must be within 0..100", i+1)
		}
	}
	if !c.USDTToStarsRate.IsPositive() {
		return errors.New("USDT_TO_STARS_RATE must be positive")
	}
	if c.OrderTTL <= 0 || c.IntentTTL <= 0 || c.HoldTTL <= 0 {
		return errors.New("ttl values must be positive")
	}
	if c.MeteredCallTimeout <= 0 {
		return errors.New("METERED_CALL_TIMEOUT must be positive")
	}
	// Удержание не должно истечь, пока платный вызов ещё может завершиться и списать его.
	if c.HoldTTL < c.MeteredCallTimeout+holdSettleMargin {
		return fmt.Errorf("HOLD_TTL must be at least METERED_CALL_TIMEOUT + %s", holdSettleMargin)
	}
	return nil
}
