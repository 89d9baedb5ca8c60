// Package model содержит доменные сущности леджера звёзд.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// User - учётная запись пользователя мини-приложения.
type User struct {
	ID             int64
	TelegramUserID string
	Username       *string
	ReferralCode   *string
	ReferredBy     *int64
}

// Balance - баланс пользователя в звёздах.
type Balance struct {
	Total     int64 `json:"total"`
	Held      int64 `json:"held"`
	Available int64 `json:"available"`
}

// NewBalance собирает баланс из общей и зарезервированной суммы.
func NewBalance(total, held int64) Balance {
	return Balance{Total: total, Held: held, Available: total - held}
}

// EntryType - тип записи журнала.
type EntryType string

const (
	EntryCredit          EntryType = "credit"
	EntryDebit           EntryType = "debit"
	EntryHold            EntryType = "hold"
	EntryRelease         EntryType = "release"
	EntryAdminCredit     EntryType = "admin_credit"
	EntryDemoPurchase    EntryType = "demo_purchase"
	EntryReferralCredit  EntryType = "referral_credit"
	EntryWithdrawHold    EntryType = "withdraw_hold"
	EntryWithdrawDebit   EntryType = "withdraw_debit"
	EntryWithdrawRelease EntryType = "withdraw_release"
)

// Типы ссылок, которыми помечаются записи журнала.
const (
	RefTask         = "task"
	RefSkillCheck   = "skill_check"
	RefPaymentEvent = "payment_event"
	RefWithdrawal   = "withdrawal"
	RefAdminGrant   = "admin_grant"
	RefDemoSkill    = "demo_skill"
	RefReferral     = "referral"
)

// LedgerEntry - неизменяемая запись журнала движения средств.
type LedgerEntry struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"userId"`
	Type      EntryType       `json:"type"`
	Amount    int64           `json:"amountStars"`
	RefType   string          `json:"refType"`
	RefID     string          `json:"refId"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Rail - платёжный канал.
type Rail string

const (
	RailStars   Rail = "stars"
	RailTonUSDT Rail = "ton_usdt"
)

// PaymentStatusPaid - единственный статус внешнего события, который зачисляется.
const PaymentStatusPaid = "paid"

// PaymentCredit описывает подтверждённое внешнее событие оплаты.
type PaymentCredit struct {
	ProviderEventID string
	Rail            Rail
	ChargeID        string
	TelegramUserID  string
	UserID          int64
	Amount          int64
	Status          string
	Payload         any
}

// CreditResult - результат зачисления: Applied=false означает повторную доставку события.
type CreditResult struct {
	Applied         bool   `json:"applied"`
	Amount          int64  `json:"creditedStars"`
	Idempotent      bool   `json:"idempotent,omitempty"`
	UserID          int64  `json:"-"`
	ProviderEventID string `json:"-"`
}

// HoldStatus - статус резерва под операцию.
type HoldStatus string

const (
	HoldOpen    HoldStatus = "open"
	HoldSettled HoldStatus = "settled"
)

// Hold - открытый или закрытый резерв по ссылке (refType, refID).
type Hold struct {
	ID         string
	UserID     int64
	RefType    string
	RefID      string
	Amount     int64
	Status     HoldStatus
	DeadlineAt time.Time
	CreatedAt  time.Time
}

// Settlement - итог закрытия резерва.
type Settlement struct {
	Debited  int64 `json:"debitedStars"`
	Released int64 `json:"releasedStars"`
}

// WithdrawalStatus описывает состояние заявки на вывод.
type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "pending"
	WithdrawalApproved WithdrawalStatus = "approved"
	WithdrawalRejected WithdrawalStatus = "rejected"
)

// Decision - решение администратора по заявке.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Withdrawal - заявка на вывод средств.
type Withdrawal struct {
	ID             string           `json:"id"`
	UserID         int64            `json:"userId"`
	Amount         int64            `json:"amountStars"`
	Status         WithdrawalStatus `json:"status"`
	RequestedAt    time.Time        `json:"requestedAt"`
	AvailableAt    time.Time        `json:"availableAt"`
	DecidedAt      *time.Time       `json:"decidedAt,omitempty"`
	DecidedBy      *string          `json:"decidedBy,omitempty"`
	DecisionReason *string          `json:"decisionReason,omitempty"`
}

// OrderStatus - статус заказа пополнения звёздами.
type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderPaid     OrderStatus = "paid"
	OrderExpired  OrderStatus = "expired"
	OrderCanceled OrderStatus = "canceled"
)

// StarsOrder - заказ пополнения через нативный платёж звёздами.
type StarsOrder struct {
	ID             string      `json:"orderId"`
	UserID         int64       `json:"userId"`
	TelegramUserID string      `json:"telegramUserId"`
	Amount         int64       `json:"amountStars"`
	InvoicePayload string      `json:"invoicePayload"`
	InvoiceLink    string      `json:"invoiceLink,omitempty"`
	Status         OrderStatus `json:"status"`
	ChargeID       *string     `json:"chargeId,omitempty"`
	ExpiresAt      time.Time   `json:"expiresAt"`
}

// StarsPayment - подтверждённый Telegram платёж звёздами.
type StarsPayment struct {
	ChargeID       string
	TelegramUserID string
	Amount         int64
	InvoicePayload string
	Raw            any
}

// IntentStatus - статус намерения оплаты в стейблкоине.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentConfirmed IntentStatus = "confirmed"
	IntentExpired   IntentStatus = "expired"
	IntentCanceled  IntentStatus = "canceled"
)

// CryptoIntent - ожидаемый перевод TON/USDT.
type CryptoIntent struct {
	ID                 string          `json:"intentId"`
	UserID             int64           `json:"userId"`
	Rail               Rail            `json:"rail"`
	AmountUSDT         decimal.Decimal `json:"amountUsdt"`
	AmountStars        int64           `json:"creditStars"`
	PaymentMemo        string          `json:"paymentMemo"`
	DestinationAddress string          `json:"destinationAddress"`
	Status             IntentStatus    `json:"status"`
	TxHash             *string         `json:"txHash,omitempty"`
	ExpiresAt          time.Time       `json:"expiresAt"`
}

// IntentConfirmation - подтверждение перевода администратором.
type IntentConfirmation struct {
	IntentID   string
	TxHash     string
	RawPayload map[string]any
	AdminID    string
}

// ReferralEarning - одна выплата по реферальной цепочке.
type ReferralEarning struct {
	UserID        int64
	SourceUserID  int64
	SourceEventID string
	Level         int
	Amount        int64
	Pct           int
}

// ChainEntry - предок пользователя на заданном уровне.
type ChainEntry struct {
	UserID int64
	Level  int
}

// ReferralLevelStats - статистика по уровню реферальной программы.
type ReferralLevelStats struct {
	Level  int   `json:"level"`
	Count  int64 `json:"count"`
	Earned int64 `json:"earned"`
	Pct    int   `json:"pct"`
}

// ReferralStats - сводка реферальной программы пользователя.
type ReferralStats struct {
	Code          string               `json:"code"`
	Link          string               `json:"link"`
	TotalReferred int64                `json:"totalReferred"`
	TotalEarned   int64                `json:"totalEarned"`
	Levels        []ReferralLevelStats `json:"levels"`
}

// Quote - расчёт стоимости с комиссией канала.
type Quote struct {
	Rail       Rail  `json:"rail"`
	BaseStars  int64 `json:"baseStars"`
	FeePercent int   `json:"feePercent"`
	FeeStars   int64 `json:"feeStars"`
	TotalStars int64 `json:"totalStars"`
}

// AuditEntry - запись журнала аудита.
type AuditEntry struct {
	ActorType  string
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Metadata   map[string]any
}

// Типы акторов аудита.
const (
	ActorUser   = "user"
	ActorSystem = "system"
	ActorAdmin  = "admin"
)
