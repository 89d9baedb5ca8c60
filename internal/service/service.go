// Package service реализует бизнес-логику леджера звёзд: резервирование под
// тарифицируемые операции, приём платежей, вывод средств и реферальные выплаты.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
	"github.com/mmeshcher/stars-ledger/internal/botapi"
	"github.com/mmeshcher/stars-ledger/internal/config"
	"github.com/mmeshcher/stars-ledger/internal/invoice"
	"github.com/mmeshcher/stars-ledger/internal/metrics"
	"github.com/mmeshcher/stars-ledger/internal/model"
	"github.com/mmeshcher/stars-ledger/internal/validation"
)

const defaultHistoryLimit = 50

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	EnsureAccount(ctx context.Context, telegramUserID, username string) (int64, error)
	GetUser(ctx context.Context, userID int64) (model.User, error)
	GetBalance(ctx context.Context, userID int64) (model.Balance, error)
	ListLedger(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error)

	HoldForRef(ctx context.Context, userID int64, refType, refID string, amount int64, deadline time.Time) (model.Hold, error)
	SettleRef(ctx context.Context, userID int64, refType, refID string, holdAmount, actual int64) (model.Settlement, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Hold, error)
	ReleaseExpiredHold(ctx context.Context, h model.Hold) (model.Settlement, error)

	CreditFromPayment(ctx context.Context, p model.PaymentCredit) (model.CreditResult, error)
	AdminGrant(ctx context.Context, adminID string, userID, amount int64, reason string) (string, error)
	PurchaseDemoSkill(ctx context.Context, userID int64, skillID string, amount int64) error

	CreateStarsOrder(ctx context.Context, o model.StarsOrder) error
	GetStarsOrder(ctx context.Context, id string) (model.StarsOrder, error)
	ApplyStarsPayment(ctx context.Context, orderID string, p model.StarsPayment) (model.CreditResult, error)
	ExpireStarsOrders(ctx context.Context, now time.Time) (int64, error)

	CreateCryptoIntent(ctx context.Context, in model.CryptoIntent) error
	ConfirmCryptoIntent(ctx context.Context, c model.IntentConfirmation, now time.Time) (model.CreditResult, error)
	ExpireCryptoIntents(ctx context.Context, now time.Time) (int64, error)

	CreateWithdrawal(ctx context.Context, userID, amount int64, availableAt time.Time) (model.Withdrawal, error)
	ListWithdrawals(ctx context.Context, status string, limit int) ([]model.Withdrawal, error)
	ListWithdrawalsByUser(ctx context.Context, userID int64) ([]model.Withdrawal, error)
	DecideWithdrawal(ctx context.Context, id string, decision model.Decision, adminID, reason string, now time.Time) (model.Withdrawal, error)

	ReferralChain(ctx context.Context, userID int64, depth int) ([]model.ChainEntry, error)
	PayReferralLevel(ctx context.Context, e model.ReferralEarning) (bool, error)
	EnsureReferralCode(ctx context.Context, userID int64, candidate string) (string, error)
	ApplyReferralCode(ctx context.Context, userID int64, code string) (bool, error)
	ReferralSummary(ctx context.Context, userID int64) (int64, map[int]model.ReferralLevelStats, error)
}

// BotAPI - исходящие вызовы Telegram Bot API.
type BotAPI interface {
	Configured() bool
	CreateInvoiceLink(ctx context.Context, p botapi.InvoiceParams) (string, error)
	AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error
}

// Service содержит бизнес-логику леджера звёзд.
type Service struct {
	repo    Repository
	bot     BotAPI
	cfg     *config.Config
	signer  *invoice.Signer
	logger  *zap.Logger
	metrics *metrics.Metrics
	runner  TaskRunner
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTaskRunner подменяет исполнителя задач.
func WithTaskRunner(r TaskRunner) Option {
	return func(s *Service) { s.runner = r }
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом Bot API.
func NewService(repo Repository, bot BotAPI, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:    repo,
		bot:     bot,
		cfg:     cfg,
		signer:  invoice.NewSigner(cfg.WebhookSecret),
		logger:  logger,
		metrics: m,
		runner:  LocalRunner{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// EnsureAccount создаёт пользователя по Telegram-идентификатору, если его ещё нет.
func (s *Service) EnsureAccount(ctx context.Context, telegramUserID, username string) (int64, error) {
	return s.repo.EnsureAccount(ctx, telegramUserID, username)
}

// GetBalance возвращает баланс пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (model.Balance, error) {
	return s.repo.GetBalance(ctx, userID)
}

// History возвращает последние limit записей журнала пользователя; limit=0 означает 50.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	if !validation.IsHistoryLimit(limit) {
		return nil, apperr.New(apperr.KindInvalidInput, "limit must be within 1..100")
	}
	return s.repo.ListLedger(ctx, userID, limit)
}

// HoldForRef резервирует amount под операцию со сроком закрытия HOLD_TTL.
func (s *Service) HoldForRef(ctx context.Context, userID int64, refType, refID string, amount int64) (model.Hold, error) {
	hold, err := s.repo.HoldForRef(ctx, userID, refType, refID, amount, s.now().Add(s.cfg.HoldTTL))
	s.metrics.LedgerOp("hold", err)
	return hold, err
}

// SettleRef закрывает резерв фактической стоимостью actual.
func (s *Service) SettleRef(ctx context.Context, userID int64, refType, refID string, holdAmount, actual int64) (model.Settlement, error) {
	settlement, err := s.repo.SettleRef(ctx, userID, refType, refID, holdAmount, actual)
	s.metrics.LedgerOp("settle", err)
	return settlement, err
}

// ReleaseRef полностью освобождает резерв.
func (s *Service) ReleaseRef(ctx context.Context, userID int64, refType, refID string, holdAmount int64) (model.Settlement, error) {
	return s.SettleRef(ctx, userID, refType, refID, holdAmount, 0)
}
