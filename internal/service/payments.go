package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
	"github.com/mmeshcher/stars-ledger/internal/botapi"
	"github.com/mmeshcher/stars-ledger/internal/invoice"
	"github.com/mmeshcher/stars-ledger/internal/model"
	"github.com/mmeshcher/stars-ledger/internal/validation"
)

const (
	botCallTimeout    = 5 * time.Second
	maxBotRetryAfter  = 5 * time.Second
	preCheckoutFailed = "Payment validation failed. Please refresh and retry."
)

// PaymentEvent - подтверждённое событие оплаты, доставленное вебхуком.
type PaymentEvent struct {
	EventID        string
	ChargeID       string
	InvoicePayload string
	TelegramUserID string
	Amount         int64
	Status         string
	Raw            any
}

// IngestResult - итог обработки события оплаты.
type IngestResult struct {
	model.CreditResult
	Ignored bool `json:"ignored,omitempty"`
}

// StarsOrderResult - созданный заказ пополнения вместе с расчётом стоимости.
type StarsOrderResult struct {
	model.StarsOrder
	Pricing model.Quote `json:"pricing"`
}

// CreateStarsOrder создаёт заказ пополнения звёздами с подписанной полезной нагрузкой счёта.
// Если Bot API настроен, к заказу прикладывается ссылка на счёт.
func (s *Service) CreateStarsOrder(ctx context.Context, userID, baseStars int64) (StarsOrderResult, error) {
	if baseStars <= 0 {
		return StarsOrderResult{}, apperr.New(apperr.KindInvalidAmount, "invalid amount %d", baseStars)
	}

	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return StarsOrderResult{}, err
	}

	quote := s.Quote(baseStars, model.RailStars)
	order := model.StarsOrder{
		ID:             uuid.NewString(),
		UserID:         userID,
		TelegramUserID: user.TelegramUserID,
		Amount:         quote.TotalStars,
		Status:         model.OrderPending,
		ExpiresAt:      s.now().Add(s.cfg.OrderTTL).Truncate(time.Second),
	}
	order.InvoicePayload = s.signer.Sign(invoice.Claims{
		OrderID:   order.ID,
		Amount:    order.Amount,
		ExpiresAt: order.ExpiresAt,
	})

	if err := s.repo.CreateStarsOrder(ctx, order); err != nil {
		return StarsOrderResult{}, err
	}

	if s.bot != nil && s.bot.Configured() {
		callCtx, cancel := context.WithTimeout(ctx, botCallTimeout)
		defer cancel()

		link, err := s.bot.CreateInvoiceLink(callCtx, botapi.InvoiceParams{
			Title:       fmt.Sprintf("%d stars", baseStars),
			Description: fmt.Sprintf("Top up balance with %d stars", baseStars),
			Payload:     order.InvoicePayload,
			Amount:      order.Amount,
		})
		if err != nil {
			return StarsOrderResult{}, fmt.Errorf("create invoice link: %w", err)
		}
		order.InvoiceLink = link
	}

	return StarsOrderResult{StarsOrder: order, Pricing: quote}, nil
}

// PreCheckout - запрос предварительной проверки платежа.
type PreCheckout struct {
	QueryID        string
	TelegramUserID string
	TotalAmount    int64
	InvoicePayload string
}

// ValidatePreCheckout проверяет, что платёж можно принять: подпись, сумма, срок и состояние заказа.
func (s *Service) ValidatePreCheckout(ctx context.Context, q PreCheckout) error {
	claims, err := s.signer.Verify(q.InvoicePayload, q.TotalAmount, s.now())
	if err != nil {
		return err
	}

	order, err := s.repo.GetStarsOrder(ctx, claims.OrderID)
	if err != nil {
		return err
	}

	switch {
	case order.Status != model.OrderPending:
		return apperr.New(apperr.KindConflict, "order %s already %s", order.ID, order.Status)
	case order.TelegramUserID != q.TelegramUserID:
		return apperr.New(apperr.KindConflict, "order %s belongs to another user", order.ID)
	case order.Amount != q.TotalAmount:
		return apperr.New(apperr.KindAmountMismatch, "order %s amount %d, requested %d", order.ID, order.Amount, q.TotalAmount)
	case order.InvoicePayload != q.InvoicePayload:
		return apperr.New(apperr.KindConflict, "order %s payload mismatch", order.ID)
	case s.now().After(order.ExpiresAt):
		return apperr.New(apperr.KindPayloadExpired, "order %s expired", order.ID)
	}
	return nil
}

// AnswerPreCheckout проверяет платёж и отправляет ответ в Bot API.
// Возвращает ошибку проверки, если платёж отклонён.
func (s *Service) AnswerPreCheckout(ctx context.Context, q PreCheckout) error {
	validationErr := s.ValidatePreCheckout(ctx, q)
	if validationErr != nil {
		s.logger.Info("pre-checkout rejected",
			zap.String("queryId", q.QueryID),
			zap.String("kind", apperr.KindOf(validationErr).String()),
			zap.Error(validationErr),
		)
	}

	if s.bot == nil || !s.bot.Configured() {
		return validationErr
	}

	ok := validationErr == nil
	answer := func() error {
		callCtx, cancel := context.WithTimeout(ctx, botCallTimeout)
		defer cancel()
		return s.bot.AnswerPreCheckoutQuery(callCtx, q.QueryID, ok, preCheckoutFailed)
	}

	err := answer()
	var retryErr *botapi.RetryAfterError
	if errors.As(err, &retryErr) && retryErr.After <= maxBotRetryAfter {
		timer := time.NewTimer(retryErr.After)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		err = answer()
	}
	if err != nil {
		s.logger.Error("answer pre-checkout failed", zap.String("queryId", q.QueryID), zap.Error(err))
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return validationErr
}

// IngestPaymentEvent зачисляет событие оплаты, доставленное вебхуком.
// События со счётом звёзд проходят через заказ; прочие зачисляются напрямую по EventID.
func (s *Service) IngestPaymentEvent(ctx context.Context, e PaymentEvent) (IngestResult, error) {
	if e.Status != model.PaymentStatusPaid {
		return IngestResult{Ignored: true}, nil
	}

	userID, err := s.repo.EnsureAccount(ctx, e.TelegramUserID, "")
	if err != nil {
		return IngestResult{}, err
	}

	if e.InvoicePayload != "" {
		res, err := s.ApplyStarsPayment(ctx, model.StarsPayment{
			ChargeID:       e.ChargeID,
			TelegramUserID: e.TelegramUserID,
			Amount:         e.Amount,
			InvoicePayload: e.InvoicePayload,
			Raw:            e.Raw,
		})
		return IngestResult{CreditResult: res}, err
	}

	if e.EventID == "" {
		return IngestResult{}, apperr.New(apperr.KindInvalidInput, "event id is required")
	}

	res, err := s.repo.CreditFromPayment(ctx, model.PaymentCredit{
		ProviderEventID: e.EventID,
		Rail:            model.RailStars,
		ChargeID:        e.ChargeID,
		TelegramUserID:  e.TelegramUserID,
		UserID:          userID,
		Amount:          e.Amount,
		Status:          e.Status,
		Payload:         e.Raw,
	})
	if err != nil {
		return IngestResult{}, err
	}
	s.afterCredit(ctx, model.RailStars, res)
	return IngestResult{CreditResult: res}, nil
}

// ApplyStarsPayment повторно проверяет полезную нагрузку счёта и зачисляет оплату заказа.
func (s *Service) ApplyStarsPayment(ctx context.Context, p model.StarsPayment) (model.CreditResult, error) {
	if p.ChargeID == "" {
		return model.CreditResult{}, apperr.New(apperr.KindInvalidInput, "charge id is required")
	}

	claims, err := s.signer.Verify(p.InvoicePayload, p.Amount, s.now())
	if err != nil {
		if apperr.KindOf(err) == apperr.KindPayloadExpired {
			s.logger.Warn("paid invoice with expired payload needs manual reconciliation",
				zap.String("chargeId", p.ChargeID),
				zap.String("telegramUserId", p.TelegramUserID),
				zap.Int64("amountStars", p.Amount),
			)
		}
		return model.CreditResult{}, err
	}

	res, err := s.repo.ApplyStarsPayment(ctx, claims.OrderID, p)
	if err != nil {
		return model.CreditResult{}, err
	}
	s.afterCredit(ctx, model.RailStars, res)
	return res, nil
}

// CreateCryptoIntent создаёт намерение оплаты TON/USDT.
func (s *Service) CreateCryptoIntent(ctx context.Context, userID int64, amountUSDT decimal.Decimal) (model.CryptoIntent, error) {
	if !s.cfg.TonUSDTEnabled {
		return model.CryptoIntent{}, apperr.New(apperr.KindRailDisabled, "TON USDT payments disabled")
	}
	if !validation.IsUSDTAmount(amountUSDT) {
		return model.CryptoIntent{}, apperr.New(apperr.KindInvalidAmount, "invalid USDT amount %s", amountUSDT)
	}

	amountUSDT = amountUSDT.Round(6)
	quote := s.Quote(s.USDTToStars(amountUSDT), model.RailTonUSDT)

	id := uuid.NewString()
	in := model.CryptoIntent{
		ID:                 id,
		UserID:             userID,
		Rail:               model.RailTonUSDT,
		AmountUSDT:         amountUSDT,
		AmountStars:        quote.TotalStars,
		PaymentMemo:        "tonusdt:" + id,
		DestinationAddress: s.cfg.TonUSDTWallet,
		Status:             model.IntentPending,
		ExpiresAt:          s.now().Add(s.cfg.IntentTTL),
	}

	if err := s.repo.CreateCryptoIntent(ctx, in); err != nil {
		return model.CryptoIntent{}, err
	}
	return in, nil
}

// ConfirmCryptoIntent подтверждает перевод по намерению от имени администратора.
func (s *Service) ConfirmCryptoIntent(ctx context.Context, c model.IntentConfirmation) (model.CreditResult, error) {
	if !validation.IsTxHash(c.TxHash) {
		return model.CreditResult{}, apperr.New(apperr.KindInvalidInput, "invalid txHash")
	}

	res, err := s.repo.ConfirmCryptoIntent(ctx, c, s.now())
	if err != nil {
		return model.CreditResult{}, err
	}
	s.afterCredit(ctx, model.RailTonUSDT, res)
	return res, nil
}

// AdminGrant начисляет звёзды пользователю от имени администратора.
func (s *Service) AdminGrant(ctx context.Context, adminID string, userID, amount int64, reason string) (string, error) {
	refID, err := s.repo.AdminGrant(ctx, adminID, userID, amount, reason)
	s.metrics.LedgerOp("admin_grant", err)
	if err != nil {
		return "", err
	}
	s.logger.Info("admin grant applied",
		zap.String("adminId", adminID),
		zap.Int64("userId", userID),
		zap.Int64("amountStars", amount),
	)
	return refID, nil
}

// PurchaseDemoSkill списывает стоимость демо-навыка.
func (s *Service) PurchaseDemoSkill(ctx context.Context, userID int64, skillID string, amount int64) error {
	err := s.repo.PurchaseDemoSkill(ctx, userID, skillID, amount)
	s.metrics.LedgerOp("demo_purchase", err)
	return err
}

// afterCredit учитывает зачисление и запускает реферальные выплаты для новых зачислений.
func (s *Service) afterCredit(ctx context.Context, rail model.Rail, res model.CreditResult) {
	s.metrics.PaymentCredit(string(rail), res.Applied)
	if !res.Applied {
		s.logger.Info("duplicate payment event ignored", zap.String("providerEventId", res.ProviderEventID))
		return
	}

	s.logger.Info("payment credited",
		zap.String("rail", string(rail)),
		zap.String("providerEventId", res.ProviderEventID),
		zap.Int64("userId", res.UserID),
		zap.Int64("amountStars", res.Amount),
	)

	if s.cfg.ReferralOnPayment {
		s.PayReferralEarnings(ctx, res.UserID, res.Amount, res.ProviderEventID)
	}
}
