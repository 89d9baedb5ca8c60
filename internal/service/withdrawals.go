package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
	"github.com/mmeshcher/stars-ledger/internal/model"
)

const adminWithdrawalsLimit = 100

// RequestWithdrawal резервирует amount и создаёт заявку на вывод,
// одобрить которую можно не раньше чем через WITHDRAW_HOLD_DAYS.
func (s *Service) RequestWithdrawal(ctx context.Context, userID, amount int64) (model.Withdrawal, error) {
	if amount <= 0 {
		return model.Withdrawal{}, apperr.New(apperr.KindInvalidAmount, "withdraw amount must be positive")
	}

	w, err := s.repo.CreateWithdrawal(ctx, userID, amount, s.now().Add(s.cfg.WithdrawHold()))
	s.metrics.LedgerOp("withdraw_request", err)
	if err != nil {
		return model.Withdrawal{}, err
	}

	s.logger.Info("withdrawal requested",
		zap.String("withdrawalId", w.ID),
		zap.Int64("userId", userID),
		zap.Int64("amountStars", amount),
		zap.Time("availableAt", w.AvailableAt),
	)
	return w, nil
}

// ListWithdrawals возвращает последние заявки для администратора.
func (s *Service) ListWithdrawals(ctx context.Context, status string) ([]model.Withdrawal, error) {
	switch model.WithdrawalStatus(status) {
	case "", model.WithdrawalPending, model.WithdrawalApproved, model.WithdrawalRejected:
	default:
		return nil, apperr.New(apperr.KindInvalidInput, "unknown status %q", status)
	}
	return s.repo.ListWithdrawals(ctx, status, adminWithdrawalsLimit)
}

// ListUserWithdrawals возвращает заявки пользователя.
func (s *Service) ListUserWithdrawals(ctx context.Context, userID int64) ([]model.Withdrawal, error) {
	return s.repo.ListWithdrawalsByUser(ctx, userID)
}

// DecideWithdrawal фиксирует решение администратора по заявке.
func (s *Service) DecideWithdrawal(ctx context.Context, id string, decision model.Decision, adminID, reason string) (model.Withdrawal, error) {
	w, err := s.repo.DecideWithdrawal(ctx, id, decision, adminID, reason, s.now())
	s.metrics.LedgerOp("withdraw_"+string(decision), err)
	if err != nil {
		return model.Withdrawal{}, err
	}

	s.logger.Info("withdrawal decided",
		zap.String("withdrawalId", id),
		zap.String("status", string(w.Status)),
		zap.String("adminId", adminID),
	)
	return w, nil
}
