package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
	"github.com/mmeshcher/stars-ledger/internal/model"
)

const (
	referralDepth       = 3
	referralCodeLen     = 8
	referralCodeMinLen  = 4
	referralCodeMaxLen  = 32
	referralCodeRetries = 5
	referralAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// PayReferralEarnings выплачивает предкам sourceUserID их долю от amount.
// Каждый уровень зачисляется в собственной транзакции; ошибки уровня логируются
// и не влияют на остальные уровни.
func (s *Service) PayReferralEarnings(ctx context.Context, sourceUserID, amount int64, sourceEventID string) {
	chain, err := s.repo.ReferralChain(ctx, sourceUserID, referralDepth)
	if err != nil {
		s.logger.Error("resolve referral chain failed", zap.Error(err), zap.Int64("sourceUserId", sourceUserID))
		return
	}

	pcts := s.cfg.ReferralPercents()
	for _, anc := range chain {
		pct := pcts[anc.Level-1]
		earn := amount * int64(pct) / 100
		if earn <= 0 {
			continue
		}

		applied, err := s.repo.PayReferralLevel(ctx, model.ReferralEarning{
			UserID:        anc.UserID,
			SourceUserID:  sourceUserID,
			SourceEventID: sourceEventID,
			Level:         anc.Level,
			Amount:        earn,
			Pct:           pct,
		})

		fields := []zap.Field{
			zap.Int64("userId", anc.UserID),
			zap.Int("level", anc.Level),
			zap.Int64("earnStars", earn),
			zap.String("sourceEventId", sourceEventID),
		}
		switch {
		case err != nil:
			s.metrics.ReferralPayout(anc.Level, "error")
			s.logger.Error("referral earning failed", append(fields, zap.Error(err))...)
		case !applied:
			s.metrics.ReferralPayout(anc.Level, "duplicate")
		default:
			s.metrics.ReferralPayout(anc.Level, "paid")
			s.logger.Info("referral earning paid", fields...)
		}
	}
}

// ReferralLink возвращает ссылку на бота с реферальным кодом.
func (s *Service) ReferralLink(code string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", s.cfg.BotUsername, code)
}

// EnsureReferralCode возвращает реферальный код пользователя, создавая его при необходимости.
func (s *Service) EnsureReferralCode(ctx context.Context, userID int64) (string, error) {
	var lastErr error
	for i := 0; i < referralCodeRetries; i++ {
		candidate, err := newReferralCode()
		if err != nil {
			return "", err
		}

		code, err := s.repo.EnsureReferralCode(ctx, userID, candidate)
		if err == nil {
			return code, nil
		}
		if apperr.KindOf(err) != apperr.KindConflict {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("allocate referral code: %w", lastErr)
}

func newReferralCode() (string, error) {
	buf := make([]byte, referralCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate referral code: %w", err)
	}
	for i, b := range buf {
		buf[i] = referralAlphabet[int(b)%len(referralAlphabet)]
	}
	return string(buf), nil
}

// ApplyReferralCode привязывает пользователя к пригласившему по коду.
// Возвращает false, если код не подошёл или пригласивший уже назначен.
func (s *Service) ApplyReferralCode(ctx context.Context, userID int64, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if len(code) < referralCodeMinLen || len(code) > referralCodeMaxLen {
		return false, apperr.New(apperr.KindInvalidInput, "invalid referral code")
	}
	return s.repo.ApplyReferralCode(ctx, userID, code)
}

// ReferralStats возвращает сводку реферальной программы пользователя.
func (s *Service) ReferralStats(ctx context.Context, userID int64) (model.ReferralStats, error) {
	code, err := s.EnsureReferralCode(ctx, userID)
	if err != nil {
		return model.ReferralStats{}, err
	}

	referred, byLevel, err := s.repo.ReferralSummary(ctx, userID)
	if err != nil {
		return model.ReferralStats{}, err
	}

	stats := model.ReferralStats{
		Code:          code,
		Link:          s.ReferralLink(code),
		TotalReferred: referred,
		Levels:        make([]model.ReferralLevelStats, 0, referralDepth),
	}
	for i, pct := range s.cfg.ReferralPercents() {
		level := byLevel[i+1]
		level.Level = i + 1
		level.Pct = pct
		stats.TotalEarned += level.Earned
		stats.Levels = append(stats.Levels, level)
	}
	return stats, nil
}
