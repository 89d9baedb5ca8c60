package service

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepBatch = 100

// StartSweeper запускает периодическую сверку по расписанию SWEEP_SCHEDULE.
// Сверка останавливается вместе с ctx; возвращённый канал закрывается,
// когда последний запуск завершён.
func (s *Service) StartSweeper(ctx context.Context) (<-chan struct{}, error) {
	c := cron.New()

	_, err := c.AddFunc(s.cfg.SweepSchedule, func() {
		if err := s.Sweep(ctx); err != nil {
			s.logger.Error("sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sweeper: %w", err)
	}

	c.Start()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return done, nil
}

// Sweep освобождает резервы, не закрытые к сроку, и помечает просроченные заказы и намерения.
func (s *Service) Sweep(ctx context.Context) error {
	now := s.now()

	holds, err := s.repo.ListExpiredHolds(ctx, now, sweepBatch)
	if err != nil {
		return err
	}

	var released int64
	for _, h := range holds {
		if _, err := s.repo.ReleaseExpiredHold(ctx, h); err != nil {
			s.logger.Error("release expired hold failed",
				zap.Error(err),
				zap.String("holdId", h.ID),
				zap.Int64("userId", h.UserID),
				zap.String("refType", h.RefType),
				zap.String("refId", h.RefID),
			)
			continue
		}
		released++
		s.logger.Warn("expired hold released",
			zap.String("holdId", h.ID),
			zap.Int64("userId", h.UserID),
			zap.String("refType", h.RefType),
			zap.String("refId", h.RefID),
			zap.Int64("amountStars", h.Amount),
		)
	}
	s.metrics.Swept("hold", released)

	orders, err := s.repo.ExpireStarsOrders(ctx, now)
	if err != nil {
		return err
	}
	s.metrics.Swept("stars_order", orders)

	intents, err := s.repo.ExpireCryptoIntents(ctx, now)
	if err != nil {
		return err
	}
	s.metrics.Swept("crypto_intent", intents)

	if released+orders+intents > 0 {
		s.logger.Info("sweep finished",
			zap.Int64("holdsReleased", released),
			zap.Int64("ordersExpired", orders),
			zap.Int64("intentsExpired", intents),
		)
	}
	return nil
}
