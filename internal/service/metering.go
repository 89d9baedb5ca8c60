package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/stars-ledger/internal/apperr"
	"github.com/mmeshcher/stars-ledger/internal/model"
	"github.com/mmeshcher/stars-ledger/internal/validation"
)

const releaseTimeout = 10 * time.Second

// MeteredWork - внешняя операция с заранее неизвестной стоимостью.
// Возвращает фактическую базовую стоимость в звёздах без комиссии.
type MeteredWork func(ctx context.Context) (actualBase int64, err error)

// MeteredResult - итог тарифицируемой операции.
type MeteredResult struct {
	RefID      string           `json:"refId"`
	Estimated  model.Quote      `json:"estimated"`
	Actual     model.Quote      `json:"actual"`
	Settlement model.Settlement `json:"settlement"`
}

// RunMetered резервирует оценку стоимости с комиссией, выполняет work вне транзакции
// с ограничением METERED_CALL_TIMEOUT и закрывает резерв фактической стоимостью,
// не превышающей оценку. При ошибке work резерв освобождается полностью; если и это
// не удалось, резерв остаётся открытым до сверки.
func (s *Service) RunMetered(ctx context.Context, userID int64, refType, refID string, estimateBase int64, work MeteredWork) (MeteredResult, error) {
	if estimateBase <= 0 {
		return MeteredResult{}, apperr.New(apperr.KindInvalidAmount, "invalid estimate %d", estimateBase)
	}

	res := MeteredResult{RefID: refID, Estimated: s.Quote(estimateBase, model.RailStars)}
	holdAmount := res.Estimated.TotalStars

	if _, err := s.HoldForRef(ctx, userID, refType, refID, holdAmount); err != nil {
		return MeteredResult{}, err
	}

	workCtx, cancel := context.WithTimeout(ctx, s.cfg.MeteredCallTimeout)
	started := s.now()
	actualBase, err := work(workCtx)
	cancel()
	s.metrics.ObserveMetered(s.now().Sub(started).Seconds())

	if err != nil {
		s.releaseBestEffort(ctx, userID, refType, refID, holdAmount)
		return MeteredResult{}, fmt.Errorf("metered call %s %s: %w", refType, refID, err)
	}

	if actualBase < 0 {
		actualBase = 0
	}
	if actualBase > estimateBase {
		actualBase = estimateBase
	}
	res.Actual = s.Quote(actualBase, model.RailStars)

	res.Settlement, err = s.SettleRef(ctx, userID, refType, refID, holdAmount, res.Actual.TotalStars)
	if err != nil {
		s.logger.Error("settle after metered call failed, hold left for sweeper",
			zap.Error(err),
			zap.Int64("userId", userID),
			zap.String("refType", refType),
			zap.String("refId", refID),
		)
		return MeteredResult{}, err
	}
	return res, nil
}

// releaseBestEffort освобождает резерв после сбоя внешней операции.
// Отмена исходного запроса не должна мешать освобождению.
func (s *Service) releaseBestEffort(ctx context.Context, userID int64, refType, refID string, holdAmount int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if _, err := s.ReleaseRef(ctx, userID, refType, refID, holdAmount); err != nil {
		s.metrics.ReleaseFailed()
		s.logger.Error("best-effort hold release failed",
			zap.Error(err),
			zap.Int64("userId", userID),
			zap.String("refType", refType),
			zap.String("refId", refID),
			zap.Int64("holdStars", holdAmount),
		)
	}
}

// TaskRunner выполняет пользовательскую задачу.
type TaskRunner interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// LocalRunner - исполнитель по умолчанию, не обращающийся к внешним провайдерам.
type LocalRunner struct{}

// Run возвращает краткую сводку по запросу.
func (LocalRunner) Run(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("processed %d characters", utf8.RuneCountInString(prompt)), nil
}

// TaskResult - итог выполнения задачи.
type TaskResult struct {
	MeteredResult
	TaskID     string `json:"taskId"`
	Status     string `json:"status"`
	ResultText string `json:"resultText"`
}

// RunTask выполняет задачу с оплатой по факту: одна звезда за каждые начатые 300 символов запроса,
// но не больше оценки.
func (s *Service) RunTask(ctx context.Context, userID int64, prompt string, estimateBase int64) (TaskResult, error) {
	if !validation.IsPrompt(prompt) {
		return TaskResult{}, apperr.New(apperr.KindInvalidInput, "prompt must be 1..%d characters", validation.MaxPromptRunes)
	}

	res := TaskResult{TaskID: uuid.NewString()}

	metered, err := s.RunMetered(ctx, userID, model.RefTask, res.TaskID, estimateBase, func(ctx context.Context) (int64, error) {
		text, err := s.runner.Run(ctx, prompt)
		if err != nil {
			return 0, err
		}
		res.ResultText = text
		return taskCost(prompt), nil
	})
	if err != nil {
		return TaskResult{}, err
	}

	res.MeteredResult = metered
	res.Status = "done"
	return res, nil
}

func taskCost(prompt string) int64 {
	n := int64(utf8.RuneCountInString(prompt))
	cost := (n + 299) / 300
	if cost < 1 {
		cost = 1
	}
	return cost
}
