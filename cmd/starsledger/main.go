// Package main запускает HTTP-сервер сервиса леджера звёзд.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/stars-ledger/internal/botapi"
	"github.com/mmeshcher/stars-ledger/internal/config"
	"github.com/mmeshcher/stars-ledger/internal/handler"
	"github.com/mmeshcher/stars-ledger/internal/metrics"
	"github.com/mmeshcher/stars-ledger/internal/middleware"
	"github.com/mmeshcher/stars-ledger/internal/repository"
	"github.com/mmeshcher/stars-ledger/internal/service"
)

const shutdownTimeout = 5 * time.Second

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	bot := botapi.NewClient(cfg.TelegramAPIAddress, cfg.TelegramBotToken)
	if !bot.Configured() {
		sugar.Warn("TELEGRAM_BOT_TOKEN is empty, invoice links and pre-checkout answers are disabled")
	}
	if cfg.WebhookSecret == "" {
		sugar.Warn("WEBHOOK_SECRET_TOKEN is empty, payment webhooks will be rejected")
	}

	m := metrics.New()

	svc := service.NewService(repo, bot, cfg, logger, m)
	defer svc.Close()

	session := middleware.NewSessionMiddleware(cfg.SessionSecret)
	h := handler.NewHandler(svc, logger, session, handler.Config{
		AdminToken:     cfg.AdminToken,
		WebhookSecret:  cfg.WebhookSecret,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        m.Handler(),
	})

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Периодическая сверка зависших резервов и просроченных заказов
	g.Go(func() error {
		done, err := svc.StartSweeper(ctx)
		if err != nil {
			return err
		}
		<-done
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting stars ledger server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
