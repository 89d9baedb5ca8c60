package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/stars-ledger/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса леджера звёзд.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	limiter := custommiddleware.NewRateLimiter(h.cfg.RateLimitRPS, h.cfg.RateLimitBurst, h.logger)

	r.Route("/api", func(r chi.Router) {
		r.Route("/pricing", func(r chi.Router) {
			r.Use(limiter.Handler)
			r.Get("/rails", h.GetRails)
			r.Post("/quote", h.Quote)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.session.Middleware)
			r.Use(limiter.Handler)

			r.Get("/me/balance", h.GetBalance)
			r.Get("/history", h.GetHistory)

			r.Post("/withdrawals/request", h.RequestWithdrawal)
			r.Get("/withdrawals", h.GetWithdrawals)

			r.Get("/referral", h.GetReferral)
			r.Post("/referral/apply", h.ApplyReferral)

			r.Post("/payments/stars/order", h.CreateStarsOrder)
			r.Post("/payments/ton-usdt/create-intent", h.CreateCryptoIntent)

			r.Post("/tasks/run", h.RunTask)
			r.Post("/skills/{skillID}/demo-purchase", h.PurchaseDemoSkill)
		})

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.WebhookSecret(h.cfg.WebhookSecret))

			r.Post("/payments/telegram/webhook", h.PaymentWebhook)
			r.Post("/payments/telegram/pre-checkout", h.PreCheckout)
		})

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.AdminToken(h.cfg.AdminToken))

			r.Get("/admin/withdrawals", h.ListWithdrawals)
			r.Post("/admin/withdrawals/{id}/approve", h.ApproveWithdrawal)
			r.Post("/admin/withdrawals/{id}/reject", h.RejectWithdrawal)
			r.Post("/admin/grant", h.Grant)
			r.Post("/payments/ton-usdt/confirm", h.ConfirmCryptoIntent)
		})
	})

	if h.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.cfg.Metrics)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
