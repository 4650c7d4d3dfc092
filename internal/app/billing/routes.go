package billing

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/coin-billing/internal/http/handlers/admin/adjust"
	"github.com/magabrotheeeer/coin-billing/internal/http/handlers/admin/bonus"
	"github.com/magabrotheeeer/coin-billing/internal/http/handlers/admin/login"
	"github.com/magabrotheeeer/coin-billing/internal/http/handlers/admin/reconcile"
	"github.com/magabrotheeeer/coin-billing/internal/http/handlers/admin/servicetoken"
	"github.com/magabrotheeeer/coin-billing/internal/http/handlers/billing/charge"
	"github.com/magabrotheeeer/coin-billing/internal/http/handlers/health"
	"github.com/magabrotheeeer/coin-billing/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/coin-billing/internal/http/handlers/pricing/catalog"
	"github.com/magabrotheeeer/coin-billing/internal/http/handlers/wallet/balance"
	"github.com/magabrotheeeer/coin-billing/internal/http/handlers/wallet/history"
	"github.com/magabrotheeeer/coin-billing/internal/http/middlewarectx"
)

const (
	loginAttemptsPerSecond = 0.2
	loginBurst             = 5
)

// WalletService — операции кошелька, доступные через HTTP.
type WalletService interface {
	balance.Service
	adjust.Service
	bonus.Service
}

// LedgerService — чтение и сверка журнала.
type LedgerService interface {
	history.Service
	reconcile.Service
}

// TokenService выпускает и проверяет токены операторов и сервисных клиентов.
type TokenService interface {
	login.TokenMaker
	middlewarectx.TokenParser
	servicetoken.Issuer
	middlewarectx.ServiceTokenParser
}

// Handlers — зависимости HTTP-маршрутов.
type Handlers struct {
	Spend         charge.Service
	Wallets       WalletService
	Ledger        LedgerService
	Credit        paymentwebhook.Service
	Prices        catalog.Source
	Health        health.Checker
	Operators     login.Operators
	Tokens        TokenService
	ChargeLimiter *middlewarectx.KeyedLimiter
	WebhookSecret string
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, h Handlers) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	loginLimiter := middlewarectx.NewKeyedLimiter(loginAttemptsPerSecond, loginBurst)

	var limiter charge.Limiter
	if h.ChargeLimiter != nil {
		limiter = h.ChargeLimiter
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/prices", catalog.New(logger, h.Prices).ServeHTTP)

		// Ручки бота, закрыты сервисным токеном
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.ServiceMiddleware(h.Tokens, logger))
			r.Post("/charges", charge.New(logger, h.Spend, limiter).ServeHTTP)
			r.Get("/wallets/{user_id}", balance.New(logger, h.Wallets).ServeHTTP)
			r.Get("/wallets/{user_id}/history", history.New(logger, h.Ledger).ServeHTTP)
		})

		// Webhook платёжного провайдера, проверяется подписью
		r.Post("/payments/webhook", paymentwebhook.New(logger, h.Credit, h.WebhookSecret).ServeHTTP)

		r.Route("/admin", func(r chi.Router) {
			r.With(middlewarectx.RateLimitMiddleware(logger, loginLimiter, middlewarectx.ClientKey)).
				Post("/login", login.New(logger, h.Operators, h.Tokens).ServeHTTP)

			// Группа с JWT оператора
			r.Group(func(r chi.Router) {
				r.Use(middlewarectx.JWTMiddleware(h.Tokens, logger))
				r.Post("/adjust", adjust.New(logger, h.Wallets).ServeHTTP)
				r.Post("/bonus", bonus.New(logger, h.Wallets).ServeHTTP)
				r.Get("/reconcile/{user_id}", reconcile.New(logger, h.Ledger).ServeHTTP)
				r.Post("/service-tokens", servicetoken.New(logger, h.Tokens).ServeHTTP)
			})
		})
	})

	r.Method(http.MethodGet, "/health", health.New(logger, h.Health))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
