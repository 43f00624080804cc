// Package premiumaccess предоставляет маршруты для основного приложения.
package premiumaccess

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/premium-access/internal/config"
	"github.com/magabrotheeeer/premium-access/internal/http/handlers/access/check"
	"github.com/magabrotheeeer/premium-access/internal/http/handlers/access/health"
	"github.com/magabrotheeeer/premium-access/internal/http/handlers/admin/grant"
	"github.com/magabrotheeeer/premium-access/internal/http/handlers/admin/stats"
	"github.com/magabrotheeeer/premium-access/internal/http/handlers/entitlement/cancel"
	"github.com/magabrotheeeer/premium-access/internal/http/handlers/entitlement/freeperiod"
	"github.com/magabrotheeeer/premium-access/internal/http/handlers/entitlement/status"
	"github.com/magabrotheeeer/premium-access/internal/http/handlers/entitlement/trial"
	"github.com/magabrotheeeer/premium-access/internal/http/handlers/payment/paymentcheck"
	"github.com/magabrotheeeer/premium-access/internal/http/handlers/payment/paymentcreate"
	"github.com/magabrotheeeer/premium-access/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/premium-access/internal/http/middlewarectx"
	"github.com/magabrotheeeer/premium-access/internal/lib/jwt"
	"github.com/magabrotheeeer/premium-access/internal/paymentprovider"
	accessservice "github.com/magabrotheeeer/premium-access/internal/services/access"
	entservice "github.com/magabrotheeeer/premium-access/internal/services/entitlement"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config,
	accessService *accessservice.Service, entitlementService *entservice.Service,
	providerClient *paymentprovider.Client, jwtMaker jwt.Maker) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	subscriptionTerm := time.Duration(cfg.SubscriptionDays) * 24 * time.Hour
	limiter := rate.NewLimiter(50, 100)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.RateLimitMiddleware(limiter, logger))

		r.Post("/access/check", check.New(logger, accessService).ServeHTTP)

		r.Post("/entitlement/trial", trial.New(logger, entitlementService).ServeHTTP)
		r.Post("/entitlement/free-period", freeperiod.New(logger, entitlementService).ServeHTTP)
		r.Post("/entitlement/cancel", cancel.New(logger, entitlementService).ServeHTTP)
		r.Get("/entitlement/status/{user_id}", status.New(logger, entitlementService).ServeHTTP)

		r.Post("/payments", paymentcreate.New(logger, entitlementService, providerClient, cfg.PriceMinor, cfg.ReturnURL).ServeHTTP)
		r.Get("/payments/check/{user_id}", paymentcheck.New(logger, entitlementService, providerClient, subscriptionTerm, cfg.PriceMinor).ServeHTTP)

		// Webhook endpoint подписан секретом провайдера, не JWT
		r.Post("/payments/webhook", paymentwebhook.New(logger, entitlementService, cfg.WebhookSecret, subscriptionTerm, cfg.PriceMinor).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(jwtMaker, logger))
			r.Use(middlewarectx.AdminOnlyMiddleware(logger))
			r.Post("/admin/grant", grant.New(logger, entitlementService).ServeHTTP)
			r.Get("/admin/stats", stats.New(logger, entitlementService).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
