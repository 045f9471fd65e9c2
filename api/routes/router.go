package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/gadgetswap-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/gadgetswap-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/gadgetswap-backend/api/controllers/webhooks"
	"github.com/angelmondragon/gadgetswap-backend/api/middleware"
	checkoutsvc "github.com/angelmondragon/gadgetswap-backend/internal/checkout"
	"github.com/angelmondragon/gadgetswap-backend/internal/orders"
	"github.com/angelmondragon/gadgetswap-backend/pkg/auth"
	"github.com/angelmondragon/gadgetswap-backend/pkg/config"
	"github.com/angelmondragon/gadgetswap-backend/pkg/idempotency"
	"github.com/angelmondragon/gadgetswap-backend/pkg/logger"
	"github.com/angelmondragon/gadgetswap-backend/pkg/metrics"
)

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Params carries everything the HTTP surface needs. Nil stores disable the
// middleware that depends on them; leave them unset rather than passing a
// typed nil.
type Params struct {
	Config    *config.Config
	Logger    *logger.Logger
	Readiness map[string]controllers.Pinger

	IdempotencyStore idempotency.Store
	RateLimiter      rateLimiter

	Orders   orders.Service
	Checkout checkoutsvc.Service
	Webhooks webhookcontrollers.PaymentWebhookService

	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg, p.HTTPMetrics),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.FrontendURL, !cfg.App.IsProd()),
	)

	cartPolicy := middleware.NewRateLimitPolicy("cart", cfg.RateLimit.Window, cfg.RateLimit.CartLimit)
	checkoutPolicy := middleware.NewRateLimitPolicy("checkout", cfg.RateLimit.Window, cfg.RateLimit.CheckoutLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, p.Readiness, logg))
	})
	if p.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", p.MetricsHandler)
	}

	// Authenticated by the processor signature, never by a bearer token.
	r.Post("/webhooks/payment", webhookcontrollers.PaymentWebhook(p.Webhooks, logg))

	cartIdem := middleware.Idempotency(p.IdempotencyStore, middleware.CartIdempotencyTTL, logg)
	payIdem := middleware.Idempotency(p.IdempotencyStore, middleware.PaymentIdempotencyTTL, logg)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth, logg))

		r.Route("/orders", func(r chi.Router) {
			r.With(middleware.RateLimit(cartPolicy, p.RateLimiter, logg), cartIdem).
				Post("/current", ordercontrollers.AddItem(p.Orders, logg))
			r.Get("/current", ordercontrollers.Current(p.Orders, logg))
			r.Get("/current/search", ordercontrollers.SearchCurrent(p.Orders, logg))
			r.Get("/previous", ordercontrollers.Previous(p.Orders, logg))
			r.Get("/previous/search", ordercontrollers.SearchPrevious(p.Orders, logg))

			r.Route("/{orderId}", func(r chi.Router) {
				r.With(payIdem).Post("/cancel", ordercontrollers.Cancel(p.Orders, logg))
				r.With(cartIdem).Post("/checkout", ordercontrollers.Checkout(p.Orders, logg))
				r.With(middleware.RateLimit(checkoutPolicy, p.RateLimiter, logg), payIdem).
					Post("/complete", ordercontrollers.Complete(p.Checkout, logg))
				r.With(middleware.RequireRole(logg, auth.RoleAdmin)).
					Delete("/", ordercontrollers.Purge(p.Orders, logg))
			})
		})

		r.With(middleware.RateLimit(checkoutPolicy, p.RateLimiter, logg), payIdem).
			Post("/payments/checkout-session", controllers.CheckoutSession(p.Checkout, logg))
	})

	return r
}
