package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stripe/stripe-go/v84"

	"github.com/face10ai/credits-backend/api/controllers"
	webhookcontrollers "github.com/face10ai/credits-backend/api/controllers/webhooks"
	"github.com/face10ai/credits-backend/api/middleware"
	"github.com/face10ai/credits-backend/internal/accounts"
	"github.com/face10ai/credits-backend/internal/analysis"
	"github.com/face10ai/credits-backend/internal/anonymous"
	"github.com/face10ai/credits-backend/internal/billing"
	"github.com/face10ai/credits-backend/internal/credits"
	"github.com/face10ai/credits-backend/internal/referrals"
	"github.com/face10ai/credits-backend/pkg/config"
	"github.com/face10ai/credits-backend/pkg/idempotency"
	"github.com/face10ai/credits-backend/pkg/logger"
	"github.com/face10ai/credits-backend/pkg/redis"
	pkgstripe "github.com/face10ai/credits-backend/pkg/stripe"
)

const requestIdempotencyTTL = 24 * time.Hour

// Deps lists everything the router wires into controllers.
type Deps struct {
	Config    *config.Config
	Logger    *logger.Logger
	Readiness controllers.ReadinessDeps
	Redis     *redis.Client
	Sessions  middleware.SessionChecker
	Gatherer  prometheus.Gatherer

	Accounts  accounts.Service
	Credits   credits.Service
	Referrals referrals.Service
	Anonymous anonymous.Tracker
	Analysis  analysis.Service
	Billing   billing.Reconciler

	StripeWebhooks webhookcontrollers.StripeWebhookService
	StripeVerifier *pkgstripe.Client
	WebhookGuard   *idempotency.Guard
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	signupPolicy := middleware.NewRateLimitPolicy("signup", cfg.RateLimit.SignupWindow, cfg.RateLimit.SignupLimit)
	loginPolicy := middleware.NewRateLimitPolicy("login", cfg.RateLimit.LoginWindow, cfg.RateLimit.LoginLimit)
	analyzePolicy := middleware.NewRateLimitPolicy("analyze", cfg.RateLimit.AnalyzeWindow, cfg.RateLimit.AnalyzeLimit)

	limiter := windowCounterOrNil(deps.Redis)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.Readiness, logg))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhooks, verifierOrNil(deps.StripeVerifier), guardOrNil(deps.WebhookGuard), logg))

		r.Route("/auth", func(r chi.Router) {
			r.With(middleware.RateLimit(signupPolicy, limiter, logg)).Post("/signup", controllers.AuthSignup(deps.Accounts, logg))
			r.With(middleware.RateLimit(loginPolicy, limiter, logg)).Post("/login", controllers.AuthLogin(deps.Accounts, logg))
			r.Post("/refresh", controllers.AuthRefresh(deps.Accounts, logg))
			r.With(middleware.Auth(cfg.JWT, deps.Sessions, logg)).Post("/logout", controllers.AuthLogout(deps.Accounts, logg))
		})

		r.Post("/referrals/validate", controllers.ReferralValidate(deps.Referrals, logg))
		r.Get("/anonymous/remaining", controllers.AnonymousRemaining(deps.Anonymous, logg))
		r.Get("/ratings/{ratingId}", controllers.RatingGet(deps.Analysis, logg))

		r.With(
			middleware.RateLimit(analyzePolicy, limiter, logg),
			middleware.OptionalAuth(cfg.JWT, deps.Sessions, logg),
		).Post("/analyze", controllers.Analyze(deps.Analysis, deps.Anonymous, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))

			r.Get("/me", controllers.AccountMe(deps.Accounts, logg))
			r.Get("/credits", controllers.CreditsBalance(deps.Credits, logg))
			r.Get("/credits/history", controllers.CreditsHistory(deps.Credits, logg))
			r.Get("/referrals/stats", controllers.ReferralStats(deps.Referrals, deps.Accounts, logg))

			r.Route("/billing", func(r chi.Router) {
				idem := middleware.Idempotency(idempotencyStoreOrNil(deps.Redis), requestIdempotencyTTL, logg)
				r.With(idem).Post("/checkout", controllers.BillingCheckout(deps.Billing, logg))
				r.Post("/portal", controllers.BillingPortal(deps.Billing, logg))
				r.With(idem).Post("/cancel", controllers.BillingCancel(deps.Billing, logg))
				r.Post("/sync", controllers.BillingSync(deps.Billing, logg))
			})
		})
	})

	return r
}

type windowCounter interface {
	FixedWindow(ctx context.Context, scope string, limit int64, window time.Duration) (redis.Window, error)
}

type webhookVerifier interface {
	VerifyWebhook(payload []byte, header string) (stripe.Event, error)
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// The helpers below keep nil pointers from becoming non-nil interfaces.

func windowCounterOrNil(c *redis.Client) windowCounter {
	if c == nil {
		return nil
	}
	return c
}

func idempotencyStoreOrNil(c *redis.Client) middleware.IdempotencyStore {
	if c == nil {
		return nil
	}
	return c
}

func verifierOrNil(c *pkgstripe.Client) webhookVerifier {
	if c == nil {
		return nil
	}
	return c
}

func guardOrNil(g *idempotency.Guard) webhookGuard {
	if g == nil {
		return nil
	}
	return g
}
