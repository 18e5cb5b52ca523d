package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/face10ai/credits-backend/api/controllers"
	"github.com/face10ai/credits-backend/api/routes"
	"github.com/face10ai/credits-backend/internal/accounts"
	"github.com/face10ai/credits-backend/internal/analysis"
	"github.com/face10ai/credits-backend/internal/anonymous"
	"github.com/face10ai/credits-backend/internal/billing"
	"github.com/face10ai/credits-backend/internal/credits"
	"github.com/face10ai/credits-backend/internal/referrals"
	stripewebhook "github.com/face10ai/credits-backend/internal/webhooks/stripe"
	"github.com/face10ai/credits-backend/pkg/auth/session"
	"github.com/face10ai/credits-backend/pkg/config"
	"github.com/face10ai/credits-backend/pkg/db"
	"github.com/face10ai/credits-backend/pkg/idempotency"
	"github.com/face10ai/credits-backend/pkg/logger"
	"github.com/face10ai/credits-backend/pkg/metrics"
	"github.com/face10ai/credits-backend/pkg/migrate"
	"github.com/face10ai/credits-backend/pkg/outbox"
	"github.com/face10ai/credits-backend/pkg/redis"
	"github.com/face10ai/credits-backend/pkg/scorer"
	pkgstripe "github.com/face10ai/credits-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	creditService, err := credits.NewService(credits.ServiceParams{
		Repo:              credits.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           ledgerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credit service", err)
		os.Exit(1)
	}

	referralService, err := referrals.NewService(referrals.ServiceParams{
		Repo:              referrals.NewRepository(dbClient.DB()),
		Credits:           creditService,
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Logger:            logg,
		Bonus:             cfg.Credits.ReferralBonus,
		AppURL:            cfg.App.PublicURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create referral service", err)
		os.Exit(1)
	}

	accountService, err := accounts.NewService(accounts.ServiceParams{
		Repo:              accounts.NewRepository(dbClient.DB()),
		Credits:           creditService,
		Referrals:         referralService,
		SessionManager:    sessionManager,
		TransactionRunner: dbClient,
		JWTConfig:         cfg.JWT,
		PasswordConfig:    cfg.Password,
		InitialCredits:    cfg.Credits.InitialSignupCredits,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create account service", err)
		os.Exit(1)
	}

	tracker, err := anonymous.NewTracker(anonymous.NewRepository(dbClient.DB()), anonymous.Config{
		MaxRatings:   cfg.Anonymous.MaxRatings,
		CookieMaxAge: cfg.Anonymous.CookieMaxAge,
		SecureCookie: !cfg.App.IsDev(),
	}, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create anonymous tracker", err)
		os.Exit(1)
	}

	scorerClient := scorer.NewClient(cfg.Scorer, scorer.WithLogger(logg))
	analysisService, err := analysis.NewService(analysis.ServiceParams{
		Repo:      analysis.NewRepository(dbClient.DB()),
		Credits:   creditService,
		Anonymous: tracker,
		Scorer:    scorerClient,
		Logger:    logg,
		Metrics:   ledgerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create analysis service", err)
		os.Exit(1)
	}

	var (
		provider       billing.Provider
		stripeVerifier *pkgstripe.Client
	)
	if stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg); err != nil {
		logg.Warn(logg.WithField(context.Background(), "error", err.Error()), "stripe not configured, billing endpoints disabled")
		if cfg.Stripe.Secret != "" {
			stripeVerifier = pkgstripe.NewWebhookVerifier(cfg.Stripe.Secret)
		}
	} else {
		provider = billing.NewStripeProvider(stripeClient)
		stripeVerifier = stripeClient
	}

	reconciler, err := billing.NewReconciler(billing.ReconcilerParams{
		Repo:     billing.NewRepository(dbClient.DB()),
		Ledger:   creditService,
		Provider: provider,
		Catalog:  billing.NewPriceCatalog(cfg.Stripe),
		Outbox:   outboxService,
		Logger:   logg,
		AppURL:   cfg.App.PublicURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing reconciler", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Reconciler: reconciler,
		Metrics:    ledgerMetrics,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := idempotency.NewGuard(redisClient, "stripe-webhook", cfg.Webhook.IdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})

	handler := routes.NewRouter(routes.Deps{
		Config: cfg,
		Logger: logg,
		Readiness: controllers.ReadinessDeps{
			DB:     dbClient,
			Redis:  redisClient,
			Scorer: scorerClient,
		},
		Redis:          redisClient,
		Sessions:       sessionManager,
		Gatherer:       registry,
		Accounts:       accountService,
		Credits:        creditService,
		Referrals:      referralService,
		Anonymous:      tracker,
		Analysis:       analysisService,
		Billing:        reconciler,
		StripeWebhooks: webhookService,
		StripeVerifier: stripeVerifier,
		WebhookGuard:   webhookGuard,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
