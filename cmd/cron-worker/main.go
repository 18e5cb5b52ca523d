package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/face10ai/credits-backend/internal/anonymous"
	"github.com/face10ai/credits-backend/internal/billing"
	"github.com/face10ai/credits-backend/internal/credits"
	"github.com/face10ai/credits-backend/internal/cron"
	"github.com/face10ai/credits-backend/pkg/config"
	"github.com/face10ai/credits-backend/pkg/db"
	"github.com/face10ai/credits-backend/pkg/logger"
	"github.com/face10ai/credits-backend/pkg/metrics"
	"github.com/face10ai/credits-backend/pkg/migrate"
	"github.com/face10ai/credits-backend/pkg/outbox"
	"github.com/face10ai/credits-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	bootLog := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		bootLog.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": serviceKind})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

// services are the domain objects the maintenance jobs drive.
type services struct {
	credits    credits.Service
	tracker    anonymous.Tracker
	reconciler billing.Reconciler
	outboxRepo *outbox.Repository
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeWith(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeWith(ctx, logg, "redis", redisClient.Close)

	svcs, err := wireServices(cfg, logg, dbClient)
	if err != nil {
		return err
	}
	entries, err := buildEntries(cfg, logg, dbClient, svcs)
	if err != nil {
		return fmt.Errorf("cron jobs: %w", err)
	}
	scheduler, err := cron.NewScheduler(cron.SchedulerParams{
		Logger:     logg,
		Leases:     redisClient,
		Scope:      leaseScope(cfg.App.Env),
		Entries:    entries,
		Metrics:    metrics.NewSchedulerMetrics(prometheus.DefaultRegisterer),
		Tick:       cfg.Cron.Tick,
		RetryAfter: cfg.Cron.RetryAfter,
	})
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	stopMetrics := metrics.Serve(ctx, cfg.Cron.MetricsAddr, prometheus.DefaultGatherer, logg)
	defer stopMetrics()

	logg.Info(logg.WithField(ctx, "jobs", len(entries)), "starting cron worker")
	return scheduler.Run(ctx)
}

func wireServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (services, error) {
	creditService, err := credits.NewService(credits.ServiceParams{
		Repo:              credits.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           metrics.NewLedgerMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return services{}, fmt.Errorf("credit service: %w", err)
	}
	tracker, err := anonymous.NewTracker(anonymous.NewRepository(dbClient.DB()), anonymous.Config{
		MaxRatings:   cfg.Anonymous.MaxRatings,
		CookieMaxAge: cfg.Anonymous.CookieMaxAge,
	}, logg)
	if err != nil {
		return services{}, fmt.Errorf("anonymous tracker: %w", err)
	}
	outboxRepo := outbox.NewRepository(dbClient.DB())
	reconciler, err := billing.NewReconciler(billing.ReconcilerParams{
		Repo:    billing.NewRepository(dbClient.DB()),
		Ledger:  creditService,
		Catalog: billing.NewPriceCatalog(cfg.Stripe),
		Outbox:  outbox.NewService(outboxRepo, logg),
		Logger:  logg,
		AppURL:  cfg.App.PublicURL,
	})
	if err != nil {
		return services{}, fmt.Errorf("billing reconciler: %w", err)
	}
	return services{credits: creditService, tracker: tracker, reconciler: reconciler, outboxRepo: outboxRepo}, nil
}

func buildEntries(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, svcs services) ([]cron.Entry, error) {
	refresh, err := cron.NewCreditRefreshJob(cron.CreditRefreshJobParams{
		Logger:    logg,
		Credits:   svcs.credits,
		BatchSize: cfg.Cron.RefreshBatchSize,
	})
	if err != nil {
		return nil, err
	}
	webhooks, err := cron.NewWebhookRetentionJob(cron.WebhookRetentionJobParams{
		Logger:    logg,
		Pruner:    svcs.reconciler,
		Retention: cfg.Cron.WebhookRetentionDays,
	})
	if err != nil {
		return nil, err
	}
	outboxJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  svcs.outboxRepo,
		Retention:   cfg.Cron.OutboxRetentionDays,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	anonymousJob, err := cron.NewAnonymousRetentionJob(cron.AnonymousRetentionJobParams{
		Logger:    logg,
		Tracker:   svcs.tracker,
		Retention: cfg.Cron.AnonymousRetention,
	})
	if err != nil {
		return nil, err
	}
	return []cron.Entry{
		{Job: refresh, Every: cfg.Cron.RefreshEvery},
		{Job: webhooks, Every: cfg.Cron.WebhookRetentionEvery},
		{Job: outboxJob, Every: cfg.Cron.OutboxRetentionEvery},
		{Job: anonymousJob, Every: cfg.Cron.AnonymousEvery},
	}, nil
}

// leaseScope keeps environments sharing one redis from blocking each other.
func leaseScope(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

func closeWith(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+name, err)
	}
}
