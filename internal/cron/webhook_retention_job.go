package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/face10ai/credits-backend/pkg/logger"
)

const webhookRetentionDays = 90

type webhookEventPruner interface {
	PruneProcessedEvents(ctx context.Context, olderThan time.Duration) (int64, error)
}

type WebhookRetentionJobParams struct {
	Logger    *logger.Logger
	Pruner    webhookEventPruner
	Retention int
}

func NewWebhookRetentionJob(params WebhookRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Pruner == nil {
		return nil, fmt.Errorf("webhook event pruner required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = webhookRetentionDays
	}
	return &webhookRetentionJob{logg: params.Logger, pruner: params.Pruner, retention: retention}, nil
}

type webhookRetentionJob struct {
	logg      *logger.Logger
	pruner    webhookEventPruner
	retention int
}

func (j *webhookRetentionJob) Name() string { return "webhook-event-retention" }

func (j *webhookRetentionJob) Run(ctx context.Context) error {
	deleted, err := j.pruner.PruneProcessedEvents(ctx, time.Duration(j.retention)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("webhook event retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	}), "processed webhook events pruned")
	return nil
}
