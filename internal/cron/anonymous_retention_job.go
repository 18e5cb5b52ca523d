package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/face10ai/credits-backend/pkg/logger"
)

const anonymousRetention = 365 * 24 * time.Hour

type anonymousPurger interface {
	PurgeIdle(ctx context.Context, olderThan time.Duration) (int64, error)
}

type AnonymousRetentionJobParams struct {
	Logger    *logger.Logger
	Tracker   anonymousPurger
	Retention time.Duration
}

// NewAnonymousRetentionJob drops visitor sessions idle for longer than the
// cookie lifetime. A dropped session can never be presented again.
func NewAnonymousRetentionJob(params AnonymousRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Tracker == nil {
		return nil, fmt.Errorf("anonymous tracker required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = anonymousRetention
	}
	return &anonymousRetentionJob{logg: params.Logger, tracker: params.Tracker, retention: retention}, nil
}

type anonymousRetentionJob struct {
	logg      *logger.Logger
	tracker   anonymousPurger
	retention time.Duration
}

func (j *anonymousRetentionJob) Name() string { return "anonymous-session-retention" }

func (j *anonymousRetentionJob) Run(ctx context.Context) error {
	deleted, err := j.tracker.PurgeIdle(ctx, j.retention)
	if err != nil {
		return fmt.Errorf("anonymous session retention: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "rows_deleted", deleted), "idle anonymous sessions purged")
	return nil
}
