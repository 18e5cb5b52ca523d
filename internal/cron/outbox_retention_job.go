package cron

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/face10ai/credits-backend/pkg/logger"
)

const (
	outboxRetentionDays = 30
	outboxMaxAttempts   = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxJanitor interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
	CountParked(tx *gorm.DB, maxAttempts int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxJanitor
	Retention   int
	MaxAttempts int
}

// NewOutboxRetentionJob prunes delivered events and surfaces the parked backlog.
// Parked rows are kept for inspection and only reported.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		retention:   time.Duration(outboxRetentionDays) * 24 * time.Hour,
		maxAttempts: outboxMaxAttempts,
		now:         time.Now,
	}
	if params.Retention > 0 {
		job.retention = time.Duration(params.Retention) * 24 * time.Hour
	}
	if params.MaxAttempts > 0 {
		job.maxAttempts = params.MaxAttempts
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxJanitor
	retention   time.Duration
	maxAttempts int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted, parked int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if deleted, err = j.repo.DeletePublishedBefore(tx, cutoff); err != nil {
			return err
		}
		parked, err = j.repo.CountParked(tx, j.maxAttempts)
		return err
	})
	if err != nil {
		return err
	}
	ctx = j.logg.WithFields(ctx, map[string]any{
		"published_before": cutoff,
		"rows_deleted":     deleted,
		"rows_parked":      parked,
	})
	if parked > 0 {
		j.logg.Warn(ctx, "outbox has parked events awaiting manual replay")
	}
	j.logg.Info(ctx, "outbox pruned")
	return nil
}
