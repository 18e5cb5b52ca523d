package cron

import (
	"context"
	"fmt"

	"github.com/face10ai/credits-backend/pkg/logger"
)

const (
	defaultRefreshBatchSize = 200
	maxRefreshBatches       = 50
)

type creditRefresher interface {
	RefreshDue(ctx context.Context, limit int) (int, error)
}

type CreditRefreshJobParams struct {
	Logger    *logger.Logger
	Credits   creditRefresher
	BatchSize int
}

// NewCreditRefreshJob resets paid balances whose period has ended, so accounts
// that never call the API still get their new allotment on time.
func NewCreditRefreshJob(params CreditRefreshJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Credits == nil {
		return nil, fmt.Errorf("credit service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultRefreshBatchSize
	}
	return &creditRefreshJob{logg: params.Logger, credits: params.Credits, batch: batch}, nil
}

type creditRefreshJob struct {
	logg    *logger.Logger
	credits creditRefresher
	batch   int
}

func (j *creditRefreshJob) Name() string { return "credit-refresh" }

func (j *creditRefreshJob) Run(ctx context.Context) error {
	var total int
	for i := 0; i < maxRefreshBatches; i++ {
		refreshed, err := j.credits.RefreshDue(ctx, j.batch)
		total += refreshed
		if err != nil {
			return fmt.Errorf("credit refresh: %w", err)
		}
		if refreshed < j.batch {
			break
		}
	}
	j.logg.Info(j.logg.WithField(ctx, "accounts_refreshed", total), "credit refresh complete")
	return nil
}
