package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/face10ai/credits-backend/pkg/db/models"
	"github.com/face10ai/credits-backend/pkg/logger"
	"github.com/face10ai/credits-backend/pkg/metrics"
	"github.com/face10ai/credits-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	sendTimeout        = 15 * time.Second
	maxIdleBackoff     = 10 * time.Second
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

// Sink delivers one message to a topic. *pubsub.Client satisfies it.
type Sink interface {
	Ping(context.Context) error
	Send(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

type outboxStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type RelayParams struct {
	DB           txRunner
	Store        outboxStore
	Registry     resolver
	Sink         Sink
	Logger       *logger.Logger
	Metrics      *metrics.RelayMetrics
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

// Relay drains outbox_events to Pub/Sub. Rows that cannot be decoded, or that
// keep failing until MaxAttempts, are parked with their last error and skipped.
type Relay struct {
	db          txRunner
	store       outboxStore
	registry    resolver
	sink        Sink
	logg        *logger.Logger
	metrics     *metrics.RelayMetrics
	batchSize   int
	poll        time.Duration
	maxAttempts int
}

// TickResult counts what one batch did.
type TickResult struct {
	Published int
	Retrying  int
	Parked    int
}

func (t TickResult) Empty() bool { return t.Published+t.Retrying+t.Parked == 0 }

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Store == nil:
		return nil, errors.New("outbox store is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.Sink == nil:
		return nil, errors.New("pubsub sink is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	}
	r := &Relay{
		db:          params.DB,
		store:       params.Store,
		registry:    params.Registry,
		sink:        params.Sink,
		logg:        params.Logger,
		metrics:     params.Metrics,
		batchSize:   params.BatchSize,
		poll:        params.PollInterval,
		maxAttempts: params.MaxAttempts,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.poll <= 0 {
		r.poll = defaultPoll
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	return r, nil
}

// Run polls until ctx is done. Failed batches back off exponentially up to maxIdleBackoff.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := r.sink.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping: %w", err)
	}

	wait := r.poll
	for {
		res, err := r.Tick(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case res.Empty():
			wait = r.poll
		default:
			wait = 0
		}
		if err := sleep(ctx, jitter(wait)); err != nil {
			return err
		}
	}
}

// Tick processes one batch inside a single transaction.
func (r *Relay) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		res = TickResult{}
		rows, err := r.store.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox rows: %w", err)
		}
		r.metrics.ObserveBatch(len(rows))
		for _, row := range rows {
			outcome, err := r.deliver(ctx, tx, row)
			if err != nil {
				return err
			}
			r.metrics.ObserveDelivery(string(row.EventType), outcome.String())
			switch outcome {
			case outcomePublished:
				res.Published++
			case outcomeRetry:
				res.Retrying++
			case outcomeParked:
				res.Parked++
			}
		}
		return nil
	})
	return res, err
}

type deliveryOutcome int

const (
	outcomePublished deliveryOutcome = iota
	outcomeRetry
	outcomeParked
)

func (o deliveryOutcome) String() string {
	switch o {
	case outcomePublished:
		return metrics.DeliveryPublished
	case outcomeRetry:
		return metrics.DeliveryRetrying
	default:
		return metrics.DeliveryParked
	}
}

func (r *Relay) deliver(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (deliveryOutcome, error) {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     string(row.EventType),
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
		"aggregate_type": string(row.AggregateType),
	})

	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return outcomeParked, r.park(ctx, tx, row, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	msgID, err := r.sink.Send(sendCtx, resolved.Route.Topic, row.Payload, resolved.Attributes())
	cancel()
	if err != nil {
		if registry.IsNonRetryable(err) || row.AttemptCount+1 >= r.maxAttempts {
			return outcomeParked, r.park(ctx, tx, row, err)
		}
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "outbox publish failed, will retry")
		if markErr := r.store.MarkFailedTx(tx, row.ID, err); markErr != nil {
			return outcomeRetry, fmt.Errorf("mark failed %s: %w", row.ID, markErr)
		}
		return outcomeRetry, nil
	}

	if err := r.store.MarkPublishedTx(tx, row.ID); err != nil {
		return outcomePublished, fmt.Errorf("mark published %s: %w", row.ID, err)
	}
	r.logg.Info(r.logg.WithField(ctx, "message_id", msgID), "outbox event published")
	return outcomePublished, nil
}

func (r *Relay) park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, cause error) error {
	r.logg.Error(ctx, "outbox event parked", cause)
	if err := r.store.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("park %s: %w", row.ID, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(d/4+1)
}
