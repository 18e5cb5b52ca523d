package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/face10ai/credits-backend/pkg/logger"
	"github.com/face10ai/credits-backend/pkg/metrics"
)

const (
	defaultTick       = time.Minute
	defaultRetryAfter = 5 * time.Minute
)

// Job is one maintenance task run by the scheduler.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry binds a job to its cadence.
type Entry struct {
	Job   Job
	Every time.Duration
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DeleteIfEqual(ctx context.Context, key, value string) (bool, error)
	LeaseKey(scope, job string) string
}

type SchedulerParams struct {
	Logger     *logger.Logger
	Leases     leaseStore
	Scope      string
	Entries    []Entry
	Metrics    *metrics.SchedulerMetrics
	Tick       time.Duration
	RetryAfter time.Duration
	Now        func() time.Time
}

// Scheduler runs each entry at most once per Every across all replicas.
// A successful run keeps its lease until it expires; a failed run drops it so
// any replica may retry after RetryAfter.
type Scheduler struct {
	logg       *logger.Logger
	leases     leaseStore
	scope      string
	entries    []Entry
	metrics    *metrics.SchedulerMetrics
	tick       time.Duration
	retryAfter time.Duration
	now        func() time.Time
	owner      string
	next       map[string]time.Time
}

// RunResult reports what happened to one entry during RunDue.
type RunResult struct {
	Job     string
	Outcome string
	Err     error
}

func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Leases == nil {
		return nil, errors.New("lease store required")
	}
	if len(params.Entries) == 0 {
		return nil, errors.New("at least one job required")
	}
	seen := make(map[string]struct{}, len(params.Entries))
	for _, entry := range params.Entries {
		if entry.Job == nil {
			return nil, errors.New("nil job")
		}
		name := entry.Job.Name()
		if name == "" {
			return nil, errors.New("job name required")
		}
		if entry.Every <= 0 {
			return nil, fmt.Errorf("job %s: cadence must be positive", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("job %s registered twice", name)
		}
		seen[name] = struct{}{}
	}
	tick := params.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	retry := params.RetryAfter
	if retry <= 0 {
		retry = defaultRetryAfter
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		logg:       params.Logger,
		leases:     params.Leases,
		scope:      params.Scope,
		entries:    append([]Entry(nil), params.Entries...),
		metrics:    params.Metrics,
		tick:       tick,
		retryAfter: retry,
		now:        now,
		owner:      uuid.NewString(),
		next:       make(map[string]time.Time, len(params.Entries)),
	}, nil
}

// Run polls every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.RunDue(ctx)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue attempts every entry whose local next-run time has passed.
func (s *Scheduler) RunDue(ctx context.Context) []RunResult {
	var results []RunResult
	for _, entry := range s.entries {
		if ctx.Err() != nil {
			break
		}
		name := entry.Job.Name()
		if s.now().Before(s.next[name]) {
			continue
		}
		results = append(results, s.attempt(ctx, entry))
	}
	return results
}

func (s *Scheduler) attempt(ctx context.Context, entry Entry) RunResult {
	name := entry.Job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)
	key := s.leases.LeaseKey(s.scope, name)
	started := s.now()

	held, err := s.leases.SetNX(jobCtx, key, s.owner, entry.Every)
	if err != nil {
		s.logg.Error(jobCtx, "failed to take job lease", err)
		s.next[name] = started.Add(s.tick)
		return RunResult{Job: name, Outcome: metrics.RunFailed, Err: err}
	}
	if !held {
		s.metrics.ObserveRun(name, metrics.RunLeased, 0, started)
		return RunResult{Job: name, Outcome: metrics.RunLeased}
	}

	runErr := runSafely(jobCtx, entry.Job)
	finished := s.now()
	took := finished.Sub(started)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())

	if runErr != nil {
		if _, relErr := s.leases.DeleteIfEqual(jobCtx, key, s.owner); relErr != nil {
			s.logg.Warn(jobCtx, "failed to drop job lease: "+relErr.Error())
		}
		retry := s.retryAfter
		if retry > entry.Every {
			retry = entry.Every
		}
		s.next[name] = finished.Add(retry)
		s.metrics.ObserveRun(name, metrics.RunFailed, took, finished)
		s.logg.Error(jobCtx, "scheduled job failed", runErr)
		return RunResult{Job: name, Outcome: metrics.RunFailed, Err: runErr}
	}

	s.next[name] = started.Add(entry.Every)
	s.metrics.ObserveRun(name, metrics.RunSucceeded, took, finished)
	s.logg.Info(jobCtx, "scheduled job finished")
	return RunResult{Job: name, Outcome: metrics.RunSucceeded}
}

func runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}
