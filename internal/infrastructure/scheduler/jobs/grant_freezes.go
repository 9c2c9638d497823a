// Package jobs contains the worker's scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nurkids/nur-learning-hub/internal/application/command"
	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
	"github.com/nurkids/nur-learning-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRANT FREEZES JOB
// ══════════════════════════════════════════════════════════════════════════════

// ActiveLearnerLister pages through learners with a recent completion.
type ActiveLearnerLister interface {
	ListActiveSince(ctx context.Context, since time.Time, page shared.Pagination) ([]*learner.Profile, error)
}

// FreezeGranter grants a single streak freeze.
type FreezeGranter interface {
	Handle(ctx context.Context, cmd command.GrantFreezeCommand) (*command.GrantFreezeResult, error)
}

// GrantFreezesConfig contains configuration for the grant job.
type GrantFreezesConfig struct {
	// ActiveWindow selects learners who completed a lesson within it.
	ActiveWindow time.Duration

	// BatchSize is the page size used when listing learners.
	BatchSize int

	// Concurrency is the number of grants in flight.
	Concurrency int

	// Timeout bounds the whole run.
	Timeout time.Duration
}

// DefaultGrantFreezesConfig returns default configuration.
func DefaultGrantFreezesConfig() GrantFreezesConfig {
	return GrantFreezesConfig{
		ActiveWindow: 7 * 24 * time.Hour,
		BatchSize:    200,
		Concurrency:  8,
		Timeout:      30 * time.Minute,
	}
}

// GrantFreezesStats contains statistics from a run.
type GrantFreezesStats struct {
	StartedAt      time.Time
	Duration       time.Duration
	LearnersSeen   int
	Granted        int64
	AlreadyGranted int64
	Failed         int64
}

// GrantFreezesJob gives every recently active learner one streak freeze per
// rolling week. Learners who already received one this week are skipped.
type GrantFreezesJob struct {
	learners ActiveLearnerLister
	granter  FreezeGranter
	retrier  *retry.Retrier
	config   GrantFreezesConfig
	now      func() time.Time
	log      *logger.Logger

	lastRunStats atomic.Pointer[GrantFreezesStats]
}

// NewGrantFreezesJob creates a new GrantFreezesJob.
func NewGrantFreezesJob(
	learners ActiveLearnerLister,
	granter FreezeGranter,
	config GrantFreezesConfig,
	log *logger.Logger,
) *GrantFreezesJob {
	def := DefaultGrantFreezesConfig()
	if config.ActiveWindow <= 0 {
		config.ActiveWindow = def.ActiveWindow
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GrantFreezesJob{
		learners: learners,
		granter:  granter,
		retrier:  retry.PersistenceRetrier(shared.IsRetryable),
		config:   config,
		now:      time.Now,
		log:      log.With(logger.Component("grant_freezes")),
	}
}

// WithRetrier replaces the retrier used for each grant.
func (j *GrantFreezesJob) WithRetrier(r *retry.Retrier) *GrantFreezesJob {
	j.retrier = r
	return j
}

// WithClock replaces the job's clock.
func (j *GrantFreezesJob) WithClock(now func() time.Time) *GrantFreezesJob {
	j.now = now
	return j
}

// Name returns the job name.
func (j *GrantFreezesJob) Name() string {
	return "grant_freezes"
}

// Description returns a human-readable description.
func (j *GrantFreezesJob) Description() string {
	return "Grants one streak freeze per week to recently active learners"
}

// Run executes the job.
func (j *GrantFreezesJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	now := j.now().UTC()
	since := now.Add(-j.config.ActiveWindow)
	stats := &GrantFreezesStats{StartedAt: now}

	j.log.Info("starting grant_freezes job", logger.Time("active_since", since))

	page := shared.NewPagination(1, j.config.BatchSize)
	for {
		profiles, err := j.learners.ListActiveSince(ctx, since, page)
		if err != nil {
			return fmt.Errorf("grant_freezes: list active learners: %w", err)
		}
		stats.LearnersSeen += len(profiles)

		if err := j.grantBatch(ctx, profiles, now, stats); err != nil {
			return err
		}
		if len(profiles) < page.Limit() {
			break
		}
		page = page.Next()
	}

	stats.Duration = j.now().Sub(stats.StartedAt)
	j.lastRunStats.Store(stats)

	j.log.Info("grant_freezes job completed",
		logger.Int("learners_seen", stats.LearnersSeen),
		logger.Int64("granted", stats.Granted),
		logger.Int64("already_granted", stats.AlreadyGranted),
		logger.Int64("failed", stats.Failed),
		logger.Latency(stats.Duration),
	)
	return nil
}

// grantBatch grants freezes concurrently. Individual failures are counted
// and logged; only context cancellation stops the run.
func (j *GrantFreezesJob) grantBatch(ctx context.Context, profiles []*learner.Profile, now time.Time, stats *GrantFreezesStats) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)

	var granted, already, failed atomic.Int64
	for _, p := range profiles {
		learnerID := p.ID
		g.Go(func() error {
			err := j.retrier.Do(gctx, func(ctx context.Context) error {
				_, err := j.granter.Handle(ctx, command.GrantFreezeCommand{
					LearnerID:  learnerID,
					OccurredAt: now,
				})
				return err
			})
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, shared.ErrFreezeAlreadyGranted):
				already.Add(1)
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				failed.Add(1)
				j.log.Warn("freeze grant failed", logger.LearnerID(learnerID), logger.Err(err))
			}
			return nil
		})
	}
	err := g.Wait()

	stats.Granted += granted.Load()
	stats.AlreadyGranted += already.Load()
	stats.Failed += failed.Load()
	return err
}

// LastRunStats returns statistics from the last completed run.
func (j *GrantFreezesJob) LastRunStats() *GrantFreezesStats {
	return j.lastRunStats.Load()
}
