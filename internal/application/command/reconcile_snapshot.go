package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/reconcile"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
	"github.com/nurkids/nur-learning-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE SNAPSHOT COMMAND
// Merges a snapshot that arrived from another device into the stored records.
// Each lesson record is merged under its own key lock, then the profile is
// merged under the learner lock and achievements are re-evaluated.
// ══════════════════════════════════════════════════════════════════════════════

// SnapshotDeduper remembers snapshots that were already merged.
type SnapshotDeduper interface {
	// FirstSeen reports whether the snapshot content has not been merged
	// before and remembers it.
	FirstSeen(ctx context.Context, snap reconcile.Snapshot) (bool, error)

	// Forget drops a remembered snapshot so that a redelivery is merged again.
	Forget(ctx context.Context, snap reconcile.Snapshot) error
}

// ReconcileSnapshotCommand contains a remote snapshot.
type ReconcileSnapshotCommand struct {
	Snapshot      reconcile.Snapshot
	CorrelationID string
}

// Validate validates the command.
func (c ReconcileSnapshotCommand) Validate() error {
	return c.Snapshot.Validate()
}

// ReconcileSnapshotResult contains the merged records.
type ReconcileSnapshotResult struct {
	// Skipped is true when the same snapshot content was merged before.
	Skipped bool

	// Stale is true when the snapshot was captured before the learner's
	// last reset. Nothing is merged.
	Stale bool

	// FailedLessons lists lessons whose record could not be merged. The
	// rest of the snapshot, the profile included, is still merged.
	FailedLessons []string

	// Progress contains the merged lesson records.
	Progress []lesson.Progress

	// Profile is the merged profile (nil when there is nothing to record).
	Profile *learner.Profile

	// Changed is the number of records written back.
	Changed int

	// Anomalies lists invariant violations found in the inputs.
	Anomalies []string

	NewAchievements []learner.Achievement
}

// ReconcileSnapshotHandler handles the ReconcileSnapshotCommand.
type ReconcileSnapshotHandler struct {
	uowFactory     learner.UnitOfWorkFactory
	locker         KeyLocker
	eventPublisher shared.EventPublisher
	deduper        SnapshotDeduper
	retrier        *retry.Retrier
	achievements   achievementEvaluator
	now            Clock
	log            *logger.Logger
}

// ReconcileSnapshotHandlerConfig contains configuration for the handler.
type ReconcileSnapshotHandlerConfig struct {
	// Deduper skips snapshots that were already merged. Optional.
	Deduper SnapshotDeduper

	// Retrier retries transient storage failures when writing merge results.
	Retrier *retry.Retrier

	Clock Clock
	NewID IDGenerator
}

// DefaultReconcileSnapshotHandlerConfig returns default configuration.
func DefaultReconcileSnapshotHandlerConfig() ReconcileSnapshotHandlerConfig {
	return ReconcileSnapshotHandlerConfig{
		Retrier: retry.PersistenceRetrier(shared.IsRetryable),
		Clock:   time.Now,
		NewID:   NewUUID,
	}
}

// NewReconcileSnapshotHandler creates a new ReconcileSnapshotHandler.
func NewReconcileSnapshotHandler(
	uowFactory learner.UnitOfWorkFactory,
	catalog lesson.Catalog,
	locker KeyLocker,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	config ReconcileSnapshotHandlerConfig,
) *ReconcileSnapshotHandler {
	defaults := DefaultReconcileSnapshotHandlerConfig()
	if config.Retrier == nil {
		config.Retrier = defaults.Retrier
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.NewID == nil {
		config.NewID = defaults.NewID
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ReconcileSnapshotHandler{
		uowFactory:     uowFactory,
		locker:         locker,
		eventPublisher: eventPublisher,
		deduper:        config.Deduper,
		retrier:        config.Retrier,
		achievements:   achievementEvaluator{catalog: catalog, newID: config.NewID, log: log},
		now:            config.Clock,
		log:            log.With(logger.Component("reconcile_snapshot")),
	}
}

// Handle executes the command.
func (h *ReconcileSnapshotHandler) Handle(ctx context.Context, cmd ReconcileSnapshotCommand) (result *ReconcileSnapshotResult, err error) {
	snap := cmd.Snapshot
	ctx, span := startSpan(ctx, "ReconcileSnapshot",
		attribute.String("learner.id", snap.LearnerID),
		attribute.String("device.id", snap.DeviceID),
		attribute.Int("snapshot.progress_count", len(snap.Progress)),
		attribute.Bool("snapshot.has_profile", snap.Profile != nil),
	)
	defer func() { finishSpan(span, err) }()

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("reconcile_snapshot: validation failed: %w", err)
	}

	log := h.log.With(logger.LearnerID(snap.LearnerID), logger.String("device_id", snap.DeviceID))
	if cmd.CorrelationID != "" {
		log = log.WithCorrelationID(cmd.CorrelationID)
	}

	if h.deduper != nil {
		first, dedupErr := h.deduper.FirstSeen(ctx, snap)
		if dedupErr != nil {
			log.Warn("snapshot dedup unavailable, merging anyway", logger.Err(dedupErr))
		} else if !first {
			log.Debug("snapshot already merged")
			return &ReconcileSnapshotResult{Skipped: true}, nil
		} else {
			// Merges are idempotent, so a failed snapshot is safe to merge again.
			defer func() {
				if err == nil {
					return
				}
				if ferr := h.deduper.Forget(context.WithoutCancel(ctx), snap); ferr != nil {
					log.Warn("failed to forget snapshot after error", logger.Err(ferr))
				}
			}()
		}
	}

	now := h.now()

	stale, err := h.isStale(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("reconcile_snapshot: %w", err)
	}
	if stale {
		log.Info("snapshot predates the last reset, dropped", logger.Time("captured_at", snap.CapturedAt))
		return &ReconcileSnapshotResult{Stale: true}, nil
	}

	// A completed record with no time at all gets the capture time.
	fallback := snap.CapturedAt
	if fallback.IsZero() {
		fallback = now
	}

	result = &ReconcileSnapshotResult{}
	var events []shared.Event

	for _, remote := range snap.Progress {
		merged, report, changed, err := h.reconcileProgress(ctx, remote, fallback)
		if err != nil {
			if ctx.Err() != nil || shared.IsRetryable(err) {
				return nil, fmt.Errorf("reconcile_snapshot: lesson %s: %w", remote.LessonID, err)
			}
			log.Error("lesson record not merged", logger.LessonID(remote.LessonID), logger.Err(err))
			result.FailedLessons = append(result.FailedLessons, remote.LessonID)
			continue
		}
		h.logAnomalies(log, remote.LessonID, report)

		result.Progress = append(result.Progress, merged)
		result.Anomalies = append(result.Anomalies, report.Strings()...)
		if changed {
			result.Changed++
		}
		if changed || report.HasAnomalies() {
			ev := shared.NewSnapshotReconciledEvent(snap.LearnerID, remote.LessonID, report.Strings(), changed, now)
			ev.BaseEvent = ev.BaseEvent.WithCorrelationID(cmd.CorrelationID)
			events = append(events, ev)
		}
	}

	profileEvents, err := h.reconcileProfile(ctx, snap, now, cmd.CorrelationID, log, result)
	if err != nil {
		return nil, fmt.Errorf("reconcile_snapshot: profile: %w", err)
	}
	events = append(events, profileEvents...)

	publishAll(h.eventPublisher, log, events)

	log.Info("snapshot reconciled",
		logger.Int("records", len(snap.Progress)),
		logger.Int("changed", result.Changed),
		logger.Int("anomalies", len(result.Anomalies)),
		logger.Int("failed", len(result.FailedLessons)),
	)

	return result, nil
}

// reconcileProgress merges one remote lesson record with the stored one.
func (h *ReconcileSnapshotHandler) reconcileProgress(ctx context.Context, remote lesson.Progress, fallback time.Time) (lesson.Progress, reconcile.Report, bool, error) {
	unlock, err := h.locker.Lock(ctx, ProgressKey(remote.LearnerID, remote.LessonID))
	if err != nil {
		return lesson.Progress{}, reconcile.Report{}, false, err
	}
	defer unlock()

	var (
		merged  lesson.Progress
		report  reconcile.Report
		changed bool
	)

	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		return withUnitOfWork(ctx, h.uowFactory, func(uow learner.UnitOfWork) error {
			local, err := uow.Progress().Get(ctx, remote.LearnerID, remote.LessonID)
			switch {
			case err == nil:
				merged, report, err = reconcile.MergeProgressAt(*local, remote, fallback)
				changed = err == nil && !reconcile.SameProgress(*local, merged)
			case errors.Is(err, shared.ErrProgressNotFound):
				// No local record: the remote one, normalized, is the result.
				merged, report, err = reconcile.MergeProgressAt(remote, remote, fallback)
				changed = true
			default:
				return fmt.Errorf("get progress: %w", err)
			}
			if err != nil {
				return err
			}
			if !changed {
				return nil
			}
			if err := uow.Progress().Save(ctx, &merged); err != nil {
				return fmt.Errorf("save progress: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return lesson.Progress{}, reconcile.Report{}, false, err
	}
	return merged, report, changed, nil
}

// isStale reports whether snap was captured before the learner's last reset.
// Without a capture time a snapshot of a reset learner counts as stale.
func (h *ReconcileSnapshotHandler) isStale(ctx context.Context, snap reconcile.Snapshot) (bool, error) {
	var lastReset time.Time
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		return withUnitOfWork(ctx, h.uowFactory, func(uow learner.UnitOfWork) error {
			var err error
			lastReset, err = uow.Audit().LastResetAt(ctx, snap.LearnerID)
			return err
		})
	})
	if err != nil {
		return false, fmt.Errorf("last reset: %w", err)
	}
	if lastReset.IsZero() {
		return false, nil
	}
	return !snap.CapturedAt.After(lastReset), nil
}

// reconcileProfile merges the profile and re-evaluates achievements.
func (h *ReconcileSnapshotHandler) reconcileProfile(
	ctx context.Context,
	snap reconcile.Snapshot,
	now time.Time,
	correlationID string,
	log *logger.Logger,
	result *ReconcileSnapshotResult,
) ([]shared.Event, error) {
	unlock, err := h.locker.Lock(ctx, LearnerKey(snap.LearnerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var events []shared.Event

	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		events = nil
		result.NewAchievements = nil

		return withUnitOfWork(ctx, h.uowFactory, func(uow learner.UnitOfWork) error {
			local, err := uow.Profiles().GetProfile(ctx, snap.LearnerID)
			if err != nil && !errors.Is(err, shared.ErrLearnerNotFound) {
				return fmt.Errorf("get profile: %w", err)
			}

			var merged learner.Profile
			switch {
			case local == nil && snap.Profile == nil:
				merged = learner.NewProfile(snap.LearnerID, now)
			case local == nil:
				merged, _, err = reconcile.MergeProfile(*snap.Profile, *snap.Profile)
			case snap.Profile == nil:
				merged = *local
			default:
				var report reconcile.Report
				merged, report, err = reconcile.MergeProfile(*local, *snap.Profile)
				h.logAnomalies(log, "", report)
				result.Anomalies = append(result.Anomalies, report.Strings()...)
			}
			if err != nil {
				return err
			}

			completed, err := uow.Progress().CompletedLessonIDs(ctx, snap.LearnerID)
			if err != nil {
				return fmt.Errorf("completed lessons: %w", err)
			}
			if local == nil && snap.Profile == nil && len(completed) == 0 {
				return nil
			}
			if n := len(completed); n > merged.TotalLessonsCompleted {
				merged.TotalLessonsCompleted = n
			}

			if local == nil || !reconcile.SameProfile(*local, merged) {
				merged.UpdatedAt = now
				if err := uow.Profiles().SaveProfile(ctx, &merged); err != nil {
					return fmt.Errorf("save profile: %w", err)
				}
				result.Changed++
			}

			unlocked, achEvents, err := h.achievements.evaluate(ctx, uow, merged, now, correlationID)
			if err != nil {
				return err
			}
			result.NewAchievements = unlocked
			result.Profile = &merged
			events = achEvents
			return nil
		})
	})
	return events, err
}

func (h *ReconcileSnapshotHandler) logAnomalies(log *logger.Logger, lessonID string, report reconcile.Report) {
	for _, a := range report.Anomalies {
		fields := []logger.Field{
			logger.String("side", string(a.Side)),
			logger.String("field", a.Field),
			logger.String("detail", a.Detail),
		}
		if lessonID != "" {
			fields = append(fields, logger.LessonID(lessonID))
		}
		log.Warn("invalid record state in snapshot", fields...)
	}
}
