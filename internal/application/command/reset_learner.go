package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESET LEARNER COMMAND
// The only path where counters go down. Deletes progress, achievements and
// family activities, zeroes the profile and writes an audit row, all in one
// transaction.
// ══════════════════════════════════════════════════════════════════════════════

// ResetLearnerCommand resets all progress of a learner.
type ResetLearnerCommand struct {
	LearnerID string

	// Actor identifies who requested the reset (parent account, support agent).
	Actor string

	// Reason is stored in the audit row.
	Reason string

	CorrelationID string
}

// Validate validates the command.
func (c ResetLearnerCommand) Validate() error {
	if c.LearnerID == "" {
		return errors.New("reset_learner: learner_id is required")
	}
	if c.Actor == "" {
		return errors.New("reset_learner: actor is required")
	}
	if c.Reason == "" {
		return errors.New("reset_learner: reason is required")
	}
	return nil
}

// ResetLearnerResult contains the audit record of the reset.
type ResetLearnerResult struct {
	Audit   learner.ResetAudit
	Profile learner.Profile
}

// ResetLearnerHandler handles the ResetLearnerCommand.
type ResetLearnerHandler struct {
	uowFactory     learner.UnitOfWorkFactory
	locker         KeyLocker
	eventPublisher shared.EventPublisher
	newID          IDGenerator
	now            Clock
	log            *logger.Logger
}

// NewResetLearnerHandler creates a new ResetLearnerHandler.
func NewResetLearnerHandler(
	uowFactory learner.UnitOfWorkFactory,
	locker KeyLocker,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	clock Clock,
	newID IDGenerator,
) *ResetLearnerHandler {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = NewUUID
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ResetLearnerHandler{
		uowFactory:     uowFactory,
		locker:         locker,
		eventPublisher: eventPublisher,
		newID:          newID,
		now:            clock,
		log:            log.With(logger.Component("reset_learner")),
	}
}

// Handle executes the command.
func (h *ResetLearnerHandler) Handle(ctx context.Context, cmd ResetLearnerCommand) (result *ResetLearnerResult, err error) {
	ctx, span := startSpan(ctx, "ResetLearner",
		attribute.String("learner.id", cmd.LearnerID),
		attribute.String("reset.actor", cmd.Actor),
	)
	defer func() { finishSpan(span, err) }()

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("reset_learner: validation failed: %w", err)
	}

	now := h.now()

	// Writers of a lesson record hold its progress key, so every existing
	// record is locked before it is deleted. Progress keys go first, sorted,
	// then the learner key.
	keys, err := h.progressKeys(ctx, cmd.LearnerID)
	if err != nil {
		return nil, fmt.Errorf("reset_learner: %w", err)
	}
	unlock, err := lockAll(ctx, h.locker, append(keys, LearnerKey(cmd.LearnerID))...)
	if err != nil {
		return nil, fmt.Errorf("reset_learner: %w", err)
	}
	defer unlock()

	result = &ResetLearnerResult{}

	err = withUnitOfWork(ctx, h.uowFactory, func(uow learner.UnitOfWork) error {
		current, err := uow.Profiles().GetProfile(ctx, cmd.LearnerID)
		if err != nil {
			return err
		}

		audit := learner.ResetAudit{
			ID:              h.newID(),
			LearnerID:       cmd.LearnerID,
			Actor:           cmd.Actor,
			Reason:          cmd.Reason,
			PreviousProfile: *current,
			CreatedAt:       now,
		}

		if audit.ProgressDeleted, err = uow.Progress().DeleteByLearner(ctx, cmd.LearnerID); err != nil {
			return fmt.Errorf("delete progress: %w", err)
		}
		if audit.AchievementsDeleted, err = uow.Achievements().DeleteByLearner(ctx, cmd.LearnerID); err != nil {
			return fmt.Errorf("delete achievements: %w", err)
		}
		if audit.ActivitiesDeleted, err = uow.FamilyActivities().DeleteByLearner(ctx, cmd.LearnerID); err != nil {
			return fmt.Errorf("delete family activities: %w", err)
		}

		reset := learner.Reset(*current, now)
		if err := uow.Profiles().SaveProfile(ctx, &reset); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		if err := uow.Audit().RecordReset(ctx, &audit); err != nil {
			return fmt.Errorf("record audit: %w", err)
		}

		result.Audit = audit
		result.Profile = reset
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reset_learner: %w", err)
	}

	ev := shared.NewLearnerResetEvent(cmd.LearnerID, result.Audit.ID, cmd.Reason, cmd.Actor, now)
	ev.BaseEvent = ev.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	publishAll(h.eventPublisher, h.log, []shared.Event{ev})

	h.log.Warn("learner progress reset",
		logger.LearnerID(cmd.LearnerID),
		logger.String("actor", cmd.Actor),
		logger.String("audit_id", result.Audit.ID),
		logger.Int("progress_deleted", result.Audit.ProgressDeleted),
		logger.Int("achievements_deleted", result.Audit.AchievementsDeleted),
	)

	return result, nil
}

// progressKeys returns the sorted lock keys of the learner's lesson records.
func (h *ResetLearnerHandler) progressKeys(ctx context.Context, learnerID string) ([]string, error) {
	var keys []string
	err := withUnitOfWork(ctx, h.uowFactory, func(uow learner.UnitOfWork) error {
		records, err := uow.Progress().ListByLearner(ctx, learnerID)
		if err != nil {
			return fmt.Errorf("list progress: %w", err)
		}
		for _, p := range records {
			keys = append(keys, ProgressKey(learnerID, p.LessonID))
		}
		return nil
	})
	sort.Strings(keys)
	return keys, err
}
