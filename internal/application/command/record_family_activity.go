package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
)

// RecordFamilyActivityCommand records a family activity done together with
// the child. Recording the same ActivityID twice is a no-op.
type RecordFamilyActivityCommand struct {
	LearnerID     string
	ActivityID    string
	OccurredAt    time.Time
	CorrelationID string
}

// Validate validates the command.
func (c RecordFamilyActivityCommand) Validate() error {
	if c.LearnerID == "" {
		return errors.New("record_family_activity: learner_id is required")
	}
	if c.ActivityID == "" {
		return errors.New("record_family_activity: activity_id is required")
	}
	return nil
}

// RecordFamilyActivityResult contains the outcome.
type RecordFamilyActivityResult struct {
	// Recorded is false when the activity was already stored.
	Recorded        bool
	NewAchievements []learner.Achievement
}

// RecordFamilyActivityHandler handles the RecordFamilyActivityCommand.
type RecordFamilyActivityHandler struct {
	uowFactory     learner.UnitOfWorkFactory
	locker         KeyLocker
	eventPublisher shared.EventPublisher
	achievements   achievementEvaluator
	newID          IDGenerator
	now            Clock
	log            *logger.Logger
}

// NewRecordFamilyActivityHandler creates a new RecordFamilyActivityHandler.
func NewRecordFamilyActivityHandler(
	uowFactory learner.UnitOfWorkFactory,
	catalog lesson.Catalog,
	locker KeyLocker,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	clock Clock,
	newID IDGenerator,
) *RecordFamilyActivityHandler {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = NewUUID
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RecordFamilyActivityHandler{
		uowFactory:     uowFactory,
		locker:         locker,
		eventPublisher: eventPublisher,
		achievements:   achievementEvaluator{catalog: catalog, newID: newID, log: log},
		newID:          newID,
		now:            clock,
		log:            log.With(logger.Component("record_family_activity")),
	}
}

// Handle executes the command.
func (h *RecordFamilyActivityHandler) Handle(ctx context.Context, cmd RecordFamilyActivityCommand) (result *RecordFamilyActivityResult, err error) {
	ctx, span := startSpan(ctx, "RecordFamilyActivity",
		attribute.String("learner.id", cmd.LearnerID),
		attribute.String("activity.id", cmd.ActivityID),
	)
	defer func() { finishSpan(span, err) }()

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_family_activity: validation failed: %w", err)
	}

	now := cmd.OccurredAt
	if now.IsZero() {
		now = h.now()
	}

	unlock, err := h.locker.Lock(ctx, LearnerKey(cmd.LearnerID))
	if err != nil {
		return nil, fmt.Errorf("record_family_activity: %w", err)
	}
	defer unlock()

	result = &RecordFamilyActivityResult{}
	var events []shared.Event

	err = withUnitOfWork(ctx, h.uowFactory, func(uow learner.UnitOfWork) error {
		var profile learner.Profile
		stored, err := uow.Profiles().GetProfile(ctx, cmd.LearnerID)
		switch {
		case err == nil:
			profile = *stored
		case errors.Is(err, shared.ErrLearnerNotFound):
			profile = learner.NewProfile(cmd.LearnerID, now)
			if err := uow.Profiles().SaveProfile(ctx, &profile); err != nil {
				return fmt.Errorf("save profile: %w", err)
			}
		default:
			return fmt.Errorf("get profile: %w", err)
		}

		recorded, err := uow.FamilyActivities().Record(ctx, &learner.FamilyActivity{
			ID:          h.newID(),
			LearnerID:   cmd.LearnerID,
			ActivityID:  cmd.ActivityID,
			CompletedAt: now,
		})
		if err != nil {
			return fmt.Errorf("record activity: %w", err)
		}
		result.Recorded = recorded
		if !recorded {
			return nil
		}

		unlocked, achEvents, err := h.achievements.evaluate(ctx, uow, profile, now, cmd.CorrelationID)
		if err != nil {
			return err
		}
		result.NewAchievements = unlocked
		events = achEvents
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_family_activity: %w", err)
	}

	publishAll(h.eventPublisher, h.log, events)

	h.log.Info("family activity recorded",
		logger.LearnerID(cmd.LearnerID),
		logger.String("activity_id", cmd.ActivityID),
		logger.Bool("new", result.Recorded),
	)

	return result, nil
}
