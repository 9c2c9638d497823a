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

// RestartLessonCommand starts a new attempt of a lesson.
type RestartLessonCommand struct {
	LearnerID     string
	LessonID      string
	OccurredAt    time.Time
	CorrelationID string
}

// Validate validates the command.
func (c RestartLessonCommand) Validate() error {
	if c.LearnerID == "" {
		return errors.New("restart_lesson: learner_id is required")
	}
	if c.LessonID == "" {
		return errors.New("restart_lesson: lesson_id is required")
	}
	return nil
}

// RestartLessonResult contains the progress of the new attempt.
type RestartLessonResult struct {
	Progress lesson.Progress
	Events   []shared.Event
}

// RestartLessonHandler handles the RestartLessonCommand.
type RestartLessonHandler struct {
	uowFactory     learner.UnitOfWorkFactory
	locker         KeyLocker
	eventPublisher shared.EventPublisher
	now            Clock
	log            *logger.Logger
}

// NewRestartLessonHandler creates a new RestartLessonHandler.
func NewRestartLessonHandler(
	uowFactory learner.UnitOfWorkFactory,
	locker KeyLocker,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	clock Clock,
) *RestartLessonHandler {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RestartLessonHandler{
		uowFactory:     uowFactory,
		locker:         locker,
		eventPublisher: eventPublisher,
		now:            clock,
		log:            log.With(logger.Component("restart_lesson")),
	}
}

// Handle executes the command. Restarting a lesson that was never opened
// returns ErrProgressNotFound.
func (h *RestartLessonHandler) Handle(ctx context.Context, cmd RestartLessonCommand) (result *RestartLessonResult, err error) {
	ctx, span := startSpan(ctx, "RestartLesson",
		attribute.String("learner.id", cmd.LearnerID),
		attribute.String("lesson.id", cmd.LessonID),
	)
	defer func() { finishSpan(span, err) }()

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("restart_lesson: validation failed: %w", err)
	}

	now := cmd.OccurredAt
	if now.IsZero() {
		now = h.now()
	}

	unlock, err := h.locker.Lock(ctx, ProgressKey(cmd.LearnerID, cmd.LessonID))
	if err != nil {
		return nil, fmt.Errorf("restart_lesson: %w", err)
	}
	defer unlock()

	result = &RestartLessonResult{}

	err = withUnitOfWork(ctx, h.uowFactory, func(uow learner.UnitOfWork) error {
		current, err := uow.Progress().Get(ctx, cmd.LearnerID, cmd.LessonID)
		if err != nil {
			return err
		}

		next := lesson.Restart(*current, now)
		if err := uow.Progress().Save(ctx, &next); err != nil {
			return fmt.Errorf("save progress: %w", err)
		}

		ev := shared.NewLessonRestartedEvent(cmd.LearnerID, cmd.LessonID, next.Attempts, now)
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(cmd.CorrelationID)
		result.Events = append(result.Events, ev)
		result.Progress = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("restart_lesson: %w", err)
	}

	publishAll(h.eventPublisher, h.log, result.Events)

	h.log.Info("lesson restarted",
		logger.LearnerID(cmd.LearnerID),
		logger.LessonID(cmd.LessonID),
		logger.Int("attempt", result.Progress.Attempts),
	)

	return result, nil
}
