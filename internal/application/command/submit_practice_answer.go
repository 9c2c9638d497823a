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

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT PRACTICE ANSWER COMMAND
// Applies one answer of the practice gate. A correct answer, or the last
// allowed wrong one, records the practice phase.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitPracticeAnswerCommand contains one practice answer.
type SubmitPracticeAnswerCommand struct {
	LearnerID string
	LessonID  string

	// Correct reports whether the answer was right.
	Correct bool

	// TriesSoFar is the number of wrong answers already given in this exercise.
	// The player keeps this counter; it is not stored.
	TriesSoFar int

	OccurredAt    time.Time
	Timezone      string
	CorrelationID string
}

// Validate validates the command.
func (c SubmitPracticeAnswerCommand) Validate() error {
	if c.LearnerID == "" {
		return errors.New("submit_practice_answer: learner_id is required")
	}
	if c.LessonID == "" {
		return errors.New("submit_practice_answer: lesson_id is required")
	}
	if c.TriesSoFar < 0 {
		return errors.New("submit_practice_answer: tries_so_far cannot be negative")
	}
	return nil
}

// SubmitPracticeAnswerResult contains the outcome of the answer.
type SubmitPracticeAnswerResult struct {
	Outcome      lesson.PracticeOutcome
	TriesUsed    int
	RevealAnswer bool
	Score        int
	Progress     lesson.Progress
	Events       []shared.Event
}

// SubmitPracticeAnswerHandler handles the SubmitPracticeAnswerCommand.
type SubmitPracticeAnswerHandler struct {
	uowFactory     learner.UnitOfWorkFactory
	locker         KeyLocker
	eventPublisher shared.EventPublisher
	now            Clock
	log            *logger.Logger
}

// NewSubmitPracticeAnswerHandler creates a new SubmitPracticeAnswerHandler.
func NewSubmitPracticeAnswerHandler(
	uowFactory learner.UnitOfWorkFactory,
	locker KeyLocker,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	clock Clock,
) *SubmitPracticeAnswerHandler {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SubmitPracticeAnswerHandler{
		uowFactory:     uowFactory,
		locker:         locker,
		eventPublisher: eventPublisher,
		now:            clock,
		log:            log.With(logger.Component("submit_practice_answer")),
	}
}

// Handle executes the command.
func (h *SubmitPracticeAnswerHandler) Handle(ctx context.Context, cmd SubmitPracticeAnswerCommand) (result *SubmitPracticeAnswerResult, err error) {
	ctx, span := startSpan(ctx, "SubmitPracticeAnswer",
		attribute.String("learner.id", cmd.LearnerID),
		attribute.String("lesson.id", cmd.LessonID),
		attribute.Bool("practice.correct", cmd.Correct),
		attribute.Int("practice.tries_so_far", cmd.TriesSoFar),
	)
	defer func() { finishSpan(span, err) }()

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("submit_practice_answer: validation failed: %w", err)
	}

	now, err := resolveTime(cmd.OccurredAt, cmd.Timezone, h.now)
	if err != nil {
		return nil, fmt.Errorf("submit_practice_answer: %w", err)
	}

	unlock, err := h.locker.Lock(ctx, ProgressKey(cmd.LearnerID, cmd.LessonID))
	if err != nil {
		return nil, fmt.Errorf("submit_practice_answer: %w", err)
	}
	defer unlock()

	result = &SubmitPracticeAnswerResult{}

	err = withUnitOfWork(ctx, h.uowFactory, func(uow learner.UnitOfWork) error {
		current, err := uow.Progress().Get(ctx, cmd.LearnerID, cmd.LessonID)
		if err != nil {
			if errors.Is(err, shared.ErrProgressNotFound) {
				return shared.ErrNotInPractice
			}
			return fmt.Errorf("get progress: %w", err)
		}

		res, err := lesson.SubmitPracticeAnswer(*current, cmd.Correct, cmd.TriesSoFar, now)
		if err != nil {
			return err
		}

		next := res.Progress
		score := lesson.PracticeScore(res)
		if res.Advanced() {
			next.RecordScore(score)
			ev := shared.NewPhaseCompletedEvent(cmd.LearnerID, cmd.LessonID, lesson.PhasePractice.String(), next.Attempts, now)
			ev.BaseEvent = ev.BaseEvent.WithCorrelationID(cmd.CorrelationID)
			result.Events = append(result.Events, ev)
		}

		if err := uow.Progress().Save(ctx, &next); err != nil {
			return fmt.Errorf("save progress: %w", err)
		}

		result.Outcome = res.Outcome
		result.TriesUsed = res.TriesUsed
		result.RevealAnswer = res.RevealAnswer
		result.Score = score
		result.Progress = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("submit_practice_answer: %w", err)
	}

	publishAll(h.eventPublisher, h.log, result.Events)

	h.log.Debug("practice answer applied",
		logger.LearnerID(cmd.LearnerID),
		logger.LessonID(cmd.LessonID),
		logger.String("outcome", string(result.Outcome)),
		logger.Int("tries_used", result.TriesUsed),
	)

	return result, nil
}
