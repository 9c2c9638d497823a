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
// COMPLETE PHASE COMMAND
// Records the completion of one lesson phase. Recording the reward phase
// completes the attempt and runs the streak, XP and achievement pipeline.
// ══════════════════════════════════════════════════════════════════════════════

// CompletePhaseCommand contains the data to record a phase completion.
type CompletePhaseCommand struct {
	// LearnerID is the child profile the lesson belongs to.
	LearnerID string

	// LessonID is the catalog ID of the lesson.
	LessonID string

	// Phase is the raw phase name ("hook", "teach", "practice", "reward").
	Phase string

	// OccurredAt is the device time of the completion (defaults to now).
	OccurredAt time.Time

	// Timezone is the device IANA timezone; it defines the learner's calendar day.
	Timezone string

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c CompletePhaseCommand) Validate() error {
	if c.LearnerID == "" {
		return errors.New("complete_phase: learner_id is required")
	}
	if c.LessonID == "" {
		return errors.New("complete_phase: lesson_id is required")
	}
	if c.Phase == "" {
		return errors.New("complete_phase: phase is required")
	}
	return nil
}

// CompletePhaseResult contains the result of a phase completion.
type CompletePhaseResult struct {
	// Progress is the lesson progress after the transition.
	Progress lesson.Progress

	// ResumePhase is where the player continues (PhaseNone once the attempt is done).
	ResumePhase lesson.Phase

	// LessonCompleted is true when the reward phase was recorded.
	LessonCompleted bool

	// XPAwarded is the XP granted for the completion.
	XPAwarded int

	// Profile is the learner profile after the completion (only on completion).
	Profile *learner.Profile

	// Streak describes the streak change (only on completion).
	Streak *learner.StreakUpdate

	// NewAchievements are the achievements unlocked by this completion.
	NewAchievements []learner.Achievement

	// Events contains domain events generated.
	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CompletePhaseHandler handles the CompletePhaseCommand.
type CompletePhaseHandler struct {
	uowFactory     learner.UnitOfWorkFactory
	catalog        lesson.Catalog
	locker         KeyLocker
	eventPublisher shared.EventPublisher
	achievements   achievementEvaluator
	now            Clock
	log            *logger.Logger
}

// CompletePhaseHandlerConfig contains configuration for the handler.
type CompletePhaseHandlerConfig struct {
	// CategoryBonus enables the ×1.25 bonus for completing a whole category.
	CategoryBonus bool

	// Clock overrides time.Now (tests).
	Clock Clock

	// NewID overrides the achievement ID generator (tests).
	NewID IDGenerator
}

// DefaultCompletePhaseHandlerConfig returns default configuration.
func DefaultCompletePhaseHandlerConfig() CompletePhaseHandlerConfig {
	return CompletePhaseHandlerConfig{
		CategoryBonus: true,
		Clock:         time.Now,
		NewID:         NewUUID,
	}
}

// NewCompletePhaseHandler creates a new CompletePhaseHandler.
func NewCompletePhaseHandler(
	uowFactory learner.UnitOfWorkFactory,
	catalog lesson.Catalog,
	locker KeyLocker,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	config CompletePhaseHandlerConfig,
) *CompletePhaseHandler {
	defaults := DefaultCompletePhaseHandlerConfig()
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.NewID == nil {
		config.NewID = defaults.NewID
	}
	if log == nil {
		log = logger.Nop()
	}
	if !config.CategoryBonus {
		catalog = categoryBlindCatalog{catalog}
	}

	return &CompletePhaseHandler{
		uowFactory:     uowFactory,
		catalog:        catalog,
		locker:         locker,
		eventPublisher: eventPublisher,
		achievements:   achievementEvaluator{catalog: catalog, newID: config.NewID, log: log},
		now:            config.Clock,
		log:            log.With(logger.Component("complete_phase")),
	}
}

// Handle executes the complete phase command.
func (h *CompletePhaseHandler) Handle(ctx context.Context, cmd CompletePhaseCommand) (result *CompletePhaseResult, err error) {
	ctx, span := startSpan(ctx, "CompletePhase",
		attribute.String("learner.id", cmd.LearnerID),
		attribute.String("lesson.id", cmd.LessonID),
		attribute.String("lesson.phase", cmd.Phase),
	)
	defer func() { finishSpan(span, err) }()

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("complete_phase: validation failed: %w", err)
	}

	phase, err := lesson.ParsePhase(cmd.Phase)
	if err != nil {
		return nil, fmt.Errorf("complete_phase: %w", err)
	}

	now, err := resolveTime(cmd.OccurredAt, cmd.Timezone, h.now)
	if err != nil {
		return nil, fmt.Errorf("complete_phase: %w", err)
	}

	unlock, err := h.locker.Lock(ctx, ProgressKey(cmd.LearnerID, cmd.LessonID))
	if err != nil {
		return nil, fmt.Errorf("complete_phase: %w", err)
	}
	defer unlock()

	// Only the reward phase touches the profile. Lock order is always
	// progress key, then learner key.
	if phase == lesson.PhaseReward {
		unlockLearner, err := h.locker.Lock(ctx, LearnerKey(cmd.LearnerID))
		if err != nil {
			return nil, fmt.Errorf("complete_phase: %w", err)
		}
		defer unlockLearner()
	}

	result = &CompletePhaseResult{Events: make([]shared.Event, 0, 4)}

	err = withUnitOfWork(ctx, h.uowFactory, func(uow learner.UnitOfWork) error {
		return h.apply(ctx, uow, cmd, phase, now, result)
	})
	if err != nil {
		return nil, fmt.Errorf("complete_phase: %w", err)
	}

	publishAll(h.eventPublisher, h.log, result.Events)

	h.log.Info("phase completed",
		logger.LearnerID(cmd.LearnerID),
		logger.LessonID(cmd.LessonID),
		logger.Phase(phase.String()),
		logger.Bool("lesson_completed", result.LessonCompleted),
		logger.XPAmount(result.XPAwarded),
	)

	return result, nil
}

func (h *CompletePhaseHandler) apply(
	ctx context.Context,
	uow learner.UnitOfWork,
	cmd CompletePhaseCommand,
	phase lesson.Phase,
	now time.Time,
	result *CompletePhaseResult,
) error {
	current, err := uow.Progress().Get(ctx, cmd.LearnerID, cmd.LessonID)
	var progress lesson.Progress
	switch {
	case err == nil:
		progress = *current
	case errors.Is(err, shared.ErrProgressNotFound):
		progress = lesson.NewProgress(cmd.LearnerID, cmd.LessonID, now)
	default:
		return fmt.Errorf("get progress: %w", err)
	}

	next, completion, err := lesson.TransitionPhase(progress, phase, now)
	if err != nil {
		return err
	}

	phaseEvent := shared.NewPhaseCompletedEvent(cmd.LearnerID, cmd.LessonID, phase.String(), next.Attempts, now)
	phaseEvent.BaseEvent = phaseEvent.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	result.Events = append(result.Events, phaseEvent)

	if completion != nil {
		if err := h.applyCompletion(ctx, uow, &next, *completion, now, cmd.CorrelationID, result); err != nil {
			return err
		}
	}

	if err := uow.Progress().Save(ctx, &next); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}

	result.Progress = next
	result.ResumePhase = next.ResumePhase()
	return nil
}

func (h *CompletePhaseHandler) applyCompletion(
	ctx context.Context,
	uow learner.UnitOfWork,
	progress *lesson.Progress,
	completion lesson.CompletionEvent,
	now time.Time,
	correlationID string,
	result *CompletePhaseResult,
) error {
	info, err := h.catalog.GetLesson(ctx, progress.LessonID)
	if err != nil {
		return fmt.Errorf("catalog lesson %s: %w", progress.LessonID, err)
	}

	completesCategory := false
	if completion.FirstCompletion && info.Category != "" {
		ids, err := h.catalog.LessonsInCategory(ctx, info.Category)
		if err != nil {
			return fmt.Errorf("catalog category %s: %w", info.Category, err)
		}
		done, err := uow.Progress().CompletedLessonIDs(ctx, progress.LearnerID)
		if err != nil {
			return fmt.Errorf("completed lessons: %w", err)
		}
		if done == nil {
			done = make(map[string]bool, 1)
		}
		done[progress.LessonID] = true
		completesCategory = lesson.CategoryComplete(ids, done)
	}

	profile, err := loadOrCreateProfile(ctx, uow.Profiles(), progress.LearnerID, now)
	if err != nil {
		return err
	}

	next, outcome := learner.ApplyCompletion(profile, completion, learner.CompletionInput{
		BaseXP:            info.BaseXP,
		CompletesCategory: completesCategory,
	})
	progress.AddXP(outcome.XPAwarded)

	if err := uow.Profiles().SaveProfile(ctx, &next); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	// The progress row must be visible to the achievement rules.
	if err := uow.Progress().Save(ctx, progress); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}

	unlocked, achEvents, err := h.achievements.evaluate(ctx, uow, next, now, correlationID)
	if err != nil {
		return err
	}

	result.LessonCompleted = true
	result.XPAwarded = outcome.XPAwarded
	result.Profile = &next
	result.Streak = &outcome.Streak
	result.NewAchievements = unlocked
	result.Events = append(result.Events, completionEvents(next, completion, outcome, correlationID)...)
	result.Events = append(result.Events, achEvents...)
	return nil
}

// completionEvents builds the events describing a lesson completion.
func completionEvents(p learner.Profile, c lesson.CompletionEvent, o learner.CompletionOutcome, correlationID string) []shared.Event {
	at := c.CompletedAt
	events := make([]shared.Event, 0, 4+len(o.Streak.Milestones))

	lc := shared.NewLessonCompletedEvent(p.ID, c.LessonID, c.Attempt, o.XPAwarded, c.FirstCompletion, at)
	lc.BaseEvent = lc.BaseEvent.WithCorrelationID(correlationID)
	events = append(events, lc)

	if o.XPAwarded > 0 {
		xp := shared.NewXPGainedEvent(p.ID, o.XPAwarded, p.TotalXP, c.LessonID, at)
		xp.BaseEvent = xp.BaseEvent.WithCorrelationID(correlationID)
		events = append(events, xp)
	}

	if o.Streak.Changed() {
		su := shared.NewStreakUpdatedEvent(p.ID, o.Streak.Previous, o.Streak.Current, p.LongestStreak, at)
		su.BaseEvent = su.BaseEvent.WithCorrelationID(correlationID)
		events = append(events, su)
	}

	if o.Streak.FreezeConsumed {
		fc := shared.NewFreezeConsumedEvent(p.ID, p.StreakFreezeBalance, at)
		fc.BaseEvent = fc.BaseEvent.WithCorrelationID(correlationID)
		events = append(events, fc)
	}

	for _, m := range o.Streak.Milestones {
		me := shared.NewStreakMilestoneEvent(p.ID, m.Days, m.ReachedAt)
		me.BaseEvent = me.BaseEvent.WithCorrelationID(correlationID)
		events = append(events, me)
	}

	return events
}

// categoryBlindCatalog hides categories when the category bonus is disabled.
type categoryBlindCatalog struct {
	lesson.Catalog
}

func (c categoryBlindCatalog) GetLesson(ctx context.Context, lessonID string) (*lesson.LessonInfo, error) {
	info, err := c.Catalog.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	blind := *info
	blind.Category = ""
	return &blind, nil
}
