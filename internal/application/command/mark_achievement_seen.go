package command

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
)

// MarkAchievementSeenCommand marks an unlocked achievement as shown to the child.
type MarkAchievementSeenCommand struct {
	LearnerID     string
	AchievementID string
}

// Validate validates the command.
func (c MarkAchievementSeenCommand) Validate() error {
	if c.LearnerID == "" {
		return errors.New("mark_achievement_seen: learner_id is required")
	}
	if c.AchievementID == "" {
		return errors.New("mark_achievement_seen: achievement_id is required")
	}
	return nil
}

// MarkAchievementSeenHandler handles the MarkAchievementSeenCommand.
type MarkAchievementSeenHandler struct {
	uowFactory learner.UnitOfWorkFactory
	log        *logger.Logger
}

// NewMarkAchievementSeenHandler creates a new MarkAchievementSeenHandler.
func NewMarkAchievementSeenHandler(uowFactory learner.UnitOfWorkFactory, log *logger.Logger) *MarkAchievementSeenHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &MarkAchievementSeenHandler{
		uowFactory: uowFactory,
		log:        log.With(logger.Component("mark_achievement_seen")),
	}
}

// Handle executes the command. Marking an already seen achievement is a no-op.
func (h *MarkAchievementSeenHandler) Handle(ctx context.Context, cmd MarkAchievementSeenCommand) (err error) {
	ctx, span := startSpan(ctx, "MarkAchievementSeen",
		attribute.String("learner.id", cmd.LearnerID),
		attribute.String("achievement.id", cmd.AchievementID),
	)
	defer func() { finishSpan(span, err) }()

	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("mark_achievement_seen: validation failed: %w", err)
	}

	err = withUnitOfWork(ctx, h.uowFactory, func(uow learner.UnitOfWork) error {
		return uow.Achievements().MarkSeen(ctx, cmd.LearnerID, cmd.AchievementID)
	})
	if err != nil {
		return fmt.Errorf("mark_achievement_seen: %w", err)
	}

	h.log.Debug("achievement marked seen",
		logger.LearnerID(cmd.LearnerID),
		logger.String("achievement_id", cmd.AchievementID),
	)
	return nil
}
