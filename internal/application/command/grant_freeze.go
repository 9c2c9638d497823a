package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
)

// GrantFreezeCommand grants one streak freeze to a learner.
type GrantFreezeCommand struct {
	LearnerID     string
	OccurredAt    time.Time
	CorrelationID string
}

// Validate validates the command.
func (c GrantFreezeCommand) Validate() error {
	if c.LearnerID == "" {
		return errors.New("grant_freeze: learner_id is required")
	}
	return nil
}

// GrantFreezeResult contains the profile after the grant.
type GrantFreezeResult struct {
	Profile      learner.Profile
	NextFreezeAt time.Time
}

// GrantFreezeHandler handles the GrantFreezeCommand. A second grant inside
// the same rolling week returns ErrFreezeAlreadyGranted.
type GrantFreezeHandler struct {
	uowFactory     learner.UnitOfWorkFactory
	locker         KeyLocker
	eventPublisher shared.EventPublisher
	now            Clock
	log            *logger.Logger
}

// NewGrantFreezeHandler creates a new GrantFreezeHandler.
func NewGrantFreezeHandler(
	uowFactory learner.UnitOfWorkFactory,
	locker KeyLocker,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
	clock Clock,
) *GrantFreezeHandler {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GrantFreezeHandler{
		uowFactory:     uowFactory,
		locker:         locker,
		eventPublisher: eventPublisher,
		now:            clock,
		log:            log.With(logger.Component("grant_freeze")),
	}
}

// Handle executes the command.
func (h *GrantFreezeHandler) Handle(ctx context.Context, cmd GrantFreezeCommand) (result *GrantFreezeResult, err error) {
	ctx, span := startSpan(ctx, "GrantFreeze", attribute.String("learner.id", cmd.LearnerID))
	defer func() { finishSpan(span, err) }()

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("grant_freeze: validation failed: %w", err)
	}

	now := cmd.OccurredAt
	if now.IsZero() {
		now = h.now()
	}

	unlock, err := h.locker.Lock(ctx, LearnerKey(cmd.LearnerID))
	if err != nil {
		return nil, fmt.Errorf("grant_freeze: %w", err)
	}
	defer unlock()

	var granted learner.Profile
	err = withUnitOfWork(ctx, h.uowFactory, func(uow learner.UnitOfWork) error {
		current, err := uow.Profiles().GetProfile(ctx, cmd.LearnerID)
		if err != nil {
			return err
		}

		next, err := learner.GrantFreeze(*current, now)
		if err != nil {
			return err
		}

		if err := uow.Profiles().SaveProfile(ctx, &next); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		granted = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("grant_freeze: %w", err)
	}

	ev := shared.NewFreezeGrantedEvent(cmd.LearnerID, granted.StreakFreezeBalance, now)
	ev.BaseEvent = ev.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	publishAll(h.eventPublisher, h.log, []shared.Event{ev})

	h.log.Info("streak freeze granted",
		logger.LearnerID(cmd.LearnerID),
		logger.Int("balance", granted.StreakFreezeBalance),
	)

	return &GrantFreezeResult{
		Profile:      granted,
		NextFreezeAt: learner.NextFreezeAt(granted),
	}, nil
}
