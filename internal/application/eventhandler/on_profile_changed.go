// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROFILE CHANGED HANDLER
// Сбрасывает закэшированный профиль ученика после каждого события, которое
// меняет XP, серию, заморозки или счётчик уроков. Экран прогресса после
// этого читает профиль из базы.
// ═══════════════════════════════════════════════════════════════════════════

// ProfileInvalidator - кэш, из которого можно удалить профиль.
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, learnerID string) error
}

// ProfileChangingEvents - события, после которых кэш профиля устаревает.
var ProfileChangingEvents = []shared.EventType{
	shared.EventLessonCompleted,
	shared.EventXPGained,
	shared.EventStreakUpdated,
	shared.EventFreezeConsumed,
	shared.EventFreezeGranted,
	shared.EventSnapshotReconciled,
	shared.EventLearnerReset,
}

// OnProfileChangedHandler удаляет профиль из кэша.
type OnProfileChangedHandler struct {
	cache   ProfileInvalidator
	timeout time.Duration
	log     *logger.Logger
}

// NewOnProfileChangedHandler создаёт обработчик.
func NewOnProfileChangedHandler(cache ProfileInvalidator, log *logger.Logger) *OnProfileChangedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnProfileChangedHandler{
		cache:   cache,
		timeout: 2 * time.Second,
		log:     log.With(logger.Component("on_profile_changed")),
	}
}

// Handle реализует shared.EventHandler. Агрегат события - ученик.
func (h *OnProfileChangedHandler) Handle(event shared.Event) error {
	learnerID := event.AggregateID()
	if learnerID == "" {
		h.log.Warn("event without learner", logger.String("event_type", string(event.EventType())))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.Invalidate(ctx, learnerID); err != nil {
		// Ошибка Redis повторяется middleware шины.
		return fmt.Errorf("invalidate profile %s: %w: %w", learnerID, shared.ErrServiceUnavailable, err)
	}

	h.log.Debug("profile cache invalidated",
		logger.LearnerID(learnerID),
		logger.String("event_type", string(event.EventType())))
	return nil
}

// Register подписывает обработчик на все события, меняющие профиль.
func (h *OnProfileChangedHandler) Register(bus shared.EventSubscriber) error {
	for _, t := range ProfileChangingEvents {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}
