package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened to a learner or one of their lesson attempts.
const (
	// Lesson events
	EventPhaseCompleted  EventType = "lesson.phase_completed"
	EventLessonCompleted EventType = "lesson.completed"
	EventLessonRestarted EventType = "lesson.restarted"

	// Progress events
	EventXPGained        EventType = "progress.xp_gained"
	EventStreakUpdated   EventType = "progress.streak_updated"
	EventStreakMilestone EventType = "progress.streak_milestone"
	EventFreezeConsumed  EventType = "progress.freeze_consumed"
	EventFreezeGranted   EventType = "progress.freeze_granted"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"

	// System events
	EventSnapshotReconciled EventType = "system.snapshot_reconciled"
	EventLearnerReset       EventType = "system.learner_reset"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event. The aggregate is always the learner.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Lesson Events
// ═══════════════════════════════════════════════════════════════════════════

// PhaseCompletedEvent is emitted when a learner finishes one phase of a lesson.
type PhaseCompletedEvent struct {
	BaseEvent
	LearnerID string `json:"learner_id"`
	LessonID  string `json:"lesson_id"`
	Phase     string `json:"phase"`
	Attempt   int    `json:"attempt"`
}

// Payload implements Event interface.
func (e PhaseCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id": e.LearnerID,
		"lesson_id":  e.LessonID,
		"phase":      e.Phase,
		"attempt":    e.Attempt,
	}
}

// NewPhaseCompletedEvent creates a new PhaseCompletedEvent.
func NewPhaseCompletedEvent(learnerID, lessonID, phase string, attempt int, at time.Time) PhaseCompletedEvent {
	return PhaseCompletedEvent{
		BaseEvent: NewBaseEvent(EventPhaseCompleted, learnerID, at),
		LearnerID: learnerID,
		LessonID:  lessonID,
		Phase:     phase,
		Attempt:   attempt,
	}
}

// LessonCompletedEvent is emitted when an attempt reaches the reward phase.
type LessonCompletedEvent struct {
	BaseEvent
	LearnerID      string `json:"learner_id"`
	LessonID       string `json:"lesson_id"`
	Attempt        int    `json:"attempt"`
	XPEarned       int    `json:"xp_earned"`
	FirstCompleted bool   `json:"first_completed"` // true only for the lesson's first completion
}

// Payload implements Event interface.
func (e LessonCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":      e.LearnerID,
		"lesson_id":       e.LessonID,
		"attempt":         e.Attempt,
		"xp_earned":       e.XPEarned,
		"first_completed": e.FirstCompleted,
	}
}

// NewLessonCompletedEvent creates a new LessonCompletedEvent.
func NewLessonCompletedEvent(learnerID, lessonID string, attempt, xp int, first bool, at time.Time) LessonCompletedEvent {
	return LessonCompletedEvent{
		BaseEvent:      NewBaseEvent(EventLessonCompleted, learnerID, at),
		LearnerID:      learnerID,
		LessonID:       lessonID,
		Attempt:        attempt,
		XPEarned:       xp,
		FirstCompleted: first,
	}
}

// LessonRestartedEvent is emitted when a learner replays a lesson from the start.
type LessonRestartedEvent struct {
	BaseEvent
	LearnerID string `json:"learner_id"`
	LessonID  string `json:"lesson_id"`
	Attempt   int    `json:"attempt"`
}

// Payload implements Event interface.
func (e LessonRestartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id": e.LearnerID,
		"lesson_id":  e.LessonID,
		"attempt":    e.Attempt,
	}
}

// NewLessonRestartedEvent creates a new LessonRestartedEvent.
func NewLessonRestartedEvent(learnerID, lessonID string, attempt int, at time.Time) LessonRestartedEvent {
	return LessonRestartedEvent{
		BaseEvent: NewBaseEvent(EventLessonRestarted, learnerID, at),
		LearnerID: learnerID,
		LessonID:  lessonID,
		Attempt:   attempt,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// XPGainedEvent is emitted when a learner gains XP.
type XPGainedEvent struct {
	BaseEvent
	LearnerID string `json:"learner_id"`
	Amount    int    `json:"amount"`
	NewTotal  int    `json:"new_total"`
	LessonID  string `json:"lesson_id,omitempty"`
}

// Payload implements Event interface.
func (e XPGainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id": e.LearnerID,
		"amount":     e.Amount,
		"new_total":  e.NewTotal,
		"lesson_id":  e.LessonID,
	}
}

// NewXPGainedEvent creates a new XPGainedEvent.
func NewXPGainedEvent(learnerID string, amount, newTotal int, lessonID string, at time.Time) XPGainedEvent {
	return XPGainedEvent{
		BaseEvent: NewBaseEvent(EventXPGained, learnerID, at),
		LearnerID: learnerID,
		Amount:    amount,
		NewTotal:  newTotal,
		LessonID:  lessonID,
	}
}

// StreakUpdatedEvent is emitted when the daily streak changes.
type StreakUpdatedEvent struct {
	BaseEvent
	LearnerID      string `json:"learner_id"`
	PreviousStreak int    `json:"previous_streak"`
	CurrentStreak  int    `json:"current_streak"`
	LongestStreak  int    `json:"longest_streak"`
	Reset          bool   `json:"reset"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":      e.LearnerID,
		"previous_streak": e.PreviousStreak,
		"current_streak":  e.CurrentStreak,
		"longest_streak":  e.LongestStreak,
		"reset":           e.Reset,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(learnerID string, previous, current, longest int, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:      NewBaseEvent(EventStreakUpdated, learnerID, at),
		LearnerID:      learnerID,
		PreviousStreak: previous,
		CurrentStreak:  current,
		LongestStreak:  longest,
		Reset:          current < previous,
	}
}

// StreakMilestoneEvent is emitted when the streak crosses 7, 30 or 100 days.
type StreakMilestoneEvent struct {
	BaseEvent
	LearnerID string `json:"learner_id"`
	Days      int    `json:"days"`
}

// Payload implements Event interface.
func (e StreakMilestoneEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id": e.LearnerID,
		"days":       e.Days,
	}
}

// NewStreakMilestoneEvent creates a new StreakMilestoneEvent.
func NewStreakMilestoneEvent(learnerID string, days int, at time.Time) StreakMilestoneEvent {
	return StreakMilestoneEvent{
		BaseEvent: NewBaseEvent(EventStreakMilestone, learnerID, at),
		LearnerID: learnerID,
		Days:      days,
	}
}

// FreezeConsumedEvent is emitted when a freeze bridged a missed day.
type FreezeConsumedEvent struct {
	BaseEvent
	LearnerID        string `json:"learner_id"`
	RemainingBalance int    `json:"remaining_balance"`
}

// Payload implements Event interface.
func (e FreezeConsumedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":        e.LearnerID,
		"remaining_balance": e.RemainingBalance,
	}
}

// NewFreezeConsumedEvent creates a new FreezeConsumedEvent.
func NewFreezeConsumedEvent(learnerID string, remaining int, at time.Time) FreezeConsumedEvent {
	return FreezeConsumedEvent{
		BaseEvent:        NewBaseEvent(EventFreezeConsumed, learnerID, at),
		LearnerID:        learnerID,
		RemainingBalance: remaining,
	}
}

// FreezeGrantedEvent is emitted when a learner receives a streak freeze.
type FreezeGrantedEvent struct {
	BaseEvent
	LearnerID  string `json:"learner_id"`
	NewBalance int    `json:"new_balance"`
}

// Payload implements Event interface.
func (e FreezeGrantedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":  e.LearnerID,
		"new_balance": e.NewBalance,
	}
}

// NewFreezeGrantedEvent creates a new FreezeGrantedEvent.
func NewFreezeGrantedEvent(learnerID string, balance int, at time.Time) FreezeGrantedEvent {
	return FreezeGrantedEvent{
		BaseEvent:  NewBaseEvent(EventFreezeGranted, learnerID, at),
		LearnerID:  learnerID,
		NewBalance: balance,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted once per kind per learner.
type AchievementUnlockedEvent struct {
	BaseEvent
	LearnerID     string `json:"learner_id"`
	AchievementID string `json:"achievement_id"`
	Kind          string `json:"kind"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id":     e.LearnerID,
		"achievement_id": e.AchievementID,
		"kind":           e.Kind,
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(learnerID, achievementID, kind string, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, learnerID, at),
		LearnerID:     learnerID,
		AchievementID: achievementID,
		Kind:          kind,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// System Events
// ═══════════════════════════════════════════════════════════════════════════

// SnapshotReconciledEvent is emitted after a remote snapshot was merged.
type SnapshotReconciledEvent struct {
	BaseEvent
	LearnerID string   `json:"learner_id"`
	LessonID  string   `json:"lesson_id,omitempty"`
	Anomalies []string `json:"anomalies,omitempty"`
	Changed   bool     `json:"changed"`
}

// Payload implements Event interface.
func (e SnapshotReconciledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id": e.LearnerID,
		"lesson_id":  e.LessonID,
		"anomalies":  e.Anomalies,
		"changed":    e.Changed,
	}
}

// NewSnapshotReconciledEvent creates a new SnapshotReconciledEvent.
func NewSnapshotReconciledEvent(learnerID, lessonID string, anomalies []string, changed bool, at time.Time) SnapshotReconciledEvent {
	return SnapshotReconciledEvent{
		BaseEvent: NewBaseEvent(EventSnapshotReconciled, learnerID, at),
		LearnerID: learnerID,
		LessonID:  lessonID,
		Anomalies: anomalies,
		Changed:   changed,
	}
}

// LearnerResetEvent is emitted after an audited reset wiped a learner's progress.
type LearnerResetEvent struct {
	BaseEvent
	LearnerID string `json:"learner_id"`
	AuditID   string `json:"audit_id"`
	Reason    string `json:"reason"`
	Actor     string `json:"actor"`
}

// Payload implements Event interface.
func (e LearnerResetEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"learner_id": e.LearnerID,
		"audit_id":   e.AuditID,
		"reason":     e.Reason,
		"actor":      e.Actor,
	}
}

// NewLearnerResetEvent creates a new LearnerResetEvent.
func NewLearnerResetEvent(learnerID, auditID, reason, actor string, at time.Time) LearnerResetEvent {
	return LearnerResetEvent{
		BaseEvent: NewBaseEvent(EventLearnerReset, learnerID, at),
		LearnerID: learnerID,
		AuditID:   auditID,
		Reason:    reason,
		Actor:     actor,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEventEnvelope serializes an event payload into an envelope.
func NewEventEnvelope(id string, event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		ID:          id,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if b, ok := event.(interface{ Correlation() string }); ok {
		env.CorrelationID = b.Correlation()
	}
	return env, nil
}

// Correlation returns the correlation ID attached to the event.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
