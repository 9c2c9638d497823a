// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SHARED HANDLER PLUMBING
// ══════════════════════════════════════════════════════════════════════════════

const tracerName = "github.com/nurkids/nur-learning-hub/internal/application/command"

var tracer = otel.Tracer(tracerName)

// startSpan opens a span for a command handler.
func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "command."+name, trace.WithAttributes(attrs...))
}

// finishSpan records err on span (if any) and ends it.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// KeyLocker serializes writes per record key. Lock blocks until the lock is
// held or ctx is done; the returned func releases it.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ProgressKey is the lock key of one (learner, lesson) record.
func ProgressKey(learnerID, lessonID string) string {
	return "progress:" + learnerID + ":" + lessonID
}

// LearnerKey is the lock key of a learner profile.
func LearnerKey(learnerID string) string {
	return "learner:" + learnerID
}

// IDGenerator creates identifiers for new records.
type IDGenerator func() string

// NewUUID is the default IDGenerator.
func NewUUID() string {
	return uuid.NewString()
}

// Clock returns the current time.
type Clock func() time.Time

// ══════════════════════════════════════════════════════════════════════════════
// LOCAL KEY LOCKER
// ══════════════════════════════════════════════════════════════════════════════

// LocalKeyLocker is an in-process KeyLocker. Used when Redis is disabled and in tests.
type LocalKeyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalKeyLocker creates an in-process locker.
func NewLocalKeyLocker() *LocalKeyLocker {
	return &LocalKeyLocker{locks: make(map[string]*keyLock)}
}

// Lock implements KeyLocker.
func (l *LocalKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl, false)
		return nil, fmt.Errorf("%w: %s: %w", shared.ErrLockNotAcquired, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, kl, true) })
	}, nil
}

func (l *LocalKeyLocker) release(key string, kl *keyLock, held bool) {
	if held {
		<-kl.ch
	}
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// lockAll takes the locks in the given order and returns a func that releases
// them in reverse. On failure the locks already taken are released.
func lockAll(ctx context.Context, locker KeyLocker, keys ...string) (func(), error) {
	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, key := range keys {
		unlock, err := locker.Lock(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TIME RESOLUTION
// ══════════════════════════════════════════════════════════════════════════════

// resolveTime picks the moment of a command. The learner's calendar day is
// read in the location of the returned time, so a device timezone, when
// given, wins over the offset of occurredAt.
func resolveTime(occurredAt time.Time, timezone string, now Clock) (time.Time, error) {
	t := occurredAt
	if t.IsZero() {
		t = now()
	}
	if timezone == "" {
		return t, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, shared.WrapError("command", "resolveTime", shared.ErrInvalidInput,
			fmt.Sprintf("unknown timezone %q", timezone), err)
	}
	return t.In(loc), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UNIT OF WORK HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// withUnitOfWork runs fn inside a unit of work and commits on success.
func withUnitOfWork(ctx context.Context, factory learner.UnitOfWorkFactory, fn func(uow learner.UnitOfWork) error) error {
	uow, err := factory.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}

	if err := fn(uow); err != nil {
		if rbErr := uow.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := uow.Commit(ctx); err != nil {
		return fmt.Errorf("commit unit of work: %w", err)
	}
	return nil
}

// loadOrCreateProfile returns the stored profile or a fresh one.
func loadOrCreateProfile(ctx context.Context, repo learner.Repository, learnerID string, now time.Time) (learner.Profile, error) {
	p, err := repo.GetProfile(ctx, learnerID)
	if err != nil {
		if errors.Is(err, shared.ErrLearnerNotFound) {
			return learner.NewProfile(learnerID, now), nil
		}
		return learner.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return *p, nil
}

// achievementEvaluator re-checks locked achievements for a learner and stores
// the new ones in the same unit of work.
type achievementEvaluator struct {
	catalog lesson.Catalog
	newID   IDGenerator
	log     *logger.Logger
}

// evaluate builds the aggregate state and creates newly unlocked achievements.
func (e achievementEvaluator) evaluate(
	ctx context.Context,
	uow learner.UnitOfWork,
	profile learner.Profile,
	now time.Time,
	correlationID string,
) ([]learner.Achievement, []shared.Event, error) {
	existing, err := uow.Achievements().ListByLearner(ctx, profile.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list achievements: %w", err)
	}

	completed, err := uow.Progress().CompletedLessonIDs(ctx, profile.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("completed lessons: %w", err)
	}

	var categories []string
	if e.catalog != nil {
		byCategory, err := e.catalog.Categories(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("catalog categories: %w", err)
		}
		categories = lesson.CompletedCategories(byCategory, completed)
	}

	family, err := uow.FamilyActivities().Count(ctx, profile.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("family activities: %w", err)
	}

	state := learner.State{
		Profile:                   profile,
		CompletedCategories:       categories,
		FamilyActivitiesCompleted: family,
	}

	unlocked := learner.EvaluateAchievements(state, learner.UnlockedKinds(existing), now)
	created := make([]learner.Achievement, 0, len(unlocked))
	events := make([]shared.Event, 0, len(unlocked))
	for i := range unlocked {
		a := &unlocked[i]
		a.ID = e.newID()
		if err := uow.Achievements().Create(ctx, a); err != nil {
			if shared.IsAlreadyExists(err) {
				// Another writer won the race for this kind.
				e.log.Debug("achievement already stored", logger.LearnerID(profile.ID), logger.String("kind", a.Kind.String()))
				continue
			}
			return nil, nil, fmt.Errorf("create achievement %s: %w", a.Kind, err)
		}
		created = append(created, *a)
		ev := shared.NewAchievementUnlockedEvent(profile.ID, a.ID, a.Kind.String(), now)
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(correlationID)
		events = append(events, ev)
	}
	return created, events, nil
}

// publishAll publishes events after commit. Publication failures are logged:
// the state change is already durable.
func publishAll(publisher shared.EventPublisher, log *logger.Logger, events []shared.Event) {
	if publisher == nil {
		return
	}
	for _, event := range events {
		if err := publisher.Publish(event); err != nil {
			log.Warn("failed to publish event",
				logger.String("event_type", string(event.EventType())),
				logger.String("aggregate_id", event.AggregateID()),
				logger.Err(err),
			)
		}
	}
}
