package learner

import (
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// Profile - агрегат прогресса одного ребёнка.
type Profile struct {
	// ID - идентификатор ученика.
	ID string

	// TotalXP - накопленный XP. Не уменьшается, кроме явного сброса.
	TotalXP int

	// CurrentStreak - текущая серия дней с пройденным уроком.
	CurrentStreak int

	// LongestStreak - максимальная серия за всё время.
	LongestStreak int

	// TotalLessonsCompleted - число уроков, пройденных хотя бы раз.
	TotalLessonsCompleted int

	// LastLessonCompletedAt - время последнего завершения (нулевое, если не было).
	LastLessonCompletedAt time.Time

	// StreakFreezeBalance - доступные заморозки серии.
	StreakFreezeBalance int

	// LastFreezeGrantedAt - время последней выдачи заморозки (нулевое, если не было).
	LastFreezeGrantedAt time.Time

	// CreatedAt - время создания профиля.
	CreatedAt time.Time

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time
}

// NewProfile создаёт пустой профиль.
func NewProfile(id string, now time.Time) Profile {
	return Profile{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate проверяет инварианты профиля.
func (p Profile) Validate() error {
	if p.ID == "" {
		return shared.NewDomainError("learner", "Validate", shared.ErrEmptyValue, "learner ID is required")
	}
	if p.TotalXP < 0 || p.TotalLessonsCompleted < 0 || p.StreakFreezeBalance < 0 || p.CurrentStreak < 0 {
		return shared.NewDomainError("learner", "Validate", shared.ErrNegativeValue, "counters cannot be negative")
	}
	if p.CurrentStreak > p.LongestStreak {
		return shared.NewDomainError("learner", "Validate", shared.ErrInvariant, "current streak exceeds longest streak")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

// CompletionInput - данные каталога, нужные для начисления XP.
type CompletionInput struct {
	// BaseXP - базовая награда урока.
	BaseXP int

	// CompletesCategory - это завершение закрывает всю категорию.
	CompletesCategory bool
}

// CompletionOutcome описывает, что изменилось в профиле после завершения урока.
type CompletionOutcome struct {
	// XPAwarded - начисленный XP.
	XPAwarded int

	// Streak - изменение серии.
	Streak StreakUpdate

	// FirstCompletion - урок засчитан в TotalLessonsCompleted.
	FirstCompletion bool
}

// ApplyCompletion применяет завершение урока к профилю: обновляет серию,
// начисляет XP (множитель серии берётся после обновления) и счётчик уроков.
// Повторное завершение уже пройденного урока даёт XP и серию, но не
// увеличивает TotalLessonsCompleted.
func ApplyCompletion(p Profile, ev lesson.CompletionEvent, in CompletionInput) (Profile, CompletionOutcome) {
	next, streak := ApplyStreak(p, ev.CompletedAt)

	xp := ComputeXP(in.BaseXP, ev.IsFirstAttempt(), next.CurrentStreak, in.CompletesCategory)
	next.TotalXP = shared.XP(next.TotalXP).Add(xp).Int()
	if ev.FirstCompletion {
		next.TotalLessonsCompleted++
	}
	next.UpdatedAt = ev.CompletedAt

	return next, CompletionOutcome{
		XPAwarded:       xp,
		Streak:          streak,
		FirstCompletion: ev.FirstCompletion,
	}
}

// Reset обнуляет профиль. Единственный путь, где счётчики уменьшаются;
// вызывающий обязан записать аудит.
func Reset(p Profile, now time.Time) Profile {
	return Profile{
		ID:        p.ID,
		CreatedAt: p.CreatedAt,
		UpdatedAt: now,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATE STATE
// ══════════════════════════════════════════════════════════════════════════════

// State - всё, что нужно правилам достижений.
type State struct {
	// Profile - профиль ученика.
	Profile Profile

	// CompletedCategories - категории, где пройдены все уроки.
	CompletedCategories []string

	// FamilyActivitiesCompleted - число выполненных семейных заданий.
	FamilyActivitiesCompleted int
}
