package learner

import (
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// StreakMilestones - длины серии, о достижении которых сообщается событием.
var StreakMilestones = []int{7, 30, 100}

// MilestoneEvent - серия впервые достигла длины Days.
type MilestoneEvent struct {
	Days      int
	ReachedAt time.Time
}

// StreakUpdate описывает результат применения завершения к серии.
type StreakUpdate struct {
	// Previous - серия до завершения.
	Previous int

	// Current - серия после завершения.
	Current int

	// DayGap - разница в календарных днях с прошлым завершением
	// (-1, если завершений ещё не было).
	DayGap int

	// FreezeConsumed - заморозка закрыла пропущенный день.
	FreezeConsumed bool

	// Reset - серия началась заново.
	Reset bool

	// Ignored - время завершения раньше прошлого дня (рассинхрон часов), профиль не изменён.
	Ignored bool

	// Milestones - пересечённые пороги.
	Milestones []MilestoneEvent
}

// Changed сообщает, изменилась ли длина серии.
func (u StreakUpdate) Changed() bool {
	return u.Previous != u.Current
}

// RecordCompletion применяет событие "урок завершён" к серии.
// Календарный день определяется в часовом поясе now.
func RecordCompletion(p Profile, now time.Time) (Profile, []MilestoneEvent) {
	next, update := ApplyStreak(p, now)
	return next, update.Milestones
}

// ApplyStreak - RecordCompletion с подробным отчётом об изменении.
func ApplyStreak(p Profile, now time.Time) (Profile, StreakUpdate) {
	update := StreakUpdate{Previous: p.CurrentStreak, DayGap: -1}
	next := p

	if p.LastLessonCompletedAt.IsZero() {
		next.CurrentStreak = 1
	} else {
		gap := timeutil.CalendarDaysBetween(p.LastLessonCompletedAt, now)
		update.DayGap = gap

		switch {
		case gap < 0:
			update.Current = p.CurrentStreak
			update.Ignored = true
			return p, update
		case gap == 0:
			// Тот же день - серия не меняется
			if next.CurrentStreak < 1 {
				next.CurrentStreak = 1
			}
		case gap == 1:
			next.CurrentStreak++
		case gap == 2 && p.StreakFreezeBalance > 0:
			next.StreakFreezeBalance--
			next.CurrentStreak++
			update.FreezeConsumed = true
		default:
			next.CurrentStreak = 1
			update.Reset = p.CurrentStreak > 0
		}
	}

	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	next.LastLessonCompletedAt = now
	next.UpdatedAt = now

	update.Current = next.CurrentStreak
	update.Milestones = crossedMilestones(update.Previous, update.Current, now)
	return next, update
}

// crossedMilestones возвращает пороги в полуинтервале (from, to].
func crossedMilestones(from, to int, at time.Time) []MilestoneEvent {
	var out []MilestoneEvent
	for _, m := range StreakMilestones {
		if from < m && to >= m {
			out = append(out, MilestoneEvent{Days: m, ReachedAt: at})
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// STREAK FREEZE
// ══════════════════════════════════════════════════════════════════════════════

// GrantFreeze выдаёт одну заморозку серии, не чаще раза в скользящие 7 дней.
// При повторной выдаче возвращает ErrFreezeAlreadyGranted и исходный профиль.
func GrantFreeze(p Profile, now time.Time) (Profile, error) {
	if timeutil.WithinRollingWeek(p.LastFreezeGrantedAt, now) {
		return p, shared.ErrFreezeAlreadyGranted
	}
	next := p
	next.StreakFreezeBalance++
	next.LastFreezeGrantedAt = now
	next.UpdatedAt = now
	return next, nil
}

// NextFreezeAt возвращает момент, когда станет доступна следующая заморозка.
func NextFreezeAt(p Profile) time.Time {
	if p.LastFreezeGrantedAt.IsZero() {
		return time.Time{}
	}
	return p.LastFreezeGrantedAt.Add(timeutil.Week)
}
