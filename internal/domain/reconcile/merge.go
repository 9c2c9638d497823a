// Package reconcile сводит два снимка одной записи (локальный и удалённый)
// в один, не теряя прогресса более продвинутой стороны.
//
// Слияние коммутативно и идемпотентно: Merge(A, B) == Merge(B, A) и
// Merge(Merge(A, B), B) == Merge(A, B). Функции пакета не выполняют ввод-вывод;
// запись результата - забота вызывающего.
//
// Нарушения инвариантов во входных снимках не исправляются молча: каждая
// поправка попадает в Report как Anomaly (ErrInvalidRecordState), и вызывающий
// обязан её залогировать. Снимки разных записей - фатальная ошибка
// ErrRecordMismatch, результат не создаётся.
package reconcile

import (
	"fmt"
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPORT
// ══════════════════════════════════════════════════════════════════════════════

// Side - сторона слияния.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Anomaly - нарушение инварианта во входном снимке и способ его обхода.
type Anomaly struct {
	Side   Side
	Field  string
	Detail string
}

// Error implements error.
func (a Anomaly) Error() string {
	return fmt.Sprintf("%s snapshot: %s: %s", a.Side, a.Field, a.Detail)
}

// Unwrap позволяет проверять аномалию через errors.Is(err, ErrInvalidRecordState).
func (a Anomaly) Unwrap() error {
	return shared.ErrInvalidRecordState
}

// Report собирает аномалии одного слияния.
type Report struct {
	Anomalies []Anomaly
}

// HasAnomalies сообщает, были ли поправки.
func (r Report) HasAnomalies() bool {
	return len(r.Anomalies) > 0
}

// Strings возвращает аномалии в виде строк для логов и событий.
func (r Report) Strings() []string {
	out := make([]string, 0, len(r.Anomalies))
	for _, a := range r.Anomalies {
		out = append(out, a.Error())
	}
	return out
}

// Merge добавляет аномалии другого отчёта.
func (r *Report) Merge(other Report) {
	r.Anomalies = append(r.Anomalies, other.Anomalies...)
}

func (r *Report) flag(side Side, field, format string, args ...any) {
	r.Anomalies = append(r.Anomalies, Anomaly{Side: side, Field: field, Detail: fmt.Sprintf(format, args...)})
}

// ══════════════════════════════════════════════════════════════════════════════
// LESSON PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// MergeProgress сливает два снимка прогресса одного урока.
//
//   - CompletedAt - самое раннее завершение
//   - Score, XPEarned - максимум
//   - Attempts - минимум
//   - IsCompleted - OR
//   - Phases - объединение; при совпадении фазы берётся более раннее время
//   - LastCompletedPhase - более поздняя фаза
//   - LastAccessedAt - более позднее время
//
// Завершённая запись без каких-либо времён считается незавершённой; чтобы
// сохранить такое завершение, используйте MergeProgressAt.
func MergeProgress(local, remote lesson.Progress) (lesson.Progress, Report, error) {
	return MergeProgressAt(local, remote, time.Time{})
}

// MergeProgressAt работает как MergeProgress, но завершённой записи без
// CompletedAt, времён фаз и LastAccessedAt назначает время fallback (обычно
// время снятия снимка). Нулевой fallback снимает с такой записи завершение.
// Результат всегда проходит Progress.Validate.
func MergeProgressAt(local, remote lesson.Progress, fallback time.Time) (lesson.Progress, Report, error) {
	if local.LearnerID != remote.LearnerID || local.LessonID != remote.LessonID {
		return lesson.Progress{}, Report{}, fmt.Errorf("%w: %s/%s vs %s/%s", shared.ErrRecordMismatch,
			local.LearnerID, local.LessonID, remote.LearnerID, remote.LessonID)
	}

	var report Report
	l := normalizeProgress(local, SideLocal, fallback, &report)
	r := normalizeProgress(remote, SideRemote, fallback, &report)

	merged := lesson.Progress{
		LearnerID:          l.LearnerID,
		LessonID:           l.LessonID,
		IsCompleted:        l.IsCompleted || r.IsCompleted,
		CompletedAt:        earliest(l.CompletedAt, r.CompletedAt),
		Score:              max(l.Score, r.Score),
		XPEarned:           max(l.XPEarned, r.XPEarned),
		Attempts:           min(l.Attempts, r.Attempts),
		LastCompletedPhase: max(l.LastCompletedPhase, r.LastCompletedPhase),
		LastAccessedAt:     latest(l.LastAccessedAt, r.LastAccessedAt),
	}

	for _, ph := range lesson.AllPhases() {
		lt, _ := l.Phases.At(ph)
		rt, _ := r.Phases.At(ph)
		merged.Phases.Set(ph, earliest(lt, rt))
	}

	return merged, report, nil
}

// normalizeProgress приводит снимок к виду, удовлетворяющему инвариантам,
// отмечая каждую поправку в отчёте.
func normalizeProgress(p lesson.Progress, side Side, fallback time.Time, report *Report) lesson.Progress {
	if p.Attempts < 1 {
		report.flag(side, "attempts", "%d is below 1, treated as 1", p.Attempts)
		p.Attempts = 1
	}
	if p.Score < 0 {
		report.flag(side, "score", "negative score %d, treated as 0", p.Score)
		p.Score = 0
	}
	if p.XPEarned < 0 {
		report.flag(side, "xpEarned", "negative xp %d, treated as 0", p.XPEarned)
		p.XPEarned = 0
	}
	if p.LastCompletedPhase != lesson.PhaseNone && !p.LastCompletedPhase.IsValid() {
		report.flag(side, "lastCompletedPhase", "out of range value %d", int(p.LastCompletedPhase))
		p.LastCompletedPhase = p.Phases.Highest()
	}
	if highest := p.Phases.Highest(); highest > p.LastCompletedPhase {
		report.flag(side, "lastCompletedPhase", "%s recorded beyond last completed phase %s", highest, p.LastCompletedPhase)
		p.LastCompletedPhase = highest
	}
	if !p.IsCompleted && p.LastCompletedPhase == lesson.PhaseReward {
		report.flag(side, "isCompleted", "reward recorded on incomplete record")
		p.IsCompleted = true
	}
	if !p.IsCompleted && !p.CompletedAt.IsZero() {
		report.flag(side, "isCompleted", "completion time %s set on incomplete record", p.CompletedAt.Format(time.RFC3339))
		p.IsCompleted = true
	}
	if p.IsCompleted && p.CompletedAt.IsZero() {
		if ts := plausibleCompletion(p, fallback); !ts.IsZero() {
			report.flag(side, "completedAt", "completed record has no completion time, using %s", ts.UTC().Format(time.RFC3339))
			p.CompletedAt = ts
		} else {
			// Нет ни одного времени: завершение ничем не подтверждено.
			report.flag(side, "isCompleted", "completed record has no time evidence, treated as incomplete")
			p.IsCompleted = false
			if p.LastCompletedPhase == lesson.PhaseReward {
				p.LastCompletedPhase = p.Phases.Highest()
			}
		}
	}
	return p
}

// plausibleCompletion выбирает время завершения для записи без CompletedAt:
// время фазы Reward, иначе самой поздней записанной фазы, иначе
// LastAccessedAt, иначе fallback.
func plausibleCompletion(p lesson.Progress, fallback time.Time) time.Time {
	if ts, ok := p.Phases.At(lesson.PhaseReward); ok {
		return ts
	}
	if ts, ok := p.Phases.At(p.Phases.Highest()); ok {
		return ts
	}
	if !p.LastAccessedAt.IsZero() {
		return p.LastAccessedAt
	}
	return fallback
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// MergeProfile сливает два снимка профиля.
//
//   - CurrentStreak, TotalXP, TotalLessonsCompleted - максимум
//   - LongestStreak - максимум из обеих сторон и итоговой текущей серии
//   - LastLessonCompletedAt, LastFreezeGrantedAt - более позднее время
//   - StreakFreezeBalance - со стороны с более поздней выдачей заморозки,
//     при равенстве - минимум
func MergeProfile(local, remote learner.Profile) (learner.Profile, Report, error) {
	if local.ID != remote.ID {
		return learner.Profile{}, Report{}, fmt.Errorf("%w: learner %s vs %s", shared.ErrRecordMismatch, local.ID, remote.ID)
	}

	var report Report
	l := normalizeProfile(local, SideLocal, &report)
	r := normalizeProfile(remote, SideRemote, &report)

	merged := learner.Profile{
		ID:                    l.ID,
		TotalXP:               max(l.TotalXP, r.TotalXP),
		CurrentStreak:         max(l.CurrentStreak, r.CurrentStreak),
		TotalLessonsCompleted: max(l.TotalLessonsCompleted, r.TotalLessonsCompleted),
		LastLessonCompletedAt: latest(l.LastLessonCompletedAt, r.LastLessonCompletedAt),
		LastFreezeGrantedAt:   latest(l.LastFreezeGrantedAt, r.LastFreezeGrantedAt),
		StreakFreezeBalance:   mergeFreezeBalance(l, r),
		CreatedAt:             earliest(l.CreatedAt, r.CreatedAt),
		UpdatedAt:             latest(l.UpdatedAt, r.UpdatedAt),
	}
	merged.LongestStreak = max(l.LongestStreak, r.LongestStreak, merged.CurrentStreak)

	return merged, report, nil
}

// earliest и latest приводят результат к UTC, чтобы равные моменты в разных
// часовых поясах давали одинаковый результат независимо от порядка сторон.
func earliest(a, b time.Time) time.Time {
	return timeutil.Earlier(a, b).UTC()
}

func latest(a, b time.Time) time.Time {
	return timeutil.Later(a, b).UTC()
}

func mergeFreezeBalance(l, r learner.Profile) int {
	switch {
	case l.LastFreezeGrantedAt.After(r.LastFreezeGrantedAt):
		return l.StreakFreezeBalance
	case r.LastFreezeGrantedAt.After(l.LastFreezeGrantedAt):
		return r.StreakFreezeBalance
	default:
		return min(l.StreakFreezeBalance, r.StreakFreezeBalance)
	}
}

func normalizeProfile(p learner.Profile, side Side, report *Report) learner.Profile {
	if p.TotalXP < 0 {
		report.flag(side, "totalXP", "negative value %d, treated as 0", p.TotalXP)
		p.TotalXP = 0
	}
	if p.TotalLessonsCompleted < 0 {
		report.flag(side, "totalLessonsCompleted", "negative value %d, treated as 0", p.TotalLessonsCompleted)
		p.TotalLessonsCompleted = 0
	}
	if p.CurrentStreak < 0 {
		report.flag(side, "currentStreak", "negative value %d, treated as 0", p.CurrentStreak)
		p.CurrentStreak = 0
	}
	if p.StreakFreezeBalance < 0 {
		report.flag(side, "streakFreezeBalance", "negative value %d, treated as 0", p.StreakFreezeBalance)
		p.StreakFreezeBalance = 0
	}
	if p.CurrentStreak > p.LongestStreak {
		report.flag(side, "longestStreak", "%d is below current streak %d", p.LongestStreak, p.CurrentStreak)
		p.LongestStreak = p.CurrentStreak
	}
	return p
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot - удалённый снимок данных ученика, пришедший с другого устройства.
type Snapshot struct {
	// LearnerID - владелец снимка.
	LearnerID string

	// DeviceID - устройство-источник (только для логов).
	DeviceID string

	// Profile - снимок профиля (может отсутствовать).
	Profile *learner.Profile

	// Progress - снимки прогресса по урокам.
	Progress []lesson.Progress

	// CapturedAt - время снятия снимка на устройстве.
	CapturedAt time.Time
}

// Validate проверяет, что все записи снимка принадлежат одному ученику.
func (s Snapshot) Validate() error {
	if s.LearnerID == "" {
		return shared.NewDomainError("reconcile", "Validate", shared.ErrEmptyValue, "snapshot has no learner ID")
	}
	if s.Profile != nil && s.Profile.ID != s.LearnerID {
		return fmt.Errorf("%w: profile %s in snapshot of %s", shared.ErrRecordMismatch, s.Profile.ID, s.LearnerID)
	}
	for _, p := range s.Progress {
		if p.LearnerID != s.LearnerID {
			return fmt.Errorf("%w: progress of %s in snapshot of %s", shared.ErrRecordMismatch, p.LearnerID, s.LearnerID)
		}
		if p.LessonID == "" {
			return shared.NewDomainError("reconcile", "Validate", shared.ErrEmptyValue, "progress has no lesson ID")
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPARISON
// ══════════════════════════════════════════════════════════════════════════════

// SameProgress сравнивает записи по значению; времена сравниваются как моменты,
// без учёта часового пояса.
func SameProgress(a, b lesson.Progress) bool {
	if a.LearnerID != b.LearnerID || a.LessonID != b.LessonID ||
		a.IsCompleted != b.IsCompleted || a.Score != b.Score || a.XPEarned != b.XPEarned ||
		a.Attempts != b.Attempts || a.LastCompletedPhase != b.LastCompletedPhase {
		return false
	}
	if !a.CompletedAt.Equal(b.CompletedAt) || !a.LastAccessedAt.Equal(b.LastAccessedAt) {
		return false
	}
	for _, ph := range lesson.AllPhases() {
		at, _ := a.Phases.At(ph)
		bt, _ := b.Phases.At(ph)
		if !at.Equal(bt) {
			return false
		}
	}
	return true
}

// SameProfile сравнивает профили по значению, не учитывая UpdatedAt.
func SameProfile(a, b learner.Profile) bool {
	return a.ID == b.ID &&
		a.TotalXP == b.TotalXP &&
		a.CurrentStreak == b.CurrentStreak &&
		a.LongestStreak == b.LongestStreak &&
		a.TotalLessonsCompleted == b.TotalLessonsCompleted &&
		a.StreakFreezeBalance == b.StreakFreezeBalance &&
		a.LastLessonCompletedAt.Equal(b.LastLessonCompletedAt) &&
		a.LastFreezeGrantedAt.Equal(b.LastFreezeGrantedAt)
}
