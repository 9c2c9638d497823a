package lesson

import (
	"fmt"
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PHASE LOG
// ══════════════════════════════════════════════════════════════════════════════

// PhaseLog - таблица времени завершения фаз, индексированная фазой.
// Нулевое время означает, что фаза в текущей попытке не завершена.
type PhaseLog [PhaseCount]time.Time

// At возвращает время завершения фазы.
func (l PhaseLog) At(p Phase) (time.Time, bool) {
	if !p.IsValid() {
		return time.Time{}, false
	}
	ts := l[p.index()]
	return ts, !ts.IsZero()
}

// Set записывает время завершения фазы. Невалидные фазы игнорируются.
func (l *PhaseLog) Set(p Phase, ts time.Time) {
	if !p.IsValid() {
		return
	}
	l[p.index()] = ts
}

// Highest возвращает самую позднюю (по порядку) записанную фазу.
func (l PhaseLog) Highest() Phase {
	for p := PhaseReward; p >= PhaseHook; p-- {
		if !l[p.index()].IsZero() {
			return p
		}
	}
	return PhaseNone
}

// IsEmpty проверяет, что ни одна фаза не записана.
func (l PhaseLog) IsEmpty() bool {
	return l.Highest() == PhaseNone
}

// Recorded возвращает записанные фазы в порядке прохождения.
func (l PhaseLog) Recorded() []Phase {
	var out []Phase
	for _, p := range AllPhases() {
		if !l[p.index()].IsZero() {
			out = append(out, p)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// Progress - прогресс одного ученика по одному уроку.
type Progress struct {
	// LearnerID - идентификатор ученика.
	LearnerID string

	// LessonID - идентификатор урока из каталога.
	LessonID string

	// IsCompleted - урок хотя бы раз пройден до конца.
	IsCompleted bool

	// CompletedAt - время первого завершения (нулевое, если не завершён).
	CompletedAt time.Time

	// Score - лучший результат практики.
	Score int

	// XPEarned - сколько XP принёс этот урок за все попытки.
	XPEarned int

	// Attempts - номер текущей попытки, начиная с 1.
	Attempts int

	// LastCompletedPhase - последняя завершённая фаза текущей попытки.
	LastCompletedPhase Phase

	// Phases - время завершения фаз текущей попытки.
	Phases PhaseLog

	// LastAccessedAt - время последнего обращения к уроку.
	LastAccessedAt time.Time
}

// CompletionEvent возвращается, когда попытка доходит до фазы Reward.
type CompletionEvent struct {
	LearnerID string
	LessonID  string

	// Attempt - номер завершённой попытки.
	Attempt int

	// CompletedAt - время записи фазы Reward.
	CompletedAt time.Time

	// FirstCompletion - урок завершён впервые (IsCompleted был false).
	FirstCompletion bool
}

// IsFirstAttempt сообщает, относится ли завершение к первой попытке.
func (e CompletionEvent) IsFirstAttempt() bool {
	return e.Attempt <= 1
}

// NewProgress создаёт прогресс для урока, который ученик открывает впервые.
func NewProgress(learnerID, lessonID string, now time.Time) Progress {
	return Progress{
		LearnerID:      learnerID,
		LessonID:       lessonID,
		Attempts:       1,
		LastAccessedAt: now,
	}
}

// State возвращает состояние текущей попытки.
func (p Progress) State() State {
	return stateOf(p.LastCompletedPhase)
}

// ResumePhase возвращает фазу, с которой нужно продолжить попытку.
// Для завершённой попытки возвращает PhaseNone: нужен Restart.
func (p Progress) ResumePhase() Phase {
	if p.LastCompletedPhase == PhaseNone {
		return PhaseHook
	}
	return p.LastCompletedPhase.Next()
}

// AttemptFinished сообщает, что текущая попытка дошла до Reward.
func (p Progress) AttemptFinished() bool {
	return p.LastCompletedPhase == PhaseReward
}

// TransitionPhase записывает завершение фазы requested в момент now.
//
// Фаза должна быть непосредственным преемником LastCompletedPhase, иначе
// возвращается ErrOutOfOrderTransition и прогресс не меняется. Если попытка уже
// дошла до Reward, возвращается ErrLessonAlreadyDone. Запись Reward отмечает
// урок завершённым и возвращает CompletionEvent.
func TransitionPhase(p Progress, requested Phase, now time.Time) (Progress, *CompletionEvent, error) {
	if !requested.IsValid() {
		return p, nil, fmt.Errorf("%w: %d", shared.ErrUnknownPhase, int(requested))
	}
	if p.AttemptFinished() {
		return p, nil, shared.ErrLessonAlreadyDone
	}
	if requested != p.ResumePhase() {
		return p, nil, fmt.Errorf("%w: last=%s requested=%s",
			shared.ErrOutOfOrderTransition, p.LastCompletedPhase, requested)
	}

	next := p
	next.Phases.Set(requested, now)
	next.LastCompletedPhase = requested
	next.LastAccessedAt = now
	if next.Attempts < 1 {
		next.Attempts = 1
	}

	if requested != PhaseReward {
		return next, nil, nil
	}

	first := !p.IsCompleted
	next.IsCompleted = true
	if first || next.CompletedAt.IsZero() {
		next.CompletedAt = now
	}

	return next, &CompletionEvent{
		LearnerID:       p.LearnerID,
		LessonID:        p.LessonID,
		Attempt:         next.Attempts,
		CompletedAt:     now,
		FirstCompletion: first,
	}, nil
}

// Restart начинает новую попытку: очищает таблицу фаз и LastCompletedPhase,
// увеличивает Attempts. IsCompleted, CompletedAt, Score и XPEarned сохраняются.
func Restart(p Progress, now time.Time) Progress {
	next := p
	next.Phases = PhaseLog{}
	next.LastCompletedPhase = PhaseNone
	if next.Attempts < 1 {
		next.Attempts = 1
	}
	next.Attempts++
	next.LastAccessedAt = now
	return next
}

// RecordScore сохраняет лучший результат.
func (p *Progress) RecordScore(score int) {
	if score > p.Score {
		p.Score = score
	}
}

// AddXP добавляет XP, заработанный завершением попытки.
func (p *Progress) AddXP(xp int) {
	if xp > 0 {
		p.XPEarned += xp
	}
}

// Validate проверяет инварианты записи.
func (p Progress) Validate() error {
	if p.LearnerID == "" || p.LessonID == "" {
		return shared.NewDomainError("lesson", "Validate", shared.ErrEmptyValue, "learner and lesson IDs are required")
	}
	if p.Attempts < 1 {
		return shared.NewDomainError("lesson", "Validate", shared.ErrInvariant, "attempts must be at least 1")
	}
	if p.Score < 0 || p.XPEarned < 0 {
		return shared.NewDomainError("lesson", "Validate", shared.ErrNegativeValue, "score and XP cannot be negative")
	}
	if p.LastCompletedPhase != PhaseNone && !p.LastCompletedPhase.IsValid() {
		return shared.NewDomainError("lesson", "Validate", shared.ErrInvalidFormat, "last completed phase is out of range")
	}
	if p.Phases.Highest() > p.LastCompletedPhase {
		return shared.NewDomainError("lesson", "Validate", shared.ErrInvariant, "phase recorded beyond last completed phase")
	}
	if p.LastCompletedPhase == PhaseReward && !p.IsCompleted {
		return shared.NewDomainError("lesson", "Validate", shared.ErrInvariant, "reward recorded on incomplete record")
	}
	if p.IsCompleted && p.CompletedAt.IsZero() {
		return shared.NewDomainError("lesson", "Validate", shared.ErrInvariant, "completed record has no completion time")
	}
	if !p.IsCompleted && !p.CompletedAt.IsZero() {
		return shared.NewDomainError("lesson", "Validate", shared.ErrInvariant, "completion time set on incomplete record")
	}
	return nil
}
