package lesson

import (
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRACTICE GATE
// ══════════════════════════════════════════════════════════════════════════════

// MaxPracticeTries - сколько ответов даётся на одно упражнение.
const MaxPracticeTries = 3

// PracticeOutcome - результат ответа в фазе Practice.
// MaxAttemptsExceeded - исход политики, а не ошибка.
type PracticeOutcome string

const (
	// OutcomeAdvance - верный ответ, фаза Practice завершена.
	OutcomeAdvance PracticeOutcome = "advance"
	// OutcomeRetry - неверный ответ, можно попробовать ещё раз.
	OutcomeRetry PracticeOutcome = "retry"
	// OutcomeMaxAttemptsExceeded - третий неверный ответ: показываем ответ
	// и всё равно переводим ребёнка дальше.
	OutcomeMaxAttemptsExceeded PracticeOutcome = "max_attempts_exceeded"
)

// PracticeResult - результат SubmitPracticeAnswer.
type PracticeResult struct {
	// Outcome - исход ответа.
	Outcome PracticeOutcome

	// TriesUsed - сколько ответов дано с учётом текущего.
	TriesUsed int

	// RevealAnswer - плеер должен показать правильный ответ.
	RevealAnswer bool

	// Progress - прогресс после ответа.
	Progress Progress
}

// Advanced сообщает, что фаза Practice записана.
func (r PracticeResult) Advanced() bool {
	return r.Outcome != OutcomeRetry
}

// SubmitPracticeAnswer обрабатывает ответ ребёнка в фазе Practice.
//
// triesSoFar - сколько неверных ответов уже дано в этом упражнении; счётчик
// ведёт плеер и он не сохраняется. Верный ответ записывает фазу Practice.
// Неверный ответ при исчерпанном лимите тоже записывает фазу, с исходом
// OutcomeMaxAttemptsExceeded и RevealAnswer=true.
func SubmitPracticeAnswer(p Progress, correct bool, triesSoFar int, now time.Time) (PracticeResult, error) {
	if p.AttemptFinished() || p.ResumePhase() != PhasePractice {
		return PracticeResult{Progress: p}, shared.ErrNotInPractice
	}
	if triesSoFar < 0 {
		triesSoFar = 0
	}
	tries := triesSoFar + 1

	var outcome PracticeOutcome
	switch {
	case correct:
		outcome = OutcomeAdvance
	case tries >= MaxPracticeTries:
		outcome = OutcomeMaxAttemptsExceeded
	default:
		next := p
		next.LastAccessedAt = now
		return PracticeResult{Outcome: OutcomeRetry, TriesUsed: tries, Progress: next}, nil
	}

	next, _, err := TransitionPhase(p, PhasePractice, now)
	if err != nil {
		return PracticeResult{Progress: p}, err
	}
	return PracticeResult{
		Outcome:      outcome,
		TriesUsed:    tries,
		RevealAnswer: outcome == OutcomeMaxAttemptsExceeded,
		Progress:     next,
	}, nil
}

// PracticeScore переводит число использованных попыток в очки (3, 2, 1, 0).
func PracticeScore(r PracticeResult) int {
	if r.Outcome != OutcomeAdvance {
		return 0
	}
	return max(MaxPracticeTries-r.TriesUsed+1, 1)
}
