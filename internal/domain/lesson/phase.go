package lesson

import (
	"fmt"

	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PHASE
// ══════════════════════════════════════════════════════════════════════════════

// Phase - фаза урока. Нулевое значение PhaseNone означает "ни одной фазы".
type Phase int

const (
	// PhaseNone - ни одна фаза не завершена.
	PhaseNone Phase = iota
	// PhaseHook - вступление, привлекающее внимание ребёнка.
	PhaseHook
	// PhaseTeach - объяснение материала.
	PhaseTeach
	// PhasePractice - упражнение с ограниченным числом попыток ответа.
	PhasePractice
	// PhaseReward - награда; её запись завершает попытку.
	PhaseReward
)

// PhaseCount - количество реальных фаз (без PhaseNone).
const PhaseCount = int(PhaseReward)

// phaseNames - сырые строки, которые хранятся в базе и передаются при синхронизации.
var phaseNames = [...]string{
	PhaseNone:     "",
	PhaseHook:     "hook",
	PhaseTeach:    "teach",
	PhasePractice: "practice",
	PhaseReward:   "reward",
}

// AllPhases возвращает фазы в порядке прохождения.
func AllPhases() []Phase {
	return []Phase{PhaseHook, PhaseTeach, PhasePractice, PhaseReward}
}

// IsValid проверяет, что фаза является одной из четырёх реальных фаз.
func (p Phase) IsValid() bool {
	return p >= PhaseHook && p <= PhaseReward
}

// String возвращает сырую строку фазы.
func (p Phase) String() string {
	if p < PhaseNone || p > PhaseReward {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	if p == PhaseNone {
		return "none"
	}
	return phaseNames[p]
}

// Next возвращает следующую фазу. После PhaseReward следующей фазы нет (PhaseNone).
func (p Phase) Next() Phase {
	if p >= PhaseReward || p < PhaseNone {
		return PhaseNone
	}
	return p + 1
}

// index возвращает позицию фазы в PhaseLog.
func (p Phase) index() int {
	return int(p) - 1
}

// ParsePhase разбирает сырую строку фазы.
// Пустая строка означает PhaseNone. Неизвестная строка - ошибка ErrUnknownPhase,
// без подстановки значения по умолчанию.
func ParsePhase(raw string) (Phase, error) {
	if raw == "" {
		return PhaseNone, nil
	}
	for p := PhaseHook; p <= PhaseReward; p++ {
		if phaseNames[p] == raw {
			return p, nil
		}
	}
	return PhaseNone, fmt.Errorf("%w: %q", shared.ErrUnknownPhase, raw)
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	if p != PhaseNone && !p.IsValid() {
		return nil, fmt.Errorf("%w: %d", shared.ErrUnknownPhase, int(p))
	}
	return []byte(phaseNames[p]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// State - состояние попытки, выводимое из LastCompletedPhase.
// Запись Reward сразу переводит попытку в StateCompleted.
type State string

const (
	StateNotStarted State = "not_started"
	StateHook       State = "hook"
	StateTeach      State = "teach"
	StatePractice   State = "practice"
	StateCompleted  State = "completed"
)

// stateOf отображает последнюю завершённую фазу в состояние.
func stateOf(last Phase) State {
	switch last {
	case PhaseHook:
		return StateHook
	case PhaseTeach:
		return StateTeach
	case PhasePractice:
		return StatePractice
	case PhaseReward:
		return StateCompleted
	default:
		return StateNotStarted
	}
}
