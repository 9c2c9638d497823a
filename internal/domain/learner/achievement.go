package learner

import (
	"fmt"
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS (Достижения)
// ══════════════════════════════════════════════════════════════════════════════

// AchievementKind - тип достижения. Сырые строки хранятся в базе.
type AchievementKind string

const (
	// AchievementFirstLesson - первый пройденный урок.
	AchievementFirstLesson AchievementKind = "firstLesson"
	// AchievementTenLessons - десять пройденных уроков.
	AchievementTenLessons AchievementKind = "tenLessons"
	// AchievementStreakWeek - серия 7 дней.
	AchievementStreakWeek AchievementKind = "streakWeek"
	// AchievementStreakMonth - серия 30 дней.
	AchievementStreakMonth AchievementKind = "streakMonth"
	// AchievementStreakCentury - серия 100 дней.
	AchievementStreakCentury AchievementKind = "streakCentury"
	// AchievementSuperLearner - 500 XP.
	AchievementSuperLearner AchievementKind = "superLearner"
	// AchievementKnowledgeSeeker - 2000 XP.
	AchievementKnowledgeSeeker AchievementKind = "knowledgeSeeker"
	// AchievementCategoryMaster - пройдены все уроки хотя бы одной категории.
	AchievementCategoryMaster AchievementKind = "categoryMaster"
	// AchievementFamilyTeam - пять семейных заданий.
	AchievementFamilyTeam AchievementKind = "familyTeam"
)

// Пороги правил.
const (
	TenLessonsThreshold      = 10
	SuperLearnerXP           = 500
	KnowledgeSeekerXP        = 2000
	FamilyActivitiesRequired = 5
)

// IsValid проверяет, что тип входит в закрытый набор.
func (k AchievementKind) IsValid() bool {
	_, ok := ruleIndex[k]
	return ok
}

// String возвращает сырую строку.
func (k AchievementKind) String() string {
	return string(k)
}

// ParseAchievementKind разбирает сырую строку. Неизвестная строка -
// ошибка ErrUnknownAchievement.
func ParseAchievementKind(raw string) (AchievementKind, error) {
	k := AchievementKind(raw)
	if !k.IsValid() {
		return "", fmt.Errorf("%w: %q", shared.ErrUnknownAchievement, raw)
	}
	return k, nil
}

// Achievement - полученное достижение. После создания меняется только Seen.
type Achievement struct {
	// ID - идентификатор записи (назначается при сохранении).
	ID string

	// LearnerID - владелец.
	LearnerID string

	// Kind - тип достижения.
	Kind AchievementKind

	// UnlockedAt - когда получено.
	UnlockedAt time.Time

	// Seen - ребёнок уже видел празднование.
	Seen bool
}

// MarkSeen отмечает достижение просмотренным.
func (a *Achievement) MarkSeen() {
	a.Seen = true
}

// AchievementRule - правило из таблицы.
type AchievementRule struct {
	Kind        AchievementKind
	Title       string
	Description string
	Predicate   func(State) bool
}

// achievementRules - таблица правил в порядке проверки.
var achievementRules = []AchievementRule{
	{AchievementFirstLesson, "Первый шаг", "Пройден первый урок", func(s State) bool {
		return s.Profile.TotalLessonsCompleted >= 1
	}},
	{AchievementTenLessons, "Десять уроков", "Пройдено 10 уроков", func(s State) bool {
		return s.Profile.TotalLessonsCompleted >= TenLessonsThreshold
	}},
	{AchievementStreakWeek, "Неделя знаний", "7 дней подряд", func(s State) bool {
		return s.Profile.CurrentStreak >= 7
	}},
	{AchievementStreakMonth, "Месяц знаний", "30 дней подряд", func(s State) bool {
		return s.Profile.CurrentStreak >= 30
	}},
	{AchievementStreakCentury, "Сто дней", "100 дней подряд", func(s State) bool {
		return s.Profile.CurrentStreak >= 100
	}},
	{AchievementSuperLearner, "Супер-ученик", "Набрано 500 XP", func(s State) bool {
		return s.Profile.TotalXP >= SuperLearnerXP
	}},
	{AchievementKnowledgeSeeker, "Искатель знаний", "Набрано 2000 XP", func(s State) bool {
		return s.Profile.TotalXP >= KnowledgeSeekerXP
	}},
	{AchievementCategoryMaster, "Мастер раздела", "Пройдены все уроки раздела", func(s State) bool {
		return len(s.CompletedCategories) > 0
	}},
	{AchievementFamilyTeam, "Семейная команда", "5 семейных заданий", func(s State) bool {
		return s.FamilyActivitiesCompleted >= FamilyActivitiesRequired
	}},
}

var ruleIndex = func() map[AchievementKind]AchievementRule {
	m := make(map[AchievementKind]AchievementRule, len(achievementRules))
	for _, r := range achievementRules {
		m[r.Kind] = r
	}
	return m
}()

// AchievementRules возвращает копию таблицы правил.
func AchievementRules() []AchievementRule {
	out := make([]AchievementRule, len(achievementRules))
	copy(out, achievementRules)
	return out
}

// GetAchievementRule возвращает правило по типу.
func GetAchievementRule(k AchievementKind) (AchievementRule, bool) {
	r, ok := ruleIndex[k]
	return r, ok
}

// EvaluateAchievements проверяет ещё не полученные достижения и возвращает
// новые, по одному на тип. Уже полученные типы не проверяются, достижения
// никогда не отзываются.
func EvaluateAchievements(s State, unlocked map[AchievementKind]bool, now time.Time) []Achievement {
	var out []Achievement
	for _, rule := range achievementRules {
		if unlocked[rule.Kind] {
			continue
		}
		if rule.Predicate(s) {
			out = append(out, Achievement{
				LearnerID:  s.Profile.ID,
				Kind:       rule.Kind,
				UnlockedAt: now,
			})
		}
	}
	return out
}

// UnlockedKinds строит множество типов из списка достижений.
func UnlockedKinds(achievements []Achievement) map[AchievementKind]bool {
	m := make(map[AchievementKind]bool, len(achievements))
	for _, a := range achievements {
		m[a.Kind] = true
	}
	return m
}
