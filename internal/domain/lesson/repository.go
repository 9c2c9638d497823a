package lesson

import (
	"context"
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository хранит прогресс по урокам.
type ProgressRepository interface {
	// Get возвращает прогресс ученика по уроку.
	// Возвращает ErrProgressNotFound, если урок ещё не открывался.
	Get(ctx context.Context, learnerID, lessonID string) (*Progress, error)

	// Save вставляет или обновляет прогресс (upsert по learner_id + lesson_id).
	Save(ctx context.Context, p *Progress) error

	// ListByLearner возвращает весь прогресс ученика.
	ListByLearner(ctx context.Context, learnerID string) ([]*Progress, error)

	// CompletedLessonIDs возвращает множество пройденных уроков ученика.
	CompletedLessonIDs(ctx context.Context, learnerID string) (map[string]bool, error)

	// DeleteByLearner удаляет весь прогресс ученика. Возвращает число строк.
	DeleteByLearner(ctx context.Context, learnerID string) (int, error)
}

// LessonInfo - то, что движку нужно знать о уроке из каталога.
type LessonInfo struct {
	// ID - идентификатор урока.
	ID string

	// Category - категория учебной программы.
	Category string

	// BaseXP - базовые очки за урок.
	BaseXP int
}

// Catalog - источник метаданных уроков. Контент уроков движок не моделирует.
type Catalog interface {
	// GetLesson возвращает описание урока.
	GetLesson(ctx context.Context, lessonID string) (*LessonInfo, error)

	// LessonsInCategory возвращает ID всех уроков категории.
	LessonsInCategory(ctx context.Context, category string) ([]string, error)

	// Categories возвращает все категории с ID их уроков.
	Categories(ctx context.Context) (map[string][]string, error)
}

// CategoryComplete проверяет, что все уроки категории пройдены.
// Пустая категория считается непройденной.
func CategoryComplete(lessonIDs []string, completed map[string]bool) bool {
	if len(lessonIDs) == 0 {
		return false
	}
	for _, id := range lessonIDs {
		if !completed[id] {
			return false
		}
	}
	return true
}

// CompletedCategories возвращает категории, где пройдены все уроки.
func CompletedCategories(byCategory map[string][]string, completed map[string]bool) []string {
	var out []string
	for category, ids := range byCategory {
		if CategoryComplete(ids, completed) {
			out = append(out, category)
		}
	}
	sort.Strings(out)
	return out
}
