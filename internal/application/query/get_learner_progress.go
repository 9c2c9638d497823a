// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
	"github.com/nurkids/nur-learning-hub/pkg/logger"
	"github.com/nurkids/nur-learning-hub/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEARNER PROGRESS QUERY
// Собирает экран прогресса ребёнка: XP, серию, достижения и состояние
// каждого начатого урока с фазой, с которой его нужно продолжить.
// ══════════════════════════════════════════════════════════════════════════════

// GetLearnerProgressQuery содержит параметры запроса.
type GetLearnerProgressQuery struct {
	// LearnerID - идентификатор ученика.
	LearnerID string

	// Timezone - часовой пояс устройства, в нём считается "сегодня".
	Timezone string

	// Now - момент запроса (пустой = сейчас).
	Now time.Time

	// IncludeLessons - включить прогресс по урокам.
	IncludeLessons bool
}

// Validate проверяет корректность параметров.
func (q *GetLearnerProgressQuery) Validate() error {
	if q.LearnerID == "" {
		return errors.New("learner_id is required")
	}
	if q.Now.IsZero() {
		q.Now = time.Now()
	}
	if q.Timezone != "" {
		loc, err := time.LoadLocation(q.Timezone)
		if err != nil {
			return fmt.Errorf("unknown timezone %q: %w", q.Timezone, shared.ErrInvalidInput)
		}
		q.Now = q.Now.In(loc)
	}
	return nil
}

// LearnerProgressDTO - экран прогресса.
type LearnerProgressDTO struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Профиль
	// ─────────────────────────────────────────────────────────────────────────

	LearnerID             string `json:"learner_id"`
	TotalXP               int    `json:"total_xp"`
	TotalLessonsCompleted int    `json:"total_lessons_completed"`

	// ─────────────────────────────────────────────────────────────────────────
	// Серия
	// ─────────────────────────────────────────────────────────────────────────

	CurrentStreak int `json:"current_streak"`
	LongestStreak int `json:"longest_streak"`

	// CompletedToday - сегодня урок уже пройден.
	CompletedToday bool `json:"completed_today"`

	// StreakAtRisk - серия прервётся, если сегодня не пройти урок.
	StreakAtRisk bool `json:"streak_at_risk"`

	FreezeBalance int        `json:"freeze_balance"`
	NextFreezeAt  *time.Time `json:"next_freeze_at,omitempty"`

	// ─────────────────────────────────────────────────────────────────────────
	// Достижения и уроки
	// ─────────────────────────────────────────────────────────────────────────

	Achievements []AchievementDTO    `json:"achievements"`
	Lessons      []LessonProgressDTO `json:"lessons,omitempty"`

	// UnseenAchievements - сколько празднований ещё не показано.
	UnseenAchievements int `json:"unseen_achievements"`
}

// AchievementDTO - полученное достижение.
type AchievementDTO struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	UnlockedAt  time.Time `json:"unlocked_at"`
	Seen        bool      `json:"seen"`
}

// LessonProgressDTO - прогресс по одному уроку.
type LessonProgressDTO struct {
	LessonID    string     `json:"lesson_id"`
	State       string     `json:"state"`
	ResumePhase string     `json:"resume_phase,omitempty"`
	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Score       int        `json:"score"`
	XPEarned    int        `json:"xp_earned"`
	Attempts    int        `json:"attempts"`
}

// ProfileCache - необязательный кэш профилей.
type ProfileCache interface {
	GetProfile(ctx context.Context, learnerID string) (*learner.Profile, error)
	SetProfile(ctx context.Context, p *learner.Profile) error
}

// GetLearnerProgressHandler обрабатывает запрос.
type GetLearnerProgressHandler struct {
	profiles     learner.Repository
	progress     lesson.ProgressRepository
	achievements learner.AchievementRepository
	cache        ProfileCache
	log          *logger.Logger
}

// NewGetLearnerProgressHandler создаёт обработчик. cache может быть nil.
func NewGetLearnerProgressHandler(
	profiles learner.Repository,
	progress lesson.ProgressRepository,
	achievements learner.AchievementRepository,
	cache ProfileCache,
	log *logger.Logger,
) *GetLearnerProgressHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetLearnerProgressHandler{
		profiles:     profiles,
		progress:     progress,
		achievements: achievements,
		cache:        cache,
		log:          log.With(logger.Component("get_learner_progress")),
	}
}

// Handle выполняет запрос.
func (h *GetLearnerProgressHandler) Handle(ctx context.Context, q GetLearnerProgressQuery) (*LearnerProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_learner_progress: validation failed: %w", err)
	}

	profile, err := h.loadProfile(ctx, q.LearnerID)
	if err != nil {
		return nil, fmt.Errorf("get_learner_progress: %w", err)
	}

	dto := buildProfileDTO(*profile, q.Now)

	achievements, err := h.achievements.ListByLearner(ctx, q.LearnerID)
	if err != nil {
		return nil, fmt.Errorf("get_learner_progress: list achievements: %w", err)
	}
	dto.Achievements = make([]AchievementDTO, 0, len(achievements))
	for _, a := range achievements {
		rule, _ := learner.GetAchievementRule(a.Kind)
		dto.Achievements = append(dto.Achievements, AchievementDTO{
			ID:          a.ID,
			Kind:        a.Kind.String(),
			Title:       rule.Title,
			Description: rule.Description,
			UnlockedAt:  a.UnlockedAt,
			Seen:        a.Seen,
		})
		if !a.Seen {
			dto.UnseenAchievements++
		}
	}

	if q.IncludeLessons {
		records, err := h.progress.ListByLearner(ctx, q.LearnerID)
		if err != nil {
			return nil, fmt.Errorf("get_learner_progress: list progress: %w", err)
		}
		dto.Lessons = make([]LessonProgressDTO, 0, len(records))
		for _, p := range records {
			dto.Lessons = append(dto.Lessons, NewLessonProgressDTO(*p))
		}
	}

	return dto, nil
}

// loadProfile читает профиль через кэш. Ошибки кэша не фатальны.
func (h *GetLearnerProgressHandler) loadProfile(ctx context.Context, learnerID string) (*learner.Profile, error) {
	if h.cache != nil {
		p, err := h.cache.GetProfile(ctx, learnerID)
		if err == nil && p != nil {
			return p, nil
		}
		if err != nil && !shared.IsNotFound(err) {
			h.log.Warn("profile cache read failed", logger.LearnerID(learnerID), logger.Err(err))
		}
	}

	p, err := h.profiles.GetProfile(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.SetProfile(ctx, p); err != nil {
			h.log.Warn("profile cache write failed", logger.LearnerID(learnerID), logger.Err(err))
		}
	}
	return p, nil
}

func buildProfileDTO(p learner.Profile, now time.Time) *LearnerProgressDTO {
	dto := &LearnerProgressDTO{
		LearnerID:             p.ID,
		TotalXP:               p.TotalXP,
		TotalLessonsCompleted: p.TotalLessonsCompleted,
		CurrentStreak:         p.CurrentStreak,
		LongestStreak:         p.LongestStreak,
		FreezeBalance:         p.StreakFreezeBalance,
	}

	if next := learner.NextFreezeAt(p); !next.IsZero() {
		dto.NextFreezeAt = &next
	}

	if !p.LastLessonCompletedAt.IsZero() {
		gap := timeutil.CalendarDaysBetween(p.LastLessonCompletedAt, now)
		dto.CompletedToday = gap <= 0
		// Вчерашний урок держит серию только до конца сегодняшнего дня;
		// при одном пропущенном дне её спасает заморозка.
		dto.StreakAtRisk = p.CurrentStreak > 0 && (gap == 1 || (gap == 2 && p.StreakFreezeBalance > 0))
	}

	return dto
}

// NewLessonProgressDTO - представление прогресса урока для клиента.
func NewLessonProgressDTO(p lesson.Progress) LessonProgressDTO {
	dto := LessonProgressDTO{
		LessonID:    p.LessonID,
		State:       string(p.State()),
		IsCompleted: p.IsCompleted,
		Score:       p.Score,
		XPEarned:    p.XPEarned,
		Attempts:    p.Attempts,
	}
	if resume := p.ResumePhase(); resume != lesson.PhaseNone {
		dto.ResumePhase = resume.String()
	}
	if !p.CompletedAt.IsZero() {
		at := p.CompletedAt
		dto.CompletedAt = &at
	}
	return dto
}
