package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
)

// AuditRepository implements learner.AuditRepository for PostgreSQL.
type AuditRepository struct {
	db Querier
}

// NewAuditRepository creates a repository over a pool or a transaction.
func NewAuditRepository(db Querier) *AuditRepository {
	return &AuditRepository{db: db}
}

// profileSnapshot is the JSONB shape of the profile captured before a reset.
type profileSnapshot struct {
	TotalXP               int        `json:"total_xp"`
	CurrentStreak         int        `json:"current_streak"`
	LongestStreak         int        `json:"longest_streak"`
	TotalLessonsCompleted int        `json:"total_lessons_completed"`
	LastLessonCompletedAt *time.Time `json:"last_lesson_completed_at,omitempty"`
	StreakFreezeBalance   int        `json:"streak_freeze_balance"`
	LastFreezeGrantedAt   *time.Time `json:"last_freeze_granted_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// RecordReset stores a reset audit row.
func (r *AuditRepository) RecordReset(ctx context.Context, a *learner.ResetAudit) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	prev, err := json.Marshal(profileSnapshot{
		TotalXP:               a.PreviousProfile.TotalXP,
		CurrentStreak:         a.PreviousProfile.CurrentStreak,
		LongestStreak:         a.PreviousProfile.LongestStreak,
		TotalLessonsCompleted: a.PreviousProfile.TotalLessonsCompleted,
		LastLessonCompletedAt: nullTime(a.PreviousProfile.LastLessonCompletedAt),
		StreakFreezeBalance:   a.PreviousProfile.StreakFreezeBalance,
		LastFreezeGrantedAt:   nullTime(a.PreviousProfile.LastFreezeGrantedAt),
		CreatedAt:             a.PreviousProfile.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal previous profile: %w", err)
	}

	query := `
		INSERT INTO reset_audit (
			id, learner_id, actor, reason, progress_deleted, achievements_deleted,
			activities_deleted, previous_profile, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.Exec(ctx, query,
		a.ID,
		a.LearnerID,
		a.Actor,
		a.Reason,
		a.ProgressDeleted,
		a.AchievementsDeleted,
		a.ActivitiesDeleted,
		prev,
		a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record reset audit: %w", mapError(err))
	}
	return nil
}

// LastResetAt returns the time of the learner's latest reset, or the zero
// time when the learner was never reset.
func (r *AuditRepository) LastResetAt(ctx context.Context, learnerID string) (time.Time, error) {
	var last *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT max(created_at) FROM reset_audit WHERE learner_id = $1`, learnerID,
	).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last reset: %w", mapError(err))
	}
	if last == nil {
		return time.Time{}, nil
	}
	return last.UTC(), nil
}
