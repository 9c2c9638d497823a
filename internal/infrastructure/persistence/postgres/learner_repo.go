package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LearnerRepository implements learner.Repository for PostgreSQL.
type LearnerRepository struct {
	db Querier
}

// NewLearnerRepository creates a repository over a pool or a transaction.
func NewLearnerRepository(db Querier) *LearnerRepository {
	return &LearnerRepository{db: db}
}

const profileColumns = `
	id, total_xp, current_streak, longest_streak, total_lessons_completed,
	last_lesson_completed_at, streak_freeze_balance, last_freeze_granted_at,
	created_at, updated_at`

// GetProfile returns a learner profile.
func (r *LearnerRepository) GetProfile(ctx context.Context, learnerID string) (*learner.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM learners WHERE id = $1`

	p, err := scanProfile(r.db.QueryRow(ctx, query, learnerID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrLearnerNotFound
		}
		return nil, fmt.Errorf("failed to get learner profile: %w", mapError(err))
	}
	return p, nil
}

// SaveProfile inserts or updates a learner profile.
func (r *LearnerRepository) SaveProfile(ctx context.Context, p *learner.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO learners (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			total_xp = EXCLUDED.total_xp,
			current_streak = EXCLUDED.current_streak,
			longest_streak = EXCLUDED.longest_streak,
			total_lessons_completed = EXCLUDED.total_lessons_completed,
			last_lesson_completed_at = EXCLUDED.last_lesson_completed_at,
			streak_freeze_balance = EXCLUDED.streak_freeze_balance,
			last_freeze_granted_at = EXCLUDED.last_freeze_granted_at,
			updated_at = EXCLUDED.updated_at
	`

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = p.UpdatedAt
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := r.db.Exec(ctx, query,
		p.ID,
		p.TotalXP,
		p.CurrentStreak,
		p.LongestStreak,
		p.TotalLessonsCompleted,
		nullTime(p.LastLessonCompletedAt),
		p.StreakFreezeBalance,
		nullTime(p.LastFreezeGrantedAt),
		createdAt.UTC(),
		updatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save learner profile: %w", mapError(err))
	}
	return nil
}

// ListActiveSince returns profiles with a completion after since, ordered by ID.
func (r *LearnerRepository) ListActiveSince(ctx context.Context, since time.Time, page shared.Pagination) ([]*learner.Profile, error) {
	query := `SELECT ` + profileColumns + `
		FROM learners
		WHERE last_lesson_completed_at >= $1
		ORDER BY id
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, since.UTC(), page.Limit(), page.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list active learners: %w", mapError(err))
	}
	defer rows.Close()

	var profiles []*learner.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan learner profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func scanProfile(row scanner) (*learner.Profile, error) {
	var (
		p                   learner.Profile
		lastCompleted, last *time.Time
	)
	err := row.Scan(
		&p.ID,
		&p.TotalXP,
		&p.CurrentStreak,
		&p.LongestStreak,
		&p.TotalLessonsCompleted,
		&lastCompleted,
		&p.StreakFreezeBalance,
		&last,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.LastLessonCompletedAt = fromNullTime(lastCompleted)
	p.LastFreezeGrantedAt = fromNullTime(last)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
