package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements learner.AchievementRepository for PostgreSQL.
type AchievementRepository struct {
	db Querier
}

// NewAchievementRepository creates a repository over a pool or a transaction.
func NewAchievementRepository(db Querier) *AchievementRepository {
	return &AchievementRepository{db: db}
}

// ListByLearner returns achievements in unlock order.
func (r *AchievementRepository) ListByLearner(ctx context.Context, learnerID string) ([]learner.Achievement, error) {
	query := `
		SELECT id, learner_id, kind, unlocked_at, seen
		FROM achievements
		WHERE learner_id = $1
		ORDER BY unlocked_at, kind
	`

	rows, err := r.db.Query(ctx, query, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", mapError(err))
	}
	defer rows.Close()

	var out []learner.Achievement
	for rows.Next() {
		var (
			a    learner.Achievement
			id   uuid.UUID
			kind string
		)
		if err := rows.Scan(&id, &a.LearnerID, &kind, &a.UnlockedAt, &a.Seen); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		if a.Kind, err = learner.ParseAchievementKind(kind); err != nil {
			return nil, err
		}
		a.ID = id.String()
		a.UnlockedAt = a.UnlockedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create stores a new achievement. A second achievement of the same kind is
// rejected with ErrAlreadyExists and leaves the first one untouched.
func (r *AchievementRepository) Create(ctx context.Context, a *learner.Achievement) error {
	if !a.Kind.IsValid() {
		return fmt.Errorf("%w: %q", shared.ErrUnknownAchievement, a.Kind)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	query := `
		INSERT INTO achievements (id, learner_id, kind, unlocked_at, seen)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (learner_id, kind) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, a.ID, a.LearnerID, a.Kind.String(), a.UnlockedAt.UTC(), a.Seen)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("achievement %s: %w", a.Kind, shared.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create achievement: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("achievement %s: %w", a.Kind, shared.ErrAlreadyExists)
	}
	return nil
}

// MarkSeen flags an achievement as seen.
func (r *AchievementRepository) MarkSeen(ctx context.Context, learnerID, achievementID string) error {
	id, err := uuid.Parse(achievementID)
	if err != nil {
		return shared.ErrAchievementNotFound
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE achievements SET seen = TRUE WHERE id = $1 AND learner_id = $2`, id, learnerID)
	if err != nil {
		return fmt.Errorf("failed to mark achievement seen: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAchievementNotFound
	}
	return nil
}

// DeleteByLearner removes all achievements of a learner.
func (r *AchievementRepository) DeleteByLearner(ctx context.Context, learnerID string) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM achievements WHERE learner_id = $1`, learnerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete achievements: %w", mapError(err))
	}
	return int(tag.RowsAffected()), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FAMILY ACTIVITY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// FamilyActivityRepository implements learner.FamilyActivityRepository.
type FamilyActivityRepository struct {
	db Querier
}

// NewFamilyActivityRepository creates a repository over a pool or a transaction.
func NewFamilyActivityRepository(db Querier) *FamilyActivityRepository {
	return &FamilyActivityRepository{db: db}
}

// Record stores a completed activity. Repeats of the same activity report false.
func (r *FamilyActivityRepository) Record(ctx context.Context, a *learner.FamilyActivity) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	query := `
		INSERT INTO family_activities (id, learner_id, activity_id, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (learner_id, activity_id) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, a.ID, a.LearnerID, a.ActivityID, a.CompletedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record family activity: %w", mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// Count returns the number of distinct activities a learner completed.
func (r *FamilyActivityRepository) Count(ctx context.Context, learnerID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM family_activities WHERE learner_id = $1`, learnerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count family activities: %w", mapError(err))
	}
	return n, nil
}

// DeleteByLearner removes all activities of a learner.
func (r *FamilyActivityRepository) DeleteByLearner(ctx context.Context, learnerID string) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM family_activities WHERE learner_id = $1`, learnerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete family activities: %w", mapError(err))
	}
	return int(tag.RowsAffected()), nil
}
