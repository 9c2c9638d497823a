package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements lesson.ProgressRepository for PostgreSQL.
// Phases are stored as their raw strings; an unknown value read back is an error.
type ProgressRepository struct {
	db Querier
}

// NewProgressRepository creates a repository over a pool or a transaction.
func NewProgressRepository(db Querier) *ProgressRepository {
	return &ProgressRepository{db: db}
}

const progressColumns = `
	learner_id, lesson_id, is_completed, completed_at, score, xp_earned, attempts,
	last_completed_phase, hook_at, teach_at, practice_at, reward_at, last_accessed_at`

// Get returns progress of a learner on a lesson.
func (r *ProgressRepository) Get(ctx context.Context, learnerID, lessonID string) (*lesson.Progress, error) {
	query := `SELECT ` + progressColumns + ` FROM lesson_progress WHERE learner_id = $1 AND lesson_id = $2`

	p, err := scanProgress(r.db.QueryRow(ctx, query, learnerID, lessonID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to get lesson progress: %w", mapError(err))
	}
	return p, nil
}

// Save upserts progress by (learner_id, lesson_id).
func (r *ProgressRepository) Save(ctx context.Context, p *lesson.Progress) error {
	if err := p.Validate(); err != nil {
		return err
	}

	phase, err := p.LastCompletedPhase.MarshalText()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO lesson_progress (` + progressColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (learner_id, lesson_id) DO UPDATE SET
			is_completed = EXCLUDED.is_completed,
			completed_at = EXCLUDED.completed_at,
			score = EXCLUDED.score,
			xp_earned = EXCLUDED.xp_earned,
			attempts = EXCLUDED.attempts,
			last_completed_phase = EXCLUDED.last_completed_phase,
			hook_at = EXCLUDED.hook_at,
			teach_at = EXCLUDED.teach_at,
			practice_at = EXCLUDED.practice_at,
			reward_at = EXCLUDED.reward_at,
			last_accessed_at = EXCLUDED.last_accessed_at
	`

	args := []any{
		p.LearnerID,
		p.LessonID,
		p.IsCompleted,
		nullTime(p.CompletedAt),
		p.Score,
		p.XPEarned,
		p.Attempts,
		string(phase),
	}
	for _, ph := range lesson.AllPhases() {
		ts, _ := p.Phases.At(ph)
		args = append(args, nullTime(ts))
	}
	args = append(args, p.LastAccessedAt.UTC())

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		if IsForeignKeyViolation(err) {
			return shared.WrapError("lesson", "Save", shared.ErrLearnerNotFound, "progress saved before its learner profile", err)
		}
		return fmt.Errorf("failed to save lesson progress: %w", mapError(err))
	}
	return nil
}

// ListByLearner returns all progress of a learner ordered by lesson ID.
func (r *ProgressRepository) ListByLearner(ctx context.Context, learnerID string) ([]*lesson.Progress, error) {
	query := `SELECT ` + progressColumns + ` FROM lesson_progress WHERE learner_id = $1 ORDER BY lesson_id`

	rows, err := r.db.Query(ctx, query, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lesson progress: %w", mapError(err))
	}
	defer rows.Close()

	var out []*lesson.Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lesson progress: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CompletedLessonIDs returns the set of lessons a learner completed at least once.
func (r *ProgressRepository) CompletedLessonIDs(ctx context.Context, learnerID string) (map[string]bool, error) {
	rows, err := r.db.Query(ctx,
		`SELECT lesson_id FROM lesson_progress WHERE learner_id = $1 AND is_completed`, learnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed lessons: %w", mapError(err))
	}
	defer rows.Close()

	completed := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		completed[id] = true
	}
	return completed, rows.Err()
}

// DeleteByLearner removes all progress of a learner.
func (r *ProgressRepository) DeleteByLearner(ctx context.Context, learnerID string) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM lesson_progress WHERE learner_id = $1`, learnerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete lesson progress: %w", mapError(err))
	}
	return int(tag.RowsAffected()), nil
}

func scanProgress(row scanner) (*lesson.Progress, error) {
	var (
		p           lesson.Progress
		completedAt *time.Time
		rawPhase    string
		phaseTimes  [lesson.PhaseCount]*time.Time
	)
	err := row.Scan(
		&p.LearnerID,
		&p.LessonID,
		&p.IsCompleted,
		&completedAt,
		&p.Score,
		&p.XPEarned,
		&p.Attempts,
		&rawPhase,
		&phaseTimes[0],
		&phaseTimes[1],
		&phaseTimes[2],
		&phaseTimes[3],
		&p.LastAccessedAt,
	)
	if err != nil {
		return nil, err
	}

	phase, err := lesson.ParsePhase(rawPhase)
	if err != nil {
		return nil, fmt.Errorf("lesson %s: %w", p.LessonID, err)
	}
	p.LastCompletedPhase = phase
	p.CompletedAt = fromNullTime(completedAt)
	for i, ph := range lesson.AllPhases() {
		p.Phases.Set(ph, fromNullTime(phaseTimes[i]))
	}
	p.LastAccessedAt = p.LastAccessedAt.UTC()
	return &p, nil
}
