package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository implements lesson.Catalog over the lessons table.
type CatalogRepository struct {
	db Querier
}

// NewCatalogRepository creates a catalog reader.
func NewCatalogRepository(db Querier) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetLesson returns catalog metadata for one lesson.
func (r *CatalogRepository) GetLesson(ctx context.Context, lessonID string) (*lesson.LessonInfo, error) {
	var info lesson.LessonInfo
	err := r.db.QueryRow(ctx,
		`SELECT id, category, base_xp FROM lessons WHERE id = $1`, lessonID,
	).Scan(&info.ID, &info.Category, &info.BaseXP)
	if err != nil {
		if IsNoRows(err) {
			return nil, fmt.Errorf("lesson %q: %w", lessonID, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get lesson: %w", mapError(err))
	}
	return &info, nil
}

// LessonsInCategory returns lesson IDs of a category in curriculum order.
func (r *CatalogRepository) LessonsInCategory(ctx context.Context, category string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM lessons WHERE category = $1 ORDER BY position, id`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list category lessons: %w", mapError(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Categories returns every category with its lesson IDs.
func (r *CatalogRepository) Categories(ctx context.Context) (map[string][]string, error) {
	rows, err := r.db.Query(ctx, `SELECT category, id FROM lessons ORDER BY category, position, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", mapError(err))
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var category, id string
		if err := rows.Scan(&category, &id); err != nil {
			return nil, err
		}
		out[category] = append(out[category], id)
	}
	return out, rows.Err()
}

// UpsertLessons loads catalog entries in one batch. Position follows slice order.
func (r *CatalogRepository) UpsertLessons(ctx context.Context, lessons []lesson.LessonInfo) error {
	query := `
		INSERT INTO lessons (id, category, base_xp, position)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			category = EXCLUDED.category,
			base_xp = EXCLUDED.base_xp,
			position = EXCLUDED.position
	`

	batch := &pgx.Batch{}
	for i, l := range lessons {
		if l.ID == "" || l.Category == "" || l.BaseXP <= 0 {
			return fmt.Errorf("lesson %q: %w", l.ID, shared.ErrInvalidInput)
		}
		batch.Queue(query, l.ID, l.Category, l.BaseXP, i)
	}

	pool, ok := r.db.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		for i, l := range lessons {
			if _, err := r.db.Exec(ctx, query, l.ID, l.Category, l.BaseXP, i); err != nil {
				return fmt.Errorf("failed to upsert lesson %q: %w", l.ID, mapError(err))
			}
		}
		return nil
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for _, l := range lessons {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert lesson %q: %w", l.ID, mapError(err))
		}
	}
	return nil
}
