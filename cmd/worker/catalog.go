package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
)

// catalogEntry is one lesson in the catalog seed file:
//
//	[{"id": "wudu-1", "category": "wudu", "base_xp": 50}, ...]
type catalogEntry struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	BaseXP   int    `json:"base_xp"`
}

type catalogUpserter interface {
	UpsertLessons(ctx context.Context, lessons []lesson.LessonInfo) error
}

// seedCatalog upserts the lessons listed in path and returns their count.
func seedCatalog(ctx context.Context, catalog catalogUpserter, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var entries []catalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}

	lessons := make([]lesson.LessonInfo, 0, len(entries))
	for i, e := range entries {
		if e.ID == "" || e.Category == "" {
			return 0, fmt.Errorf("%s: entry %d needs id and category", path, i)
		}
		if e.BaseXP < 0 {
			return 0, fmt.Errorf("%s: lesson %s has negative base_xp", path, e.ID)
		}
		lessons = append(lessons, lesson.LessonInfo{ID: e.ID, Category: e.Category, BaseXP: e.BaseXP})
	}

	if err := catalog.UpsertLessons(ctx, lessons); err != nil {
		return 0, err
	}
	return len(lessons), nil
}
