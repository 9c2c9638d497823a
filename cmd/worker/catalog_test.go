package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
)

type recordingCatalog struct {
	lessons []lesson.LessonInfo
}

func (c *recordingCatalog) UpsertLessons(_ context.Context, lessons []lesson.LessonInfo) error {
	c.lessons = append(c.lessons, lessons...)
	return nil
}

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestSeedCatalog(t *testing.T) {
	path := writeCatalog(t, `[
		{"id": "wudu-1", "category": "wudu", "base_xp": 50},
		{"id": "salah-1", "category": "salah", "base_xp": 80}
	]`)

	cat := &recordingCatalog{}
	n, err := seedCatalog(context.Background(), cat, path)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, []lesson.LessonInfo{
		{ID: "wudu-1", Category: "wudu", BaseXP: 50},
		{ID: "salah-1", Category: "salah", BaseXP: 80},
	}, cat.lessons)
}

func TestSeedCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing category", `[{"id": "wudu-1", "base_xp": 50}]`},
		{"negative xp", `[{"id": "wudu-1", "category": "wudu", "base_xp": -1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := &recordingCatalog{}
			_, err := seedCatalog(context.Background(), cat, writeCatalog(t, tt.body))
			assert.Error(t, err)
			assert.Empty(t, cat.lessons)
		})
	}
}

func TestSeedCatalog_MissingFile(t *testing.T) {
	_, err := seedCatalog(context.Background(), &recordingCatalog{}, filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
