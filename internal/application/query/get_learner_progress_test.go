package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

var now = time.Date(2024, 9, 5, 9, 0, 0, 0, time.UTC)

type stubProfiles struct {
	learner.Repository
	profiles map[string]learner.Profile
	reads    int
}

func (s *stubProfiles) GetProfile(_ context.Context, id string) (*learner.Profile, error) {
	s.reads++
	p, ok := s.profiles[id]
	if !ok {
		return nil, shared.ErrLearnerNotFound
	}
	return &p, nil
}

type stubProgress struct {
	lesson.ProgressRepository
	records []*lesson.Progress
}

func (s stubProgress) ListByLearner(context.Context, string) ([]*lesson.Progress, error) {
	return s.records, nil
}

type stubAchievements struct {
	learner.AchievementRepository
	list []learner.Achievement
}

func (s stubAchievements) ListByLearner(context.Context, string) ([]learner.Achievement, error) {
	return s.list, nil
}

type mapCache struct {
	m      map[string]learner.Profile
	broken bool
}

func (c *mapCache) GetProfile(_ context.Context, id string) (*learner.Profile, error) {
	if c.broken {
		return nil, errors.New("connection refused")
	}
	p, ok := c.m[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &p, nil
}

func (c *mapCache) SetProfile(_ context.Context, p *learner.Profile) error {
	c.m[p.ID] = *p
	return nil
}

func fixture() (*stubProfiles, stubProgress, stubAchievements) {
	profiles := &stubProfiles{profiles: map[string]learner.Profile{
		"learner-1": {
			ID: "learner-1", TotalXP: 340, CurrentStreak: 3, LongestStreak: 5, TotalLessonsCompleted: 2,
			LastLessonCompletedAt: now.Add(-24 * time.Hour),
			StreakFreezeBalance:   1, LastFreezeGrantedAt: now.Add(-2 * 24 * time.Hour),
		},
	}}

	done := lesson.NewProgress("learner-1", "pillars-salah-01", now.Add(-48*time.Hour))
	for _, ph := range lesson.AllPhases() {
		done, _, _ = lesson.TransitionPhase(done, ph, now.Add(-48*time.Hour))
	}
	partial := lesson.NewProgress("learner-1", "pillars-salah-02", now.Add(-time.Hour))
	partial, _, _ = lesson.TransitionPhase(partial, lesson.PhaseHook, now.Add(-time.Hour))

	progress := stubProgress{records: []*lesson.Progress{&done, &partial}}
	achievements := stubAchievements{list: []learner.Achievement{
		{ID: "a1", LearnerID: "learner-1", Kind: learner.AchievementFirstLesson, UnlockedAt: now.Add(-48 * time.Hour), Seen: true},
		{ID: "a2", LearnerID: "learner-1", Kind: learner.AchievementCategoryMaster, UnlockedAt: now.Add(-24 * time.Hour)},
	}}
	return profiles, progress, achievements
}

func TestGetLearnerProgress(t *testing.T) {
	profiles, progress, achievements := fixture()
	h := NewGetLearnerProgressHandler(profiles, progress, achievements, nil, nil)

	dto, err := h.Handle(context.Background(), GetLearnerProgressQuery{LearnerID: "learner-1", Now: now, IncludeLessons: true})
	require.NoError(t, err)

	assert.Equal(t, 340, dto.TotalXP)
	assert.Equal(t, 3, dto.CurrentStreak)
	assert.False(t, dto.CompletedToday)
	assert.True(t, dto.StreakAtRisk)
	require.NotNil(t, dto.NextFreezeAt)
	assert.Equal(t, now.Add(5*24*time.Hour), *dto.NextFreezeAt)

	require.Len(t, dto.Achievements, 2)
	assert.Equal(t, "categoryMaster", dto.Achievements[1].Kind)
	assert.NotEmpty(t, dto.Achievements[1].Title)
	assert.Equal(t, 1, dto.UnseenAchievements)

	require.Len(t, dto.Lessons, 2)
	assert.Equal(t, "completed", dto.Lessons[0].State)
	assert.Empty(t, dto.Lessons[0].ResumePhase)
	require.NotNil(t, dto.Lessons[0].CompletedAt)
	assert.Equal(t, "teach", dto.Lessons[1].ResumePhase)
	assert.Nil(t, dto.Lessons[1].CompletedAt)
}

func TestGetLearnerProgress_UsesCache(t *testing.T) {
	profiles, progress, achievements := fixture()
	cache := &mapCache{m: map[string]learner.Profile{}}
	h := NewGetLearnerProgressHandler(profiles, progress, achievements, cache, nil)

	for i := 0; i < 3; i++ {
		_, err := h.Handle(context.Background(), GetLearnerProgressQuery{LearnerID: "learner-1", Now: now})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, profiles.reads)

	cache.broken = true
	dto, err := h.Handle(context.Background(), GetLearnerProgressQuery{LearnerID: "learner-1", Now: now})
	require.NoError(t, err, "cache failures fall back to the store")
	assert.Equal(t, 340, dto.TotalXP)
	assert.Equal(t, 2, profiles.reads)
}

func TestGetLearnerProgress_Errors(t *testing.T) {
	profiles, progress, achievements := fixture()
	h := NewGetLearnerProgressHandler(profiles, progress, achievements, nil, nil)

	_, err := h.Handle(context.Background(), GetLearnerProgressQuery{LearnerID: "missing"})
	assert.ErrorIs(t, err, shared.ErrLearnerNotFound)

	_, err = h.Handle(context.Background(), GetLearnerProgressQuery{})
	assert.Error(t, err)

	_, err = h.Handle(context.Background(), GetLearnerProgressQuery{LearnerID: "learner-1", Timezone: "Nowhere/City"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestBuildProfileDTO_CompletedToday(t *testing.T) {
	p := learner.Profile{ID: "l", CurrentStreak: 2, LongestStreak: 2, LastLessonCompletedAt: now.Add(-time.Hour)}

	dto := buildProfileDTO(p, now)

	assert.True(t, dto.CompletedToday)
	assert.False(t, dto.StreakAtRisk)
	assert.Nil(t, dto.NextFreezeAt)
}
