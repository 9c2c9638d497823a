package learner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
)

func completion(at time.Time, attempt int, first bool) lesson.CompletionEvent {
	return lesson.CompletionEvent{
		LearnerID:       "learner-1",
		LessonID:        "pillars-salah-01",
		Attempt:         attempt,
		CompletedAt:     at,
		FirstCompletion: first,
	}
}

func TestApplyCompletion_FirstLesson(t *testing.T) {
	p := NewProfile("learner-1", day(1, 8))

	next, out := ApplyCompletion(p, completion(day(1, 18), 1, true), CompletionInput{BaseXP: 100})

	assert.Equal(t, 1, next.CurrentStreak)
	// 100 × 1.5 × 1.1
	assert.Equal(t, 165, out.XPAwarded)
	assert.Equal(t, 165, next.TotalXP)
	assert.Equal(t, 1, next.TotalLessonsCompleted)
	assert.True(t, out.FirstCompletion)
	require.NoError(t, next.Validate())
}

func TestApplyCompletion_ReplayDoesNotCountLessonTwice(t *testing.T) {
	p := NewProfile("learner-1", day(1, 8))
	p, _ = ApplyCompletion(p, completion(day(1, 18), 1, true), CompletionInput{BaseXP: 100})

	next, out := ApplyCompletion(p, completion(day(2, 18), 2, false), CompletionInput{BaseXP: 100})

	assert.Equal(t, 1, next.TotalLessonsCompleted)
	assert.Equal(t, 2, next.CurrentStreak)
	// 100 × 1.0 × 1.2
	assert.Equal(t, 120, out.XPAwarded)
	assert.Equal(t, 285, next.TotalXP)
	assert.GreaterOrEqual(t, next.TotalXP, p.TotalXP)
}

func TestApplyCompletion_CategoryBonus(t *testing.T) {
	p := NewProfile("learner-1", day(1, 8))

	_, out := ApplyCompletion(p, completion(day(1, 18), 1, true), CompletionInput{BaseXP: 40, CompletesCategory: true})

	// 40 × 1.5 × 1.1 × 1.25 = 82.5
	assert.Equal(t, 83, out.XPAwarded)
}

func TestReset(t *testing.T) {
	p := Profile{ID: "learner-1", TotalXP: 900, CurrentStreak: 4, LongestStreak: 9, TotalLessonsCompleted: 12, CreatedAt: day(1, 8)}

	r := Reset(p, day(3, 8))

	assert.Equal(t, "learner-1", r.ID)
	assert.Zero(t, r.TotalXP)
	assert.Zero(t, r.LongestStreak)
	assert.Equal(t, day(1, 8), r.CreatedAt)
	require.NoError(t, r.Validate())
}
