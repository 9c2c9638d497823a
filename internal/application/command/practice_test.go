package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

func reachPractice(t *testing.T, f *completeFixture, lessonID string) {
	t.Helper()
	for _, ph := range []string{"hook", "teach"} {
		_, err := f.handler.Handle(context.Background(), CompletePhaseCommand{LearnerID: learnerID, LessonID: lessonID, Phase: ph})
		require.NoError(t, err)
	}
}

func TestSubmitPracticeAnswer(t *testing.T) {
	tests := []struct {
		name       string
		correct    bool
		triesSoFar int
		outcome    lesson.PracticeOutcome
		score      int
		reveal     bool
		lastPhase  lesson.Phase
	}{
		{"correct first try", true, 0, lesson.OutcomeAdvance, 3, false, lesson.PhasePractice},
		{"correct third try", true, 2, lesson.OutcomeAdvance, 1, false, lesson.PhasePractice},
		{"first miss", false, 0, lesson.OutcomeRetry, 0, false, lesson.PhaseTeach},
		{"third miss advances", false, 2, lesson.OutcomeMaxAttemptsExceeded, 0, true, lesson.PhasePractice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCompleteFixture()
			reachPractice(t, f, "pillars-salah-01")
			h := NewSubmitPracticeAnswerHandler(f.store, NewLocalKeyLocker(), f.publisher, nil, f.clock.Now)

			res, err := h.Handle(context.Background(), SubmitPracticeAnswerCommand{
				LearnerID:  learnerID,
				LessonID:   "pillars-salah-01",
				Correct:    tt.correct,
				TriesSoFar: tt.triesSoFar,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.outcome, res.Outcome)
			assert.Equal(t, tt.triesSoFar+1, res.TriesUsed)
			assert.Equal(t, tt.reveal, res.RevealAnswer)
			assert.Equal(t, tt.score, res.Score)

			stored, ok := f.store.progressOf(learnerID, "pillars-salah-01")
			require.True(t, ok)
			assert.Equal(t, tt.lastPhase, stored.LastCompletedPhase)
			assert.Equal(t, tt.score, stored.Score)
		})
	}
}

func TestSubmitPracticeAnswer_OutsidePractice(t *testing.T) {
	f := newCompleteFixture()
	h := NewSubmitPracticeAnswerHandler(f.store, NewLocalKeyLocker(), nil, nil, f.clock.Now)

	_, err := h.Handle(context.Background(), SubmitPracticeAnswerCommand{LearnerID: learnerID, LessonID: "pillars-salah-01", Correct: true})
	assert.ErrorIs(t, err, shared.ErrNotInPractice)

	_, err = h.Handle(context.Background(), SubmitPracticeAnswerCommand{LearnerID: learnerID, LessonID: "pillars-salah-01", TriesSoFar: -1})
	assert.Error(t, err)
}

func TestSubmitPracticeAnswer_ThenReward(t *testing.T) {
	f := newCompleteFixture()
	reachPractice(t, f, "pillars-salah-01")
	h := NewSubmitPracticeAnswerHandler(f.store, NewLocalKeyLocker(), f.publisher, nil, f.clock.Now)

	_, err := h.Handle(context.Background(), SubmitPracticeAnswerCommand{LearnerID: learnerID, LessonID: "pillars-salah-01", Correct: true, TriesSoFar: 1})
	require.NoError(t, err)

	res, err := f.handler.Handle(context.Background(), CompletePhaseCommand{LearnerID: learnerID, LessonID: "pillars-salah-01", Phase: "reward"})
	require.NoError(t, err)
	assert.True(t, res.LessonCompleted)
	assert.Equal(t, 2, res.Progress.Score)
}

func TestRestartLesson_UnknownLesson(t *testing.T) {
	f := newCompleteFixture()
	h := NewRestartLessonHandler(f.store, NewLocalKeyLocker(), nil, nil, f.clock.Now)

	_, err := h.Handle(context.Background(), RestartLessonCommand{LearnerID: learnerID, LessonID: "pillars-salah-01"})
	assert.ErrorIs(t, err, shared.ErrProgressNotFound)
}
