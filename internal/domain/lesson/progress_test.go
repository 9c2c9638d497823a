package lesson

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

var t0 = time.Date(2024, 4, 10, 16, 0, 0, 0, time.UTC)

func playThrough(t *testing.T, p Progress, start time.Time) (Progress, *CompletionEvent) {
	t.Helper()
	var ev *CompletionEvent
	var err error
	for i, ph := range AllPhases() {
		p, ev, err = TransitionPhase(p, ph, start.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	return p, ev
}

func TestTransitionPhase_HappyPath(t *testing.T) {
	p := NewProgress("learner-1", "pillars-salah-01", t0)
	assert.Equal(t, StateNotStarted, p.State())
	assert.Equal(t, PhaseHook, p.ResumePhase())

	p, ev, err := TransitionPhase(p, PhaseHook, t0)
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, PhaseHook, p.LastCompletedPhase)
	assert.Equal(t, PhaseTeach, p.ResumePhase())
	assert.Equal(t, StateHook, p.State())

	p, ev = playThrough(t, NewProgress("learner-1", "pillars-salah-01", t0), t0)
	require.NotNil(t, ev)
	assert.True(t, p.IsCompleted)
	assert.Equal(t, StateCompleted, p.State())
	assert.Equal(t, t0.Add(3*time.Minute), p.CompletedAt)
	assert.True(t, ev.FirstCompletion)
	assert.True(t, ev.IsFirstAttempt())
	assert.Equal(t, PhaseNone, p.ResumePhase())
	require.NoError(t, p.Validate())

	last, ok := p.Phases.At(PhaseReward)
	require.True(t, ok)
	assert.False(t, p.CompletedAt.Before(last))
}

func TestTransitionPhase_OutOfOrder(t *testing.T) {
	p := NewProgress("learner-1", "lesson-01", t0)
	p, _, err := TransitionPhase(p, PhaseHook, t0)
	require.NoError(t, err)

	tests := []struct {
		name      string
		requested Phase
	}{
		{"skip ahead", PhasePractice},
		{"jump to reward", PhaseReward},
		{"repeat same phase", PhaseHook},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ev, err := TransitionPhase(p, tt.requested, t0.Add(time.Minute))
			assert.ErrorIs(t, err, shared.ErrOutOfOrderTransition)
			assert.ErrorIs(t, err, shared.ErrStateTransition)
			assert.Nil(t, ev)
			assert.Equal(t, p, got)
		})
	}
}

func TestTransitionPhase_RejectsInvalidPhase(t *testing.T) {
	p := NewProgress("learner-1", "lesson-01", t0)
	_, _, err := TransitionPhase(p, PhaseNone, t0)
	assert.ErrorIs(t, err, shared.ErrUnknownPhase)
}

func TestTransitionPhase_AfterRewardNeedsRestart(t *testing.T) {
	p, _ := playThrough(t, NewProgress("learner-1", "lesson-01", t0), t0)

	_, _, err := TransitionPhase(p, PhaseHook, t0.Add(time.Hour))
	assert.ErrorIs(t, err, shared.ErrLessonAlreadyDone)
}

func TestTransitionPhase_LastCompletedIsHighestRecorded(t *testing.T) {
	p := NewProgress("learner-1", "lesson-01", t0)
	for i, ph := range AllPhases() {
		var err error
		p, _, err = TransitionPhase(p, ph, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.Equal(t, p.LastCompletedPhase, p.Phases.Highest())
		for _, rec := range p.Phases.Recorded() {
			assert.LessOrEqual(t, rec, p.LastCompletedPhase)
		}
	}
}

func TestRestart(t *testing.T) {
	p, _ := playThrough(t, NewProgress("learner-1", "lesson-01", t0), t0)
	p.RecordScore(3)
	p.AddXP(15)
	firstCompletedAt := p.CompletedAt

	r := Restart(p, t0.Add(24*time.Hour))

	assert.True(t, r.Phases.IsEmpty())
	assert.Equal(t, PhaseNone, r.LastCompletedPhase)
	assert.Equal(t, StateNotStarted, r.State())
	assert.Equal(t, 2, r.Attempts)
	assert.True(t, r.IsCompleted)
	assert.Equal(t, firstCompletedAt, r.CompletedAt)
	assert.Equal(t, 3, r.Score)
	assert.Equal(t, 15, r.XPEarned)

	r, ev := playThrough(t, r, t0.Add(24*time.Hour))
	require.NotNil(t, ev)
	assert.False(t, ev.FirstCompletion)
	assert.False(t, ev.IsFirstAttempt())
	assert.Equal(t, 2, ev.Attempt)
	assert.Equal(t, firstCompletedAt, r.CompletedAt)
}

func TestRecordScore_KeepsBest(t *testing.T) {
	p := NewProgress("learner-1", "lesson-01", t0)
	p.RecordScore(2)
	p.RecordScore(1)
	assert.Equal(t, 2, p.Score)
	p.AddXP(-5)
	assert.Equal(t, 0, p.XPEarned)
}

func TestProgress_Validate(t *testing.T) {
	valid := NewProgress("learner-1", "lesson-01", t0)
	require.NoError(t, valid.Validate())

	beyond := valid
	beyond.Phases.Set(PhaseTeach, t0)
	assert.ErrorIs(t, beyond.Validate(), shared.ErrInvariant)

	noTime := valid
	noTime.IsCompleted = true
	assert.ErrorIs(t, noTime.Validate(), shared.ErrInvariant)

	zeroAttempts := valid
	zeroAttempts.Attempts = 0
	assert.Error(t, zeroAttempts.Validate())

	rewardNotCompleted := valid
	for _, ph := range AllPhases() {
		rewardNotCompleted.Phases.Set(ph, t0)
	}
	rewardNotCompleted.LastCompletedPhase = PhaseReward
	assert.ErrorIs(t, rewardNotCompleted.Validate(), shared.ErrInvariant)
}

func TestParsePhase(t *testing.T) {
	for _, ph := range AllPhases() {
		got, err := ParsePhase(ph.String())
		require.NoError(t, err)
		assert.Equal(t, ph, got)
	}

	none, err := ParsePhase("")
	require.NoError(t, err)
	assert.Equal(t, PhaseNone, none)

	_, err = ParsePhase("Hook")
	assert.True(t, errors.Is(err, shared.ErrUnknownPhase))

	_, err = ParsePhase("quiz")
	assert.ErrorIs(t, err, shared.ErrUnknownPhase)
}

func TestPhase_JSONUsesRawStrings(t *testing.T) {
	type wire struct {
		Last Phase `json:"lastCompletedPhase"`
	}

	data, err := json.Marshal(wire{Last: PhasePractice})
	require.NoError(t, err)
	assert.JSONEq(t, `{"lastCompletedPhase":"practice"}`, string(data))

	var w wire
	assert.Error(t, json.Unmarshal([]byte(`{"lastCompletedPhase":"bonus"}`), &w))
}

func TestCategoryComplete(t *testing.T) {
	completed := map[string]bool{"a": true, "b": true}

	assert.True(t, CategoryComplete([]string{"a", "b"}, completed))
	assert.False(t, CategoryComplete([]string{"a", "c"}, completed))
	assert.False(t, CategoryComplete(nil, completed))

	cats := CompletedCategories(map[string][]string{
		"prophets": {"a", "b"},
		"pillars":  {"a"},
		"duas":     {"c"},
	}, completed)
	assert.Equal(t, []string{"pillars", "prophets"}, cats)
}
