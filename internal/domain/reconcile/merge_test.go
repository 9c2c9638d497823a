package reconcile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurkids/nur-learning-hub/internal/domain/learner"
	"github.com/nurkids/nur-learning-hub/internal/domain/lesson"
	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

var base = time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)

func completedOn(t *testing.T, start time.Time, attempts int) lesson.Progress {
	t.Helper()
	p := lesson.NewProgress("learner-1", "prophets-nuh-03", start)
	p.Attempts = attempts
	var err error
	for i, ph := range lesson.AllPhases() {
		p, _, err = lesson.TransitionPhase(p, ph, start.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	return p
}

func progressSamples(t *testing.T) []lesson.Progress {
	a := completedOn(t, base, 2)
	a.Score = 80
	a.XPEarned = 40

	b := completedOn(t, base.Add(3*time.Hour), 1)
	b.Score = 95
	b.XPEarned = 60

	partial := lesson.NewProgress("learner-1", "prophets-nuh-03", base.Add(-time.Hour))
	partial, _, _ = lesson.TransitionPhase(partial, lesson.PhaseHook, base.Add(-time.Hour))
	partial, _, _ = lesson.TransitionPhase(partial, lesson.PhaseTeach, base.Add(-50*time.Minute))

	restarted := lesson.Restart(a, base.Add(24*time.Hour))
	restarted, _, _ = lesson.TransitionPhase(restarted, lesson.PhaseHook, base.Add(24*time.Hour))

	broken := partial
	broken.IsCompleted = true // no CompletedAt

	return []lesson.Progress{a, b, partial, restarted, broken, lesson.NewProgress("learner-1", "prophets-nuh-03", base)}
}

func TestMergeProgress_TwoDevices(t *testing.T) {
	deviceA := completedOn(t, base, 2)
	deviceA.Score = 80
	deviceB := completedOn(t, base.Add(time.Hour), 1)
	deviceB.Score = 95

	merged, report, err := MergeProgress(deviceA, deviceB)
	require.NoError(t, err)

	assert.Equal(t, 95, merged.Score)
	assert.Equal(t, 1, merged.Attempts)
	assert.True(t, merged.IsCompleted)
	assert.Equal(t, deviceA.CompletedAt, merged.CompletedAt)
	assert.Equal(t, lesson.PhaseReward, merged.LastCompletedPhase)
	assert.False(t, report.HasAnomalies())
	require.NoError(t, merged.Validate())
}

func TestMergeProgress_Commutative(t *testing.T) {
	samples := progressSamples(t)
	for i, a := range samples {
		for j, b := range samples {
			ab, _, err := MergeProgress(a, b)
			require.NoError(t, err)
			ba, _, err := MergeProgress(b, a)
			require.NoError(t, err)
			assert.Equal(t, ab, ba, "pair %d/%d", i, j)
		}
	}
}

func TestMergeProgress_Idempotent(t *testing.T) {
	samples := progressSamples(t)
	for i, a := range samples {
		for j, b := range samples {
			ab, _, err := MergeProgress(a, b)
			require.NoError(t, err)
			abb, _, err := MergeProgress(ab, b)
			require.NoError(t, err)
			assert.Equal(t, ab, abb, "pair %d/%d", i, j)
		}
	}
}

func TestMergeProgress_SelfMergeOfValidRecord(t *testing.T) {
	a := completedOn(t, base, 1)

	aa, report, err := MergeProgress(a, a)
	require.NoError(t, err)
	assert.Equal(t, a, aa)
	assert.False(t, report.HasAnomalies())
}

func TestMergeProgress_PhaseUnionKeepsEarlier(t *testing.T) {
	local := lesson.NewProgress("learner-1", "prophets-nuh-03", base)
	local, _, _ = lesson.TransitionPhase(local, lesson.PhaseHook, base.Add(5*time.Minute))

	remote := lesson.NewProgress("learner-1", "prophets-nuh-03", base)
	remote, _, _ = lesson.TransitionPhase(remote, lesson.PhaseHook, base.Add(time.Minute))
	remote, _, _ = lesson.TransitionPhase(remote, lesson.PhaseTeach, base.Add(2*time.Minute))

	merged, _, err := MergeProgress(local, remote)
	require.NoError(t, err)

	hook, ok := merged.Phases.At(lesson.PhaseHook)
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Minute), hook)
	assert.Equal(t, lesson.PhaseTeach, merged.LastCompletedPhase)
	assert.Equal(t, lesson.PhasePractice, merged.ResumePhase())
	for _, ph := range merged.Phases.Recorded() {
		assert.LessOrEqual(t, ph, merged.LastCompletedPhase)
	}
}

func TestMergeProgress_FlagsInvalidRecordState(t *testing.T) {
	broken := completedOn(t, base, 1)
	broken.CompletedAt = time.Time{}

	healthy := lesson.NewProgress("learner-1", "prophets-nuh-03", base)

	merged, report, err := MergeProgress(healthy, broken)
	require.NoError(t, err)

	require.True(t, report.HasAnomalies())
	assert.Equal(t, SideRemote, report.Anomalies[0].Side)
	assert.True(t, errors.Is(report.Anomalies[0], shared.ErrInvalidRecordState))
	assert.True(t, merged.IsCompleted)
	reward, _ := broken.Phases.At(lesson.PhaseReward)
	assert.Equal(t, reward, merged.CompletedAt)
	require.NoError(t, merged.Validate())
}

func TestMergeProgress_MismatchIsFatal(t *testing.T) {
	a := lesson.NewProgress("learner-1", "lesson-a", base)
	b := lesson.NewProgress("learner-1", "lesson-b", base)

	merged, _, err := MergeProgress(a, b)
	assert.ErrorIs(t, err, shared.ErrRecordMismatch)
	assert.Equal(t, lesson.Progress{}, merged)
}

func TestMergeProgress_EqualInstantsInDifferentZones(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)
	a := completedOn(t, base, 1)
	b := a
	b.CompletedAt = a.CompletedAt.In(almaty)
	b.LastAccessedAt = a.LastAccessedAt.In(almaty)

	ab, _, err := MergeProgress(a, b)
	require.NoError(t, err)
	ba, _, err := MergeProgress(b, a)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
}

func profileSamples() []learner.Profile {
	return []learner.Profile{
		{ID: "learner-1", TotalXP: 120, CurrentStreak: 3, LongestStreak: 5, TotalLessonsCompleted: 4,
			LastLessonCompletedAt: base, StreakFreezeBalance: 1, LastFreezeGrantedAt: base.Add(-48 * time.Hour)},
		{ID: "learner-1", TotalXP: 300, CurrentStreak: 6, LongestStreak: 6, TotalLessonsCompleted: 3,
			LastLessonCompletedAt: base.Add(time.Hour), StreakFreezeBalance: 0, LastFreezeGrantedAt: base.Add(-48 * time.Hour)},
		{ID: "learner-1", TotalXP: 50, CurrentStreak: 9, LongestStreak: 2, // corrupted longest
			StreakFreezeBalance: 2, LastFreezeGrantedAt: base},
		{ID: "learner-1"},
	}
}

func TestMergeProfile_Properties(t *testing.T) {
	samples := profileSamples()
	for i, a := range samples {
		for j, b := range samples {
			ab, _, err := MergeProfile(a, b)
			require.NoError(t, err)
			ba, _, err := MergeProfile(b, a)
			require.NoError(t, err)
			abb, _, err := MergeProfile(ab, b)
			require.NoError(t, err)

			assert.Equal(t, ab, ba, "commutative %d/%d", i, j)
			assert.Equal(t, ab, abb, "idempotent %d/%d", i, j)
			assert.GreaterOrEqual(t, ab.TotalXP, max(a.TotalXP, b.TotalXP))
			assert.GreaterOrEqual(t, ab.TotalLessonsCompleted, max(a.TotalLessonsCompleted, b.TotalLessonsCompleted))
			assert.LessOrEqual(t, ab.CurrentStreak, ab.LongestStreak)
		}
	}
}

func TestMergeProfile_Fields(t *testing.T) {
	samples := profileSamples()

	merged, report, err := MergeProfile(samples[0], samples[1])
	require.NoError(t, err)
	assert.False(t, report.HasAnomalies())

	assert.Equal(t, 300, merged.TotalXP)
	assert.Equal(t, 6, merged.CurrentStreak)
	assert.Equal(t, 6, merged.LongestStreak)
	assert.Equal(t, 4, merged.TotalLessonsCompleted)
	assert.Equal(t, base.Add(time.Hour), merged.LastLessonCompletedAt)
	// same grant time on both sides: the smaller balance wins
	assert.Equal(t, 0, merged.StreakFreezeBalance)

	withNewerGrant, report, err := MergeProfile(samples[0], samples[2])
	require.NoError(t, err)
	assert.Equal(t, 2, withNewerGrant.StreakFreezeBalance)
	assert.Equal(t, 9, withNewerGrant.LongestStreak)
	require.True(t, report.HasAnomalies())
	assert.Equal(t, "longestStreak", report.Anomalies[0].Field)
}

func TestMergeProfile_MismatchIsFatal(t *testing.T) {
	_, _, err := MergeProfile(learner.Profile{ID: "a"}, learner.Profile{ID: "b"})
	assert.ErrorIs(t, err, shared.ErrRecordMismatch)
}

func TestSnapshot_Validate(t *testing.T) {
	ok := Snapshot{
		LearnerID: "learner-1",
		Profile:   &learner.Profile{ID: "learner-1"},
		Progress:  []lesson.Progress{lesson.NewProgress("learner-1", "lesson-a", base)},
	}
	require.NoError(t, ok.Validate())

	foreign := ok
	foreign.Progress = []lesson.Progress{lesson.NewProgress("learner-2", "lesson-a", base)}
	assert.ErrorIs(t, foreign.Validate(), shared.ErrRecordMismatch)

	assert.Error(t, Snapshot{}.Validate())
}

func TestSameProgress_IgnoresZone(t *testing.T) {
	a := completedOn(t, base, 1)
	b := a
	b.CompletedAt = a.CompletedAt.In(time.FixedZone("UTC+5", 5*60*60))
	assert.True(t, SameProgress(a, b))

	b.Score = 10
	assert.False(t, SameProgress(a, b))
}

func TestSameProfile_IgnoresUpdatedAt(t *testing.T) {
	a := profileSamples()[0]
	b := a
	b.UpdatedAt = base.Add(time.Hour)
	assert.True(t, SameProfile(a, b))

	b.TotalXP++
	assert.False(t, SameProfile(a, b))
}

func anomalousProgress(t *testing.T) []lesson.Progress {
	noEvidence := lesson.Progress{LearnerID: "learner-1", LessonID: "prophets-nuh-03", IsCompleted: true, Attempts: 1}

	rewardNotCompleted := completedOn(t, base, 1)
	rewardNotCompleted.IsCompleted = false
	rewardNotCompleted.CompletedAt = time.Time{}

	rewardPhaseOnly := lesson.Progress{LearnerID: "learner-1", LessonID: "prophets-nuh-03",
		LastCompletedPhase: lesson.PhaseReward, Attempts: 1}

	negative := completedOn(t, base, 0)
	negative.Score = -5
	negative.XPEarned = -1

	orphanTime := lesson.NewProgress("learner-1", "prophets-nuh-03", base)
	orphanTime.CompletedAt = base.Add(time.Hour)

	return append(progressSamples(t), noEvidence, rewardNotCompleted, rewardPhaseOnly, negative, orphanTime)
}

func TestMergeProgress_ResultAlwaysValid(t *testing.T) {
	samples := anomalousProgress(t)
	for _, fallback := range []time.Time{{}, base.Add(48 * time.Hour)} {
		for i, a := range samples {
			for j, b := range samples {
				ab, _, err := MergeProgressAt(a, b, fallback)
				require.NoError(t, err)
				assert.NoError(t, ab.Validate(), "pair %d/%d fallback %v", i, j, fallback)

				ba, _, err := MergeProgressAt(b, a, fallback)
				require.NoError(t, err)
				assert.Equal(t, ab, ba, "pair %d/%d", i, j)

				again, _, err := MergeProgressAt(ab, b, fallback)
				require.NoError(t, err)
				assert.Equal(t, ab, again, "pair %d/%d", i, j)
			}
		}
	}
}

func TestMergeProgress_CompletionWithoutTimes(t *testing.T) {
	p := lesson.Progress{LearnerID: "learner-1", LessonID: "prophets-nuh-03", IsCompleted: true, Attempts: 1}

	t.Run("no fallback drops completion", func(t *testing.T) {
		merged, report, err := MergeProgress(p, p)
		require.NoError(t, err)

		assert.True(t, report.HasAnomalies())
		assert.False(t, merged.IsCompleted)
		assert.True(t, merged.CompletedAt.IsZero())
		require.NoError(t, merged.Validate())
	})

	t.Run("fallback keeps completion", func(t *testing.T) {
		captured := base.Add(5 * time.Hour)
		merged, report, err := MergeProgressAt(p, p, captured)
		require.NoError(t, err)

		assert.True(t, report.HasAnomalies())
		assert.True(t, merged.IsCompleted)
		assert.True(t, captured.Equal(merged.CompletedAt))
		require.NoError(t, merged.Validate())
	})

	t.Run("other side with evidence wins", func(t *testing.T) {
		healthy := completedOn(t, base, 2)
		merged, _, err := MergeProgress(p, healthy)
		require.NoError(t, err)

		assert.True(t, merged.IsCompleted)
		assert.Equal(t, healthy.CompletedAt, merged.CompletedAt)
		require.NoError(t, merged.Validate())
	})
}

func TestMergeProgress_RewardOnIncompleteRecord(t *testing.T) {
	p := completedOn(t, base, 1)
	p.IsCompleted = false
	p.CompletedAt = time.Time{}

	merged, report, err := MergeProgress(p, p)
	require.NoError(t, err)

	require.True(t, report.HasAnomalies())
	assert.True(t, errors.Is(report.Anomalies[0], shared.ErrInvalidRecordState))
	assert.True(t, merged.IsCompleted)
	reward, _ := p.Phases.At(lesson.PhaseReward)
	assert.True(t, reward.Equal(merged.CompletedAt))
	require.NoError(t, merged.Validate())

	// The finished attempt can be replayed after a restart.
	_, _, err = lesson.TransitionPhase(merged, lesson.PhaseHook, base.Add(time.Hour))
	assert.ErrorIs(t, err, shared.ErrLessonAlreadyDone)
	restarted := lesson.Restart(merged, base.Add(time.Hour))
	_, _, err = lesson.TransitionPhase(restarted, lesson.PhaseHook, base.Add(time.Hour))
	assert.NoError(t, err)
}
