package learner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurkids/nur-learning-hub/internal/domain/shared"
)

var almaty = time.FixedZone("Asia/Almaty", 5*60*60)

func day(n int, hour int) time.Time {
	return time.Date(2024, 6, n, hour, 0, 0, 0, almaty)
}

func completeOn(p Profile, days ...int) Profile {
	for _, d := range days {
		p, _ = RecordCompletion(p, day(d, 18))
	}
	return p
}

func TestRecordCompletion_ConsecutiveDays(t *testing.T) {
	p := completeOn(NewProfile("learner-1", day(1, 9)), 1, 2, 3)

	assert.Equal(t, 3, p.CurrentStreak)
	assert.Equal(t, 3, p.LongestStreak)
	assert.Equal(t, day(3, 18), p.LastLessonCompletedAt)
}

func TestRecordCompletion_MissedDayWithoutFreezeResets(t *testing.T) {
	p := completeOn(NewProfile("learner-1", day(1, 9)), 1, 2, 3)

	p, _ = RecordCompletion(p, day(5, 10))

	assert.Equal(t, 1, p.CurrentStreak)
	assert.Equal(t, 3, p.LongestStreak)
}

func TestRecordCompletion_MissedDayWithFreeze(t *testing.T) {
	p := completeOn(NewProfile("learner-1", day(1, 9)), 1, 2, 3)
	p.StreakFreezeBalance = 1

	p, update := ApplyStreak(p, day(5, 10))

	assert.Equal(t, 4, p.CurrentStreak)
	assert.Equal(t, 0, p.StreakFreezeBalance)
	assert.True(t, update.FreezeConsumed)
	assert.Equal(t, 2, update.DayGap)
}

func TestRecordCompletion_TwoMissedDaysResetsEvenWithFreeze(t *testing.T) {
	p := completeOn(NewProfile("learner-1", day(1, 9)), 1, 2)
	p.StreakFreezeBalance = 2

	p, update := ApplyStreak(p, day(5, 10))

	assert.Equal(t, 1, p.CurrentStreak)
	assert.Equal(t, 2, p.StreakFreezeBalance)
	assert.True(t, update.Reset)
}

func TestRecordCompletion_SameDayIsIdempotent(t *testing.T) {
	p := completeOn(NewProfile("learner-1", day(1, 9)), 1, 2)

	p, update := ApplyStreak(p, day(2, 23))

	assert.Equal(t, 2, p.CurrentStreak)
	assert.False(t, update.Changed())
	assert.Equal(t, day(2, 23), p.LastLessonCompletedAt)
}

func TestRecordCompletion_LocalMidnightBoundary(t *testing.T) {
	p := NewProfile("learner-1", day(1, 0))
	p, _ = RecordCompletion(p, time.Date(2024, 6, 1, 23, 59, 0, 0, almaty))
	p, _ = RecordCompletion(p, time.Date(2024, 6, 2, 0, 1, 0, 0, almaty))

	assert.Equal(t, 2, p.CurrentStreak)
}

func TestRecordCompletion_ClockSkewIsIgnored(t *testing.T) {
	p := completeOn(NewProfile("learner-1", day(1, 9)), 1, 2, 3)

	got, update := ApplyStreak(p, day(1, 12))

	assert.True(t, update.Ignored)
	assert.Equal(t, p, got)
}

func TestRecordCompletion_Milestones(t *testing.T) {
	p := NewProfile("learner-1", day(1, 9))
	p.CurrentStreak = 6
	p.LongestStreak = 6
	p.LastLessonCompletedAt = day(1, 9)

	p, events := RecordCompletion(p, day(2, 9))
	require.Len(t, events, 1)
	assert.Equal(t, 7, events[0].Days)

	_, events = RecordCompletion(p, day(2, 20))
	assert.Empty(t, events)

	reset := p
	reset.LastLessonCompletedAt = day(1, 9)
	_, events = RecordCompletion(reset, day(20, 9))
	assert.Empty(t, events)
}

func TestRecordCompletion_CurrentNeverExceedsLongest(t *testing.T) {
	p := NewProfile("learner-1", day(1, 9))
	for _, d := range []int{1, 2, 3, 6, 7, 9, 10, 11, 12, 14} {
		p, _ = RecordCompletion(p, day(d, 12))
		require.NoError(t, p.Validate())
		assert.LessOrEqual(t, p.CurrentStreak, p.LongestStreak)
	}
	assert.Equal(t, 4, p.LongestStreak)
}

func TestGrantFreeze(t *testing.T) {
	p := NewProfile("learner-1", day(1, 9))

	p, err := GrantFreeze(p, day(1, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, p.StreakFreezeBalance)
	assert.Equal(t, day(8, 10), NextFreezeAt(p))

	again, err := GrantFreeze(p, day(7, 10))
	assert.ErrorIs(t, err, shared.ErrFreezeAlreadyGranted)
	assert.ErrorIs(t, err, shared.ErrAlreadyProcessed)
	assert.Equal(t, p, again)

	p, err = GrantFreeze(p, day(8, 10))
	require.NoError(t, err)
	assert.Equal(t, 2, p.StreakFreezeBalance)
}
