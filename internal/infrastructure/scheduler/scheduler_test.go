package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	name    string
	runs    atomic.Int32
	err     error
	release chan struct{}
}

func (j *fakeJob) Name() string        { return j.name }
func (j *fakeJob) Description() string { return "test job" }

func (j *fakeJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.release != nil {
		select {
		case <-j.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestScheduler(clock *fakeClock) *Scheduler {
	s := NewScheduler(DefaultSchedulerConfig())
	s.now = clock.Now
	return s
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	job := &fakeJob{name: "grant_freezes"}

	require.NoError(t, s.Register(job, MustParseCronExpression(EveryMonday)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Hour)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Hour)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&fakeJob{name: "x"}, nil), ErrNilSchedule)
	assert.ErrorIs(t, s.SetEnabled("missing", false), ErrJobNotFound)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "grant_freezes", jobs[0].Name)
	assert.Equal(t, EveryMonday, jobs[0].Schedule)
	assert.True(t, jobs[0].Enabled)
}

func TestScheduler_RunsDueJobsOnce(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 9, 2, 17, 0, 0, 0, time.UTC)}
	s := newTestScheduler(clock)
	job := &fakeJob{name: "hourly"}
	require.NoError(t, s.Register(job, MustParseCronExpression(EveryHour)))

	ctx := context.Background()
	s.runDue(ctx)
	s.wg.Wait()
	assert.EqualValues(t, 0, job.runs.Load())

	clock.Advance(time.Hour)
	s.runDue(ctx)
	s.runDue(ctx)
	s.wg.Wait()
	assert.EqualValues(t, 1, job.runs.Load())

	info := s.ListJobs()[0]
	assert.EqualValues(t, 1, info.RunCount)
	assert.True(t, time.Date(2024, 9, 2, 19, 0, 0, 0, time.UTC).Equal(info.NextRun))
	require.NotNil(t, info.LastResult)
	assert.True(t, info.LastResult.Success)
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 9, 2, 17, 0, 0, 0, time.UTC)}
	s := newTestScheduler(clock)
	job := &fakeJob{name: "slow", release: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))

	ctx := context.Background()
	clock.Advance(time.Minute)
	s.runDue(ctx)
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)

	clock.Advance(time.Minute)
	s.runDue(ctx)

	close(job.release)
	s.wg.Wait()
	assert.EqualValues(t, 1, job.runs.Load())
}

func TestScheduler_DisabledJobsDoNotRun(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 9, 2, 17, 0, 0, 0, time.UTC)}
	s := newTestScheduler(clock)
	job := &fakeJob{name: "off"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	require.NoError(t, s.SetEnabled("off", false))

	clock.Advance(time.Hour)
	s.runDue(context.Background())
	s.wg.Wait()
	assert.EqualValues(t, 0, job.runs.Load())
}

func TestScheduler_RunNowRecordsFailures(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	boom := errors.New("store down")
	require.NoError(t, s.Register(&fakeJob{name: "flaky", err: boom}, NewIntervalSchedule(time.Hour)))

	result, err := s.RunNow(context.Background(), "flaky")
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.True(t, result.Manual)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	snap := s.Metrics().Snapshot()
	assert.EqualValues(t, 1, snap.TotalExecutions)
	assert.EqualValues(t, 1, snap.TotalFailures)
	assert.Len(t, s.History(10), 1)
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(SchedulerConfig{Tick: time.Millisecond})
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	require.NoError(t, s.Stop())
}
