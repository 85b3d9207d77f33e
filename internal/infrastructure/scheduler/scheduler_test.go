package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j *funcJob) Name() string                  { return j.name }
func (j *funcJob) Description() string           { return "test job " + j.name }
func (j *funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func newTestScheduler() *Scheduler {
	cfg := DefaultSchedulerConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.TickInterval = 10 * time.Millisecond
	cfg.JobTimeout = time.Second
	return NewScheduler(cfg)
}

func TestScheduler_Register(t *testing.T) {
	s := newTestScheduler()
	job := &funcJob{name: "a", run: func(context.Context) error { return nil }}

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&funcJob{name: "b"}, nil), ErrNilSchedule)
	assert.ErrorIs(t, s.SetEnabled("missing", true), ErrJobNotFound)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "@every 1m0s", jobs[0].Schedule)
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestScheduler()
	boom := errors.New("boom")

	require.NoError(t, s.Register(&funcJob{name: "ok", run: func(context.Context) error { return nil }}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(&funcJob{name: "fail", run: func(context.Context) error { return boom }}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(&funcJob{name: "panic", run: func(context.Context) error { panic("bad") }}, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "fail")
	assert.ErrorIs(t, err, boom)

	_, err = s.RunNow(context.Background(), "panic")
	assert.ErrorIs(t, err, ErrJobPanicked)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	history := s.GetHistory(0)
	require.Len(t, history, 3)
	assert.Equal(t, "ok", history[0].JobName)
	assert.False(t, history[2].Success)
}

func TestScheduler_RunNowRejectsOverlap(t *testing.T) {
	s := newTestScheduler()
	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, s.Register(&funcJob{name: "slow", run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}, NewIntervalSchedule(time.Hour)))

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), "slow")
		done <- err
	}()
	<-started

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(release)
	assert.NoError(t, <-done)
}

func TestScheduler_StartRunsDueJobs(t *testing.T) {
	s := newTestScheduler()
	var runs atomic.Int32

	schedule := &IntervalSchedule{Interval: time.Hour, Immediate: true}
	require.NoError(t, s.Register(&funcJob{name: "sweep", run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}, schedule))

	completed := make(chan JobResult, 1)
	s.OnJobComplete(func(r JobResult) { completed <- r })

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	select {
	case r := <-completed:
		assert.Equal(t, "sweep", r.JobName)
		assert.False(t, r.Manual)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.EqualValues(t, 1, runs.Load())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

func TestScheduler_JobTimeout(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.JobTimeout = 20 * time.Millisecond
	s := NewScheduler(cfg)

	require.NoError(t, s.Register(&funcJob{name: "stuck", run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}, NewIntervalSchedule(time.Hour)))

	_, err := s.RunNow(context.Background(), "stuck")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
