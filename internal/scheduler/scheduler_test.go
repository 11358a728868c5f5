package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs int32
	err  error
}

func (j *countingJob) Run() error {
	atomic.AddInt32(&j.runs, 1)
	return j.err
}

func (j *countingJob) Name() string { return "counting" }

func TestRunNowExecutesJob(t *testing.T) {
	t.Parallel()

	s := New(zerolog.Nop())
	job := &countingJob{}

	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int32(1), atomic.LoadInt32(&job.runs))
}

func TestRunNowPropagatesJobError(t *testing.T) {
	t.Parallel()

	s := New(zerolog.Nop())
	boom := errors.New("boom")
	job := &countingJob{err: boom}

	err := s.RunNow(job)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), atomic.LoadInt32(&job.runs))
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	s := New(zerolog.Nop())
	err := s.AddJob("not a schedule", &countingJob{})
	require.Error(t, err)
}

func TestAddJobAcceptsDescriptors(t *testing.T) {
	t.Parallel()

	s := New(zerolog.Nop())
	require.NoError(t, s.AddJob("@hourly", &countingJob{}))
	require.NoError(t, s.AddJob("@every 15m", &countingJob{}))
	require.NoError(t, s.AddJob("*/5 * * * *", &countingJob{}))
}
