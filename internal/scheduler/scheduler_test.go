package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAddJob_InvalidSchedule(t *testing.T) {
	s := New(zap.NewNop())
	err := s.AddJob("bad", "not a schedule", func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestScheduler_RunsJob(t *testing.T) {
	s := New(zap.NewNop())

	var runs atomic.Int32
	require.NoError(t, s.AddJob("tick", "@every 50ms", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	s := New(zap.NewNop())

	var (
		started atomic.Int32
		release = make(chan struct{})
	)
	require.NoError(t, s.AddJob("slow", "@every 50ms", func(context.Context) error {
		started.Add(1)
		<-release
		return nil
	}))

	s.Start(context.Background())

	// Let several ticks fire while the first run is still blocked.
	assert.Eventually(t, func() bool { return started.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), started.Load(), "overlapping ticks must be skipped, not stacked")

	close(release)
	s.Stop()
}

func TestScheduler_JobErrorDoesNotKillTimer(t *testing.T) {
	s := New(zap.NewNop())

	var runs atomic.Int32
	require.NoError(t, s.AddJob("failing", "@every 50ms", func(context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}))

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_JobPanicIsRecovered(t *testing.T) {
	s := New(zap.NewNop())

	var runs atomic.Int32
	require.NoError(t, s.AddJob("panicking", "@every 50ms", func(context.Context) error {
		runs.Add(1)
		panic("boom")
	}))

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_StopWaitsForInflightRun(t *testing.T) {
	s := New(zap.NewNop())

	var done atomic.Bool
	require.NoError(t, s.AddJob("slow", "@every 10ms", func(context.Context) error {
		time.Sleep(100 * time.Millisecond)
		done.Store(true)
		return nil
	}))

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond) // let one run begin
	s.Stop()

	assert.True(t, done.Load(), "Stop must block until the in-flight run finishes")
}
