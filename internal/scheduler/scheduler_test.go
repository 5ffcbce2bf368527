package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/dompay/services/esocial/internal/metrics"
)

type fakeRunner struct {
	calls   atomic.Int64
	release chan struct{}
	err     error
}

func (r *fakeRunner) RunBatch(ctx context.Context) error {
	r.calls.Add(1)
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.err
}

func TestProcessNowRunsBatch(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, metrics.NewMetrics())

	require.NoError(t, s.ProcessNow(context.Background()))
	require.Equal(t, int64(1), runner.calls.Load())
}

func TestProcessNowSkipsWhileRunInFlight(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	s := NewScheduler(runner, metrics.NewMetrics())

	done := make(chan error, 1)
	go func() {
		done <- s.ProcessNow(context.Background())
	}()

	require.Eventually(t, func() bool {
		return runner.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// The guard is held by the first run, so this returns without running
	require.NoError(t, s.ProcessNow(context.Background()))
	require.Equal(t, int64(1), runner.calls.Load())

	close(runner.release)
	require.NoError(t, <-done)
}

func TestTickSkipsWhileRunInFlight(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	collector := metrics.NewMetrics()
	s := NewScheduler(runner, collector)

	done := make(chan error, 1)
	go func() {
		done <- s.ProcessNow(context.Background())
	}()

	require.Eventually(t, func() bool {
		return runner.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// Timer ticks arriving while the manual run holds the guard are skipped,
	// not queued
	require.NoError(t, s.Start(10*time.Millisecond))

	require.Eventually(t, func() bool {
		return collector.GetCounters()[metrics.CounterTicksSkipped] >= 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int64(1), runner.calls.Load())

	require.NoError(t, s.Stop())
	close(runner.release)
	require.NoError(t, <-done)
}

func TestStartFiresPeriodically(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, metrics.NewMetrics())

	require.NoError(t, s.Start(10*time.Millisecond))
	defer s.Stop()

	require.True(t, s.IsRunning())
	require.Eventually(t, func() bool {
		return runner.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartTwiceIsNoOp(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, metrics.NewMetrics())

	require.NoError(t, s.Start(time.Hour))
	require.NoError(t, s.Start(time.Hour))
	require.True(t, s.IsRunning())

	require.NoError(t, s.Stop())
	require.False(t, s.IsRunning())
	require.NoError(t, s.Stop())
}

func TestStopDoesNotInterruptInFlightRun(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{})}
	s := NewScheduler(runner, metrics.NewMetrics())
	require.NoError(t, s.Start(time.Hour))

	done := make(chan error, 1)
	go func() {
		done <- s.ProcessNow(context.Background())
	}()

	require.Eventually(t, func() bool {
		return runner.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	require.False(t, s.IsRunning())

	close(runner.release)
	require.NoError(t, <-done)
}
