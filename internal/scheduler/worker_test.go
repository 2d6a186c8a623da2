package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"liqwatcher/internal/risk"
)

func TestWorkerFiresImmediatelyAndOnInterval(t *testing.T) {
	var count atomic.Int64
	tick := func(ctx context.Context, tier risk.Tier) error {
		require.Equal(t, risk.TierNormalWatch, tier)
		count.Add(1)
		return nil
	}

	w := NewWorker(risk.TierNormalWatch, Options{Interval: 20 * time.Millisecond}, tick, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	// one immediate pass plus roughly five interval firings
	require.GreaterOrEqual(t, count.Load(), int64(3))
}

func TestWorkerSkipsOverlappingTicks(t *testing.T) {
	var running atomic.Int64
	var overlapped atomic.Bool
	var fired atomic.Int64

	tick := func(ctx context.Context, tier risk.Tier) error {
		if running.Add(1) > 1 {
			overlapped.Store(true)
		}
		defer running.Add(-1)
		fired.Add(1)
		time.Sleep(50 * time.Millisecond)
		return nil
	}

	w := NewWorker(risk.TierLiquidatable, Options{Interval: 5 * time.Millisecond}, tick, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	_ = w.Run(ctx)
	require.False(t, overlapped.Load(), "ticks for one tier must never overlap")
	require.Less(t, fired.Load(), int64(10), "most firings should be skipped while busy")
}

func TestWorkerFinishesInFlightTickOnShutdown(t *testing.T) {
	started := make(chan struct{}, 1)
	var finished atomic.Bool

	tick := func(ctx context.Context, tier risk.Tier) error {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(40 * time.Millisecond)
		finished.Store(true)
		return nil
	}

	w := NewWorker(risk.TierHealthy, Options{Interval: time.Hour}, tick, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	require.True(t, finished.Load(), "in-flight tick must run to completion")
}

func TestWorkerStartupDelayHonoursCancellation(t *testing.T) {
	tick := func(ctx context.Context, tier risk.Tier) error {
		t.Fatal("tick must not fire before startup delay elapses")
		return nil
	}

	w := NewWorker(risk.TierHealthy, Options{Interval: time.Hour, StartupDelay: time.Hour}, tick, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestGroupWaitsForAllWorkers(t *testing.T) {
	var count atomic.Int64
	tick := func(ctx context.Context, tier risk.Tier) error {
		count.Add(1)
		return nil
	}

	var workers []*Worker
	for _, tier := range risk.Tiers {
		workers = append(workers, NewWorker(tier, Options{Interval: 10 * time.Millisecond}, tick, zerolog.Nop()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewGroup(workers...).Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.GreaterOrEqual(t, count.Load(), int64(len(risk.Tiers)))
}

func TestNewWorkerRejectsZeroInterval(t *testing.T) {
	require.Panics(t, func() {
		NewWorker(risk.TierHealthy, Options{}, nil, zerolog.Nop())
	})
}
