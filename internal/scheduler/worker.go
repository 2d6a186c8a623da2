package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"liqwatcher/internal/risk"
)

// TickFunc runs one scheduling pass for a tier.
type TickFunc func(ctx context.Context, tier risk.Tier) error

// Options tune worker behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
}

// Worker drives one tier's loop. Ticks for the same tier never overlap: if a
// pass is still running when the interval elapses, the new firing is skipped.
type Worker struct {
	tier   risk.Tier
	opts   Options
	tick   TickFunc
	logger zerolog.Logger
	busy   atomic.Bool
}

// NewWorker constructs a tier worker.
func NewWorker(tier risk.Tier, opts Options, tick TickFunc, logger zerolog.Logger) *Worker {
	if opts.Interval <= 0 {
		panic("worker interval must be positive")
	}
	return &Worker{
		tier:   tier,
		opts:   opts,
		tick:   tick,
		logger: logger.With().Str("component", "scheduler").Str("tier", string(tier)).Logger(),
	}
}

// Run blocks, firing the tick function on every interval until ctx is
// cancelled. An in-flight tick always runs to completion before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	if w.opts.StartupDelay > 0 {
		timer := time.NewTimer(w.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	w.runTick(ctx)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.runTick(ctx)
		}
	}
}

func (w *Worker) runTick(ctx context.Context) {
	if !w.busy.CompareAndSwap(false, true) {
		w.logger.Warn().Msg("previous tick still running, skipping firing")
		return
	}
	defer w.busy.Store(false)

	start := time.Now()
	if err := w.tick(ctx, w.tier); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		w.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("tick failed")
		return
	}
	w.logger.Debug().Dur("elapsed", time.Since(start)).Msg("tick complete")
}

// Group runs a set of workers together and waits for all of them to wind
// down on shutdown.
type Group struct {
	workers []*Worker
}

// NewGroup bundles workers for joint execution.
func NewGroup(workers ...*Worker) *Group {
	return &Group{workers: workers}
}

// Run starts every worker and blocks until ctx is cancelled and all workers
// have returned.
func (g *Group) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, w := range g.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			_ = w.Run(ctx)
		}(w)
	}
	wg.Wait()
	return ctx.Err()
}
