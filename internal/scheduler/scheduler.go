package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per pass.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Interval is the wait between passes. Without alignment it is measured
	// from the end of the previous pass, so slow passes never overlap.
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives the polling loop.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick until ctx is cancelled. Tick errors are logged and
// never stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.AlignToStart {
		return s.runAligned(ctx, tick)
	}

	for {
		s.execute(ctx, tick, time.Now().UTC())
		s.logger.Debug().Dur("wait", s.opts.Interval).Msg("waiting for next pass")
		if err := sleep(ctx, s.opts.Interval); err != nil {
			return err
		}
	}
}

func (s *Scheduler) runAligned(ctx context.Context, tick TickFunc) error {
	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		s.logger.Debug().Time("next_tick", next).Msg("waiting for next aligned tick")
		if err := sleep(ctx, delay); err != nil {
			return err
		}

		s.execute(ctx, tick, next.Truncate(s.opts.Interval))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc, at time.Time) {
	if ctx.Err() != nil {
		return
	}
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("tick", at).Msg("pass failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
