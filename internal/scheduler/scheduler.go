// Package scheduler runs named jobs on cron schedules with an explicit
// Start/Stop lifecycle. A job still running when its next tick fires is
// skipped rather than stacked, so a slow scan can never pile up overlapping
// runs in the same process.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc is a scheduled unit of work. Errors are logged, never fatal: a
// failing run must not kill the timer.
type JobFunc func(ctx context.Context) error

// Scheduler owns a cron runner and the registered jobs.
type Scheduler struct {
	cron *cron.Cron
	lg   *zap.Logger

	mu      sync.Mutex
	started bool

	// baseCtx is passed to job runs; set on Start.
	baseCtx context.Context
}

// New creates an empty Scheduler.
func New(lg *zap.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		lg:   lg,
	}
}

// AddJob registers fn to run on the given cron schedule expression
// (e.g. "@hourly" or "0 */2 * * *"). Must be called before Start.
func (s *Scheduler) AddJob(name, schedule string, fn JobFunc) error {
	var running atomic.Bool
	_, err := s.cron.AddFunc(schedule, func() {
		if !running.CompareAndSwap(false, true) {
			s.lg.Warn("Previous run still in progress, skipping tick",
				zap.String("job", name),
			)
			return
		}
		defer running.Store(false)
		s.runJob(name, fn)
	})
	if err != nil {
		return errors.Wrapf(err, "add job %q with schedule %q", name, schedule)
	}
	return nil
}

// runJob executes one job run, recovering panics so a broken job cannot take
// the scheduler down.
func (s *Scheduler) runJob(name string, fn JobFunc) {
	defer func() {
		if rec := recover(); rec != nil {
			s.lg.Error("Job panicked",
				zap.String("job", name),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
		}
	}()

	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := fn(ctx); err != nil {
		s.lg.Error("Job failed", zap.String("job", name), zap.Error(err))
	}
}

// Start begins dispatching ticks. ctx is handed to every job run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.baseCtx = ctx
	s.cron.Start()
	s.started = true
	s.lg.Info("Scheduler started")
}

// Stop stops dispatching new ticks and blocks until in-flight runs finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.lg.Info("Scheduler stopped")
}
