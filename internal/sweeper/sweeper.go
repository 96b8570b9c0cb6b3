// Package sweeper runs reconciliation jobs on a fixed schedule. A run is
// skipped when the previous one is still going, locally or on another replica.
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a single sweep pass.
type Job func(ctx context.Context) error

// Locker grants a lease shared by every replica running the same job.
type Locker interface {
	TryLock(ctx context.Context, job string, ttl time.Duration) (release func(), ok bool, err error)
}

type Runner struct {
	name     string
	interval time.Duration
	job      Job
	locker   Locker
	lockTTL  time.Duration
	lg       *zap.Logger

	mu sync.Mutex
}

type Option func(*Runner)

// WithLocker adds a cross-replica lease held for at most ttl per run.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(r *Runner) {
		r.locker = l
		r.lockTTL = ttl
	}
}

func New(name string, interval time.Duration, job Job, lg *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		name:     name,
		interval: interval,
		job:      job,
		lockTTL:  interval,
		lg:       lg.With(zap.String("job", name)),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run ticks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.lg.Error("Sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce executes the job unless a run is already in progress. ran reports
// whether the job was executed.
func (r *Runner) RunOnce(ctx context.Context) (ran bool, err error) {
	if !r.mu.TryLock() {
		r.lg.Debug("Previous sweep still running, skipping")
		return false, nil
	}
	defer r.mu.Unlock()

	if r.locker != nil {
		release, ok, err := r.locker.TryLock(ctx, r.name, r.lockTTL)
		if err != nil {
			return false, err
		}
		if !ok {
			r.lg.Debug("Sweep lease held elsewhere, skipping")
			return false, nil
		}
		defer release()
	}

	// Bound the run so a stuck pass cannot outlive its lease.
	runCtx, cancel := context.WithTimeout(ctx, r.lockTTL)
	defer cancel()

	start := time.Now()
	if err := r.job(runCtx); err != nil {
		return true, err
	}
	r.lg.Debug("Sweep done", zap.Duration("took", time.Since(start)))
	return true, nil
}
