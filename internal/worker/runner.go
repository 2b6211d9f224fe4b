// Package worker runs the periodic background jobs: reminder dispatch and the
// no-show sweep. Each job has its own ticker, so a slow or failing job never
// delays another.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

const DefaultTimeout = 20 * time.Second

type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run. Defaults to DefaultTimeout.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type Runner struct {
	jobs    []Job
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewRunner(m *metrics.Metrics, logger *zap.Logger, jobs ...Job) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{jobs: jobs, metrics: m, logger: logger}
}

// Run starts every job, runs each once immediately and then on its interval,
// and blocks until ctx is cancelled and all in-flight runs have returned.
func (r *Runner) Run(ctx context.Context) error {
	for _, j := range r.jobs {
		if j.Run == nil || j.Interval <= 0 {
			return fmt.Errorf("worker: job %q needs a run func and a positive interval", j.Name)
		}
	}

	var wg sync.WaitGroup
	for _, j := range r.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			r.loop(ctx, j)
		}(j)
	}
	wg.Wait()
	return nil
}

func (r *Runner) loop(ctx context.Context, j Job) {
	r.logger.Info("job started", zap.String("job", j.Name), zap.Duration("interval", j.Interval))
	_ = r.RunOnce(ctx, j)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job stopped", zap.String("job", j.Name))
			return
		case <-ticker.C:
			_ = r.RunOnce(ctx, j)
		}
	}
}

// RunOnce executes a single run under the job timeout. A panic is recovered
// and reported as an error.
func (r *Runner) RunOnce(ctx context.Context, j Job) (err error) {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker: job %s panicked: %v", j.Name, p)
		}
		r.metrics.ObserveJob(j.Name, err)
		switch {
		case err == nil:
			r.logger.Debug("job run complete", zap.String("job", j.Name), zap.Duration("took", time.Since(start)))
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			// shutting down
		default:
			r.logger.Error("job run failed", zap.String("job", j.Name), zap.Duration("took", time.Since(start)), zap.Error(err))
		}
	}()

	return j.Run(runCtx)
}
