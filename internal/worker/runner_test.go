package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

func TestRunOnce_RecoversPanic(t *testing.T) {
	r := NewRunner(nil, nil)
	err := r.RunOnce(context.Background(), Job{Name: "boom", Run: func(context.Context) error {
		panic("nil map")
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked: nil map")
}

func TestRunOnce_AppliesTimeout(t *testing.T) {
	r := NewRunner(nil, nil)
	err := r.RunOnce(context.Background(), Job{Name: "slow", Timeout: 20 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunOnce_RecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRunner(metrics.New(reg), nil)

	_ = r.RunOnce(context.Background(), Job{Name: "sweep", Run: func(context.Context) error { return nil }})
	_ = r.RunOnce(context.Background(), Job{Name: "sweep", Run: func(context.Context) error { return errors.New("db down") }})

	n, err := testutil.GatherAndCount(reg, "clinic_worker_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one ok and one error series")
}

func TestRun_FailingJobDoesNotStopOthers(t *testing.T) {
	var healthy, failing atomic.Int32
	r := NewRunner(nil, nil,
		Job{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			failing.Add(1)
			panic("always")
		}},
		Job{Name: "healthy", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			healthy.Add(1)
			return nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return healthy.Load() >= 3 && failing.Load() >= 3 },
		2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRun_RejectsInvalidJob(t *testing.T) {
	r := NewRunner(nil, nil, Job{Name: "no-interval", Run: func(context.Context) error { return nil }})
	assert.Error(t, r.Run(context.Background()))
}
