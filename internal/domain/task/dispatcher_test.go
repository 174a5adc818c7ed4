package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	platformtesting "zalo-connector-go/internal/platform/testing"
)

func TestDispatcher_RunsSubmittedJobs(t *testing.T) {
	d := NewDispatcher(2, 8, 0, platformtesting.SetupTestLogger(t))

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		ok := d.Submit(Job{
			Name: "count",
			Run: func(ctx context.Context) error {
				ran.Add(1)
				return nil
			},
		})
		if !ok {
			t.Fatalf("submit %d rejected", i)
		}
	}

	d.Stop()
	if ran.Load() != 5 {
		t.Errorf("ran %d jobs, expected 5", ran.Load())
	}
}

func TestDispatcher_RetriesFailedJobs(t *testing.T) {
	d := NewDispatcher(1, 4, 2, platformtesting.SetupTestLogger(t))

	var attempts atomic.Int32
	d.Submit(Job{
		Name: "flaky",
		Run: func(ctx context.Context) error {
			if attempts.Add(1) < 2 {
				return errors.New("transient")
			}
			return nil
		},
	})

	d.Stop()
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, expected retry then success", attempts.Load())
	}
}

func TestDispatcher_GivesUpAfterMaxRetries(t *testing.T) {
	d := NewDispatcher(1, 4, 1, platformtesting.SetupTestLogger(t))

	var attempts atomic.Int32
	d.Submit(Job{
		Name: "doomed",
		Run: func(ctx context.Context) error {
			attempts.Add(1)
			return errors.New("permanent")
		},
	})

	d.Stop()
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, expected initial try plus one retry", attempts.Load())
	}
}

func TestDispatcher_RecoversFromPanics(t *testing.T) {
	d := NewDispatcher(1, 4, 0, platformtesting.SetupTestLogger(t))

	var ran atomic.Bool
	d.Submit(Job{
		Name: "panics",
		Run: func(ctx context.Context) error {
			panic("boom")
		},
	})
	d.Submit(Job{
		Name: "survivor",
		Run: func(ctx context.Context) error {
			ran.Store(true)
			return nil
		},
	})

	d.Stop()
	if !ran.Load() {
		t.Error("job after a panicking one never ran, worker died")
	}
}

func TestDispatcher_StopDrainsQueuedWork(t *testing.T) {
	d := NewDispatcher(1, 8, 0, platformtesting.SetupTestLogger(t))

	var done atomic.Int32
	for i := 0; i < 4; i++ {
		d.Submit(Job{
			Name: "slow",
			Run: func(ctx context.Context) error {
				time.Sleep(10 * time.Millisecond)
				done.Add(1)
				return nil
			},
		})
	}

	d.Stop()
	if done.Load() != 4 {
		t.Errorf("done = %d, Stop must wait for queued jobs", done.Load())
	}

	if d.Submit(Job{Name: "late", Run: func(ctx context.Context) error { return nil }}) {
		t.Error("submit after Stop must be rejected")
	}
}
