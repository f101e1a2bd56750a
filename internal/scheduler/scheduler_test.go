package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_RunsUntilStopped(t *testing.T) {
	var runs, failures atomic.Int32

	s := New()
	s.Every("counter", 5*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Every("failing", 5*time.Millisecond, func(ctx context.Context) error {
		failures.Add(1)
		return errors.New("boom")
	})

	s.Start(context.Background())
	s.Start(context.Background())

	assert.Eventually(t, func() bool {
		return runs.Load() >= 3 && failures.Load() >= 3
	}, time.Second, 5*time.Millisecond, "failing tasks keep being scheduled")

	s.Stop()
	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())

	s.Stop()
}

func TestScheduler_StopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan struct{}, 1)

	s := New()
	s.Every("ctx", time.Millisecond, func(ctx context.Context) error {
		select {
		case seen <- struct{}{}:
		default:
		}
		return nil
	})
	s.Start(ctx)

	<-seen
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
