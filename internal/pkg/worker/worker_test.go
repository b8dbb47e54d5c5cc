package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool(t *testing.T) {
	t.Run("Runs queued tasks", func(t *testing.T) {
		p := NewWorkerPool(2, 8, nil)
		p.Start(context.Background())
		defer p.Stop()

		var n int32
		for i := 0; i < 5; i++ {
			assert.True(t, p.AddTask(Task{Name: "count", Run: func(context.Context) error {
				atomic.AddInt32(&n, 1)
				return nil
			}}))
		}
		assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) == 5 }, time.Second, 5*time.Millisecond)
	})

	t.Run("Retries failing tasks up to MaxRetry", func(t *testing.T) {
		p := NewWorkerPool(1, 4, nil)
		p.RetryDelay = time.Millisecond
		p.MaxRetry = 2
		p.Start(context.Background())
		defer p.Stop()

		var attempts int32
		p.AddTask(Task{Name: "flaky", Run: func(context.Context) error {
			atomic.AddInt32(&attempts, 1)
			return errors.New("boom")
		}})

		assert.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) == 3 }, time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	})

	t.Run("Full queue drops the task", func(t *testing.T) {
		p := NewWorkerPool(1, 2, nil)
		// 未启动，队列不会被消费
		assert.True(t, p.AddTask(Task{Name: "a", Run: func(context.Context) error { return nil }}))
		assert.True(t, p.AddTask(Task{Name: "b", Run: func(context.Context) error { return nil }}))
		assert.False(t, p.AddTask(Task{Name: "c", Run: func(context.Context) error { return nil }}))
	})

	t.Run("Stop is idempotent", func(t *testing.T) {
		p := NewWorkerPool(1, 2, nil)
		p.Start(context.Background())
		p.Stop()
		p.Stop()
	})
}
