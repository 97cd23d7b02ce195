package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	mu   sync.Mutex
	runs []Job
	done chan struct{}
}

func (e *recordingExecutor) StartRun(_ context.Context, source, runID string) (string, error) {
	e.mu.Lock()
	e.runs = append(e.runs, Job{RunID: runID, Source: source})
	e.mu.Unlock()
	select {
	case e.done <- struct{}{}:
	default:
	}
	return runID, nil
}

func TestWorkerPool(t *testing.T) {
	t.Run("executes enqueued runs", func(t *testing.T) {
		executor := &recordingExecutor{done: make(chan struct{}, 4)}
		pool := NewWorkerPool(2, 4, executor)
		pool.Start(context.Background())
		defer pool.Stop()

		runID, err := pool.Enqueue("manual")
		require.NoError(t, err)
		require.NotEmpty(t, runID)

		select {
		case <-executor.done:
		case <-time.After(2 * time.Second):
			t.Fatal("run was not executed")
		}

		executor.mu.Lock()
		defer executor.mu.Unlock()
		require.Len(t, executor.runs, 1)
		assert.Equal(t, runID, executor.runs[0].RunID)
		assert.Equal(t, "manual", executor.runs[0].Source)
	})

	t.Run("rejects when full", func(t *testing.T) {
		executor := &recordingExecutor{done: make(chan struct{}, 1)}
		pool := NewWorkerPool(1, 1, executor)
		// Not started: jobs stay queued.

		_, err := pool.Enqueue("manual")
		require.NoError(t, err)
		_, err = pool.Enqueue("manual")
		assert.ErrorIs(t, err, ErrQueueFull)
	})

	t.Run("health reports workers and queue depth", func(t *testing.T) {
		executor := &recordingExecutor{done: make(chan struct{}, 1)}
		pool := NewWorkerPool(3, 8, executor)
		health := pool.Health()
		assert.Equal(t, 3, health.TotalWorkers)
		assert.Equal(t, 0, health.QueueDepth)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		executor := &recordingExecutor{done: make(chan struct{}, 1)}
		pool := NewWorkerPool(1, 1, executor)
		pool.Start(context.Background())
		pool.Stop()
		pool.Stop()
	})
}
