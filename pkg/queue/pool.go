// Package queue runs pipeline work items on a bounded worker pool. Callers
// enqueue a run and get its identifier back immediately; workers execute runs
// end to end.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned when the job buffer has no room.
var ErrQueueFull = errors.New("run queue is full")

// RunExecutor executes one pipeline run to completion.
type RunExecutor interface {
	StartRun(ctx context.Context, source, runID string) (string, error)
}

// Job is one queued pipeline run.
type Job struct {
	RunID  string
	Source string
}

// WorkerPool manages the run workers.
type WorkerPool struct {
	executor    RunExecutor
	workerCount int
	jobs        chan Job
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	mu      sync.RWMutex
	started bool
	active  map[string]time.Time
	done    int
}

// NewWorkerPool creates a pool with the given worker count and queue depth.
func NewWorkerPool(workerCount, queueSize int, executor RunExecutor) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &WorkerPool{
		executor:    executor,
		workerCount: workerCount,
		jobs:        make(chan Job, queueSize),
		stopCh:      make(chan struct{}),
		active:      make(map[string]time.Time),
	}
}

// Start spawns the worker goroutines. Safe to call multiple times; subsequent
// calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true
	p.mu.Unlock()

	slog.Info("Starting worker pool", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go p.run(ctx, workerID)
	}
}

// Stop signals workers to stop and waits for in-flight runs to finish.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("Worker pool stopped")
}

// Enqueue submits a new run and returns its id without waiting for
// execution.
func (p *WorkerPool) Enqueue(source string) (string, error) {
	job := Job{RunID: uuid.New().String(), Source: source}
	select {
	case p.jobs <- job:
		slog.Info("Run enqueued", "run_id", job.RunID, "source", source)
		return job.RunID, nil
	default:
		return "", ErrQueueFull
	}
}

func (p *WorkerPool) run(ctx context.Context, workerID string) {
	defer p.wg.Done()
	log := slog.With("worker_id", workerID)
	log.Info("Worker started")

	for {
		select {
		case <-p.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		case job := <-p.jobs:
			p.process(ctx, log, job)
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, log *slog.Logger, job Job) {
	p.mu.Lock()
	p.active[job.RunID] = time.Now()
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, job.RunID)
		p.done++
		p.mu.Unlock()
	}()

	log.Info("Processing run", "run_id", job.RunID, "source", job.Source)
	if _, err := p.executor.StartRun(ctx, job.Source, job.RunID); err != nil {
		log.Error("Run failed", "run_id", job.RunID, "error", err)
		return
	}
	log.Info("Run completed", "run_id", job.RunID)
}

// PoolHealth is a point-in-time snapshot of the pool.
type PoolHealth struct {
	TotalWorkers  int      `json:"total_workers"`
	ActiveRuns    []string `json:"active_runs"`
	QueueDepth    int      `json:"queue_depth"`
	RunsProcessed int      `json:"runs_processed"`
}

// Health returns the current pool health.
func (p *WorkerPool) Health() PoolHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	active := make([]string, 0, len(p.active))
	for id := range p.active {
		active = append(active, id)
	}
	return PoolHealth{
		TotalWorkers:  p.workerCount,
		ActiveRuns:    active,
		QueueDepth:    len(p.jobs),
		RunsProcessed: p.done,
	}
}
