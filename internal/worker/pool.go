package worker

import (
	"context"
	"sync"
	"time"

	"docflow/internal/config"

	"github.com/rs/zerolog/log"
)

// WorkerStats is one worker's lifetime counters
type WorkerStats struct {
	WorkerID      int   `json:"worker_id"`
	JobsProcessed int64 `json:"jobs_processed"`
	JobsFailed    int64 `json:"jobs_failed"`
}

// Pool runs a fixed set of workers against the shared queue manager.
type Pool struct {
	workers  []*Worker
	shutdown chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func NewPool(cfg config.PipelineConfig, deps Deps) *Pool {
	count := cfg.WorkerCount
	if count <= 0 {
		count = 3
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	idleBackoff := time.Duration(cfg.IdleBackoffMS) * time.Millisecond
	if idleBackoff <= 0 {
		idleBackoff = 500 * time.Millisecond
	}

	workers := make([]*Worker, count)
	for i := range workers {
		workers[i] = newWorker(i+1, deps, batchSize, idleBackoff)
	}

	return &Pool{
		workers:  workers,
		shutdown: make(chan struct{}),
	}
}

// Start launches every worker goroutine.
func (p *Pool) Start(ctx context.Context) {
	log.Info().Int("workers", len(p.workers)).Msg("Starting worker pool")

	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.run(ctx, p.shutdown)
		}(w)
	}
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.once.Do(func() {
		close(p.shutdown)
	})
	p.wg.Wait()
	log.Info().Msg("Worker pool stopped")
}

// Stats returns the per-worker counters.
func (p *Pool) Stats() []WorkerStats {
	out := make([]WorkerStats, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, WorkerStats{
			WorkerID:      w.id,
			JobsProcessed: w.jobsProcessed.Load(),
			JobsFailed:    w.jobsFailed.Load(),
		})
	}
	return out
}
