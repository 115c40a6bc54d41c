package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/lisperz/frazo/internal/config"
)

// Scheduler fans queued job ids out to a fixed pool of orchestration workers
// over a buffered channel.
type Scheduler struct {
	runner *Runner
	queue  chan uuid.UUID
	count  int
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler sized by the worker config.
func NewScheduler(runner *Runner, cfg config.WorkerConfig) *Scheduler {
	return &Scheduler{
		runner: runner,
		queue:  make(chan uuid.UUID, cfg.QueueSize),
		count:  cfg.Count,
	}
}

// Enqueue hands a job to the worker pool without blocking. Returns false when
// the queue is full; the job stays queued and the reconciler re-enqueues it
// on a later sweep.
func (s *Scheduler) Enqueue(jobID uuid.UUID) bool {
	select {
	case s.queue <- jobID:
		return true
	default:
		slog.Warn("worker queue full, leaving job queued", "job_id", jobID)
		return false
	}
}

// Start launches the worker goroutines. Workers exit when ctx is canceled or
// the queue is closed by Shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.count; i++ {
		s.wg.Add(1)
		go func(worker int) {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case jobID, ok := <-s.queue:
					if !ok {
						return
					}
					slog.Debug("worker picked up job", "worker", worker, "job_id", jobID)
					s.runner.Run(ctx, jobID)
				}
			}
		}(i)
	}
	slog.Info("orchestration workers started", "count", s.count)
}

// Shutdown stops accepting work and waits for workers to drain. In-flight
// vendor tasks are not abandoned; the reconciler resumes them after restart.
func (s *Scheduler) Shutdown() {
	close(s.queue)
	s.wg.Wait()
}

var _ Enqueuer = (*Scheduler)(nil)
