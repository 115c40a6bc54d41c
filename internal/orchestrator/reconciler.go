package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lisperz/frazo/internal/store"
	"github.com/lisperz/frazo/internal/vendors"
	"github.com/lisperz/frazo/pkg/models"
)

// Enqueuer hands a job back to the worker pool. Satisfied by Scheduler.
type Enqueuer interface {
	Enqueue(jobID uuid.UUID) bool
}

// Reconciler periodically sweeps non-terminal jobs and advances each one a
// single step toward its true state. It is the safety net for orphaned work:
// jobs whose orchestration attempt died with the process, jobs parked by a
// transient relocation failure, and jobs that never left the queue. The
// vendor is the source of truth; a job is never failed on wall-clock age
// while the vendor still confirms it is running.
type Reconciler struct {
	runner   *Runner
	enqueuer Enqueuer
	interval time.Duration
	wg       sync.WaitGroup
}

// NewReconciler creates a Reconciler. enqueuer may be nil, in which case
// orphaned queued jobs are left for the next process restart.
func NewReconciler(runner *Runner, enqueuer Enqueuer, interval time.Duration) *Reconciler {
	return &Reconciler{runner: runner, enqueuer: enqueuer, interval: interval}
}

// Start launches the sweep loop. It stops when ctx is canceled.
func (rc *Reconciler) Start(ctx context.Context) {
	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		ticker := time.NewTicker(rc.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rc.Sweep(ctx)
			}
		}
	}()
}

// Wait blocks until the sweep loop has exited.
func (rc *Reconciler) Wait() {
	rc.wg.Wait()
}

// Sweep reconciles every non-terminal job once.
func (rc *Reconciler) Sweep(ctx context.Context) {
	statuses := append(models.InFlightStatuses(),
		models.JobStatusQueued, models.JobStatusUploading, models.JobStatusStage1Uploading)
	jobs, err := rc.runner.store.ListJobsInStatus(ctx, statuses)
	if err != nil {
		slog.Error("reconciler list failed", "error", err)
		return
	}

	for _, job := range jobs {
		if err := rc.reconcile(ctx, job); err != nil && !errors.Is(err, errHalted) {
			slog.Warn("reconcile step failed", "job_id", job.ID, "status", job.Status, "error", err)
		}
	}
}

func (rc *Reconciler) reconcile(ctx context.Context, job *models.Job) error {
	r := rc.runner
	switch job.Status {
	case models.JobStatusQueued:
		// A queued job older than one sweep interval was dropped on the floor
		// (full queue, process restart). Hand it back to the workers.
		if rc.enqueuer != nil && time.Since(job.UpdatedAt) > rc.interval {
			rc.enqueuer.Enqueue(job.ID)
		}
		return nil

	case models.JobStatusUploading:
		// No vendor task exists yet and the local input file died with the
		// orchestration attempt; there is nothing to resume.
		if time.Since(job.UpdatedAt) > r.cfg.JobTimeout {
			return r.fail(ctx, job, job.Status, "orchestration stalled before vendor submission")
		}
		return nil

	case models.JobStatusStage1Uploading:
		task := job.LastVendorTask()
		if task == nil {
			return r.fail(ctx, job, job.Status, "no vendor task recorded")
		}
		st, err := r.clientFor(task.Stage).Poll(ctx, task.Handle)
		if err != nil {
			return rc.deferOrFail(ctx, job, err)
		}
		if st.State != vendors.StateCompleted {
			// Inconsistent with the recorded transition; leave it for the
			// next sweep rather than guess.
			return nil
		}
		return r.advanceAfterLipsync(ctx, job, st.ResultURL)

	case models.JobStatusProcessing, models.JobStatusLipsyncProcessing, models.JobStatusInpaintProcessing:
		return rc.step(ctx, job)
	}
	return nil
}

// step applies one poll observation to an in-flight job, using the same
// completion and failure rules as a live orchestration attempt.
func (rc *Reconciler) step(ctx context.Context, job *models.Job) error {
	r := rc.runner
	task := job.LastVendorTask()
	if task == nil {
		return r.fail(ctx, job, job.Status, "no vendor task recorded")
	}

	st, err := r.clientFor(task.Stage).Poll(ctx, task.Handle)
	if err != nil {
		return rc.deferOrFail(ctx, job, err)
	}

	switch st.State {
	case vendors.StateCompleted:
		if job.Status == models.JobStatusLipsyncProcessing {
			ok, err := r.transition(ctx, job, job.Status, models.JobStatusStage1Uploading,
				store.WithProgress(50, "relocating lip-synced video"))
			if err != nil || !ok {
				return err
			}
			return r.advanceAfterLipsync(ctx, job, st.ResultURL)
		}
		return r.finalize(ctx, job, job.Status, st)

	case vendors.StateFailed:
		if st.ErrorCode.Transient() && time.Since(job.UpdatedAt) <= r.cfg.JobTimeout {
			return nil
		}
		return r.fail(ctx, job, job.Status, vendorFailure(task.Vendor, st))

	default:
		// A confirmed-running task refreshes the job row, so responsive
		// vendors keep long tasks alive indefinitely.
		r.applyProgress(ctx, job, scaleFor(job).apply(st.Progress), fmt.Sprintf("%s in progress", task.Stage))
		return nil
	}
}

// deferOrFail decides what a poll transport error means for the job: wait for
// the next sweep while the outage is fresh, fail once the vendor has been
// unreachable past the job timeout.
func (rc *Reconciler) deferOrFail(ctx context.Context, job *models.Job, pollErr error) error {
	r := rc.runner
	if vendors.CodeOf(pollErr).Transient() {
		if time.Since(job.UpdatedAt) > r.cfg.JobTimeout {
			return r.fail(ctx, job, job.Status,
				fmt.Sprintf("vendor unreachable past deadline: %v", pollErr))
		}
		return nil
	}
	return r.fail(ctx, job, job.Status, fmt.Sprintf("vendor poll failed: %v", pollErr))
}
