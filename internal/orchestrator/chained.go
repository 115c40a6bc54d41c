package orchestrator

import (
	"context"
	"fmt"

	"github.com/lisperz/frazo/internal/store"
	"github.com/lisperz/frazo/internal/vendors"
	"github.com/lisperz/frazo/pkg/models"
)

// runChained handles any job with a lip-sync stage. The lip-synced video is
// always relocated into our own storage first; text removal, when configured,
// then runs on that relocated artifact, never on the vendor's expiring URL.
func (r *Runner) runChained(ctx context.Context, job *models.Job) error {
	ok, err := r.transition(ctx, job, models.JobStatusQueued, models.JobStatusUploading,
		store.WithProgress(2, "uploading input"))
	if err != nil {
		return err
	}
	if !ok {
		return errHalted
	}

	inputURL, err := r.uploader.Upload(ctx, job.InputPath, fmt.Sprintf("jobs/%s/input.mp4", job.ID))
	if err != nil {
		return r.fail(ctx, job, models.JobStatusUploading, fmt.Sprintf("input upload failed: %v", err))
	}

	handle, err := r.submit(ctx, r.lipsync, inputURL, lipsyncConfig(job.Descriptor))
	if err != nil {
		return r.fail(ctx, job, models.JobStatusUploading,
			fmt.Sprintf("%s submission failed: %v", r.lipsync.Name(), err))
	}
	r.recordTask(ctx, job, models.StageLipsync, r.lipsync.Name(), handle)

	ok, err = r.transition(ctx, job, models.JobStatusUploading, models.JobStatusLipsyncProcessing,
		store.WithProgress(5, "lip sync started"))
	if err != nil {
		return err
	}
	if !ok {
		return errHalted
	}

	stage1 := progressScale{0, 100}
	if job.Descriptor.NeedsInpaint() {
		stage1 = progressScale{0, 50}
	}
	st, err := r.pollUntilTerminal(ctx, job, r.lipsync, handle, models.JobStatusLipsyncProcessing, stage1)
	if err != nil {
		return err
	}
	if st.State == vendors.StateFailed {
		return r.fail(ctx, job, models.JobStatusLipsyncProcessing, vendorFailure(r.lipsync.Name(), st))
	}

	ok, err = r.transition(ctx, job, models.JobStatusLipsyncProcessing, models.JobStatusStage1Uploading,
		store.WithProgress(50, "relocating lip-synced video"))
	if err != nil {
		return err
	}
	if !ok {
		return errHalted
	}

	if err := r.advanceAfterLipsync(ctx, job, st.ResultURL); err != nil {
		return err
	}
	if !job.Descriptor.NeedsInpaint() {
		// advanceAfterLipsync completed the job.
		return nil
	}

	current, err := r.store.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if current.Status != models.JobStatusInpaintProcessing {
		return errHalted
	}
	task := current.LastVendorTask()
	if task == nil || task.Stage != models.StageInpaint {
		return r.fail(ctx, job, models.JobStatusInpaintProcessing, "text removal task record missing")
	}

	st, err = r.pollUntilTerminal(ctx, job, r.inpaint, task.Handle, models.JobStatusInpaintProcessing, progressScale{50, 100})
	if err != nil {
		return err
	}
	if st.State == vendors.StateFailed {
		// The relocated lip-sync artifact survives under the job's key for
		// support diagnostics, but the job as requested did not succeed.
		return r.fail(ctx, job, models.JobStatusInpaintProcessing,
			fmt.Sprintf("text removal failed after successful lip sync: %s", vendorFailure(r.inpaint.Name(), st)))
	}
	return r.finalize(ctx, job, models.JobStatusInpaintProcessing, st)
}

// advanceAfterLipsync takes a job in stage1_uploading forward: relocate the
// lip-synced result, then either finish the job (no text removal configured)
// or submit the second stage. The reconciler calls this too when it finds a
// job parked in stage1_uploading after a crash.
func (r *Runner) advanceAfterLipsync(ctx context.Context, job *models.Job, resultURL string) error {
	if resultURL == "" {
		return r.fail(ctx, job, models.JobStatusStage1Uploading,
			"lip-sync vendor reported success without a result URL")
	}

	stageURL, err := r.relocate(ctx, job.ID, resultURL, fmt.Sprintf("jobs/%s/lipsync.mp4", job.ID))
	if err != nil {
		return r.retryOrFail(ctx, job, models.JobStatusStage1Uploading,
			fmt.Sprintf("lip-sync result relocation failed: %v", err))
	}

	if !job.Descriptor.NeedsInpaint() {
		return r.complete(ctx, job, models.JobStatusStage1Uploading, stageURL)
	}

	handle, err := r.submit(ctx, r.inpaint, stageURL, inpaintConfig(job.Descriptor))
	if err != nil {
		return r.fail(ctx, job, models.JobStatusStage1Uploading,
			fmt.Sprintf("text removal submission failed after successful lip sync: %v", err))
	}
	r.recordTask(ctx, job, models.StageInpaint, r.inpaint.Name(), handle)

	ok, err := r.transition(ctx, job, models.JobStatusStage1Uploading, models.JobStatusInpaintProcessing,
		store.WithProgress(55, "text removal started"))
	if err != nil {
		return err
	}
	if !ok {
		return errHalted
	}
	return nil
}
