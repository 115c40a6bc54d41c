// Package orchestrator drives jobs through their lifecycle: upload the input
// to durable storage, submit it to the vendor, poll until a terminal outcome,
// relocate the result, settle credits, and record the final status. Every
// status write goes through the store's compare-and-swap transition, so a
// live orchestration attempt, the reconciler, and a user cancel can race
// without clobbering each other.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lisperz/frazo/internal/billing"
	"github.com/lisperz/frazo/internal/blob"
	"github.com/lisperz/frazo/internal/cache"
	"github.com/lisperz/frazo/internal/config"
	"github.com/lisperz/frazo/internal/notify"
	"github.com/lisperz/frazo/internal/store"
	"github.com/lisperz/frazo/internal/vendors"
	"github.com/lisperz/frazo/pkg/models"
)

// errHalted means another writer (a cancel, the reconciler, or a competing
// attempt) took the job over. The current attempt must stop writing.
var errHalted = errors.New("job taken over by another writer")

const statusCacheTTL = 30 * time.Minute

// Runner executes one job end to end.
type Runner struct {
	store    store.Store
	cache    cache.Cache
	lipsync  vendors.TaskClient
	inpaint  vendors.TaskClient
	uploader blob.Uploader
	fetcher  blob.Fetcher
	notifier notify.Notifier
	settler  billing.Settler
	cfg      config.WorkerConfig
}

// NewRunner creates a Runner.
func NewRunner(
	s store.Store,
	c cache.Cache,
	lipsync, inpaint vendors.TaskClient,
	uploader blob.Uploader,
	fetcher blob.Fetcher,
	notifier notify.Notifier,
	settler billing.Settler,
	cfg config.WorkerConfig,
) *Runner {
	return &Runner{
		store:    s,
		cache:    c,
		lipsync:  lipsync,
		inpaint:  inpaint,
		uploader: uploader,
		fetcher:  fetcher,
		notifier: notifier,
		settler:  settler,
		cfg:      cfg,
	}
}

// Run drives jobID from queued to a terminal status. It never returns an
// error to the worker loop; failures are recorded on the job itself. A panic
// in orchestration marks the job failed instead of killing the worker.
func (r *Runner) Run(ctx context.Context, jobID uuid.UUID) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("orchestration panicked", "job_id", jobID, "panic", rec)
			r.failFromAnyStatus(ctx, jobID, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Error("loading job for orchestration", "job_id", jobID, "error", err)
		return
	}
	if job.Status != models.JobStatusQueued {
		slog.Warn("job is not queued, skipping", "job_id", jobID, "status", job.Status)
		return
	}

	if job.Descriptor.LipSync != nil {
		err = r.runChained(ctx, job)
	} else {
		err = r.runSingle(ctx, job)
	}
	if err != nil && !errors.Is(err, errHalted) {
		slog.Error("orchestration attempt ended early", "job_id", jobID, "error", err)
	}
}

// runSingle handles a text-removal-only job: one vendor stage.
func (r *Runner) runSingle(ctx context.Context, job *models.Job) error {
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

	handle, err := r.submit(ctx, r.inpaint, inputURL, inpaintConfig(job.Descriptor))
	if err != nil {
		return r.fail(ctx, job, models.JobStatusUploading,
			fmt.Sprintf("%s submission failed: %v", r.inpaint.Name(), err))
	}
	r.recordTask(ctx, job, models.StageInpaint, r.inpaint.Name(), handle)

	ok, err = r.transition(ctx, job, models.JobStatusUploading, models.JobStatusProcessing,
		store.WithProgress(5, "text removal started"))
	if err != nil {
		return err
	}
	if !ok {
		return errHalted
	}

	st, err := r.pollUntilTerminal(ctx, job, r.inpaint, handle, models.JobStatusProcessing, progressScale{0, 100})
	if err != nil {
		return err
	}
	if st.State == vendors.StateFailed {
		return r.fail(ctx, job, models.JobStatusProcessing, vendorFailure(r.inpaint.Name(), st))
	}
	return r.finalize(ctx, job, models.JobStatusProcessing, st)
}

// pollUntilTerminal polls one vendor task until it completes or fails for
// real. Transient observations (transport errors, vendor-reported hiccups)
// keep the loop alive; a vendor unreachable past the job timeout is returned
// as a failed status. The loop also stops, with errHalted, as soon as the
// job's status no longer matches the one this attempt owns.
func (r *Runner) pollUntilTerminal(
	ctx context.Context,
	job *models.Job,
	client vendors.TaskClient,
	handle, owned string,
	scale progressScale,
) (vendors.Status, error) {
	start := time.Now()
	lastContact := start
	var transientSince time.Time

	for {
		select {
		case <-ctx.Done():
			return vendors.Status{}, ctx.Err()
		case <-time.After(pollDelay(r.cfg.PollInterval, r.cfg.PollMaxInterval, time.Since(start))):
		}

		current, err := r.store.GetJob(ctx, job.ID)
		if err != nil {
			return vendors.Status{}, err
		}
		if current.Status != owned {
			return vendors.Status{}, errHalted
		}

		st, err := client.Poll(ctx, handle)
		if err != nil {
			if vendors.CodeOf(err).Transient() {
				if time.Since(lastContact) > r.cfg.JobTimeout {
					return vendors.Status{
						State:        vendors.StateFailed,
						ErrorCode:    vendors.CodeUnreachable,
						ErrorMessage: fmt.Sprintf("no successful poll in %s: %v", r.cfg.JobTimeout, err),
					}, nil
				}
				slog.Warn("vendor poll failed, will retry",
					"job_id", job.ID, "vendor", client.Name(), "error", err)
				r.applyProgress(ctx, current, current.ProgressPercent,
					fmt.Sprintf("%s temporarily unavailable, still processing", client.Name()))
				continue
			}
			return vendors.Status{}, r.fail(ctx, job, owned, fmt.Sprintf("vendor poll failed: %v", err))
		}
		lastContact = time.Now()

		switch st.State {
		case vendors.StateCompleted:
			return st, nil
		case vendors.StateFailed:
			if !st.ErrorCode.Transient() {
				return st, nil
			}
			// The vendor is reporting an infrastructure hiccup through its
			// failure channel; the task may still finish.
			if transientSince.IsZero() {
				transientSince = time.Now()
			}
			if time.Since(transientSince) > r.cfg.JobTimeout {
				return st, nil
			}
			slog.Warn("vendor reported transient failure, continuing to poll",
				"job_id", job.ID, "vendor", client.Name(), "code", st.ErrorCode)
			r.applyProgress(ctx, current, current.ProgressPercent,
				fmt.Sprintf("%s temporarily unavailable, still processing", client.Name()))
		default:
			transientSince = time.Time{}
			r.applyProgress(ctx, current, scale.apply(st.Progress), fmt.Sprintf("%s in progress", client.Name()))
		}
	}
}

// finalize relocates a completed task's result into our own storage, settles
// credits, and completes the job. A relocation failure consumes one retry
// from the job's budget instead of failing it outright; the vendor-side
// result still exists, so another attempt can succeed.
func (r *Runner) finalize(ctx context.Context, job *models.Job, from string, st vendors.Status) error {
	if st.ResultURL == "" {
		return r.fail(ctx, job, from, "vendor reported success without a result URL")
	}

	outputURL, err := r.relocate(ctx, job.ID, st.ResultURL, fmt.Sprintf("jobs/%s/output.mp4", job.ID))
	if err != nil {
		return r.retryOrFail(ctx, job, from, fmt.Sprintf("result relocation failed: %v", err))
	}
	return r.complete(ctx, job, from, outputURL)
}

// retryOrFail re-queues the job for another orchestration attempt while its
// retry budget lasts, or fails it for good. The pass through failed records
// the reason; the failed to queued transition clears it and bumps
// retry_count, so the budget is tracked on the job row and survives process
// restarts. The re-queued job is picked up by the reconciler's next sweep.
func (r *Runner) retryOrFail(ctx context.Context, job *models.Job, from, message string) error {
	current, err := r.store.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if current.Status != from {
		return errHalted
	}
	if current.RetryCount >= current.MaxRetries {
		return r.fail(ctx, job, from,
			fmt.Sprintf("%s (gave up after %d attempts)", message, current.RetryCount+1))
	}

	ok, err := r.transition(ctx, job, from, models.JobStatusFailed, store.WithErrorMessage(message))
	if err != nil {
		return err
	}
	if !ok {
		return errHalted
	}
	ok, err = r.transition(ctx, job, models.JobStatusFailed, models.JobStatusQueued)
	if err != nil {
		return err
	}
	if !ok {
		return errHalted
	}

	slog.Warn("job re-queued for another attempt",
		"job_id", job.ID, "attempt", current.RetryCount+1, "max_retries", current.MaxRetries, "reason", message)
	r.notifier.Notify(job.UserID, notify.Event{
		JobID:    job.ID,
		Status:   models.JobStatusQueued,
		Progress: current.ProgressPercent,
		Message:  "retrying after a recoverable error",
	})
	return nil
}

// complete settles credits and moves the job to completed. Settlement runs
// first; its at-most-once guard makes a duplicate completion observation
// harmless.
func (r *Runner) complete(ctx context.Context, job *models.Job, from, outputURL string) error {
	if _, err := r.settler.Charge(ctx, job); err != nil && !errors.Is(err, billing.ErrAlreadySettled) {
		return fmt.Errorf("settle credits: %w", err)
	}

	ok, err := r.transition(ctx, job, from, models.JobStatusCompleted, store.WithOutputURL(outputURL))
	if err != nil {
		return err
	}
	if !ok {
		slog.Warn("completion refused, job changed concurrently", "job_id", job.ID)
		return errHalted
	}

	slog.Info("job completed", "job_id", job.ID, "output_url", outputURL)
	r.notifier.Notify(job.UserID, notify.Event{
		JobID:     job.ID,
		Status:    models.JobStatusCompleted,
		Progress:  100,
		OutputURL: outputURL,
	})
	return nil
}

// fail moves the job to failed and records why. A refused transition means
// another writer resolved the job first.
func (r *Runner) fail(ctx context.Context, job *models.Job, from, message string) error {
	ok, err := r.transition(ctx, job, from, models.JobStatusFailed, store.WithErrorMessage(message))
	if err != nil {
		return err
	}
	if !ok {
		return errHalted
	}

	slog.Error("job failed", "job_id", job.ID, "reason", message)
	r.notifier.Notify(job.UserID, notify.Event{
		JobID:  job.ID,
		Status: models.JobStatusFailed,
		Error:  message,
	})
	return nil
}

func (r *Runner) failFromAnyStatus(ctx context.Context, jobID uuid.UUID, message string) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		slog.Error("loading job after panic", "job_id", jobID, "error", err)
		return
	}
	if models.IsTerminalStatus(job.Status) {
		return
	}
	if err := r.fail(ctx, job, job.Status, message); err != nil && !errors.Is(err, errHalted) {
		slog.Error("marking panicked job failed", "job_id", jobID, "error", err)
	}
}

// transition performs the CAS status write and mirrors the new status into
// the cache for cheap API reads. Cache failures are logged, never fatal.
func (r *Runner) transition(ctx context.Context, job *models.Job, from, to string, opts ...store.TransitionOption) (bool, error) {
	ok, err := r.store.TransitionJob(ctx, job.ID, from, to, opts...)
	if err != nil || !ok {
		return ok, err
	}
	if err := r.cache.SetJobStatus(ctx, job.UserID, job.ID, to, statusCacheTTL); err != nil {
		slog.Warn("job status cache write failed", "job_id", job.ID, "error", err)
	}
	return true, nil
}

func (r *Runner) applyProgress(ctx context.Context, job *models.Job, percent int, message string) {
	if err := r.store.UpdateJobProgress(ctx, job.ID, percent, message); err != nil {
		slog.Warn("progress update failed", "job_id", job.ID, "error", err)
		return
	}
	r.notifier.Notify(job.UserID, notify.Event{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: percent,
		Message:  message,
	})
}

// submit sends the artifact to the vendor, retrying transient transport
// failures with an exponential backoff. A synchronous rejection is never
// retried.
func (r *Runner) submit(ctx context.Context, client vendors.TaskClient, artifactURL string, cfg vendors.StageConfig) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.SubmitRetries; attempt++ {
		if attempt > 0 {
			backoff := r.cfg.PollInterval * time.Duration(1<<(attempt-1))
			if backoff > r.cfg.PollMaxInterval {
				backoff = r.cfg.PollMaxInterval
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		handle, err := client.Submit(ctx, artifactURL, cfg)
		if err == nil {
			return handle, nil
		}
		if !vendors.CodeOf(err).Transient() {
			return "", err
		}
		lastErr = err
		slog.Warn("vendor submit failed, retrying",
			"vendor", client.Name(), "attempt", attempt+1, "error", err)
	}
	return "", lastErr
}

// relocate downloads a vendor-hosted result and re-uploads it under our own
// key. Vendor result URLs expire; ours do not.
func (r *Runner) relocate(ctx context.Context, jobID uuid.UUID, resultURL, key string) (string, error) {
	local, err := r.fetcher.Fetch(ctx, resultURL)
	if err != nil {
		return "", fmt.Errorf("fetch vendor result: %w", err)
	}
	defer os.Remove(local)

	return r.uploader.Upload(ctx, local, key)
}

func (r *Runner) recordTask(ctx context.Context, job *models.Job, stage, vendor, handle string) {
	err := r.store.AppendVendorTask(ctx, job.ID, models.VendorTask{
		Stage:       stage,
		Vendor:      vendor,
		Handle:      handle,
		SubmittedAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("recording vendor task failed", "job_id", job.ID, "error", err)
	}
	slog.Info("vendor task submitted", "job_id", job.ID, "stage", stage, "vendor", vendor, "handle", handle)
}

func (r *Runner) clientFor(stage string) vendors.TaskClient {
	if stage == models.StageLipsync {
		return r.lipsync
	}
	return r.inpaint
}

// pollDelay lengthens the poll interval as a task ages; most tasks finish in
// minutes, long ones do not need second-granularity polling.
func pollDelay(base, max, elapsed time.Duration) time.Duration {
	d := base
	switch {
	case elapsed > 10*time.Minute:
		d = max
	case elapsed > 2*time.Minute:
		d = max / 2
	case elapsed > 30*time.Second:
		d = 3 * base
	}
	if d > max {
		d = max
	}
	if d < base {
		d = base
	}
	return d
}

// progressScale maps a vendor's 0-100 progress onto one segment of the job's
// overall progress bar.
type progressScale struct{ lo, hi int }

func (s progressScale) apply(p int) int {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return s.lo + p*(s.hi-s.lo)/100
}

func scaleFor(job *models.Job) progressScale {
	switch job.Status {
	case models.JobStatusLipsyncProcessing:
		if job.Descriptor.NeedsInpaint() {
			return progressScale{0, 50}
		}
		return progressScale{0, 100}
	case models.JobStatusInpaintProcessing:
		return progressScale{50, 100}
	default:
		return progressScale{0, 100}
	}
}

func lipsyncConfig(d models.Descriptor) vendors.StageConfig {
	cfg := vendors.StageConfig{Language: d.Language, Params: d.VendorParams}
	if d.LipSync != nil {
		cfg.AudioURL = d.LipSync.AudioURL
		cfg.Model = d.LipSync.Model
	}
	return cfg
}

func inpaintConfig(d models.Descriptor) vendors.StageConfig {
	cfg := vendors.StageConfig{Language: d.Language, Params: d.VendorParams}
	if d.Inpaint != nil {
		cfg.Regions = d.Inpaint.Regions
		cfg.AutoDetectText = d.Inpaint.AutoDetectText
	}
	return cfg
}

func vendorFailure(vendor string, st vendors.Status) string {
	msg := st.ErrorMessage
	if msg == "" {
		msg = "task failed"
	}
	return fmt.Sprintf("%s: %s (%s)", vendor, msg, st.ErrorCode)
}
