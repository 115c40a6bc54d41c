package models

import (
	"time"

	"github.com/google/uuid"
)

// Job statuses. A job has exactly one status at any time; status changes go
// through the store's compare-and-swap transition so that concurrent writers
// (a live orchestration attempt and the reconciler) cannot clobber each other.
const (
	JobStatusQueued            = "queued"
	JobStatusUploading         = "uploading"
	JobStatusProcessing        = "processing"
	JobStatusLipsyncProcessing = "lipsync_processing"
	JobStatusStage1Uploading   = "stage1_uploading"
	JobStatusInpaintProcessing = "inpaint_processing"
	JobStatusCompleted         = "completed"
	JobStatusFailed            = "failed"
	JobStatusCanceled          = "canceled"
)

// Stage names recorded alongside vendor task handles.
const (
	StageLipsync = "lipsync"
	StageInpaint = "inpaint"
)

// IsTerminalStatus reports whether a status is final. No orchestration
// component may write to a job once it is terminal.
func IsTerminalStatus(s string) bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCanceled
}

// InFlightStatuses are the statuses in which a job has a live vendor task.
// The reconciler sweeps jobs in these statuses.
func InFlightStatuses() []string {
	return []string{JobStatusProcessing, JobStatusLipsyncProcessing, JobStatusInpaintProcessing}
}

// Job tracks one user-submitted video processing request end to end.
// The API returns a job id on POST /api/v1/jobs; the client polls
// GET /api/v1/jobs/{id} or listens on the WebSocket stream until the job
// reaches a terminal status.
type Job struct {
	ID              uuid.UUID `db:"id"               json:"id"`
	UserID          uuid.UUID `db:"user_id"          json:"user_id"`
	Status          string    `db:"status"           json:"status"`
	ProgressPercent int       `db:"progress_percent" json:"progress_percent"`
	ProgressMessage string    `db:"progress_message" json:"progress_message"`

	// Descriptor is immutable after creation; vendor task handles accumulate
	// in VendorTasks as processing proceeds.
	Descriptor  Descriptor   `db:"descriptor"   json:"descriptor"`
	VendorTasks []VendorTask `db:"vendor_tasks" json:"vendor_tasks,omitempty"`

	InputPath string  `db:"input_path" json:"-"`
	OutputURL *string `db:"output_url" json:"output_url,omitempty"`

	EstimatedCredits  int  `db:"estimated_credits"   json:"estimated_credits"`
	ActualCreditsUsed *int `db:"actual_credits_used" json:"actual_credits_used,omitempty"`

	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`

	RetryCount int `db:"retry_count" json:"retry_count"`
	MaxRetries int `db:"max_retries" json:"max_retries"`

	QueuedAt    time.Time  `db:"queued_at"    json:"queued_at"`
	StartedAt   *time.Time `db:"started_at"   json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
}

// VendorTask links one processing stage to the handle the vendor returned on
// submission. A chained job accumulates two of these.
type VendorTask struct {
	Stage       string    `json:"stage"`
	Vendor      string    `json:"vendor"`
	Handle      string    `json:"handle"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// LastVendorTask returns the most recently recorded vendor task, or nil.
func (j *Job) LastVendorTask() *VendorTask {
	if len(j.VendorTasks) == 0 {
		return nil
	}
	return &j.VendorTasks[len(j.VendorTasks)-1]
}

// Descriptor describes what transformation(s) to apply to the input video.
// A text-removal-only job carries just Inpaint; a lip-sync job carries
// LipSync and optionally Inpaint, in which case text removal runs as a
// second stage on the lip-synced result. Whether a job is chained is decided
// here once, at creation time, and is immutable thereafter.
type Descriptor struct {
	Language string        `json:"language,omitempty"`
	LipSync  *LipSyncStage `json:"lipsync,omitempty"`
	Inpaint  *InpaintStage `json:"inpaint,omitempty"`

	// VendorParams is an opaque pass-through for vendor-specific knobs the
	// core does not interpret.
	VendorParams map[string]string `json:"vendor_params,omitempty"`
}

// Chained reports whether the job runs two sequential vendor stages.
func (d Descriptor) Chained() bool {
	return d.LipSync != nil && d.NeedsInpaint()
}

// NeedsInpaint reports whether a text-removal stage is configured. An
// Inpaint block with no regions and auto-detection off counts as absent.
func (d Descriptor) NeedsInpaint() bool {
	if d.Inpaint == nil {
		return false
	}
	return d.Inpaint.AutoDetectText || len(d.Inpaint.Regions) > 0
}

// LipSyncStage configures the lip-sync vendor stage.
type LipSyncStage struct {
	AudioURL string `json:"audio_url"`
	Model    string `json:"model,omitempty"`
}

// InpaintStage configures the text-removal vendor stage.
type InpaintStage struct {
	Regions        []Region `json:"regions,omitempty"`
	AutoDetectText bool     `json:"auto_detect_text,omitempty"`
}

// Region is a rectangular region of interest, normalized to [0,1] video
// coordinates, active between Start and End seconds.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Start  float64 `json:"start,omitempty"`
	End    float64 `json:"end,omitempty"`
}
