// Package vendors defines the uniform submit/poll contract the orchestrator
// uses to drive third-party asynchronous processing APIs. Each vendor
// (GhostCut text removal, Sync.so lip sync) lives in its own subpackage and
// normalizes its wire protocol onto this contract.
package vendors

import (
	"context"

	"github.com/lisperz/frazo/pkg/models"
)

// TaskState is the normalized lifecycle state of a vendor-side task.
type TaskState string

const (
	StatePending    TaskState = "pending"
	StateProcessing TaskState = "processing"
	StateCompleted  TaskState = "completed"
	StateFailed     TaskState = "failed"
)

// Status is one normalized poll observation. Progress is on a 0-100 scale
// regardless of the vendor's native scale. For StateFailed, ErrorCode
// carries the classified failure and ErrorMessage the vendor's text.
type Status struct {
	State        TaskState
	Progress     int
	ResultURL    string
	ErrorCode    ErrorCode
	ErrorMessage string
}

// StageConfig carries the per-stage parameters a client may need. Each
// client reads only the fields relevant to its vendor; Params is an opaque
// pass-through for vendor-specific knobs.
type StageConfig struct {
	Language       string
	Regions        []models.Region
	AutoDetectText bool
	AudioURL       string
	Model          string
	Params         map[string]string
}

// TaskClient is the submit/poll contract over one vendor API. Clients hold
// no per-task state; the handle returned by Submit is the only linkage.
type TaskClient interface {
	Name() string

	// Submit sends artifactURL to the vendor for processing and returns the
	// vendor's task handle. A synchronous non-success acknowledgment is
	// surfaced as an error wrapping ErrRejected, never swallowed.
	Submit(ctx context.Context, artifactURL string, cfg StageConfig) (string, error)

	// Poll fetches the current state of a previously submitted task.
	// Transport-level failures are returned as *TransportError so callers
	// can distinguish transient hiccups from vendor-reported outcomes.
	Poll(ctx context.Context, handle string) (Status, error)
}
