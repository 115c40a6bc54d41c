package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lisperz/frazo/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through
// here; orchestration components never issue raw queries.
type Store interface {
	Ping(ctx context.Context) error

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByUser(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	ListJobsInStatus(ctx context.Context, statuses []string) ([]*models.Job, error)

	// UpdateJobProgress raises progress_percent to percent if (and only if)
	// percent is higher than the stored value, and sets the progress message.
	// Progress is monotonic until the job is terminal.
	UpdateJobProgress(ctx context.Context, id uuid.UUID, percent int, message string) error

	// AppendVendorTask records a vendor task handle for one stage.
	AppendVendorTask(ctx context.Context, id uuid.UUID, task models.VendorTask) error

	// TransitionJob is the only sanctioned way to change a job's status. It
	// is a compare-and-swap: the write happens only if the current status
	// equals from, and the return value reports whether it did. A refused
	// transition means another writer (orchestrator, reconciler, or a user
	// cancel) got there first; the caller must re-read and back off rather
	// than overwrite.
	TransitionJob(ctx context.Context, id uuid.UUID, from, to string, opts ...TransitionOption) (bool, error)

	// CancelJob moves a job to canceled from any non-terminal status.
	// Returns false if the job was already terminal.
	CancelJob(ctx context.Context, id uuid.UUID) (bool, error)

	ListLedgerEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error)
}

// JobFilter selects jobs for listing.
type JobFilter struct {
	UserID uuid.UUID
	Status string
	Page   int
	Limit  int
}

type transitionParams struct {
	ErrorMessage *string
	OutputURL    *string
	Progress     *int
	Message      *string
}

type TransitionOption func(*transitionParams)

// WithErrorMessage records why a job failed. Only meaningful when
// transitioning to failed.
func WithErrorMessage(msg string) TransitionOption {
	return func(p *transitionParams) {
		p.ErrorMessage = &msg
	}
}

// WithOutputURL records the durable result URL. Only meaningful when
// transitioning to completed.
func WithOutputURL(url string) TransitionOption {
	return func(p *transitionParams) {
		p.OutputURL = &url
	}
}

// WithProgress updates progress alongside the transition.
func WithProgress(percent int, message string) TransitionOption {
	return func(p *transitionParams) {
		p.Progress = &percent
		p.Message = &message
	}
}
