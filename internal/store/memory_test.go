package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lisperz/frazo/internal/store"
	"github.com/lisperz/frazo/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(t *testing.T, s store.Store, status string) *models.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &models.Job{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		Status:           status,
		Descriptor:       models.Descriptor{Inpaint: &models.InpaintStage{AutoDetectText: true}},
		InputPath:        "/tmp/in.mp4",
		EstimatedCredits: 10,
		MaxRetries:       3,
		QueuedAt:         now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func TestTransitionJob_CAS(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	job := newJob(t, s, models.JobStatusQueued)

	ok, err := s.TransitionJob(ctx, job.ID, models.JobStatusQueued, models.JobStatusUploading)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second attempt from the same expected status must be refused.
	ok, err = s.TransitionJob(ctx, job.ID, models.JobStatusQueued, models.JobStatusUploading)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusUploading, got.Status)
	assert.NotNil(t, got.StartedAt)
}

func TestTransitionJob_ConcurrentWritersExactlyOneWins(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	job := newJob(t, s, models.JobStatusProcessing)

	const writers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusCompleted,
				store.WithOutputURL("https://blob/out.mp4"))
			require.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one concurrent transition must succeed")

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercent)
	require.NotNil(t, got.OutputURL)
	assert.Equal(t, "https://blob/out.mp4", *got.OutputURL)
}

func TestUpdateJobProgress_Monotonic(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	job := newJob(t, s, models.JobStatusProcessing)

	require.NoError(t, s.UpdateJobProgress(ctx, job.ID, 55, "halfway"))
	// A stale, lower observation must not lower the stored value.
	require.NoError(t, s.UpdateJobProgress(ctx, job.ID, 20, "stale"))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 55, got.ProgressPercent)
	assert.Equal(t, "stale", got.ProgressMessage)
}

func TestTransitionJob_RetryClearsError(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	job := newJob(t, s, models.JobStatusProcessing)

	ok, err := s.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusFailed,
		store.WithErrorMessage("vendor exploded"))
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)

	ok, err = s.TransitionJob(ctx, job.ID, models.JobStatusFailed, models.JobStatusQueued)
	require.NoError(t, err)
	require.True(t, ok)

	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ErrorMessage)
	assert.Equal(t, 1, got.RetryCount)
}

func TestCancelJob(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newJob(t, s, models.JobStatusProcessing)
	ok, err := s.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Canceling a terminal job is refused.
	ok, err = s.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	// The orchestrator's next write must lose against the cancel.
	ok, err = s.TransitionJob(ctx, job.ID, models.JobStatusProcessing, models.JobStatusCompleted)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCanceled, got.Status)
}

func TestAppendVendorTask(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	job := newJob(t, s, models.JobStatusProcessing)

	require.NoError(t, s.AppendVendorTask(ctx, job.ID, models.VendorTask{
		Stage: models.StageLipsync, Vendor: "syncso", Handle: "gen-1", SubmittedAt: time.Now().UTC(),
	}))
	require.NoError(t, s.AppendVendorTask(ctx, job.ID, models.VendorTask{
		Stage: models.StageInpaint, Vendor: "ghostcut", Handle: "555", SubmittedAt: time.Now().UTC(),
	}))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got.VendorTasks, 2)
	assert.Equal(t, "555", got.LastVendorTask().Handle)
	assert.Equal(t, models.StageInpaint, got.LastVendorTask().Stage)
}
