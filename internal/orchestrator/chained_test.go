package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lisperz/frazo/internal/vendors"
	"github.com/lisperz/frazo/internal/vendors/mock"
	"github.com/lisperz/frazo/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chainedDescriptor() models.Descriptor {
	return models.Descriptor{
		Language: "en",
		LipSync:  &models.LipSyncStage{AudioURL: "https://blob.local/audio/track.wav"},
		Inpaint:  &models.InpaintStage{AutoDetectText: true},
	}
}

func TestRunner_ChainedSuccessRunsBothStages(t *testing.T) {
	lipsync := mock.NewScripted("syncso", "gen-1",
		vendors.Status{State: vendors.StateProcessing, Progress: 50},
		vendors.Status{State: vendors.StateCompleted, Progress: 100, ResultURL: "https://sync/result.mp4"},
	)
	inpaint := mock.NewScripted("ghostcut", "task-2",
		vendors.Status{State: vendors.StateProcessing, Progress: 40},
		vendors.Status{State: vendors.StateCompleted, Progress: 100, ResultURL: "https://zhaoli/result.mp4"},
	)
	e := newEnv(t, lipsync, inpaint)
	job := e.createJob(t, chainedDescriptor())

	e.runner.Run(context.Background(), job.ID)

	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPercent)

	require.Len(t, got.VendorTasks, 2)
	assert.Equal(t, models.StageLipsync, got.VendorTasks[0].Stage)
	assert.Equal(t, "gen-1", got.VendorTasks[0].Handle)
	assert.Equal(t, models.StageInpaint, got.VendorTasks[1].Stage)
	assert.Equal(t, "task-2", got.VendorTasks[1].Handle)

	// Text removal must run on the relocated lip-sync artifact, not the
	// vendor's expiring URL.
	calls := inpaint.SubmitCalls()
	require.Len(t, calls, 1)
	assert.Equal(t,
		fmt.Sprintf("https://blob.local/frazo-artifacts/jobs/%s/lipsync.mp4", job.ID),
		calls[0].ArtifactURL)
	assert.True(t, calls[0].Config.AutoDetectText)

	lipsyncCalls := lipsync.SubmitCalls()
	require.Len(t, lipsyncCalls, 1)
	assert.Equal(t, "https://blob.local/audio/track.wav", lipsyncCalls[0].Config.AudioURL)

	require.NotNil(t, got.OutputURL)
	assert.Equal(t, fmt.Sprintf("https://blob.local/frazo-artifacts/jobs/%s/output.mp4", job.ID), *got.OutputURL)

	user, err := e.store.GetUser(context.Background(), e.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, user.Credits, "a chained job settles exactly once")
}

func TestRunner_LipsyncOnlyCompletesAfterStageOne(t *testing.T) {
	lipsync := mock.NewScripted("syncso", "gen-1",
		vendors.Status{State: vendors.StateCompleted, Progress: 100, ResultURL: "https://sync/result.mp4"},
	)
	inpaint := &mock.Client{Name_: "ghostcut"}
	e := newEnv(t, lipsync, inpaint)
	job := e.createJob(t, models.Descriptor{
		LipSync: &models.LipSyncStage{AudioURL: "https://blob.local/audio/track.wav"},
	})

	e.runner.Run(context.Background(), job.ID)

	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.OutputURL)
	assert.Equal(t, fmt.Sprintf("https://blob.local/frazo-artifacts/jobs/%s/lipsync.mp4", job.ID), *got.OutputURL)
	assert.Empty(t, inpaint.SubmitCalls(), "no text removal stage was configured")
	require.Len(t, got.VendorTasks, 1)
}

func TestRunner_EmptyInpaintBlockSkipsStageTwo(t *testing.T) {
	lipsync := mock.NewScripted("syncso", "gen-1",
		vendors.Status{State: vendors.StateCompleted, Progress: 100, ResultURL: "https://sync/result.mp4"},
	)
	inpaint := &mock.Client{Name_: "ghostcut"}
	e := newEnv(t, lipsync, inpaint)
	job := e.createJob(t, models.Descriptor{
		LipSync: &models.LipSyncStage{AudioURL: "https://blob.local/audio/track.wav"},
		Inpaint: &models.InpaintStage{},
	})

	e.runner.Run(context.Background(), job.ID)

	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Empty(t, inpaint.SubmitCalls())
}

func TestRunner_StageOneFailureNeverStartsStageTwo(t *testing.T) {
	lipsync := mock.NewScripted("syncso", "gen-1",
		vendors.Status{
			State:        vendors.StateFailed,
			ErrorCode:    vendors.CodeInvalidInput,
			ErrorMessage: "audio track rejected",
		},
	)
	inpaint := &mock.Client{Name_: "ghostcut"}
	e := newEnv(t, lipsync, inpaint)
	job := e.createJob(t, chainedDescriptor())

	e.runner.Run(context.Background(), job.ID)

	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "audio track rejected")
	assert.Empty(t, inpaint.SubmitCalls())
	assert.Nil(t, got.ActualCreditsUsed)
}

func TestRunner_StageOneRelocationFailureConsumesRetryBudget(t *testing.T) {
	lipsync := mock.NewScripted("syncso", "gen-1",
		vendors.Status{State: vendors.StateCompleted, Progress: 100, ResultURL: "https://sync/result.mp4"},
	)
	e := newEnv(t, lipsync, &mock.Client{Name_: "ghostcut"})
	e.fetcher.err = errors.New("result url expired")
	job := e.createJob(t, chainedDescriptor())

	e.runner.Run(context.Background(), job.ID)

	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Nil(t, got.ErrorMessage)
	assert.Nil(t, got.ActualCreditsUsed)
}

func TestRunner_StageTwoFailureFailsJob(t *testing.T) {
	lipsync := mock.NewScripted("syncso", "gen-1",
		vendors.Status{State: vendors.StateCompleted, Progress: 100, ResultURL: "https://sync/result.mp4"},
	)
	inpaint := mock.NewScripted("ghostcut", "task-2",
		vendors.Status{
			State:        vendors.StateFailed,
			ErrorCode:    vendors.CodeInternal,
			ErrorMessage: "inpainting crashed",
		},
	)
	e := newEnv(t, lipsync, inpaint)
	job := e.createJob(t, chainedDescriptor())

	e.runner.Run(context.Background(), job.ID)

	got, err := e.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "after successful lip sync")
	assert.Contains(t, *got.ErrorMessage, "inpainting crashed")

	// The relocated stage-one artifact exists for diagnostics, but the job
	// itself did not deliver what was requested.
	assert.Contains(t, e.uploader.uploadedKeys(), fmt.Sprintf("jobs/%s/lipsync.mp4", job.ID))
	assert.Nil(t, got.ActualCreditsUsed)

	user, err := e.store.GetUser(context.Background(), e.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, user.Credits)
}
