package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lisperz/frazo/internal/config"
	"github.com/lisperz/frazo/internal/orchestrator"
	"github.com/lisperz/frazo/internal/vendors"
	"github.com/lisperz/frazo/internal/vendors/mock"
	"github.com/lisperz/frazo/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsEnqueuedJobs(t *testing.T) {
	inpaint := mock.NewScripted("ghostcut", "task-1",
		vendors.Status{State: vendors.StateCompleted, Progress: 100, ResultURL: "https://vendor/out.mp4"},
	)
	e := newEnv(t, &mock.Client{}, inpaint)
	job := e.createJob(t, inpaintOnly())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := orchestrator.NewScheduler(e.runner, e.cfg)
	sched.Start(ctx)
	require.True(t, sched.Enqueue(job.ID))

	require.Eventually(t, func() bool {
		got, err := e.store.GetJob(context.Background(), job.ID)
		return err == nil && got.Status == models.JobStatusCompleted
	}, 2*time.Second, time.Millisecond)

	cancel()
	sched.Shutdown()
}

func TestScheduler_EnqueueRefusesWhenFull(t *testing.T) {
	e := newEnv(t, &mock.Client{}, &mock.Client{})
	sched := orchestrator.NewScheduler(e.runner, config.WorkerConfig{Count: 1, QueueSize: 1})

	// Workers never started, so the buffer is the only capacity.
	assert.True(t, sched.Enqueue(uuid.New()))
	assert.False(t, sched.Enqueue(uuid.New()))
}
