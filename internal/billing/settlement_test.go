package billing_test

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lisperz/frazo/internal/billing"
	"github.com/lisperz/frazo/internal/store"
	"github.com/lisperz/frazo/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("frazo_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func seedUserAndJob(t *testing.T, s store.Store, credits, estimated int) (*models.User, *models.Job) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	user := &models.User{
		ID:        uuid.New(),
		Email:     uuid.NewString()[:8] + "@example.com",
		Credits:   credits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateUser(ctx, user))

	job := &models.Job{
		ID:               uuid.New(),
		UserID:           user.ID,
		Status:           models.JobStatusProcessing,
		Descriptor:       models.Descriptor{Inpaint: &models.InpaintStage{AutoDetectText: true}},
		InputPath:        "/data/uploads/in.mp4",
		EstimatedCredits: estimated,
		MaxRetries:       3,
		QueuedAt:         now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, s.CreateJob(ctx, job))
	return user, job
}

func TestPostgresSettler_Charge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	settler := billing.NewPostgresSettler(pool)
	ctx := context.Background()

	user, job := seedUserAndJob(t, s, 100, 10)

	charged, err := settler.Charge(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 10, charged)

	gotUser, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, gotUser.Credits)

	gotJob, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, gotJob.ActualCreditsUsed)
	assert.Equal(t, 10, *gotJob.ActualCreditsUsed)

	entries, err := s.ListLedgerEntries(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, -10, entries[0].Delta)
	assert.Equal(t, 90, entries[0].BalanceAfter)
	require.NotNil(t, entries[0].JobID)
	assert.Equal(t, job.ID, *entries[0].JobID)
}

func TestPostgresSettler_ChargeIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	settler := billing.NewPostgresSettler(pool)
	ctx := context.Background()

	user, job := seedUserAndJob(t, s, 100, 10)

	_, err := settler.Charge(ctx, job)
	require.NoError(t, err)

	_, err = settler.Charge(ctx, job)
	assert.ErrorIs(t, err, billing.ErrAlreadySettled)

	gotUser, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, gotUser.Credits, "duplicate charge must not touch the balance")

	entries, err := s.ListLedgerEntries(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPostgresSettler_ConcurrentChargesSettleOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	settler := billing.NewPostgresSettler(pool)
	ctx := context.Background()

	user, job := seedUserAndJob(t, s, 100, 10)

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := settler.Charge(ctx, job)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var won, lost int
	for err := range results {
		switch {
		case err == nil:
			won++
		case assert.ErrorIs(t, err, billing.ErrAlreadySettled):
			lost++
		}
	}
	assert.Equal(t, 1, won, "exactly one settlement must win")
	assert.Equal(t, racers-1, lost)

	gotUser, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, gotUser.Credits)

	entries, err := s.ListLedgerEntries(ctx, user.ID, 20)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemorySettler_MatchesPostgresContract(t *testing.T) {
	s := store.NewMemoryStore()
	settler := billing.NewMemorySettler(s)
	ctx := context.Background()

	user, job := seedUserAndJob(t, s, 50, 7)

	charged, err := settler.Charge(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 7, charged)

	_, err = settler.Charge(ctx, job)
	assert.ErrorIs(t, err, billing.ErrAlreadySettled)

	gotUser, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 43, gotUser.Credits)

	entries, err := s.ListLedgerEntries(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, -7, entries[0].Delta)
}
