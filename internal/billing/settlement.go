// Package billing settles credit charges for completed jobs. A job is
// charged at most once; the job row's actual_credits_used column doubles as
// the idempotency guard.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lisperz/frazo/pkg/models"
)

var (
	// ErrAlreadySettled means the job has a recorded charge. Callers racing
	// on a duplicate completion observation treat this as benign.
	ErrAlreadySettled = errors.New("job already settled")

	ErrUserNotFound = errors.New("user not found for settlement")
)

// Settler computes and applies the credit charge for a job on terminal
// success. Charge must be idempotent per job.
type Settler interface {
	Charge(ctx context.Context, job *models.Job) (int, error)
}

// PostgresSettler applies charges in a single transaction: the balance
// decrement, the ledger append, and the job's actual_credits_used happen
// together or not at all.
type PostgresSettler struct {
	pool *pgxpool.Pool
}

// NewPostgresSettler creates a PostgresSettler.
func NewPostgresSettler(pool *pgxpool.Pool) *PostgresSettler {
	return &PostgresSettler{pool: pool}
}

// Charge deducts the job's cost from its owner and appends a ledger entry.
// Returns the credits charged, or ErrAlreadySettled if a previous call won.
func (s *PostgresSettler) Charge(ctx context.Context, job *models.Job) (int, error) {
	amount := Cost(job)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	// Claim the job. Zero rows means another settlement already recorded a
	// charge; this is the at-most-once guard.
	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET actual_credits_used = $2, updated_at = NOW()
		 WHERE id = $1 AND actual_credits_used IS NULL`,
		job.ID, amount)
	if err != nil {
		return 0, fmt.Errorf("claim job for settlement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrAlreadySettled
	}

	var balance int
	err = tx.QueryRow(ctx,
		`UPDATE users SET credits = credits - $2, updated_at = NOW()
		 WHERE id = $1 RETURNING credits`,
		job.UserID, amount,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("decrement balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO credit_ledger (id, user_id, delta, balance_after, job_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), job.UserID, -amount, balance, job.ID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("append ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit settlement: %w", err)
	}
	return amount, nil
}

// Cost computes the credit charge for a job. Billing rules are currently
// flat per job: the estimate fixed at creation is the charge.
func Cost(job *models.Job) int {
	return job.EstimatedCredits
}

// Per-stage credit prices.
const (
	LipsyncCredits = 20
	InpaintCredits = 10
)

// Estimate computes the upfront credit estimate for a descriptor. It is
// fixed at job creation and used both for the eligibility check and, via
// Cost, for the final charge.
func Estimate(d models.Descriptor) int {
	credits := 0
	if d.LipSync != nil {
		credits += LipsyncCredits
	}
	if d.NeedsInpaint() {
		credits += InpaintCredits
	}
	return credits
}

// Compile-time check that PostgresSettler implements Settler.
var _ Settler = (*PostgresSettler)(nil)
