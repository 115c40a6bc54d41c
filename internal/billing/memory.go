package billing

import (
	"context"

	"github.com/lisperz/frazo/internal/store"
	"github.com/lisperz/frazo/pkg/models"
)

// MemorySettler settles against a MemoryStore. It mirrors the Postgres
// settler's at-most-once guard so orchestration tests exercise the same
// contract without a database.
type MemorySettler struct {
	store *store.MemoryStore
}

// NewMemorySettler creates a MemorySettler.
func NewMemorySettler(s *store.MemoryStore) *MemorySettler {
	return &MemorySettler{store: s}
}

func (m *MemorySettler) Charge(ctx context.Context, job *models.Job) (int, error) {
	amount := Cost(job)

	claimed, err := m.store.SetActualCredits(ctx, job.ID, amount)
	if err != nil {
		return 0, err
	}
	if !claimed {
		return 0, ErrAlreadySettled
	}

	if _, err := m.store.AdjustUserCredits(ctx, job.UserID, -amount, &job.ID); err != nil {
		return 0, err
	}
	return amount, nil
}

// Compile-time check that MemorySettler implements Settler.
var _ Settler = (*MemorySettler)(nil)
