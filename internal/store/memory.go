package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lisperz/frazo/pkg/models"
)

// MemoryStore is an in-memory Store for tests and local development. It
// mirrors the Postgres implementation's transition semantics, including the
// compare-and-swap and the monotonic progress guard.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]*models.User
	keys    map[uuid.UUID]*models.APIKey
	jobs    map[uuid.UUID]*models.Job
	entries []*models.LedgerEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[uuid.UUID]*models.User),
		keys:  make(map[uuid.UUID]*models.APIKey),
		jobs:  make(map[uuid.UUID]*models.Job),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- Users ---

func (s *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.ID]; exists {
		return ErrDuplicateKey
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

// AdjustUserCredits applies a delta to a user's balance and appends a ledger
// entry. Used by the in-memory settler.
func (s *MemoryStore) AdjustUserCredits(_ context.Context, userID uuid.UUID, delta int, jobID *uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	u.Credits += delta
	s.entries = append(s.entries, &models.LedgerEntry{
		ID:           uuid.New(),
		UserID:       userID,
		Delta:        delta,
		BalanceAfter: u.Credits,
		JobID:        jobID,
		CreatedAt:    time.Now().UTC(),
	})
	return u.Credits, nil
}

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			keys = append(keys, &cp)
		}
	}
	return keys, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []*models.APIKey
	for _, k := range s.keys {
		if k.UserID == userID && k.DeletedAt == nil {
			cp := *k
			keys = append(keys, &cp)
		}
	}
	return keys, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok || k.UserID != userID || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

// --- Jobs ---

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrDuplicateKey
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	cp.VendorTasks = append([]models.VendorTask(nil), j.VendorTasks...)
	return &cp, nil
}

func (s *MemoryStore) ListJobsByUser(_ context.Context, filter JobFilter) ([]*models.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []*models.Job
	for _, j := range s.jobs {
		if j.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		cp := *j
		jobs = append(jobs, &cp)
	}
	return jobs, len(jobs), nil
}

func (s *MemoryStore) ListJobsInStatus(_ context.Context, statuses []string) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []*models.Job
	for _, j := range s.jobs {
		for _, st := range statuses {
			if j.Status == st {
				cp := *j
				cp.VendorTasks = append([]models.VendorTask(nil), j.VendorTasks...)
				jobs = append(jobs, &cp)
				break
			}
		}
	}
	return jobs, nil
}

func (s *MemoryStore) UpdateJobProgress(_ context.Context, id uuid.UUID, percent int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || models.IsTerminalStatus(j.Status) {
		return ErrNotFound
	}
	if percent > j.ProgressPercent {
		j.ProgressPercent = percent
	}
	j.ProgressMessage = message
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendVendorTask(_ context.Context, id uuid.UUID, task models.VendorTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.VendorTasks = append(j.VendorTasks, task)
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) TransitionJob(_ context.Context, id uuid.UUID, from, to string, opts ...TransitionOption) (bool, error) {
	params := &transitionParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.Status != from {
		return false, nil
	}

	now := time.Now().UTC()
	j.Status = to
	j.UpdatedAt = now
	if to == models.JobStatusUploading && j.StartedAt == nil {
		j.StartedAt = &now
	}
	if models.IsTerminalStatus(to) {
		j.CompletedAt = &now
	}
	if to == models.JobStatusCompleted {
		j.ProgressPercent = 100
	}
	if from == models.JobStatusFailed {
		j.ErrorMessage = nil
		j.RetryCount++
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		j.ErrorMessage = &msg
	}
	if params.OutputURL != nil {
		url := *params.OutputURL
		j.OutputURL = &url
	}
	if params.Progress != nil {
		if *params.Progress > j.ProgressPercent {
			j.ProgressPercent = *params.Progress
		}
		j.ProgressMessage = *params.Message
	}
	return true, nil
}

func (s *MemoryStore) CancelJob(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if models.IsTerminalStatus(j.Status) {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = models.JobStatusCanceled
	j.CompletedAt = &now
	j.UpdatedAt = now
	return true, nil
}

// SetActualCredits records the settled amount on a job. Used by the
// in-memory settler; Postgres settlement writes this inside its transaction.
func (s *MemoryStore) SetActualCredits(_ context.Context, id uuid.UUID, amount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if j.ActualCreditsUsed != nil {
		return false, nil
	}
	j.ActualCreditsUsed = &amount
	return true, nil
}

// --- Ledger ---

func (s *MemoryStore) ListLedgerEntries(_ context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []*models.LedgerEntry
	for i := len(s.entries) - 1; i >= 0 && len(entries) < limit; i-- {
		if s.entries[i].UserID == userID {
			cp := *s.entries[i]
			entries = append(entries, &cp)
		}
	}
	return entries, nil
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
