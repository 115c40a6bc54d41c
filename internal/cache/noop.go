package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Noop is a Cache that stores nothing. Orchestration must behave correctly
// with it; the cache is a read-path accelerator, not a source of truth.
type Noop struct{}

func (Noop) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (Noop) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (Noop) Delete(_ context.Context, _ string) error                         { return nil }
func (Noop) Ping(_ context.Context) error                                     { return nil }
func (Noop) SetJobStatus(_ context.Context, _, _ uuid.UUID, _ string, _ time.Duration) error {
	return nil
}
func (Noop) GetJobStatus(_ context.Context, _, _ uuid.UUID) (string, bool, error) {
	return "", false, nil
}
func (Noop) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

var _ Cache = Noop{}
