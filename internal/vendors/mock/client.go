// Package mock provides a scriptable vendors.TaskClient for tests.
package mock

import (
	"context"
	"sync"

	"github.com/lisperz/frazo/internal/vendors"
)

// Client satisfies vendors.TaskClient for testing.
type Client struct {
	Name_      string
	SubmitFunc func(ctx context.Context, artifactURL string, cfg vendors.StageConfig) (string, error)
	PollFunc   func(ctx context.Context, handle string) (vendors.Status, error)

	mu          sync.Mutex
	submitCalls []SubmitCall
	pollCalls   int
}

// SubmitCall records the arguments of one Submit invocation.
type SubmitCall struct {
	ArtifactURL string
	Config      vendors.StageConfig
}

func (c *Client) Name() string {
	if c.Name_ == "" {
		return "mock"
	}
	return c.Name_
}

func (c *Client) Submit(ctx context.Context, artifactURL string, cfg vendors.StageConfig) (string, error) {
	c.mu.Lock()
	c.submitCalls = append(c.submitCalls, SubmitCall{ArtifactURL: artifactURL, Config: cfg})
	c.mu.Unlock()

	if c.SubmitFunc != nil {
		return c.SubmitFunc(ctx, artifactURL, cfg)
	}
	return "mock-task-1", nil
}

func (c *Client) Poll(ctx context.Context, handle string) (vendors.Status, error) {
	c.mu.Lock()
	c.pollCalls++
	c.mu.Unlock()

	if c.PollFunc != nil {
		return c.PollFunc(ctx, handle)
	}
	return vendors.Status{State: vendors.StateCompleted, Progress: 100, ResultURL: "https://vendor/result.mp4"}, nil
}

// SubmitCalls returns a copy of all recorded Submit invocations.
func (c *Client) SubmitCalls() []SubmitCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SubmitCall(nil), c.submitCalls...)
}

// PollCalls returns how many times Poll was invoked.
func (c *Client) PollCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollCalls
}

// NewScripted returns a Client whose successive Poll calls walk through the
// given statuses, repeating the last one once exhausted.
func NewScripted(name, handle string, statuses ...vendors.Status) *Client {
	var mu sync.Mutex
	i := 0
	return &Client{
		Name_: name,
		SubmitFunc: func(_ context.Context, _ string, _ vendors.StageConfig) (string, error) {
			return handle, nil
		},
		PollFunc: func(_ context.Context, _ string) (vendors.Status, error) {
			mu.Lock()
			defer mu.Unlock()
			st := statuses[i]
			if i < len(statuses)-1 {
				i++
			}
			return st, nil
		},
	}
}

// Compile-time check that Client implements TaskClient.
var _ vendors.TaskClient = (*Client)(nil)
