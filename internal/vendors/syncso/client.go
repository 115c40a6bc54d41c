// Package syncso implements the vendors.TaskClient contract over the
// Sync.so lip-sync generation API.
package syncso

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lisperz/frazo/internal/config"
	"github.com/lisperz/frazo/internal/vendors"
)

const defaultModel = "lipsync-2"

// Client calls the Sync.so API. Stateless; safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a Sync.so client from config.
func NewClient(cfg config.SyncSoConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string { return "syncso" }

type generateInput struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type generateRequest struct {
	Model string          `json:"model"`
	Input []generateInput `json:"input"`
}

type generateResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	OutputURL string `json:"outputUrl,omitempty"`
}

// Submit starts a lip-sync generation for the video at artifactURL against
// the audio configured on the stage.
func (c *Client) Submit(ctx context.Context, artifactURL string, cfg vendors.StageConfig) (string, error) {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	body, err := json.Marshal(generateRequest{
		Model: model,
		Input: []generateInput{
			{Type: "video", URL: artifactURL},
			{Type: "audio", URL: cfg.AudioURL},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("syncso submit: %w", vendors.ClassifyTransport(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var apiErr generateResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return "", fmt.Errorf("%w: syncso status %d: %s", vendors.ErrRejected, resp.StatusCode, apiErr.Error)
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if gen.ID == "" {
		return "", fmt.Errorf("%w: syncso accepted but returned no generation id", vendors.ErrRejected)
	}
	return gen.ID, nil
}

// Poll fetches generation state. Sync.so reports no numeric progress, so the
// normalized progress is coarse: 0 pending, 50 processing, 100 completed.
func (c *Client) Poll(ctx context.Context, handle string) (vendors.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/generate/"+handle, nil)
	if err != nil {
		return vendors.Status{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return vendors.Status{}, fmt.Errorf("syncso poll: %w", vendors.ClassifyTransport(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return vendors.Status{}, &vendors.TransportError{
			Code: vendors.CodeUnreachable,
			Err:  fmt.Errorf("syncso status %d for generation %s", resp.StatusCode, handle),
		}
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return vendors.Status{}, fmt.Errorf("decoding response: %w", err)
	}

	switch gen.Status {
	case "PENDING":
		return vendors.Status{State: vendors.StatePending, Progress: 0}, nil
	case "PROCESSING":
		return vendors.Status{State: vendors.StateProcessing, Progress: 50}, nil
	case "COMPLETED":
		return vendors.Status{State: vendors.StateCompleted, Progress: 100, ResultURL: gen.OutputURL}, nil
	case "TIMED_OUT":
		return vendors.Status{
			State:        vendors.StateFailed,
			ErrorCode:    vendors.CodeTimeout,
			ErrorMessage: "generation timed out",
		}, nil
	case "FAILED", "REJECTED", "CANCELED":
		return vendors.Status{
			State:        vendors.StateFailed,
			ErrorCode:    vendors.ClassifyFailureMessage(gen.Error),
			ErrorMessage: gen.Error,
		}, nil
	default:
		return vendors.Status{}, fmt.Errorf("syncso poll: unknown status %q for generation %s", gen.Status, handle)
	}
}

// Compile-time check that Client implements TaskClient.
var _ vendors.TaskClient = (*Client)(nil)
