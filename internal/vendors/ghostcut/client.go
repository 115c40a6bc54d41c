// Package ghostcut implements the vendors.TaskClient contract over the
// Zhaoli/GhostCut video text-removal API.
package ghostcut

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/lisperz/frazo/internal/config"
	"github.com/lisperz/frazo/internal/vendors"
)

const (
	submitPath = "/v-w-c/gateway/ve/work/free"
	statusPath = "/v-w-c/gateway/ve/work/status"

	// codeAccepted is the one response code that denotes success; anything
	// else is a synchronous rejection.
	codeAccepted = 1000
)

// Client calls the GhostCut API. Stateless; safe for concurrent use.
type Client struct {
	baseURL   string
	appKey    string
	appSecret string
	client    *http.Client
}

// NewClient creates a GhostCut client from config.
func NewClient(cfg config.GhostCutConfig) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		appKey:    cfg.AppKey,
		appSecret: cfg.AppSecret,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string { return "ghostcut" }

// sign computes the request signature the vendor validates server-side:
// hex(MD5(hex(MD5(body)) + secret)). The body bytes signed must be the exact
// bytes sent, so callers must not re-serialize after signing.
func (c *Client) sign(body []byte) string {
	inner := md5.Sum(body)
	innerHex := hex.EncodeToString(inner[:])
	outer := md5.Sum([]byte(innerHex + c.appSecret))
	return hex.EncodeToString(outer[:])
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("AppKey", c.appKey)
	req.Header.Set("AppSign", c.sign(body))

	resp, err := c.client.Do(req)
	if err != nil {
		return vendors.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &vendors.TransportError{
			Code: vendors.CodeUnreachable,
			Err:  fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// --- submit ---

type submitRequest struct {
	Urls             []string `json:"urls"`
	WorkType         int      `json:"workType"`
	NeedChineseOcclude int    `json:"needChineseOcclude,omitempty"`
	VideoInpaintLang string   `json:"videoInpaintLang,omitempty"`
	VideoInpaintMasks string  `json:"videoInpaintMasks,omitempty"`
}

type submitResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Body struct {
		DataList []struct {
			ID int64 `json:"id"`
		} `json:"dataList"`
		IDProject int64 `json:"idProject"`
	} `json:"body"`
}

type maskEntry struct {
	Type   string      `json:"type"`
	Start  float64     `json:"start"`
	End    float64     `json:"end"`
	Region [][]float64 `json:"region"`
}

// Submit creates a text-removal task for artifactURL.
func (c *Client) Submit(ctx context.Context, artifactURL string, cfg vendors.StageConfig) (string, error) {
	req := submitRequest{
		Urls:             []string{artifactURL},
		WorkType:         1,
		VideoInpaintLang: cfg.Language,
	}
	if cfg.AutoDetectText {
		req.NeedChineseOcclude = 1
	}
	if len(cfg.Regions) > 0 {
		masks := make([]maskEntry, 0, len(cfg.Regions))
		for _, r := range cfg.Regions {
			masks = append(masks, maskEntry{
				Type:  "remove",
				Start: r.Start,
				End:   r.End,
				Region: [][]float64{
					{r.X, r.Y},
					{r.X + r.Width, r.Y},
					{r.X + r.Width, r.Y + r.Height},
					{r.X, r.Y + r.Height},
				},
			})
		}
		encoded, err := json.Marshal(masks)
		if err != nil {
			return "", fmt.Errorf("marshal inpaint masks: %w", err)
		}
		req.VideoInpaintMasks = string(encoded)
	}

	var resp submitResponse
	if err := c.post(ctx, submitPath, req, &resp); err != nil {
		return "", fmt.Errorf("ghostcut submit: %w", err)
	}

	if resp.Code != codeAccepted {
		return "", fmt.Errorf("%w: ghostcut code %d: %s", vendors.ErrRejected, resp.Code, resp.Msg)
	}

	// Task id lives in dataList; idProject is the documented fallback when
	// the list is absent.
	if len(resp.Body.DataList) > 0 && resp.Body.DataList[0].ID != 0 {
		return strconv.FormatInt(resp.Body.DataList[0].ID, 10), nil
	}
	if resp.Body.IDProject != 0 {
		return strconv.FormatInt(resp.Body.IDProject, 10), nil
	}
	return "", fmt.Errorf("%w: ghostcut accepted but returned no task id", vendors.ErrRejected)
}

// --- poll ---

type statusRequest struct {
	IDProjects []int64 `json:"idProjects"`
}

type statusResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Body struct {
		Content []struct {
			ProcessProgress float64 `json:"processProgress"`
			Deleted         int     `json:"deleted"`
			VideoURL        string  `json:"videoUrl"`
			ProcessMsg      string  `json:"processMsg"`
		} `json:"content"`
	} `json:"body"`
}

// Poll fetches task state. The vendor reports progress as a float; 100.0 or
// greater with deleted == 0 denotes completion, deleted != 0 denotes the
// task was discarded vendor-side.
func (c *Client) Poll(ctx context.Context, handle string) (vendors.Status, error) {
	id, err := strconv.ParseInt(handle, 10, 64)
	if err != nil {
		return vendors.Status{}, fmt.Errorf("ghostcut poll: bad handle %q: %w", handle, err)
	}

	var resp statusResponse
	if err := c.post(ctx, statusPath, statusRequest{IDProjects: []int64{id}}, &resp); err != nil {
		return vendors.Status{}, fmt.Errorf("ghostcut poll: %w", err)
	}

	if resp.Code != codeAccepted {
		return vendors.Status{}, &vendors.TransportError{
			Code: vendors.CodeUnreachable,
			Err:  fmt.Errorf("ghostcut status code %d: %s", resp.Code, resp.Msg),
		}
	}
	if len(resp.Body.Content) == 0 {
		return vendors.Status{}, &vendors.TransportError{
			Code: vendors.CodeUnreachable,
			Err:  fmt.Errorf("ghostcut status returned no content for task %s", handle),
		}
	}

	task := resp.Body.Content[0]

	if task.Deleted != 0 {
		return vendors.Status{
			State:        vendors.StateFailed,
			ErrorCode:    vendors.ClassifyFailureMessage(task.ProcessMsg),
			ErrorMessage: task.ProcessMsg,
		}, nil
	}

	progress := int(task.ProcessProgress)
	if progress >= 100 {
		return vendors.Status{
			State:     vendors.StateCompleted,
			Progress:  100,
			ResultURL: task.VideoURL,
		}, nil
	}
	if progress < 0 {
		progress = 0
	}

	state := vendors.StateProcessing
	if progress == 0 {
		state = vendors.StatePending
	}
	return vendors.Status{
		State:    state,
		Progress: progress,
	}, nil
}

// Compile-time check that Client implements TaskClient.
var _ vendors.TaskClient = (*Client)(nil)
