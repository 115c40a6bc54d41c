package ghostcut_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lisperz/frazo/internal/config"
	"github.com/lisperz/frazo/internal/vendors"
	"github.com/lisperz/frazo/internal/vendors/ghostcut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newClient(baseURL string) *ghostcut.Client {
	return ghostcut.NewClient(config.GhostCutConfig{
		BaseURL:   baseURL,
		AppKey:    "test-key",
		AppSecret: testSecret,
		Timeout:   5 * time.Second,
	})
}

// expectSign reproduces the vendor-side signature check:
// hex(MD5(hex(MD5(body)) + secret)).
func expectSign(body []byte) string {
	inner := md5.Sum(body)
	outer := md5.Sum([]byte(hex.EncodeToString(inner[:]) + testSecret))
	return hex.EncodeToString(outer[:])
}

func TestSubmit_SignsRequestByteForByte(t *testing.T) {
	var gotSign, gotKey string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSign = r.Header.Get("AppSign")
		gotKey = r.Header.Get("AppKey")
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(map[string]any{
			"code": 1000,
			"body": map[string]any{"dataList": []map[string]any{{"id": 555}}},
		})
	}))
	defer srv.Close()

	handle, err := newClient(srv.URL).Submit(context.Background(), "https://blob/x.mp4", vendors.StageConfig{
		Language:       "zh",
		AutoDetectText: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "555", handle)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, expectSign(gotBody), gotSign, "signature must cover the exact bytes sent")
}

func TestSubmit_FallsBackToProjectID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code": 1000,
			"body": map[string]any{"idProject": 777},
		})
	}))
	defer srv.Close()

	handle, err := newClient(srv.URL).Submit(context.Background(), "https://blob/x.mp4", vendors.StageConfig{})
	require.NoError(t, err)
	assert.Equal(t, "777", handle)
}

func TestSubmit_VendorRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 4003, "msg": "signature mismatch"})
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Submit(context.Background(), "https://blob/x.mp4", vendors.StageConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, vendors.ErrRejected)
	assert.Contains(t, err.Error(), "signature mismatch")
}

func TestSubmit_AcceptedWithoutTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 1000, "body": map[string]any{}})
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Submit(context.Background(), "https://blob/x.mp4", vendors.StageConfig{})
	assert.ErrorIs(t, err, vendors.ErrRejected)
}

func TestPoll_MapsProgressStates(t *testing.T) {
	tests := []struct {
		name     string
		content  map[string]any
		state    vendors.TaskState
		progress int
		result   string
	}{
		{
			name:     "pending",
			content:  map[string]any{"processProgress": 0.0, "deleted": 0},
			state:    vendors.StatePending,
			progress: 0,
		},
		{
			name:     "mid progress",
			content:  map[string]any{"processProgress": 55.4, "deleted": 0},
			state:    vendors.StateProcessing,
			progress: 55,
		},
		{
			name:     "completed",
			content:  map[string]any{"processProgress": 100.0, "deleted": 0, "videoUrl": "https://vendor/out.mp4"},
			state:    vendors.StateCompleted,
			progress: 100,
			result:   "https://vendor/out.mp4",
		},
		{
			name:     "completed without url still completed",
			content:  map[string]any{"processProgress": 100.0, "deleted": 0},
			state:    vendors.StateCompleted,
			progress: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"code": 1000,
					"body": map[string]any{"content": []map[string]any{tt.content}},
				})
			}))
			defer srv.Close()

			st, err := newClient(srv.URL).Poll(context.Background(), "555")
			require.NoError(t, err)
			assert.Equal(t, tt.state, st.State)
			assert.Equal(t, tt.progress, st.Progress)
			assert.Equal(t, tt.result, st.ResultURL)
		})
	}
}

func TestPoll_DeletedTaskIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"code": 1000,
			"body": map[string]any{"content": []map[string]any{
				{"processProgress": 30.0, "deleted": 1, "processMsg": "invalid input video"},
			}},
		})
	}))
	defer srv.Close()

	st, err := newClient(srv.URL).Poll(context.Background(), "555")
	require.NoError(t, err)
	assert.Equal(t, vendors.StateFailed, st.State)
	assert.Equal(t, vendors.CodeInvalidInput, st.ErrorCode)
	assert.False(t, st.ErrorCode.Transient())
}

func TestPoll_GatewayErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Poll(context.Background(), "555")
	require.Error(t, err)
	assert.True(t, vendors.CodeOf(err).Transient())
}
