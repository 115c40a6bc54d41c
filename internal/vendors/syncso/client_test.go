package syncso_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lisperz/frazo/internal/config"
	"github.com/lisperz/frazo/internal/vendors"
	"github.com/lisperz/frazo/internal/vendors/syncso"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(baseURL string) *syncso.Client {
	return syncso.NewClient(config.SyncSoConfig{
		BaseURL: baseURL,
		APIKey:  "sk-test",
		Timeout: 5 * time.Second,
	})
}

func TestSubmit_SendsVideoAndAudio(t *testing.T) {
	var gotKey string
	var gotReq map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"id": "gen-abc", "status": "PENDING"})
	}))
	defer srv.Close()

	handle, err := newClient(srv.URL).Submit(context.Background(), "https://blob/video.mp4", vendors.StageConfig{
		AudioURL: "https://blob/audio.wav",
	})
	require.NoError(t, err)
	assert.Equal(t, "gen-abc", handle)
	assert.Equal(t, "sk-test", gotKey)

	inputs, ok := gotReq["input"].([]any)
	require.True(t, ok)
	require.Len(t, inputs, 2)
	video := inputs[0].(map[string]any)
	audio := inputs[1].(map[string]any)
	assert.Equal(t, "video", video["type"])
	assert.Equal(t, "https://blob/video.mp4", video["url"])
	assert.Equal(t, "audio", audio["type"])
	assert.Equal(t, "https://blob/audio.wav", audio["url"])
}

func TestSubmit_Rejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{"error": "audio url unreachable"})
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Submit(context.Background(), "https://blob/video.mp4", vendors.StageConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, vendors.ErrRejected)
	assert.Contains(t, err.Error(), "audio url unreachable")
}

func TestPoll_StateMapping(t *testing.T) {
	tests := []struct {
		vendor string
		state  vendors.TaskState
		code   vendors.ErrorCode
	}{
		{"PENDING", vendors.StatePending, vendors.CodeNone},
		{"PROCESSING", vendors.StateProcessing, vendors.CodeNone},
		{"COMPLETED", vendors.StateCompleted, vendors.CodeNone},
		{"FAILED", vendors.StateFailed, vendors.CodeInternal},
		{"REJECTED", vendors.StateFailed, vendors.CodeInternal},
		{"TIMED_OUT", vendors.StateFailed, vendors.CodeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.vendor, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				resp := map[string]any{"id": "gen-abc", "status": tt.vendor}
				if tt.vendor == "COMPLETED" {
					resp["outputUrl"] = "https://vendor/synced.mp4"
				}
				json.NewEncoder(w).Encode(resp)
			}))
			defer srv.Close()

			st, err := newClient(srv.URL).Poll(context.Background(), "gen-abc")
			require.NoError(t, err)
			assert.Equal(t, tt.state, st.State)
			assert.Equal(t, tt.code, st.ErrorCode)
			if tt.vendor == "COMPLETED" {
				assert.Equal(t, "https://vendor/synced.mp4", st.ResultURL)
				assert.Equal(t, 100, st.Progress)
			}
		})
	}
}

func TestPoll_ServerErrorIsTransientTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Poll(context.Background(), "gen-abc")
	require.Error(t, err)
	assert.True(t, vendors.CodeOf(err).Transient())
}
