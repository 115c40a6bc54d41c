package notify_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lisperz/frazo/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// dialHub stands up a server that registers incoming connections with the
// hub under ownerID, then dials it and returns the client side.
func dialHub(t *testing.T, hub *notify.Hub, ownerID uuid.UUID) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Add(ownerID, conn)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	// Wait for the hub to register the connection.
	require.Eventually(t, func() bool {
		return hub.ListenerCount(ownerID) == 1
	}, time.Second, 10*time.Millisecond)

	return client
}

func TestHub_NotifyDeliversToOwner(t *testing.T) {
	hub := notify.NewHub()
	ownerID := uuid.New()
	client := dialHub(t, hub, ownerID)

	jobID := uuid.New()
	hub.Notify(ownerID, notify.Event{JobID: jobID, Status: "processing", Progress: 55, Message: "inpainting"})

	var got notify.Event
	client.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, jobID, got.JobID)
	assert.Equal(t, 55, got.Progress)
	assert.Equal(t, "processing", got.Status)
}

func TestHub_NotifyWithoutListenerIsNoop(t *testing.T) {
	hub := notify.NewHub()

	// Must not panic or block.
	hub.Notify(uuid.New(), notify.Event{JobID: uuid.New(), Status: "completed", Progress: 100})
}

func TestHub_NotifyIsScopedToOwner(t *testing.T) {
	hub := notify.NewHub()
	ownerA := uuid.New()
	ownerB := uuid.New()
	clientA := dialHub(t, hub, ownerA)
	clientB := dialHub(t, hub, ownerB)

	hub.Notify(ownerA, notify.Event{JobID: uuid.New(), Status: "processing", Progress: 10})

	var got notify.Event
	clientA.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, clientA.ReadJSON(&got))
	assert.Equal(t, 10, got.Progress)

	clientB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var other notify.Event
	err := clientB.ReadJSON(&other)
	assert.Error(t, err, "other owners must not receive the event")
}

func TestHub_RemovesListenerOnDisconnect(t *testing.T) {
	hub := notify.NewHub()
	ownerID := uuid.New()
	client := dialHub(t, hub, ownerID)

	client.Close()

	require.Eventually(t, func() bool {
		return hub.ListenerCount(ownerID) == 0
	}, time.Second, 10*time.Millisecond)
}
