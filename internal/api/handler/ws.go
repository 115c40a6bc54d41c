package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	mw "github.com/lisperz/frazo/internal/api/middleware"
	"github.com/lisperz/frazo/internal/api/response"
	"github.com/lisperz/frazo/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// API keys, not cookies, authenticate this endpoint; origin checks add
	// nothing here.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewJobEventsHandler returns the handler for GET /api/v1/ws. The connection
// receives progress events for every job owned by the authenticated user.
func NewJobEventsHandler(hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			slog.Warn("websocket upgrade failed", "user_id", userID, "error", err)
			return
		}
		hub.Add(userID, conn)
	}
}
