package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/photosync/sync/internal/middleware"
	"github.com/photosync/sync/internal/observability"
	"github.com/photosync/sync/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Clients connect from app webviews, not browsers
		return true
	},
}

// WebSocketHandler serves the confirmed-mutation feed
type WebSocketHandler struct {
	hub    *services.FeedHub
	logger *observability.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *services.FeedHub) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		logger: observability.GetLogger().WithField("component", "websocket_handler"),
	}
}

// ServeFeed upgrades the connection and streams confirmed mutations. The
// authenticated device is excluded from broadcasts of its own mutations.
func (h *WebSocketHandler) ServeFeed(w http.ResponseWriter, r *http.Request) {
	device := middleware.GetDeviceFromContext(r.Context())
	if device == nil {
		writeError(w, http.StatusUnauthorized, "device authentication required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("websocket upgrade failed: %v", err)
		return
	}

	client := h.hub.NewClient(device.ID, conn)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}
