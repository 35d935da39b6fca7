package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/photosync/sync/internal/models"
	"github.com/photosync/sync/internal/observability"
)

// FeedClient is one websocket connection listening for confirmed mutations
type FeedClient struct {
	DeviceID   string
	Conn       *websocket.Conn
	Send       chan []byte
	hub        *FeedHub
	mu         sync.Mutex
	closedOnce sync.Once
}

// FeedHub fans confirmed mutations out to connected devices so they can
// refresh without polling. The device that submitted a mutation is excluded
// from its broadcast; it already applied the result from the sync response.
type FeedHub struct {
	clients    map[*FeedClient]bool
	register   chan *FeedClient
	unregister chan *FeedClient
	broadcast  chan *feedMsg
	mu         sync.RWMutex
	logger     *observability.Logger
}

type feedMsg struct {
	excludeDevice string
	message       []byte
}

// NewFeedHub creates a feed hub
func NewFeedHub() *FeedHub {
	return &FeedHub{
		clients:    make(map[*FeedClient]bool),
		register:   make(chan *FeedClient),
		unregister: make(chan *FeedClient),
		broadcast:  make(chan *feedMsg, 256),
		logger:     observability.GetLogger().WithField("component", "feed_hub"),
	}
}

// Run starts the hub's main loop
func (h *FeedHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Infof("feed client connected: device=%s", client.DeviceID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			h.logger.Infof("feed client disconnected: device=%s", client.DeviceID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if msg.excludeDevice != "" && client.DeviceID == msg.excludeDevice {
					continue
				}
				select {
				case client.Send <- msg.message:
				default:
					// Client buffer full, drop the connection
					go func(c *FeedClient) {
						h.unregister <- c
					}(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client to the hub
func (h *FeedHub) Register(client *FeedClient) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *FeedHub) Unregister(client *FeedClient) {
	h.unregister <- client
}

// Broadcast pushes a confirmed mutation to every device except its source
func (h *FeedHub) Broadcast(event models.FeedEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Errorf("failed to marshal feed event: %v", err)
		return
	}

	h.broadcast <- &feedMsg{
		excludeDevice: event.DeviceID,
		message:       data,
	}
}

// ClientCount returns the number of connected clients
func (h *FeedHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient creates a feed client bound to this hub
func (h *FeedHub) NewClient(deviceID string, conn *websocket.Conn) *FeedClient {
	return &FeedClient{
		DeviceID: deviceID,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		hub:      h,
	}
}

// Close closes the client connection
func (c *FeedClient) Close() {
	c.closedOnce.Do(func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	})
}

// WritePump pumps feed events from the hub to the websocket connection
func (c *FeedClient) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.mu.Lock()
			err := c.Conn.WriteMessage(websocket.TextMessage, message)
			c.mu.Unlock()

			if err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump drains the connection to keep ping/pong alive; the feed is
// one-way, inbound messages are discarded
func (c *FeedClient) ReadPump() {
	defer c.Close()

	c.Conn.SetReadLimit(4 * 1024)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnf("feed connection error: %v", err)
			}
			break
		}
	}
}
