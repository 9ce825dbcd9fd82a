// Package ws is the internal WebSocket broadcast hub, adapted from
// iluha78-FD/internal/api/ws/hub.go: same client-registry/broadcast-loop
// shape, generalised from a stream_id-filtered face-event feed to a
// job_id-filtered progress feed per SPEC_FULL.md's §4.11 supplement.
// It is wired only as a fan-out sink behind internal/progress's
// publisher, never as a new way to submit jobs.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vmatresu/viralclipai-sub001/internal/observability"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // internal dashboard fan-out only, no job intake
	},
}

// Client represents a connected dashboard subscriber, optionally
// filtered to one job.
type Client struct {
	conn  *websocket.Conn
	send  chan []byte
	jobID string
}

// Hub maintains active subscribers and broadcasts progress envelopes.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub event loop. Call this in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("progress ws client connected", "job_filter", client.jobID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			observability.WSConnections.Dec()
			slog.Debug("progress ws client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if client.jobID != "" {
					var envelope struct {
						JobID string `json:"job_id"`
					}
					if err := json.Unmarshal(message, &envelope); err == nil {
						if envelope.JobID != client.jobID {
							continue
						}
					}
				}

				select {
				case client.send <- message:
				default:
					h.mu.RUnlock()
					h.mu.Lock()
					delete(h.clients, client)
					close(client.send)
					h.mu.Unlock()
					h.mu.RLock()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast publishes an already-marshalled progress envelope to every
// subscriber whose job filter matches (or has none).
func (h *Hub) Broadcast(payload []byte) {
	h.broadcast <- payload
}

// HandleWS upgrades a dashboard connection, optionally filtered to one
// job via ?job_id=.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("progress ws upgrade failed", "error", err)
		return
	}

	jobFilter := c.Query("job_id")

	client := &Client{
		conn:  conn,
		send:  make(chan []byte, 64),
		jobID: jobFilter,
	}

	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		// Subscribers are read-only; this loop exists only to detect
		// disconnection.
	}
}
