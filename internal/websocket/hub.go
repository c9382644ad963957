// Package websocket fans runner events out to attached presentation
// shells. The hub keeps the set of connected clients and broadcasts
// each license event as one JSON message; a shell that lags is
// disconnected rather than allowed to stall the license loop.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"guardcli/internal/license"
)

// Hub maintains the set of active clients and broadcasts events
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger

	totalConnections int64
	messagesSent     int64

	quit    chan struct{}
	running bool
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
	}
}

// Start launches the hub's main loop. A stopped hub can be started
// again; each start gets a fresh shutdown signal.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.quit = make(chan struct{})
	quit := h.quit
	h.mu.Unlock()

	go h.run(quit)
}

// run dispatches register/unregister/broadcast traffic
func (h *Hub) run(quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("hub shut down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalConnections++
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("shell attached",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", count),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("shell detached",
				slog.String("client_id", client.id),
				slog.Int("total_clients", count),
			)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
					h.messagesSent++
				default:
					// Slow consumer: drop the connection, not the loop
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down and disconnects all clients
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	quit := h.quit
	h.mu.Unlock()
	close(quit)
}

// BroadcastEvent sends one license event to every attached shell
func (h *Hub) BroadcastEvent(event license.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode event", slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Debug("broadcast queue full, event dropped",
			slog.String("type", string(event.Type)),
		)
	}
}

// ClientCount returns the number of attached shells
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
