package websocket

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Connection abstracts the underlying websocket connection so client
// plumbing can be exercised without a network peer.
type Connection interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	RemoteAddr() string
	Close() error
}

type gorillaConn struct {
	*websocket.Conn
}

func (g gorillaConn) RemoteAddr() string {
	return g.Conn.RemoteAddr().String()
}

// Client is a middleman between one websocket connection and the hub
type Client struct {
	hub  *Hub
	conn Connection

	// Buffered channel of outbound messages
	send chan []byte

	id          string
	remoteAddr  string
	connectedAt time.Time

	logger *slog.Logger
}

// NewClient wraps a gorilla connection for the hub
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return newClient(hub, gorillaConn{conn}, logger)
}

// NewClientWithConnection creates a client over a custom connection,
// used by tests.
func NewClientWithConnection(hub *Hub, conn Connection, logger *slog.Logger) *Client {
	return newClient(hub, conn, logger)
}

func newClient(hub *Hub, conn Connection, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		id:          id,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger: logger.With(
			slog.String("component", "websocket.client"),
			slog.String("client_id", id),
		),
	}
}

// ReadPump drains inbound frames. Shells are consumers only; anything
// they send beyond keepalives is discarded.
func (c *Client) ReadPump() {
	defer func() {
		c.logger.Info("shell connection closed",
			slog.Duration("connection_duration", time.Since(c.connectedAt)),
		)
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("unexpected websocket close",
					slog.String("error", err.Error()))
			}
			return
		}
	}
}

// WritePump pumps hub broadcasts to the websocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("failed to write to shell",
					slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS attaches an upgraded connection to the hub and starts its pumps
func ServeWS(hub *Hub, conn *websocket.Conn, logger *slog.Logger) {
	client := NewClient(hub, conn, logger)
	client.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}
