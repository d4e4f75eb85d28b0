package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong reply from the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize is the maximum inbound message size in bytes.
	maxMessageSize = 64 * 1024
	// sendBuffer bounds the frames queued for one client.
	sendBuffer = 256
)

// Client represents a single WebSocket connection. ID is the subscription
// id; ClientID is the optional application-level identity supplied on
// connect.
type Client struct {
	ID       string
	ClientID string
	conn     *websocket.Conn
	send     chan []byte
	// closed is guarded by the hub mutex.
	closed bool
}

// NewClient creates a Client with a fresh subscription id.
func NewClient(conn *websocket.Conn, clientID string) *Client {
	return &Client{
		ID:       uuid.New().String(),
		ClientID: clientID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}
}

// closeLocked closes the send channel once. Must be called with the hub
// mutex held for writing.
func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump reads frames from the connection and hands them to s. It runs in
// its own goroutine per client and runs the disconnect path when the
// connection ends.
func (c *Client) ReadPump(s *Server) {
	defer func() {
		s.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug().Err(err).Str("subscription_id", c.ID).Msg("read error")
			}
			return
		}
		s.handleFrame(c, msg)
	}
}

// WritePump pumps frames from the send channel to the connection. It runs
// in its own goroutine per client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
