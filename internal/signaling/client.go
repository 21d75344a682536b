package signaling

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBufferSize = 256
)

// Client is one peer's signaling channel handle: a WebSocket connection
// plus the buffered send queue and read/write pumps that keep outbound
// writes single-threaded per connection (gorilla/websocket connections are
// not safe for concurrent writers), adapted from the teacher's Hub/Client
// pattern in internals/signaling/websocket.go.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	log  *zap.Logger

	closeOnce sync.Once
	closed    atomic.Bool

	mu       sync.Mutex
	peerID   string
	roomID   string
	onClose  func(*Client)
}

func NewClient(conn *websocket.Conn, log *zap.Logger) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		log:  log.Named("client"),
	}
}

func (c *Client) ID() string { return c.id }

// bindPeer associates this connection with the Peer created on successful
// join-room. Before this call the Client cannot originate any other method.
func (c *Client) bindPeer(roomID, peerID string) {
	c.mu.Lock()
	c.roomID, c.peerID = roomID, peerID
	c.mu.Unlock()
}

func (c *Client) boundPeerID() (string, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.peerID, c.peerID != ""
}

// Send implements peer.Sender: it wraps payload in an Event envelope and
// enqueues it for delivery, never blocking the caller (spec.md §4.5.2:
// emissions are non-blocking enqueues).
func (c *Client) Send(event string, payload interface{}) error {
	b, err := json.Marshal(Event{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event, err)
	}
	return c.enqueue(b)
}

// SendResponse delivers the single acknowledgment for a Request.
func (c *Client) SendResponse(resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	return c.enqueue(b)
}

func (c *Client) enqueue(b []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("client closed")
	}
	select {
	case c.send <- b:
		return nil
	default:
		return fmt.Errorf("send buffer full, dropping message")
	}
}

// ReadPump reads inbound frames and hands each decoded Request to handle.
// Exits (and triggers onClose) when the connection errors or closes.
func (c *Client) ReadPump(handle func(*Client, Request)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(msg, &req); err != nil {
			c.log.Warn("malformed request frame", zap.Error(err))
			continue
		}
		handle(c, req)
	}
}

// WritePump drains the send queue to the connection and keeps it alive
// with periodic pings, mirroring the teacher's Client.WritePump.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}
