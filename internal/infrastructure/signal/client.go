package signal

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

// Client is one signaling connection. Its outbound queue is drained by a
// single writer goroutine so per-client order is preserved.
type Client struct {
	id      string
	userID  domain.UserID
	conn    *websocket.Conn
	limiter *rate.Limiter

	lastSeen atomic.Int64

	mu       sync.RWMutex
	streamID domain.StreamID
	role     domain.ClientRole
	send     chan []byte
	closed   bool
}

func newClient(conn *websocket.Conn, userID domain.UserID, queueSize int, limiter *rate.Limiter) *Client {
	c := &Client{
		id:      uuid.NewString(),
		userID:  userID,
		conn:    conn,
		limiter: limiter,
		send:    make(chan []byte, queueSize),
	}
	c.touch()
	return c
}

func (c *Client) ID() string            { return c.id }
func (c *Client) UserID() domain.UserID { return c.userID }

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Stream returns the joined stream and role, empty when not joined.
func (c *Client) Stream() (domain.StreamID, domain.ClientRole) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamID, c.role
}

func (c *Client) setStream(streamID domain.StreamID, role domain.ClientRole) {
	c.mu.Lock()
	c.streamID = streamID
	c.role = role
	c.mu.Unlock()
}

// clearStream resets the membership only if it still points at streamID.
func (c *Client) clearStream(streamID domain.StreamID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamID != streamID {
		return false
	}
	c.streamID = ""
	c.role = ""
	return true
}

func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// enqueue never blocks. It returns false when the queue is full or closed.
func (c *Client) enqueue(msg Message) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return c.enqueueRaw(payload)
}

func (c *Client) enqueueRaw(payload []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// close ends the write loop once the queued frames are flushed.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
