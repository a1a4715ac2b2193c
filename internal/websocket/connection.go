package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"visaconnect-relay/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendQueueFull    = errors.New("send queue full")
)

// Socket is the transport a Connection owns. *websocket.Conn satisfies it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

type subscription struct {
	topic      Topic
	cancel     func()
	generation uint64
}

// Connection is one client socket. It starts unauthenticated; the registry
// records the user on it at authentication.
type Connection struct {
	id     string
	socket Socket
	send   chan []byte
	logger *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	userID        string
	subscriptions map[string]*subscription
	generation    uint64

	alive     atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newConnection(parent context.Context, socket Socket, sendBuffer int, log *logger.Logger) *Connection {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	c := &Connection{
		id:            id,
		socket:        socket,
		send:          make(chan []byte, sendBuffer),
		logger:        log.With("connectionID", id),
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: make(map[string]*subscription),
		done:          make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

func (c *Connection) ID() string {
	return c.id
}

// UserID is empty until the connection authenticates.
func (c *Connection) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Connection) setUserID(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Send queues msg for the write pump. Frames for a closed connection are dropped.
func (c *Connection) Send(msg *OutboundMessage) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.logger.Warn("Send queue full, dropping frame", "userID", c.UserID(), "type", msg.Type)
		return ErrSendQueueFull
	}
}

// terminate closes the socket. The read pump then fails and runs cleanup.
func (c *Connection) terminate() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		close(c.done)
		if err := c.socket.Close(); err != nil {
			c.logger.Debug("Error closing socket", "error", err)
		}
	})
}

func (c *Connection) ping(writeWait time.Duration) error {
	return c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Connection) writePump(writeWait time.Duration) {
	for {
		select {
		case data := <-c.send:
			if err := c.socket.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("Error setting write deadline", "error", err)
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Error writing message", "error", err)
				c.terminate()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump handles frames one at a time, in arrival order, until the socket fails.
func (c *Connection) readPump(maxMessageSize int64, handle func(ctx context.Context, c *Connection, data []byte)) {
	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.IsClosed() {
				c.logger.Error("WebSocket error", "userID", c.UserID(), "error", err)
			} else {
				c.logger.Debug("WebSocket connection closed", "userID", c.UserID(), "error", err)
			}
			return
		}
		handle(c.ctx, c, data)
	}
}

// =============================================================================
// Subscription bookkeeping
// =============================================================================

// reserveSubscription installs a placeholder for key and returns the entry it replaced.
func (c *Connection) reserveSubscription(topic Topic) (reserved, previous *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := topic.Key()
	previous = c.subscriptions[key]
	c.generation++
	reserved = &subscription{topic: topic, generation: c.generation}
	c.subscriptions[key] = reserved
	return reserved, previous
}

// bindSubscription stores the listener's cancel func. It reports false when the
// reservation was withdrawn meanwhile, in which case the caller must cancel.
func (c *Connection) bindSubscription(sub *subscription, cancel func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscriptions[sub.topic.Key()] != sub {
		return false
	}
	sub.cancel = cancel
	return true
}

func (c *Connection) removeSubscription(key string) *subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscriptions[key]
	if !ok {
		return nil
	}
	delete(c.subscriptions, key)
	return sub
}

// withdrawSubscription removes sub only if it is still the entry for its key.
func (c *Connection) withdrawSubscription(sub *subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sub.topic.Key()
	if c.subscriptions[key] == sub {
		delete(c.subscriptions, key)
	}
}

func (c *Connection) drainSubscriptions() []*subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := make([]*subscription, 0, len(c.subscriptions))
	for key, sub := range c.subscriptions {
		subs = append(subs, sub)
		delete(c.subscriptions, key)
	}
	return subs
}

// isCurrent reports whether callbacks of the given generation may still reach the client.
func (c *Connection) isCurrent(key string, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscriptions[key]
	return ok && sub.generation == generation
}

func (c *Connection) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions)
}

// Subscriptions returns the keys of the active subscriptions.
func (c *Connection) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.subscriptions))
	for key := range c.subscriptions {
		keys = append(keys, key)
	}
	return keys
}
