package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"visaconnect-relay/pkg/logger"

	"github.com/gorilla/websocket"
)

var (
	ErrUserNotConnected = errors.New("user not connected")
	ErrRelayClosed      = errors.New("relay closed")
)

// CancelFunc stops a listener. Calling it more than once is allowed.
type CancelFunc = func()

// UpdateFunc receives the latest data of a listened topic.
type UpdateFunc = func(data any)

// TokenVerifier resolves a bearer token to a user id. Verification runs on the
// connection's read pump, which also handles pongs, so the relay cancels ctx
// after Config.WriteWait.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// ConversationListener attaches listeners to one conversation's messages. It
// refuses users who are not participants of the conversation.
type ConversationListener interface {
	ListenConversation(ctx context.Context, userID, conversationID string, onUpdate UpdateFunc) (CancelFunc, error)
}

// UserConversationsListener attaches listeners to a user's conversation list.
type UserConversationsListener interface {
	ListenUserConversations(ctx context.Context, userID string, onUpdate UpdateFunc) (CancelFunc, error)
}

// PresenceTracker records which users hold an authenticated connection.
type PresenceTracker interface {
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
}

type Config struct {
	HeartbeatInterval time.Duration
	WriteWait         time.Duration
	MaxMessageSize    int64
	SendBufferSize    int
	AllowedOrigins    []string
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		WriteWait:         10 * time.Second,
		MaxMessageSize:    64 * 1024,
		SendBufferSize:    256,
	}
}

// Dependencies are the collaborators of the relay. Presence is optional.
type Dependencies struct {
	Verifier          TokenVerifier
	Conversations     ConversationListener
	UserConversations UserConversationsListener
	Presence          PresenceTracker
}

// Relay accepts client sockets, authenticates them and forwards listener
// updates for the topics they subscribe to.
type Relay struct {
	cfg      Config
	deps     Dependencies
	registry *Registry
	upgrader websocket.Upgrader
	logger   *logger.Logger

	listeners atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

func NewRelay(cfg Config, deps Dependencies, log *logger.Logger) *Relay {
	defaults := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaults.WriteWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaults.SendBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		cfg:      cfg,
		deps:     deps,
		registry: NewRegistry(),
		upgrader: NewUpgrader(cfg.AllowedOrigins),
		logger:   log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Run drives the heartbeat until ctx is done or the relay shuts down.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("Relay started", "heartbeatInterval", r.cfg.HeartbeatInterval)
	r.runHeartbeat(ctx)
	r.logger.Info("Relay stopped")
}

// ServeWS upgrades the request and serves the socket until it closes.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	if r.closed.Load() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// The upgrader already replied with an HTTP error.
		r.logger.Warn("Failed to upgrade WebSocket connection", "remoteAddr", req.RemoteAddr, "error", err)
		return
	}

	c := r.ServeConn(conn)
	r.logger.Info("New WebSocket connection established", "connectionID", c.ID(), "remoteAddr", req.RemoteAddr)
}

// ServeConn takes ownership of socket and starts its pumps.
func (r *Relay) ServeConn(socket Socket) *Connection {
	c := newConnection(r.ctx, socket, r.cfg.SendBufferSize, r.logger)
	r.registry.Add(c)
	if r.closed.Load() {
		// Shutdown raced the accept; it may have missed this connection.
		c.terminate()
	}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		c.writePump(r.cfg.WriteWait)
	}()
	go func() {
		defer r.wg.Done()
		defer r.cleanup(c)
		c.readPump(r.cfg.MaxMessageSize, r.dispatch)
	}()
	return c
}

// cleanup is the single exit path of a connection: close, error and heartbeat
// termination all end here. Listeners are cancelled before the registry entry goes.
func (r *Relay) cleanup(c *Connection) {
	for _, sub := range c.drainSubscriptions() {
		r.release(sub)
	}

	userID := c.UserID()
	wasRegistered := r.registry.Remove(c)
	c.terminate()

	if wasRegistered {
		r.setOffline(userID)
		r.logger.Info("Client unregistered", "connectionID", c.ID(), "userID", userID)
	} else {
		r.logger.Debug("Connection closed", "connectionID", c.ID(), "userID", userID)
	}
}

// SendToUser pushes msg to the connection registered for userID.
func (r *Relay) SendToUser(userID string, msg *OutboundMessage) error {
	c, ok := r.registry.Lookup(userID)
	if !ok {
		return ErrUserNotConnected
	}
	return c.Send(msg)
}

// ClientCount is the number of authenticated users connected.
func (r *Relay) ClientCount() int {
	return r.registry.Count()
}

// ListenerCount is the number of live listeners across all connections.
func (r *Relay) ListenerCount() int {
	return int(r.listeners.Load())
}

// Shutdown closes every connection and waits for their cleanup.
func (r *Relay) Shutdown(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrRelayClosed
	}
	r.cancel()

	for _, c := range r.registry.Connections() {
		c.terminate()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("All connections closed")
		return nil
	case <-ctx.Done():
		r.logger.Warn("Timeout waiting for connections to close", "remaining", len(r.registry.Connections()))
		return ctx.Err()
	}
}

func (r *Relay) setOnline(userID string) {
	if r.deps.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteWait)
	defer cancel()
	if err := r.deps.Presence.SetUserOnline(ctx, userID); err != nil {
		r.logger.Warn("Failed to set user online", "userID", userID, "error", err)
	}
}

func (r *Relay) setOffline(userID string) {
	if r.deps.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteWait)
	defer cancel()
	if err := r.deps.Presence.SetUserOffline(ctx, userID); err != nil {
		r.logger.Warn("Failed to set user offline", "userID", userID, "error", err)
	}
}
