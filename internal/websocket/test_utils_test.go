package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"visaconnect-relay/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var errSocketClosed = errors.New("socket closed")

// fakeSocket is an in-memory Socket. Tests push client frames into inbound and
// read server frames from frames.
type fakeSocket struct {
	inbound   chan []byte
	frames    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	pongHandler func(string) error
	autoPong    bool
	pings       int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan []byte, 64),
		frames:  make(chan []byte, 256),
		closeCh: make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case data := <-s.inbound:
		return websocket.TextMessage, data, nil
	case <-s.closeCh:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	select {
	case <-s.closeCh:
		return errSocketClosed
	default:
	}
	select {
	case s.frames <- data:
		return nil
	default:
		return errors.New("fake socket buffer full")
	}
}

func (s *fakeSocket) WriteControl(messageType int, _ []byte, _ time.Time) error {
	select {
	case <-s.closeCh:
		return errSocketClosed
	default:
	}

	s.mu.Lock()
	if messageType == websocket.PingMessage {
		s.pings++
	}
	handler, auto := s.pongHandler, s.autoPong
	s.mu.Unlock()

	if auto && handler != nil {
		return handler("")
	}
	return nil
}

func (s *fakeSocket) SetPongHandler(h func(string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pongHandler = h
}

func (s *fakeSocket) SetReadLimit(int64)               {}
func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	return nil
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

func (s *fakeSocket) setAutoPong(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoPong = v
}

func (s *fakeSocket) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func (s *fakeSocket) sendRaw(raw string) {
	s.inbound <- []byte(raw)
}

func (s *fakeSocket) sendFrame(msgType MessageType, data any) {
	payload, _ := json.Marshal(data)
	frame, _ := json.Marshal(InboundMessage{Type: msgType, Data: payload})
	s.inbound <- frame
}

// expectFrame returns the next server frame as raw JSON.
func expectFrame(t *testing.T, s *fakeSocket) string {
	t.Helper()
	select {
	case data := <-s.frames:
		return string(data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

func expectNoFrame(t *testing.T, s *fakeSocket, wait time.Duration) {
	t.Helper()
	select {
	case data := <-s.frames:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(wait):
	}
}

func errorFrame(message string) string {
	return fmt.Sprintf(`{"type":"error","message":%q}`, message)
}

type fakeVerifier struct {
	tokens map[string]string
	delay  time.Duration
}

func (v *fakeVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	if v.delay > 0 {
		select {
		case <-time.After(v.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	userID, ok := v.tokens[token]
	if !ok {
		return "", errors.New("invalid token")
	}
	return userID, nil
}

type fakeListener struct {
	key       string
	onUpdate  UpdateFunc
	cancelled atomic.Bool
}

// fakeListeners implements both listener factories. Keys are "conversation:<id>"
// and "user:<id>".
type fakeListeners struct {
	mu      sync.Mutex
	all     []*fakeListener
	fail    error
	members map[string][]string
}

var errNotMember = errors.New("not a participant")

func (f *fakeListeners) add(key string, onUpdate UpdateFunc) (CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	l := &fakeListener{key: key, onUpdate: onUpdate}
	f.all = append(f.all, l)
	return func() { l.cancelled.Store(true) }, nil
}

// ListenConversation admits everyone unless members were set for the conversation.
func (f *fakeListeners) ListenConversation(_ context.Context, userID, conversationID string, onUpdate UpdateFunc) (CancelFunc, error) {
	f.mu.Lock()
	members, restricted := f.members[conversationID]
	f.mu.Unlock()
	if restricted && !slices.Contains(members, userID) {
		return nil, errNotMember
	}
	return f.add("conversation:"+conversationID, onUpdate)
}

func (f *fakeListeners) setMembers(conversationID string, userIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members == nil {
		f.members = make(map[string][]string)
	}
	f.members[conversationID] = userIDs
}

func (f *fakeListeners) ListenUserConversations(_ context.Context, userID string, onUpdate UpdateFunc) (CancelFunc, error) {
	return f.add("user:"+userID, onUpdate)
}

func (f *fakeListeners) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeListeners) snapshot() []*fakeListener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeListener(nil), f.all...)
}

// fire delivers data to every live listener of key, as the data source would.
func (f *fakeListeners) fire(key string, data any) int {
	n := 0
	for _, l := range f.snapshot() {
		if l.key == key && !l.cancelled.Load() {
			l.onUpdate(data)
			n++
		}
	}
	return n
}

// fireLate also hits cancelled listeners, like a callback already in flight when cancel ran.
func (f *fakeListeners) fireLate(key string, data any) {
	for _, l := range f.snapshot() {
		if l.key == key {
			l.onUpdate(data)
		}
	}
}

func (f *fakeListeners) active(key string) int {
	n := 0
	for _, l := range f.snapshot() {
		if l.key == key && !l.cancelled.Load() {
			n++
		}
	}
	return n
}

func (f *fakeListeners) activeTotal() int {
	n := 0
	for _, l := range f.snapshot() {
		if !l.cancelled.Load() {
			n++
		}
	}
	return n
}

func (f *fakeListeners) created() int {
	return len(f.snapshot())
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func (p *fakePresence) SetUserOnline(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = true
	return nil
}

func (p *fakePresence) SetUserOffline(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, userID)
	return nil
}

func (p *fakePresence) isOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

type testRelay struct {
	*Relay
	verifier  *fakeVerifier
	listeners *fakeListeners
	presence  *fakePresence
}

func newTestRelay(t *testing.T, configure ...func(*Config)) *testRelay {
	t.Helper()
	verifier := &fakeVerifier{tokens: map[string]string{
		"validtoken": "u1",
		"token-u2":   "u2",
	}}
	listeners := &fakeListeners{}
	presence := &fakePresence{online: make(map[string]bool)}

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Hour
	for _, fn := range configure {
		fn(&cfg)
	}
	r := NewRelay(cfg, Dependencies{
		Verifier:          verifier,
		Conversations:     listeners,
		UserConversations: listeners,
		Presence:          presence,
	}, logger.NewNop())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return &testRelay{Relay: r, verifier: verifier, listeners: listeners, presence: presence}
}

func (r *testRelay) connect() (*fakeSocket, *Connection) {
	s := newFakeSocket()
	return s, r.ServeConn(s)
}

func (r *testRelay) connectAs(t *testing.T, token string) (*fakeSocket, *Connection) {
	t.Helper()
	s, c := r.connect()
	s.sendFrame(MessageTypeAuthenticate, AuthenticateData{Token: token})
	require.Contains(t, expectFrame(t, s), `"type":"authenticated"`)
	return s, c
}

func subscribeFrame(t *testing.T, s *fakeSocket, topic Topic) string {
	t.Helper()
	s.sendFrame(MessageTypeSubscribe, topic)
	return expectFrame(t, s)
}
