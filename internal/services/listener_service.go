package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"visaconnect-relay/internal/models"
	"visaconnect-relay/internal/repositories/postgres"
	"visaconnect-relay/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	defaultSnapshotLimit = 50
	snapshotTimeout      = 5 * time.Second
)

var ErrListenerServiceClosed = errors.New("listener service closed")

// TopicSubscriber is the subset of *redis.PubSub the listener service drives.
type TopicSubscriber interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

type snapshotFunc func(ctx context.Context) (any, error)

type topicListeners struct {
	load      snapshotFunc
	callbacks map[uint64]func(data any)
}

// ListenerService turns Redis change notifications into data snapshots pushed to
// registered callbacks. All listeners share one PubSub connection: the first
// listener of a topic subscribes it and the last one to cancel unsubscribes it.
type ListenerService struct {
	subscriber    TopicSubscriber
	conversations *postgres.ConversationRepository
	messages      *postgres.MessageRepository
	logger        *logger.Logger
	snapshotLimit int

	mu     sync.Mutex
	nextID uint64
	topics map[string]*topicListeners
	closed bool

	running atomic.Bool
	done    chan struct{}
}

func NewListenerService(
	subscriber TopicSubscriber,
	conversations *postgres.ConversationRepository,
	messages *postgres.MessageRepository,
	log *logger.Logger,
	snapshotLimit int,
) *ListenerService {
	if snapshotLimit <= 0 {
		snapshotLimit = defaultSnapshotLimit
	}
	return &ListenerService{
		subscriber:    subscriber,
		conversations: conversations,
		messages:      messages,
		logger:        log,
		snapshotLimit: snapshotLimit,
		topics:        make(map[string]*topicListeners),
		done:          make(chan struct{}),
	}
}

// ListenConversation calls onUpdate with the latest messages of the conversation,
// once on attach and again after every change. Only participants may listen.
func (s *ListenerService) ListenConversation(ctx context.Context, userID, conversationID string, onUpdate func(data any)) (func(), error) {
	ok, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check participant: %w", err)
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	load := func(ctx context.Context) (any, error) {
		messages, err := s.messages.ListByConversation(ctx, conversationID, s.snapshotLimit, nil)
		if err != nil {
			return nil, err
		}
		items := make([]models.MessageResponse, 0, len(messages))
		for i := range messages {
			items = append(items, models.NewMessageResponse(&messages[i]))
		}
		return items, nil
	}
	return s.listen(ctx, ConversationTopic(conversationID), load, onUpdate)
}

// ListenUserConversations calls onUpdate with the user's conversation list,
// once on attach and again after every change.
func (s *ListenerService) ListenUserConversations(ctx context.Context, userID string, onUpdate func(data any)) (func(), error) {
	load := func(ctx context.Context) (any, error) {
		conversations, err := s.conversations.ListForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		items := make([]models.ConversationResponse, 0, len(conversations))
		for i := range conversations {
			items = append(items, models.NewConversationResponse(&conversations[i]))
		}
		return items, nil
	}
	return s.listen(ctx, UserConversationsTopic(userID), load, onUpdate)
}

func (s *ListenerService) listen(ctx context.Context, topic string, load snapshotFunc, onUpdate func(data any)) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrListenerServiceClosed
	}

	entry, ok := s.topics[topic]
	if !ok {
		if err := s.subscriber.Subscribe(ctx, topic); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		entry = &topicListeners{load: load, callbacks: make(map[uint64]func(data any))}
		s.topics[topic] = entry
	}
	s.nextID++
	id := s.nextID
	entry.callbacks[id] = onUpdate
	s.mu.Unlock()

	s.logger.Debug("Listener attached", "topic", topic, "listenerID", id)

	// Initial snapshot is delivered off the caller's goroutine, like any later change.
	go s.deliver(topic, load, map[uint64]func(data any){id: onUpdate})

	var once sync.Once
	return func() {
		once.Do(func() { s.detach(topic, id) })
	}, nil
}

func (s *ListenerService) detach(topic string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.topics[topic]
	if !ok {
		return
	}
	delete(entry.callbacks, id)
	if len(entry.callbacks) > 0 {
		return
	}
	delete(s.topics, topic)
	if s.closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := s.subscriber.Unsubscribe(ctx, topic); err != nil {
		s.logger.Warn("Failed to unsubscribe topic", "topic", topic, "error", err)
	}
	s.logger.Debug("Topic released", "topic", topic)
}

// Run forwards notifications until ctx is done or the subscriber is closed.
func (s *ListenerService) Run(ctx context.Context) {
	s.running.Store(true)
	defer close(s.done)

	ch := s.subscriber.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.notify(msg.Channel)
		}
	}
}

// notify reloads the snapshot of topic once and hands it to every callback registered at that moment.
func (s *ListenerService) notify(topic string) {
	s.mu.Lock()
	entry, ok := s.topics[topic]
	if !ok {
		s.mu.Unlock()
		return
	}
	callbacks := make(map[uint64]func(data any), len(entry.callbacks))
	for id, cb := range entry.callbacks {
		callbacks[id] = cb
	}
	load := entry.load
	s.mu.Unlock()

	s.deliver(topic, load, callbacks)
}

func (s *ListenerService) deliver(topic string, load snapshotFunc, callbacks map[uint64]func(data any)) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	data, err := load(ctx)
	if err != nil {
		s.logger.Error("Failed to load snapshot", "topic", topic, "error", err)
		return
	}
	for _, cb := range callbacks {
		cb(data)
	}
}

// TopicCount is the number of topics currently subscribed on Redis.
func (s *ListenerService) TopicCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics)
}

// Close releases the PubSub connection and waits for Run to return when it was started.
func (s *ListenerService) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.subscriber.Close()
	if s.running.Load() {
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	}
	return err
}
