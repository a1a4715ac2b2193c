package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"visaconnect-relay/internal/models"
	"visaconnect-relay/internal/repositories/postgres"
	"visaconnect-relay/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	mu           sync.Mutex
	subscribed   map[string]int
	unsubscribed []string
	failNext     error
	ch           chan *redis.Message
	closeOnce    sync.Once
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{subscribed: make(map[string]int), ch: make(chan *redis.Message, 16)}
}

func (f *fakeSubscriber) Subscribe(_ context.Context, channels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	for _, c := range channels {
		f.subscribed[c]++
	}
	return nil
}

func (f *fakeSubscriber) Unsubscribe(_ context.Context, channels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, channels...)
	return nil
}

func (f *fakeSubscriber) Channel(...redis.ChannelOption) <-chan *redis.Message { return f.ch }

func (f *fakeSubscriber) Close() error {
	f.closeOnce.Do(func() { close(f.ch) })
	return nil
}

func (f *fakeSubscriber) publish(channel string) {
	f.ch <- &redis.Message{Channel: channel, Payload: "{}"}
}

func (f *fakeSubscriber) subscribeCount(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[channel]
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []any
}

func (r *updateRecorder) onUpdate(data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, data)
}

func (r *updateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *updateRecorder) last() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

type listenerFixture struct {
	svc       *ListenerService
	sub       *fakeSubscriber
	convs     *ConversationService
	cancelRun context.CancelFunc
}

func newListenerFixture(t *testing.T) *listenerFixture {
	t.Helper()
	db := newTestDB(t)
	conversations := postgres.NewConversationRepository(db)
	messages := postgres.NewMessageRepository(db)

	sub := newFakeSubscriber()
	svc := NewListenerService(sub, conversations, messages, logger.NewNop(), 10)
	ctx, cancel := context.WithCancel(context.Background())
	go svc.Run(ctx)

	f := &listenerFixture{
		svc:       svc,
		sub:       sub,
		convs:     NewConversationService(conversations, messages, &recordingNotifier{}, nil, logger.NewNop()),
		cancelRun: cancel,
	}
	t.Cleanup(func() {
		cancel()
		_ = svc.Close(context.Background())
	})
	return f
}

func TestListenConversationDeliversSnapshots(t *testing.T) {
	f := newListenerFixture(t)
	ctx := context.Background()

	conv, _, err := f.convs.CreateConversation(ctx, "u1", []string{"u2"})
	require.NoError(t, err)

	rec := &updateRecorder{}
	cancel, err := f.svc.ListenConversation(ctx, "u2", conv.ID, rec.onUpdate)
	require.NoError(t, err)
	defer cancel()

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.last())

	_, _, err = f.convs.SendMessage(ctx, "u1", conv.ID, "hello")
	require.NoError(t, err)
	f.sub.publish(ConversationTopic(conv.ID))

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	items, ok := rec.last().([]models.MessageResponse)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "hello", items[0].Content)
}

func TestListenUserConversationsDeliversSnapshots(t *testing.T) {
	f := newListenerFixture(t)
	ctx := context.Background()

	rec := &updateRecorder{}
	cancel, err := f.svc.ListenUserConversations(ctx, "u1", rec.onUpdate)
	require.NoError(t, err)
	defer cancel()
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	_, _, err = f.convs.CreateConversation(ctx, "u1", []string{"u2"})
	require.NoError(t, err)
	f.sub.publish(UserConversationsTopic("u1"))

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	items, ok := rec.last().([]models.ConversationResponse)
	require.True(t, ok)
	assert.Len(t, items, 1)
}

func TestListenersShareOneTopicSubscription(t *testing.T) {
	f := newListenerFixture(t)
	ctx := context.Background()
	conv, _, err := f.convs.CreateConversation(ctx, "u1", []string{"u2"})
	require.NoError(t, err)
	topic := ConversationTopic(conv.ID)

	a, b := &updateRecorder{}, &updateRecorder{}
	cancelA, err := f.svc.ListenConversation(ctx, "u1", conv.ID, a.onUpdate)
	require.NoError(t, err)
	cancelB, err := f.svc.ListenConversation(ctx, "u2", conv.ID, b.onUpdate)
	require.NoError(t, err)

	assert.Equal(t, 1, f.sub.subscribeCount(topic))
	assert.Equal(t, 1, f.svc.TopicCount())

	require.Eventually(t, func() bool { return a.count() == 1 && b.count() == 1 }, time.Second, 5*time.Millisecond)
	f.sub.publish(topic)
	require.Eventually(t, func() bool { return a.count() == 2 && b.count() == 2 }, time.Second, 5*time.Millisecond)

	cancelA()
	cancelA()
	assert.Empty(t, f.sub.unsubscribed)

	f.sub.publish(topic)
	require.Eventually(t, func() bool { return b.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, a.count())

	cancelB()
	assert.Equal(t, []string{topic}, f.sub.unsubscribed)
	assert.Equal(t, 0, f.svc.TopicCount())
}

func TestListenSubscribeFailure(t *testing.T) {
	f := newListenerFixture(t)
	conv, _, err := f.convs.CreateConversation(context.Background(), "u1", []string{"u2"})
	require.NoError(t, err)
	f.sub.failNext = errors.New("redis down")

	_, err = f.svc.ListenConversation(context.Background(), "u1", conv.ID, func(any) {})
	assert.Error(t, err)
	assert.Equal(t, 0, f.svc.TopicCount())
}

func TestListenAfterClose(t *testing.T) {
	f := newListenerFixture(t)
	require.NoError(t, f.svc.Close(context.Background()))

	_, err := f.svc.ListenUserConversations(context.Background(), "u1", func(any) {})
	assert.ErrorIs(t, err, ErrListenerServiceClosed)
}

func TestListenConversationRefusesOutsiders(t *testing.T) {
	f := newListenerFixture(t)
	ctx := context.Background()

	conv, _, err := f.convs.CreateConversation(ctx, "u1", []string{"u2"})
	require.NoError(t, err)
	_, _, err = f.convs.SendMessage(ctx, "u1", conv.ID, "private")
	require.NoError(t, err)

	rec := &updateRecorder{}
	_, err = f.svc.ListenConversation(ctx, "intruder", conv.ID, rec.onUpdate)
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.svc.ListenConversation(ctx, "u1", "missing", rec.onUpdate)
	assert.ErrorIs(t, err, ErrNotParticipant)

	assert.Equal(t, 0, f.svc.TopicCount())
	assert.Equal(t, 0, f.sub.subscribeCount(ConversationTopic(conv.ID)))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}
