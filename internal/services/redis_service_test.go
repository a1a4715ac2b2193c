package services

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"visaconnect-relay/internal/database"
	"visaconnect-relay/internal/repositories/postgres"
	"visaconnect-relay/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisAddr() string {
	if addr := os.Getenv("REDIS_TEST_ADDR"); addr != "" {
		return addr
	}
	return "localhost:6379"
}

// newTestRedisService skips the test when no Redis server is reachable.
func newTestRedisService(t *testing.T) *RedisService {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr(), DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available at %s: %v", testRedisAddr(), err)
	}
	t.Cleanup(func() { client.Close() })
	return NewRedisService(database.NewRedisClient(client, logger.NewNop()), logger.NewNop())
}

func TestRedisPresence(t *testing.T) {
	r := newTestRedisService(t)
	ctx := context.Background()
	userID := "presence-" + uuid.NewString()

	require.NoError(t, r.SetUserOnline(ctx, userID))
	online, err := r.IsUserOnline(ctx, userID)
	require.NoError(t, err)
	assert.True(t, online)

	require.NoError(t, r.SetUserOffline(ctx, userID))
	online, err = r.IsUserOnline(ctx, userID)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestRedisRateLimit(t *testing.T) {
	r := newTestRedisService(t)
	ctx := context.Background()
	key := fmt.Sprintf("rate_limit:test:%s", uuid.NewString())
	defer r.client.GetClient().Del(ctx, key)

	for i := 0; i < 3; i++ {
		allowed, err := r.CheckRateLimit(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should pass", i)
	}

	allowed, err := r.CheckRateLimit(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestListenerServiceOverRedis(t *testing.T) {
	r := newTestRedisService(t)
	db := newTestDB(t)
	svc := NewListenerService(r.Subscribe(context.Background()), postgres.NewConversationRepository(db),
		postgres.NewMessageRepository(db), logger.NewNop(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)
	defer svc.Close(context.Background())

	conversations := NewConversationService(postgres.NewConversationRepository(db), postgres.NewMessageRepository(db), r, nil, logger.NewNop())
	conv, _, err := conversations.CreateConversation(ctx, "u1", []string{"u2"})
	require.NoError(t, err)
	conversationID := conv.ID

	rec := &updateRecorder{}
	stop, err := svc.ListenConversation(ctx, "u1", conversationID, rec.onUpdate)
	require.NoError(t, err)
	defer stop()
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.PublishConversationChange(ctx, conversationID, ChangeEvent{Type: "message.created"}))
	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 10*time.Millisecond)
}
