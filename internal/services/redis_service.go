package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"visaconnect-relay/internal/database"
	"visaconnect-relay/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const onlineUsersKey = "online_users"

// ConversationTopic is the pub/sub channel notified when a conversation's messages change.
func ConversationTopic(conversationID string) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

// UserConversationsTopic is the pub/sub channel notified when a user's conversation list changes.
func UserConversationsTopic(userID string) string {
	return fmt.Sprintf("user:%s:conversations", userID)
}

type RedisService struct {
	client *database.RedisClient
	logger *logger.Logger
}

func NewRedisService(client *database.RedisClient, log *logger.Logger) *RedisService {
	return &RedisService{
		client: client,
		logger: log,
	}
}

// =============================================================================
// User Presence
// =============================================================================

func (r *RedisService) SetUserOnline(ctx context.Context, userID string) error {
	pipe := r.client.GetClient().Pipeline()
	statusKey := fmt.Sprintf("user:%s:status", userID)
	now := time.Now().Unix()

	pipe.SAdd(ctx, onlineUsersKey, userID)
	pipe.HSet(ctx, statusKey, map[string]interface{}{
		"status":     "online",
		"last_seen":  now,
		"updated_at": now,
	})
	pipe.Expire(ctx, statusKey, 5*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to set user online", "userID", userID, "error", err)
		return err
	}

	r.logger.Debug("User set to online", "userID", userID)
	return nil
}

func (r *RedisService) SetUserOffline(ctx context.Context, userID string) error {
	pipe := r.client.GetClient().Pipeline()
	statusKey := fmt.Sprintf("user:%s:status", userID)
	now := time.Now().Unix()

	pipe.SRem(ctx, onlineUsersKey, userID)
	pipe.HSet(ctx, statusKey, map[string]interface{}{
		"status":     "offline",
		"last_seen":  now,
		"updated_at": now,
	})
	// Offline status outlives online status so last_seen stays queryable.
	pipe.Expire(ctx, statusKey, 24*time.Hour)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to set user offline", "userID", userID, "error", err)
		return err
	}

	r.logger.Debug("User set to offline", "userID", userID)
	return nil
}

func (r *RedisService) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	return r.client.GetClient().SIsMember(ctx, onlineUsersKey, userID).Result()
}

func (r *RedisService) GetOnlineUsers(ctx context.Context) ([]string, error) {
	return r.client.GetClient().SMembers(ctx, onlineUsersKey).Result()
}

// =============================================================================
// PubSub Operations
// =============================================================================

// ChangeEvent is the payload published on conversation topics. Listeners reload
// state from the database, so the payload only identifies what changed.
type ChangeEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId,omitempty"`
	Timestamp      int64  `json:"timestamp"`
}

func (r *RedisService) PublishConversationChange(ctx context.Context, conversationID string, event ChangeEvent) error {
	return r.publish(ctx, ConversationTopic(conversationID), event)
}

func (r *RedisService) PublishUserConversationsChange(ctx context.Context, userID string, event ChangeEvent) error {
	return r.publish(ctx, UserConversationsTopic(userID), event)
}

func (r *RedisService) publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := r.client.GetClient().Publish(ctx, channel, data).Err(); err != nil {
		r.logger.Error("Failed to publish event", "channel", channel, "error", err)
		return err
	}

	r.logger.Debug("Published event", "channel", channel)
	return nil
}

func (r *RedisService) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	pubsub := r.client.GetClient().Subscribe(ctx, channels...)
	r.logger.Debug("Subscribed to channels", "channels", channels)
	return pubsub
}

// =============================================================================
// Rate Limiting
// =============================================================================

// CheckRateLimit records a hit on key and reports whether it is within limit for the sliding window.
func (r *RedisService) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window).UnixNano()

	pipe := r.client.GetClient().Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return count.Val() < int64(limit), nil
}
