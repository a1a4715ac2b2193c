package postgres

import (
	"context"
	"time"

	"visaconnect-relay/internal/models"

	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db}
}

// Create stores the message and records it as the conversation's last message in one transaction.
func (r *MessageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", message.ConversationID).
			Updates(map[string]any{
				"last_message":           message.Content,
				"last_message_sender_id": message.SenderID,
				"last_message_at":        message.CreatedAt,
				"updated_at":             message.CreatedAt,
			}).Error
	})
}

// ListByConversation returns up to limit messages older than before (all when nil), oldest first.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string, limit int, before *time.Time) ([]models.Message, error) {
	q := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}

	var messages []models.Message
	if err := q.Order("created_at DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
