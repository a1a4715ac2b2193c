package postgres

import (
	"context"

	"visaconnect-relay/internal/models"

	"gorm.io/gorm"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db}
}

// Create inserts the conversation together with its participants.
func (r *ConversationRepository) Create(ctx context.Context, conversation *models.Conversation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		participants := conversation.Participants
		conversation.Participants = nil
		if err := tx.Create(conversation).Error; err != nil {
			return err
		}
		for i := range participants {
			participants[i].ConversationID = conversation.ID
		}
		if len(participants) > 0 {
			if err := tx.Create(&participants).Error; err != nil {
				return err
			}
		}
		conversation.Participants = participants
		return nil
	})
}

func (r *ConversationRepository) FindByID(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := r.db.WithContext(ctx).Preload("Participants").First(&c, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepository) FindByParticipantKey(ctx context.Context, key string) (*models.Conversation, error) {
	var c models.Conversation
	err := r.db.WithContext(ctx).Preload("Participants").First(&c, "participant_key = ?", key).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListForUser returns the user's conversations, most recently active first.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var c []models.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID).
		Order("conversations.updated_at DESC").
		Find(&c).Error
	return c, err
}

func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}
