package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MaxMessageLength bounds the content of a single message.
const MaxMessageLength = 4000

/** --------------------ENTITIES-------------------- */
// Message is one entry of a conversation.
type Message struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ConversationID string    `gorm:"type:varchar(36);not null;index:idx_messages_conversation_created,priority:1" json:"conversationId"`
	SenderID       string    `gorm:"type:varchar(128);not null" json:"senderId"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conversation_created,priority:2" json:"createdAt"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Validate checks the message content.
func (m *Message) Validate() error {
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return fmt.Errorf("message content is required")
	}
	if len(content) > MaxMessageLength {
		return fmt.Errorf("message content exceeds %d characters", MaxMessageLength)
	}
	return nil
}

/** -------------------- DTOs -------------------- */
// Request
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// Response
type MessageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

func NewMessageResponse(m *Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

type PaginatedMessageResponse struct {
	Items      []MessageResponse `json:"items"`
	Total      int               `json:"total"`
	NextCursor *int64            `json:"nextCursor,omitempty"`
}
