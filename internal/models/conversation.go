package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

/** --------------------ENTITIES-------------------- */
// Conversation is a direct-message thread between two or more users.
type Conversation struct {
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	// ParticipantKey is the sorted, comma-joined participant set. Unique so a set maps to one thread.
	ParticipantKey      string     `gorm:"uniqueIndex;not null" json:"-"`
	LastMessage         string     `json:"lastMessage"`
	LastMessageSenderID string     `gorm:"type:varchar(128)" json:"lastMessageSenderId"`
	LastMessageAt       *time.Time `gorm:"index" json:"lastMessageAt"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `gorm:"index" json:"updatedAt"`

	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// ParticipantIDs returns the member user ids in stable order.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	sort.Strings(ids)
	return ids
}

// HasParticipant reports whether userID belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ConversationParticipant joins users to conversations.
type ConversationParticipant struct {
	ConversationID string     `gorm:"primaryKey;type:varchar(36)" json:"conversationId"`
	UserID         string     `gorm:"primaryKey;type:varchar(128);index" json:"userId"`
	JoinedAt       time.Time  `gorm:"autoCreateTime" json:"joinedAt"`
	LastReadAt     *time.Time `json:"lastReadAt,omitempty"`
}

// NewParticipantKey normalises a participant list: trims, de-duplicates and sorts.
func NewParticipantKey(userIDs []string) (string, []string) {
	seen := make(map[string]struct{}, len(userIDs))
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return strings.Join(ids, ","), ids
}

/** -------------------- DTOs -------------------- */
// Request
type CreateConversationRequest struct {
	ParticipantIDs []string `json:"participantIds" binding:"required,min=1"`
}

// Response
type ConversationResponse struct {
	ID                  string     `json:"id"`
	ParticipantIDs      []string   `json:"participantIds"`
	LastMessage         string     `json:"lastMessage,omitempty"`
	LastMessageSenderID string     `json:"lastMessageSenderId,omitempty"`
	LastMessageAt       *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

func NewConversationResponse(c *Conversation) ConversationResponse {
	return ConversationResponse{
		ID:                  c.ID,
		ParticipantIDs:      c.ParticipantIDs(),
		LastMessage:         c.LastMessage,
		LastMessageSenderID: c.LastMessageSenderID,
		LastMessageAt:       c.LastMessageAt,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}
