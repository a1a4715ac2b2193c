package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"visaconnect-relay/internal/models"
	"visaconnect-relay/internal/repositories/postgres"
	"visaconnect-relay/pkg/logger"

	"gorm.io/gorm"
)

const (
	DefaultMessagePageSize = 50
	MaxMessagePageSize     = 100
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("user is not a participant of this conversation")
	ErrInvalidParticipants  = errors.New("a conversation needs at least two distinct participants")
	ErrInvalidMessage       = errors.New("invalid message")
)

// ChangeNotifier announces data changes to realtime listeners.
type ChangeNotifier interface {
	PublishConversationChange(ctx context.Context, conversationID string, event ChangeEvent) error
	PublishUserConversationsChange(ctx context.Context, userID string, event ChangeEvent) error
}

// EventPublisher emits domain events to the event stream.
type EventPublisher interface {
	PublishMessageCreated(ctx context.Context, message *models.Message, recipientIDs []string) error
}

type ConversationService struct {
	conversations *postgres.ConversationRepository
	messages      *postgres.MessageRepository
	notifier      ChangeNotifier
	events        EventPublisher
	logger        *logger.Logger
}

// NewConversationService wires the service. events may be nil when no event stream is configured.
func NewConversationService(
	conversations *postgres.ConversationRepository,
	messages *postgres.MessageRepository,
	notifier ChangeNotifier,
	events EventPublisher,
	log *logger.Logger,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		notifier:      notifier,
		events:        events,
		logger:        log,
	}
}

func (s *ConversationService) ListConversations(ctx context.Context, userID string) ([]models.ConversationResponse, error) {
	conversations, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	items := make([]models.ConversationResponse, 0, len(conversations))
	for i := range conversations {
		items = append(items, models.NewConversationResponse(&conversations[i]))
	}
	return items, nil
}

// CreateConversation returns the conversation between creatorID and participantIDs,
// creating it when none exists. created reports whether a new one was stored.
func (s *ConversationService) CreateConversation(ctx context.Context, creatorID string, participantIDs []string) (resp *models.ConversationResponse, created bool, err error) {
	key, ids := models.NewParticipantKey(append([]string{creatorID}, participantIDs...))
	if len(ids) < 2 {
		return nil, false, ErrInvalidParticipants
	}

	existing, err := s.conversations.FindByParticipantKey(ctx, key)
	if err == nil {
		r := models.NewConversationResponse(existing)
		return &r, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up conversation: %w", err)
	}

	conversation := &models.Conversation{ParticipantKey: key}
	for _, id := range ids {
		conversation.Participants = append(conversation.Participants, models.ConversationParticipant{UserID: id})
	}
	if err := s.conversations.Create(ctx, conversation); err != nil {
		// Lost a race against a concurrent create for the same participants.
		if existing, findErr := s.conversations.FindByParticipantKey(ctx, key); findErr == nil {
			r := models.NewConversationResponse(existing)
			return &r, false, nil
		}
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	event := ChangeEvent{Type: "conversation.created", ConversationID: conversation.ID, Timestamp: time.Now().Unix()}
	for _, id := range ids {
		s.publishUserChange(ctx, id, event)
	}

	s.logger.Info("Conversation created", "conversationID", conversation.ID, "participants", len(ids))
	r := models.NewConversationResponse(conversation)
	return &r, true, nil
}

// ListMessages returns a page of history, newest page first, items oldest first.
// before is a unix-millisecond cursor taken from a previous page's NextCursor.
func (s *ConversationService) ListMessages(ctx context.Context, userID, conversationID string, limit int, before *int64) (*models.PaginatedMessageResponse, error) {
	if _, err := s.authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultMessagePageSize
	}
	if limit > MaxMessagePageSize {
		limit = MaxMessagePageSize
	}

	var cursor *time.Time
	if before != nil {
		t := time.UnixMilli(*before)
		cursor = &t
	}

	messages, err := s.messages.ListByConversation(ctx, conversationID, limit, cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	resp := &models.PaginatedMessageResponse{
		Items: make([]models.MessageResponse, 0, len(messages)),
		Total: len(messages),
	}
	for i := range messages {
		resp.Items = append(resp.Items, models.NewMessageResponse(&messages[i]))
	}
	if len(messages) == limit {
		next := messages[0].CreatedAt.UnixMilli()
		resp.NextCursor = &next
	}
	return resp, nil
}

// SendMessage stores a message from senderID and notifies listeners. It returns the
// stored message and the other participants of the conversation.
func (s *ConversationService) SendMessage(ctx context.Context, senderID, conversationID, content string) (*models.MessageResponse, []string, error) {
	conversation, err := s.authorize(ctx, senderID, conversationID)
	if err != nil {
		return nil, nil, err
	}

	message := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        strings.TrimSpace(content),
		CreatedAt:      time.Now(),
	}
	if err := message.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := s.messages.Create(ctx, message); err != nil {
		return nil, nil, fmt.Errorf("failed to store message: %w", err)
	}

	participants := conversation.ParticipantIDs()
	recipients := make([]string, 0, len(participants))
	for _, id := range participants {
		if id != senderID {
			recipients = append(recipients, id)
		}
	}

	// The message is stored; notification failures are logged, not returned.
	event := ChangeEvent{
		Type:           "message.created",
		ConversationID: conversationID,
		MessageID:      message.ID,
		Timestamp:      message.CreatedAt.Unix(),
	}
	if err := s.notifier.PublishConversationChange(ctx, conversationID, event); err != nil {
		s.logger.Warn("Failed to publish conversation change", "conversationID", conversationID, "error", err)
	}
	for _, id := range participants {
		s.publishUserChange(ctx, id, event)
	}
	if s.events != nil {
		if err := s.events.PublishMessageCreated(ctx, message, recipients); err != nil {
			s.logger.Warn("Failed to emit message event", "messageID", message.ID, "error", err)
		}
	}

	resp := models.NewMessageResponse(message)
	return &resp, recipients, nil
}

func (s *ConversationService) authorize(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	conversation, err := s.conversations.FindByID(ctx, conversationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if !conversation.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conversation, nil
}

func (s *ConversationService) publishUserChange(ctx context.Context, userID string, event ChangeEvent) {
	if err := s.notifier.PublishUserConversationsChange(ctx, userID, event); err != nil {
		s.logger.Warn("Failed to publish user conversations change", "userID", userID, "error", err)
	}
}
