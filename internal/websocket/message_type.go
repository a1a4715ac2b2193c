package websocket

import (
	"encoding/json"
	"fmt"
)

// MessageType is the discriminator of every frame exchanged on the relay socket.
type MessageType string

const (
	// Client to server
	MessageTypeAuthenticate MessageType = "authenticate"
	MessageTypeSubscribe    MessageType = "subscribe"
	MessageTypeUnsubscribe  MessageType = "unsubscribe"

	// Server to client
	MessageTypeAuthenticated MessageType = "authenticated"
	MessageTypeSubscribed    MessageType = "subscribed"
	MessageTypeUnsubscribed  MessageType = "unsubscribed" // ack of an unsubscribe that removed a listener
	MessageTypeUpdate        MessageType = "update"
	MessageTypeNotification  MessageType = "notification"
	MessageTypeError         MessageType = "error"
)

func (mt MessageType) String() string {
	return string(mt)
}

// IsInbound reports whether clients may send frames of this type.
func (mt MessageType) IsInbound() bool {
	switch mt {
	case MessageTypeAuthenticate, MessageTypeSubscribe, MessageTypeUnsubscribe:
		return true
	default:
		return false
	}
}

// Error texts sent to clients.
const (
	ErrMsgInvalidFormat       = "Invalid message format"
	ErrMsgUnknownType         = "Unknown message type"
	ErrMsgNotAuthenticated    = "Client not authenticated"
	ErrMsgTokenRequired       = "Token is required"
	ErrMsgAuthFailed          = "Authentication failed"
	ErrMsgConversationID      = "Conversation ID is required"
	ErrMsgUnknownSubscription = "Unknown subscription type"
	ErrMsgSubscribeFailed     = "Failed to subscribe"
)

// TopicKind names what a subscription listens to.
type TopicKind string

const (
	TopicConversation      TopicKind = "conversation"
	TopicUserConversations TopicKind = "userConversations"
)

// Topic is the payload of subscribe and unsubscribe frames.
type Topic struct {
	Type           TopicKind `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
}

// Key identifies the subscription within one connection.
func (t Topic) Key() string {
	if t.Type == TopicConversation {
		return fmt.Sprintf("%s:%s", t.Type, t.ConversationID)
	}
	return string(t.Type)
}

// Validate returns the client-facing error text for a malformed topic, or "".
func (t Topic) Validate() string {
	switch t.Type {
	case TopicConversation:
		if t.ConversationID == "" {
			return ErrMsgConversationID
		}
	case TopicUserConversations:
	default:
		return ErrMsgUnknownSubscription
	}
	return ""
}

// InboundMessage is a client frame. Data is decoded by the handler of Type.
type InboundMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type AuthenticateData struct {
	Token string `json:"token"`
}

// OutboundMessage is a server frame.
type OutboundMessage struct {
	Type    MessageType `json:"type"`
	UserID  string      `json:"userId,omitempty"`
	Data    any         `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// UpdateData wraps a listener payload. Type is "messages" or "conversations".
type UpdateData struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	Data           any    `json:"data"`
}

func NewAuthenticatedMessage(userID string) *OutboundMessage {
	return &OutboundMessage{Type: MessageTypeAuthenticated, UserID: userID}
}

func NewSubscribedMessage(topic Topic) *OutboundMessage {
	return &OutboundMessage{Type: MessageTypeSubscribed, Data: topic}
}

func NewUnsubscribedMessage(topic Topic) *OutboundMessage {
	return &OutboundMessage{Type: MessageTypeUnsubscribed, Data: topic}
}

func NewUpdateMessage(topic Topic, data any) *OutboundMessage {
	update := UpdateData{Type: "conversations", Data: data}
	if topic.Type == TopicConversation {
		update.Type = "messages"
		update.ConversationID = topic.ConversationID
	}
	return &OutboundMessage{Type: MessageTypeUpdate, Data: update}
}

func NewNotificationMessage(data any) *OutboundMessage {
	return &OutboundMessage{Type: MessageTypeNotification, Data: data}
}

func NewErrorMessage(message string) *OutboundMessage {
	return &OutboundMessage{Type: MessageTypeError, Message: message}
}
