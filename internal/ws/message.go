package ws

import (
	"encoding/json"

	"github.com/chatline/internal/model"
)

type EventType string

const (
	EventJoinUser     EventType = "join_user"
	EventUserStatus   EventType = "user_status"
	EventSendMessage  EventType = "send_message"
	EventNewMessage   EventType = "new_message"
	EventMessageSent  EventType = "message_sent"
	EventTyping       EventType = "typing"
	EventMarkRead     EventType = "mark_read"
	EventMessagesRead EventType = "messages_read"
	EventError        EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type       EventType         `json:"type"`
	ReceiverID string            `json:"receiver_id,omitempty"`
	Content    string            `json:"content,omitempty"`

	// For poll messages
	ContentType model.ContentType `json:"content_type,omitempty"`
	Metadata    json.RawMessage   `json:"metadata,omitempty"`

	// ClientID correlates the sender's optimistic local copy with the
	// persisted message echoed back in message_sent.
	ClientID string `json:"client_id,omitempty"`

	// For mark_read: the conversation partner whose messages were read.
	UserID string `json:"user_id,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// UserStatusPayload is broadcast when a user goes online or offline.
type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// MessageSentPayload is the send confirmation: the persisted message with
// its store-assigned id, plus the sender's correlation id echoed back.
type MessageSentPayload struct {
	*model.Message
	ClientID string `json:"client_id,omitempty"`
}

// TypingPayload is relayed to the other party while a user is typing.
type TypingPayload struct {
	UserID string `json:"user_id"`
}

// MessagesReadPayload notifies the other party that their messages were read.
type MessagesReadPayload struct {
	UserID string `json:"user_id"`
}

// Error codes surfaced over the socket. Validation failures are rejected
// before persistence; store failures are retryable by the caller.
const (
	ErrCodeValidation       = "validation"
	ErrCodeInvalidPoll      = "invalid_poll_payload"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodePartialWrite     = "partial_write"
)

// ErrorPayload is sent to the originating connection only, never broadcast.
type ErrorPayload struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	ClientID string `json:"client_id,omitempty"`
}
