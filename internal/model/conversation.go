package model

import "time"

// ConversationSummary is one row of a user's conversation list: the other
// party, unread count and last-message preview. It is a read-only projection
// computed at fetch time, not separately persisted.
type ConversationSummary struct {
	User            UserPublic `json:"user"`
	UnreadCount     int        `json:"unread_count"`
	LastMessage     *Message   `json:"last_message,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
	Online          bool       `json:"online"`
}
