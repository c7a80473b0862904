package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type ContentType string

const (
	ContentTypeText ContentType = "text"
	ContentTypePoll ContentType = "poll"
)

// ErrInvalidPollPayload is returned when a poll message carries metadata
// that does not parse into a question with at least two options.
var ErrInvalidPollPayload = errors.New("invalid poll payload")

// Message is a direct message between two users. Content is immutable once
// created; only the read flag is flipped afterwards.
type Message struct {
	ID          string          `json:"id"`
	SenderID    string          `json:"sender_id"`
	ReceiverID  string          `json:"receiver_id"`
	Content     string          `json:"content"`
	ContentType ContentType     `json:"type"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	IsRead      bool            `json:"is_read"`
	CreatedAt   time.Time       `json:"created_at"`
	Sender      *UserPublic     `json:"sender,omitempty"`
	Receiver    *UserPublic     `json:"receiver,omitempty"`
	Poll        *Poll           `json:"poll,omitempty"`
}

// PollMetadata is the typed payload of a poll message.
type PollMetadata struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// ParsePollMetadata parses and validates poll metadata. It is called before
// anything is persisted: a message that fails here must not reach the store.
func ParsePollMetadata(raw []byte) (*PollMetadata, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidPollPayload
	}
	var meta PollMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, ErrInvalidPollPayload
	}
	meta.Question = strings.TrimSpace(meta.Question)
	if meta.Question == "" || len(meta.Options) < 2 {
		return nil, ErrInvalidPollPayload
	}
	for i, opt := range meta.Options {
		meta.Options[i] = strings.TrimSpace(opt)
		if meta.Options[i] == "" {
			return nil, ErrInvalidPollPayload
		}
	}
	return &meta, nil
}
