package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
)

func (t MessageType) IsMedia() bool {
	return t == MessageTypeImage || t == MessageTypeVideo
}

type Message struct {
	ID          uuid.UUID   `json:"id"`
	FromUser    uuid.UUID   `json:"from_user"`
	ToUser      uuid.UUID   `json:"to_user"`
	Text        *string     `json:"text,omitempty"`
	MediaRef    *string     `json:"media_ref,omitempty"`
	MessageType MessageType `json:"message_type"`
	Seen        bool        `json:"seen"`
	Edited      bool        `json:"edited"`
	EditedAt    *time.Time  `json:"edited_at,omitempty"`
	Reactions   []Reaction  `json:"reactions"`
	ReplyTo     *uuid.UUID  `json:"reply_to,omitempty"`
	ClientID    *string     `json:"client_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	// Resolved from the user directory, not persisted
	Sender    *Profile `json:"sender,omitempty"`
	Recipient *Profile `json:"recipient,omitempty"`
}

// Involves reports whether the message belongs to the thread between a and b.
func (m *Message) Involves(a, b uuid.UUID) bool {
	return (m.FromUser == a && m.ToUser == b) || (m.FromUser == b && m.ToUser == a)
}

// Peer returns the other participant from userID's point of view.
func (m *Message) Peer(userID uuid.UUID) uuid.UUID {
	if m.FromUser == userID {
		return m.ToUser
	}
	return m.FromUser
}

func (m *Message) TextValue() string {
	if m.Text == nil {
		return ""
	}
	return *m.Text
}
