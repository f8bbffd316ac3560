package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsechat/internal/domain"
)

// Event types - Client → Server
const (
	EventJoin       = "join"
	EventTyping     = "typing"
	EventStopTyping = "stopTyping"
	EventPing       = "ping"
)

// Event types - Server → Client
const (
	EventJoined         = "joined"
	EventNewMessage     = "newMessage"
	EventUserTyping     = "userTyping"
	EventUserStopTyping = "userStopTyping"
	EventMessageEdited  = "messageEdited"
	EventMessageDeleted = "messageDeleted"
	EventMessageReacted = "messageReacted"
	EventThreadCleared  = "threadCleared"
	EventMessagesSeen   = "messagesSeen"
	EventPong           = "pong"
	EventError          = "error"
)

// Error codes carried by EventError.
const (
	CodeInvalidPayload   = "INVALID_PAYLOAD"
	CodeUnknownEvent     = "UNKNOWN_EVENT"
	CodeIdentityMismatch = "IDENTITY_MISMATCH"
	CodeNotJoined        = "NOT_JOINED"
	CodeRateLimited      = "RATE_LIMITED"
)

// Event is the envelope for every frame in both directions.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type JoinPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

type TypingPayload struct {
	ToUser uuid.UUID `json:"to_user"`
}

// --- Server → Client payloads ---

type JoinedPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

type MessagePayload struct {
	Message domain.Message `json:"message"`
}

type MessageDeletedPayload struct {
	ID       uuid.UUID `json:"id"`
	FromUser uuid.UUID `json:"from_user"`
	ToUser   uuid.UUID `json:"to_user"`
}

type UserTypingPayload struct {
	FromUser uuid.UUID `json:"from_user"`
}

type ThreadClearedPayload struct {
	ClearedBy    uuid.UUID `json:"cleared_by"`
	OtherUser    uuid.UUID `json:"other_user"`
	DeletedCount int64     `json:"deleted_count"`
}

type MessagesSeenPayload struct {
	ReaderID uuid.UUID `json:"reader_id"`
	SenderID uuid.UUID `json:"sender_id"`
	Count    int64     `json:"count"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event stamped with the current time in
// milliseconds.
func NewEvent(eventType string, payload any) (*Event, error) {
	evt := &Event{Type: eventType, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		evt.Payload = data
	}
	return evt, nil
}

func encodeEvent(eventType string, payload any) ([]byte, error) {
	evt, err := NewEvent(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(evt)
}
