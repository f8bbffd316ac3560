package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/vedran77/pulsechat/internal/domain"
)

// ErrDuplicateClientID is returned by Create when the sender already stored a
// message under the same correlation id.
var ErrDuplicateClientID = errors.New("duplicate client id")

// UserRepository is the read side of the user directory.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error)
}

// MessageRepository is the Message Store. Every mutation touches a single
// message record; thread-wide operations are expressed as single statements.
// Lookups return (nil, nil) when nothing matches.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	GetByClientID(ctx context.Context, fromUser uuid.UUID, clientID string) (*domain.Message, error)
	// ListThread returns every message between a and b, newest first.
	ListThread(ctx context.Context, a, b uuid.UUID) ([]domain.Message, error)
	// MarkSeen flips seen on messages from sender to recipient and returns how many changed.
	MarkSeen(ctx context.Context, recipient, sender uuid.UUID) (int64, error)
	UpdateText(ctx context.Context, msg *domain.Message) error
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	// ToggleReaction flips userID's membership in the emoji set and returns the new reaction list.
	ToggleReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) ([]domain.Reaction, error)
	DeleteThread(ctx context.Context, a, b uuid.UUID) (int64, error)
}
