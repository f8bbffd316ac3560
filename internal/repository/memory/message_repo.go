package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/pulsechat/internal/domain"
	"github.com/vedran77/pulsechat/internal/repository"
)

type storedMessage struct {
	seq int64
	msg domain.Message
}

// MessageRepo is an in-process Message Store used as the test double for the
// Postgres one.
type MessageRepo struct {
	mu       sync.RWMutex
	seq      int64
	messages map[uuid.UUID]*storedMessage
}

func NewMessageRepo() *MessageRepo {
	return &MessageRepo{messages: make(map[uuid.UUID]*storedMessage)}
}

func (r *MessageRepo) Create(_ context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ClientID != nil {
		for _, s := range r.messages {
			if s.msg.FromUser == msg.FromUser && s.msg.ClientID != nil && *s.msg.ClientID == *msg.ClientID {
				return repository.ErrDuplicateClientID
			}
		}
	}

	r.seq++
	stored := cloneMessage(*msg)
	stored.Reactions = []domain.Reaction{}
	r.messages[msg.ID] = &storedMessage{seq: r.seq, msg: stored}
	return nil
}

func (r *MessageRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.messages[id]
	if !ok {
		return nil, nil
	}
	out := cloneMessage(s.msg)
	return &out, nil
}

func (r *MessageRepo) GetByClientID(_ context.Context, fromUser uuid.UUID, clientID string) (*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.messages {
		if s.msg.FromUser == fromUser && s.msg.ClientID != nil && *s.msg.ClientID == clientID {
			out := cloneMessage(s.msg)
			return &out, nil
		}
	}
	return nil, nil
}

func (r *MessageRepo) ListThread(_ context.Context, a, b uuid.UUID) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var thread []*storedMessage
	for _, s := range r.messages {
		if s.msg.Involves(a, b) {
			thread = append(thread, s)
		}
	}
	slices.SortFunc(thread, func(x, y *storedMessage) int {
		if c := y.msg.CreatedAt.Compare(x.msg.CreatedAt); c != 0 {
			return c
		}
		return int(y.seq - x.seq)
	})

	out := make([]domain.Message, 0, len(thread))
	for _, s := range thread {
		out = append(out, cloneMessage(s.msg))
	}
	return out, nil
}

func (r *MessageRepo) MarkSeen(_ context.Context, recipient, sender uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, s := range r.messages {
		if s.msg.ToUser == recipient && s.msg.FromUser == sender && !s.msg.Seen {
			s.msg.Seen = true
			n++
		}
	}
	return n, nil
}

func (r *MessageRepo) UpdateText(_ context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.messages[msg.ID]
	if !ok {
		return nil
	}
	text := msg.TextValue()
	s.msg.Text = &text
	s.msg.Edited = true
	if msg.EditedAt != nil {
		at := *msg.EditedAt
		s.msg.EditedAt = &at
	}
	return nil
}

func (r *MessageRepo) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.messages[id]; !ok {
		return false, nil
	}
	delete(r.messages, id)
	return true, nil
}

func (r *MessageRepo) ToggleReaction(_ context.Context, messageID, userID uuid.UUID, emoji string) ([]domain.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.messages[messageID]
	if !ok {
		return nil, nil
	}
	s.msg.Reactions = domain.ToggleReaction(s.msg.Reactions, emoji, userID)
	return cloneReactions(s.msg.Reactions), nil
}

func (r *MessageRepo) DeleteThread(_ context.Context, a, b uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, s := range r.messages {
		if s.msg.Involves(a, b) {
			delete(r.messages, id)
			n++
		}
	}
	return n, nil
}

func cloneMessage(m domain.Message) domain.Message {
	out := m
	out.Reactions = cloneReactions(m.Reactions)
	if m.Text != nil {
		t := *m.Text
		out.Text = &t
	}
	if m.EditedAt != nil {
		at := *m.EditedAt
		out.EditedAt = &at
	}
	return out
}

func cloneReactions(in []domain.Reaction) []domain.Reaction {
	out := make([]domain.Reaction, len(in))
	for i, r := range in {
		out[i] = domain.Reaction{Emoji: r.Emoji, UserIDs: slices.Clone(r.UserIDs)}
	}
	return out
}
