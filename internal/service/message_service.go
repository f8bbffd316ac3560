package service

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/vedran77/pulsechat/internal/domain"
	"github.com/vedran77/pulsechat/internal/repository"
	"github.com/vedran77/pulsechat/pkg/validator"
)

const DefaultEditWindow = 60 * time.Second

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".webm": {}, ".m4v": {}, ".mkv": {},
}

type MessageService struct {
	messageRepo repository.MessageRepository
	userRepo    repository.UserRepository
	notifier    Notifier
	clock       Clock
	editWindow  time.Duration
}

func NewMessageService(messageRepo repository.MessageRepository, userRepo repository.UserRepository, editWindow time.Duration) *MessageService {
	if editWindow <= 0 {
		editWindow = DefaultEditWindow
	}
	return &MessageService{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		clock:       NewMonotonicClock(),
		editWindow:  editWindow,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *MessageService) SetClock(c Clock) {
	s.clock = c
}

type SendMessageInput struct {
	ToUser    uuid.UUID  `json:"to_user"`
	Text      string     `json:"text,omitempty"`
	Media     string     `json:"media,omitempty"`
	MediaType string     `json:"media_type,omitempty"`
	ReplyTo   *uuid.UUID `json:"reply_to,omitempty"`
	ClientID  string     `json:"client_id,omitempty"`
}

// Send stores a message from userID and pushes it to the recipient's room.
// A repeated ClientID from the same sender returns the stored message.
func (s *MessageService) Send(ctx context.Context, userID uuid.UUID, input SendMessageInput) (*domain.Message, error) {
	if userID == input.ToUser {
		return nil, ErrCannotMessageSelf
	}
	if errs := validator.ValidateSend(input.Text, input.Media, input.MediaType, input.ClientID); errs.HasErrors() {
		return nil, &ValidationError{Fields: errs}
	}

	recipient, err := s.userRepo.GetByID(ctx, input.ToUser)
	if err != nil {
		return nil, storageErr("looking up recipient", err)
	}
	if recipient == nil {
		return nil, ErrUserNotFound
	}

	if input.ClientID != "" {
		existing, err := s.messageRepo.GetByClientID(ctx, userID, input.ClientID)
		if err != nil {
			return nil, storageErr("looking up client id", err)
		}
		if existing != nil {
			return s.replay(ctx, existing, input.ToUser)
		}
	}

	if input.ReplyTo != nil {
		parent, err := s.messageRepo.GetByID(ctx, *input.ReplyTo)
		if err != nil {
			return nil, storageErr("looking up reply target", err)
		}
		if parent == nil || !parent.Involves(userID, input.ToUser) {
			return nil, ErrReplyNotFound
		}
	}

	msg := &domain.Message{
		ID:          uuid.New(),
		FromUser:    userID,
		ToUser:      input.ToUser,
		MessageType: domain.MessageTypeText,
		ReplyTo:     input.ReplyTo,
		CreatedAt:   s.clock.Now(),
	}
	if text := strings.TrimSpace(input.Text); text != "" {
		msg.Text = &text
	}
	if media := strings.TrimSpace(input.Media); media != "" {
		msg.MediaRef = &media
		msg.MessageType = mediaType(media, input.MediaType)
	}
	if input.ClientID != "" {
		clientID := input.ClientID
		msg.ClientID = &clientID
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		if !errors.Is(err, repository.ErrDuplicateClientID) {
			return nil, storageErr("creating message", err)
		}
		// Lost a race with a retry of the same send.
		existing, err := s.messageRepo.GetByClientID(ctx, userID, input.ClientID)
		if err != nil {
			return nil, storageErr("looking up client id", err)
		}
		if existing == nil {
			return nil, ErrMessageNotFound
		}
		return s.replay(ctx, existing, input.ToUser)
	}

	full, err := s.messageRepo.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, storageErr("reading created message", err)
	}
	if full == nil {
		return nil, ErrMessageNotFound
	}
	if err := s.populate(ctx, full); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.NotifyNewMessage(full)
	}

	return full, nil
}

// replay answers a retried send with the message already stored under its
// correlation id. The id is scoped to one recipient.
func (s *MessageService) replay(ctx context.Context, existing *domain.Message, toUser uuid.UUID) (*domain.Message, error) {
	if existing.ToUser != toUser {
		errs := make(validator.ValidationErrors)
		errs.Add("client_id", "Client id already used for another recipient")
		return nil, &ValidationError{Fields: errs}
	}
	if err := s.populate(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// FetchThread returns every message between userID and otherUserID, newest
// first, after marking the ones addressed to userID as seen.
func (s *MessageService) FetchThread(ctx context.Context, userID, otherUserID uuid.UUID) ([]domain.Message, error) {
	if userID == otherUserID {
		return nil, ErrCannotMessageSelf
	}

	seen, err := s.messageRepo.MarkSeen(ctx, userID, otherUserID)
	if err != nil {
		return nil, storageErr("marking thread seen", err)
	}

	messages, err := s.messageRepo.ListThread(ctx, userID, otherUserID)
	if err != nil {
		return nil, storageErr("listing thread", err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	ptrs := make([]*domain.Message, len(messages))
	for i := range messages {
		ptrs[i] = &messages[i]
	}
	if err := s.populate(ctx, ptrs...); err != nil {
		return nil, err
	}

	if seen > 0 && s.notifier != nil {
		s.notifier.NotifySeen(userID, otherUserID, seen)
	}

	return messages, nil
}

// Edit replaces the text of userID's own message while the edit window is open.
func (s *MessageService) Edit(ctx context.Context, userID, messageID uuid.UUID, text string) (*domain.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, storageErr("reading message", err)
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if msg.FromUser != userID {
		return nil, ErrNotOwner
	}

	now := s.clock.Now()
	if now.Sub(msg.CreatedAt) > s.editWindow {
		return nil, ErrEditWindowExpired
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if errs := validator.ValidateEdit(text); errs.HasErrors() {
		return nil, &ValidationError{Fields: errs}
	}

	msg.Text = &text
	msg.Edited = true
	msg.EditedAt = &now
	if err := s.messageRepo.UpdateText(ctx, msg); err != nil {
		return nil, storageErr("updating message", err)
	}

	updated, err := s.messageRepo.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, storageErr("reading updated message", err)
	}
	if updated == nil {
		return nil, ErrMessageNotFound
	}
	if err := s.populate(ctx, updated); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.NotifyEditedMessage(updated)
	}

	return updated, nil
}

// Delete hard-deletes userID's own message.
func (s *MessageService) Delete(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return storageErr("reading message", err)
	}
	if msg == nil {
		return ErrMessageNotFound
	}
	if msg.FromUser != userID {
		return ErrNotOwner
	}

	deleted, err := s.messageRepo.Delete(ctx, messageID)
	if err != nil {
		return storageErr("deleting message", err)
	}
	if !deleted {
		return ErrMessageNotFound
	}

	if s.notifier != nil {
		s.notifier.NotifyDeletedMessage(msg)
	}

	return nil
}

// React toggles userID's emoji reaction on a message of one of its threads.
func (s *MessageService) React(ctx context.Context, userID, messageID uuid.UUID, emoji string) (*domain.Message, error) {
	if errs := validator.ValidateEmoji(emoji); errs.HasErrors() {
		return nil, ErrInvalidEmoji
	}

	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, storageErr("reading message", err)
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	if msg.FromUser != userID && msg.ToUser != userID {
		return nil, ErrNotParticipant
	}

	reactions, err := s.messageRepo.ToggleReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return nil, storageErr("toggling reaction", err)
	}
	if reactions == nil {
		// Deleted after the read above.
		return nil, ErrMessageNotFound
	}
	msg.Reactions = reactions

	if err := s.populate(ctx, msg); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.NotifyReaction(msg)
	}

	return msg, nil
}

// ClearThread deletes every message between userID and otherUserID,
// whoever sent it, and returns how many were removed.
func (s *MessageService) ClearThread(ctx context.Context, userID, otherUserID uuid.UUID) (int64, error) {
	if userID == otherUserID {
		return 0, ErrCannotMessageSelf
	}

	deleted, err := s.messageRepo.DeleteThread(ctx, userID, otherUserID)
	if err != nil {
		return 0, storageErr("clearing thread", err)
	}

	if deleted > 0 && s.notifier != nil {
		s.notifier.NotifyThreadCleared(userID, otherUserID, deleted)
	}

	return deleted, nil
}

// populate resolves sender and recipient profiles from the user directory.
func (s *MessageService) populate(ctx context.Context, msgs ...*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	ids := lo.Uniq(lo.FlatMap(msgs, func(m *domain.Message, _ int) []uuid.UUID {
		return []uuid.UUID{m.FromUser, m.ToUser}
	}))
	users, err := s.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return storageErr("resolving profiles", err)
	}
	profiles := lo.SliceToMap(users, func(u domain.User) (uuid.UUID, *domain.Profile) {
		return u.ID, u.Profile()
	})

	for _, m := range msgs {
		m.Sender = profiles[m.FromUser]
		m.Recipient = profiles[m.ToUser]
		if m.Reactions == nil {
			m.Reactions = []domain.Reaction{}
		}
	}
	return nil
}

func mediaType(ref, declared string) domain.MessageType {
	switch declared {
	case string(domain.MessageTypeImage):
		return domain.MessageTypeImage
	case string(domain.MessageTypeVideo):
		return domain.MessageTypeVideo
	}

	p := ref
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if _, ok := videoExtensions[strings.ToLower(path.Ext(p))]; ok {
		return domain.MessageTypeVideo
	}
	return domain.MessageTypeImage
}
