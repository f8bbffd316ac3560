package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsechat/internal/domain"
	"github.com/vedran77/pulsechat/internal/repository/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Microsecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu      sync.Mutex
	events  []string
	created []*domain.Message
	seen    map[uuid.UUID]int64
}

func (n *recordingNotifier) record(kind string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, kind)
}

func (n *recordingNotifier) NotifyNewMessage(msg *domain.Message) {
	n.record("new")
	n.mu.Lock()
	n.created = append(n.created, msg)
	n.mu.Unlock()
}
func (n *recordingNotifier) NotifyEditedMessage(*domain.Message)  { n.record("edited") }
func (n *recordingNotifier) NotifyDeletedMessage(*domain.Message) { n.record("deleted") }
func (n *recordingNotifier) NotifyReaction(*domain.Message)       { n.record("reaction") }
func (n *recordingNotifier) NotifyThreadCleared(uuid.UUID, uuid.UUID, int64) {
	n.record("cleared")
}
func (n *recordingNotifier) NotifySeen(reader, _ uuid.UUID, count int64) {
	n.record("seen")
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.seen == nil {
		n.seen = make(map[uuid.UUID]int64)
	}
	n.seen[reader] += count
}

type fixture struct {
	svc      *MessageService
	clock    *fakeClock
	notifier *recordingNotifier
	alice    uuid.UUID
	bob      uuid.UUID
	carol    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:    &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
		alice:    uuid.New(),
		bob:      uuid.New(),
		carol:    uuid.New(),
	}
	users := memory.NewUserRepo(
		domain.User{ID: f.alice, Username: "alice", DisplayName: "Alice"},
		domain.User{ID: f.bob, Username: "bob", DisplayName: "Bob"},
		domain.User{ID: f.carol, Username: "carol", DisplayName: "Carol"},
	)
	f.svc = NewMessageService(memory.NewMessageRepo(), users, DefaultEditWindow)
	f.svc.SetClock(f.clock)
	f.svc.SetNotifier(f.notifier)
	return f
}

func (f *fixture) send(t *testing.T, from, to uuid.UUID, text string) *domain.Message {
	t.Helper()
	msg, err := f.svc.Send(context.Background(), from, SendMessageInput{ToUser: to, Text: text})
	require.NoError(t, err)
	return msg
}

func TestSend_PushesAndFetchMarksSeen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg := f.send(t, f.alice, f.bob, "hi")
	assert.Equal(t, "hi", msg.TextValue())
	assert.Equal(t, f.alice, msg.FromUser)
	assert.Equal(t, domain.MessageTypeText, msg.MessageType)
	assert.False(t, msg.Seen)
	require.NotNil(t, msg.Sender)
	assert.Equal(t, "alice", msg.Sender.Username)
	assert.Equal(t, "bob", msg.Recipient.Username)

	require.Len(t, f.notifier.created, 1)
	assert.Equal(t, "hi", f.notifier.created[0].TextValue())
	assert.Equal(t, f.alice, f.notifier.created[0].FromUser)

	for range 3 {
		thread, err := f.svc.FetchThread(ctx, f.bob, f.alice)
		require.NoError(t, err)
		require.Len(t, thread, 1)
		assert.Equal(t, msg.ID, thread[0].ID)
		assert.True(t, thread[0].Seen)
	}
	assert.Equal(t, int64(1), f.notifier.seen[f.bob])
}

func TestFetchThread_OnlyMarksMessagesToReader(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, f.alice, f.bob, "one")
	f.send(t, f.bob, f.alice, "two")

	thread, err := f.svc.FetchThread(ctx, f.alice, f.bob)
	require.NoError(t, err)
	require.Len(t, thread, 2)

	// newest first
	assert.Equal(t, "two", thread[0].TextValue())
	assert.True(t, thread[0].Seen)
	assert.Equal(t, "one", thread[1].TextValue())
	assert.False(t, thread[1].Seen)
}

func TestSend_ImageOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, f.alice, SendMessageInput{
		ToUser: f.bob,
		Media:  "https://cdn.example.com/u/cat.png",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypeImage, msg.MessageType)
	assert.Nil(t, msg.Text)
	require.NotNil(t, msg.MediaRef)

	thread, err := f.svc.FetchThread(ctx, f.alice, f.bob)
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, msg.MediaRef, thread[0].MediaRef)
	assert.Equal(t, msg.MessageType, thread[0].MessageType)
	assert.Equal(t, msg.CreatedAt, thread[0].CreatedAt)
}

func TestSend_VideoInferredFromExtension(t *testing.T) {
	f := newFixture(t)

	msg, err := f.svc.Send(context.Background(), f.alice, SendMessageInput{
		ToUser: f.bob,
		Media:  "https://cdn.example.com/u/clip.MP4?sig=abc",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypeVideo, msg.MessageType)
}

func TestSend_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, f.alice, SendMessageInput{ToUser: f.bob, Text: "  "})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Send(ctx, f.alice, SendMessageInput{ToUser: f.alice, Text: "me"})
	assert.ErrorIs(t, err, ErrCannotMessageSelf)

	_, err = f.svc.Send(ctx, f.alice, SendMessageInput{ToUser: uuid.New(), Text: "who"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	other := f.send(t, f.alice, f.carol, "elsewhere")
	_, err = f.svc.Send(ctx, f.alice, SendMessageInput{ToUser: f.bob, Text: "re", ReplyTo: &other.ID})
	assert.ErrorIs(t, err, ErrReplyNotFound)

	assert.Len(t, f.notifier.created, 1)
}

func TestSend_ReplyInThread(t *testing.T) {
	f := newFixture(t)

	parent := f.send(t, f.bob, f.alice, "question?")
	reply, err := f.svc.Send(context.Background(), f.alice, SendMessageInput{ToUser: f.bob, Text: "answer", ReplyTo: &parent.ID})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, parent.ID, *reply.ReplyTo)
}

func TestSend_ClientIDIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := SendMessageInput{ToUser: f.bob, Text: "once", ClientID: "tmp-1"}
	first, err := f.svc.Send(ctx, f.alice, in)
	require.NoError(t, err)
	second, err := f.svc.Send(ctx, f.alice, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.ClientID)
	assert.Equal(t, "tmp-1", *second.ClientID)

	thread, err := f.svc.FetchThread(ctx, f.bob, f.alice)
	require.NoError(t, err)
	assert.Len(t, thread, 1)
	assert.Len(t, f.notifier.created, 1)
}

func TestEdit_Window(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{name: "59s", elapsed: 59 * time.Second},
		{name: "just under 60s", elapsed: 60*time.Second - 10*time.Microsecond},
		{name: "61s", elapsed: 61 * time.Second, wantErr: ErrEditWindowExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			msg := f.send(t, f.alice, f.bob, "helo")
			f.clock.Advance(tt.elapsed)

			edited, err := f.svc.Edit(context.Background(), f.alice, msg.ID, "hello")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "hello", edited.TextValue())
			assert.True(t, edited.Edited)
			require.NotNil(t, edited.EditedAt)
			assert.True(t, edited.EditedAt.After(msg.CreatedAt))
		})
	}
}

func TestEdit_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.send(t, f.alice, f.bob, "original")

	_, err := f.svc.Edit(ctx, f.bob, msg.ID, "hijack")
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = f.svc.Edit(ctx, f.alice, msg.ID, " \t ")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = f.svc.Edit(ctx, f.alice, uuid.New(), "x")
	assert.ErrorIs(t, err, ErrMessageNotFound)

	thread, err := f.svc.FetchThread(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.Equal(t, "original", thread[0].TextValue())
	assert.False(t, thread[0].Edited)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.send(t, f.alice, f.bob, "oops")

	err := f.svc.Delete(ctx, f.bob, msg.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, f.svc.Delete(ctx, f.alice, msg.ID))

	thread, err := f.svc.FetchThread(ctx, f.bob, f.alice)
	require.NoError(t, err)
	assert.Empty(t, thread)

	assert.ErrorIs(t, f.svc.Delete(ctx, f.alice, msg.ID), ErrMessageNotFound)
	assert.Contains(t, f.notifier.events, "deleted")
}

func TestReact_ToggleIsItsOwnInverse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.send(t, f.alice, f.bob, "nice")

	once, err := f.svc.React(ctx, f.bob, msg.ID, "👍")
	require.NoError(t, err)
	require.Len(t, once.Reactions, 1)
	assert.Equal(t, []uuid.UUID{f.bob}, once.Reactions[0].UserIDs)

	twice, err := f.svc.React(ctx, f.bob, msg.ID, "👍")
	require.NoError(t, err)
	assert.Empty(t, twice.Reactions)
}

func TestReact_Commutative(t *testing.T) {
	for _, aliceFirst := range []bool{true, false} {
		f := newFixture(t)
		ctx := context.Background()
		msg := f.send(t, f.alice, f.bob, "party")

		first, second := f.alice, f.bob
		if !aliceFirst {
			first, second = f.bob, f.alice
		}
		_, err := f.svc.React(ctx, first, msg.ID, "👍")
		require.NoError(t, err)
		got, err := f.svc.React(ctx, second, msg.ID, "👍")
		require.NoError(t, err)

		require.Len(t, got.Reactions, 1)
		assert.ElementsMatch(t, []uuid.UUID{f.alice, f.bob}, got.Reactions[0].UserIDs)
	}
}

func TestReact_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := f.send(t, f.alice, f.bob, "hey")

	_, err := f.svc.React(ctx, f.bob, msg.ID, "lol")
	assert.ErrorIs(t, err, ErrInvalidEmoji)

	_, err = f.svc.React(ctx, f.carol, msg.ID, "👍")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.svc.React(ctx, f.bob, uuid.New(), "👍")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

// vanishingStore deletes the message between the service's read and the toggle.
type vanishingStore struct {
	*memory.MessageRepo
}

func (s vanishingStore) ToggleReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) ([]domain.Reaction, error) {
	if _, err := s.MessageRepo.Delete(ctx, messageID); err != nil {
		return nil, err
	}
	return s.MessageRepo.ToggleReaction(ctx, messageID, userID, emoji)
}

func TestReact_MessageDeletedMidway(t *testing.T) {
	f := newFixture(t)
	repo := memory.NewMessageRepo()
	f.svc.messageRepo = vanishingStore{repo}
	msg := f.send(t, f.alice, f.bob, "going away")

	_, err := f.svc.React(context.Background(), f.bob, msg.ID, "👍")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	assert.NotContains(t, f.notifier.events, "reaction")
}

func TestClearThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.send(t, f.alice, f.bob, "1")
	f.send(t, f.bob, f.alice, "2")
	f.send(t, f.alice, f.carol, "3")

	n, err := f.svc.ClearThread(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	thread, err := f.svc.FetchThread(ctx, f.alice, f.bob)
	require.NoError(t, err)
	assert.Empty(t, thread)

	other, err := f.svc.FetchThread(ctx, f.alice, f.carol)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestSend_DurableWithoutNotifier(t *testing.T) {
	f := newFixture(t)
	f.svc.SetNotifier(nil)

	msg := f.send(t, f.alice, f.bob, "nobody listening")

	thread, err := f.svc.FetchThread(context.Background(), f.bob, f.alice)
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, msg.ID, thread[0].ID)
}

type brokenStore struct {
	*memory.MessageRepo
}

func (brokenStore) Create(context.Context, *domain.Message) error {
	return errors.New("connection refused")
}

func TestSend_StorageFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.messageRepo = brokenStore{memory.NewMessageRepo()}

	_, err := f.svc.Send(context.Background(), f.alice, SendMessageInput{ToUser: f.bob, Text: "lost"})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Empty(t, f.notifier.created)
}

func TestMonotonicClock(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &MonotonicClock{now: func() time.Time { return fixed }}

	a, b := c.Now(), c.Now()
	assert.True(t, b.After(a))
	assert.Equal(t, time.Microsecond, b.Sub(a))
}

func TestSend_ClientIDScopedToRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, f.alice, SendMessageInput{ToUser: f.bob, Text: "a", ClientID: "same"})
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, f.alice, SendMessageInput{ToUser: f.carol, Text: "b", ClientID: "same"})
	assert.ErrorIs(t, err, ErrValidation)
}
