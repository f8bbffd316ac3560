package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsechat/internal/domain"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu      sync.Mutex
	thread  []Message
	sendErr error
	// gate, when set, holds Send until it is closed.
	gate    chan struct{}
	sent    []SendRequest
	editErr error
	cleared int64
	// fetching and release, when set, hold Thread after it has read the
	// thread until release is closed.
	fetching chan struct{}
	release  chan struct{}
}

func (b *fakeBackend) Send(ctx context.Context, req SendRequest) (*Message, error) {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	b.sent = append(b.sent, req)
	msg := Message{
		ID:          uuid.New(),
		FromUser:    me,
		ToUser:      req.ToUser,
		MessageType: domain.MessageTypeText,
		Reactions:   []Reaction{},
		ClientID:    &req.ClientID,
		CreatedAt:   t0.Add(time.Hour),
	}
	if req.Text != "" {
		msg.Text = &req.Text
	}
	if req.Media != "" {
		msg.MediaRef = &req.Media
		msg.MessageType = MessageType(req.MediaType)
	}
	return &msg, nil
}

func (b *fakeBackend) Thread(ctx context.Context, _ uuid.UUID) ([]Message, error) {
	b.mu.Lock()
	thread := append([]Message(nil), b.thread...)
	missing := b.thread == nil
	fetching, release := b.fetching, b.release
	b.mu.Unlock()

	if fetching != nil {
		fetching <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if missing {
		return nil, errors.New("unavailable")
	}
	return thread, nil
}

func (b *fakeBackend) Edit(_ context.Context, id uuid.UUID, text string) (*Message, error) {
	if b.editErr != nil {
		return nil, b.editErr
	}
	return &Message{ID: id, Text: &text, Edited: true}, nil
}

func (b *fakeBackend) Delete(context.Context, uuid.UUID) error { return nil }

func (b *fakeBackend) React(_ context.Context, id uuid.UUID, emoji string) (*Message, error) {
	return &Message{ID: id, Reactions: []Reaction{{Emoji: emoji}}}, nil
}

func (b *fakeBackend) ClearThread(context.Context, uuid.UUID) (int64, error) {
	return b.cleared, nil
}

func (b *fakeBackend) Upload(_ context.Context, name string, r io.Reader, size int64, onProgress ProgressFunc) (*Upload, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	onProgress(size/2, size)
	onProgress(size, size)
	return &Upload{URL: "https://media.example.com/" + name, MediaType: domain.MessageTypeImage, Size: size}, nil
}

type recorder struct {
	mu      sync.Mutex
	changes [][]Entry
	notices []Notice
}

func (r *recorder) change(e []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, e)
}

func (r *recorder) notice(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) noticeKinds() []NoticeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []NoticeKind
	for _, n := range r.notices {
		out = append(out, n.Kind)
	}
	return out
}

var (
	me   = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	peer = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	far  = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
)

func msgAt(from, to uuid.UUID, text string, at time.Time) Message {
	return Message{
		ID:          uuid.New(),
		FromUser:    from,
		ToUser:      to,
		Text:        &text,
		MessageType: domain.MessageTypeText,
		Reactions:   []Reaction{},
		CreatedAt:   at,
	}
}

func openStore(t *testing.T, thread ...Message) (*Store, *fakeBackend, *recorder) {
	t.Helper()
	b := &fakeBackend{thread: append([]Message{}, thread...)}
	rec := &recorder{}
	s := NewStore(b, StoreConfig{Self: me, OnChange: rec.change, OnNotice: rec.notice, Now: func() time.Time { return t0.Add(30 * time.Minute) }})
	require.NoError(t, s.Open(context.Background(), peer))
	return s, b, rec
}

func texts(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.TextValue())
	}
	return out
}

func TestOpenSortsAscendingAndDedups(t *testing.T) {
	first := msgAt(peer, me, "first", t0)
	second := msgAt(me, peer, "second", t0.Add(time.Minute))

	s, _, _ := openStore(t, second, first, second)

	assert.Equal(t, []string{"first", "second"}, texts(s.Messages()))
	got, ok := s.Peer()
	assert.True(t, ok)
	assert.Equal(t, peer, got)
}

func TestOpenFailureKeepsState(t *testing.T) {
	s, b, rec := openStore(t, msgAt(peer, me, "kept", t0))

	b.mu.Lock()
	b.thread = nil
	b.mu.Unlock()

	err := s.Open(context.Background(), far)
	require.Error(t, err)
	assert.Equal(t, []string{"kept"}, texts(s.Messages()))
	got, _ := s.Peer()
	assert.Equal(t, peer, got)
	assert.Equal(t, []NoticeKind{NoticeFailed}, rec.noticeKinds())
}

// blockRefresh starts a Refresh whose fetch has read the thread but not
// returned. The returned func lets it finish.
func blockRefresh(t *testing.T, s *Store, b *fakeBackend) func() {
	t.Helper()
	b.mu.Lock()
	b.fetching = make(chan struct{}, 1)
	b.release = make(chan struct{})
	b.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background()) }()

	select {
	case <-b.fetching:
	case <-time.After(time.Second):
		t.Fatal("refresh never fetched")
	}
	return func() {
		close(b.release)
		require.NoError(t, <-done)
	}
}

func TestRefreshKeepsPushesThatRaceTheFetch(t *testing.T) {
	a := msgAt(peer, me, "a", t0)
	gone := msgAt(me, peer, "gone", t0.Add(30*time.Second))
	s, b, _ := openStore(t, a, gone)

	finish := blockRefresh(t, s, b)

	fresh := msgAt(peer, me, "b", t0.Add(time.Minute))
	s.ApplyEvent(Event{Kind: EventNewMessage, Message: &fresh})
	s.ApplyEvent(Event{Kind: EventMessageDeleted, Deleted: &MessageRef{ID: gone.ID, FromUser: me, ToUser: peer}})
	edited := a
	text := "a edited"
	edited.Text, edited.Edited = &text, true
	s.ApplyEvent(Event{Kind: EventMessageEdited, Message: &edited})
	assert.Equal(t, []string{"a edited", "b"}, texts(s.Messages()))

	finish()

	entries := s.Messages()
	assert.Equal(t, []string{"a edited", "b"}, texts(entries))
	assert.True(t, entries[0].Edited)
}

func TestRefreshKeepsPendingSend(t *testing.T) {
	s, b, _ := openStore(t, msgAt(peer, me, "a", t0))
	b.gate = make(chan struct{})

	sent := make(chan *Message, 1)
	go func() {
		msg, err := s.Send(context.Background(), Draft{Text: "later"})
		assert.NoError(t, err)
		sent <- msg
	}()
	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, time.Second, 5*time.Millisecond)

	blockRefresh(t, s, b)()

	entries := s.Messages()
	require.Len(t, entries, 2)
	assert.True(t, entries[1].Pending)

	close(b.gate)
	msg := <-sent
	entries = s.Messages()
	require.Len(t, entries, 2)
	assert.False(t, entries[1].Pending)
	assert.Equal(t, msg.ID, entries[1].ID)
}

func TestRefreshKeepsSendConfirmedDuringFetch(t *testing.T) {
	s, b, _ := openStore(t, msgAt(peer, me, "a", t0))

	finish := blockRefresh(t, s, b)
	msg, err := s.Send(context.Background(), Draft{Text: "mid"})
	require.NoError(t, err)
	finish()

	entries := s.Messages()
	assert.Equal(t, []string{"a", "mid"}, texts(entries))
	assert.Equal(t, msg.ID, entries[1].ID)
	assert.False(t, entries[1].Pending)
}

func TestSendIsOptimisticAndReconciles(t *testing.T) {
	s, b, _ := openStore(t, msgAt(peer, me, "hey", t0))
	b.gate = make(chan struct{})

	done := make(chan *Message, 1)
	go func() {
		msg, err := s.Send(context.Background(), Draft{Text: "hello"})
		assert.NoError(t, err)
		done <- msg
	}()

	require.Eventually(t, func() bool { return len(s.Messages()) == 2 }, time.Second, 5*time.Millisecond)
	pending := s.Messages()[1]
	assert.True(t, pending.Pending)
	assert.Equal(t, uuid.Nil, pending.ID)
	assert.Equal(t, "hello", pending.TextValue())
	require.NotNil(t, pending.ClientID)

	close(b.gate)
	msg := <-done

	entries := s.Messages()
	require.Len(t, entries, 2)
	assert.False(t, entries[1].Pending)
	assert.Equal(t, msg.ID, entries[1].ID)
	assert.Equal(t, *pending.ClientID, *entries[1].ClientID)
	assert.Equal(t, *pending.ClientID, b.sent[0].ClientID)
}

func TestSendFailureRollsBack(t *testing.T) {
	s, b, rec := openStore(t, msgAt(peer, me, "hey", t0))
	b.sendErr = &APIError{Status: 400, Code: "EMPTY_TEXT"}

	_, err := s.Send(context.Background(), Draft{Text: "oops"})
	require.Error(t, err)
	assert.True(t, IsCode(err, "EMPTY_TEXT"))

	assert.Equal(t, []string{"hey"}, texts(s.Messages()))
	assert.Equal(t, []NoticeKind{NoticeFailed}, rec.noticeKinds())
}

func TestSendReportsUploadProgress(t *testing.T) {
	s, b, rec := openStore(t)

	msg, err := s.Send(context.Background(), Draft{Attachment: &Attachment{
		Name:   "cat.png",
		Reader: strings.NewReader(strings.Repeat("x", 100)),
		Size:   100,
	}})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageTypeImage, msg.MessageType)
	assert.Equal(t, "https://media.example.com/cat.png", b.sent[0].Media)

	var seen []float64
	rec.mu.Lock()
	for _, c := range rec.changes {
		for _, e := range c {
			if e.Pending {
				seen = append(seen, e.Progress)
			}
		}
	}
	rec.mu.Unlock()
	assert.Equal(t, []float64{0, 0.5, 1}, seen)

	entries := s.Messages()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Pending)
}

func TestSendRejectsEmptyDraftAndClosedThread(t *testing.T) {
	s, _, _ := openStore(t)

	_, err := s.Send(context.Background(), Draft{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyDraft)

	s.Close()
	_, err = s.Send(context.Background(), Draft{Text: "hi"})
	assert.ErrorIs(t, err, ErrNoThread)
	assert.Empty(t, s.Messages())
}

func TestSendStopsTyping(t *testing.T) {
	s, _, _ := openStore(t)

	var mu sync.Mutex
	var signals []bool
	typer := NewTyper(func(typing bool) {
		mu.Lock()
		signals = append(signals, typing)
		mu.Unlock()
	}, 5*time.Millisecond, time.Minute)
	s.SetTyper(typer)

	typer.Keystroke()
	require.Eventually(t, typer.Active, time.Second, time.Millisecond)

	_, err := s.Send(context.Background(), Draft{Text: "done"})
	require.NoError(t, err)

	assert.False(t, typer.Active())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, signals)
}

func TestApplyNewMessage(t *testing.T) {
	s, _, rec := openStore(t, msgAt(me, peer, "one", t0))

	incoming := msgAt(peer, me, "two", t0.Add(time.Minute))
	s.ApplyEvent(Event{Kind: EventNewMessage, Message: &incoming})
	s.ApplyEvent(Event{Kind: EventNewMessage, Message: &incoming})
	assert.Equal(t, []string{"one", "two"}, texts(s.Messages()))

	elsewhere := msgAt(far, me, "psst", t0.Add(2*time.Minute))
	s.ApplyEvent(Event{Kind: EventNewMessage, Message: &elsewhere})
	assert.Equal(t, []string{"one", "two"}, texts(s.Messages()))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.notices, 1)
	assert.Equal(t, NoticeIncoming, rec.notices[0].Kind)
	assert.Equal(t, elsewhere.ID, rec.notices[0].Message.ID)
}

func TestApplyOutOfOrderPushKeepsAscending(t *testing.T) {
	s, _, _ := openStore(t, msgAt(me, peer, "late", t0.Add(time.Minute)))

	early := msgAt(peer, me, "early", t0)
	s.ApplyEvent(Event{Kind: EventNewMessage, Message: &early})

	assert.Equal(t, []string{"early", "late"}, texts(s.Messages()))
}

func TestApplyEditAndReactInPlace(t *testing.T) {
	orig := msgAt(me, peer, "draft", t0)
	s, _, _ := openStore(t, orig)

	edited := orig
	text := "final"
	edited.Text = &text
	edited.Edited = true
	s.ApplyEvent(Event{Kind: EventMessageEdited, Message: &edited})

	reacted := edited
	reacted.Reactions = []Reaction{{Emoji: "👍", UserIDs: []uuid.UUID{peer}}}
	s.ApplyEvent(Event{Kind: EventMessageReacted, Message: &reacted})

	entries := s.Messages()
	require.Len(t, entries, 1)
	assert.Equal(t, "final", entries[0].TextValue())
	assert.True(t, entries[0].Edited)
	assert.Len(t, entries[0].Reactions, 1)

	// An edit for a message we do not hold is not resurrected.
	ghost := msgAt(me, peer, "ghost", t0)
	s.ApplyEvent(Event{Kind: EventMessageEdited, Message: &ghost})
	assert.Len(t, s.Messages(), 1)
}

func TestApplyDeleteAndClear(t *testing.T) {
	a := msgAt(me, peer, "a", t0)
	b := msgAt(peer, me, "b", t0.Add(time.Second))
	s, _, _ := openStore(t, a, b)

	s.ApplyEvent(Event{Kind: EventMessageDeleted, Deleted: &MessageRef{ID: a.ID, FromUser: me, ToUser: peer}})
	assert.Equal(t, []string{"b"}, texts(s.Messages()))

	s.ApplyEvent(Event{Kind: EventThreadCleared, Cleared: &ThreadCleared{ClearedBy: far, OtherUser: me}})
	assert.Len(t, s.Messages(), 1)

	s.ApplyEvent(Event{Kind: EventThreadCleared, Cleared: &ThreadCleared{ClearedBy: peer, OtherUser: me, DeletedCount: 1}})
	assert.Empty(t, s.Messages())
}

func TestApplySeenMarksOwnMessages(t *testing.T) {
	mine := msgAt(me, peer, "mine", t0)
	theirs := msgAt(peer, me, "theirs", t0.Add(time.Second))
	s, _, _ := openStore(t, mine, theirs)

	s.ApplyEvent(Event{Kind: EventMessagesSeen, Seen: &MessagesSeen{ReaderID: far, SenderID: me, Count: 1}})
	assert.False(t, s.Messages()[0].Seen)

	s.ApplyEvent(Event{Kind: EventMessagesSeen, Seen: &MessagesSeen{ReaderID: peer, SenderID: me, Count: 1}})
	entries := s.Messages()
	assert.True(t, entries[0].Seen)
	assert.False(t, entries[1].Seen)
}

func TestMutationFailureLeavesStateUntouched(t *testing.T) {
	orig := msgAt(me, peer, "same", t0)
	s, b, rec := openStore(t, orig)
	b.editErr = &APIError{Status: 409, Code: "EDIT_WINDOW_EXPIRED"}

	_, err := s.Edit(context.Background(), orig.ID, "changed")
	require.Error(t, err)
	assert.Equal(t, []string{"same"}, texts(s.Messages()))
	assert.Equal(t, []NoticeKind{NoticeFailed}, rec.noticeKinds())
}

func TestStoreMutations(t *testing.T) {
	a := msgAt(me, peer, "a", t0)
	s, b, _ := openStore(t, a)

	_, err := s.Edit(context.Background(), a.ID, "a2")
	require.NoError(t, err)
	assert.Equal(t, "a2", s.Messages()[0].TextValue())

	_, err = s.React(context.Background(), a.ID, "🔥")
	require.NoError(t, err)
	assert.Equal(t, "🔥", s.Messages()[0].Reactions[0].Emoji)

	require.NoError(t, s.Delete(context.Background(), a.ID))
	assert.Empty(t, s.Messages())

	b.cleared = 3
	n, err := s.Clear(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestServerErrorEventBecomesNotice(t *testing.T) {
	s, _, rec := openStore(t)
	s.ApplyEvent(Event{Kind: EventError, Err: &ServerError{Code: "RATE_LIMITED", Message: "slow down"}})
	assert.Equal(t, []NoticeKind{NoticeServer}, rec.noticeKinds())
}

func TestProvisionalAttachmentType(t *testing.T) {
	s, _, _ := openStore(t)

	video := s.provisional(peer, "c1", Draft{Attachment: &Attachment{Name: "clip.mp4", Type: domain.MessageTypeVideo}})
	assert.Equal(t, domain.MessageTypeVideo, video.MessageType)

	// Attachments are never shown as text.
	odd := s.provisional(peer, "c2", Draft{Attachment: &Attachment{Name: "x", Type: domain.MessageTypeText}})
	assert.Equal(t, domain.MessageTypeImage, odd.MessageType)
	assert.True(t, odd.Pending)
}
