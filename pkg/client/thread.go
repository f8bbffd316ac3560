package client

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsechat/internal/domain"
)

var (
	ErrNoThread   = errors.New("no thread open")
	ErrEmptyDraft = errors.New("message needs text or an attachment")
)

// Backend is the server surface the Store drives. *API implements it.
type Backend interface {
	Send(ctx context.Context, req SendRequest) (*Message, error)
	Thread(ctx context.Context, other uuid.UUID) ([]Message, error)
	Edit(ctx context.Context, id uuid.UUID, text string) (*Message, error)
	Delete(ctx context.Context, id uuid.UUID) error
	React(ctx context.Context, id uuid.UUID, emoji string) (*Message, error)
	ClearThread(ctx context.Context, other uuid.UUID) (int64, error)
	Upload(ctx context.Context, name string, r io.Reader, size int64, onProgress ProgressFunc) (*Upload, error)
}

var _ Backend = (*API)(nil)

type NoticeKind string

const (
	// NoticeIncoming carries a message that belongs to a thread not on screen.
	NoticeIncoming NoticeKind = "incoming"
	NoticeFailed   NoticeKind = "failed"
	NoticeServer   NoticeKind = "server"
)

type Notice struct {
	Kind    NoticeKind
	Message *Message
	Err     error
}

// Entry is a message as displayed. Pending entries are local sends the
// server has not confirmed yet; they have no ID, only a ClientID.
type Entry struct {
	Message
	Pending  bool
	Progress float64
}

type Attachment struct {
	Name   string
	Reader io.Reader
	Size   int64
	// Type is shown on the provisional entry until the server classifies it.
	Type MessageType
}

type Draft struct {
	Text       string
	ReplyTo    *uuid.UUID
	Attachment *Attachment
}

type StoreConfig struct {
	Self     uuid.UUID
	OnChange func([]Entry)
	OnNotice func(Notice)
	Now      func() time.Time
}

// Store holds the open thread: ascending by creation time, unique by ID.
// Every mutation is applied whole or not at all.
type Store struct {
	backend  Backend
	self     uuid.UUID
	now      func() time.Time
	onChange func([]Entry)
	onNotice func(Notice)

	mu      sync.Mutex
	peer    uuid.UUID
	gen     uint64
	entries []Entry
	typer   *Typer
	// While a fetch is in flight, confirmed changes are journaled and
	// replayed over its snapshot.
	recording bool
	journal   []func() bool
}

func NewStore(backend Backend, cfg StoreConfig) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		backend:  backend,
		self:     cfg.Self,
		now:      cfg.Now,
		onChange: cfg.OnChange,
		onNotice: cfg.OnNotice,
	}
}

// SetTyper attaches the typing emitter that a send should silence.
func (s *Store) SetTyper(t *Typer) {
	s.mu.Lock()
	s.typer = t
	s.mu.Unlock()
}

// Peer returns the other participant of the open thread.
func (s *Store) Peer() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer, s.peer != uuid.Nil
}

func (s *Store) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

func (s *Store) Groups(now time.Time) []DayGroup {
	return GroupByDay(s.Messages(), now)
}

// Open loads the thread with peer. On failure the previous state is kept.
// When several opens overlap, the latest one wins. Pushes and confirmed
// sends applied while the fetch runs are replayed over the fetched
// snapshot, and a refetch of the same thread keeps pending sends.
func (s *Store) Open(ctx context.Context, peer uuid.UUID) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.recording, s.journal = true, nil
	s.mu.Unlock()

	msgs, err := s.backend.Thread(ctx, peer)
	if err != nil {
		s.mu.Lock()
		if gen == s.gen {
			s.recording, s.journal = false, nil
		}
		s.mu.Unlock()
		s.notice(Notice{Kind: NoticeFailed, Err: err})
		return err
	}

	s.update(func() bool {
		if gen != s.gen {
			return false
		}
		entries := snapshot(msgs)
		if peer == s.peer {
			for _, e := range s.entries {
				if e.Pending {
					entries = append(entries, e)
				}
			}
		}
		sortEntries(entries)

		s.peer = peer
		s.entries = entries
		for _, op := range s.journal {
			op()
		}
		s.recording, s.journal = false, nil
		return true
	})
	return nil
}

// Refresh refetches the open thread, e.g. after the realtime connection
// dropped.
func (s *Store) Refresh(ctx context.Context) error {
	peer, ok := s.Peer()
	if !ok {
		return ErrNoThread
	}
	return s.Open(ctx, peer)
}

func (s *Store) Close() {
	s.update(func() bool {
		s.gen++
		s.peer = uuid.Nil
		s.entries = nil
		s.recording, s.journal = false, nil
		return true
	})
}

// Send shows d immediately as a pending entry, then uploads any attachment
// and sends it. The pending entry is swapped for the stored message by
// correlation id, or removed if anything fails.
func (s *Store) Send(ctx context.Context, d Draft) (*Message, error) {
	if strings.TrimSpace(d.Text) == "" && d.Attachment == nil {
		return nil, ErrEmptyDraft
	}

	clientID := uuid.NewString()
	var peer uuid.UUID
	var typer *Typer
	ok := s.update(func() bool {
		if s.peer == uuid.Nil {
			return false
		}
		peer, typer = s.peer, s.typer
		s.upsert(s.provisional(peer, clientID, d))
		return true
	})
	if !ok {
		return nil, ErrNoThread
	}
	if typer != nil {
		typer.Stop()
	}

	req := SendRequest{ToUser: peer, Text: d.Text, ReplyTo: d.ReplyTo, ClientID: clientID}
	if a := d.Attachment; a != nil {
		up, err := s.backend.Upload(ctx, a.Name, a.Reader, a.Size, func(sent, total int64) {
			s.progress(clientID, sent, total)
		})
		if err != nil {
			s.rollback(clientID, err)
			return nil, err
		}
		req.Media = up.URL
		req.MediaType = string(up.MediaType)
	}

	msg, err := s.backend.Send(ctx, req)
	if err != nil {
		s.rollback(clientID, err)
		return nil, err
	}

	confirmed := func() bool {
		if !s.inThread(msg) {
			return false
		}
		s.upsert(Entry{Message: *msg})
		return true
	}
	s.update(func() bool {
		s.record(confirmed)
		added := confirmed()
		return s.removePending(clientID) || added
	})
	return msg, nil
}

func (s *Store) Edit(ctx context.Context, id uuid.UUID, text string) (*Message, error) {
	msg, err := s.backend.Edit(ctx, id, text)
	if err != nil {
		s.notice(Notice{Kind: NoticeFailed, Err: err})
		return nil, err
	}
	s.apply(func() bool { return s.replace(*msg) })
	return msg, nil
}

func (s *Store) React(ctx context.Context, id uuid.UUID, emoji string) (*Message, error) {
	msg, err := s.backend.React(ctx, id, emoji)
	if err != nil {
		s.notice(Notice{Kind: NoticeFailed, Err: err})
		return nil, err
	}
	s.apply(func() bool { return s.replace(*msg) })
	return msg, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		s.notice(Notice{Kind: NoticeFailed, Err: err})
		return err
	}
	s.apply(func() bool { return s.remove(id) })
	return nil
}

// Clear deletes the whole open thread on the server and empties it locally.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	peer, ok := s.Peer()
	if !ok {
		return 0, ErrNoThread
	}
	n, err := s.backend.ClearThread(ctx, peer)
	if err != nil {
		s.notice(Notice{Kind: NoticeFailed, Err: err})
		return 0, err
	}
	s.apply(func() bool {
		if s.peer != peer {
			return false
		}
		s.entries = nil
		return true
	})
	return n, nil
}

// ApplyEvent folds a realtime push into the open thread. Pushes for other
// threads become notices; typing events are left to an Indicator.
func (s *Store) ApplyEvent(ev Event) {
	switch ev.Kind {
	case EventNewMessage:
		if ev.Message == nil {
			return
		}
		msg := *ev.Message
		if !s.apply(func() bool {
			if !s.inThread(&msg) {
				return false
			}
			s.upsert(Entry{Message: msg})
			return true
		}) {
			s.notice(Notice{Kind: NoticeIncoming, Message: &msg})
		}
	case EventMessageEdited, EventMessageReacted:
		if ev.Message != nil {
			msg := *ev.Message
			s.apply(func() bool { return s.replace(msg) })
		}
	case EventMessageDeleted:
		if ev.Deleted != nil {
			id := ev.Deleted.ID
			s.apply(func() bool { return s.remove(id) })
		}
	case EventThreadCleared:
		if c := ev.Cleared; c != nil {
			s.apply(func() bool {
				if !s.isOpenPair(c.ClearedBy, c.OtherUser) {
					return false
				}
				s.entries = nil
				return true
			})
		}
	case EventMessagesSeen:
		if seen := ev.Seen; seen != nil {
			s.apply(func() bool {
				if seen.SenderID != s.self || seen.ReaderID != s.peer {
					return false
				}
				return s.markSeen()
			})
		}
	case EventError:
		if ev.Err != nil {
			s.notice(Notice{Kind: NoticeServer, Err: ev.Err})
		}
	}
}

func (s *Store) provisional(peer uuid.UUID, clientID string, d Draft) Entry {
	msg := Message{
		FromUser:    s.self,
		ToUser:      peer,
		MessageType: domain.MessageTypeText,
		Reactions:   []Reaction{},
		ReplyTo:     d.ReplyTo,
		ClientID:    &clientID,
		CreatedAt:   s.now(),
	}
	if d.Text != "" {
		text := d.Text
		msg.Text = &text
	}
	if d.Attachment != nil {
		msg.MessageType = d.Attachment.Type
		if !msg.MessageType.IsMedia() {
			msg.MessageType = domain.MessageTypeImage
		}
	}
	return Entry{Message: msg, Pending: true}
}

func (s *Store) progress(clientID string, sent, total int64) {
	if total <= 0 {
		return
	}
	s.update(func() bool {
		i := s.indexByClientID(clientID)
		if i < 0 {
			return false
		}
		s.entries[i].Progress = float64(sent) / float64(total)
		return true
	})
}

func (s *Store) rollback(clientID string, err error) {
	s.update(func() bool { return s.removePending(clientID) })
	s.notice(Notice{Kind: NoticeFailed, Err: err})
}

// update runs fn under the lock and reports the new state when fn changed it.
func (s *Store) update(fn func() bool) bool {
	s.mu.Lock()
	changed := fn()
	var snap []Entry
	if changed {
		snap = slices.Clone(s.entries)
	}
	s.mu.Unlock()

	if changed && s.onChange != nil {
		s.onChange(snap)
	}
	return changed
}

// apply is update for changes that a fetch in flight must not lose.
func (s *Store) apply(op func() bool) bool {
	return s.update(func() bool {
		s.record(op)
		return op()
	})
}

func (s *Store) notice(n Notice) {
	if s.onNotice != nil {
		s.onNotice(n)
	}
}

// The helpers below expect s.mu to be held.

func (s *Store) inThread(m *Message) bool {
	return s.peer != uuid.Nil && m.Involves(s.self, s.peer)
}

func (s *Store) isOpenPair(a, b uuid.UUID) bool {
	return s.peer != uuid.Nil && ((a == s.self && b == s.peer) || (a == s.peer && b == s.self))
}

func (s *Store) record(op func() bool) {
	if s.recording {
		s.journal = append(s.journal, op)
	}
}

func (s *Store) upsert(e Entry) {
	i := s.indexByID(e.ID)
	if i < 0 && e.ClientID != nil {
		i = s.indexByClientID(*e.ClientID)
	}
	if i >= 0 {
		s.entries[i] = e
	} else {
		s.entries = append(s.entries, e)
	}
	sortEntries(s.entries)
}

func (s *Store) replace(m Message) bool {
	i := s.indexByID(m.ID)
	if i < 0 {
		return false
	}
	s.entries[i] = Entry{Message: m}
	return true
}

func (s *Store) remove(id uuid.UUID) bool {
	i := s.indexByID(id)
	if i < 0 {
		return false
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	return true
}

func (s *Store) removePending(clientID string) bool {
	i := s.indexByClientID(clientID)
	if i < 0 || !s.entries[i].Pending {
		return false
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	return true
}

func (s *Store) markSeen() bool {
	changed := false
	for i := range s.entries {
		e := &s.entries[i]
		if e.FromUser == s.self && !e.Pending && !e.Seen {
			e.Seen = true
			changed = true
		}
	}
	return changed
}

func (s *Store) indexByID(id uuid.UUID) int {
	if id == uuid.Nil {
		return -1
	}
	return slices.IndexFunc(s.entries, func(e Entry) bool { return e.ID == id })
}

func (s *Store) indexByClientID(clientID string) int {
	return slices.IndexFunc(s.entries, func(e Entry) bool {
		return e.ClientID != nil && *e.ClientID == clientID
	})
}

// snapshot converts fetched messages to entries, last copy of an ID wins.
func snapshot(msgs []Message) []Entry {
	entries := make([]Entry, 0, len(msgs))
	at := make(map[uuid.UUID]int, len(msgs))
	for _, m := range msgs {
		if i, ok := at[m.ID]; ok {
			entries[i] = Entry{Message: m}
			continue
		}
		at[m.ID] = len(entries)
		entries = append(entries, Entry{Message: m})
	}
	return entries
}

func sortEntries(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
