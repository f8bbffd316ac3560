package client

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type SessionConfig struct {
	BaseURL string
	Token   string
	Self    uuid.UUID

	OnChange func([]Entry)
	OnNotice func(Notice)
	OnTyping func(from uuid.UUID, typing bool)
	// OnDisconnect reports a dropped realtime connection. Call Reconnect and
	// Store.Refresh to recover.
	OnDisconnect func(error)
}

// Session ties the REST client, the realtime connection and the thread
// store together for one signed-in user.
type Session struct {
	cfg SessionConfig

	API    *API
	Store  *Store
	Typing *Indicator

	mu       sync.Mutex
	realtime *Realtime
	typer    *Typer
}

func Connect(ctx context.Context, cfg SessionConfig, opts ...Option) (*Session, error) {
	api := NewAPI(cfg.BaseURL, cfg.Token, opts...)
	s := &Session{
		cfg: cfg,
		API: api,
		Store: NewStore(api, StoreConfig{
			Self:     cfg.Self,
			OnChange: cfg.OnChange,
			OnNotice: cfg.OnNotice,
		}),
		Typing: NewIndicator(TypingTimeout, cfg.OnTyping),
	}
	if err := s.Reconnect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reconnect dials a fresh realtime connection, replacing any previous one.
func (s *Session) Reconnect(ctx context.Context) error {
	rt, err := Dial(ctx, s.cfg.BaseURL, RealtimeConfig{
		UserID:       s.cfg.Self,
		Token:        s.cfg.Token,
		OnEvent:      s.dispatch,
		OnDisconnect: s.cfg.OnDisconnect,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.realtime
	s.realtime = rt
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if peer, ok := s.Store.Peer(); ok {
		s.attachTyper(peer)
	}
	return nil
}

// OpenThread loads the conversation with peer and points typing signals at
// them.
func (s *Session) OpenThread(ctx context.Context, peer uuid.UUID) error {
	if err := s.Store.Open(ctx, peer); err != nil {
		return err
	}
	s.attachTyper(peer)
	return nil
}

func (s *Session) CloseThread() {
	s.attachTyper(uuid.Nil)
	s.Store.Close()
}

// Keystroke feeds local input activity to the typing emitter.
func (s *Session) Keystroke() {
	s.mu.Lock()
	t := s.typer
	s.mu.Unlock()
	if t != nil {
		t.Keystroke()
	}
}

func (s *Session) Close() error {
	s.attachTyper(uuid.Nil)
	s.mu.Lock()
	rt := s.realtime
	s.realtime = nil
	s.mu.Unlock()
	if rt == nil {
		return nil
	}
	return rt.Close()
}

func (s *Session) dispatch(ev Event) {
	s.Typing.Apply(ev)
	s.Store.ApplyEvent(ev)
}

func (s *Session) attachTyper(peer uuid.UUID) {
	s.mu.Lock()
	old := s.typer
	s.typer = nil
	if peer != uuid.Nil && s.realtime != nil {
		s.typer = NewTyper(s.realtime.TypingEmitter(peer), TypingDebounce, TypingIdle)
	}
	t := s.typer
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	s.Store.SetTyper(t)
}
