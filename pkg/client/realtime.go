package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event kinds pushed by the server.
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

const joinTimeout = 10 * time.Second

var ErrNotConnected = errors.New("realtime: not connected")

type MessageRef struct {
	ID       uuid.UUID `json:"id"`
	FromUser uuid.UUID `json:"from_user"`
	ToUser   uuid.UUID `json:"to_user"`
}

type ThreadCleared struct {
	ClearedBy    uuid.UUID `json:"cleared_by"`
	OtherUser    uuid.UUID `json:"other_user"`
	DeletedCount int64     `json:"deleted_count"`
}

type MessagesSeen struct {
	ReaderID uuid.UUID `json:"reader_id"`
	SenderID uuid.UUID `json:"sender_id"`
	Count    int64     `json:"count"`
}

type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string { return e.Code + ": " + e.Message }

// Event is a decoded server push. Only the field matching Kind is set.
type Event struct {
	Kind     string
	Message  *Message
	Deleted  *MessageRef
	FromUser uuid.UUID
	Cleared  *ThreadCleared
	Seen     *MessagesSeen
	Err      *ServerError
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type command struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type RealtimeConfig struct {
	// UserID is the room to join. The server rejects anything other than the
	// identity behind Token.
	UserID uuid.UUID
	Token  string
	// OnEvent receives pushes in arrival order on the read goroutine.
	OnEvent func(Event)
	// OnDisconnect fires once when the connection drops without Close being
	// called. There is no automatic reconnect; refetch the thread instead.
	OnDisconnect func(error)
}

type Realtime struct {
	conn *websocket.Conn
	cfg  RealtimeConfig

	mu          sync.Mutex
	intentional bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// Dial connects to baseURL's realtime endpoint, joins the caller's room and
// starts dispatching pushes. It returns once the join is acknowledged.
func Dial(ctx context.Context, baseURL string, cfg RealtimeConfig) (*Realtime, error) {
	wsURL, err := realtimeURL(baseURL, cfg.Token)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	jctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()
	if err := join(jctx, conn, cfg.UserID); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, err
	}

	readCtx, stop := context.WithCancel(context.Background())
	rt := &Realtime{conn: conn, cfg: cfg, cancel: stop, done: make(chan struct{})}
	go rt.readLoop(readCtx)
	return rt, nil
}

func join(ctx context.Context, conn *websocket.Conn, userID uuid.UUID) error {
	if err := wsjson.Write(ctx, conn, command{Type: "join", Payload: map[string]uuid.UUID{"user_id": userID}}); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		return fmt.Errorf("read join ack: %w", err)
	}
	switch f.Type {
	case EventJoined:
		return nil
	case EventError:
		var se ServerError
		if err := json.Unmarshal(f.Payload, &se); err != nil {
			return fmt.Errorf("join rejected")
		}
		return &se
	default:
		return fmt.Errorf("expected %q, got %q", EventJoined, f.Type)
	}
}

func realtimeURL(baseURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// Typing tells the peer the caller is composing a message to them.
func (rt *Realtime) Typing(ctx context.Context, to uuid.UUID) error {
	return rt.write(ctx, command{Type: "typing", Payload: map[string]uuid.UUID{"to_user": to}})
}

func (rt *Realtime) StopTyping(ctx context.Context, to uuid.UUID) error {
	return rt.write(ctx, command{Type: "stopTyping", Payload: map[string]uuid.UUID{"to_user": to}})
}

// TypingEmitter adapts the connection to a Typer for one peer.
func (rt *Realtime) TypingEmitter(to uuid.UUID) func(typing bool) {
	return func(typing bool) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if typing {
			_ = rt.Typing(ctx, to)
		} else {
			_ = rt.StopTyping(ctx, to)
		}
	}
}

func (rt *Realtime) write(ctx context.Context, cmd command) error {
	select {
	case <-rt.done:
		return ErrNotConnected
	default:
	}
	return wsjson.Write(ctx, rt.conn, cmd)
}

// Close ends the connection without triggering OnDisconnect.
func (rt *Realtime) Close() error {
	rt.mu.Lock()
	rt.intentional = true
	rt.mu.Unlock()

	err := rt.conn.Close(websocket.StatusNormalClosure, "client disconnect")
	rt.cancel()
	<-rt.done
	return err
}

// Done is closed once the read loop has stopped.
func (rt *Realtime) Done() <-chan struct{} {
	return rt.done
}

func (rt *Realtime) readLoop(ctx context.Context) {
	defer close(rt.done)
	for {
		_, data, err := rt.conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			intentional := rt.intentional
			rt.mu.Unlock()
			if !intentional && rt.cfg.OnDisconnect != nil {
				rt.cfg.OnDisconnect(err)
			}
			return
		}

		var f frame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		ev, ok := decodeEvent(f)
		if ok && rt.cfg.OnEvent != nil {
			rt.cfg.OnEvent(ev)
		}
	}
}

func decodeEvent(f frame) (Event, bool) {
	ev := Event{Kind: f.Type}
	var err error
	switch f.Type {
	case EventNewMessage, EventMessageEdited, EventMessageReacted:
		var p struct {
			Message Message `json:"message"`
		}
		err = json.Unmarshal(f.Payload, &p)
		ev.Message = &p.Message
	case EventMessageDeleted:
		ev.Deleted = &MessageRef{}
		err = json.Unmarshal(f.Payload, ev.Deleted)
	case EventUserTyping, EventUserStopTyping:
		var p struct {
			FromUser uuid.UUID `json:"from_user"`
		}
		err = json.Unmarshal(f.Payload, &p)
		ev.FromUser = p.FromUser
	case EventThreadCleared:
		ev.Cleared = &ThreadCleared{}
		err = json.Unmarshal(f.Payload, ev.Cleared)
	case EventMessagesSeen:
		ev.Seen = &MessagesSeen{}
		err = json.Unmarshal(f.Payload, ev.Seen)
	case EventError:
		ev.Err = &ServerError{}
		err = json.Unmarshal(f.Payload, ev.Err)
	case EventJoined, EventPong:
	default:
		return ev, false
	}
	return ev, err == nil
}
