package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

const writeWait = 10 * time.Second

// Client is a single realtime connection. Its identity comes from the session
// credential presented at the handshake, never from the frames it sends.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID uuid.UUID
	log    *slog.Logger

	joined atomic.Bool
	typing *rate.Limiter

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		log:    hub.log.With(slog.String("user_id", userID.String())),
		typing: rate.NewLimiter(rate.Limit(hub.cfg.TypingRate), hub.cfg.TypingBurst),
		send:   make(chan []byte, hub.cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *Client) UserID() uuid.UUID {
	return c.userID
}

// Serve runs the write pump in the background and reads until the
// connection ends.
func (c *Client) Serve(ctx context.Context) {
	go c.WritePump(ctx)
	c.ReadPump(ctx)
}

// ReadPump reads frames from the connection and handles them in order.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.shutdown(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)

	joinDeadline := time.AfterFunc(c.hub.cfg.JoinTimeout, func() {
		if !c.joined.Load() {
			c.shutdown(websocket.StatusPolicyViolation, "join timeout")
		}
	})
	defer joinDeadline.Stop()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.log.Debug("ws: client disconnected")
			} else {
				c.log.Debug("ws: read error", slog.Any("error", err))
			}
			return
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.sendError(CodeInvalidPayload, "frame is not a valid event")
			continue
		}
		if !c.handleEvent(&event) {
			return
		}
	}
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.log.Debug("ws: write error", slog.Any("error", err))
				c.shutdown(websocket.StatusInternalError, "write failed")
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.log.Debug("ws: ping error", slog.Any("error", err))
				c.shutdown(websocket.StatusPolicyViolation, "ping timeout")
				return
			}

		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleEvent routes an incoming client event. It returns false when the
// connection must end.
func (c *Client) handleEvent(event *Event) bool {
	switch event.Type {
	case EventJoin:
		var p JoinPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.UserID == uuid.Nil {
			c.sendError(CodeInvalidPayload, "join requires user_id")
			return true
		}
		if p.UserID != c.userID {
			c.log.Warn("ws: join with foreign identity rejected", slog.String("claimed", p.UserID.String()))
			c.rejectAndClose(CodeIdentityMismatch, "user_id does not match the session")
			return false
		}
		if c.joined.Swap(true) {
			c.queue(EventJoined, JoinedPayload{UserID: c.userID})
			return true
		}
		if !c.hub.register(c) {
			return false
		}
		c.queue(EventJoined, JoinedPayload{UserID: c.userID})

	case EventTyping, EventStopTyping:
		if !c.joined.Load() {
			c.sendError(CodeNotJoined, "join your room first")
			return true
		}
		var p TypingPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.ToUser == uuid.Nil || p.ToUser == c.userID {
			c.sendError(CodeInvalidPayload, "typing requires another user's to_user")
			return true
		}
		if event.Type == EventTyping && !c.typing.Allow() {
			c.hub.metrics.TypingDenied.Inc()
			c.sendError(CodeRateLimited, "typing too fast")
			return true
		}
		out := EventUserTyping
		if event.Type == EventStopTyping {
			out = EventUserStopTyping
		}
		c.hub.PushToUser(p.ToUser, out, UserTypingPayload{FromUser: c.userID})

	case EventPing:
		c.queue(EventPong, nil)

	default:
		c.sendError(CodeUnknownEvent, "unknown event type: "+event.Type)
	}
	return true
}

// queue hands a frame to this connection only, dropping it if the buffer is full.
func (c *Client) queue(eventType string, payload any) {
	data, err := encodeEvent(eventType, payload)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.metrics.PushDropped.WithLabelValues(eventType, "buffer_full").Inc()
	}
}

func (c *Client) sendError(code, message string) {
	c.queue(EventError, ErrorPayload{Code: code, Message: message})
}

// rejectAndClose writes the error frame synchronously so it precedes the close.
func (c *Client) rejectAndClose(code, message string) {
	data, err := encodeEvent(EventError, ErrorPayload{Code: code, Message: message})
	if err == nil && c.conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		_ = c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}
	c.shutdown(websocket.StatusPolicyViolation, message)
}

func (c *Client) shutdown(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			go c.conn.Close(code, reason)
		}
	})
}
