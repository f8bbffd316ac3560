package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsechat/internal/metrics"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

const (
	publishTimeout = 2 * time.Second
	queueSize      = 1024
)

type Config struct {
	SendBuffer     int
	MaxMessageSize int64
	PingInterval   time.Duration
	JoinTimeout    time.Duration
	TypingRate     float64
	TypingBurst    int
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.TypingRate <= 0 {
		c.TypingRate = 4
	}
	if c.TypingBurst <= 0 {
		c.TypingBurst = 8
	}
	return c
}

type outbound struct {
	room  uuid.UUID
	event string
	data  []byte
}

// Hub owns the room registry of this instance. Pushes go out through the
// broker and come back through deliver, so every instance sharing the broker
// reaches its own connections.
type Hub struct {
	cfg     Config
	rooms   *Rooms
	broker  Broker
	metrics *metrics.Metrics
	log     *slog.Logger

	join     chan *Client
	leave    chan *Client
	incoming chan roomFrame
	outgoing chan outbound
	done     chan struct{}
}

func NewHub(cfg Config, rooms *Rooms, broker Broker, m *metrics.Metrics, log *slog.Logger) *Hub {
	return &Hub{
		cfg:      cfg.withDefaults(),
		rooms:    rooms,
		broker:   broker,
		metrics:  m,
		log:      log,
		join:     make(chan *Client),
		leave:    make(chan *Client),
		incoming: make(chan roomFrame, queueSize),
		outgoing: make(chan outbound, queueSize),
		done:     make(chan struct{}),
	}
}

func (h *Hub) Rooms() *Rooms {
	return h.rooms
}

// Run drives the hub until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.broker.Run(ctx, h.enqueue) })
	g.Go(func() error { return h.publishLoop(ctx) })
	g.Go(func() error { return h.loop(ctx) })
	return g.Wait()
}

func (h *Hub) loop(ctx context.Context) error {
	for {
		select {
		case c := <-h.join:
			n := h.rooms.Join(c)
			h.metrics.Connections.Inc()
			h.log.Debug("ws hub: joined room",
				slog.String("user_id", c.userID.String()),
				slog.Int("room_size", n),
				slog.Int("total", h.rooms.Len()),
			)

		case c := <-h.leave:
			if h.rooms.Leave(c) {
				h.metrics.Connections.Dec()
				h.log.Debug("ws hub: left room", slog.String("user_id", c.userID.String()))
			}

		case f := <-h.incoming:
			h.deliver(f)

		case <-ctx.Done():
			for _, c := range h.rooms.all() {
				h.rooms.Leave(c)
				h.metrics.Connections.Dec()
				c.shutdown(websocket.StatusGoingAway, "server shutting down")
			}
			return nil
		}
	}
}

func (h *Hub) deliver(f roomFrame) {
	event := eventType(f.data)
	for _, c := range h.rooms.Members(f.room) {
		select {
		case c.send <- f.data:
			h.metrics.PushSent.WithLabelValues(event).Inc()
		default:
			// Slow consumer: drop this connection only.
			h.rooms.Leave(c)
			h.metrics.Connections.Dec()
			h.metrics.Evictions.Inc()
			h.metrics.PushDropped.WithLabelValues(event, "buffer_full").Inc()
			h.log.Warn("ws hub: evicting slow connection", slog.String("user_id", c.userID.String()))
			c.shutdown(websocket.StatusPolicyViolation, "send buffer full")
		}
	}
}

func (h *Hub) enqueue(room uuid.UUID, data []byte) {
	select {
	case h.incoming <- roomFrame{room: room, data: data}:
	default:
		h.metrics.PushDropped.WithLabelValues(eventType(data), "hub_full").Inc()
		h.log.Warn("ws hub: incoming queue full", slog.String("room", room.String()))
	}
}

func (h *Hub) publishLoop(ctx context.Context) error {
	for {
		select {
		case o := <-h.outgoing:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := h.broker.Publish(pctx, o.room, o.data)
			cancel()
			if err != nil {
				h.metrics.PushDropped.WithLabelValues(o.event, "broker").Inc()
				h.log.Warn("ws hub: publish failed",
					slog.String("event", o.event),
					slog.String("room", o.room.String()),
					slog.Any("error", err),
				)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// PushToUser queues an event for every connection in userID's room. It never
// blocks; a full queue drops the event.
func (h *Hub) PushToUser(userID uuid.UUID, eventType string, payload any) {
	data, err := encodeEvent(eventType, payload)
	if err != nil {
		h.log.Error("ws hub: marshal error", slog.String("event", eventType), slog.Any("error", err))
		return
	}
	select {
	case h.outgoing <- outbound{room: userID, event: eventType, data: data}:
	default:
		h.metrics.PushDropped.WithLabelValues(eventType, "queue_full").Inc()
		h.log.Warn("ws hub: outgoing queue full", slog.String("event", eventType))
	}
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.join <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.leave <- c:
	case <-h.done:
	}
}

func eventType(data []byte) string {
	var probe struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(data, &probe) != nil || probe.Type == "" {
		return "unknown"
	}
	return probe.Type
}
