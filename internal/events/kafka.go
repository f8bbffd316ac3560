package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/vedran77/pulsechat/internal/domain"
	"github.com/vedran77/pulsechat/internal/metrics"
	"github.com/vedran77/pulsechat/internal/service"
)

const writeTimeout = 2 * time.Second

const (
	TypeMessageCreated = "message.created"
	TypeMessageEdited  = "message.edited"
	TypeMessageDeleted = "message.deleted"
	TypeMessageReacted = "message.reacted"
	TypeThreadCleared  = "thread.cleared"
	TypeMessagesSeen   = "messages.seen"
)

var _ service.Notifier = (*KafkaPublisher)(nil)

// Envelope is the record value written to the lifecycle topic.
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Message    *domain.Message `json:"message,omitempty"`
	MessageID  *uuid.UUID      `json:"message_id,omitempty"`
	UserID     uuid.UUID       `json:"user_id"`
	OtherUser  uuid.UUID       `json:"other_user"`
	Count      int64           `json:"count,omitempty"`
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewWriter builds an async producer keyed by thread, so every event of one
// thread lands on the same partition in order.
func NewWriter(brokers []string, topic string, m *metrics.Metrics, log *slog.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err == nil {
				return
			}
			for range msgs {
				m.EventsPublished.WithLabelValues("batch", "failed").Inc()
			}
			log.Warn("events: kafka batch failed", slog.Int("messages", len(msgs)), slog.Any("error", err))
		},
	}
}

// KafkaPublisher mirrors message lifecycle changes onto the event stream for
// downstream consumers (notifications, search, analytics). It is another
// best-effort Notifier: failures are logged and counted, never returned.
type KafkaPublisher struct {
	w       MessageWriter
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

func NewKafkaPublisher(w MessageWriter, m *metrics.Metrics, log *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: w, metrics: m, log: log, now: time.Now}
}

func (p *KafkaPublisher) NotifyNewMessage(msg *domain.Message) {
	p.publish(Envelope{Type: TypeMessageCreated, Message: msg, UserID: msg.FromUser, OtherUser: msg.ToUser})
}

func (p *KafkaPublisher) NotifyEditedMessage(msg *domain.Message) {
	p.publish(Envelope{Type: TypeMessageEdited, Message: msg, UserID: msg.FromUser, OtherUser: msg.ToUser})
}

func (p *KafkaPublisher) NotifyDeletedMessage(msg *domain.Message) {
	id := msg.ID
	p.publish(Envelope{Type: TypeMessageDeleted, MessageID: &id, UserID: msg.FromUser, OtherUser: msg.ToUser})
}

func (p *KafkaPublisher) NotifyReaction(msg *domain.Message) {
	p.publish(Envelope{Type: TypeMessageReacted, Message: msg, UserID: msg.FromUser, OtherUser: msg.ToUser})
}

func (p *KafkaPublisher) NotifyThreadCleared(userID, otherUserID uuid.UUID, deleted int64) {
	p.publish(Envelope{Type: TypeThreadCleared, UserID: userID, OtherUser: otherUserID, Count: deleted})
}

func (p *KafkaPublisher) NotifySeen(readerID, senderID uuid.UUID, count int64) {
	p.publish(Envelope{Type: TypeMessagesSeen, UserID: readerID, OtherUser: senderID, Count: count})
}

func (p *KafkaPublisher) publish(env Envelope) {
	env.ID = uuid.New()
	env.OccurredAt = p.now().UTC()

	value, err := json.Marshal(env)
	if err != nil {
		p.metrics.EventsPublished.WithLabelValues(env.Type, "failed").Inc()
		p.log.Error("events: marshal failed", slog.String("type", env.Type), slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ThreadKey(env.UserID, env.OtherUser)),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(env.Type)},
		},
	})
	if err != nil {
		p.metrics.EventsPublished.WithLabelValues(env.Type, "failed").Inc()
		p.log.Warn("events: publish failed", slog.String("type", env.Type), slog.Any("error", err))
		return
	}
	p.metrics.EventsPublished.WithLabelValues(env.Type, "queued").Inc()
}

// ThreadKey is the same for both directions of a conversation.
func ThreadKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + ":" + y
}
