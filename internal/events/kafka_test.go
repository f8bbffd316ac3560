package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsechat/internal/domain"
	"github.com/vedran77/pulsechat/internal/metrics"
)

type captureWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func newPublisher(w MessageWriter) (*KafkaPublisher, *metrics.Metrics) {
	m := metrics.New()
	p := NewKafkaPublisher(w, m, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return p, m
}

func TestKafkaPublisher_KeysByThread(t *testing.T) {
	w := &captureWriter{}
	p, m := newPublisher(w)
	alice, bob := uuid.New(), uuid.New()

	p.NotifyNewMessage(&domain.Message{ID: uuid.New(), FromUser: alice, ToUser: bob})
	p.NotifySeen(bob, alice, 1)

	require.Len(t, w.msgs, 2)
	assert.Equal(t, w.msgs[0].Key, w.msgs[1].Key)
	assert.Equal(t, ThreadKey(alice, bob), string(w.msgs[0].Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, TypeMessageCreated, env.Type)
	require.NotNil(t, env.Message)
	assert.Equal(t, alice, env.Message.FromUser)
	assert.Equal(t, "type", w.msgs[0].Headers[0].Key)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues(TypeMessageCreated, "queued")))
}

func TestKafkaPublisher_DeleteCarriesIDOnly(t *testing.T) {
	w := &captureWriter{}
	p, _ := newPublisher(w)
	msg := &domain.Message{ID: uuid.New(), FromUser: uuid.New(), ToUser: uuid.New()}

	p.NotifyDeletedMessage(msg)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, TypeMessageDeleted, env.Type)
	assert.Nil(t, env.Message)
	require.NotNil(t, env.MessageID)
	assert.Equal(t, msg.ID, *env.MessageID)
}

func TestKafkaPublisher_FailuresAreSwallowed(t *testing.T) {
	w := &captureWriter{err: errors.New("broker down")}
	p, m := newPublisher(w)

	assert.NotPanics(t, func() {
		p.NotifyThreadCleared(uuid.New(), uuid.New(), 4)
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues(TypeThreadCleared, "failed")))
}

func TestThreadKey_Symmetric(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	assert.Equal(t, ThreadKey(a, b), ThreadKey(b, a))
	assert.NotEqual(t, ThreadKey(a, b), ThreadKey(a, uuid.New()))
}
