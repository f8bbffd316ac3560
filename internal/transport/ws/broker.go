package ws

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrBrokerFull = errors.New("broker queue full")

// Broker carries room-addressed frames between the instances serving the
// realtime channel. Publish must not block for long; Run delivers every frame
// published to any room until ctx ends.
type Broker interface {
	Publish(ctx context.Context, room uuid.UUID, data []byte) error
	Run(ctx context.Context, deliver func(room uuid.UUID, data []byte)) error
}

type roomFrame struct {
	room uuid.UUID
	data []byte
}

// LocalBroker keeps fan-out inside the process.
type LocalBroker struct {
	queue chan roomFrame
}

func NewLocalBroker(size int) *LocalBroker {
	if size <= 0 {
		size = 1024
	}
	return &LocalBroker{queue: make(chan roomFrame, size)}
}

func (b *LocalBroker) Publish(_ context.Context, room uuid.UUID, data []byte) error {
	select {
	case b.queue <- roomFrame{room: room, data: data}:
		return nil
	default:
		return ErrBrokerFull
	}
}

func (b *LocalBroker) Run(ctx context.Context, deliver func(uuid.UUID, []byte)) error {
	for {
		select {
		case f := <-b.queue:
			deliver(f.room, f.data)
		case <-ctx.Done():
			return nil
		}
	}
}
