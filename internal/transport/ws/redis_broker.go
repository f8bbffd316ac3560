package ws

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "pulse:room:"

// RedisBroker fans room frames out to every instance through Redis pub/sub,
// one channel per room.
type RedisBroker struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisBroker(rdb *redis.Client, log *slog.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, room uuid.UUID, data []byte) error {
	return b.rdb.Publish(ctx, roomChannelPrefix+room.String(), data).Err()
}

func (b *RedisBroker) Run(ctx context.Context, deliver func(uuid.UUID, []byte)) error {
	sub := b.rdb.PSubscribe(ctx, roomChannelPrefix+"*")
	defer sub.Close()

	// Wait for the subscription to be confirmed so startup errors surface.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to rooms: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			room, err := uuid.Parse(strings.TrimPrefix(msg.Channel, roomChannelPrefix))
			if err != nil {
				b.log.Warn("redis broker: bad room channel", slog.String("channel", msg.Channel))
				continue
			}
			deliver(room, []byte(msg.Payload))
		case <-ctx.Done():
			return nil
		}
	}
}
