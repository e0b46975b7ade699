package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// streamMaxLen caps each event stream via XADD MAXLEN ~ so the bus never
// grows unbounded.
const streamMaxLen int64 = 10_000

// SignalBus publishes exchange events (order accepted/cancelled, fill
// pending/confirmed/failed) to Redis streams, one stream per event kind.
type SignalBus struct {
	rdb *redis.Client
}

var _ domain.SignalBus = (*SignalBus)(nil)

// NewSignalBus creates a SignalBus on the shared client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.rdb}
}

// Publish appends the payload to the stream with approximate trimming.
func (sb *SignalBus) Publish(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: "events:" + stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", stream, err)
	}
	return nil
}

// ReadSince reads up to count payloads from a stream after lastID ("0" for
// the beginning, "$" for new entries only). Consumers poll this to follow
// the exchange event flow.
func (sb *SignalBus) ReadSince(ctx context.Context, stream, lastID string, count int) ([][]byte, string, error) {
	res, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{"events:" + stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, lastID, nil
		}
		return nil, lastID, fmt.Errorf("redis: read %s: %w", stream, err)
	}

	var payloads [][]byte
	next := lastID
	for _, s := range res {
		for _, msg := range s.Messages {
			next = msg.ID
			if v, ok := msg.Values["payload"].(string); ok {
				payloads = append(payloads, []byte(v))
			}
		}
	}
	return payloads, next, nil
}
