package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream events are appended to.
const DefaultStream = "payment:events"

// RedisStreamStore appends events to a capped Redis stream.
type RedisStreamStore struct {
	Client *redis.Client
	Stream string
	MaxLen int64
}

// Append writes ev as a stream entry with type, order and JSON body fields.
func (s RedisStreamStore) Append(ctx context.Context, ev Event) error {
	if s.Client == nil {
		return errors.New("events: redis client not configured")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	stream := s.Stream
	if stream == "" {
		stream = DefaultStream
	}
	maxLen := s.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	return s.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{"type": ev.Type, "order_id": ev.OrderID, "body": string(body)},
	}).Err()
}

// Recent returns up to n of the most recent events, newest first.
func (s RedisStreamStore) Recent(ctx context.Context, n int64) ([]Event, error) {
	if s.Client == nil {
		return nil, errors.New("events: redis client not configured")
	}
	stream := s.Stream
	if stream == "" {
		stream = DefaultStream
	}
	msgs, err := s.Client.XRevRangeN(ctx, stream, "+", "-", n).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		raw, _ := m.Values["body"].(string)
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
