package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nsavelyev/scalpbot/internal/domain"
)

// streamMaxLen is the approximate maximum length for the event stream,
// enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// eventChannel is the Pub/Sub channel live consumers subscribe to; the
// stream of the same name keeps a bounded durable history.
const eventChannel = "events"

// wireEvent is the JSON shape events take on the bus.
type wireEvent struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"`
	Symbol string            `json:"symbol"`
	At     time.Time         `json:"at"`
	Fields map[string]string `json:"fields,omitempty"`
}

// EventBus implements domain.EventPublisher and domain.EventSink over Redis:
// Pub/Sub for live fan-out to dashboards and alerting, a capped stream for
// a durable recent history.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

// Publish fans an event out on the Pub/Sub channel and appends it to the
// capped stream.
func (b *EventBus) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(wireEvent{
		ID:     ev.ID,
		Type:   string(ev.Type),
		Symbol: ev.Symbol,
		At:     ev.At,
		Fields: ev.Fields,
	})
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	pipe := b.rdb.Pipeline()
	pipe.Publish(ctx, eventChannel, payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: eventChannel,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish event: %w", err)
	}
	return nil
}

// Consume subscribes to the live event channel and invokes handler for every
// decoded event until ctx is cancelled. Undecodable payloads are skipped.
func (b *EventBus) Consume(ctx context.Context, handler func(domain.Event)) error {
	pubsub := b.rdb.Subscribe(ctx, eventChannel)

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis: subscribe %s: %w", eventChannel, err)
	}
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var we wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
				continue
			}
			handler(domain.Event{
				ID:     we.ID,
				Type:   domain.EventType(we.Type),
				Symbol: we.Symbol,
				At:     we.At,
				Fields: we.Fields,
			})
		}
	}
}

// History reads up to count most recent events off the stream, oldest first.
func (b *EventBus) History(ctx context.Context, count int) ([]domain.Event, error) {
	msgs, err := b.rdb.XRevRangeN(ctx, eventChannel, "+", "-", int64(count)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: event history: %w", err)
	}

	out := make([]domain.Event, 0, len(msgs))
	// XREVRANGE returns newest first; reverse to chronological order.
	for i := len(msgs) - 1; i >= 0; i-- {
		payload, ok := msgs[i].Values["payload"]
		if !ok {
			continue
		}
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		var we wireEvent
		if err := json.Unmarshal(data, &we); err != nil {
			continue
		}
		out = append(out, domain.Event{
			ID:     we.ID,
			Type:   domain.EventType(we.Type),
			Symbol: we.Symbol,
			At:     we.At,
			Fields: we.Fields,
		})
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.EventPublisher = (*EventBus)(nil)
	_ domain.EventSink      = (*EventBus)(nil)
)
