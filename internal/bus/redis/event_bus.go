package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/calebhsu/signalmesh/internal/domain"
)

// Channel and stream names published by the engine.
const (
	ChannelSignals  = "signalmesh:signals"
	ChannelMissions = "signalmesh:missions"
	ChannelExits    = "signalmesh:exits"

	StreamMissions = "signalmesh:stream:missions"
)

// streamMaxLen caps the durable mission stream via XADD MAXLEN ~.
const streamMaxLen int64 = 10_000

// EventBus implements domain.EventBus on Redis.
type EventBus struct {
	rdb *redis.Client
}

var _ domain.EventBus = (*EventBus)(nil)

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.rdb}
}

// Publish sends a raw payload to a pub/sub channel.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription and returns a channel of payloads.
// The subscription and the returned channel close with the context. Glob
// patterns in the channel name switch to PSUBSCRIBE.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = b.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = b.rdb.Subscribe(ctx, channel)
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend appends to a capped stream.
func (b *EventBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count entries after lastID ("0" for the beginning,
// "$" for new entries only). No pending entries is an empty result, not an
// error.
func (b *EventBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	res, err := b.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, msg := range s.Messages {
			raw, ok := msg.Values["payload"]
			if !ok {
				continue
			}
			var data []byte
			switch v := raw.(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			out = append(out, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return out, nil
}

// envelope is the JSON wrapper for typed engine events.
type envelope struct {
	Event string      `json:"event"`
	At    time.Time   `json:"at"`
	Data  interface{} `json:"data"`
}

// Publisher wraps an EventBus with the engine's typed events. A nil Publisher
// is a no-op, so callers never branch on whether a bus is configured.
type Publisher struct {
	bus domain.EventBus
}

// NewPublisher wraps a bus; pass nil to disable publishing.
func NewPublisher(bus domain.EventBus) *Publisher {
	if bus == nil {
		return nil
	}
	return &Publisher{bus: bus}
}

func (p *Publisher) publish(ctx context.Context, channel, event string, data interface{}) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(envelope{Event: event, At: time.Now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("bus: marshal %s: %w", event, err)
	}
	return p.bus.Publish(ctx, channel, payload)
}

// PublishSignal announces a freshly aggregated signal.
func (p *Publisher) PublishSignal(ctx context.Context, sig domain.UnifiedSignal) error {
	return p.publish(ctx, ChannelSignals, "signal.aggregated", sig)
}

// PublishMissionDispatched announces a new mission.
func (p *Publisher) PublishMissionDispatched(ctx context.Context, m domain.Mission) error {
	return p.publish(ctx, ChannelMissions, "mission.dispatched", m)
}

// PublishMissionCompleted announces a completion on pub/sub and appends it to
// the durable mission stream.
func (p *Publisher) PublishMissionCompleted(ctx context.Context, m domain.Mission) error {
	if p == nil {
		return nil
	}
	if err := p.publish(ctx, ChannelMissions, "mission.completed", m); err != nil {
		return err
	}
	payload, err := json.Marshal(envelope{Event: "mission.completed", At: time.Now().UTC(), Data: m})
	if err != nil {
		return fmt.Errorf("bus: marshal mission.completed: %w", err)
	}
	return p.bus.StreamAppend(ctx, StreamMissions, payload)
}

// PublishExit announces a closed position.
func (p *Publisher) PublishExit(ctx context.Context, pos domain.Position) error {
	return p.publish(ctx, ChannelExits, "position.closed", pos)
}
