package worker

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/lumina-api/internal/realtime"
)

// EventBridge subscribes to a Redis pub/sub channel and republishes each
// notification through the dispatcher. This is the seam that lets other
// backend components (or other instances) reach connections held by this
// process.
type EventBridge struct {
	client     *redis.Client
	channel    string
	dispatcher *realtime.Dispatcher
	logger     *zap.Logger
}

// NewEventBridge constructs the bridge.
func NewEventBridge(client *redis.Client, channel string, dispatcher *realtime.Dispatcher, logger *zap.Logger) *EventBridge {
	return &EventBridge{client: client, channel: channel, dispatcher: dispatcher, logger: logger}
}

// bridgeEnvelope is the published JSON shape on the channel.
type bridgeEnvelope struct {
	Type      string          `json:"type"`
	Broadcast bool            `json:"broadcast,omitempty"`
	Subjects  []string        `json:"subjects,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Run consumes the channel until the context is cancelled. A message that
// fails to decode or publish is logged and skipped; the subscription
// survives it.
func (b *EventBridge) Run(ctx context.Context) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	b.logger.Info("event bridge subscribed", zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle(ctx, msg.Payload)
		}
	}
}

func (b *EventBridge) handle(ctx context.Context, raw string) {
	var envelope bridgeEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		b.logger.Warn("event bridge: undecodable message", zap.Error(err))
		return
	}

	event := realtime.Event{
		Type:    envelope.Type,
		Payload: envelope.Payload,
		Target: realtime.TargetSelector{
			Broadcast: envelope.Broadcast,
			Subjects:  envelope.Subjects,
		},
	}
	if err := b.dispatcher.Publish(ctx, event); err != nil {
		b.logger.Warn("event bridge: publish failed",
			zap.String("type", envelope.Type), zap.Error(err))
	}
}
