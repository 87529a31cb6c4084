package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"im-chat/internal/imtypes"
)

// EventBridge 将 apiserver 产生的实时事件写入 Kafka，由 chatserver 消费后推送到 Hub。
type EventBridge struct {
	producer MessageProducer
	topic    string
	log      *zap.Logger
}

// NewEventBridge creates a bridge publishing to topic.
func NewEventBridge(producer MessageProducer, topic string, log *zap.Logger) *EventBridge {
	return &EventBridge{producer: producer, topic: topic, log: log.Named("event_bridge")}
}

// Publish encodes evt for channel and sends it keyed by channel, so events
// for one channel keep their order within a partition.
func (b *EventBridge) Publish(ctx context.Context, channel string, evt imtypes.Event) error {
	ce, err := imtypes.NewChannelEvent(channel, evt)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ce)
	if err != nil {
		return fmt.Errorf("encode channel event: %w", err)
	}
	if err := b.producer.SendMessage(ctx, b.topic, []byte(channel), payload); err != nil {
		return fmt.Errorf("publish %s to %s: %w", evt.Event, channel, err)
	}
	b.log.Debug("event published", zap.String("channel", channel), zap.String("event", evt.Event))
	return nil
}

// ChannelPublisher delivers an event to the local sessions of a channel.
type ChannelPublisher interface {
	Publish(channel string, evt imtypes.Event, originSessionID string) int
}

// OutgoingEventHandler returns the consumer handler of the outgoing-event
// topic. Malformed messages are logged and skipped.
func OutgoingEventHandler(hub ChannelPublisher, log *zap.Logger) MessageHandler {
	log = log.Named("outgoing_events")
	return func(_ context.Context, msg *kafka.Message) error {
		var ce imtypes.ChannelEvent
		if err := json.Unmarshal(msg.Value, &ce); err != nil {
			log.Warn("skipping malformed channel event", zap.Error(err), zap.ByteString("value", msg.Value))
			return nil
		}
		if _, _, err := imtypes.ParseChannel(ce.Channel); err != nil || ce.Event == "" {
			log.Warn("skipping channel event with bad target", zap.String("channel", ce.Channel), zap.String("event", ce.Event))
			return nil
		}
		n := hub.Publish(ce.Channel, ce.ToEvent(), "")
		log.Debug("event delivered", zap.String("channel", ce.Channel), zap.String("event", ce.Event), zap.Int("sessions", n))
		return nil
	}
}
