package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/IBM/sarama"

	"opschat/internal/app/dto"
	"opschat/internal/domain/chat"
)

// EventsTopic is the suffix of the chat change-event topic; the configured
// prefix namespaces deployments sharing a cluster.
const EventsTopic = "chat-events"

func TopicName(prefix string) string {
	return prefix + EventsTopic
}

// EventPublisher writes chat change events to Kafka. Events are keyed by
// conversation id so each conversation keeps a total order within its
// partition.
type EventPublisher struct {
	producer *Producer
	topic    string
	logger   *slog.Logger
}

func NewEventPublisher(producer *Producer, topicPrefix string, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		producer: producer,
		topic:    TopicName(topicPrefix),
		logger:   logger,
	}
}

func (p *EventPublisher) PublishChange(ctx context.Context, ev chat.ChangeEvent) error {
	payload, err := json.Marshal(dto.FromChangeEvent(ev))
	if err != nil {
		return err
	}
	headers := map[string]string{"op": string(ev.Op)}
	if err := p.producer.Publish(ctx, p.topic, ev.ConversationID, payload, headers); err != nil {
		p.logger.Error("publish change event", "error", err, "op", ev.Op, "conversation_id", ev.ConversationID)
		return err
	}
	return nil
}

// Broadcaster receives decoded change events, typically the websocket hub.
type Broadcaster interface {
	Broadcast(ev chat.ChangeEvent)
}

// Relay decodes change events from the topic and hands them to a Broadcaster.
// It implements MessageHandler for the consumer group.
type Relay struct {
	sink   Broadcaster
	logger *slog.Logger
}

func NewRelay(sink Broadcaster, logger *slog.Logger) *Relay {
	return &Relay{sink: sink, logger: logger}
}

var _ MessageHandler = (*Relay)(nil)

func (r *Relay) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var wire dto.ChangeEvent
	if err := json.Unmarshal(msg.Value, &wire); err != nil {
		// malformed payloads are logged and skipped, not retried
		r.logger.Warn("drop undecodable change event", "error", err, "partition", msg.Partition, "offset", msg.Offset)
		return nil
	}
	r.sink.Broadcast(wire.ToChangeEvent())
	return nil
}
