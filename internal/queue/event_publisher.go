package queue

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/events"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher writes engine events to a Kafka topic keyed by room, so every
// event of one business lands on the same partition in order.
type EventPublisher struct {
	writer messageWriter
	logger *zap.Logger
}

// NewEventPublisher constructs an asynchronous publisher for the topic.
func NewEventPublisher(k *Kafka, topic string, logger *zap.Logger) *EventPublisher {
	p := &EventPublisher{logger: logger}
	p.writer = k.NewAsyncWriter(topic, p.completion)
	return p
}

func (p *EventPublisher) completion(msgs []kafka.Message, err error) {
	if err != nil {
		p.logger.Warn("event publisher: delivery failed", zap.Int("messages", len(msgs)), zap.Error(err))
	}
}

// Emit implements events.Emitter.
func (p *EventPublisher) Emit(ctx context.Context, room, eventType string, payload any) {
	evt := events.New(room, eventType, payload)
	value, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("event publisher: marshal event", zap.String("type", eventType), zap.Error(err))
		return
	}

	record := kafka.Message{
		Key:   []byte(room),
		Value: value,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := p.writer.WriteMessages(context.WithoutCancel(ctx), record); err != nil {
		p.logger.Warn("event publisher: write message", zap.String("type", eventType), zap.Error(err))
	}
}

// Close flushes pending messages and closes the writer.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
