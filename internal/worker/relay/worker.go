// Package relay forwards engine events from the Kafka event topic to MQTT so
// dashboards and agents can subscribe per business.
package relay

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/events"
)

// Reader is the subset of *kafka.Reader the worker uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher delivers a payload to an MQTT topic.
type Publisher interface {
	Topic(room, eventType string) string
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Worker consumes events and republishes them.
type Worker struct {
	reader    Reader
	publisher Publisher
	logger    *zap.Logger
}

// New creates a new relay worker.
func New(reader Reader, publisher Publisher, logger *zap.Logger) *Worker {
	return &Worker{reader: reader, publisher: publisher, logger: logger}
}

// Run relays events until the context is cancelled. A message is committed
// only after MQTT accepted it, except for undecodable messages which are
// skipped.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()
	tracer := otel.Tracer("callcenter.relay")

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("relay: fetch", zap.Error(err))
			continue
		}

		var evt events.Event
		if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.Room == "" || evt.Type == "" {
			w.logger.Warn("relay: skipping malformed event", zap.Int64("offset", msg.Offset), zap.Error(err))
			_ = w.reader.CommitMessages(ctx, msg)
			continue
		}

		if err := w.forward(ctx, tracer, msg, evt); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			w.logger.Error("relay: commit", zap.Error(err))
		}
	}
}

func (w *Worker) forward(ctx context.Context, tracer trace.Tracer, msg kafka.Message, evt events.Event) error {
	sctx, span := tracer.Start(ctx, "relay.forward", trace.WithAttributes(
		attribute.String("event.type", evt.Type),
		attribute.String("event.room", evt.Room),
	))
	defer span.End()

	topic := w.publisher.Topic(evt.Room, evt.Type)
	if err := w.publisher.Publish(sctx, topic, msg.Value); err != nil {
		span.RecordError(err)
		w.logger.Error("relay: publish", zap.String("topic", topic), zap.Error(err))
		return err
	}
	return nil
}
