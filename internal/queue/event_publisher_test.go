package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/config"
	"github.com/acme/call-dispatch-engine/internal/events"
)

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestEventPublisherKeysByRoom(t *testing.T) {
	writer := &captureWriter{}
	pub := &EventPublisher{writer: writer, logger: zap.NewNop()}

	pub.Emit(context.Background(), "biz-7", events.QueueUpdate, map[string]int{"size": 2})

	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	assert.Equal(t, []byte("biz-7"), msg.Key)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, events.QueueUpdate, string(msg.Headers[0].Value))

	var evt events.Event
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	assert.Equal(t, "biz-7", evt.Room)
	assert.Equal(t, events.QueueUpdate, evt.Type)
}

func TestNewKafkaRequiresBrokers(t *testing.T) {
	_, err := NewKafka(kafkaConfig(nil))
	require.Error(t, err)

	k, err := NewKafka(kafkaConfig([]string{"localhost:9092"}))
	require.NoError(t, err)
	w := k.NewAsyncWriter("topic", nil)
	assert.True(t, w.Async)
	assert.Equal(t, "topic", w.Topic)
}

func kafkaConfig(brokers []string) config.KafkaConfig {
	return config.KafkaConfig{Brokers: brokers, ClientID: "test"}
}
