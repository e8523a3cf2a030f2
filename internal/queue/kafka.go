package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/call-dispatch-engine/internal/config"
)

// Kafka aggregates helpers for interacting with Kafka.
type Kafka struct {
	cfg config.KafkaConfig
}

// NewKafka initializes the Kafka helper.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	return &Kafka{cfg: cfg}, nil
}

// NewAsyncWriter creates a writer whose WriteMessages never blocks on the
// broker. Delivery results are reported to completion.
func (k *Kafka) NewAsyncWriter(topic string, completion func([]kafka.Message, error)) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(k.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion:   completion,
	}
}

// NewReader creates a consumer-group reader for a topic.
func (k *Kafka) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.cfg.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		StartOffset:    kafka.LastOffset,
		CommitInterval: k.cfg.CommitInterval,
		MinBytes:       1,
		MaxBytes:       10e6,
	})
}

// EnsureTopics creates topics if they do not exist.
func (k *Kafka) EnsureTopics(ctx context.Context, topics []string, partitions int, replicationFactor int) error {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, ClientID: k.cfg.ClientID}
	conn, err := dialer.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka: dial: %w", err)
	}
	defer conn.Close()

	existing, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka: read partitions: %w", err)
	}
	exists := make(map[string]bool)
	for _, p := range existing {
		exists[p.Topic] = true
	}

	for _, topic := range topics {
		if exists[topic] {
			continue
		}
		if err := conn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: replicationFactor,
		}); err != nil {
			return fmt.Errorf("kafka: create topic %s: %w", topic, err)
		}
	}

	return nil
}
