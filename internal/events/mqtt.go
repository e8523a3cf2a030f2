package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes events to topics of the form prefix/room/type.
type MQTTPublisher struct {
	client  mqttClient
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *zap.Logger
}

// MQTTOptions configures the MQTT publisher.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
}

// NewMQTTPublisher creates and connects an MQTT publisher.
func NewMQTTPublisher(opts MQTTOptions, logger *zap.Logger) (*MQTTPublisher, error) {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second)

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}

	return newMQTTPublisher(client, opts.TopicPrefix, opts.QoS, logger), nil
}

func newMQTTPublisher(client mqttClient, prefix string, qos byte, logger *zap.Logger) *MQTTPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTPublisher{client: client, prefix: prefix, qos: qos, timeout: 5 * time.Second, logger: logger}
}

// Topic maps a room and event type to an MQTT topic. Colons in the event type
// become topic levels, so call:incoming is published under call/incoming.
func (p *MQTTPublisher) Topic(room, eventType string) string {
	parts := []string{room, strings.ReplaceAll(eventType, ":", "/")}
	if p.prefix != "" {
		parts = append([]string{p.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// Emit publishes asynchronously and logs delivery failures.
func (p *MQTTPublisher) Emit(_ context.Context, room, eventType string, payload any) {
	body, err := json.Marshal(New(room, eventType, payload))
	if err != nil {
		p.logger.Warn("mqtt: marshal event", zap.String("type", eventType), zap.Error(err))
		return
	}

	topic := p.Topic(room, eventType)
	token := p.client.Publish(topic, p.qos, false, body)
	go func() {
		if !token.WaitTimeout(p.timeout) {
			p.logger.Warn("mqtt: publish timed out", zap.String("topic", topic))
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("mqtt: publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

// Publish sends a pre-encoded payload and waits for the broker.
func (p *MQTTPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	token.Wait()
	return token.Error()
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
