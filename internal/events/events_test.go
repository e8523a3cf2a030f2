package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, published{topic: topic, payload: payload.([]byte)})
	return newFakeToken(c.err)
}

func (c *fakeClient) Disconnect(uint) {}

func TestMQTTPublisherEmit(t *testing.T) {
	client := &fakeClient{}
	pub := newMQTTPublisher(client, "callcenter", 1, nil)

	pub.Emit(context.Background(), "biz-1", CallIncoming, map[string]string{"callId": "c1"})

	require.Len(t, client.sent, 1)
	assert.Equal(t, "callcenter/biz-1/call/incoming", client.sent[0].topic)

	var evt Event
	require.NoError(t, json.Unmarshal(client.sent[0].payload, &evt))
	assert.Equal(t, "biz-1", evt.Room)
	assert.Equal(t, CallIncoming, evt.Type)
	assert.NotEmpty(t, evt.ID)
}

func TestMQTTPublisherPublishReturnsBrokerError(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	pub := newMQTTPublisher(client, "", 0, nil)

	err := pub.Publish(context.Background(), "t", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, "biz/queue/update", pub.Topic("biz", QueueUpdate))
}

func TestFanoutAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	var emitter Emitter = Fanout{a, Nop{}, b}

	emitter.Emit(context.Background(), "biz", CampaignUpdate, 1)
	emitter.Emit(context.Background(), "biz", CampaignCompleted, 2)

	assert.Len(t, a.Events(), 2)
	assert.Equal(t, 1, b.Count(CampaignCompleted))
	assert.Equal(t, 2, b.OfType(CampaignCompleted)[0].Payload)
}
