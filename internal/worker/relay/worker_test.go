package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/events"
)

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	fail   bool
}

func (p *fakePublisher) Topic(room, eventType string) string {
	return "cc/" + room + "/" + eventType
}

func (p *fakePublisher) Publish(_ context.Context, topic string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.topics = append(p.topics, topic)
	return nil
}

func encode(t *testing.T, evt events.Event) []byte {
	t.Helper()
	b, err := json.Marshal(evt)
	require.NoError(t, err)
	return b
}

func TestRelayForwardsAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		{Offset: 1, Value: encode(t, events.New("biz", events.CallIncoming, nil))},
		{Offset: 2, Value: []byte("not json")},
		{Offset: 3, Value: encode(t, events.New("biz", events.QueueUpdate, nil))},
	}}
	pub := &fakePublisher{}

	err := New(reader, pub, zap.NewNop()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"cc/biz/call:incoming", "cc/biz/queue:update"}, pub.topics)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
}

func TestRelayDoesNotCommitOnPublishFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		{Offset: 9, Value: encode(t, events.New("biz", events.CallEnded, nil))},
	}}

	err := New(reader, &fakePublisher{fail: true}, zap.NewNop()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reader.committed)
}
