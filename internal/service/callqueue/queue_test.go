package callqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/call-dispatch-engine/internal/domain"
	"github.com/acme/call-dispatch-engine/internal/events"
)

func ids(status domain.QueueStatus) []string {
	out := make([]string, 0, len(status.Calls))
	for _, c := range status.Calls {
		out = append(out, c.CallID)
	}
	return out
}

func positions(status domain.QueueStatus) []int {
	out := make([]int, 0, len(status.Calls))
	for _, c := range status.Calls {
		out = append(out, c.Position)
	}
	return out
}

func TestEnqueueOrdersByPriorityThenArrival(t *testing.T) {
	now := time.Date(2024, 1, 9, 15, 0, 0, 0, time.UTC)
	recorder := &events.Recorder{}
	q := New(recorder, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	q.Enqueue(ctx, domain.QueuedCall{CallID: "a", BusinessID: "biz"}, 0)
	q.Enqueue(ctx, domain.QueuedCall{CallID: "b", BusinessID: "biz"}, 5)
	q.Enqueue(ctx, domain.QueuedCall{CallID: "c", BusinessID: "biz"}, 5)
	placed := q.Enqueue(ctx, domain.QueuedCall{CallID: "d", BusinessID: "biz"}, 1)

	assert.Equal(t, 3, placed.Position)
	status := q.Status("biz")
	assert.Equal(t, []string{"b", "c", "d", "a"}, ids(status))
	assert.Equal(t, []int{1, 2, 3, 4}, positions(status))
	assert.Equal(t, 4, recorder.Count(events.QueueUpdate))
}

func TestQueueScenario(t *testing.T) {
	q := New(nil)
	ctx := context.Background()

	q.Enqueue(ctx, domain.QueuedCall{CallID: "A", BusinessID: "biz"}, 0)
	q.Enqueue(ctx, domain.QueuedCall{CallID: "B", BusinessID: "biz"}, 5)
	q.Enqueue(ctx, domain.QueuedCall{CallID: "C", BusinessID: "biz"}, 5)

	status := q.Status("biz")
	assert.Equal(t, []string{"B", "C", "A"}, ids(status))
	assert.Equal(t, []int{1, 2, 3}, positions(status))

	require.True(t, q.Dequeue(ctx, "biz", "B", domain.DequeueServed))
	status = q.Status("biz")
	assert.Equal(t, []string{"C", "A"}, ids(status))
	assert.Equal(t, []int{1, 2}, positions(status))
}

func TestDequeueAbsentIsNoop(t *testing.T) {
	recorder := &events.Recorder{}
	q := New(recorder)
	ctx := context.Background()
	q.Enqueue(ctx, domain.QueuedCall{CallID: "a", BusinessID: "biz"}, 0)

	if q.Dequeue(ctx, "biz", "missing", domain.DequeueAbandoned) {
		t.Fatal("expected dequeue of an absent call to report false")
	}
	if q.Dequeue(ctx, "other", "a", domain.DequeueAbandoned) {
		t.Fatal("expected queues to be scoped by business")
	}
	assert.Equal(t, 1, q.Size("biz"))
	assert.Equal(t, 1, recorder.Count(events.QueueUpdate))
}

func TestWaitIsMeasuredAtQueryTime(t *testing.T) {
	now := time.Date(2024, 1, 9, 15, 0, 0, 0, time.UTC)
	q := New(nil, WithClock(func() time.Time { return now }), WithActiveCounter(func(string) int { return 2 }))
	ctx := context.Background()

	q.Enqueue(ctx, domain.QueuedCall{CallID: "a", BusinessID: "biz"}, 0)
	now = now.Add(30 * time.Second)
	q.Enqueue(ctx, domain.QueuedCall{CallID: "b", BusinessID: "biz"}, 0)
	now = now.Add(30 * time.Second)

	status := q.Status("biz")
	assert.Equal(t, time.Minute, status.LongestWait)
	assert.Equal(t, 45*time.Second, status.AverageWait)
	assert.Equal(t, 2, status.ActiveCalls)

	now = now.Add(time.Minute)
	assert.Equal(t, 2*time.Minute, q.Status("biz").LongestWait)
}

func TestNextServesHeadAndRequeueMoves(t *testing.T) {
	q := New(nil)
	ctx := context.Background()
	q.Enqueue(ctx, domain.QueuedCall{CallID: "a", BusinessID: "biz"}, 0)
	q.Enqueue(ctx, domain.QueuedCall{CallID: "b", BusinessID: "biz"}, 0)

	// Re-queueing with a higher priority moves the call forward.
	q.Enqueue(ctx, domain.QueuedCall{CallID: "b", BusinessID: "biz"}, 3)
	pos, ok := q.Position("biz", "b")
	require.True(t, ok)
	assert.Equal(t, 1, pos)
	assert.Equal(t, 2, q.Size("biz"))

	head, ok := q.Next(ctx, "biz")
	require.True(t, ok)
	assert.Equal(t, "b", head.CallID)
	assert.Equal(t, 1, q.Size("biz"))

	_, ok = q.Next(ctx, "empty")
	assert.False(t, ok)
}

func TestConcurrentNextServesEachCallOnce(t *testing.T) {
	recorder := &events.Recorder{}
	q := New(recorder)
	ctx := context.Background()
	const waiting = 50
	for i := 0; i < waiting; i++ {
		q.Enqueue(ctx, domain.QueuedCall{CallID: fmt.Sprintf("c%02d", i), BusinessID: "biz"}, 0)
	}

	var (
		mu     sync.Mutex
		served = make(map[string]int)
		wg     sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				head, ok := q.Next(ctx, "biz")
				if !ok {
					return
				}
				mu.Lock()
				served[head.CallID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, served, waiting)
	for id, n := range served {
		if n != 1 {
			t.Fatalf("call %s served %d times", id, n)
		}
	}
	assert.Equal(t, 0, q.Size("biz"))
	assert.Equal(t, 2*waiting, recorder.Count(events.QueueUpdate))
}

func TestNextAfterHeadLeftServesFollower(t *testing.T) {
	q := New(nil)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(ctx, domain.QueuedCall{CallID: id, BusinessID: "biz"}, 0)
	}
	require.True(t, q.Dequeue(ctx, "biz", "a", domain.DequeueAbandoned))

	head, ok := q.Next(ctx, "biz")
	require.True(t, ok)
	assert.Equal(t, "b", head.CallID)
	assert.Equal(t, 1, head.Position)
	assert.Equal(t, []int{1}, positions(q.Status("biz")))
	assert.Equal(t, []string{"c"}, ids(q.Status("biz")))
}
