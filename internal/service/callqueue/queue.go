// Package callqueue keeps the per-business waiting lists for inbound calls.
package callqueue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/domain"
	"github.com/acme/call-dispatch-engine/internal/events"
)

type Option func(*Queue)

// WithClock overrides the time source used for wait accounting.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithActiveCounter reports the live call count included in status broadcasts.
func WithActiveCounter(fn func(businessID string) int) Option {
	return func(q *Queue) { q.active = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// Queue orders waiting callers by priority, highest first, and by arrival
// within a priority. Positions are 1-based and contiguous.
type Queue struct {
	emitter events.Emitter
	logger  *zap.Logger
	now     func() time.Time
	active  func(businessID string) int

	mu     sync.Mutex
	queues map[string][]domain.QueuedCall
}

// New constructs an empty queue set.
func New(emitter events.Emitter, opts ...Option) *Queue {
	q := &Queue{
		emitter: emitter,
		logger:  zap.NewNop(),
		now:     time.Now,
		queues:  make(map[string][]domain.QueuedCall),
	}
	if q.emitter == nil {
		q.emitter = events.Nop{}
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts the call before the first entry of strictly lower priority.
// A call that is already waiting is moved to its new place.
func (q *Queue) Enqueue(ctx context.Context, c domain.QueuedCall, priority int) domain.QueuedCall {
	q.mu.Lock()
	list := remove(q.queues[c.BusinessID], c.CallID)

	c.Priority = priority
	c.EnqueuedAt = q.now()
	at := len(list)
	for i, existing := range list {
		if existing.Priority < priority {
			at = i
			break
		}
	}
	list = append(list, domain.QueuedCall{})
	copy(list[at+1:], list[at:])
	list[at] = c
	renumber(list)
	q.queues[c.BusinessID] = list

	placed := list[at]
	status := q.statusLocked(c.BusinessID)
	q.mu.Unlock()

	q.logger.Debug("call queued",
		zap.String("business_id", c.BusinessID),
		zap.String("call_id", c.CallID),
		zap.Int("priority", priority),
		zap.Int("position", placed.Position))
	q.broadcast(ctx, status)
	return placed
}

// Dequeue removes a call. Absent ids are ignored and report false.
func (q *Queue) Dequeue(ctx context.Context, businessID, callID string, reason domain.DequeueReason) bool {
	q.mu.Lock()
	status, ok := q.removeLocked(businessID, callID)
	q.mu.Unlock()
	if !ok {
		return false
	}
	q.dequeued(ctx, status, callID, reason)
	return true
}

// Next pops the head of the queue as served. The head is read and removed
// under one lock so two callers never serve the same call.
func (q *Queue) Next(ctx context.Context, businessID string) (domain.QueuedCall, bool) {
	q.mu.Lock()
	list := q.queues[businessID]
	if len(list) == 0 {
		q.mu.Unlock()
		return domain.QueuedCall{}, false
	}
	head := list[0]
	head.Wait = q.now().Sub(head.EnqueuedAt)
	status, _ := q.removeLocked(businessID, head.CallID)
	q.mu.Unlock()

	q.dequeued(ctx, status, head.CallID, domain.DequeueServed)
	return head, true
}

func (q *Queue) removeLocked(businessID, callID string) (domain.QueueStatus, bool) {
	list := q.queues[businessID]
	next := remove(list, callID)
	if len(next) == len(list) {
		return domain.QueueStatus{}, false
	}
	renumber(next)
	if len(next) == 0 {
		delete(q.queues, businessID)
	} else {
		q.queues[businessID] = next
	}
	return q.statusLocked(businessID), true
}

func (q *Queue) dequeued(ctx context.Context, status domain.QueueStatus, callID string, reason domain.DequeueReason) {
	q.logger.Debug("call dequeued",
		zap.String("business_id", status.BusinessID),
		zap.String("call_id", callID),
		zap.String("reason", string(reason)))
	q.broadcast(ctx, status)
}

// Position returns the 1-based place of a waiting call.
func (q *Queue) Position(businessID, callID string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range q.queues[businessID] {
		if c.CallID == callID {
			return c.Position, true
		}
	}
	return 0, false
}

// Size is the number of waiting calls.
func (q *Queue) Size(businessID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[businessID])
}

// Status summarises the queue with waits measured up to now.
func (q *Queue) Status(businessID string) domain.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked(businessID)
}

func (q *Queue) statusLocked(businessID string) domain.QueueStatus {
	now := q.now()
	list := q.queues[businessID]
	status := domain.QueueStatus{
		BusinessID: businessID,
		Size:       len(list),
		Calls:      make([]domain.QueuedCall, 0, len(list)),
	}
	var total time.Duration
	for _, c := range list {
		c.Wait = now.Sub(c.EnqueuedAt)
		total += c.Wait
		if c.Wait > status.LongestWait {
			status.LongestWait = c.Wait
		}
		status.Calls = append(status.Calls, c)
	}
	if len(list) > 0 {
		status.AverageWait = total / time.Duration(len(list))
	}
	if q.active != nil {
		status.ActiveCalls = q.active(businessID)
	}
	return status
}

func (q *Queue) broadcast(ctx context.Context, status domain.QueueStatus) {
	q.emitter.Emit(ctx, status.BusinessID, events.QueueUpdate, status)
}

func remove(list []domain.QueuedCall, callID string) []domain.QueuedCall {
	for i, c := range list {
		if c.CallID == callID {
			out := make([]domain.QueuedCall, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...)
		}
	}
	return list
}

func renumber(list []domain.QueuedCall) {
	for i := range list {
		list[i].Position = i + 1
	}
}
