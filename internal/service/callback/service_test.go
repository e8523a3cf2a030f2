package callback

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/call-dispatch-engine/internal/domain"
	"github.com/acme/call-dispatch-engine/internal/events"
	"github.com/acme/call-dispatch-engine/internal/repository/memory"
	"github.com/acme/call-dispatch-engine/internal/service/call"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

type fakeDialer struct {
	mu       sync.Mutex
	requests []call.Request
	result   call.Result
}

func (f *fakeDialer) InitiateCall(_ context.Context, req call.Request) (call.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result, nil
}

type stubTimer struct{ stopped bool }

func (t *stubTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type armed struct {
	delay time.Duration
	fn    func()
	timer *stubTimer
}

type harness struct {
	svc      *Service
	store    *memory.CallbackStore
	dialer   *fakeDialer
	recorder *events.Recorder
	armed    []*armed
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewCallbackStore(),
		dialer:   &fakeDialer{result: call.Result{Success: true, Message: "call placed"}},
		recorder: &events.Recorder{},
		now:      time.Date(2024, 1, 9, 15, 0, 0, 0, time.UTC),
	}
	after := func(d time.Duration, fn func()) Timer {
		a := &armed{delay: d, fn: fn, timer: &stubTimer{}}
		h.armed = append(h.armed, a)
		return a.timer
	}
	h.svc = NewService(Dependencies{Store: h.store, Dialer: h.dialer, Emitter: h.recorder},
		WithClock(func() time.Time { return h.now }), WithAfterFunc(after))
	return h
}

func TestImmediateCallbackIsDialedRightAway(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req, err := h.svc.ScheduleCallback(ctx, ScheduleInput{BusinessID: "biz", Phone: "+15551112222", Name: "Sam", Reason: "billing"})
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackStatusCompleted, req.Status)
	assert.Equal(t, "call placed", req.Result)
	require.NotNil(t, req.ProcessedAt)
	assert.Empty(t, h.armed)

	require.Len(t, h.dialer.requests, 1)
	sent := h.dialer.requests[0]
	assert.Equal(t, "Hello Sam, you asked us to call you back about billing.", sent.Script.Personalize(sent.Contact))

	// pending, in_progress, completed
	assert.Equal(t, 3, h.recorder.Count(events.CallbackUpdate))
}

func TestFutureCallbackWaitsForItsTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	at := h.now.Add(30 * time.Minute)

	req, err := h.svc.ScheduleCallback(ctx, ScheduleInput{BusinessID: "biz", Phone: "+15551112222", PreferredTime: &at})
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackStatusScheduled, req.Status)
	require.Len(t, h.armed, 1)
	assert.Equal(t, 30*time.Minute, h.armed[0].delay)
	assert.Empty(t, h.dialer.requests)

	h.armed[0].fn()
	got, err := h.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackStatusCompleted, got.Status)
	assert.Len(t, h.dialer.requests, 1)
}

func TestBlockedCallbackFails(t *testing.T) {
	h := newHarness(t)
	cause := fmt.Errorf("%w: number is on the do-not-call list", apperrors.ErrComplianceBlocked)
	h.dialer.result = call.Result{Success: false, Message: cause.Error(), Cause: cause}

	req, err := h.svc.ScheduleCallback(context.Background(), ScheduleInput{BusinessID: "biz", Phone: "+15551112222"})
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackStatusFailed, req.Status)
	assert.Contains(t, req.Result, "do-not-call")
}

func TestCancelCallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	at := h.now.Add(time.Hour)

	req, err := h.svc.ScheduleCallback(ctx, ScheduleInput{BusinessID: "biz", Phone: "+15551112222", PreferredTime: &at})
	require.NoError(t, err)

	cancelled, err := h.svc.CancelCallback(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackStatusCancelled, cancelled.Status)
	assert.True(t, h.armed[0].timer.stopped)

	// A timer that fired anyway must not dial.
	h.armed[0].fn()
	assert.Empty(t, h.dialer.requests)

	_, err = h.svc.CancelCallback(ctx, req.ID)
	require.NoError(t, err)

	done, err := h.svc.ScheduleCallback(ctx, ScheduleInput{BusinessID: "biz", Phone: "+15553334444"})
	require.NoError(t, err)
	_, err = h.svc.CancelCallback(ctx, done.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = h.svc.CancelCallback(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRecoverRearmsWaitingCallbacks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	future := h.now.Add(10 * time.Minute)
	past := h.now.Add(-10 * time.Minute)

	require.NoError(t, h.store.Create(ctx, &domain.CallbackRequest{ID: uuid.New(), BusinessID: "biz", Phone: "+1", Status: domain.CallbackStatusScheduled, PreferredTime: &future}))
	require.NoError(t, h.store.Create(ctx, &domain.CallbackRequest{ID: uuid.New(), BusinessID: "biz", Phone: "+2", Status: domain.CallbackStatusScheduled, PreferredTime: &past}))
	require.NoError(t, h.store.Create(ctx, &domain.CallbackRequest{ID: uuid.New(), BusinessID: "biz", Phone: "+3", Status: domain.CallbackStatusCompleted}))

	require.NoError(t, h.svc.Recover(ctx))
	require.Len(t, h.armed, 2)

	delays := []time.Duration{h.armed[0].delay, h.armed[1].delay}
	assert.ElementsMatch(t, []time.Duration{0, 10 * time.Minute}, delays)

	list, err := h.svc.Callbacks(ctx, "biz")
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestScheduleCallbackValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ScheduleCallback(context.Background(), ScheduleInput{BusinessID: "biz"})
	if err == nil {
		t.Fatal("expected error for missing phone")
	}
	_, err = h.svc.ScheduleCallback(context.Background(), ScheduleInput{Phone: "+15551112222"})
	if err == nil {
		t.Fatal("expected error for missing business")
	}
}

func TestInlineTimerProcessesCallback(t *testing.T) {
	h := newHarness(t)
	inline := func(_ time.Duration, fn func()) Timer {
		fn()
		return &stubTimer{}
	}
	h.svc = NewService(Dependencies{Store: h.store, Dialer: h.dialer, Emitter: h.recorder},
		WithClock(func() time.Time { return h.now }), WithAfterFunc(inline))
	ctx := context.Background()
	at := h.now.Add(time.Minute)

	done := make(chan *domain.CallbackRequest, 1)
	go func() {
		req, err := h.svc.ScheduleCallback(ctx, ScheduleInput{BusinessID: "biz", Phone: "+15551112222", PreferredTime: &at})
		assert.NoError(t, err)
		done <- req
	}()

	var req *domain.CallbackRequest
	select {
	case req = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduling with an inline timer did not return")
	}
	require.NotNil(t, req)

	got, err := h.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackStatusCompleted, got.Status)
	assert.Len(t, h.dialer.requests, 1)

	h.svc.mu.Lock()
	assert.Empty(t, h.svc.timers)
	h.svc.mu.Unlock()
}
