package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/call-dispatch-engine/internal/domain"
	"github.com/acme/call-dispatch-engine/internal/events"
	"github.com/acme/call-dispatch-engine/internal/repository/memory"
	"github.com/acme/call-dispatch-engine/internal/service/call"
	"github.com/acme/call-dispatch-engine/internal/service/ratelimit"
	"github.com/acme/call-dispatch-engine/internal/telephony"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

// 15:00 UTC on a Tuesday is 10:00 in New York.
var tuesdayMorning = time.Date(2024, 1, 9, 15, 0, 0, 0, time.UTC)

type fakeTimer struct {
	owner *timers
	delay time.Duration
	fn    func()
	done  bool
}

func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// timers collects armed callbacks so tests fire ticks one at a time.
type timers struct {
	mu  sync.Mutex
	all []*fakeTimer
}

func (ts *timers) after(d time.Duration, fn func()) Timer {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t := &fakeTimer{owner: ts, delay: d, fn: fn}
	ts.all = append(ts.all, t)
	return t
}

func (ts *timers) pending() []time.Duration {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var out []time.Duration
	for _, t := range ts.all {
		if !t.done {
			out = append(out, t.delay)
		}
	}
	return out
}

func (ts *timers) fireNext() bool {
	ts.mu.Lock()
	var next *fakeTimer
	for _, t := range ts.all {
		if !t.done {
			next = t
			break
		}
	}
	if next != nil {
		next.done = true
	}
	ts.mu.Unlock()
	if next == nil {
		return false
	}
	next.fn()
	return true
}

// carrier answers every call and reports completion before the placement
// response is processed, which exercises the orphan replay in the dialer.
type carrier struct {
	mu      sync.Mutex
	seq     int
	calls   *call.Service
	onPlace func()
}

func (c *carrier) PlaceCall(ctx context.Context, _ telephony.CallRequest) (telephony.CallResult, error) {
	c.mu.Lock()
	c.seq++
	id := fmt.Sprintf("ext-%d", c.seq)
	hook := c.onPlace
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	c.calls.HandleProviderEvent(ctx, telephony.WebhookEvent{Type: telephony.EventCallCompleted, CallID: id, Duration: 30})
	return telephony.CallResult{Success: true, CallID: id, Provider: telephony.Twilio, Status: telephony.StateQueued}, nil
}

func (c *carrier) PlaceCallWith(ctx context.Context, _ telephony.ProviderName, req telephony.CallRequest) (telephony.CallResult, error) {
	return c.PlaceCall(ctx, req)
}

func (c *carrier) placed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

type harness struct {
	svc      *Service
	store    *memory.CampaignStore
	config   *memory.BusinessConfigStore
	carrier  *carrier
	window   *ratelimit.MemoryWindow
	timers   *timers
	recorder *events.Recorder
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewCampaignStore(),
		config:   memory.NewBusinessConfigStore(domain.Business{ID: "biz", Outbound: domain.DefaultOutboundConfig()}),
		timers:   &timers{},
		recorder: &events.Recorder{},
		now:      tuesdayMorning,
	}
	clock := func() time.Time { return h.now }
	h.window = ratelimit.NewMemoryWindow(clock)
	h.carrier = &carrier{}
	h.carrier.calls = call.NewService(call.Dependencies{
		Router:      h.carrier,
		Config:      h.config,
		DNC:         memory.NewDNCList(),
		CallLog:     memory.NewCallLog(),
		Window:      h.window,
		Concurrency: ratelimit.NewMemoryConcurrency(),
		Emitter:     h.recorder,
	}, call.WithClock(clock), call.WithAfterFunc(func(time.Duration, func()) {}))
	h.svc = h.newService()
	return h
}

func (h *harness) newService() *Service {
	return NewService(Dependencies{
		Store:   h.store,
		Config:  h.config,
		Dialer:  h.carrier.calls,
		Emitter: h.recorder,
	}, WithClock(func() time.Time { return h.now }), WithAfterFunc(h.timers.after))
}

func input(n int) CreateCampaignInput {
	in := CreateCampaignInput{
		BusinessID: "biz",
		Name:       "January reminders",
		Script:     domain.Script{Template: "Hi {name}, this is a reminder."},
		RateLimit:  domain.RateLimit{CallsPerMinute: 60},
	}
	for i := 0; i < n; i++ {
		in.Contacts = append(in.Contacts, ContactInput{Phone: fmt.Sprintf("+1555000000%d", i+1), Name: fmt.Sprintf("Contact %d", i+1)})
	}
	return in
}

func TestValidateCreateInput(t *testing.T) {
	valid := input(1)
	if err := validateCreateInput(valid); err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}

	noName := valid
	noName.Name = ""
	if err := validateCreateInput(noName); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error for missing name, got %v", err)
	}

	noContacts := valid
	noContacts.Contacts = nil
	if err := validateCreateInput(noContacts); err == nil {
		t.Fatal("expected error for empty contact list")
	}

	blankPhone := valid
	blankPhone.Contacts = []ContactInput{{Name: "No Number"}}
	if err := validateCreateInput(blankPhone); err == nil {
		t.Fatal("expected error for contact without phone")
	}

	badZone := valid
	badZone.Schedule = &domain.CallSchedule{Timezone: "Mars/Olympus"}
	if err := validateCreateInput(badZone); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestCampaignDialsEveryContactAndCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.svc.ScheduleBulkCalls(ctx, input(3))
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusDraft, c.Status)
	assert.Empty(t, h.timers.pending())

	require.NoError(t, h.svc.Start(ctx, c.ID))
	assert.Equal(t, []time.Duration{0}, h.timers.pending())

	for i := 0; i < 3; i++ {
		require.True(t, h.timers.fireNext(), "tick %d", i+1)
		if i < 2 {
			assert.Equal(t, []time.Duration{time.Second}, h.timers.pending())
		}
	}

	got, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusCompleted, got.Status)
	assert.Equal(t, 3, got.CompletedCalls)
	assert.Equal(t, 3, got.AnsweredCalls)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)
	for _, contact := range got.Contacts {
		assert.Equal(t, domain.ContactStatusCompleted, contact.Status)
		assert.Equal(t, domain.ResultAnswered, contact.Result)
		assert.Equal(t, 1, contact.Attempts)
	}

	assert.Empty(t, h.timers.pending())
	assert.Equal(t, 3, h.carrier.placed())
	assert.Equal(t, 3, h.window.Count("biz"))
	assert.Equal(t, 1, h.recorder.Count(events.CampaignCompleted))

	res, err := h.svc.Results(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.AnswerRate)
	assert.Equal(t, 30.0, res.AverageCallSeconds)
}

func TestRateLimitedContactFailsWithoutConsumingQuota(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, h.window.Increment(ctx, "biz"))
	}

	c, err := h.svc.ScheduleBulkCalls(ctx, input(1))
	require.NoError(t, err)
	require.NoError(t, h.svc.Start(ctx, c.ID))
	require.True(t, h.timers.fireNext())

	got, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ContactStatusFailed, got.Contacts[0].Status)
	assert.Contains(t, got.Contacts[0].Result, "rate limit exceeded")
	assert.Equal(t, 1, got.FailedCalls)
	assert.Equal(t, got.CompletedCalls, got.AnsweredCalls+got.VoicemailCalls+got.FailedCalls)
	assert.Equal(t, 0, h.carrier.placed())
	assert.Equal(t, 10, h.window.Count("biz"))
}

func TestPauseCancelsPendingTick(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.svc.ScheduleBulkCalls(ctx, input(2))
	require.NoError(t, err)
	require.NoError(t, h.svc.Start(ctx, c.ID))
	require.Len(t, h.timers.pending(), 1)

	require.NoError(t, h.svc.Pause(ctx, c.ID))
	assert.Empty(t, h.timers.pending())
	assert.False(t, h.timers.fireNext())
	assert.Equal(t, 0, h.carrier.placed())

	// Pausing again changes nothing.
	require.NoError(t, h.svc.Pause(ctx, c.ID))
	got, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusPaused, got.Status)
	assert.Equal(t, 0, got.CompletedCalls)

	require.NoError(t, h.svc.Resume(ctx, c.ID))
	require.True(t, h.timers.fireNext())
	assert.Equal(t, 1, h.carrier.placed())
}

func TestPauseDuringDialStopsTheLoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.svc.ScheduleBulkCalls(ctx, input(3))
	require.NoError(t, err)
	h.carrier.onPlace = func() {
		if err := h.svc.Pause(ctx, c.ID); err != nil {
			t.Errorf("pause while dialing: %v", err)
		}
	}
	require.NoError(t, h.svc.Start(ctx, c.ID))
	require.True(t, h.timers.fireNext())

	got, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusPaused, got.Status)
	assert.Equal(t, 1, got.CompletedCalls)
	assert.Equal(t, 33, got.Progress)
	assert.Empty(t, h.timers.pending())
}

func TestLifecycleTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.svc.ScheduleBulkCalls(ctx, input(1))
	require.NoError(t, err)

	err = h.svc.Resume(ctx, c.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	require.NoError(t, h.svc.Start(ctx, c.ID))
	err = h.svc.Start(ctx, c.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	require.NoError(t, h.svc.Cancel(ctx, c.ID))
	require.NoError(t, h.svc.Cancel(ctx, c.ID))
	assert.Empty(t, h.timers.pending())

	_, err = h.svc.ImportContacts(ctx, c.ID, []ContactInput{{Phone: "+15559999999"}})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	done, err := h.svc.ScheduleBulkCalls(ctx, input(1))
	require.NoError(t, err)
	require.NoError(t, h.svc.Start(ctx, done.ID))
	require.True(t, h.timers.fireNext())
	err = h.svc.Cancel(ctx, done.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	err = h.svc.Pause(ctx, c.ID)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestFutureStartDateArmsStartTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start := h.now.Add(2 * time.Hour)
	in := input(1)
	in.Schedule = &domain.CallSchedule{StartDate: &start}
	c, err := h.svc.ScheduleBulkCalls(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusScheduled, c.Status)
	assert.Equal(t, []time.Duration{2 * time.Hour}, h.timers.pending())

	h.now = start
	require.True(t, h.timers.fireNext())
	got, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusRunning, got.Status)
	assert.Equal(t, []time.Duration{0}, h.timers.pending())
}

func TestPastStartDateStartsImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start := h.now.Add(-time.Hour)
	in := input(1)
	in.Schedule = &domain.CallSchedule{StartDate: &start}
	c, err := h.svc.ScheduleBulkCalls(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusRunning, c.Status)
}

func TestOutsideScheduleDefersWithoutConsumingContact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	// 13:00 UTC is 08:00 in New York, an hour before the window opens.
	h.now = time.Date(2024, 1, 9, 13, 0, 0, 0, time.UTC)

	in := input(1)
	in.Schedule = &domain.CallSchedule{Timezone: "America/New_York", AllowedHours: domain.BusinessDays("09:00", "17:00")}
	c, err := h.svc.ScheduleBulkCalls(ctx, in)
	require.NoError(t, err)
	require.NoError(t, h.svc.Start(ctx, c.ID))
	require.True(t, h.timers.fireNext())

	assert.Equal(t, []time.Duration{time.Hour}, h.timers.pending())
	got, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ContactStatusPending, got.Contacts[0].Status)
	assert.Equal(t, 0, got.Contacts[0].Attempts)
	assert.Equal(t, 0, h.carrier.placed())
}

func TestImportContactsAppendsPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.svc.ScheduleBulkCalls(ctx, input(1))
	require.NoError(t, err)

	got, err := h.svc.ImportContacts(ctx, c.ID, []ContactInput{{Phone: "+15557770001", Name: "Lee"}})
	require.NoError(t, err)
	require.Len(t, got.Contacts, 2)
	assert.Equal(t, domain.ContactStatusPending, got.Contacts[1].Status)

	_, err = h.svc.ImportContacts(ctx, c.ID, []ContactInput{{Name: "No Number"}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRecoverRearmsRunningCampaigns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.svc.ScheduleBulkCalls(ctx, input(1))
	require.NoError(t, err)
	require.NoError(t, h.svc.Start(ctx, c.ID))

	// Simulate a crash mid-dial: the contact is left called and the timer lost.
	h.svc.Stop()
	stored, err := h.store.Get(ctx, c.ID)
	require.NoError(t, err)
	contact := stored.Contacts[0]
	contact.Status = domain.ContactStatusCalled
	require.NoError(t, h.store.SaveContact(ctx, c.ID, contact))

	h.svc = h.newService()
	require.NoError(t, h.svc.Recover(ctx))
	require.True(t, h.timers.fireNext())

	got, err := h.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusCompleted, got.Status)
	assert.Equal(t, 1, got.AnsweredCalls)
}

func TestDefaultPaceAppliesWhenUnset(t *testing.T) {
	h := newHarness(t)
	svc := NewService(Dependencies{Store: h.store, Config: h.config, Dialer: h.carrier.calls},
		WithClock(func() time.Time { return h.now }), WithAfterFunc(h.timers.after), WithDefaultCallsPerMinute(12))

	in := input(1)
	in.RateLimit = domain.RateLimit{}
	c, err := svc.ScheduleBulkCalls(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 12, c.RateLimit.CallsPerMinute)

	c, err = svc.ScheduleBulkCalls(context.Background(), input(1))
	require.NoError(t, err)
	assert.Equal(t, 60, c.RateLimit.CallsPerMinute)
}
