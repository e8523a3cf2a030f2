// Package mock provides an in-process carrier that simulates call outcomes
// and reports them through the same webhook events a real carrier sends.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/acme/call-dispatch-engine/internal/config"
	"github.com/acme/call-dispatch-engine/internal/telephony"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

type simCall struct {
	status   telephony.CallStatus
	machine  bool
	finished bool
}

// Carrier simulates outbound call behaviour.
type Carrier struct {
	name        telephony.ProviderName
	successRate float64
	machineRate float64
	minDuration time.Duration
	maxDuration time.Duration
	afterFunc   func(time.Duration, func())
	now         func() time.Time

	mu      sync.Mutex
	rng     *rand.Rand
	seq     int
	healthy bool
	calls   map[string]*simCall
	numbers map[string]telephony.PhoneNumber
	onEvent func(telephony.WebhookEvent)
}

var _ telephony.Adapter = (*Carrier)(nil)

type Option func(*Carrier)

// WithSeed makes outcomes reproducible.
func WithSeed(seed int64) Option {
	return func(c *Carrier) { c.rng = rand.New(rand.NewSource(seed)) }
}

// WithAfterFunc replaces the timer used to deliver simulated events.
func WithAfterFunc(fn func(time.Duration, func())) Option {
	return func(c *Carrier) { c.afterFunc = fn }
}

func WithClock(now func() time.Time) Option {
	return func(c *Carrier) { c.now = now }
}

// NewCarrier constructs a simulated carrier. The provider name must be one
// of the known carriers so the router can register it.
func NewCarrier(cfg config.SimulatedCarrierConfig, opts ...Option) (*Carrier, error) {
	name, ok := telephony.ParseProviderName(cfg.Provider)
	if !ok {
		return nil, fmt.Errorf("mock: unknown provider name %q", cfg.Provider)
	}
	c := &Carrier{
		name:        name,
		successRate: cfg.SuccessRate,
		machineRate: cfg.MachineRate,
		minDuration: cfg.MinDuration,
		maxDuration: cfg.MaxDuration,
		afterFunc:   func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		healthy:     true,
		calls:       make(map[string]*simCall),
		numbers:     make(map[string]telephony.PhoneNumber),
	}
	if c.maxDuration < c.minDuration {
		c.maxDuration = c.minDuration
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// OnEvent registers the receiver for simulated webhook events.
func (c *Carrier) OnEvent(fn func(telephony.WebhookEvent)) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

// SetHealthy controls the outcome of HealthCheck.
func (c *Carrier) SetHealthy(healthy bool) {
	c.mu.Lock()
	c.healthy = healthy
	c.mu.Unlock()
}

func (c *Carrier) Name() telephony.ProviderName { return c.name }

// PlaceCall accepts or rejects the call at random. Accepted calls ring, are
// answered and hang up after a random duration.
func (c *Carrier) PlaceCall(_ context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	c.mu.Lock()
	if c.rng.Float64() >= c.successRate {
		c.mu.Unlock()
		return telephony.CallResult{}, fmt.Errorf("%w: %s: simulated failure", apperrors.ErrProvider, c.name)
	}
	c.seq++
	id := fmt.Sprintf("sim-%s-%d", c.name, c.seq)
	duration := c.minDuration
	if span := c.maxDuration - c.minDuration; span > 0 {
		duration += time.Duration(c.rng.Int63n(int64(span)))
	}
	call := &simCall{
		machine: c.rng.Float64() < c.machineRate,
		status: telephony.CallStatus{
			CallID:    id,
			Provider:  c.name,
			State:     telephony.StateQueued,
			Direction: "outbound",
			From:      req.From,
			To:        req.To,
		},
	}
	c.calls[id] = call
	c.mu.Unlock()

	c.afterFunc(0, func() { c.advance(id, telephony.StateRinging, telephony.EventCallRinging) })
	c.afterFunc(duration/4, func() { c.advance(id, telephony.StateInProgress, telephony.EventCallAnswered) })
	c.afterFunc(duration, func() { c.finish(id, duration) })

	return telephony.CallResult{Success: true, CallID: id, Provider: c.name, Status: telephony.StateQueued}, nil
}

func (c *Carrier) advance(id string, state telephony.CallState, eventType telephony.EventType) {
	c.mu.Lock()
	call, ok := c.calls[id]
	if !ok || call.finished {
		c.mu.Unlock()
		return
	}
	call.status.State = state
	if state == telephony.StateInProgress {
		started := c.now()
		call.status.StartedAt = &started
	}
	event := c.eventLocked(call, eventType)
	c.mu.Unlock()
	c.emit(event)
}

func (c *Carrier) finish(id string, duration time.Duration) {
	c.mu.Lock()
	call, ok := c.calls[id]
	if !ok || call.finished {
		c.mu.Unlock()
		return
	}
	call.finished = true
	call.status.State = telephony.StateCompleted
	call.status.Duration = int(duration.Round(time.Second) / time.Second)
	ended := c.now()
	call.status.EndedAt = &ended
	call.status.Cost = telephony.DefaultCosts[c.name] * duration.Minutes()
	event := c.eventLocked(call, telephony.EventCallCompleted)
	c.mu.Unlock()
	c.emit(event)
}

func (c *Carrier) eventLocked(call *simCall, eventType telephony.EventType) telephony.WebhookEvent {
	return telephony.WebhookEvent{
		Provider:      c.name,
		Type:          eventType,
		CallID:        call.status.CallID,
		From:          call.status.From,
		To:            call.status.To,
		Timestamp:     c.now(),
		Machine:       call.machine && eventType != telephony.EventCallRinging,
		Duration:      call.status.Duration,
		CarrierStatus: string(call.status.State),
	}
}

func (c *Carrier) emit(event telephony.WebhookEvent) {
	c.mu.Lock()
	fn := c.onEvent
	c.mu.Unlock()
	if fn != nil {
		fn(event)
	}
}

func (c *Carrier) Status(_ context.Context, callID string) (telephony.CallStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.calls[callID]
	if !ok {
		return telephony.CallStatus{}, fmt.Errorf("%w: call %s", apperrors.ErrNotFound, callID)
	}
	return call.status, nil
}

func (c *Carrier) EndCall(_ context.Context, callID string) error {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: call %s", apperrors.ErrNotFound, callID)
	}
	var started time.Time
	if call.status.StartedAt != nil {
		started = *call.status.StartedAt
	}
	c.mu.Unlock()

	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = c.now().Sub(started)
	}
	c.finish(callID, elapsed)
	return nil
}

func (c *Carrier) Transfer(_ context.Context, callID, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.calls[callID]; !ok {
		return fmt.Errorf("%w: call %s", apperrors.ErrNotFound, callID)
	}
	return nil
}

func (c *Carrier) SendSMS(_ context.Context, req telephony.SMSRequest) (telephony.SMSResult, error) {
	c.mu.Lock()
	c.seq++
	id := fmt.Sprintf("sim-msg-%d", c.seq)
	c.mu.Unlock()

	c.afterFunc(0, func() {
		c.emit(telephony.WebhookEvent{
			Provider:  c.name,
			Type:      telephony.EventSMSDelivered,
			MessageID: id,
			From:      req.From,
			To:        req.To,
			Timestamp: c.now(),
		})
	})
	return telephony.SMSResult{Success: true, MessageID: id, Provider: c.name, Status: "queued"}, nil
}

func (c *Carrier) ListNumbers(context.Context) ([]telephony.PhoneNumber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]telephony.PhoneNumber, 0, len(c.numbers))
	for _, n := range c.numbers {
		out = append(out, n)
	}
	return out, nil
}

func (c *Carrier) PurchaseNumber(_ context.Context, number string) (telephony.PhoneNumber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := telephony.PhoneNumber{Number: number, Country: "US", Provider: c.name, Voice: true, SMS: true, MonthlyPrice: 1}
	c.numbers[number] = n
	return n, nil
}

func (c *Carrier) ReleaseNumber(_ context.Context, number string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.numbers[number]; !ok {
		return fmt.Errorf("%w: number %s", apperrors.ErrNotFound, number)
	}
	delete(c.numbers, number)
	return nil
}

// ParseWebhook accepts the normalized event shape, which is what the
// simulator would post if it were remote.
func (c *Carrier) ParseWebhook(payload map[string]any) (telephony.WebhookEvent, error) {
	callID, _ := payload["call_id"].(string)
	messageID, _ := payload["message_id"].(string)
	if callID == "" && messageID == "" {
		return telephony.WebhookEvent{}, fmt.Errorf("%w: %s: missing call_id", apperrors.ErrInvalidWebhook, c.name)
	}
	eventType, _ := payload["event"].(string)
	if eventType == "" {
		eventType = string(telephony.EventCallInitiated)
	}
	from, _ := payload["from"].(string)
	to, _ := payload["to"].(string)
	machine, _ := payload["machine"].(bool)
	duration, _ := payload["duration"].(float64)
	return telephony.WebhookEvent{
		Provider:  c.name,
		Type:      telephony.EventType(eventType),
		CallID:    callID,
		MessageID: messageID,
		From:      from,
		To:        to,
		Timestamp: c.now(),
		Machine:   machine,
		Duration:  int(duration),
		Raw:       payload,
	}, nil
}

func (c *Carrier) HealthCheck(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.healthy {
		return fmt.Errorf("%w: %s: simulated outage", apperrors.ErrProvider, c.name)
	}
	return nil
}
