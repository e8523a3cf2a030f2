package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/call-dispatch-engine/internal/config"
	"github.com/acme/call-dispatch-engine/internal/telephony"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

type manualTimers struct {
	pending []func()
}

func (m *manualTimers) afterFunc(_ time.Duration, fn func()) { m.pending = append(m.pending, fn) }

func (m *manualTimers) fire() {
	for len(m.pending) > 0 {
		fn := m.pending[0]
		m.pending = m.pending[1:]
		fn()
	}
}

func simConfig(success, machine float64) config.SimulatedCarrierConfig {
	return config.SimulatedCarrierConfig{
		Provider:    "telnyx",
		SuccessRate: success,
		MachineRate: machine,
		MinDuration: 4 * time.Second,
		MaxDuration: 4 * time.Second,
	}
}

func TestCarrierEmitsLifecycleEvents(t *testing.T) {
	timers := &manualTimers{}
	carrier, err := NewCarrier(simConfig(1, 0), WithSeed(1), WithAfterFunc(timers.afterFunc))
	require.NoError(t, err)

	var events []telephony.WebhookEvent
	carrier.OnEvent(func(e telephony.WebhookEvent) { events = append(events, e) })

	res, err := carrier.PlaceCall(context.Background(), telephony.CallRequest{To: "+15551234567"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, telephony.Telnyx, res.Provider)

	timers.fire()

	require.Len(t, events, 3)
	assert.Equal(t, telephony.EventCallRinging, events[0].Type)
	assert.Equal(t, telephony.EventCallAnswered, events[1].Type)
	assert.Equal(t, telephony.EventCallCompleted, events[2].Type)
	assert.Equal(t, 4, events[2].Duration)
	assert.False(t, events[2].Machine)

	status, err := carrier.Status(context.Background(), res.CallID)
	require.NoError(t, err)
	assert.Equal(t, telephony.StateCompleted, status.State)
}

func TestCarrierMachineAnswer(t *testing.T) {
	timers := &manualTimers{}
	carrier, err := NewCarrier(simConfig(1, 1), WithAfterFunc(timers.afterFunc))
	require.NoError(t, err)

	var last telephony.WebhookEvent
	carrier.OnEvent(func(e telephony.WebhookEvent) { last = e })

	_, err = carrier.PlaceCall(context.Background(), telephony.CallRequest{To: "+1"})
	require.NoError(t, err)
	timers.fire()
	assert.True(t, last.Machine)
}

func TestCarrierFailureIsProviderError(t *testing.T) {
	carrier, err := NewCarrier(simConfig(0, 0))
	require.NoError(t, err)

	_, err = carrier.PlaceCall(context.Background(), telephony.CallRequest{To: "+1"})
	require.ErrorIs(t, err, apperrors.ErrProvider)

	carrier.SetHealthy(false)
	require.Error(t, carrier.HealthCheck(context.Background()))
}

func TestCarrierRejectsUnknownName(t *testing.T) {
	_, err := NewCarrier(config.SimulatedCarrierConfig{Provider: "pigeon"})
	require.Error(t, err)
}

func TestCarrierNumbers(t *testing.T) {
	carrier, err := NewCarrier(simConfig(1, 0))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = carrier.PurchaseNumber(ctx, "+15550001111")
	require.NoError(t, err)
	numbers, err := carrier.ListNumbers(ctx)
	require.NoError(t, err)
	require.Len(t, numbers, 1)

	require.NoError(t, carrier.ReleaseNumber(ctx, "+15550001111"))
	require.ErrorIs(t, carrier.ReleaseNumber(ctx, "+15550001111"), apperrors.ErrNotFound)
}

func TestCarrierParseWebhook(t *testing.T) {
	carrier, err := NewCarrier(simConfig(1, 0))
	require.NoError(t, err)

	event, err := carrier.ParseWebhook(map[string]any{"call_id": "sim-1", "event": "call.completed", "duration": float64(9)})
	require.NoError(t, err)
	assert.Equal(t, telephony.EventCallCompleted, event.Type)
	assert.Equal(t, 9, event.Duration)

	_, err = carrier.ParseWebhook(map[string]any{})
	require.ErrorIs(t, err, apperrors.ErrInvalidWebhook)
}
