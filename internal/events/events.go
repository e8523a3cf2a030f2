// Package events broadcasts engine state changes to rooms. A room is the
// owning business id. Emission is fire-and-forget: emitters never block the
// caller on delivery and tolerate having no subscribers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	CallIncoming      = "call:incoming"
	CallStarted       = "call:started"
	CallAnswered      = "call:answered"
	CallEnded         = "call:ended"
	CallFailed        = "call:failed"
	CallTransferred   = "call:transferred"
	QueueUpdate       = "queue:update"
	CampaignUpdate    = "campaign:update"
	CampaignCompleted = "campaign:completed"
	CallbackUpdate    = "callback:update"
)

// Event is the envelope every sink receives.
type Event struct {
	ID         string    `json:"id"`
	Room       string    `json:"room"`
	Type       string    `json:"type"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps an event with an id and the current time.
func New(room, eventType string, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Room:       room,
		Type:       eventType,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Emitter delivers events to a room.
type Emitter interface {
	Emit(ctx context.Context, room, eventType string, payload any)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Emit(context.Context, string, string, any) {}

// Fanout forwards each event to every emitter in order.
type Fanout []Emitter

func (f Fanout) Emit(ctx context.Context, room, eventType string, payload any) {
	for _, e := range f {
		e.Emit(ctx, room, eventType, payload)
	}
}

// Recorder keeps emitted events in memory. Tests use it to assert on broadcasts.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, room, eventType string, payload any) {
	r.mu.Lock()
	r.events = append(r.events, New(room, eventType, payload))
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of the given type were recorded.
func (r *Recorder) Count(eventType string) int {
	return len(r.OfType(eventType))
}
