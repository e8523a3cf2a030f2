// Package telephony abstracts third-party carriers behind one contract and
// routes calls across them by priority, health and cost.
package telephony

import (
	"context"
	"time"
)

// ProviderName identifies a carrier.
type ProviderName string

const (
	Twilio     ProviderName = "twilio"
	Plivo      ProviderName = "plivo"
	Telnyx     ProviderName = "telnyx"
	SignalWire ProviderName = "signalwire"
	Bandwidth  ProviderName = "bandwidth"
	Vonage     ProviderName = "vonage"
)

// ParseProviderName validates a carrier name.
func ParseProviderName(s string) (ProviderName, bool) {
	switch p := ProviderName(s); p {
	case Twilio, Plivo, Telnyx, SignalWire, Bandwidth, Vonage:
		return p, true
	}
	return "", false
}

// CallState is the normalized carrier call state.
type CallState string

const (
	StateQueued     CallState = "queued"
	StateRinging    CallState = "ringing"
	StateInProgress CallState = "in-progress"
	StateCompleted  CallState = "completed"
	StateBusy       CallState = "busy"
	StateNoAnswer   CallState = "no-answer"
	StateCanceled   CallState = "canceled"
	StateFailed     CallState = "failed"
)

// CallRequest describes an outbound call to place.
type CallRequest struct {
	To                string
	From              string
	WebhookURL        string
	StatusCallbackURL string
	TimeoutSeconds    int
	MachineDetection  bool
	Record            bool
	Metadata          map[string]string
}

// CallResult is the outcome of one placement attempt.
type CallResult struct {
	Success  bool         `json:"success"`
	CallID   string       `json:"call_id"`
	Provider ProviderName `json:"provider"`
	Status   CallState    `json:"status"`
	Error    string       `json:"error,omitempty"`
}

// CallStatus is a carrier's view of a call.
type CallStatus struct {
	CallID    string       `json:"call_id"`
	Provider  ProviderName `json:"provider"`
	State     CallState    `json:"state"`
	Direction string       `json:"direction"`
	Duration  int          `json:"duration"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	StartedAt *time.Time   `json:"started_at,omitempty"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	Cost      float64      `json:"cost"`
}

type SMSRequest struct {
	To                string   `json:"to"`
	From              string   `json:"from,omitempty"`
	Body              string   `json:"body"`
	MediaURLs         []string `json:"media_urls,omitempty"`
	StatusCallbackURL string   `json:"status_callback_url,omitempty"`
}

type SMSResult struct {
	Success   bool         `json:"success"`
	MessageID string       `json:"message_id"`
	Provider  ProviderName `json:"provider"`
	Status    string       `json:"status"`
	Error     string       `json:"error,omitempty"`
}

// PhoneNumber is a number owned on a carrier account.
type PhoneNumber struct {
	Number       string       `json:"number"`
	Country      string       `json:"country"`
	Provider     ProviderName `json:"provider"`
	Voice        bool         `json:"voice"`
	SMS          bool         `json:"sms"`
	MMS          bool         `json:"mms"`
	MonthlyPrice float64      `json:"monthly_price"`
}

// EventType is the closed set of normalized webhook events.
type EventType string

const (
	EventCallInitiated EventType = "call.initiated"
	EventCallRinging   EventType = "call.ringing"
	EventCallAnswered  EventType = "call.answered"
	EventCallCompleted EventType = "call.completed"
	EventCallFailed    EventType = "call.failed"
	EventSMSReceived   EventType = "sms.received"
	EventSMSDelivered  EventType = "sms.delivered"
)

// WebhookEvent is a carrier callback reduced to the shared vocabulary.
type WebhookEvent struct {
	Provider ProviderName `json:"provider"`
	Type     EventType    `json:"type"`
	CallID   string       `json:"call_id,omitempty"`
	// RequestID is the placement id for carriers that report a different
	// call id once the call is live.
	RequestID     string         `json:"request_id,omitempty"`
	MessageID     string         `json:"message_id,omitempty"`
	From          string         `json:"from"`
	To            string         `json:"to"`
	Timestamp     time.Time      `json:"timestamp"`
	Machine       bool           `json:"machine"`
	Duration      int            `json:"duration"`
	CarrierStatus string         `json:"carrier_status,omitempty"`
	Raw           map[string]any `json:"raw"`
}

// Adapter is the contract every carrier integration implements. Network
// failures are returned wrapped in the shared error taxonomy.
type Adapter interface {
	Name() ProviderName
	PlaceCall(ctx context.Context, req CallRequest) (CallResult, error)
	Status(ctx context.Context, callID string) (CallStatus, error)
	EndCall(ctx context.Context, callID string) error
	Transfer(ctx context.Context, callID, to string) error
	SendSMS(ctx context.Context, req SMSRequest) (SMSResult, error)
	ListNumbers(ctx context.Context) ([]PhoneNumber, error)
	PurchaseNumber(ctx context.Context, number string) (PhoneNumber, error)
	ReleaseNumber(ctx context.Context, number string) error
	ParseWebhook(payload map[string]any) (WebhookEvent, error)
	HealthCheck(ctx context.Context) error
}
