package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle of one outbound call leg.
type SessionStatus string

const (
	SessionStatusDialing    SessionStatus = "dialing"
	SessionStatusRinging    SessionStatus = "ringing"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

// Terminal reports whether the session can no longer change.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// CallSession tracks one outbound call from dialing to hangup.
type CallSession struct {
	ID             uuid.UUID     `json:"id"`
	BusinessID     string        `json:"business_id"`
	CampaignID     *uuid.UUID    `json:"campaign_id,omitempty"`
	ContactID      *uuid.UUID    `json:"contact_id,omitempty"`
	Phone          string        `json:"phone"`
	Provider       string        `json:"provider,omitempty"`
	ExternalCallID string        `json:"external_call_id,omitempty"`
	AgentCallID    string        `json:"agent_call_id,omitempty"`
	Machine        bool          `json:"machine,omitempty"`
	Status         SessionStatus `json:"status"`
	Result         string        `json:"result,omitempty"`
	Duration       int           `json:"duration"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
}

// CallbackStatus is the lifecycle of a callback request.
type CallbackStatus string

const (
	CallbackStatusPending    CallbackStatus = "pending"
	CallbackStatusScheduled  CallbackStatus = "scheduled"
	CallbackStatusInProgress CallbackStatus = "in_progress"
	CallbackStatusCompleted  CallbackStatus = "completed"
	CallbackStatusFailed     CallbackStatus = "failed"
	CallbackStatusCancelled  CallbackStatus = "cancelled"
)

// CallbackRequest is a one-shot call placed at a caller-preferred time.
type CallbackRequest struct {
	ID            uuid.UUID      `json:"id"`
	BusinessID    string         `json:"business_id"`
	Phone         string         `json:"phone"`
	Name          string         `json:"name"`
	Reason        string         `json:"reason"`
	PreferredTime *time.Time     `json:"preferred_time,omitempty"`
	Status        CallbackStatus `json:"status"`
	Result        string         `json:"result,omitempty"`
	RequestedAt   time.Time      `json:"requested_at"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty"`
}

// OutboundAttempt is the call-log record of one placement.
type OutboundAttempt struct {
	SessionID   uuid.UUID  `json:"session_id"`
	BusinessID  string     `json:"business_id"`
	CampaignID  *uuid.UUID `json:"campaign_id,omitempty"`
	Phone       string     `json:"phone"`
	Provider    string     `json:"provider"`
	CallID      string     `json:"call_id"`
	Success     bool       `json:"success"`
	Error       string     `json:"error,omitempty"`
	AttemptedAt time.Time  `json:"attempted_at"`
}
