package domain

import (
	"fmt"
	"time"
)

// InboundState is the per-call routing state machine.
type InboundState string

const (
	InboundStateReceived InboundState = "received"
	InboundStateRouted   InboundState = "routed"
	InboundStateActive   InboundState = "active"
	InboundStateEnded    InboundState = "ended"
)

// InboundCall is a live call handled by the inbound router.
type InboundCall struct {
	ID            string            `json:"id"`
	BusinessID    string            `json:"business_id"`
	From          string            `json:"from"`
	To            string            `json:"to"`
	CallerName    string            `json:"caller_name,omitempty"`
	CarrierCallID string            `json:"carrier_call_id,omitempty"`
	Provider      string            `json:"provider,omitempty"`
	State         InboundState      `json:"state"`
	Action        ActionType        `json:"action,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ConditionType names the kind of test a routing rule applies.
type ConditionType string

const (
	ConditionTimeBased     ConditionType = "TIME_BASED"
	ConditionCallerID      ConditionType = "CALLER_ID"
	ConditionKeyword       ConditionType = "KEYWORD"
	ConditionQueueLength   ConditionType = "QUEUE_LENGTH"
	ConditionCallerHistory ConditionType = "CALLER_HISTORY"
)

// ActionType names how an inbound call is handled.
type ActionType string

const (
	ActionAIAgent     ActionType = "AI_AGENT"
	ActionVoicemail   ActionType = "VOICEMAIL"
	ActionTransfer    ActionType = "TRANSFER"
	ActionPlayMessage ActionType = "PLAY_MESSAGE"
	ActionQueue       ActionType = "QUEUE"
	ActionCallback    ActionType = "CALLBACK"
)

// Valid reports whether a is one of the known actions.
func (a ActionType) Valid() bool {
	switch a {
	case ActionAIAgent, ActionVoicemail, ActionTransfer, ActionPlayMessage, ActionQueue, ActionCallback:
		return true
	}
	return false
}

// CallerIDMode decides whether a caller-id match admits or excludes.
type CallerIDMode string

const (
	CallerIDWhitelist CallerIDMode = "whitelist"
	CallerIDBlacklist CallerIDMode = "blacklist"
)

type TimeCondition struct {
	Schedule WeeklySchedule `json:"schedule" yaml:"schedule"`
}

type CallerIDCondition struct {
	Patterns []string     `json:"patterns" yaml:"patterns"`
	Mode     CallerIDMode `json:"mode" yaml:"mode"`
}

type KeywordCondition struct {
	Keywords []string `json:"keywords" yaml:"keywords"`
}

type QueueLengthCondition struct {
	Threshold int `json:"threshold" yaml:"threshold"`
}

type CallerHistoryCondition struct {
	MinPreviousCalls int `json:"min_previous_calls" yaml:"min_previous_calls"`
}

// RuleCondition is a tagged union keyed by Type. Exactly the payload that
// matches Type is set.
type RuleCondition struct {
	Type          ConditionType           `json:"type" yaml:"type"`
	Time          *TimeCondition          `json:"time,omitempty" yaml:"time,omitempty"`
	CallerID      *CallerIDCondition      `json:"caller_id,omitempty" yaml:"caller_id,omitempty"`
	Keyword       *KeywordCondition       `json:"keyword,omitempty" yaml:"keyword,omitempty"`
	QueueLength   *QueueLengthCondition   `json:"queue_length,omitempty" yaml:"queue_length,omitempty"`
	CallerHistory *CallerHistoryCondition `json:"caller_history,omitempty" yaml:"caller_history,omitempty"`
}

// Validate checks that the payload for Type is present and well formed.
func (c RuleCondition) Validate() error {
	switch c.Type {
	case ConditionTimeBased:
		if c.Time == nil {
			return fmt.Errorf("condition %s: missing time payload", c.Type)
		}
		return c.Time.Schedule.Validate()
	case ConditionCallerID:
		if c.CallerID == nil || len(c.CallerID.Patterns) == 0 {
			return fmt.Errorf("condition %s: missing patterns", c.Type)
		}
		if c.CallerID.Mode != CallerIDWhitelist && c.CallerID.Mode != CallerIDBlacklist {
			return fmt.Errorf("condition %s: unknown mode %q", c.Type, c.CallerID.Mode)
		}
	case ConditionKeyword:
		if c.Keyword == nil || len(c.Keyword.Keywords) == 0 {
			return fmt.Errorf("condition %s: missing keywords", c.Type)
		}
	case ConditionQueueLength:
		if c.QueueLength == nil {
			return fmt.Errorf("condition %s: missing threshold", c.Type)
		}
	case ConditionCallerHistory:
		if c.CallerHistory == nil {
			return fmt.Errorf("condition %s: missing history payload", c.Type)
		}
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	return nil
}

// ActionConfig carries the optional parameters of a rule action.
type ActionConfig struct {
	TransferTo           string `json:"transfer_to,omitempty" yaml:"transfer_to,omitempty"`
	Message              string `json:"message,omitempty" yaml:"message,omitempty"`
	QueuePriority        int    `json:"queue_priority,omitempty" yaml:"queue_priority,omitempty"`
	CallbackDelaySeconds int    `json:"callback_delay_seconds,omitempty" yaml:"callback_delay_seconds,omitempty"`
	VoiceModelID         string `json:"voice_model_id,omitempty" yaml:"voice_model_id,omitempty"`
	Greeting             string `json:"greeting,omitempty" yaml:"greeting,omitempty"`
}

type RuleAction struct {
	Type   ActionType   `json:"type" yaml:"type"`
	Config ActionConfig `json:"config" yaml:"config"`
}

// RoutingRule maps a condition to an action. Higher priority wins.
type RoutingRule struct {
	ID        string        `json:"id" yaml:"id"`
	Name      string        `json:"name" yaml:"name"`
	Priority  int           `json:"priority" yaml:"priority"`
	Active    bool          `json:"active" yaml:"active"`
	Condition RuleCondition `json:"condition" yaml:"condition"`
	Action    RuleAction    `json:"action" yaml:"action"`
}

// Validate checks the condition and the action type.
func (r RoutingRule) Validate() error {
	if err := r.Condition.Validate(); err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	if !r.Action.Type.Valid() {
		return fmt.Errorf("rule %s: unknown action %q", r.ID, r.Action.Type)
	}
	return nil
}

// QueuedCall is one caller waiting in a business queue.
type QueuedCall struct {
	CallID     string        `json:"call_id"`
	BusinessID string        `json:"business_id"`
	From       string        `json:"from"`
	CallerName string        `json:"caller_name,omitempty"`
	Priority   int           `json:"priority"`
	Position   int           `json:"position"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	Wait       time.Duration `json:"wait"`
}

// QueueStatus is the live summary broadcast on every queue mutation.
type QueueStatus struct {
	BusinessID  string        `json:"business_id"`
	Size        int           `json:"size"`
	AverageWait time.Duration `json:"average_wait"`
	LongestWait time.Duration `json:"longest_wait"`
	ActiveCalls int           `json:"active_calls"`
	Calls       []QueuedCall  `json:"calls"`
}

// DequeueReason records why a call left the queue.
type DequeueReason string

const (
	DequeueServed    DequeueReason = "served"
	DequeueAbandoned DequeueReason = "abandoned"
)

// InboundCallLog is the call-log record written after routing.
type InboundCallLog struct {
	CallID     string     `json:"call_id"`
	BusinessID string     `json:"business_id"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	CallerName string     `json:"caller_name,omitempty"`
	Action     ActionType `json:"action"`
	RuleID     string     `json:"rule_id,omitempty"`
	Success    bool       `json:"success"`
	Message    string     `json:"message,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
}
