package domain

import "time"

// BusinessHours is the business-local opening schedule.
type BusinessHours struct {
	Timezone string         `json:"timezone" yaml:"timezone"`
	Schedule WeeklySchedule `json:"schedule" yaml:"schedule"`
}

// Open reports whether now is inside the opening schedule. An empty schedule
// is treated as always open.
func (h BusinessHours) Open(now time.Time) bool {
	if h.Schedule.Empty() {
		return true
	}
	return h.Schedule.Contains(now.In(LoadLocation(h.Timezone)))
}

type RoutingPolicy struct {
	DefaultAction  ActionType    `json:"default_action" yaml:"default_action"`
	MaxQueueLength int           `json:"max_queue_length" yaml:"max_queue_length"`
	MaxQueueTime   time.Duration `json:"max_queue_time" yaml:"max_queue_time"`
}

type VoiceSettings struct {
	VoiceModelID         string `json:"voice_model_id" yaml:"voice_model_id"`
	Greeting             string `json:"greeting" yaml:"greeting"`
	VoicemailPrompt      string `json:"voicemail_prompt" yaml:"voicemail_prompt"`
	MaxVoicemailDuration int    `json:"max_voicemail_duration" yaml:"max_voicemail_duration"`
	KnowledgeBase        string `json:"knowledge_base,omitempty" yaml:"knowledge_base,omitempty"`
}

// InboundConfig is a business's inbound handling configuration.
type InboundConfig struct {
	BusinessHours BusinessHours `json:"business_hours" yaml:"business_hours"`
	Routing       RoutingPolicy `json:"routing" yaml:"routing"`
	Voice         VoiceSettings `json:"voice" yaml:"voice"`
}

type OutboundRateLimit struct {
	CallsPerMinute     int `json:"calls_per_minute" yaml:"calls_per_minute"`
	MaxConcurrentCalls int `json:"max_concurrent_calls" yaml:"max_concurrent_calls"`
}

// CompliancePolicy gates every outbound placement.
type CompliancePolicy struct {
	HonorDoNotCall         bool   `json:"honor_do_not_call" yaml:"honor_do_not_call"`
	RespectTimeZones       bool   `json:"respect_time_zones" yaml:"respect_time_zones"`
	AllowedStartHour       int    `json:"allowed_start_hour" yaml:"allowed_start_hour"`
	AllowedEndHour         int    `json:"allowed_end_hour" yaml:"allowed_end_hour"`
	MaxAttemptsPerNumber   int    `json:"max_attempts_per_number" yaml:"max_attempts_per_number"`
	MinDaysBetweenAttempts int    `json:"min_days_between_attempts" yaml:"min_days_between_attempts"`
	RecordingDisclosure    bool   `json:"recording_disclosure" yaml:"recording_disclosure"`
	DefaultTimezone        string `json:"default_timezone" yaml:"default_timezone"`
}

// WithinCallingHours reports whether local falls in [start, end) hours.
func (p CompliancePolicy) WithinCallingHours(local time.Time) bool {
	hour := local.Hour()
	return hour >= p.AllowedStartHour && hour < p.AllowedEndHour
}

type ScriptingDefaults struct {
	VoiceModelID string `json:"voice_model_id" yaml:"voice_model_id"`
	MaxDuration  int    `json:"max_duration" yaml:"max_duration"`
}

// OutboundConfig is a business's outbound policy.
type OutboundConfig struct {
	RateLimit  OutboundRateLimit `json:"rate_limit" yaml:"rate_limit"`
	Compliance CompliancePolicy  `json:"compliance" yaml:"compliance"`
	Scripting  ScriptingDefaults `json:"scripting" yaml:"scripting"`
}

// Business bundles everything configured for one tenant.
type Business struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name" yaml:"name"`
	Inbound  InboundConfig  `json:"inbound" yaml:"inbound"`
	Outbound OutboundConfig `json:"outbound" yaml:"outbound"`
	Rules    []RoutingRule  `json:"rules" yaml:"rules"`
}

// DefaultInboundConfig applies to businesses without stored configuration.
func DefaultInboundConfig() InboundConfig {
	return InboundConfig{
		BusinessHours: BusinessHours{
			Timezone: "America/New_York",
			Schedule: BusinessDays("09:00", "17:00"),
		},
		Routing: RoutingPolicy{
			DefaultAction:  ActionAIAgent,
			MaxQueueLength: 10,
			MaxQueueTime:   5 * time.Minute,
		},
		Voice: VoiceSettings{
			VoiceModelID:         "abe",
			Greeting:             "Thank you for calling. How can I help you today?",
			VoicemailPrompt:      "Please leave a message after the beep.",
			MaxVoicemailDuration: 120,
		},
	}
}

// DefaultOutboundConfig applies to businesses without stored configuration.
func DefaultOutboundConfig() OutboundConfig {
	return OutboundConfig{
		RateLimit: OutboundRateLimit{CallsPerMinute: 10, MaxConcurrentCalls: 3},
		Compliance: CompliancePolicy{
			HonorDoNotCall:         true,
			RespectTimeZones:       true,
			AllowedStartHour:       9,
			AllowedEndHour:         21,
			MaxAttemptsPerNumber:   3,
			MinDaysBetweenAttempts: 1,
			RecordingDisclosure:    true,
			DefaultTimezone:        "America/New_York",
		},
		Scripting: ScriptingDefaults{VoiceModelID: "abe", MaxDuration: 300},
	}
}
