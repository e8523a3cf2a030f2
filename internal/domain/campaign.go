package domain

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// Terminal reports whether the campaign can no longer change state.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCancelled
}

// ContactStatus enumerates the dispatch state of a single contact.
type ContactStatus string

const (
	ContactStatusPending   ContactStatus = "pending"
	ContactStatusCalled    ContactStatus = "called"
	ContactStatusCompleted ContactStatus = "completed"
	ContactStatusFailed    ContactStatus = "failed"
)

// Contact results recorded on completed contacts.
const (
	ResultAnswered  = "answered"
	ResultVoicemail = "voicemail"
)

// Contact is one number on a campaign's list.
type Contact struct {
	ID           uuid.UUID         `json:"id"`
	Phone        string            `json:"phone"`
	Name         string            `json:"name"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	Status       ContactStatus     `json:"status"`
	Attempts     int               `json:"attempts"`
	LastAttempt  *time.Time        `json:"last_attempt,omitempty"`
	Result       string            `json:"result,omitempty"`
}

// Eligible reports whether the contact may be dialed under the attempt ceiling.
func (c Contact) Eligible(maxAttempts int) bool {
	return c.Status == ContactStatusPending && (maxAttempts <= 0 || c.Attempts < maxAttempts)
}

// Script is the message template an outbound call delivers.
type Script struct {
	Template     string `json:"template"`
	VoiceModelID string `json:"voice_model_id,omitempty"`
	MaxDuration  int    `json:"max_duration,omitempty"`
}

// Personalize substitutes {name} and {field} placeholders from the contact.
func (s Script) Personalize(contact Contact) string {
	out := strings.ReplaceAll(s.Template, "{name}", contact.Name)
	for key, value := range contact.CustomFields {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}

// CallSchedule restricts when a campaign may dial.
type CallSchedule struct {
	Timezone      string         `json:"timezone"`
	AllowedHours  WeeklySchedule `json:"allowed_hours"`
	StartDate     *time.Time     `json:"start_date,omitempty"`
	BlackoutDates []string       `json:"blackout_dates,omitempty"`
}

func (s *CallSchedule) blackout(local time.Time) bool {
	day := local.Format("2006-01-02")
	for _, d := range s.BlackoutDates {
		if d == day {
			return true
		}
	}
	return false
}

// Allows reports whether dialing is permitted at now.
func (s *CallSchedule) Allows(now time.Time) bool {
	if s == nil {
		return true
	}
	local := now.In(LoadLocation(s.Timezone))
	if s.blackout(local) {
		return false
	}
	if s.AllowedHours.Empty() {
		return true
	}
	return s.AllowedHours.Contains(local)
}

// NextAllowed returns the next instant after now at which dialing is permitted.
func (s *CallSchedule) NextAllowed(now time.Time) time.Time {
	if s == nil {
		return now
	}
	loc := LoadLocation(s.Timezone)
	cursor := now.In(loc)
	for i := 0; i < 366; i++ {
		candidate := cursor
		if !s.AllowedHours.Empty() {
			next, ok := s.AllowedHours.Next(cursor)
			if !ok {
				break
			}
			candidate = next
		}
		if !s.blackout(candidate) {
			return candidate
		}
		y, m, d := candidate.Date()
		cursor = time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	}
	return now.Add(24 * time.Hour)
}

// RateLimit is the per-campaign dialing pace.
type RateLimit struct {
	CallsPerMinute int `json:"calls_per_minute"`
}

// Spacing is the delay between two ticks of a campaign.
func (r RateLimit) Spacing() time.Duration {
	cpm := r.CallsPerMinute
	if cpm <= 0 {
		cpm = DefaultCallsPerMinute
	}
	return time.Duration(math.Ceil(60000/float64(cpm))) * time.Millisecond
}

// DefaultCallsPerMinute applies when a campaign does not set its own pace.
const DefaultCallsPerMinute = 5

// Campaign models an outbound call campaign.
type Campaign struct {
	ID         uuid.UUID      `json:"id"`
	BusinessID string         `json:"business_id"`
	Name       string         `json:"name"`
	Status     CampaignStatus `json:"status"`
	Contacts   []Contact      `json:"contacts"`
	Script     Script         `json:"script"`
	Schedule   *CallSchedule  `json:"schedule,omitempty"`
	RateLimit  RateLimit      `json:"rate_limit"`

	CompletedCalls int `json:"completed_calls"`
	AnsweredCalls  int `json:"answered_calls"`
	VoicemailCalls int `json:"voicemail_calls"`
	FailedCalls    int `json:"failed_calls"`
	Progress       int `json:"progress"`
	TalkSeconds    int `json:"talk_seconds"`

	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// TotalContacts is the size of the contact list.
func (c *Campaign) TotalContacts() int {
	return len(c.Contacts)
}

// NextEligible returns the index of the first dialable contact, or -1.
func (c *Campaign) NextEligible(maxAttempts int) int {
	for i := range c.Contacts {
		if c.Contacts[i].Eligible(maxAttempts) {
			return i
		}
	}
	return -1
}

// ContactIndex returns the index of the contact with id, or -1.
func (c *Campaign) ContactIndex(id uuid.UUID) int {
	for i := range c.Contacts {
		if c.Contacts[i].ID == id {
			return i
		}
	}
	return -1
}

// RecordOutcome applies a finished attempt to the contact and the counters.
// Every outcome counts towards CompletedCalls, so CompletedCalls always equals
// AnsweredCalls + VoicemailCalls + FailedCalls.
func (c *Campaign) RecordOutcome(idx int, status ContactStatus, result string, duration int) {
	contact := &c.Contacts[idx]
	contact.Status = status
	contact.Result = result

	c.CompletedCalls++
	c.TalkSeconds += duration
	switch {
	case status == ContactStatusCompleted && result == ResultAnswered:
		c.AnsweredCalls++
	case status == ContactStatusCompleted && result == ResultVoicemail:
		c.VoicemailCalls++
	default:
		contact.Status = ContactStatusFailed
		c.FailedCalls++
	}
	c.recomputeProgress()
}

func (c *Campaign) recomputeProgress() {
	total := c.TotalContacts()
	if total == 0 {
		return
	}
	progress := int(math.Round(float64(c.CompletedCalls) / float64(total) * 100))
	if progress > c.Progress {
		c.Progress = progress
	}
}

// Clone returns a deep copy safe to hand across goroutines.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	out := *c
	out.Contacts = make([]Contact, len(c.Contacts))
	for i, contact := range c.Contacts {
		out.Contacts[i] = contact.clone()
	}
	if c.Schedule != nil {
		schedule := *c.Schedule
		schedule.BlackoutDates = append([]string(nil), c.Schedule.BlackoutDates...)
		out.Schedule = &schedule
	}
	return &out
}

func (c Contact) clone() Contact {
	out := c
	if c.CustomFields != nil {
		out.CustomFields = make(map[string]string, len(c.CustomFields))
		for k, v := range c.CustomFields {
			out.CustomFields[k] = v
		}
	}
	if c.LastAttempt != nil {
		t := *c.LastAttempt
		out.LastAttempt = &t
	}
	return out
}

// CampaignResults summarises a campaign for reporting.
type CampaignResults struct {
	CampaignID          uuid.UUID             `json:"campaign_id"`
	Status              CampaignStatus        `json:"status"`
	TotalContacts       int                   `json:"total_contacts"`
	CompletedCalls      int                   `json:"completed_calls"`
	AnsweredCalls       int                   `json:"answered_calls"`
	VoicemailCalls      int                   `json:"voicemail_calls"`
	FailedCalls         int                   `json:"failed_calls"`
	Progress            int                   `json:"progress"`
	AnswerRate          float64               `json:"answer_rate"`
	AverageCallSeconds  float64               `json:"average_call_seconds"`
	ContactsByStatus    map[ContactStatus]int `json:"contacts_by_status"`
	EstimatedCompletion *time.Time            `json:"estimated_completion,omitempty"`
}

// Results computes the reporting summary at now.
func (c *Campaign) Results(now time.Time) CampaignResults {
	res := CampaignResults{
		CampaignID:       c.ID,
		Status:           c.Status,
		TotalContacts:    c.TotalContacts(),
		CompletedCalls:   c.CompletedCalls,
		AnsweredCalls:    c.AnsweredCalls,
		VoicemailCalls:   c.VoicemailCalls,
		FailedCalls:      c.FailedCalls,
		Progress:         c.Progress,
		ContactsByStatus: make(map[ContactStatus]int),
	}
	if c.CompletedCalls > 0 {
		res.AnswerRate = math.Round(float64(c.AnsweredCalls)/float64(c.CompletedCalls)*10000) / 100
		res.AverageCallSeconds = math.Round(float64(c.TalkSeconds)/float64(c.CompletedCalls)*100) / 100
	}
	remaining := 0
	for _, contact := range c.Contacts {
		res.ContactsByStatus[contact.Status]++
		if contact.Status == ContactStatusPending || contact.Status == ContactStatusCalled {
			remaining++
		}
	}
	switch {
	case c.Status == CampaignStatusRunning:
		eta := now.Add(time.Duration(remaining) * c.RateLimit.Spacing())
		res.EstimatedCompletion = &eta
	case c.CompletedAt != nil:
		done := *c.CompletedAt
		res.EstimatedCompletion = &done
	}
	return res
}
