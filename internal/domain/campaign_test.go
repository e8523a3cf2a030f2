package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCampaign(n int) *Campaign {
	c := &Campaign{ID: uuid.New(), Status: CampaignStatusRunning, RateLimit: RateLimit{CallsPerMinute: 60}}
	for i := 0; i < n; i++ {
		c.Contacts = append(c.Contacts, Contact{ID: uuid.New(), Status: ContactStatusPending})
	}
	return c
}

func TestRecordOutcomeKeepsCountersBalanced(t *testing.T) {
	c := newCampaign(4)

	c.RecordOutcome(0, ContactStatusCompleted, ResultAnswered, 30)
	c.RecordOutcome(1, ContactStatusCompleted, ResultVoicemail, 10)
	c.RecordOutcome(2, ContactStatusFailed, "no provider", 0)
	c.RecordOutcome(3, ContactStatusCompleted, "no-answer", 0)

	assert.Equal(t, 4, c.CompletedCalls)
	assert.Equal(t, c.CompletedCalls, c.AnsweredCalls+c.VoicemailCalls+c.FailedCalls)
	assert.Equal(t, 2, c.FailedCalls)
	assert.Equal(t, ContactStatusFailed, c.Contacts[3].Status)
	assert.Equal(t, 100, c.Progress)
}

func TestProgressRoundsAndNeverDecreases(t *testing.T) {
	c := newCampaign(3)

	c.RecordOutcome(0, ContactStatusCompleted, ResultAnswered, 0)
	assert.Equal(t, 33, c.Progress)

	c.Contacts = append(c.Contacts, Contact{ID: uuid.New(), Status: ContactStatusPending})
	c.recomputeProgress()
	assert.Equal(t, 33, c.Progress)

	c.RecordOutcome(1, ContactStatusCompleted, ResultAnswered, 0)
	assert.Equal(t, 50, c.Progress)
}

func TestNextEligibleRespectsAttemptCeiling(t *testing.T) {
	c := newCampaign(3)
	c.Contacts[0].Attempts = 3
	c.Contacts[1].Status = ContactStatusCalled

	assert.Equal(t, 2, c.NextEligible(3))

	c.Contacts[2].Attempts = 3
	assert.Equal(t, -1, c.NextEligible(3))
	assert.Equal(t, 0, c.NextEligible(0))
}

func TestScriptPersonalize(t *testing.T) {
	script := Script{Template: "Hi {name}, your order {order} ships {when}."}
	contact := Contact{Name: "Dana", CustomFields: map[string]string{"order": "A-17", "when": "today"}}

	assert.Equal(t, "Hi Dana, your order A-17 ships today.", script.Personalize(contact))
}

func TestRateLimitSpacing(t *testing.T) {
	assert.Equal(t, time.Second, RateLimit{CallsPerMinute: 60}.Spacing())
	assert.Equal(t, 8572*time.Millisecond, RateLimit{CallsPerMinute: 7}.Spacing())
	assert.Equal(t, 12*time.Second, RateLimit{}.Spacing())
}

func TestCloneIsDeep(t *testing.T) {
	c := newCampaign(1)
	c.Contacts[0].CustomFields = map[string]string{"k": "v"}
	c.Schedule = &CallSchedule{BlackoutDates: []string{"2024-01-01"}}

	clone := c.Clone()
	clone.Contacts[0].CustomFields["k"] = "changed"
	clone.Contacts[0].Status = ContactStatusFailed
	clone.Schedule.BlackoutDates[0] = "2025-01-01"

	require.Equal(t, "v", c.Contacts[0].CustomFields["k"])
	assert.Equal(t, ContactStatusPending, c.Contacts[0].Status)
	assert.Equal(t, "2024-01-01", c.Schedule.BlackoutDates[0])
}

func TestResults(t *testing.T) {
	c := newCampaign(4)
	c.RecordOutcome(0, ContactStatusCompleted, ResultAnswered, 40)
	c.RecordOutcome(1, ContactStatusFailed, "busy", 0)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	res := c.Results(now)

	assert.Equal(t, 50.0, res.AnswerRate)
	assert.Equal(t, 20.0, res.AverageCallSeconds)
	assert.Equal(t, 2, res.ContactsByStatus[ContactStatusPending])
	require.NotNil(t, res.EstimatedCompletion)
	assert.Equal(t, now.Add(2*time.Second), *res.EstimatedCompletion)
}

func TestRoutingRuleValidate(t *testing.T) {
	rule := RoutingRule{
		ID:        "r1",
		Condition: RuleCondition{Type: ConditionCallerID, CallerID: &CallerIDCondition{Patterns: []string{"+1555*"}, Mode: CallerIDWhitelist}},
		Action:    RuleAction{Type: ActionAIAgent},
	}
	require.NoError(t, rule.Validate())

	rule.Condition.CallerID.Mode = "greylist"
	require.Error(t, rule.Validate())

	rule.Condition = RuleCondition{Type: ConditionTimeBased}
	require.Error(t, rule.Validate())

	rule.Condition = RuleCondition{Type: ConditionQueueLength, QueueLength: &QueueLengthCondition{Threshold: 3}}
	rule.Action.Type = "HANGUP"
	require.Error(t, rule.Validate())
}
