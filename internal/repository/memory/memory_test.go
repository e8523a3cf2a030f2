package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/call-dispatch-engine/internal/domain"
	"github.com/acme/call-dispatch-engine/internal/repository"
)

func TestCampaignStoreUpdateKeepsContacts(t *testing.T) {
	ctx := context.Background()
	store := NewCampaignStore()

	campaign := &domain.Campaign{
		ID:       uuid.New(),
		Status:   domain.CampaignStatusDraft,
		Contacts: []domain.Contact{{ID: uuid.New(), Phone: "+15550001", Status: domain.ContactStatusPending}},
	}
	require.NoError(t, store.Create(ctx, campaign))
	require.ErrorIs(t, store.Create(ctx, campaign), repository.ErrConflict)

	update := campaign.Clone()
	update.Status = domain.CampaignStatusRunning
	update.Contacts = nil
	require.NoError(t, store.Update(ctx, update))

	contact := campaign.Contacts[0]
	contact.Status = domain.ContactStatusCalled
	contact.Attempts = 1
	require.NoError(t, store.SaveContact(ctx, campaign.ID, contact))

	got, err := store.Get(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignStatusRunning, got.Status)
	require.Len(t, got.Contacts, 1)
	assert.Equal(t, domain.ContactStatusCalled, got.Contacts[0].Status)
	assert.Equal(t, 1, got.Contacts[0].Attempts)

	running, err := store.ListByStatus(ctx, domain.CampaignStatusRunning)
	require.NoError(t, err)
	assert.Len(t, running, 1)

	_, err = store.Get(ctx, uuid.New())
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestCallLogPagingAndLastAttempt(t *testing.T) {
	ctx := context.Background()
	log := NewCallLog()

	for i := 0; i < 5; i++ {
		require.NoError(t, log.AppendInbound(ctx, domain.InboundCallLog{
			CallID:     uuid.NewString(),
			BusinessID: "biz",
			From:       "+15550001",
			ReceivedAt: time.Unix(int64(i), 0),
		}))
	}

	page, state, err := log.ListInbound(ctx, "biz", 3, nil)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, time.Unix(4, 0), page[0].ReceivedAt)
	require.NotNil(t, state)

	page, state, err = log.ListInbound(ctx, "biz", 3, state)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.Nil(t, state)

	count, err := log.CountInboundFrom(ctx, "biz", "+15550001")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	last, err := log.LastAttempt(ctx, "biz", "+15550001")
	require.NoError(t, err)
	assert.Nil(t, last)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, log.AppendAttempt(ctx, domain.OutboundAttempt{BusinessID: "biz", Phone: "+15550001", AttemptedAt: at.Add(-time.Hour)}))
	require.NoError(t, log.AppendAttempt(ctx, domain.OutboundAttempt{BusinessID: "biz", Phone: "+15550001", AttemptedAt: at}))
	last, err = log.LastAttempt(ctx, "biz", "+15550001")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, at, *last)
}

func TestDNCListIsScopedByBusiness(t *testing.T) {
	ctx := context.Background()
	dnc := NewDNCList()
	require.NoError(t, dnc.Add(ctx, "a", "+15550001", "requested"))

	blocked, _ := dnc.IsBlocked(ctx, "a", "+15550001")
	assert.True(t, blocked)
	blocked, _ = dnc.IsBlocked(ctx, "b", "+15550001")
	assert.False(t, blocked)

	require.NoError(t, dnc.Remove(ctx, "a", "+15550001"))
	blocked, _ = dnc.IsBlocked(ctx, "a", "+15550001")
	assert.False(t, blocked)
}

func TestLoadBusinessFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "businesses.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
businesses:
  - id: acme
    name: Acme Dental
    inbound:
      business_hours:
        timezone: America/Chicago
        schedule:
          monday: [{start: "08:00", end: "12:00"}]
      routing:
        default_action: QUEUE
        max_queue_length: 4
        max_queue_time: 2m
    rules:
      - id: vip
        name: VIP callers
        priority: 20
        active: true
        condition:
          type: CALLER_ID
          caller_id:
            patterns: ["+1555*"]
            mode: whitelist
        action:
          type: AI_AGENT
  - id: bare
`), 0o600))

	businesses, err := LoadBusinessFile(path)
	require.NoError(t, err)
	require.Len(t, businesses, 2)

	acme := businesses[0]
	assert.Equal(t, "America/Chicago", acme.Inbound.BusinessHours.Timezone)
	assert.Len(t, acme.Inbound.BusinessHours.Schedule.Monday, 1)
	assert.Empty(t, acme.Inbound.BusinessHours.Schedule.Tuesday)
	assert.Equal(t, domain.ActionQueue, acme.Inbound.Routing.DefaultAction)
	assert.Equal(t, 2*time.Minute, acme.Inbound.Routing.MaxQueueTime)
	assert.Equal(t, 3, acme.Outbound.Compliance.MaxAttemptsPerNumber)
	require.Len(t, acme.Rules, 1)
	assert.Equal(t, domain.CallerIDWhitelist, acme.Rules[0].Condition.CallerID.Mode)

	store := NewBusinessConfigStore(businesses...)
	cfg, err := store.InboundConfig(context.Background(), "bare")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultInboundConfig().Voice.Greeting, cfg.Voice.Greeting)

	unknown, err := store.OutboundConfig(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 10, unknown.RateLimit.CallsPerMinute)
}

func TestLoadBusinessFileRejectsInvalidRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "businesses.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
businesses:
  - id: broken
    rules:
      - id: r1
        condition: {type: TIME_BASED}
        action: {type: VOICEMAIL}
`), 0o600))

	_, err := LoadBusinessFile(path)
	require.Error(t, err)
}
