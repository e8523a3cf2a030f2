package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/call-dispatch-engine/internal/config"
	"github.com/acme/call-dispatch-engine/internal/repository/memory"
	"github.com/acme/call-dispatch-engine/internal/telephony"
)

const businessYAML = `
businesses:
  - id: acme-dental
    name: Acme Dental
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
`

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "businesses.yaml")
	require.NoError(t, os.WriteFile(path, []byte(businessYAML), 0o600))

	return &config.Config{
		App:     config.AppConfig{Name: "call-dispatch-engine", Env: "test"},
		Storage: config.StorageConfig{Driver: "memory", BusinessFile: path},
		Telephony: config.TelephonyConfig{
			FailoverEnabled: true,
			PrimaryProvider: "telnyx",
			HealthInterval:  time.Hour,
			Simulate: config.SimulatedCarrierConfig{
				Enabled:     true,
				Provider:    "telnyx",
				Priority:    1,
				SuccessRate: 1,
				MinDuration: time.Second,
				MaxDuration: time.Second,
			},
		},
		VoiceAgent: config.VoiceAgentConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second, SimulateOnFailure: true},
		Outbound:   config.OutboundConfig{CompletionTimeout: time.Second, PollInterval: 100 * time.Millisecond},
	}
}

func TestBuildWithMemoryStorage(t *testing.T) {
	ctx := context.Background()
	c, err := BuildWithConfig(ctx, memoryConfig(t))
	require.NoError(t, err)
	defer c.Close(ctx)

	assert.Nil(t, c.Postgres)
	assert.Nil(t, c.Redis)
	assert.Nil(t, c.Kafka)

	stores, err := c.Stores()
	require.NoError(t, err)
	assert.IsType(t, &memory.CampaignStore{}, stores.Campaigns)
	assert.IsType(t, &memory.CallLog{}, stores.CallLog)

	rules, err := stores.Business.RoutingRules(ctx, "acme-dental")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "vip", rules[0].ID)

	router, err := c.Router()
	require.NoError(t, err)
	assert.Equal(t, telephony.Telnyx, router.Primary())
	assert.Len(t, router.Providers(), 1)

	services, err := c.Services()
	require.NoError(t, err)
	assert.NotNil(t, services.Inbound)
	assert.Equal(t, 0, services.Queue.Status("acme-dental").ActiveCalls)

	h, err := c.HandlerSet()
	require.NoError(t, err)
	assert.NotNil(t, h)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, c.StartEngine(runCtx))
}

func TestBuildRejectsBadBusinessFile(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	cfg.Storage.BusinessFile = filepath.Join(t.TempDir(), "missing.yaml")

	c, err := BuildWithConfig(ctx, cfg)
	require.NoError(t, err)
	defer c.Close(ctx)

	if _, err := c.Services(); err == nil {
		t.Fatal("expected a missing business file to fail component initialisation")
	}
}
