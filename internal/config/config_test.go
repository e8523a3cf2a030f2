package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "app:\n  name: test-engine\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-engine", cfg.App.Name)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.True(t, cfg.Telephony.FailoverEnabled)
	assert.Equal(t, time.Minute, cfg.Telephony.HealthInterval)
	assert.Equal(t, 30*time.Second, cfg.Outbound.CompletionTimeout)
	assert.Equal(t, time.Hour, cfg.Outbound.SessionTTL)
	assert.Equal(t, "callcenter.events", cfg.Kafka.EventTopic)
}

func TestLoadReadsCarrierSections(t *testing.T) {
	path := writeConfig(t, `
telephony:
  primary_provider: plivo
  telnyx:
    enabled: true
    priority: 1
    api_key: key-123
  plivo:
    enabled: true
    priority: 2
    auth_id: MA123
    auth_token: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "plivo", cfg.Telephony.PrimaryProvider)
	assert.True(t, cfg.Telephony.Telnyx.Enabled)
	assert.Equal(t, 1, cfg.Telephony.Telnyx.Priority)
	assert.Equal(t, "key-123", cfg.Telephony.Telnyx.APIKey)
	assert.Equal(t, 2, cfg.Telephony.Plivo.Priority)
	assert.Equal(t, "MA123", cfg.Telephony.Plivo.AuthID)
	assert.False(t, cfg.Telephony.Twilio.Enabled)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	path := writeConfig(t, "http:\n  port: 9000\n")
	t.Setenv("CALLCENTER_HTTP_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.HTTP.Port)
}

func TestValidateRejectsPostgresDriverWithoutPostgres(t *testing.T) {
	path := writeConfig(t, "storage:\n  driver: postgres\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Driver: "etcd"}}
	require.Error(t, cfg.Validate())
}
