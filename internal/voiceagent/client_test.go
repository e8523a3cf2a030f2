package voiceagent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/call-dispatch-engine/internal/config"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

func TestAcceptInboundCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/calls/accept", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "call-1", body["call_id"])
		assert.Equal(t, "abe", body["voice_model"])
		assert.Equal(t, "Welcome", body["greeting"])
		_, _ = w.Write([]byte(`{"success":true,"session_id":"s-1"}`))
	}))
	defer srv.Close()

	client := NewClient(config.VoiceAgentConfig{BaseURL: srv.URL, APIKey: "key", Timeout: time.Second}, nil)
	res, err := client.AcceptInboundCall(context.Background(), "call-1", AcceptOptions{Greeting: "Welcome"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "s-1", res.SessionID)
	assert.False(t, res.Simulated)
}

func TestOutboundAgentRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"bad number"}`))
	}))
	defer srv.Close()

	client := NewClient(config.VoiceAgentConfig{BaseURL: srv.URL, SimulateOnFailure: true}, nil)
	res, err := client.InitiateOutboundCall(context.Background(), "+1", OutboundScript{Content: "hi"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "bad number", res.Error)
}

func TestUnreachableAgentSimulates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	client := NewClient(config.VoiceAgentConfig{BaseURL: srv.URL, SimulateOnFailure: true}, nil)
	res, err := client.AcceptInboundCall(context.Background(), "call-9", AcceptOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Simulated)
	assert.Contains(t, res.SessionID, "sim_call-9_")

	strict := NewClient(config.VoiceAgentConfig{BaseURL: srv.URL}, nil)
	res, err = strict.EndCall(context.Background(), "call-9")
	require.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.False(t, res.Success)
}

func TestOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"online"}`))
	}))
	defer srv.Close()

	client := NewClient(config.VoiceAgentConfig{BaseURL: srv.URL}, nil)
	assert.True(t, client.Online(context.Background()))
}
