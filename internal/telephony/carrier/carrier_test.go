package carrier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/call-dispatch-engine/internal/config"
	"github.com/acme/call-dispatch-engine/internal/telephony"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

var testOpts = Options{WebhookBaseURL: "https://hooks.example.com/webhooks", DefaultFrom: "+15550000000"}

func TestTwilioPlaceCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Calls.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+15551234567", r.PostForm.Get("To"))
		assert.Equal(t, "+15550000000", r.PostForm.Get("From"))
		assert.Equal(t, "https://hooks.example.com/webhooks/twilio/voice", r.PostForm.Get("Url"))
		assert.Equal(t, "https://hooks.example.com/webhooks/twilio/status", r.PostForm.Get("StatusCallback"))
		assert.Equal(t, "initiated ringing answered completed", r.PostForm.Get("StatusCallbackEvent"))
		assert.Equal(t, "Enable", r.PostForm.Get("MachineDetection"))
		assert.Equal(t, "45", r.PostForm.Get("Timeout"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"CA42","status":"queued"}`))
	}))
	defer srv.Close()

	twilio := NewTwilio(config.TwilioConfig{
		CarrierConfig: config.CarrierConfig{BaseURL: srv.URL},
		AccountSID:    "AC123",
		AuthToken:     "secret",
	}, testOpts)

	res, err := twilio.PlaceCall(context.Background(), telephony.CallRequest{To: "+15551234567", TimeoutSeconds: 45, MachineDetection: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "CA42", res.CallID)
	assert.Equal(t, telephony.StateQueued, res.Status)
}

func TestSignalWireUsesSpacePath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "1", r.URL.Query().Get("PageSize"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	sw := NewSignalWire(config.SignalWireConfig{
		CarrierConfig: config.CarrierConfig{BaseURL: srv.URL},
		ProjectID:     "proj",
		AuthToken:     "tok",
	}, testOpts)

	require.NoError(t, sw.HealthCheck(context.Background()))
	assert.Equal(t, "/api/laml/2010-04-01/Accounts/proj/Calls.json", gotPath)
	assert.Equal(t, telephony.SignalWire, sw.Name())
}

func TestLaMLErrorsMapToTaxonomy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
	}))
	defer srv.Close()

	twilio := NewTwilio(config.TwilioConfig{AccountSID: "AC1"}, Options{BaseURL: srv.URL})

	_, err := twilio.PlaceCall(context.Background(), telephony.CallRequest{To: "+1"})
	require.ErrorIs(t, err, apperrors.ErrProvider)
	assert.Contains(t, err.Error(), "500")

	_, err = twilio.Status(context.Background(), "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.ErrorIs(t, err, apperrors.ErrProvider)
}

func TestLaMLParseWebhook(t *testing.T) {
	twilio := NewTwilio(config.TwilioConfig{AccountSID: "AC1"}, testOpts)

	event, err := twilio.ParseWebhook(map[string]any{
		"CallSid":      []string{"CA1"},
		"CallStatus":   "in-progress",
		"AnsweredBy":   "machine_end_beep",
		"CallDuration": "12",
		"From":         "+15550000000",
		"To":           "+15551234567",
	})
	require.NoError(t, err)
	assert.Equal(t, telephony.EventCallAnswered, event.Type)
	assert.Equal(t, "CA1", event.CallID)
	assert.True(t, event.Machine)
	assert.Equal(t, 12, event.Duration)

	event, err = twilio.ParseWebhook(map[string]any{"MessageSid": "SM1", "MessageStatus": "sent"})
	require.NoError(t, err)
	assert.Equal(t, telephony.EventSMSDelivered, event.Type)

	for status, want := range map[string]telephony.EventType{
		"busy":      telephony.EventCallFailed,
		"no-answer": telephony.EventCallFailed,
		"completed": telephony.EventCallCompleted,
		"whatever":  telephony.EventCallInitiated,
	} {
		event, err := twilio.ParseWebhook(map[string]any{"CallSid": "CA2", "CallStatus": status})
		require.NoError(t, err)
		assert.Equal(t, want, event.Type, status)
	}

	_, err = twilio.ParseWebhook(map[string]any{"CallStatus": "completed"})
	require.ErrorIs(t, err, apperrors.ErrInvalidWebhook)
}

func TestPlivoPlaceCallAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/Account/MA1/Call/":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "+15551234567", body["to"])
			assert.Equal(t, "https://hooks.example.com/webhooks/plivo/voice", body["answer_url"])
			assert.Equal(t, "https://hooks.example.com/webhooks/plivo/status", body["hangup_url"])
			assert.Equal(t, float64(30), body["ring_timeout"])
			_, _ = w.Write([]byte(`{"request_uuid":"req-1","message":"call fired"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/Account/MA1/Call/req-1/":
			_, _ = w.Write([]byte(`{"call_uuid":"call-1","call_status":"no-answer","bill_duration":0,"total_amount":"0.00"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	plivo := NewPlivo(config.PlivoConfig{
		CarrierConfig: config.CarrierConfig{BaseURL: srv.URL},
		AuthID:        "MA1",
		AuthToken:     "tok",
	}, testOpts)

	res, err := plivo.PlaceCall(context.Background(), telephony.CallRequest{To: "+15551234567"})
	require.NoError(t, err)
	assert.Equal(t, "req-1", res.CallID)

	status, err := plivo.Status(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "call-1", status.CallID)
	assert.Equal(t, telephony.StateNoAnswer, status.State)
}

func TestPlivoParseWebhook(t *testing.T) {
	plivo := NewPlivo(config.PlivoConfig{AuthID: "MA1"}, testOpts)

	event, err := plivo.ParseWebhook(map[string]any{
		"CallUUID":    "call-1",
		"RequestUUID": "req-1",
		"Event":       "Hangup",
		"Duration":    "33",
		"Machine":     "true",
	})
	require.NoError(t, err)
	assert.Equal(t, telephony.EventCallCompleted, event.Type)
	assert.Equal(t, "call-1", event.CallID)
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, 33, event.Duration)
	assert.True(t, event.Machine)

	event, err = plivo.ParseWebhook(map[string]any{"RequestUUID": "req-2", "Status": "Answer"})
	require.NoError(t, err)
	assert.Equal(t, "req-2", event.CallID)
	assert.Equal(t, telephony.EventCallAnswered, event.Type)
}

func TestTelnyxPlaceCallUsesBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Equal(t, "/calls", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "conn-1", body["connection_id"])
		assert.Equal(t, "detect", body["answering_machine_detection"])
		assert.Equal(t, "https://hooks.example.com/webhooks/telnyx/status", body["webhook_url"])
		_, _ = w.Write([]byte(`{"data":{"call_control_id":"v3:abc"}}`))
	}))
	defer srv.Close()

	telnyx := NewTelnyx(config.TelnyxConfig{APIKey: "key-1", ConnectionID: "conn-1"},
		Options{BaseURL: srv.URL, WebhookBaseURL: testOpts.WebhookBaseURL, MachineDetection: true})

	res, err := telnyx.PlaceCall(context.Background(), telephony.CallRequest{To: "+15551234567", From: "+15557654321"})
	require.NoError(t, err)
	assert.Equal(t, "v3:abc", res.CallID)
	assert.Equal(t, telephony.Telnyx, res.Provider)
}

func TestTelnyxReleaseNumberLooksUpID(t *testing.T) {
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "+15551112222", r.URL.Query().Get("filter[phone_number]"))
			_, _ = w.Write([]byte(`{"data":[{"id":"pn-9","phone_number":"+15551112222"}]}`))
		case http.MethodDelete:
			deleted = r.URL.Path
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	telnyx := NewTelnyx(config.TelnyxConfig{APIKey: "k"}, Options{BaseURL: srv.URL})
	require.NoError(t, telnyx.ReleaseNumber(context.Background(), "+15551112222"))
	assert.Equal(t, "/phone_numbers/pn-9", deleted)
}

func TestTelnyxParseWebhook(t *testing.T) {
	telnyx := NewTelnyx(config.TelnyxConfig{APIKey: "k"}, testOpts)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"data": {
			"event_type": "call.hangup",
			"occurred_at": "2024-01-01T10:00:00.000Z",
			"payload": {"call_control_id": "v3:abc", "from": "+15550000000", "to": "+15551234567"}
		}
	}`), &payload))

	event, err := telnyx.ParseWebhook(payload)
	require.NoError(t, err)
	assert.Equal(t, telephony.EventCallCompleted, event.Type)
	assert.Equal(t, "v3:abc", event.CallID)
	assert.Equal(t, "+15551234567", event.To)
	assert.Equal(t, 2024, event.Timestamp.Year())

	_, err = telnyx.ParseWebhook(map[string]any{"data": map[string]any{}})
	require.ErrorIs(t, err, apperrors.ErrInvalidWebhook)
}

func TestNormalizeState(t *testing.T) {
	cases := map[string]telephony.CallState{
		"queued":      telephony.StateQueued,
		"in-progress": telephony.StateInProgress,
		"active":      telephony.StateInProgress,
		"hangup":      telephony.StateCompleted,
		"timeout":     telephony.StateNoAnswer,
		"canceled":    telephony.StateCanceled,
		"exploded":    telephony.StateFailed,
	}
	for in, want := range cases {
		if got := normalizeState(in); got != want {
			t.Fatalf("normalizeState(%q) = %q, want %q", in, got, want)
		}
	}
}
