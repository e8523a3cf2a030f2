package carrier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/acme/call-dispatch-engine/internal/config"
	"github.com/acme/call-dispatch-engine/internal/telephony"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

// TelnyxAdapter drives the Telnyx Call Control API.
type TelnyxAdapter struct {
	rest         *restClient
	opts         Options
	connectionID string
}

var _ telephony.Adapter = (*TelnyxAdapter)(nil)

func NewTelnyx(cfg config.TelnyxConfig, opts Options) *TelnyxAdapter {
	base := firstNonEmpty(opts.BaseURL, cfg.BaseURL, "https://api.telnyx.com/v2")
	return &TelnyxAdapter{
		opts:         opts,
		connectionID: cfg.ConnectionID,
		rest: &restClient{
			provider: telephony.Telnyx,
			baseURL:  strings.TrimRight(base, "/"),
			http:     opts.httpClient(),
			auth:     bearerAuth(cfg.APIKey),
		},
	}
}

func (t *TelnyxAdapter) Name() telephony.ProviderName { return telephony.Telnyx }

func (t *TelnyxAdapter) PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	body := map[string]any{
		"from":               firstNonEmpty(req.From, t.opts.DefaultFrom),
		"to":                 req.To,
		"connection_id":      t.connectionID,
		"webhook_url":        firstNonEmpty(req.StatusCallbackURL, req.WebhookURL, t.opts.webhookURL(telephony.Telnyx, "status")),
		"webhook_url_method": http.MethodPost,
		"timeout_secs":       timeout,
	}
	if req.MachineDetection || t.opts.MachineDetection {
		body["answering_machine_detection"] = "detect"
	}
	if req.Record {
		body["record"] = "record-from-answer"
	}

	var resp struct {
		Data struct {
			CallControlID string `json:"call_control_id"`
		} `json:"data"`
	}
	if err := t.rest.doJSON(ctx, http.MethodPost, "/calls", body, &resp); err != nil {
		return telephony.CallResult{}, err
	}
	return telephony.CallResult{
		Success:  true,
		CallID:   resp.Data.CallControlID,
		Provider: telephony.Telnyx,
		Status:   telephony.StateQueued,
	}, nil
}

func (t *TelnyxAdapter) Status(ctx context.Context, callID string) (telephony.CallStatus, error) {
	var resp struct {
		Data struct {
			CallControlID string `json:"call_control_id"`
			State         string `json:"state"`
			IsAlive       *bool  `json:"is_alive"`
			CallDuration  any    `json:"call_duration"`
			From          string `json:"from"`
			To            string `json:"to"`
			Direction     string `json:"direction"`
		} `json:"data"`
	}
	if err := t.rest.doJSON(ctx, http.MethodGet, "/calls/"+url.PathEscape(callID), nil, &resp); err != nil {
		return telephony.CallStatus{}, err
	}
	state := resp.Data.State
	if state == "" && resp.Data.IsAlive != nil {
		state = "hangup"
		if *resp.Data.IsAlive {
			state = "active"
		}
	}
	return telephony.CallStatus{
		CallID:    firstNonEmpty(resp.Data.CallControlID, callID),
		Provider:  telephony.Telnyx,
		State:     normalizeState(state),
		Direction: resp.Data.Direction,
		Duration:  atoi(stringify(resp.Data.CallDuration)),
		From:      resp.Data.From,
		To:        resp.Data.To,
	}, nil
}

func (t *TelnyxAdapter) EndCall(ctx context.Context, callID string) error {
	return t.rest.doJSON(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/actions/hangup", map[string]any{}, nil)
}

func (t *TelnyxAdapter) Transfer(ctx context.Context, callID, to string) error {
	return t.rest.doJSON(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID)+"/actions/transfer", map[string]any{"to": to}, nil)
}

func (t *TelnyxAdapter) SendSMS(ctx context.Context, req telephony.SMSRequest) (telephony.SMSResult, error) {
	body := map[string]any{
		"from":        firstNonEmpty(req.From, t.opts.DefaultFrom),
		"to":          req.To,
		"text":        req.Body,
		"webhook_url": firstNonEmpty(req.StatusCallbackURL, t.opts.webhookURL(telephony.Telnyx, "sms-status")),
	}
	if len(req.MediaURLs) > 0 {
		body["media_urls"] = req.MediaURLs
	}
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := t.rest.doJSON(ctx, http.MethodPost, "/messages", body, &resp); err != nil {
		return telephony.SMSResult{}, err
	}
	return telephony.SMSResult{Success: true, MessageID: resp.Data.ID, Provider: telephony.Telnyx, Status: "queued"}, nil
}

type telnyxNumber struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phone_number"`
	Status      string `json:"status"`
}

func (t *TelnyxAdapter) numbers(ctx context.Context, query string) ([]telnyxNumber, error) {
	var resp struct {
		Data []telnyxNumber `json:"data"`
	}
	if err := t.rest.doJSON(ctx, http.MethodGet, "/phone_numbers"+query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (t *TelnyxAdapter) ListNumbers(ctx context.Context) ([]telephony.PhoneNumber, error) {
	numbers, err := t.numbers(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]telephony.PhoneNumber, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, telephony.PhoneNumber{Number: n.PhoneNumber, Country: "US", Provider: telephony.Telnyx, Voice: true, SMS: true})
	}
	return out, nil
}

func (t *TelnyxAdapter) PurchaseNumber(ctx context.Context, number string) (telephony.PhoneNumber, error) {
	body := map[string]any{
		"phone_numbers": []map[string]string{{"phone_number": number}},
		"connection_id": t.connectionID,
	}
	var resp struct {
		Data struct {
			PhoneNumbers []telnyxNumber `json:"phone_numbers"`
		} `json:"data"`
	}
	if err := t.rest.doJSON(ctx, http.MethodPost, "/number_orders", body, &resp); err != nil {
		return telephony.PhoneNumber{}, err
	}
	bought := number
	if len(resp.Data.PhoneNumbers) > 0 && resp.Data.PhoneNumbers[0].PhoneNumber != "" {
		bought = resp.Data.PhoneNumbers[0].PhoneNumber
	}
	return telephony.PhoneNumber{Number: bought, Country: "US", Provider: telephony.Telnyx, Voice: true, SMS: true}, nil
}

// ReleaseNumber looks the number up by value, then deletes it by id.
func (t *TelnyxAdapter) ReleaseNumber(ctx context.Context, number string) error {
	numbers, err := t.numbers(ctx, "?filter[phone_number]="+url.QueryEscape(number))
	if err != nil {
		return err
	}
	if len(numbers) == 0 {
		return fmt.Errorf("%w: number %s on telnyx", apperrors.ErrNotFound, number)
	}
	return t.rest.doJSON(ctx, http.MethodDelete, "/phone_numbers/"+url.PathEscape(numbers[0].ID), nil, nil)
}

func (t *TelnyxAdapter) ParseWebhook(payload map[string]any) (telephony.WebhookEvent, error) {
	eventType := field(payload, "data", "event_type")
	if eventType == "" {
		return telephony.WebhookEvent{}, invalidWebhook(telephony.Telnyx, "missing data.event_type")
	}
	event := telephony.WebhookEvent{
		Provider:      telephony.Telnyx,
		Type:          telnyxEvent(eventType),
		CallID:        field(payload, "data", "payload", "call_control_id"),
		From:          telnyxParty(payload, "from"),
		To:            telnyxParty(payload, "to"),
		Machine:       field(payload, "data", "payload", "result") == "machine",
		CarrierStatus: eventType,
		Raw:           payload,
	}
	if strings.HasPrefix(eventType, "message.") {
		event.MessageID = field(payload, "data", "payload", "id")
	}
	if ts := parseTime(field(payload, "data", "occurred_at"), time.RFC3339Nano); ts != nil {
		event.Timestamp = *ts
	}
	return event, nil
}

// telnyxParty reads a party that is either a plain number or, on message
// events, an object carrying phone_number.
func telnyxParty(payload map[string]any, key string) string {
	return firstNonEmpty(
		field(payload, "data", "payload", key),
		field(payload, "data", "payload", key, "phone_number"),
	)
}

func telnyxEvent(eventType string) telephony.EventType {
	switch eventType {
	case "call.initiated":
		return telephony.EventCallInitiated
	case "call.ringing":
		return telephony.EventCallRinging
	case "call.answered":
		return telephony.EventCallAnswered
	case "call.hangup":
		return telephony.EventCallCompleted
	case "call.failed":
		return telephony.EventCallFailed
	case "message.received":
		return telephony.EventSMSReceived
	case "message.sent", "message.finalized":
		return telephony.EventSMSDelivered
	}
	return telephony.EventCallInitiated
}

func (t *TelnyxAdapter) HealthCheck(ctx context.Context) error {
	return t.rest.doJSON(ctx, http.MethodGet, "/balance", nil, nil)
}
