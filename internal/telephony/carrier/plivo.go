package carrier

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/acme/call-dispatch-engine/internal/config"
	"github.com/acme/call-dispatch-engine/internal/telephony"
)

type PlivoAdapter struct {
	rest *restClient
	opts Options
}

var _ telephony.Adapter = (*PlivoAdapter)(nil)

func NewPlivo(cfg config.PlivoConfig, opts Options) *PlivoAdapter {
	base := opts.BaseURL
	if base == "" {
		base = strings.TrimRight(firstNonEmpty(cfg.BaseURL, "https://api.plivo.com"), "/") + "/v1/Account/" + cfg.AuthID
	}
	return &PlivoAdapter{
		opts: opts,
		rest: &restClient{
			provider: telephony.Plivo,
			baseURL:  strings.TrimRight(base, "/"),
			http:     opts.httpClient(),
			auth:     basicAuth(cfg.AuthID, cfg.AuthToken),
		},
	}
}

func (p *PlivoAdapter) Name() telephony.ProviderName { return telephony.Plivo }

func (p *PlivoAdapter) PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	body := map[string]any{
		"from":          firstNonEmpty(req.From, p.opts.DefaultFrom),
		"to":            req.To,
		"answer_url":    firstNonEmpty(req.WebhookURL, p.opts.webhookURL(telephony.Plivo, "voice")),
		"answer_method": http.MethodPost,
		"hangup_url":    firstNonEmpty(req.StatusCallbackURL, p.opts.webhookURL(telephony.Plivo, "status")),
		"hangup_method": http.MethodPost,
		"ring_timeout":  timeout,
	}
	if req.MachineDetection || p.opts.MachineDetection {
		body["machine_detection"] = "true"
	}

	var resp struct {
		RequestUUID string `json:"request_uuid"`
		Message     string `json:"message"`
	}
	if err := p.rest.doJSON(ctx, http.MethodPost, "/Call/", body, &resp); err != nil {
		return telephony.CallResult{}, err
	}
	return telephony.CallResult{Success: true, CallID: resp.RequestUUID, Provider: telephony.Plivo, Status: telephony.StateQueued}, nil
}

func (p *PlivoAdapter) Status(ctx context.Context, callID string) (telephony.CallStatus, error) {
	var call struct {
		CallUUID      string `json:"call_uuid"`
		CallStatus    string `json:"call_status"`
		CallDirection string `json:"call_direction"`
		BillDuration  any    `json:"bill_duration"`
		FromNumber    string `json:"from_number"`
		ToNumber      string `json:"to_number"`
		Initiation    string `json:"initiation_time"`
		EndTime       string `json:"end_time"`
		TotalAmount   string `json:"total_amount"`
	}
	if err := p.rest.doJSON(ctx, http.MethodGet, "/Call/"+url.PathEscape(callID)+"/", nil, &call); err != nil {
		return telephony.CallStatus{}, err
	}
	const plivoTime = "2006-01-02 15:04:05-07:00"
	return telephony.CallStatus{
		CallID:    firstNonEmpty(call.CallUUID, callID),
		Provider:  telephony.Plivo,
		State:     normalizeState(call.CallStatus),
		Direction: call.CallDirection,
		Duration:  atoi(stringify(call.BillDuration)),
		From:      call.FromNumber,
		To:        call.ToNumber,
		StartedAt: parseTime(call.Initiation, plivoTime, time.RFC3339),
		EndedAt:   parseTime(call.EndTime, plivoTime, time.RFC3339),
		Cost:      parseFloat(call.TotalAmount),
	}, nil
}

func (p *PlivoAdapter) EndCall(ctx context.Context, callID string) error {
	return p.rest.doJSON(ctx, http.MethodDelete, "/Call/"+url.PathEscape(callID)+"/", nil, nil)
}

func (p *PlivoAdapter) Transfer(ctx context.Context, callID, to string) error {
	body := map[string]any{
		"legs":        "aleg",
		"aleg_url":    p.opts.webhookURL(telephony.Plivo, "transfer") + "?to=" + url.QueryEscape(to),
		"aleg_method": http.MethodPost,
	}
	return p.rest.doJSON(ctx, http.MethodPost, "/Call/"+url.PathEscape(callID)+"/", body, nil)
}

func (p *PlivoAdapter) SendSMS(ctx context.Context, req telephony.SMSRequest) (telephony.SMSResult, error) {
	body := map[string]any{
		"src":    firstNonEmpty(req.From, p.opts.DefaultFrom),
		"dst":    req.To,
		"text":   req.Body,
		"url":    firstNonEmpty(req.StatusCallbackURL, p.opts.webhookURL(telephony.Plivo, "sms-status")),
		"method": http.MethodPost,
	}
	if len(req.MediaURLs) > 0 {
		body["type"] = "mms"
		body["media_urls"] = req.MediaURLs
	}
	var resp struct {
		MessageUUID []string `json:"message_uuid"`
	}
	if err := p.rest.doJSON(ctx, http.MethodPost, "/Message/", body, &resp); err != nil {
		return telephony.SMSResult{}, err
	}
	var id string
	if len(resp.MessageUUID) > 0 {
		id = resp.MessageUUID[0]
	}
	return telephony.SMSResult{Success: true, MessageID: id, Provider: telephony.Plivo, Status: "queued"}, nil
}

type plivoNumber struct {
	Number           string `json:"number"`
	Country          string `json:"country"`
	VoiceEnabled     bool   `json:"voice_enabled"`
	SMSEnabled       bool   `json:"sms_enabled"`
	MMSEnabled       bool   `json:"mms_enabled"`
	MonthlyRentalFee string `json:"monthly_rental_rate"`
}

func (n plivoNumber) toPhoneNumber() telephony.PhoneNumber {
	return telephony.PhoneNumber{
		Number:       n.Number,
		Country:      n.Country,
		Provider:     telephony.Plivo,
		Voice:        n.VoiceEnabled,
		SMS:          n.SMSEnabled,
		MMS:          n.MMSEnabled,
		MonthlyPrice: parseFloat(n.MonthlyRentalFee),
	}
}

func (p *PlivoAdapter) ListNumbers(ctx context.Context) ([]telephony.PhoneNumber, error) {
	var resp struct {
		Objects []plivoNumber `json:"objects"`
	}
	if err := p.rest.doJSON(ctx, http.MethodGet, "/Number/", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]telephony.PhoneNumber, 0, len(resp.Objects))
	for _, n := range resp.Objects {
		out = append(out, n.toPhoneNumber())
	}
	return out, nil
}

func (p *PlivoAdapter) PurchaseNumber(ctx context.Context, number string) (telephony.PhoneNumber, error) {
	var resp struct {
		Numbers []struct {
			Number string `json:"number"`
			Status string `json:"status"`
		} `json:"numbers"`
	}
	if err := p.rest.doJSON(ctx, http.MethodPost, "/PhoneNumber/"+url.PathEscape(number)+"/", map[string]any{}, &resp); err != nil {
		return telephony.PhoneNumber{}, err
	}
	bought := number
	if len(resp.Numbers) > 0 && resp.Numbers[0].Number != "" {
		bought = resp.Numbers[0].Number
	}
	return telephony.PhoneNumber{Number: bought, Provider: telephony.Plivo, Voice: true, SMS: true}, nil
}

func (p *PlivoAdapter) ReleaseNumber(ctx context.Context, number string) error {
	return p.rest.doJSON(ctx, http.MethodDelete, "/Number/"+url.PathEscape(number)+"/", nil, nil)
}

func (p *PlivoAdapter) ParseWebhook(payload map[string]any) (telephony.WebhookEvent, error) {
	callID := firstNonEmpty(field(payload, "CallUUID"), field(payload, "RequestUUID"))
	messageID := field(payload, "MessageUUID")
	if callID == "" && messageID == "" {
		return telephony.WebhookEvent{}, invalidWebhook(telephony.Plivo, "missing CallUUID, RequestUUID and MessageUUID")
	}
	status := firstNonEmpty(field(payload, "Event"), field(payload, "Status"), field(payload, "CallStatus"))
	return telephony.WebhookEvent{
		Provider:      telephony.Plivo,
		Type:          plivoEvent(status),
		CallID:        callID,
		RequestID:     field(payload, "RequestUUID"),
		MessageID:     messageID,
		From:          field(payload, "From"),
		To:            field(payload, "To"),
		Timestamp:     time.Now(),
		Machine:       strings.EqualFold(field(payload, "Machine"), "true"),
		Duration:      atoi(field(payload, "Duration")),
		CarrierStatus: status,
		Raw:           payload,
	}, nil
}

func plivoEvent(status string) telephony.EventType {
	switch status {
	case "StartApp":
		return telephony.EventCallInitiated
	case "Ringing":
		return telephony.EventCallRinging
	case "Answer":
		return telephony.EventCallAnswered
	case "Hangup":
		return telephony.EventCallCompleted
	case "Failed":
		return telephony.EventCallFailed
	case "delivered":
		return telephony.EventSMSDelivered
	}
	return telephony.EventCallInitiated
}

func (p *PlivoAdapter) HealthCheck(ctx context.Context) error {
	return p.rest.doJSON(ctx, http.MethodGet, "/", nil, nil)
}
