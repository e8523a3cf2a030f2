package carrier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/acme/call-dispatch-engine/internal/config"
	"github.com/acme/call-dispatch-engine/internal/telephony"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

// LaML speaks the Twilio REST dialect. SignalWire exposes the same API
// under its own space URL.
type LaML struct {
	name telephony.ProviderName
	rest *restClient
	opts Options
}

var _ telephony.Adapter = (*LaML)(nil)

func NewTwilio(cfg config.TwilioConfig, opts Options) *LaML {
	base := opts.BaseURL
	if base == "" {
		base = firstNonEmpty(cfg.BaseURL, "https://api.twilio.com")
		base = strings.TrimRight(base, "/") + "/2010-04-01/Accounts/" + cfg.AccountSID
	}
	return newLaML(telephony.Twilio, base, cfg.AccountSID, cfg.AuthToken, opts)
}

func NewSignalWire(cfg config.SignalWireConfig, opts Options) *LaML {
	base := opts.BaseURL
	if base == "" {
		base = firstNonEmpty(cfg.BaseURL, "https://"+cfg.SpaceURL)
		base = strings.TrimRight(base, "/") + "/api/laml/2010-04-01/Accounts/" + cfg.ProjectID
	}
	return newLaML(telephony.SignalWire, base, cfg.ProjectID, cfg.AuthToken, opts)
}

func newLaML(name telephony.ProviderName, base, user, token string, opts Options) *LaML {
	return &LaML{
		name: name,
		opts: opts,
		rest: &restClient{
			provider: name,
			baseURL:  strings.TrimRight(base, "/"),
			http:     opts.httpClient(),
			auth:     basicAuth(user, token),
		},
	}
}

func (l *LaML) Name() telephony.ProviderName { return l.name }

type lamlCall struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
	Duration  string `json:"duration"`
	From      string `json:"from"`
	To        string `json:"to"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Price     string `json:"price"`
}

func (l *LaML) PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", firstNonEmpty(req.From, l.opts.DefaultFrom))
	form.Set("Url", firstNonEmpty(req.WebhookURL, l.opts.webhookURL(l.name, "voice")))
	form.Set("Method", http.MethodPost)
	form.Set("StatusCallback", firstNonEmpty(req.StatusCallbackURL, l.opts.webhookURL(l.name, "status")))
	form.Set("StatusCallbackMethod", http.MethodPost)
	form.Set("StatusCallbackEvent", "initiated ringing answered completed")
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	form.Set("Timeout", strconv.Itoa(timeout))
	if req.MachineDetection || l.opts.MachineDetection {
		form.Set("MachineDetection", "Enable")
	}
	if req.Record {
		form.Set("Record", "true")
	}

	var call lamlCall
	if err := l.rest.doForm(ctx, http.MethodPost, "/Calls.json", form, &call); err != nil {
		return telephony.CallResult{}, err
	}
	return telephony.CallResult{
		Success:  true,
		CallID:   call.SID,
		Provider: l.name,
		Status:   normalizeState(firstNonEmpty(call.Status, "queued")),
	}, nil
}

func (l *LaML) Status(ctx context.Context, callID string) (telephony.CallStatus, error) {
	var call lamlCall
	if err := l.rest.doForm(ctx, http.MethodGet, "/Calls/"+url.PathEscape(callID)+".json", nil, &call); err != nil {
		return telephony.CallStatus{}, err
	}
	cost := parseFloat(call.Price)
	if cost < 0 {
		cost = -cost
	}
	return telephony.CallStatus{
		CallID:    call.SID,
		Provider:  l.name,
		State:     normalizeState(call.Status),
		Direction: call.Direction,
		Duration:  atoi(call.Duration),
		From:      call.From,
		To:        call.To,
		StartedAt: parseTime(call.StartTime, time.RFC1123Z, time.RFC3339),
		EndedAt:   parseTime(call.EndTime, time.RFC1123Z, time.RFC3339),
		Cost:      cost,
	}, nil
}

func (l *LaML) EndCall(ctx context.Context, callID string) error {
	form := url.Values{"Status": {"completed"}}
	return l.rest.doForm(ctx, http.MethodPost, "/Calls/"+url.PathEscape(callID)+".json", form, nil)
}

// Transfer redirects the live call to a transfer document that dials to.
func (l *LaML) Transfer(ctx context.Context, callID, to string) error {
	form := url.Values{
		"Url":    {l.opts.webhookURL(l.name, "transfer") + "?to=" + url.QueryEscape(to)},
		"Method": {http.MethodPost},
	}
	return l.rest.doForm(ctx, http.MethodPost, "/Calls/"+url.PathEscape(callID)+".json", form, nil)
}

func (l *LaML) SendSMS(ctx context.Context, req telephony.SMSRequest) (telephony.SMSResult, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", firstNonEmpty(req.From, l.opts.DefaultFrom))
	form.Set("Body", req.Body)
	for _, media := range req.MediaURLs {
		form.Add("MediaUrl", media)
	}
	form.Set("StatusCallback", firstNonEmpty(req.StatusCallbackURL, l.opts.webhookURL(l.name, "sms-status")))

	var msg struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := l.rest.doForm(ctx, http.MethodPost, "/Messages.json", form, &msg); err != nil {
		return telephony.SMSResult{}, err
	}
	return telephony.SMSResult{Success: true, MessageID: msg.SID, Provider: l.name, Status: msg.Status}, nil
}

type lamlNumber struct {
	SID          string `json:"sid"`
	PhoneNumber  string `json:"phone_number"`
	Capabilities struct {
		Voice bool `json:"voice"`
		SMS   bool `json:"sms"`
		MMS   bool `json:"mms"`
	} `json:"capabilities"`
}

func (l *LaML) toPhoneNumber(n lamlNumber) telephony.PhoneNumber {
	return telephony.PhoneNumber{
		Number:   n.PhoneNumber,
		Country:  "US",
		Provider: l.name,
		Voice:    n.Capabilities.Voice,
		SMS:      n.Capabilities.SMS,
		MMS:      n.Capabilities.MMS,
	}
}

func (l *LaML) owned(ctx context.Context) ([]lamlNumber, error) {
	var page struct {
		Numbers []lamlNumber `json:"incoming_phone_numbers"`
	}
	if err := l.rest.doForm(ctx, http.MethodGet, "/IncomingPhoneNumbers.json", nil, &page); err != nil {
		return nil, err
	}
	return page.Numbers, nil
}

func (l *LaML) ListNumbers(ctx context.Context) ([]telephony.PhoneNumber, error) {
	numbers, err := l.owned(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]telephony.PhoneNumber, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, l.toPhoneNumber(n))
	}
	return out, nil
}

func (l *LaML) PurchaseNumber(ctx context.Context, number string) (telephony.PhoneNumber, error) {
	form := url.Values{
		"PhoneNumber":    {number},
		"VoiceUrl":       {l.opts.webhookURL(l.name, "voice")},
		"SmsUrl":         {l.opts.webhookURL(l.name, "sms-status")},
		"StatusCallback": {l.opts.webhookURL(l.name, "status")},
		"VoiceMethod":    {http.MethodPost},
		"SmsMethod":      {http.MethodPost},
	}
	var n lamlNumber
	if err := l.rest.doForm(ctx, http.MethodPost, "/IncomingPhoneNumbers.json", form, &n); err != nil {
		return telephony.PhoneNumber{}, err
	}
	return l.toPhoneNumber(n), nil
}

func (l *LaML) ReleaseNumber(ctx context.Context, number string) error {
	numbers, err := l.owned(ctx)
	if err != nil {
		return err
	}
	for _, n := range numbers {
		if n.PhoneNumber == number {
			return l.rest.doForm(ctx, http.MethodDelete, "/IncomingPhoneNumbers/"+url.PathEscape(n.SID)+".json", nil, nil)
		}
	}
	return fmt.Errorf("%w: number %s on %s", apperrors.ErrNotFound, number, l.name)
}

func (l *LaML) ParseWebhook(payload map[string]any) (telephony.WebhookEvent, error) {
	callID := field(payload, "CallSid")
	messageID := field(payload, "MessageSid")
	if callID == "" && messageID == "" {
		return telephony.WebhookEvent{}, invalidWebhook(l.name, "missing CallSid and MessageSid")
	}
	status := firstNonEmpty(field(payload, "CallStatus"), field(payload, "MessageStatus"), field(payload, "SmsStatus"))
	return telephony.WebhookEvent{
		Provider:      l.name,
		Type:          lamlEvent(status),
		CallID:        callID,
		MessageID:     messageID,
		From:          field(payload, "From"),
		To:            field(payload, "To"),
		Timestamp:     time.Now(),
		Machine:       strings.HasPrefix(field(payload, "AnsweredBy"), "machine"),
		Duration:      atoi(field(payload, "CallDuration")),
		CarrierStatus: status,
		Raw:           payload,
	}, nil
}

func lamlEvent(status string) telephony.EventType {
	switch status {
	case "initiated":
		return telephony.EventCallInitiated
	case "ringing":
		return telephony.EventCallRinging
	case "in-progress":
		return telephony.EventCallAnswered
	case "completed":
		return telephony.EventCallCompleted
	case "failed", "busy", "no-answer":
		return telephony.EventCallFailed
	case "received":
		return telephony.EventSMSReceived
	case "delivered", "sent":
		return telephony.EventSMSDelivered
	}
	return telephony.EventCallInitiated
}

func (l *LaML) HealthCheck(ctx context.Context) error {
	return l.rest.doForm(ctx, http.MethodGet, "/Calls.json?PageSize=1", nil, nil)
}
