// Package carrier implements telephony adapters over the carriers' REST APIs.
package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/acme/call-dispatch-engine/internal/telephony"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

// Options holds settings shared by every carrier adapter.
type Options struct {
	// BaseURL overrides the carrier API root, mainly for tests.
	BaseURL          string
	WebhookBaseURL   string
	DefaultFrom      string
	Timeout          time.Duration
	MachineDetection bool
	HTTPClient       *http.Client
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// webhookURL builds the callback URL for one provider endpoint.
func (o Options) webhookURL(provider telephony.ProviderName, endpoint string) string {
	return strings.TrimRight(o.WebhookBaseURL, "/") + "/" + string(provider) + "/" + endpoint
}

type restClient struct {
	provider telephony.ProviderName
	baseURL  string
	http     *http.Client
	auth     func(*http.Request)
}

func (c *restClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("carrier: %s: encode request: %w", c.provider, err)
		}
		body = bytes.NewReader(raw)
	}
	return c.do(ctx, method, path, body, "application/json", out)
}

func (c *restClient) doForm(ctx context.Context, method, path string, values url.Values, out any) error {
	var body io.Reader
	if values != nil {
		body = strings.NewReader(values.Encode())
	}
	return c.do(ctx, method, path, body, "application/x-www-form-urlencoded", out)
}

func (c *restClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("carrier: %s: build request: %w", c.provider, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %s %s: %v", apperrors.ErrProvider, c.provider, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %s: read response: %v", apperrors.ErrProvider, c.provider, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w: %s returned 404 for %s", apperrors.ErrNotFound, apperrors.ErrProvider, c.provider, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %d: %s", apperrors.ErrProvider, c.provider, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", apperrors.ErrProvider, c.provider, err)
	}
	return nil
}

func basicAuth(user, password string) func(*http.Request) {
	return func(r *http.Request) { r.SetBasicAuth(user, password) }
}

func bearerAuth(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

// field walks nested maps and renders the leaf as a string. Form payloads
// may carry []string values.
func field(payload map[string]any, path ...string) string {
	var cur any = payload
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	return stringify(cur)
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []string:
		if len(v) > 0 {
			return v[0]
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if ferr != nil {
			return 0
		}
		return int(f)
	}
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseTime(s string, layouts ...string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// normalizeState maps carrier call states onto the shared vocabulary.
func normalizeState(s string) telephony.CallState {
	switch strings.ToLower(s) {
	case "queued":
		return telephony.StateQueued
	case "ringing":
		return telephony.StateRinging
	case "in-progress", "active", "answered":
		return telephony.StateInProgress
	case "completed", "hangup":
		return telephony.StateCompleted
	case "busy":
		return telephony.StateBusy
	case "no-answer", "timeout":
		return telephony.StateNoAnswer
	case "canceled":
		return telephony.StateCanceled
	}
	return telephony.StateFailed
}

func invalidWebhook(provider telephony.ProviderName, reason string) error {
	return fmt.Errorf("%w: %s: %s", apperrors.ErrInvalidWebhook, provider, reason)
}
