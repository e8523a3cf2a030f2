// Package voiceagent talks to the external voice agent that conducts the
// conversation once a call is connected.
package voiceagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/config"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

const defaultVoice = "abe"

// Agent is the contract the engine needs from the voice agent.
type Agent interface {
	AcceptInboundCall(ctx context.Context, callID string, opts AcceptOptions) (Result, error)
	InitiateOutboundCall(ctx context.Context, to string, script OutboundScript) (Result, error)
	TransferCall(ctx context.Context, callID, to string) (Result, error)
	EndCall(ctx context.Context, callID string) (Result, error)
}

type AcceptOptions struct {
	VoiceModelID  string
	Greeting      string
	KnowledgeBase string
}

type OutboundScript struct {
	VoiceModelID string
	Content      string
	MaxDuration  int
}

// Result is the agent's answer. Simulated is set when the agent was
// unreachable and the client degraded to a synthetic success.
type Result struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Simulated bool   `json:"simulated,omitempty"`
}

// Client is the HTTP implementation of Agent.
type Client struct {
	baseURL  string
	apiKey   string
	simulate bool
	http     *http.Client
	logger   *zap.Logger
	now      func() time.Time
}

var _ Agent = (*Client)(nil)

func NewClient(cfg config.VoiceAgentConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		simulate: cfg.SimulateOnFailure,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
		now:      time.Now,
	}
}

func (c *Client) AcceptInboundCall(ctx context.Context, callID string, opts AcceptOptions) (Result, error) {
	body := map[string]any{
		"call_id":     callID,
		"voice_model": firstNonEmpty(opts.VoiceModelID, defaultVoice),
		"greeting":    firstNonEmpty(opts.Greeting, "Hello, how can I help you today?"),
	}
	if opts.KnowledgeBase != "" {
		body["knowledge_base"] = opts.KnowledgeBase
	}
	return c.call(ctx, "accept", "/api/v1/calls/accept", body, func() Result {
		return Result{SessionID: fmt.Sprintf("sim_%s_%d", callID, c.now().UnixMilli())}
	})
}

func (c *Client) InitiateOutboundCall(ctx context.Context, to string, script OutboundScript) (Result, error) {
	maxDuration := script.MaxDuration
	if maxDuration <= 0 {
		maxDuration = 300
	}
	body := map[string]any{
		"to":           to,
		"voice_model":  firstNonEmpty(script.VoiceModelID, defaultVoice),
		"script":       script.Content,
		"max_duration": maxDuration,
	}
	return c.call(ctx, "outbound", "/api/v1/calls/outbound", body, func() Result {
		return Result{CallID: fmt.Sprintf("sim_out_%d", c.now().UnixMilli())}
	})
}

func (c *Client) TransferCall(ctx context.Context, callID, to string) (Result, error) {
	path := "/api/v1/calls/" + url.PathEscape(callID) + "/transfer"
	return c.call(ctx, "transfer", path, map[string]any{"transfer_to": to}, func() Result { return Result{} })
}

func (c *Client) EndCall(ctx context.Context, callID string) (Result, error) {
	path := "/api/v1/calls/" + url.PathEscape(callID) + "/end"
	return c.call(ctx, "end", path, nil, func() Result { return Result{} })
}

// Online reports whether the agent answers its status endpoint.
func (c *Client) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	var status struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false
	}
	return status.Status == "online"
}

// call posts body to path. When the agent cannot be reached and simulation
// is enabled, it returns the synthetic result from fallback instead.
func (c *Client) call(ctx context.Context, op, path string, body any, fallback func() Result) (Result, error) {
	res, err := c.post(ctx, path, body)
	if err == nil {
		return res, nil
	}
	if !c.simulate {
		return Result{Success: false, Error: err.Error()}, fmt.Errorf("voiceagent: %s: %w", op, err)
	}
	c.logger.Warn("voice agent unavailable, simulating", zap.String("operation", op), zap.Error(err))
	sim := fallback()
	sim.Success = true
	sim.Simulated = true
	return sim, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (Result, error) {
	raw := []byte("{}")
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return Result{}, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		if resp.StatusCode >= 500 {
			return Result{}, fmt.Errorf("%w: status %d", apperrors.ErrUnavailable, resp.StatusCode)
		}
		return Result{Success: false, Error: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}
	if resp.StatusCode >= 500 {
		return Result{}, fmt.Errorf("%w: status %d: %s", apperrors.ErrUnavailable, resp.StatusCode, res.Error)
	}
	return res, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
