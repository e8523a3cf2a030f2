// Package inbound routes incoming calls: it applies business hours and the
// business's routing rules, then executes the chosen action.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/domain"
	"github.com/acme/call-dispatch-engine/internal/events"
	"github.com/acme/call-dispatch-engine/internal/repository"
	"github.com/acme/call-dispatch-engine/internal/service/callback"
	"github.com/acme/call-dispatch-engine/internal/service/callqueue"
	"github.com/acme/call-dispatch-engine/internal/service/common"
	"github.com/acme/call-dispatch-engine/internal/telephony"
	"github.com/acme/call-dispatch-engine/internal/voiceagent"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

// DefaultCallbackDelay applies to CALLBACK actions without their own delay.
const DefaultCallbackDelay = 300 * time.Second

// Transferer is the slice of the telephony router used for transfers.
type Transferer interface {
	Transfer(ctx context.Context, callID, to string, name telephony.ProviderName) error
}

// CallbackScheduler books callbacks. *callback.Service satisfies it.
type CallbackScheduler interface {
	ScheduleCallback(ctx context.Context, in callback.ScheduleInput) (*domain.CallbackRequest, error)
}

// Dependencies wires the router. Agent, Router and Callbacks may be nil; the
// matching actions then fail with a message.
type Dependencies struct {
	Config    repository.BusinessConfigStore
	CallLog   repository.CallLog
	Queue     *callqueue.Queue
	Agent     voiceagent.Agent
	Router    Transferer
	Callbacks CallbackScheduler
	Emitter   events.Emitter
	Logger    *zap.Logger
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the inbound call router.
type Service struct {
	config    repository.BusinessConfigStore
	callLog   repository.CallLog
	queue     *callqueue.Queue
	agent     voiceagent.Agent
	router    Transferer
	callbacks CallbackScheduler
	emitter   events.Emitter
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	patterns sync.Map

	mu    sync.RWMutex
	calls map[string]*domain.InboundCall
	// byCarrier maps provider and carrier call id to the live call.
	byCarrier map[string]string
	// routed keeps the routing outcome returned to redeliveries.
	routed map[string]CallResponse
}

// NewService constructs the inbound router.
func NewService(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		config:    deps.Config,
		callLog:   deps.CallLog,
		queue:     deps.Queue,
		agent:     deps.Agent,
		router:    deps.Router,
		callbacks: deps.Callbacks,
		emitter:   deps.Emitter,
		logger:    deps.Logger,
		tracer:    otel.Tracer("dispatch.inbound"),
		now:       time.Now,
		calls:     make(map[string]*domain.InboundCall),
		byCarrier: make(map[string]string),
		routed:    make(map[string]CallResponse),
	}
	if s.emitter == nil {
		s.emitter = events.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Webhook is a carrier's incoming-call notification.
type Webhook struct {
	CallID     string            `json:"call_id"`
	From       string            `json:"from"`
	To         string            `json:"to"`
	CallerName string            `json:"caller_name,omitempty"`
	Provider   string            `json:"provider,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CallResponse is the outcome of an inbound operation.
type CallResponse struct {
	Success  bool              `json:"success"`
	CallID   string            `json:"call_id"`
	Action   domain.ActionType `json:"action,omitempty"`
	Message  string            `json:"message"`
	RuleID   string            `json:"rule_id,omitempty"`
	Prompt   string            `json:"prompt,omitempty"`
	Position int               `json:"position,omitempty"`
}

func carrierKey(provider, carrierCallID string) string {
	return provider + "/" + carrierCallID
}

// HandleIncoming validates the notification, routes the call and executes the
// chosen action. Malformed notifications return ErrInvalidWebhook. A
// redelivered notification for a live call returns that call's outcome
// instead of routing it twice.
func (s *Service) HandleIncoming(ctx context.Context, businessID string, hook Webhook) (CallResponse, error) {
	ctx, span := s.tracer.Start(ctx, "inbound.handle")
	defer span.End()
	span.SetAttributes(attribute.String("business.id", businessID))

	if strings.TrimSpace(hook.CallID) == "" || strings.TrimSpace(hook.From) == "" || strings.TrimSpace(hook.To) == "" {
		return CallResponse{Success: false, CallID: hook.CallID, Message: "Invalid webhook data"},
			fmt.Errorf("%w: call id, from and to are required", apperrors.ErrInvalidWebhook)
	}
	if strings.TrimSpace(businessID) == "" {
		return CallResponse{Success: false, CallID: hook.CallID, Message: "Invalid webhook data"},
			fmt.Errorf("%w: business id is required", apperrors.ErrInvalidWebhook)
	}

	cfg, err := s.config.InboundConfig(ctx, businessID)
	if err != nil {
		return CallResponse{}, fmt.Errorf("inbound service: load config: %w", err)
	}
	rules, err := s.config.RoutingRules(ctx, businessID)
	if err != nil {
		return CallResponse{}, fmt.Errorf("inbound service: load rules: %w", err)
	}

	key := carrierKey(hook.Provider, hook.CallID)
	call := &domain.InboundCall{
		ID:            "call_" + uuid.NewString(),
		BusinessID:    businessID,
		From:          hook.From,
		To:            hook.To,
		CallerName:    hook.CallerName,
		CarrierCallID: hook.CallID,
		Provider:      hook.Provider,
		State:         domain.InboundStateReceived,
		StartedAt:     s.now().UTC(),
		Metadata:      hook.Metadata,
	}
	s.mu.Lock()
	if existing, ok := s.byCarrier[key]; ok {
		resp, done := s.routed[existing]
		s.mu.Unlock()
		s.logger.Info("duplicate inbound webhook",
			zap.String("business_id", businessID),
			zap.String("call_id", existing),
			zap.String("carrier_call_id", hook.CallID))
		if !done {
			resp = CallResponse{Success: true, CallID: existing, Message: "Call is already being routed"}
		}
		return resp, nil
	}
	s.calls[call.ID] = call
	s.byCarrier[key] = call.ID
	s.mu.Unlock()

	s.emitter.Emit(ctx, businessID, events.CallIncoming, map[string]any{
		"call_id":       call.ID,
		"caller_number": call.From,
		"caller_name":   call.CallerName,
	})

	decision := s.decide(ctx, *call, cfg, rules)
	span.SetAttributes(attribute.String("inbound.action", string(decision.Action)))
	s.setState(call.ID, domain.InboundStateRouted, decision.Action)

	resp := s.execute(ctx, *call, decision, cfg)
	resp.RuleID = decision.RuleID
	if resp.Success {
		s.setState(call.ID, domain.InboundStateActive, resp.Action)
	}
	s.mu.Lock()
	if _, live := s.calls[call.ID]; live {
		s.routed[call.ID] = resp
	}
	s.mu.Unlock()

	s.logger.Info("inbound call routed",
		zap.String("business_id", businessID),
		zap.String("call_id", call.ID),
		zap.String("action", string(resp.Action)),
		zap.String("reason", decision.Reason),
		zap.Bool("success", resp.Success))
	s.logAttempt(ctx, *call, resp)
	return resp, nil
}

// Decide reports the action a call with these attributes would get now.
func (s *Service) Decide(ctx context.Context, call domain.InboundCall) (Decision, error) {
	cfg, err := s.config.InboundConfig(ctx, call.BusinessID)
	if err != nil {
		return Decision{}, fmt.Errorf("inbound service: load config: %w", err)
	}
	rules, err := s.config.RoutingRules(ctx, call.BusinessID)
	if err != nil {
		return Decision{}, fmt.Errorf("inbound service: load rules: %w", err)
	}
	return s.decide(ctx, call, cfg, rules), nil
}

func (s *Service) execute(ctx context.Context, call domain.InboundCall, d Decision, cfg domain.InboundConfig) CallResponse {
	resp := CallResponse{CallID: call.ID, Action: d.Action}

	switch d.Action {
	case domain.ActionAIAgent:
		return s.routeToAgent(ctx, call, d.Config, cfg)

	case domain.ActionVoicemail:
		resp.Success = true
		resp.Message = "Call routed to voicemail"
		resp.Prompt = firstNonEmpty(d.Config.Message, cfg.Voice.VoicemailPrompt)

	case domain.ActionPlayMessage:
		resp.Success = true
		resp.Message = "Message played"
		resp.Prompt = d.Config.Message

	case domain.ActionTransfer:
		if d.Config.TransferTo == "" {
			resp.Message = "Transfer target is not configured"
			return resp
		}
		out, err := s.TransferCall(ctx, call.ID, d.Config.TransferTo, false)
		if err != nil {
			resp.Message = err.Error()
			return resp
		}
		return out

	case domain.ActionQueue:
		if s.queue == nil {
			resp.Message = "Queue is not available"
			return resp
		}
		if limit := cfg.Routing.MaxQueueLength; limit > 0 && s.queue.Size(call.BusinessID) >= limit {
			return CallResponse{
				Success: true,
				CallID:  call.ID,
				Action:  domain.ActionVoicemail,
				Message: "Queue is full, call routed to voicemail",
				Prompt:  cfg.Voice.VoicemailPrompt,
			}
		}
		placed := s.queue.Enqueue(ctx, domain.QueuedCall{
			CallID:     call.ID,
			BusinessID: call.BusinessID,
			From:       call.From,
			CallerName: call.CallerName,
		}, d.Config.QueuePriority)
		resp.Success = true
		resp.Message = "Call added to queue"
		resp.Position = placed.Position

	case domain.ActionCallback:
		if s.callbacks == nil {
			resp.Message = "Callbacks are not available"
			return resp
		}
		delay := DefaultCallbackDelay
		if d.Config.CallbackDelaySeconds > 0 {
			delay = time.Duration(d.Config.CallbackDelaySeconds) * time.Second
		}
		at := s.now().Add(delay)
		if _, err := s.callbacks.ScheduleCallback(ctx, callback.ScheduleInput{
			BusinessID:    call.BusinessID,
			Phone:         call.From,
			Name:          call.CallerName,
			Reason:        "missed inbound call",
			PreferredTime: &at,
		}); err != nil {
			resp.Message = "Failed to schedule callback"
			return resp
		}
		resp.Success = true
		resp.Message = "Callback scheduled"
		resp.Prompt = d.Config.Message

	default:
		return s.routeToAgent(ctx, call, d.Config, cfg)
	}
	return resp
}

func (s *Service) routeToAgent(ctx context.Context, call domain.InboundCall, action domain.ActionConfig, cfg domain.InboundConfig) CallResponse {
	resp := CallResponse{CallID: call.ID, Action: domain.ActionAIAgent}
	if s.agent == nil {
		resp.Message = "Voice agent is not configured"
		return resp
	}

	greeting := firstNonEmpty(action.Greeting, cfg.Voice.Greeting)
	res, err := s.agent.AcceptInboundCall(ctx, firstNonEmpty(call.CarrierCallID, call.ID), voiceagent.AcceptOptions{
		VoiceModelID:  firstNonEmpty(action.VoiceModelID, cfg.Voice.VoiceModelID),
		Greeting:      greeting,
		KnowledgeBase: cfg.Voice.KnowledgeBase,
	})
	if err != nil || !res.Success {
		s.logger.Warn("voice agent rejected inbound call", zap.String("call_id", call.ID), zap.Error(err))
		resp.Message = "Failed to connect to AI agent"
		return resp
	}

	s.emitter.Emit(ctx, call.BusinessID, events.CallStarted, map[string]any{
		"call_id":   call.ID,
		"routed_to": "ai_agent",
		"session":   res.SessionID,
	})
	resp.Success = true
	resp.Message = "Call routed to AI agent"
	resp.Prompt = greeting
	return resp
}

// AnswerNext takes the longest-waiting, highest-priority caller off the queue
// and hands it to the voice agent.
func (s *Service) AnswerNext(ctx context.Context, businessID string) (CallResponse, error) {
	if s.queue == nil {
		return CallResponse{}, fmt.Errorf("%w: queue is not available", apperrors.ErrUnavailable)
	}
	next, ok := s.queue.Next(ctx, businessID)
	if !ok {
		return CallResponse{}, fmt.Errorf("%w: queue is empty", apperrors.ErrNotFound)
	}
	call, err := s.GetCall(next.CallID)
	if err != nil {
		return CallResponse{}, err
	}
	cfg, err := s.config.InboundConfig(ctx, businessID)
	if err != nil {
		return CallResponse{}, fmt.Errorf("inbound service: load config: %w", err)
	}
	resp := s.routeToAgent(ctx, call, domain.ActionConfig{}, cfg)
	if resp.Success {
		s.setState(call.ID, domain.InboundStateActive, domain.ActionAIAgent)
	}
	return resp, nil
}

// TransferCall hands a live call to another number through the voice agent
// and the carrier.
func (s *Service) TransferCall(ctx context.Context, callID, to string, warm bool) (CallResponse, error) {
	call, err := s.GetCall(callID)
	if err != nil {
		return CallResponse{}, err
	}
	if strings.TrimSpace(to) == "" {
		return CallResponse{}, fmt.Errorf("%w: transfer target is required", apperrors.ErrValidation)
	}
	resp := CallResponse{CallID: callID, Action: domain.ActionTransfer}

	if s.agent != nil && call.CarrierCallID != "" {
		if res, err := s.agent.TransferCall(ctx, call.CarrierCallID, to); err != nil || !res.Success {
			s.logger.Warn("voice agent transfer failed", zap.String("call_id", callID), zap.Error(err))
			resp.Message = "Transfer failed"
			return resp, nil
		}
	}
	if s.router != nil && call.CarrierCallID != "" {
		if err := s.router.Transfer(ctx, call.CarrierCallID, to, telephony.ProviderName(call.Provider)); err != nil {
			s.logger.Warn("carrier transfer failed", zap.String("call_id", callID), zap.Error(err))
			resp.Message = "Transfer failed"
			return resp, nil
		}
	}
	if s.queue != nil {
		s.queue.Dequeue(ctx, call.BusinessID, callID, domain.DequeueServed)
	}

	s.emitter.Emit(ctx, call.BusinessID, events.CallTransferred, map[string]any{
		"call_id":       callID,
		"transfer_to":   to,
		"warm_transfer": warm,
	})
	resp.Success = true
	resp.Message = "Call transferred to " + to
	return resp, nil
}

// EndCall hangs up a live call and forgets it. A caller still waiting in the
// queue is dequeued as abandoned.
func (s *Service) EndCall(ctx context.Context, callID string) (CallResponse, error) {
	call, err := s.GetCall(callID)
	if err != nil {
		return CallResponse{}, err
	}

	if s.agent != nil && call.Action == domain.ActionAIAgent && call.CarrierCallID != "" {
		if _, err := s.agent.EndCall(ctx, call.CarrierCallID); err != nil {
			s.logger.Warn("voice agent end failed", zap.String("call_id", callID), zap.Error(err))
		}
	}
	if s.queue != nil {
		s.queue.Dequeue(ctx, call.BusinessID, callID, domain.DequeueAbandoned)
	}

	duration := int(s.now().Sub(call.StartedAt).Round(time.Second) / time.Second)
	s.mu.Lock()
	if _, live := s.calls[callID]; !live {
		s.mu.Unlock()
		return CallResponse{Success: true, CallID: callID, Action: call.Action, Message: "Call ended"}, nil
	}
	delete(s.calls, callID)
	delete(s.routed, callID)
	if key := carrierKey(call.Provider, call.CarrierCallID); s.byCarrier[key] == callID {
		delete(s.byCarrier, key)
	}
	s.mu.Unlock()

	s.emitter.Emit(ctx, call.BusinessID, events.CallEnded, map[string]any{
		"call_id":  callID,
		"duration": duration,
	})
	return CallResponse{Success: true, CallID: callID, Action: call.Action, Message: "Call ended"}, nil
}

// HandleCarrierEvent applies a carrier status event to the inbound call
// with that carrier call id. A completed or failed call is ended. It
// reports whether a live inbound call matched.
func (s *Service) HandleCarrierEvent(ctx context.Context, event telephony.WebhookEvent) bool {
	if event.CallID == "" {
		return false
	}
	s.mu.RLock()
	callID, ok := s.byCarrier[carrierKey(string(event.Provider), event.CallID)]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	switch event.Type {
	case telephony.EventCallCompleted, telephony.EventCallFailed:
		s.mu.Lock()
		if c, live := s.calls[callID]; live {
			c.State = domain.InboundStateEnded
		}
		s.mu.Unlock()
		s.logger.Info("inbound call ended by carrier",
			zap.String("call_id", callID),
			zap.String("carrier_call_id", event.CallID),
			zap.String("event", string(event.Type)))
		if _, err := s.EndCall(ctx, callID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Warn("end inbound call failed", zap.String("call_id", callID), zap.Error(err))
		}
	}
	return true
}

// GetCall returns a live call.
func (s *Service) GetCall(callID string) (domain.InboundCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, ok := s.calls[callID]
	if !ok {
		return domain.InboundCall{}, fmt.Errorf("%w: call %s", apperrors.ErrNotFound, callID)
	}
	return *call, nil
}

// ActiveCalls lists the live calls of a business, oldest first.
func (s *Service) ActiveCalls(businessID string) []domain.InboundCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.InboundCall, 0)
	for _, c := range s.calls {
		if c.BusinessID == businessID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// ActiveCount is the number of live calls of a business.
func (s *Service) ActiveCount(businessID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.calls {
		if c.BusinessID == businessID {
			n++
		}
	}
	return n
}

// QueueStatus summarises the business queue.
func (s *Service) QueueStatus(businessID string) domain.QueueStatus {
	if s.queue == nil {
		return domain.QueueStatus{BusinessID: businessID, Calls: []domain.QueuedCall{}}
	}
	return s.queue.Status(businessID)
}

// CallLogPage is one page of routing history.
type CallLogPage struct {
	Entries       []domain.InboundCallLog `json:"entries"`
	NextPageToken string                  `json:"next_page_token,omitempty"`
}

// ListCallLog pages through the routing history of a business, newest first.
func (s *Service) ListCallLog(ctx context.Context, businessID string, limit int, pageToken string) (CallLogPage, error) {
	state, err := common.DecodePageToken(pageToken)
	if err != nil {
		return CallLogPage{}, err
	}
	entries, next, err := s.callLog.ListInbound(ctx, businessID, common.ClampPageSize(limit), state)
	if err != nil {
		return CallLogPage{}, fmt.Errorf("inbound service: list call log: %w", err)
	}
	if entries == nil {
		entries = []domain.InboundCallLog{}
	}
	return CallLogPage{Entries: entries, NextPageToken: common.EncodePageToken(next)}, nil
}

func (s *Service) setState(callID string, state domain.InboundState, action domain.ActionType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.calls[callID]; ok {
		c.State = state
		c.Action = action
	}
}

// logAttempt records the routing outcome. Failures are logged, never surfaced.
func (s *Service) logAttempt(ctx context.Context, call domain.InboundCall, resp CallResponse) {
	if s.callLog == nil {
		return
	}
	entry := domain.InboundCallLog{
		CallID:     call.ID,
		BusinessID: call.BusinessID,
		From:       call.From,
		To:         call.To,
		CallerName: call.CallerName,
		Action:     resp.Action,
		RuleID:     resp.RuleID,
		Success:    resp.Success,
		Message:    resp.Message,
		ReceivedAt: call.StartedAt,
	}
	if err := s.callLog.AppendInbound(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("call log write failed", zap.String("call_id", call.ID), zap.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
