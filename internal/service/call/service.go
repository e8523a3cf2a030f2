// Package call places single outbound calls behind the compliance gate and
// tracks each call as a session until the carrier reports it finished.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/domain"
	"github.com/acme/call-dispatch-engine/internal/events"
	"github.com/acme/call-dispatch-engine/internal/repository"
	"github.com/acme/call-dispatch-engine/internal/service/ratelimit"
	"github.com/acme/call-dispatch-engine/internal/telephony"
	"github.com/acme/call-dispatch-engine/internal/voiceagent"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

// Placer is the slice of the telephony router the dialer needs.
type Placer interface {
	PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallResult, error)
	PlaceCallWith(ctx context.Context, name telephony.ProviderName, req telephony.CallRequest) (telephony.CallResult, error)
}

// Dependencies wires the service to its collaborators. Agent may be nil.
type Dependencies struct {
	Router      Placer
	Agent       voiceagent.Agent
	Config      repository.BusinessConfigStore
	DNC         repository.DNCList
	CallLog     repository.CallLog
	Window      ratelimit.Window
	Concurrency ratelimit.Concurrency
	Emitter     events.Emitter
	Logger      *zap.Logger
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAfterFunc overrides the timer used to reap finished sessions.
func WithAfterFunc(fn func(time.Duration, func())) Option {
	return func(s *Service) { s.afterFunc = fn }
}

// WithCompletion sets the completion wait ceiling and the poll interval.
func WithCompletion(timeout, poll time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.completionTimeout = timeout
		}
		if poll > 0 {
			s.pollInterval = poll
		}
	}
}

// WithSessionTTL sets how long a session without a script duration may stay
// open before it is failed and its concurrency slot returned.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

// WithReapAfter sets how long finished sessions stay queryable.
func WithReapAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.reapAfter = d
		}
	}
}

// Service is the single-call dialer.
type Service struct {
	router      Placer
	agent       voiceagent.Agent
	config      repository.BusinessConfigStore
	dnc         repository.DNCList
	callLog     repository.CallLog
	window      ratelimit.Window
	concurrency ratelimit.Concurrency
	emitter     events.Emitter
	logger      *zap.Logger

	now               func() time.Time
	afterFunc         func(time.Duration, func())
	completionTimeout time.Duration
	pollInterval      time.Duration
	reapAfter         time.Duration
	sessionTTL        time.Duration

	mu         sync.Mutex
	sessions   map[uuid.UUID]*sessionEntry
	byExternal map[string]uuid.UUID
	orphans    map[string][]orphanEvent
}

// NewService builds the dialer.
func NewService(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		router:            deps.Router,
		agent:             deps.Agent,
		config:            deps.Config,
		dnc:               deps.DNC,
		callLog:           deps.CallLog,
		window:            deps.Window,
		concurrency:       deps.Concurrency,
		emitter:           deps.Emitter,
		logger:            deps.Logger,
		now:               time.Now,
		afterFunc:         func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		completionTimeout: 30 * time.Second,
		pollInterval:      time.Second,
		reapAfter:         time.Minute,
		sessionTTL:        time.Hour,
		sessions:          make(map[uuid.UUID]*sessionEntry),
		byExternal:        make(map[string]uuid.UUID),
		orphans:           make(map[string][]orphanEvent),
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

// ringTimeout is the carrier's answer timeout for placed calls.
const ringTimeout = 30 * time.Second

// Request describes one outbound call.
type Request struct {
	BusinessID string
	Contact    domain.Contact
	Script     domain.Script
	CampaignID *uuid.UUID
	// Provider pins the call to one carrier and bypasses failover.
	Provider telephony.ProviderName
}

// Result reports the outcome of InitiateCall. Cause carries the taxonomy
// error when Success is false.
type Result struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Session *domain.CallSession `json:"session,omitempty"`
	Cause   error               `json:"-"`
}

func blocked(cause error) Result {
	return Result{Success: false, Message: cause.Error(), Cause: cause}
}

// InitiateCall runs the compliance gate and places the call. Gate and
// placement failures come back as an unsuccessful Result. The returned
// error is reserved for invalid input and configuration lookups.
func (s *Service) InitiateCall(ctx context.Context, req Request) (Result, error) {
	if req.BusinessID == "" {
		return Result{}, fmt.Errorf("%w: business id is required", apperrors.ErrValidation)
	}
	if req.Contact.Phone == "" {
		return Result{}, fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	}
	s.expireStale(ctx)

	cfg, err := s.config.OutboundConfig(ctx, req.BusinessID)
	if err != nil {
		return Result{}, fmt.Errorf("call service: load outbound config: %w", err)
	}

	if cause := s.checkGates(ctx, req, cfg); cause != nil {
		s.logger.Info("outbound call blocked",
			zap.String("business_id", req.BusinessID),
			zap.String("phone", req.Contact.Phone),
			zap.Error(cause))
		return blocked(cause), nil
	}

	limit := cfg.RateLimit.MaxConcurrentCalls
	if limit > 0 {
		ok, err := s.concurrency.Acquire(ctx, req.BusinessID, limit)
		if err != nil {
			return blocked(fmt.Errorf("%w: concurrency check: %v", apperrors.ErrUnavailable, err)), nil
		}
		if !ok {
			return blocked(fmt.Errorf("%w: concurrent call limit reached (%d)", apperrors.ErrRateLimited, limit)), nil
		}
	}

	session := domain.CallSession{
		ID:         uuid.New(),
		BusinessID: req.BusinessID,
		CampaignID: req.CampaignID,
		Phone:      req.Contact.Phone,
		Status:     domain.SessionStatusDialing,
		StartedAt:  s.now().UTC(),
	}
	if req.Contact.ID != uuid.Nil {
		id := req.Contact.ID
		session.ContactID = &id
	}
	maxDuration := req.Script.MaxDuration
	if maxDuration <= 0 {
		maxDuration = cfg.Scripting.MaxDuration
	}
	s.register(session, limit > 0, s.ttlFor(maxDuration))

	content := req.Script.Personalize(req.Contact)
	placement := telephony.CallRequest{
		To:               req.Contact.Phone,
		TimeoutSeconds:   int(ringTimeout / time.Second),
		MachineDetection: true,
		Metadata: map[string]string{
			"session_id":  session.ID.String(),
			"business_id": req.BusinessID,
		},
	}
	if req.CampaignID != nil {
		placement.Metadata["campaign_id"] = req.CampaignID.String()
	}

	var placed telephony.CallResult
	if req.Provider != "" {
		placed, err = s.router.PlaceCallWith(ctx, req.Provider, placement)
	} else {
		placed, err = s.router.PlaceCall(ctx, placement)
	}
	s.logAttempt(ctx, session, placed, err)

	if err != nil {
		failed, _ := s.transition(session.ID, func(cs *domain.CallSession) {
			cs.Status = domain.SessionStatusFailed
			cs.Result = "Failed to connect"
		})
		s.emitter.Emit(ctx, req.BusinessID, events.CallFailed, map[string]any{
			"session_id":       session.ID,
			"recipient_number": req.Contact.Phone,
			"campaign_id":      req.CampaignID,
			"error":            err.Error(),
		})
		return Result{Success: false, Message: err.Error(), Session: &failed, Cause: err}, nil
	}

	if err := s.window.Increment(ctx, req.BusinessID); err != nil {
		s.logger.Warn("rate limit increment failed", zap.String("business_id", req.BusinessID), zap.Error(err))
	}

	current := s.bind(session.ID, placed)

	if s.agent != nil {
		voice := firstNonEmpty(req.Script.VoiceModelID, cfg.Scripting.VoiceModelID)
		res, err := s.agent.InitiateOutboundCall(ctx, req.Contact.Phone, voiceagent.OutboundScript{
			VoiceModelID: voice,
			Content:      content,
			MaxDuration:  maxDuration,
		})
		if err != nil || !res.Success {
			s.logger.Warn("voice agent did not take the call", zap.String("session_id", session.ID.String()), zap.Error(err))
		} else {
			current, _ = s.transition(session.ID, func(cs *domain.CallSession) { cs.AgentCallID = res.CallID })
		}
	}

	s.emitter.Emit(ctx, req.BusinessID, events.CallStarted, map[string]any{
		"session_id":       session.ID,
		"recipient_number": req.Contact.Phone,
		"recipient_name":   req.Contact.Name,
		"campaign_id":      req.CampaignID,
		"provider":         placed.Provider,
	})

	return Result{Success: true, Message: "call placed", Session: &current}, nil
}

// checkGates applies rate limit, do-not-call, recipient-local hours and
// the minimum spacing between attempts, in that order.
func (s *Service) checkGates(ctx context.Context, req Request, cfg domain.OutboundConfig) error {
	if limit := cfg.RateLimit.CallsPerMinute; limit > 0 {
		ok, err := s.window.Allow(ctx, req.BusinessID, limit)
		if err != nil {
			return fmt.Errorf("%w: rate limit check: %v", apperrors.ErrUnavailable, err)
		}
		if !ok {
			return fmt.Errorf("%w: rate limit exceeded (%d calls per minute)", apperrors.ErrRateLimited, limit)
		}
	}

	policy := cfg.Compliance
	if policy.HonorDoNotCall {
		listed, err := s.dnc.IsBlocked(ctx, req.BusinessID, req.Contact.Phone)
		if err != nil {
			return fmt.Errorf("%w: do-not-call lookup: %v", apperrors.ErrUnavailable, err)
		}
		if listed {
			return fmt.Errorf("%w: number is on the do-not-call list", apperrors.ErrComplianceBlocked)
		}
	}

	now := s.now()
	if policy.RespectTimeZones {
		tz := firstNonEmpty(req.Contact.CustomFields["timezone"], policy.DefaultTimezone)
		local := now.In(domain.LoadLocation(tz))
		if !policy.WithinCallingHours(local) {
			return fmt.Errorf("%w: outside allowed calling hours for recipient time zone (%02d:00-%02d:00 %s)",
				apperrors.ErrComplianceBlocked, policy.AllowedStartHour, policy.AllowedEndHour, tz)
		}
	}

	if days := policy.MinDaysBetweenAttempts; days > 0 {
		last, err := s.callLog.LastAttempt(ctx, req.BusinessID, req.Contact.Phone)
		if err != nil {
			return fmt.Errorf("%w: attempt history lookup: %v", apperrors.ErrUnavailable, err)
		}
		if last != nil && now.Sub(*last) < time.Duration(days)*24*time.Hour {
			return fmt.Errorf("%w: number was dialed within the last %d day(s)", apperrors.ErrComplianceBlocked, days)
		}
	}
	return nil
}

func (s *Service) logAttempt(ctx context.Context, session domain.CallSession, placed telephony.CallResult, err error) {
	attempt := domain.OutboundAttempt{
		SessionID:   session.ID,
		BusinessID:  session.BusinessID,
		CampaignID:  session.CampaignID,
		Phone:       session.Phone,
		Provider:    string(placed.Provider),
		CallID:      placed.CallID,
		Success:     err == nil,
		AttemptedAt: s.now().UTC(),
	}
	if err != nil {
		attempt.Error = err.Error()
	}
	if logErr := s.callLog.AppendAttempt(ctx, attempt); logErr != nil {
		s.logger.Warn("append outbound attempt failed", zap.String("session_id", session.ID.String()), zap.Error(logErr))
	}
}

// CheckDNC reports whether phone is on the business's do-not-call list.
func (s *Service) CheckDNC(ctx context.Context, businessID, phone string) (bool, error) {
	if phone == "" {
		return false, fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	}
	return s.dnc.IsBlocked(ctx, businessID, phone)
}

func (s *Service) AddToDNC(ctx context.Context, businessID, phone, reason string) error {
	if phone == "" {
		return fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	}
	if err := s.dnc.Add(ctx, businessID, phone, reason); err != nil {
		return fmt.Errorf("call service: add to dnc: %w", err)
	}
	s.logger.Info("number added to do-not-call list", zap.String("business_id", businessID), zap.String("phone", phone))
	return nil
}

func (s *Service) RemoveFromDNC(ctx context.Context, businessID, phone string) error {
	if phone == "" {
		return fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	}
	if err := s.dnc.Remove(ctx, businessID, phone); err != nil {
		return fmt.Errorf("call service: remove from dnc: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
