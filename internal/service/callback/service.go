// Package callback places one-shot calls at a caller-preferred time.
package callback

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/domain"
	"github.com/acme/call-dispatch-engine/internal/events"
	"github.com/acme/call-dispatch-engine/internal/repository"
	"github.com/acme/call-dispatch-engine/internal/service/call"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

// DefaultScript is read to the customer when a callback connects.
const DefaultScript = "Hello {name}, you asked us to call you back about {reason}."

// Dialer places one compliance-gated call. *call.Service satisfies it.
type Dialer interface {
	InitiateCall(ctx context.Context, req call.Request) (call.Result, error)
}

// Timer is a pending one-shot callback.
type Timer interface {
	Stop() bool
}

type Dependencies struct {
	Store   repository.CallbackStore
	Dialer  Dialer
	Emitter events.Emitter
	Logger  *zap.Logger
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAfterFunc overrides the timer factory.
func WithAfterFunc(fn func(time.Duration, func()) Timer) Option {
	return func(s *Service) { s.afterFunc = fn }
}

// WithScript sets the template read on callback calls.
func WithScript(template string) Option {
	return func(s *Service) {
		if strings.TrimSpace(template) != "" {
			s.script = template
		}
	}
}

// Service schedules and processes callback requests.
type Service struct {
	store   repository.CallbackStore
	dialer  Dialer
	emitter events.Emitter
	logger  *zap.Logger

	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer
	script    string

	// mu serialises status changes so a cancel never races a dispatch.
	mu     sync.Mutex
	timers map[uuid.UUID]Timer
}

// NewService constructs the callback scheduler.
func NewService(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		store:     deps.Store,
		dialer:    deps.Dialer,
		emitter:   deps.Emitter,
		logger:    deps.Logger,
		now:       time.Now,
		afterFunc: func(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) },
		script:    DefaultScript,
		timers:    make(map[uuid.UUID]Timer),
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

// ScheduleInput describes a callback request.
type ScheduleInput struct {
	BusinessID    string
	Phone         string
	Name          string
	Reason        string
	PreferredTime *time.Time
}

// ScheduleCallback records a callback. A preferred time in the future arms a
// timer; otherwise the call is placed before returning.
func (s *Service) ScheduleCallback(ctx context.Context, in ScheduleInput) (*domain.CallbackRequest, error) {
	if strings.TrimSpace(in.BusinessID) == "" {
		return nil, fmt.Errorf("%w: business id is required", apperrors.ErrValidation)
	}
	if strings.TrimSpace(in.Phone) == "" {
		return nil, fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	}

	now := s.now().UTC()
	req := &domain.CallbackRequest{
		ID:            uuid.New(),
		BusinessID:    in.BusinessID,
		Phone:         strings.TrimSpace(in.Phone),
		Name:          in.Name,
		Reason:        in.Reason,
		PreferredTime: in.PreferredTime,
		Status:        domain.CallbackStatusPending,
		RequestedAt:   now,
	}
	future := in.PreferredTime != nil && in.PreferredTime.After(now)
	if future {
		req.Status = domain.CallbackStatusScheduled
	}

	if err := s.store.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("callback service: create callback: %w", err)
	}
	s.emitUpdate(ctx, req)

	if future {
		s.arm(req.ID, in.PreferredTime.Sub(now))
		return req, nil
	}
	return s.ProcessCallback(ctx, req.ID)
}

// ProcessCallback places the call for a pending or scheduled callback and
// records the outcome.
func (s *Service) ProcessCallback(ctx context.Context, id uuid.UUID) (*domain.CallbackRequest, error) {
	req, err := s.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With(zap.String("callback_id", id.String()), zap.String("business_id", req.BusinessID))

	res, err := s.dialer.InitiateCall(ctx, call.Request{
		BusinessID: req.BusinessID,
		Contact: domain.Contact{
			Phone:        req.Phone,
			Name:         req.Name,
			CustomFields: map[string]string{"reason": req.Reason},
		},
		Script: domain.Script{Template: s.script},
	})

	processed := s.now().UTC()
	req.ProcessedAt = &processed
	switch {
	case err != nil:
		req.Status = domain.CallbackStatusFailed
		req.Result = err.Error()
	case !res.Success:
		req.Status = domain.CallbackStatusFailed
		req.Result = res.Message
	default:
		req.Status = domain.CallbackStatusCompleted
		req.Result = res.Message
	}

	if err := s.store.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("callback service: record outcome: %w", err)
	}
	logger.Info("callback processed", zap.String("status", string(req.Status)), zap.String("result", req.Result))
	s.emitUpdate(ctx, req)
	return req, nil
}

// claim moves a callback to in_progress unless it was cancelled or already
// handled.
func (s *Service) claim(ctx context.Context, id uuid.UUID) (*domain.CallbackRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.CallbackStatusPending && req.Status != domain.CallbackStatusScheduled {
		return nil, fmt.Errorf("%w: callback is %s", apperrors.ErrConflict, req.Status)
	}
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	req.Status = domain.CallbackStatusInProgress
	if err := s.store.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("callback service: claim callback: %w", err)
	}
	s.emitUpdate(ctx, req)
	return req, nil
}

// CancelCallback stops a callback that has not been dialed yet.
func (s *Service) CancelCallback(ctx context.Context, id uuid.UUID) (*domain.CallbackRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch req.Status {
	case domain.CallbackStatusCancelled:
		return req, nil
	case domain.CallbackStatusPending, domain.CallbackStatusScheduled:
	default:
		return nil, fmt.Errorf("%w: callback is %s", apperrors.ErrConflict, req.Status)
	}

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	req.Status = domain.CallbackStatusCancelled
	if err := s.store.Update(ctx, req); err != nil {
		return nil, fmt.Errorf("callback service: cancel callback: %w", err)
	}
	s.emitUpdate(ctx, req)
	return req, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.CallbackRequest, error) {
	return s.store.Get(ctx, id)
}

// Callbacks lists the callbacks of a business.
func (s *Service) Callbacks(ctx context.Context, businessID string) ([]*domain.CallbackRequest, error) {
	out, err := s.store.ListByBusiness(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("callback service: list callbacks: %w", err)
	}
	return out, nil
}

// Recover re-arms callbacks that were waiting when the process stopped.
// Overdue ones are dispatched straight away.
func (s *Service) Recover(ctx context.Context) error {
	now := s.now()
	armed := 0
	for _, status := range []domain.CallbackStatus{domain.CallbackStatusPending, domain.CallbackStatusScheduled} {
		reqs, err := s.store.ListByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("callback service: recover %s: %w", status, err)
		}
		for _, req := range reqs {
			var delay time.Duration
			if req.PreferredTime != nil && req.PreferredTime.After(now) {
				delay = req.PreferredTime.Sub(now)
			}
			s.arm(req.ID, delay)
			armed++
		}
	}
	s.logger.Info("callbacks recovered", zap.Int("armed", armed))
	return nil
}

// Stop cancels every pending timer.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// arm replaces the callback's timer. The timer is created without holding
// s.mu so an afterFunc that fires inline can still claim the callback.
func (s *Service) arm(id uuid.UUID, delay time.Duration) {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	var fired atomic.Bool
	t := s.afterFunc(delay, func() {
		fired.Store(true)
		if _, err := s.ProcessCallback(context.Background(), id); err != nil {
			s.logger.Warn("callback not processed", zap.String("callback_id", id.String()), zap.Error(err))
		}
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if fired.Load() {
		return
	}
	s.timers[id] = t
}

func (s *Service) emitUpdate(ctx context.Context, req *domain.CallbackRequest) {
	s.emitter.Emit(ctx, req.BusinessID, events.CallbackUpdate, map[string]any{
		"callback_id": req.ID,
		"phone":       req.Phone,
		"status":      req.Status,
		"result":      req.Result,
	})
}
