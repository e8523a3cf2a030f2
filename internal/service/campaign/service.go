// Package campaign owns outbound campaigns: their lifecycle and the per-campaign
// dispatch loop that dials one contact at a time at the configured pace.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/domain"
	"github.com/acme/call-dispatch-engine/internal/events"
	"github.com/acme/call-dispatch-engine/internal/repository"
	"github.com/acme/call-dispatch-engine/internal/service/call"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

// Dialer places one compliance-gated call and waits for it to finish.
// *call.Service satisfies it.
type Dialer interface {
	InitiateCall(ctx context.Context, req call.Request) (call.Result, error)
	WaitForCompletion(ctx context.Context, id uuid.UUID) (domain.CallSession, error)
}

// Timer is a pending one-shot callback.
type Timer interface {
	Stop() bool
}

// AfterFunc arms fn to run once after d.
type AfterFunc func(d time.Duration, fn func()) Timer

// Dependencies wires the scheduler to its collaborators.
type Dependencies struct {
	Store   repository.CampaignStore
	Config  repository.BusinessConfigStore
	Dialer  Dialer
	Emitter events.Emitter
	Logger  *zap.Logger
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAfterFunc overrides the timer factory used by the dispatch loop.
func WithAfterFunc(fn AfterFunc) Option {
	return func(s *Service) { s.afterFunc = fn }
}

// WithDefaultCallsPerMinute sets the pace for campaigns created without one.
func WithDefaultCallsPerMinute(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.defaultPace = n
		}
	}
}

// Service orchestrates campaign lifecycle operations and dispatch.
type Service struct {
	store   repository.CampaignStore
	config  repository.BusinessConfigStore
	dialer  Dialer
	emitter events.Emitter
	logger  *zap.Logger
	tracer  trace.Tracer

	now         func() time.Time
	afterFunc   AfterFunc
	defaultPace int

	mu      sync.Mutex
	runners map[uuid.UUID]*runner
}

// NewService constructs a campaign scheduler.
func NewService(deps Dependencies, opts ...Option) *Service {
	s := &Service{
		store:     deps.Store,
		config:    deps.Config,
		dialer:    deps.Dialer,
		emitter:   deps.Emitter,
		logger:    deps.Logger,
		tracer:    otel.Tracer("dispatch.campaign"),
		now:       time.Now,
		afterFunc: func(d time.Duration, fn func()) Timer { return time.AfterFunc(d, fn) },
		runners:   make(map[uuid.UUID]*runner),

		defaultPace: domain.DefaultCallsPerMinute,
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

// CreateCampaignInput captures campaign creation parameters.
type CreateCampaignInput struct {
	BusinessID string
	Name       string
	Contacts   []ContactInput
	Script     domain.Script
	Schedule   *domain.CallSchedule
	RateLimit  domain.RateLimit
}

// ContactInput expresses one number to dial.
type ContactInput struct {
	Phone        string
	Name         string
	CustomFields map[string]string
}

// ScheduleBulkCalls creates a campaign. It is scheduled when a schedule is
// given and draft otherwise. A schedule start date in the future arms a start
// timer, one in the past starts the campaign right away.
func (s *Service) ScheduleBulkCalls(ctx context.Context, input CreateCampaignInput) (*domain.Campaign, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	campaign := &domain.Campaign{
		ID:         uuid.New(),
		BusinessID: input.BusinessID,
		Name:       input.Name,
		Status:     domain.CampaignStatusDraft,
		Contacts:   toContacts(input.Contacts),
		Script:     input.Script,
		Schedule:   input.Schedule,
		RateLimit:  input.RateLimit,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if campaign.RateLimit.CallsPerMinute <= 0 {
		campaign.RateLimit.CallsPerMinute = s.defaultPace
	}
	if input.Schedule != nil {
		campaign.Status = domain.CampaignStatusScheduled
	}

	if err := s.store.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("campaign service: create campaign: %w", err)
	}

	s.emitter.Emit(ctx, campaign.BusinessID, events.CampaignUpdate, map[string]any{
		"campaign_id":    campaign.ID,
		"status":         campaign.Status,
		"total_contacts": campaign.TotalContacts(),
	})

	if input.Schedule != nil && input.Schedule.StartDate != nil {
		delay := input.Schedule.StartDate.Sub(now)
		if delay > 0 {
			s.armStart(campaign.ID, delay)
			return campaign, nil
		}
		if err := s.Start(ctx, campaign.ID); err != nil {
			return nil, err
		}
		return s.Get(ctx, campaign.ID)
	}
	return campaign, nil
}

// Get retrieves a campaign by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.store.Get(ctx, id)
}

// List returns the campaigns of a business.
func (s *Service) List(ctx context.Context, businessID string) ([]*domain.Campaign, error) {
	campaigns, err := s.store.ListByBusiness(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("campaign service: list campaigns: %w", err)
	}
	return campaigns, nil
}

// Results returns the reporting summary of a campaign.
func (s *Service) Results(ctx context.Context, id uuid.UUID) (domain.CampaignResults, error) {
	campaign, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.CampaignResults{}, err
	}
	return campaign.Results(s.now().UTC()), nil
}

// Start moves a draft or scheduled campaign to running and arms its first tick.
func (s *Service) Start(ctx context.Context, id uuid.UUID) error {
	r := s.runner(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch campaign.Status {
	case domain.CampaignStatusDraft, domain.CampaignStatusScheduled:
	case domain.CampaignStatusRunning:
		return fmt.Errorf("%w: campaign is already running", apperrors.ErrConflict)
	default:
		return fmt.Errorf("%w: campaign cannot start from %s", apperrors.ErrConflict, campaign.Status)
	}

	now := s.now().UTC()
	campaign.Status = domain.CampaignStatusRunning
	campaign.StartedAt = &now
	campaign.UpdatedAt = now
	if err := s.store.Update(ctx, campaign); err != nil {
		return fmt.Errorf("campaign service: start campaign: %w", err)
	}

	s.logger.Info("campaign started", zap.String("campaign_id", id.String()), zap.Int("contacts", campaign.TotalContacts()))
	s.emitStatus(ctx, campaign)
	s.armLocked(r, 0)
	return nil
}

// Pause stops dispatch. The pending tick is cancelled before Pause returns.
// Pausing a paused campaign is a no-op.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) error {
	r := s.runner(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch campaign.Status {
	case domain.CampaignStatusPaused:
		return nil
	case domain.CampaignStatusRunning:
	default:
		return fmt.Errorf("%w: campaign is %s", apperrors.ErrConflict, campaign.Status)
	}

	s.disarmLocked(r)
	campaign.Status = domain.CampaignStatusPaused
	campaign.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, campaign); err != nil {
		return fmt.Errorf("campaign service: pause campaign: %w", err)
	}
	s.emitStatus(ctx, campaign)
	return nil
}

// Resume re-enters the dispatch loop of a paused campaign.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) error {
	r := s.runner(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if campaign.Status != domain.CampaignStatusPaused {
		return fmt.Errorf("%w: campaign is not paused", apperrors.ErrConflict)
	}

	campaign.Status = domain.CampaignStatusRunning
	campaign.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, campaign); err != nil {
		return fmt.Errorf("campaign service: resume campaign: %w", err)
	}
	s.emitStatus(ctx, campaign)
	s.armLocked(r, 0)
	return nil
}

// Cancel stops a campaign for good. Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	r := s.runner(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch campaign.Status {
	case domain.CampaignStatusCancelled:
		return nil
	case domain.CampaignStatusCompleted:
		return fmt.Errorf("%w: campaign already completed", apperrors.ErrConflict)
	}

	s.disarmLocked(r)
	campaign.Status = domain.CampaignStatusCancelled
	campaign.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, campaign); err != nil {
		return fmt.Errorf("campaign service: cancel campaign: %w", err)
	}
	s.emitStatus(ctx, campaign)
	return nil
}

// ImportContacts appends pending contacts to a campaign that is not dialing.
func (s *Service) ImportContacts(ctx context.Context, id uuid.UUID, contacts []ContactInput) (*domain.Campaign, error) {
	if len(contacts) == 0 {
		return nil, fmt.Errorf("%w: no contacts to import", apperrors.ErrValidation)
	}
	if err := validateContacts(contacts); err != nil {
		return nil, err
	}

	r := s.runner(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch campaign.Status {
	case domain.CampaignStatusDraft, domain.CampaignStatusScheduled, domain.CampaignStatusPaused:
	default:
		return nil, fmt.Errorf("%w: cannot import contacts while %s", apperrors.ErrConflict, campaign.Status)
	}

	if err := s.store.AppendContacts(ctx, id, toContacts(contacts)); err != nil {
		return nil, fmt.Errorf("campaign service: import contacts: %w", err)
	}
	return s.store.Get(ctx, id)
}

// Recover re-arms campaigns left running or scheduled by a previous process.
func (s *Service) Recover(ctx context.Context) error {
	running, err := s.store.ListByStatus(ctx, domain.CampaignStatusRunning)
	if err != nil {
		return fmt.Errorf("campaign service: recover running: %w", err)
	}
	for _, c := range running {
		// A contact left in called state was interrupted mid-dial.
		for _, contact := range c.Contacts {
			if contact.Status != domain.ContactStatusCalled {
				continue
			}
			contact.Status = domain.ContactStatusPending
			if err := s.store.SaveContact(ctx, c.ID, contact); err != nil {
				return fmt.Errorf("campaign service: reset contact: %w", err)
			}
		}
		r := s.runner(c.ID)
		r.mu.Lock()
		s.armLocked(r, 0)
		r.mu.Unlock()
	}

	scheduled, err := s.store.ListByStatus(ctx, domain.CampaignStatusScheduled)
	if err != nil {
		return fmt.Errorf("campaign service: recover scheduled: %w", err)
	}
	now := s.now()
	for _, c := range scheduled {
		if c.Schedule == nil || c.Schedule.StartDate == nil {
			continue
		}
		delay := c.Schedule.StartDate.Sub(now)
		if delay < 0 {
			delay = 0
		}
		s.armStart(c.ID, delay)
	}

	s.logger.Info("campaigns recovered", zap.Int("running", len(running)), zap.Int("scheduled", len(scheduled)))
	return nil
}

// Stop cancels every pending timer. In-flight ticks finish on their own.
func (s *Service) Stop() {
	s.mu.Lock()
	runners := make([]*runner, 0, len(s.runners))
	for _, r := range s.runners {
		runners = append(runners, r)
	}
	s.mu.Unlock()

	for _, r := range runners {
		r.mu.Lock()
		s.disarmLocked(r)
		r.mu.Unlock()
	}
}

func (s *Service) armStart(id uuid.UUID, delay time.Duration) {
	r := s.runner(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	s.disarmLocked(r)
	gen := r.gen
	r.timer = s.afterFunc(delay, func() {
		r.mu.Lock()
		stale := gen != r.gen
		r.mu.Unlock()
		if stale {
			return
		}
		if err := s.Start(context.Background(), id); err != nil && !errors.Is(err, apperrors.ErrConflict) {
			s.logger.Error("scheduled start failed", zap.String("campaign_id", id.String()), zap.Error(err))
		}
	})
}

func (s *Service) emitStatus(ctx context.Context, campaign *domain.Campaign) {
	s.emitter.Emit(ctx, campaign.BusinessID, events.CampaignUpdate, map[string]any{
		"campaign_id": campaign.ID,
		"status":      campaign.Status,
		"progress":    campaign.Progress,
	})
}

func toContacts(inputs []ContactInput) []domain.Contact {
	contacts := make([]domain.Contact, 0, len(inputs))
	for _, in := range inputs {
		contacts = append(contacts, domain.Contact{
			ID:           uuid.New(),
			Phone:        strings.TrimSpace(in.Phone),
			Name:         in.Name,
			CustomFields: in.CustomFields,
			Status:       domain.ContactStatusPending,
		})
	}
	return contacts
}

func validateCreateInput(input CreateCampaignInput) error {
	if strings.TrimSpace(input.BusinessID) == "" {
		return fmt.Errorf("%w: business id is required", apperrors.ErrValidation)
	}
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: name is required", apperrors.ErrValidation)
	}
	if len(input.Contacts) == 0 {
		return fmt.Errorf("%w: at least one contact is required", apperrors.ErrValidation)
	}
	if strings.TrimSpace(input.Script.Template) == "" {
		return fmt.Errorf("%w: script template is required", apperrors.ErrValidation)
	}
	if input.RateLimit.CallsPerMinute < 0 {
		return fmt.Errorf("%w: calls per minute must be positive", apperrors.ErrValidation)
	}
	if input.Schedule != nil {
		if input.Schedule.Timezone != "" {
			if _, err := time.LoadLocation(input.Schedule.Timezone); err != nil {
				return fmt.Errorf("%w: invalid timezone: %v", apperrors.ErrValidation, err)
			}
		}
		if err := input.Schedule.AllowedHours.Validate(); err != nil {
			return fmt.Errorf("%w: allowed hours: %v", apperrors.ErrValidation, err)
		}
	}
	return validateContacts(input.Contacts)
}

func validateContacts(contacts []ContactInput) error {
	for i, c := range contacts {
		if strings.TrimSpace(c.Phone) == "" {
			return fmt.Errorf("%w: contact %d has no phone", apperrors.ErrValidation, i)
		}
	}
	return nil
}
