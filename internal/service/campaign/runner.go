package campaign

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/domain"
	"github.com/acme/call-dispatch-engine/internal/events"
	"github.com/acme/call-dispatch-engine/internal/service/call"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

// runner serialises everything that touches one campaign. mu guards the
// read-modify-write of the stored campaign as well as the pending timer, and
// is released while a call is being dialed. At most one tick is in flight.
type runner struct {
	id uuid.UUID

	mu       sync.Mutex
	timer    Timer
	gen      uint64
	inFlight bool
}

func (s *Service) runner(id uuid.UUID) *runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[id]
	if !ok {
		r = &runner{id: id}
		s.runners[id] = r
	}
	return r
}

// armLocked schedules the next tick. While a tick is in flight it does
// nothing: the in-flight tick re-arms itself if the campaign is still running.
func (s *Service) armLocked(r *runner, delay time.Duration) {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.inFlight {
		return
	}
	gen := r.gen
	r.timer = s.afterFunc(delay, func() { s.fire(r, gen) })
}

// disarmLocked cancels the pending timer. A timer that already fired but has
// not yet taken the lock sees the bumped generation and exits.
func (s *Service) disarmLocked(r *runner) {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
}

// dispatch is one contact picked by a tick.
type dispatch struct {
	businessID string
	campaignID uuid.UUID
	contact    domain.Contact
	script     domain.Script
}

// outcome is how a dispatched contact ended.
type outcome struct {
	status   domain.ContactStatus
	result   string
	duration int
}

func (s *Service) fire(r *runner, gen uint64) {
	ctx, span := s.tracer.Start(context.Background(), "campaign.tick")
	defer span.End()
	span.SetAttributes(attribute.String("campaign.id", r.id.String()))

	r.mu.Lock()
	if gen != r.gen || r.inFlight {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.inFlight = true

	next, ok := s.prepare(ctx, r)
	if !ok {
		r.inFlight = false
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	out := s.dial(ctx, next)
	if out.status == domain.ContactStatusFailed {
		span.SetStatus(codes.Error, out.result)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight = false
	s.record(ctx, r, next, out)
}

// prepare runs with r.mu held. It returns the contact to dial, or false when
// this tick has nothing to dial. Any rescheduling is done before returning.
func (s *Service) prepare(ctx context.Context, r *runner) (dispatch, bool) {
	logger := s.logger.With(zap.String("campaign_id", r.id.String()))

	campaign, err := s.store.Get(ctx, r.id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return dispatch{}, false
		}
		logger.Error("load campaign", zap.Error(err))
		r.inFlight = false
		s.armLocked(r, domain.RateLimit{}.Spacing())
		return dispatch{}, false
	}
	if campaign.Status != domain.CampaignStatusRunning {
		return dispatch{}, false
	}

	cfg, err := s.config.OutboundConfig(ctx, campaign.BusinessID)
	if err != nil {
		logger.Error("load outbound config", zap.Error(err))
		r.inFlight = false
		s.armLocked(r, campaign.RateLimit.Spacing())
		return dispatch{}, false
	}

	idx := campaign.NextEligible(cfg.Compliance.MaxAttemptsPerNumber)
	if idx < 0 {
		s.complete(ctx, campaign)
		return dispatch{}, false
	}

	now := s.now().UTC()
	if !campaign.Schedule.Allows(now) {
		at := campaign.Schedule.NextAllowed(now)
		logger.Info("outside calling schedule", zap.Time("next_allowed", at))
		r.inFlight = false
		s.armLocked(r, at.Sub(now))
		return dispatch{}, false
	}

	contact := campaign.Contacts[idx]
	contact.Status = domain.ContactStatusCalled
	contact.Attempts++
	contact.LastAttempt = &now
	if err := s.store.SaveContact(ctx, campaign.ID, contact); err != nil {
		logger.Error("mark contact called", zap.String("contact_id", contact.ID.String()), zap.Error(err))
		r.inFlight = false
		s.armLocked(r, campaign.RateLimit.Spacing())
		return dispatch{}, false
	}

	return dispatch{
		businessID: campaign.BusinessID,
		campaignID: campaign.ID,
		contact:    contact,
		script:     campaign.Script,
	}, true
}

// dial places the call and waits for it. No lock is held.
func (s *Service) dial(ctx context.Context, d dispatch) outcome {
	res, err := s.dialer.InitiateCall(ctx, call.Request{
		BusinessID: d.businessID,
		Contact:    d.contact,
		Script:     d.script,
		CampaignID: &d.campaignID,
	})
	if err != nil {
		return outcome{status: domain.ContactStatusFailed, result: err.Error()}
	}
	if !res.Success || res.Session == nil {
		return outcome{status: domain.ContactStatusFailed, result: res.Message}
	}

	session, err := s.dialer.WaitForCompletion(ctx, res.Session.ID)
	if err != nil {
		return outcome{status: domain.ContactStatusFailed, result: err.Error(), duration: session.Duration}
	}
	return classify(session)
}

func classify(session domain.CallSession) outcome {
	if session.Status == domain.SessionStatusCompleted {
		switch session.Result {
		case domain.ResultAnswered, domain.ResultVoicemail:
			return outcome{status: domain.ContactStatusCompleted, result: session.Result, duration: session.Duration}
		}
	}
	result := session.Result
	if result == "" {
		result = string(domain.SessionStatusFailed)
	}
	return outcome{status: domain.ContactStatusFailed, result: result, duration: session.Duration}
}

// record runs with r.mu held. It applies the outcome, broadcasts progress and
// arms the next tick while the campaign is still running.
func (s *Service) record(ctx context.Context, r *runner, d dispatch, out outcome) {
	logger := s.logger.With(zap.String("campaign_id", r.id.String()), zap.String("contact_id", d.contact.ID.String()))

	campaign, err := s.store.Get(ctx, r.id)
	if err != nil {
		logger.Error("reload campaign", zap.Error(err))
		return
	}
	idx := campaign.ContactIndex(d.contact.ID)
	if idx < 0 {
		logger.Warn("dispatched contact vanished")
		return
	}

	campaign.RecordOutcome(idx, out.status, out.result, out.duration)
	campaign.UpdatedAt = s.now().UTC()
	if err := s.store.SaveContact(ctx, campaign.ID, campaign.Contacts[idx]); err != nil {
		logger.Error("save contact outcome", zap.Error(err))
	}
	if err := s.store.Update(ctx, campaign); err != nil {
		logger.Error("save campaign counters", zap.Error(err))
	}

	logger.Info("contact dispatched",
		zap.String("status", string(campaign.Contacts[idx].Status)),
		zap.String("result", out.result),
		zap.Int("progress", campaign.Progress),
	)
	s.emitter.Emit(ctx, campaign.BusinessID, events.CampaignUpdate, map[string]any{
		"campaign_id":     campaign.ID,
		"status":          campaign.Status,
		"completed_calls": campaign.CompletedCalls,
		"answered_calls":  campaign.AnsweredCalls,
		"voicemail_calls": campaign.VoicemailCalls,
		"failed_calls":    campaign.FailedCalls,
		"progress":        campaign.Progress,
	})

	if campaign.Status != domain.CampaignStatusRunning {
		return
	}

	cfg, err := s.config.OutboundConfig(ctx, campaign.BusinessID)
	if err == nil && campaign.NextEligible(cfg.Compliance.MaxAttemptsPerNumber) < 0 {
		s.complete(ctx, campaign)
		return
	}
	s.armLocked(r, campaign.RateLimit.Spacing())
}

func (s *Service) complete(ctx context.Context, campaign *domain.Campaign) {
	now := s.now().UTC()
	campaign.Status = domain.CampaignStatusCompleted
	campaign.Progress = 100
	campaign.CompletedAt = &now
	campaign.EstimatedCompletion = nil
	campaign.UpdatedAt = now
	if err := s.store.Update(ctx, campaign); err != nil {
		s.logger.Error("complete campaign", zap.String("campaign_id", campaign.ID.String()), zap.Error(err))
		return
	}

	s.logger.Info("campaign completed",
		zap.String("campaign_id", campaign.ID.String()),
		zap.Int("completed_calls", campaign.CompletedCalls),
		zap.Int("answered_calls", campaign.AnsweredCalls),
	)
	s.emitter.Emit(ctx, campaign.BusinessID, events.CampaignCompleted, map[string]any{
		"campaign_id":     campaign.ID,
		"total_calls":     campaign.CompletedCalls,
		"answered_calls":  campaign.AnsweredCalls,
		"voicemail_calls": campaign.VoicemailCalls,
		"failed_calls":    campaign.FailedCalls,
	})
}
