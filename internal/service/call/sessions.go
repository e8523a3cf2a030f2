package call

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/call-dispatch-engine/internal/domain"
	"github.com/acme/call-dispatch-engine/internal/events"
	"github.com/acme/call-dispatch-engine/internal/telephony"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

// ResultNoAnswer classifies a call that ended without being answered.
const ResultNoAnswer = "no-answer"

type sessionEntry struct {
	session   domain.CallSession
	done      chan struct{}
	holdsSlot bool
	deadline  time.Time
}

// orphanEvent is a carrier event that arrived before the placement
// response bound its call id to a session.
type orphanEvent struct {
	event telephony.WebhookEvent
	at    time.Time
}

// register tracks a new session and arms its lifetime ceiling. A session
// the carrier never reports on is failed at the deadline so its slot is
// returned.
func (s *Service) register(session domain.CallSession, holdsSlot bool, ttl time.Duration) {
	s.mu.Lock()
	s.sessions[session.ID] = &sessionEntry{
		session:   session,
		done:      make(chan struct{}),
		holdsSlot: holdsSlot,
		deadline:  session.StartedAt.Add(ttl),
	}
	s.mu.Unlock()

	s.afterFunc(ttl, func() { s.expire(context.Background(), session.ID) })
}

// ttlFor bounds a session by the ring timeout, the script's maximum talk
// time and the completion wait. Without a script duration the configured
// session TTL applies.
func (s *Service) ttlFor(maxDurationSeconds int) time.Duration {
	if maxDurationSeconds <= 0 {
		return s.sessionTTL
	}
	return ringTimeout + time.Duration(maxDurationSeconds)*time.Second + s.completionTimeout
}

// expire fails a session that outlived its deadline.
func (s *Service) expire(ctx context.Context, id uuid.UUID) {
	snap, ok := s.transition(id, func(cs *domain.CallSession) {
		cs.Status = domain.SessionStatusFailed
		cs.Result = "completion timeout"
	})
	if !ok {
		return
	}
	s.logger.Warn("call session expired without a final carrier status",
		zap.String("session_id", snap.ID.String()),
		zap.String("business_id", snap.BusinessID),
		zap.String("external_call_id", snap.ExternalCallID))
	s.emitter.Emit(ctx, snap.BusinessID, events.CallFailed, map[string]any{
		"session_id": snap.ID,
		"error":      snap.Result,
	})
}

// expireStale fails every open session past its deadline. It runs on the
// dial path so a lost timer cannot pin a concurrency slot.
func (s *Service) expireStale(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var stale []uuid.UUID
	for id, entry := range s.sessions {
		if !entry.session.Status.Terminal() && now.After(entry.deadline) {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		s.expire(ctx, id)
	}
}

// bind records the carrier call id on the session and replays any events
// that raced ahead of it.
func (s *Service) bind(id uuid.UUID, placed telephony.CallResult) domain.CallSession {
	current, _ := s.transition(id, func(cs *domain.CallSession) {
		cs.Provider = string(placed.Provider)
		cs.ExternalCallID = placed.CallID
		if cs.Status == domain.SessionStatusDialing {
			cs.Status = domain.SessionStatusRinging
		}
	})

	s.mu.Lock()
	if placed.CallID != "" {
		s.byExternal[placed.CallID] = id
	}
	pending := s.orphans[placed.CallID]
	delete(s.orphans, placed.CallID)
	s.mu.Unlock()

	for _, o := range pending {
		s.apply(context.Background(), id, o.event)
	}
	if len(pending) > 0 {
		if snap, err := s.GetSession(id); err == nil {
			current = snap
		}
	}
	return current
}

// transition mutates a live session. Terminal sessions are never changed.
// The bool reports whether fn was applied.
func (s *Service) transition(id uuid.UUID, fn func(*domain.CallSession)) (domain.CallSession, bool) {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return domain.CallSession{}, false
	}
	if entry.session.Status.Terminal() {
		snap := entry.session
		s.mu.Unlock()
		return snap, false
	}
	fn(&entry.session)
	terminal := entry.session.Status.Terminal()
	releaseSlot := false
	if terminal {
		if entry.session.EndedAt == nil {
			ended := s.now().UTC()
			entry.session.EndedAt = &ended
		}
		close(entry.done)
		releaseSlot = entry.holdsSlot
		entry.holdsSlot = false
	}
	snap := entry.session
	s.mu.Unlock()

	if terminal {
		s.onTerminal(snap, releaseSlot)
	}
	return snap, true
}

func (s *Service) onTerminal(session domain.CallSession, releaseSlot bool) {
	if releaseSlot {
		if err := s.concurrency.Release(context.Background(), session.BusinessID); err != nil {
			s.logger.Warn("release concurrency slot failed", zap.String("business_id", session.BusinessID), zap.Error(err))
		}
	}
	s.afterFunc(s.reapAfter, func() { s.reap(session.ID) })
}

func (s *Service) reap(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok {
		return
	}
	if ext := entry.session.ExternalCallID; ext != "" && s.byExternal[ext] == id {
		delete(s.byExternal, ext)
	}
	delete(s.sessions, id)
}

// GetSession returns a copy of a live or recently finished session.
func (s *Service) GetSession(id uuid.UUID) (domain.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok {
		return domain.CallSession{}, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	return entry.session, nil
}

// Sessions lists the business's sessions, oldest first.
func (s *Service) Sessions(businessID string) []domain.CallSession {
	s.mu.Lock()
	out := make([]domain.CallSession, 0)
	for _, entry := range s.sessions {
		if entry.session.BusinessID == businessID {
			out = append(out, entry.session)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// HandleProviderEvent applies a normalized carrier event to the session
// that owns its call id. It reports whether a session matched. Events for
// unknown call ids are held briefly in case the placement response has not
// been processed yet.
func (s *Service) HandleProviderEvent(ctx context.Context, event telephony.WebhookEvent) bool {
	return s.handle(ctx, event, true)
}

// MatchProviderEvent is HandleProviderEvent without holding unmatched
// events. Callers use it when the event may belong to an inbound call.
func (s *Service) MatchProviderEvent(ctx context.Context, event telephony.WebhookEvent) bool {
	return s.handle(ctx, event, false)
}

func (s *Service) handle(ctx context.Context, event telephony.WebhookEvent, stash bool) bool {
	if event.CallID == "" && event.RequestID == "" {
		return false
	}
	s.mu.Lock()
	id, ok := s.byExternal[event.CallID]
	if !ok && event.RequestID != "" {
		id, ok = s.byExternal[event.RequestID]
	}
	if !ok {
		if stash {
			s.stashLocked(event)
		}
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	s.apply(ctx, id, event)
	return true
}

// PendingEvents counts carrier events held for call ids not yet bound.
func (s *Service) PendingEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, pending := range s.orphans {
		n += len(pending)
	}
	return n
}

func (s *Service) stashLocked(event telephony.WebhookEvent) {
	now := s.now()
	for key, pending := range s.orphans {
		if len(pending) > 0 && now.Sub(pending[0].at) > s.reapAfter {
			delete(s.orphans, key)
		}
	}
	for _, key := range []string{event.CallID, event.RequestID} {
		if key != "" {
			s.orphans[key] = append(s.orphans[key], orphanEvent{event: event, at: now})
		}
	}
}

func (s *Service) apply(ctx context.Context, id uuid.UUID, event telephony.WebhookEvent) {
	switch event.Type {
	case telephony.EventCallRinging:
		s.transition(id, func(cs *domain.CallSession) {
			if cs.Status == domain.SessionStatusDialing {
				cs.Status = domain.SessionStatusRinging
			}
		})

	case telephony.EventCallAnswered:
		snap, ok := s.transition(id, func(cs *domain.CallSession) {
			cs.Status = domain.SessionStatusInProgress
			cs.Machine = cs.Machine || event.Machine
		})
		if ok {
			s.emitter.Emit(ctx, snap.BusinessID, events.CallAnswered, map[string]any{
				"session_id": snap.ID,
				"machine":    snap.Machine,
			})
		}

	case telephony.EventCallCompleted:
		snap, ok := s.transition(id, func(cs *domain.CallSession) {
			answered := cs.Status == domain.SessionStatusInProgress
			cs.Machine = cs.Machine || event.Machine
			if event.Duration > 0 {
				cs.Duration = event.Duration
			}
			cs.Status = domain.SessionStatusCompleted
			switch {
			case cs.Machine:
				cs.Result = domain.ResultVoicemail
			case answered || cs.Duration > 0:
				cs.Result = domain.ResultAnswered
			default:
				cs.Result = ResultNoAnswer
			}
		})
		if ok {
			s.emitter.Emit(ctx, snap.BusinessID, events.CallEnded, map[string]any{
				"session_id": snap.ID,
				"result":     snap.Result,
				"duration":   snap.Duration,
			})
		}

	case telephony.EventCallFailed:
		snap, ok := s.transition(id, func(cs *domain.CallSession) {
			cs.Status = domain.SessionStatusFailed
			cs.Result = firstNonEmpty(event.CarrierStatus, "failed")
		})
		if ok {
			s.emitter.Emit(ctx, snap.BusinessID, events.CallFailed, map[string]any{
				"session_id": snap.ID,
				"error":      snap.Result,
			})
		}
	}
}

// WaitForCompletion blocks until the session reaches a terminal state.
// Webhook updates wake it immediately; a poll re-reads the session in case
// an update raced the wait. After the completion ceiling the session is
// failed with a timeout so the caller always makes progress.
func (s *Service) WaitForCompletion(ctx context.Context, id uuid.UUID) (domain.CallSession, error) {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	var done chan struct{}
	if ok {
		done = entry.done
	}
	s.mu.Unlock()
	if !ok {
		return domain.CallSession{}, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}

	deadline := time.NewTimer(s.completionTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-done:
			return s.GetSession(id)
		case <-poll.C:
			session, err := s.GetSession(id)
			if err != nil || session.Status.Terminal() {
				return session, err
			}
		case <-deadline.C:
			s.transition(id, func(cs *domain.CallSession) {
				cs.Status = domain.SessionStatusFailed
				cs.Result = "completion timeout"
			})
			return s.GetSession(id)
		case <-ctx.Done():
			session, _ := s.GetSession(id)
			return session, ctx.Err()
		}
	}
}
