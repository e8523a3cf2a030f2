package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/call-dispatch-engine/internal/domain"
)

// CallLog persists inbound routing decisions and outbound placements in Scylla.
// Each table is partitioned for the read it serves and clustered newest first.
type CallLog struct {
	session *gocql.Session
}

// NewCallLog creates a new call log.
func NewCallLog(session *gocql.Session) *CallLog {
	return &CallLog{session: session}
}

// AppendInbound writes the entry to the business timeline and the caller index.
func (s *CallLog) AppendInbound(ctx context.Context, entry domain.InboundCallLog) error {
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO inbound_calls_by_business (business_id, received_at, call_id, from_number, to_number, caller_name, action, rule_id, success, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.BusinessID, entry.ReceivedAt, entry.CallID, entry.From, entry.To, entry.CallerName, string(entry.Action), entry.RuleID, entry.Success, entry.Message,
	)
	batch.Query(`INSERT INTO inbound_calls_by_caller (business_id, from_number, received_at, call_id)
		VALUES (?, ?, ?, ?)`,
		entry.BusinessID, entry.From, entry.ReceivedAt, entry.CallID,
	)
	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("call log: append inbound: %w", err)
	}
	return nil
}

// AppendAttempt records one outbound placement under its destination number.
func (s *CallLog) AppendAttempt(ctx context.Context, attempt domain.OutboundAttempt) error {
	var campaignID *string
	if attempt.CampaignID != nil {
		id := attempt.CampaignID.String()
		campaignID = &id
	}
	if err := s.session.Query(`INSERT INTO outbound_attempts_by_number (business_id, phone, attempted_at, session_id, campaign_id, provider, call_id, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.BusinessID, attempt.Phone, attempt.AttemptedAt, attempt.SessionID.String(), campaignID,
		attempt.Provider, attempt.CallID, attempt.Success, attempt.Error,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call log: append attempt: %w", err)
	}
	return nil
}

// LastAttempt reads the head of the number's partition.
func (s *CallLog) LastAttempt(ctx context.Context, businessID, phone string) (*time.Time, error) {
	var attemptedAt time.Time
	err := s.session.Query(`SELECT attempted_at FROM outbound_attempts_by_number WHERE business_id = ? AND phone = ? LIMIT 1`,
		businessID, phone,
	).WithContext(ctx).Scan(&attemptedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("call log: last attempt: %w", err)
	}
	return &attemptedAt, nil
}

// CountInboundFrom counts prior calls from a caller to the business.
func (s *CallLog) CountInboundFrom(ctx context.Context, businessID, phone string) (int, error) {
	var count int64
	if err := s.session.Query(`SELECT COUNT(*) FROM inbound_calls_by_caller WHERE business_id = ? AND from_number = ?`,
		businessID, phone,
	).WithContext(ctx).Scan(&count); err != nil {
		return 0, fmt.Errorf("call log: count inbound: %w", err)
	}
	return int(count), nil
}

// ListInbound lists a business's inbound calls newest first with pagination.
func (s *CallLog) ListInbound(ctx context.Context, businessID string, limit int, pagingState []byte) ([]domain.InboundCallLog, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT received_at, call_id, from_number, to_number, caller_name, action, rule_id, success, message
		FROM inbound_calls_by_business WHERE business_id = ?`, businessID).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	entries := make([]domain.InboundCallLog, 0, limit)

	var (
		receivedAt time.Time
		callID     string
		from       string
		to         string
		callerName string
		action     string
		ruleID     string
		success    bool
		message    string
	)

	for iter.Scan(&receivedAt, &callID, &from, &to, &callerName, &action, &ruleID, &success, &message) {
		entries = append(entries, domain.InboundCallLog{
			CallID:     callID,
			BusinessID: businessID,
			From:       from,
			To:         to,
			CallerName: callerName,
			Action:     domain.ActionType(action),
			RuleID:     ruleID,
			Success:    success,
			Message:    message,
			ReceivedAt: receivedAt,
		})
	}

	nextState := iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("call log: iter close: %w", err)
	}

	return entries, nextState, nil
}
