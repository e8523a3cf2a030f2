package memory

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/acme/call-dispatch-engine/internal/domain"
)

// CallLog keeps call history in memory, newest last.
type CallLog struct {
	mu       sync.RWMutex
	inbound  map[string][]domain.InboundCallLog
	attempts map[string][]domain.OutboundAttempt
}

func NewCallLog() *CallLog {
	return &CallLog{
		inbound:  make(map[string][]domain.InboundCallLog),
		attempts: make(map[string][]domain.OutboundAttempt),
	}
}

func attemptKey(businessID, phone string) string {
	return businessID + "|" + phone
}

func (l *CallLog) AppendInbound(_ context.Context, entry domain.InboundCallLog) error {
	l.mu.Lock()
	l.inbound[entry.BusinessID] = append(l.inbound[entry.BusinessID], entry)
	l.mu.Unlock()
	return nil
}

func (l *CallLog) AppendAttempt(_ context.Context, attempt domain.OutboundAttempt) error {
	key := attemptKey(attempt.BusinessID, attempt.Phone)
	l.mu.Lock()
	l.attempts[key] = append(l.attempts[key], attempt)
	l.mu.Unlock()
	return nil
}

func (l *CallLog) LastAttempt(_ context.Context, businessID, phone string) (*time.Time, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var last *time.Time
	for _, a := range l.attempts[attemptKey(businessID, phone)] {
		if last == nil || a.AttemptedAt.After(*last) {
			t := a.AttemptedAt
			last = &t
		}
	}
	return last, nil
}

func (l *CallLog) CountInboundFrom(_ context.Context, businessID, phone string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.inbound[businessID] {
		if e.From == phone {
			n++
		}
	}
	return n, nil
}

// ListInbound pages newest first. The paging state is the offset encoded as
// eight big-endian bytes.
func (l *CallLog) ListInbound(_ context.Context, businessID string, limit int, pagingState []byte) ([]domain.InboundCallLog, []byte, error) {
	if limit <= 0 {
		limit = 100
	}
	offset := 0
	if len(pagingState) == 8 {
		offset = int(binary.BigEndian.Uint64(pagingState))
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := l.inbound[businessID]

	out := make([]domain.InboundCallLog, 0, limit)
	for i := len(entries) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}

	next := offset + len(out)
	if next >= len(entries) {
		return out, nil, nil
	}
	state := make([]byte, 8)
	binary.BigEndian.PutUint64(state, uint64(next))
	return out, state, nil
}
