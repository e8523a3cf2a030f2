package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/acme/call-dispatch-engine/internal/domain"
	"github.com/acme/call-dispatch-engine/internal/repository"
)

type CallbackStore struct {
	mu        sync.RWMutex
	callbacks map[uuid.UUID]domain.CallbackRequest
}

func NewCallbackStore() *CallbackStore {
	return &CallbackStore{callbacks: make(map[uuid.UUID]domain.CallbackRequest)}
}

func (s *CallbackStore) Create(_ context.Context, req *domain.CallbackRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.callbacks[req.ID]; ok {
		return fmt.Errorf("%w: callback %s exists", repository.ErrConflict, req.ID)
	}
	s.callbacks[req.ID] = *req
	return nil
}

func (s *CallbackStore) Get(_ context.Context, id uuid.UUID) (*domain.CallbackRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.callbacks[id]
	if !ok {
		return nil, fmt.Errorf("%w: callback %s", repository.ErrNotFound, id)
	}
	return &req, nil
}

func (s *CallbackStore) Update(_ context.Context, req *domain.CallbackRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.callbacks[req.ID]; !ok {
		return fmt.Errorf("%w: callback %s", repository.ErrNotFound, req.ID)
	}
	s.callbacks[req.ID] = *req
	return nil
}

func (s *CallbackStore) ListByBusiness(_ context.Context, businessID string) ([]*domain.CallbackRequest, error) {
	return s.filter(func(r domain.CallbackRequest) bool { return r.BusinessID == businessID }), nil
}

func (s *CallbackStore) ListByStatus(_ context.Context, status domain.CallbackStatus) ([]*domain.CallbackRequest, error) {
	return s.filter(func(r domain.CallbackRequest) bool { return r.Status == status }), nil
}

func (s *CallbackStore) filter(keep func(domain.CallbackRequest) bool) []*domain.CallbackRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.CallbackRequest
	for _, r := range s.callbacks {
		if keep(r) {
			req := r
			out = append(out, &req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}
