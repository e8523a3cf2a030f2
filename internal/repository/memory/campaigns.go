// Package memory holds process-local implementations of the repository
// interfaces. They back the engine when no database is configured and in tests.
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

// CampaignStore keeps campaigns in a map. Reads return deep copies.
type CampaignStore struct {
	mu        sync.RWMutex
	campaigns map[uuid.UUID]*domain.Campaign
}

// NewCampaignStore constructs an empty store.
func NewCampaignStore() *CampaignStore {
	return &CampaignStore{campaigns: make(map[uuid.UUID]*domain.Campaign)}
}

func (s *CampaignStore) Create(_ context.Context, campaign *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[campaign.ID]; ok {
		return fmt.Errorf("%w: campaign %s exists", repository.ErrConflict, campaign.ID)
	}
	s.campaigns[campaign.ID] = campaign.Clone()
	return nil
}

func (s *CampaignStore) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("%w: campaign %s", repository.ErrNotFound, id)
	}
	return c.Clone(), nil
}

// Update replaces metadata and counters but keeps the stored contact list.
func (s *CampaignStore) Update(_ context.Context, campaign *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.campaigns[campaign.ID]
	if !ok {
		return fmt.Errorf("%w: campaign %s", repository.ErrNotFound, campaign.ID)
	}
	next := campaign.Clone()
	next.Contacts = current.Contacts
	s.campaigns[campaign.ID] = next
	return nil
}

func (s *CampaignStore) SaveContact(_ context.Context, campaignID uuid.UUID, contact domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return fmt.Errorf("%w: campaign %s", repository.ErrNotFound, campaignID)
	}
	idx := c.ContactIndex(contact.ID)
	if idx < 0 {
		return fmt.Errorf("%w: contact %s", repository.ErrNotFound, contact.ID)
	}
	holder := domain.Campaign{Contacts: []domain.Contact{contact}}
	c.Contacts[idx] = holder.Clone().Contacts[0]
	return nil
}

func (s *CampaignStore) AppendContacts(_ context.Context, campaignID uuid.UUID, contacts []domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return fmt.Errorf("%w: campaign %s", repository.ErrNotFound, campaignID)
	}
	holder := domain.Campaign{Contacts: contacts}
	c.Contacts = append(c.Contacts, holder.Clone().Contacts...)
	return nil
}

func (s *CampaignStore) ListByBusiness(_ context.Context, businessID string) ([]*domain.Campaign, error) {
	return s.filter(func(c *domain.Campaign) bool { return c.BusinessID == businessID }), nil
}

func (s *CampaignStore) ListByStatus(_ context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	return s.filter(func(c *domain.Campaign) bool { return c.Status == status }), nil
}

func (s *CampaignStore) filter(keep func(*domain.Campaign) bool) []*domain.Campaign {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Campaign
	for _, c := range s.campaigns {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
