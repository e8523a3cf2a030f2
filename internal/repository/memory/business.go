package memory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/acme/call-dispatch-engine/internal/domain"
)

// BusinessConfigStore serves business configuration from memory.
type BusinessConfigStore struct {
	mu         sync.RWMutex
	businesses map[string]domain.Business
}

func NewBusinessConfigStore(businesses ...domain.Business) *BusinessConfigStore {
	s := &BusinessConfigStore{businesses: make(map[string]domain.Business)}
	for _, b := range businesses {
		s.businesses[b.ID] = b
	}
	return s
}

func (s *BusinessConfigStore) SaveBusiness(_ context.Context, business domain.Business) error {
	for _, rule := range business.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("business %s: %w", business.ID, err)
		}
	}
	s.mu.Lock()
	s.businesses[business.ID] = business
	s.mu.Unlock()
	return nil
}

func (s *BusinessConfigStore) InboundConfig(_ context.Context, businessID string) (domain.InboundConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.businesses[businessID]; ok {
		return b.Inbound, nil
	}
	return domain.DefaultInboundConfig(), nil
}

func (s *BusinessConfigStore) OutboundConfig(_ context.Context, businessID string) (domain.OutboundConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.businesses[businessID]; ok {
		return b.Outbound, nil
	}
	return domain.DefaultOutboundConfig(), nil
}

func (s *BusinessConfigStore) RoutingRules(_ context.Context, businessID string) ([]domain.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.businesses[businessID]
	if !ok {
		return nil, nil
	}
	return append([]domain.RoutingRule(nil), b.Rules...), nil
}

type businessEntry struct {
	ID       string                 `yaml:"id"`
	Name     string                 `yaml:"name"`
	Inbound  *domain.InboundConfig  `yaml:"inbound"`
	Outbound *domain.OutboundConfig `yaml:"outbound"`
	Rules    []domain.RoutingRule   `yaml:"rules"`
}

// LoadBusinessFile reads business definitions from a YAML file. A business
// without an inbound or outbound section gets the default one.
func LoadBusinessFile(path string) ([]domain.Business, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("business file: read: %w", err)
	}

	var doc struct {
		Businesses []businessEntry `yaml:"businesses"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("business file: parse: %w", err)
	}

	out := make([]domain.Business, 0, len(doc.Businesses))
	for i, entry := range doc.Businesses {
		if entry.ID == "" {
			return nil, fmt.Errorf("business file: entry %d: missing id", i)
		}
		b := domain.Business{
			ID:       entry.ID,
			Name:     entry.Name,
			Inbound:  domain.DefaultInboundConfig(),
			Outbound: domain.DefaultOutboundConfig(),
			Rules:    entry.Rules,
		}
		if entry.Inbound != nil {
			b.Inbound = *entry.Inbound
		}
		if entry.Outbound != nil {
			b.Outbound = *entry.Outbound
		}
		for _, rule := range b.Rules {
			if err := rule.Validate(); err != nil {
				return nil, fmt.Errorf("business file: %s: %w", b.ID, err)
			}
		}
		out = append(out, b)
	}
	return out, nil
}
