package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/call-dispatch-engine/internal/domain"
	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// CampaignStore persists campaigns together with their contact lists.
type CampaignStore interface {
	Create(ctx context.Context, campaign *domain.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	// Update writes campaign metadata and counters, not contacts.
	Update(ctx context.Context, campaign *domain.Campaign) error
	SaveContact(ctx context.Context, campaignID uuid.UUID, contact domain.Contact) error
	AppendContacts(ctx context.Context, campaignID uuid.UUID, contacts []domain.Contact) error
	ListByBusiness(ctx context.Context, businessID string) ([]*domain.Campaign, error)
	ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error)
}

// BusinessConfigStore serves per-business configuration. Implementations fall
// back to the package defaults for unknown businesses.
type BusinessConfigStore interface {
	InboundConfig(ctx context.Context, businessID string) (domain.InboundConfig, error)
	OutboundConfig(ctx context.Context, businessID string) (domain.OutboundConfig, error)
	RoutingRules(ctx context.Context, businessID string) ([]domain.RoutingRule, error)
}

// BusinessConfigWriter is implemented by stores that accept configuration updates.
type BusinessConfigWriter interface {
	SaveBusiness(ctx context.Context, business domain.Business) error
}

// DNCList is a per-business Do-Not-Call registry.
type DNCList interface {
	IsBlocked(ctx context.Context, businessID, phone string) (bool, error)
	Add(ctx context.Context, businessID, phone, reason string) error
	Remove(ctx context.Context, businessID, phone string) error
}

// CallLog records inbound routing decisions and outbound placements.
type CallLog interface {
	AppendInbound(ctx context.Context, entry domain.InboundCallLog) error
	AppendAttempt(ctx context.Context, attempt domain.OutboundAttempt) error
	// LastAttempt returns the time of the most recent placement to phone, or
	// nil when the number was never dialed.
	LastAttempt(ctx context.Context, businessID, phone string) (*time.Time, error)
	CountInboundFrom(ctx context.Context, businessID, phone string) (int, error)
	ListInbound(ctx context.Context, businessID string, limit int, pagingState []byte) ([]domain.InboundCallLog, []byte, error)
}

// CallbackStore persists callback requests.
type CallbackStore interface {
	Create(ctx context.Context, req *domain.CallbackRequest) error
	Get(ctx context.Context, id uuid.UUID) (*domain.CallbackRequest, error)
	Update(ctx context.Context, req *domain.CallbackRequest) error
	ListByBusiness(ctx context.Context, businessID string) ([]*domain.CallbackRequest, error)
	ListByStatus(ctx context.Context, status domain.CallbackStatus) ([]*domain.CallbackRequest, error)
}
