package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/call-dispatch-engine/internal/domain"
	"github.com/acme/call-dispatch-engine/internal/repository"
)

// CampaignRepository implements repository.CampaignStore using PostgreSQL.
// Contacts live in campaign_contacts and keep their list order via position.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, business_id, name, status, script, schedule, calls_per_minute,
	completed_calls, answered_calls, voicemail_calls, failed_calls, progress, talk_seconds,
	created_at, updated_at, started_at, completed_at, estimated_completion`

// Create inserts a campaign and its contacts in one transaction.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign) error {
	params, err := campaignParams(campaign)
	if err != nil {
		return err
	}

	return withTx(ctx, r.db, "campaign repo: create", func(tx *sqlx.Tx) error {
		q := `INSERT INTO campaigns (` + campaignColumns + `) VALUES (
			:id, :business_id, :name, :status, :script, :schedule, :calls_per_minute,
			:completed_calls, :answered_calls, :voicemail_calls, :failed_calls, :progress, :talk_seconds,
			:created_at, :updated_at, :started_at, :completed_at, :estimated_completion
		) ON CONFLICT (id) DO NOTHING`

		res, err := tx.NamedExecContext(ctx, q, params)
		if err != nil {
			return fmt.Errorf("campaign repo: insert: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: campaign %s exists", repository.ErrConflict, campaign.ID)
		}
		return insertContacts(ctx, tx, campaign.ID, 0, campaign.Contacts)
	})
}

// Get fetches a campaign with its contacts.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: campaign %s", repository.ErrNotFound, id)
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign, err := record.toDomain()
	if err != nil {
		return nil, err
	}
	if campaign.Contacts, err = r.contacts(ctx, id); err != nil {
		return nil, err
	}
	return campaign, nil
}

// Update writes campaign metadata and counters.
func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign) error {
	params, err := campaignParams(campaign)
	if err != nil {
		return err
	}

	q := `UPDATE campaigns SET
		name = :name,
		status = :status,
		script = :script,
		schedule = :schedule,
		calls_per_minute = :calls_per_minute,
		completed_calls = :completed_calls,
		answered_calls = :answered_calls,
		voicemail_calls = :voicemail_calls,
		failed_calls = :failed_calls,
		progress = :progress,
		talk_seconds = :talk_seconds,
		updated_at = :updated_at,
		started_at = :started_at,
		completed_at = :completed_at,
		estimated_completion = :estimated_completion
	 WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, q, params)
	if err != nil {
		return fmt.Errorf("campaign repo: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: campaign %s", repository.ErrNotFound, campaign.ID)
	}
	return nil
}

// SaveContact updates the dispatch state of one contact.
func (r *CampaignRepository) SaveContact(ctx context.Context, campaignID uuid.UUID, contact domain.Contact) error {
	res, err := r.db.ExecContext(ctx, `UPDATE campaign_contacts
		SET status = $1, attempts = $2, last_attempt_at = $3, result = $4
		WHERE campaign_id = $5 AND id = $6`,
		contact.Status, contact.Attempts, contact.LastAttempt, contact.Result, campaignID, contact.ID)
	if err != nil {
		return fmt.Errorf("campaign repo: save contact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: contact %s", repository.ErrNotFound, contact.ID)
	}
	return nil
}

// AppendContacts adds contacts after the current tail of the list.
func (r *CampaignRepository) AppendContacts(ctx context.Context, campaignID uuid.UUID, contacts []domain.Contact) error {
	if len(contacts) == 0 {
		return nil
	}
	return withTx(ctx, r.db, "campaign repo: append contacts", func(tx *sqlx.Tx) error {
		var next int
		if err := tx.GetContext(ctx, &next, `SELECT COALESCE(MAX(position) + 1, 0) FROM campaign_contacts WHERE campaign_id = $1`, campaignID); err != nil {
			return fmt.Errorf("campaign repo: next position: %w", err)
		}
		return insertContacts(ctx, tx, campaignID, next, contacts)
	})
}

// ListByBusiness returns every campaign owned by the business.
func (r *CampaignRepository) ListByBusiness(ctx context.Context, businessID string) ([]*domain.Campaign, error) {
	return r.list(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE business_id = $1 ORDER BY created_at ASC`, businessID)
}

// ListByStatus returns campaigns filtered by status.
func (r *CampaignRepository) ListByStatus(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	return r.list(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY updated_at ASC`, status)
}

func (r *CampaignRepository) list(ctx context.Context, q string, arg any) ([]*domain.Campaign, error) {
	rows, err := r.db.QueryxContext(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	defer rows.Close()

	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		results = append(results, campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}

	for _, c := range results {
		if c.Contacts, err = r.contacts(ctx, c.ID); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (r *CampaignRepository) contacts(ctx context.Context, campaignID uuid.UUID) ([]domain.Contact, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, phone, name, custom_fields, status, attempts, last_attempt_at, result
		FROM campaign_contacts WHERE campaign_id = $1 ORDER BY position ASC`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: contacts: %w", err)
	}
	defer rows.Close()

	var contacts []domain.Contact
	for rows.Next() {
		var rec contactRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("campaign repo: scan contact: %w", err)
		}
		contacts = append(contacts, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: contacts rows err: %w", err)
	}
	return contacts, nil
}

func insertContacts(ctx context.Context, tx *sqlx.Tx, campaignID uuid.UUID, start int, contacts []domain.Contact) error {
	if len(contacts) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(contacts))
	for i, c := range contacts {
		fields, err := json.Marshal(c.CustomFields)
		if err != nil {
			return fmt.Errorf("campaign repo: marshal custom fields: %w", err)
		}
		rows = append(rows, map[string]any{
			"id":              c.ID,
			"campaign_id":     campaignID,
			"position":        start + i,
			"phone":           c.Phone,
			"name":            c.Name,
			"custom_fields":   fields,
			"status":          c.Status,
			"attempts":        c.Attempts,
			"last_attempt_at": c.LastAttempt,
			"result":          c.Result,
		})
	}

	q := `INSERT INTO campaign_contacts (
		id, campaign_id, position, phone, name, custom_fields, status, attempts, last_attempt_at, result
	) VALUES (:id, :campaign_id, :position, :phone, :name, :custom_fields, :status, :attempts, :last_attempt_at, :result)`
	if _, err := tx.NamedExecContext(ctx, q, rows); err != nil {
		return fmt.Errorf("campaign repo: insert contacts: %w", err)
	}
	return nil
}

func campaignParams(c *domain.Campaign) (map[string]any, error) {
	script, err := json.Marshal(c.Script)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: marshal script: %w", err)
	}
	var schedule []byte
	if c.Schedule != nil {
		if schedule, err = json.Marshal(c.Schedule); err != nil {
			return nil, fmt.Errorf("campaign repo: marshal schedule: %w", err)
		}
	}

	return map[string]any{
		"id":                   c.ID,
		"business_id":          c.BusinessID,
		"name":                 c.Name,
		"status":               c.Status,
		"script":               script,
		"schedule":             schedule,
		"calls_per_minute":     c.RateLimit.CallsPerMinute,
		"completed_calls":      c.CompletedCalls,
		"answered_calls":       c.AnsweredCalls,
		"voicemail_calls":      c.VoicemailCalls,
		"failed_calls":         c.FailedCalls,
		"progress":             c.Progress,
		"talk_seconds":         c.TalkSeconds,
		"created_at":           c.CreatedAt,
		"updated_at":           c.UpdatedAt,
		"started_at":           c.StartedAt,
		"completed_at":         c.CompletedAt,
		"estimated_completion": c.EstimatedCompletion,
	}, nil
}

type campaignRecord struct {
	ID                  uuid.UUID    `db:"id"`
	BusinessID          string       `db:"business_id"`
	Name                string       `db:"name"`
	Status              string       `db:"status"`
	Script              []byte       `db:"script"`
	Schedule            []byte       `db:"schedule"`
	CallsPerMinute      int          `db:"calls_per_minute"`
	CompletedCalls      int          `db:"completed_calls"`
	AnsweredCalls       int          `db:"answered_calls"`
	VoicemailCalls      int          `db:"voicemail_calls"`
	FailedCalls         int          `db:"failed_calls"`
	Progress            int          `db:"progress"`
	TalkSeconds         int          `db:"talk_seconds"`
	CreatedAt           time.Time    `db:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at"`
	StartedAt           sql.NullTime `db:"started_at"`
	CompletedAt         sql.NullTime `db:"completed_at"`
	EstimatedCompletion sql.NullTime `db:"estimated_completion"`
}

func (r campaignRecord) toDomain() (*domain.Campaign, error) {
	campaign := &domain.Campaign{
		ID:             r.ID,
		BusinessID:     r.BusinessID,
		Name:           r.Name,
		Status:         domain.CampaignStatus(r.Status),
		RateLimit:      domain.RateLimit{CallsPerMinute: r.CallsPerMinute},
		CompletedCalls: r.CompletedCalls,
		AnsweredCalls:  r.AnsweredCalls,
		VoicemailCalls: r.VoicemailCalls,
		FailedCalls:    r.FailedCalls,
		Progress:       r.Progress,
		TalkSeconds:    r.TalkSeconds,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		StartedAt:      nullTime(r.StartedAt),
		CompletedAt:    nullTime(r.CompletedAt),

		EstimatedCompletion: nullTime(r.EstimatedCompletion),
	}
	if err := json.Unmarshal(r.Script, &campaign.Script); err != nil {
		return nil, fmt.Errorf("campaign repo: decode script: %w", err)
	}
	if len(r.Schedule) > 0 {
		campaign.Schedule = new(domain.CallSchedule)
		if err := json.Unmarshal(r.Schedule, campaign.Schedule); err != nil {
			return nil, fmt.Errorf("campaign repo: decode schedule: %w", err)
		}
	}
	return campaign, nil
}

type contactRecord struct {
	ID           uuid.UUID      `db:"id"`
	Phone        string         `db:"phone"`
	Name         string         `db:"name"`
	CustomFields []byte         `db:"custom_fields"`
	Status       string         `db:"status"`
	Attempts     int            `db:"attempts"`
	LastAttempt  sql.NullTime   `db:"last_attempt_at"`
	Result       sql.NullString `db:"result"`
}

func (r contactRecord) toDomain() domain.Contact {
	var fields map[string]string
	_ = json.Unmarshal(r.CustomFields, &fields)

	return domain.Contact{
		ID:           r.ID,
		Phone:        r.Phone,
		Name:         r.Name,
		CustomFields: fields,
		Status:       domain.ContactStatus(r.Status),
		Attempts:     r.Attempts,
		LastAttempt:  nullTime(r.LastAttempt),
		Result:       r.Result.String,
	}
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
