package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/call-dispatch-engine/internal/domain"
	"github.com/acme/call-dispatch-engine/internal/repository"
)

// CallbackRepository persists callback requests.
type CallbackRepository struct {
	db *sqlx.DB
}

func NewCallbackRepository(db *sqlx.DB) *CallbackRepository {
	return &CallbackRepository{db: db}
}

const callbackColumns = `id, business_id, phone, name, reason, preferred_time, status, result, requested_at, processed_at`

func (r *CallbackRepository) Create(ctx context.Context, req *domain.CallbackRequest) error {
	q := `INSERT INTO callback_requests (` + callbackColumns + `)
		VALUES (:id, :business_id, :phone, :name, :reason, :preferred_time, :status, :result, :requested_at, :processed_at)`
	if _, err := r.db.NamedExecContext(ctx, q, callbackParams(req)); err != nil {
		return fmt.Errorf("callback repo: insert: %w", err)
	}
	return nil
}

func (r *CallbackRepository) Get(ctx context.Context, id uuid.UUID) (*domain.CallbackRequest, error) {
	var record callbackRecord
	if err := r.db.GetContext(ctx, &record, `SELECT `+callbackColumns+` FROM callback_requests WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: callback %s", repository.ErrNotFound, id)
		}
		return nil, fmt.Errorf("callback repo: get: %w", err)
	}
	req := record.toDomain()
	return &req, nil
}

func (r *CallbackRepository) Update(ctx context.Context, req *domain.CallbackRequest) error {
	res, err := r.db.NamedExecContext(ctx, `UPDATE callback_requests SET
		preferred_time = :preferred_time, status = :status, result = :result, processed_at = :processed_at
		WHERE id = :id`, callbackParams(req))
	if err != nil {
		return fmt.Errorf("callback repo: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("callback repo: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: callback %s", repository.ErrNotFound, req.ID)
	}
	return nil
}

func (r *CallbackRepository) ListByBusiness(ctx context.Context, businessID string) ([]*domain.CallbackRequest, error) {
	return r.list(ctx, `SELECT `+callbackColumns+` FROM callback_requests WHERE business_id = $1 ORDER BY requested_at ASC`, businessID)
}

func (r *CallbackRepository) ListByStatus(ctx context.Context, status domain.CallbackStatus) ([]*domain.CallbackRequest, error) {
	return r.list(ctx, `SELECT `+callbackColumns+` FROM callback_requests WHERE status = $1 ORDER BY requested_at ASC`, status)
}

func (r *CallbackRepository) list(ctx context.Context, q string, arg any) ([]*domain.CallbackRequest, error) {
	var records []callbackRecord
	if err := r.db.SelectContext(ctx, &records, q, arg); err != nil {
		return nil, fmt.Errorf("callback repo: list: %w", err)
	}
	out := make([]*domain.CallbackRequest, 0, len(records))
	for _, rec := range records {
		req := rec.toDomain()
		out = append(out, &req)
	}
	return out, nil
}

func callbackParams(req *domain.CallbackRequest) map[string]any {
	return map[string]any{
		"id":             req.ID,
		"business_id":    req.BusinessID,
		"phone":          req.Phone,
		"name":           req.Name,
		"reason":         req.Reason,
		"preferred_time": req.PreferredTime,
		"status":         req.Status,
		"result":         req.Result,
		"requested_at":   req.RequestedAt,
		"processed_at":   req.ProcessedAt,
	}
}

type callbackRecord struct {
	ID            uuid.UUID    `db:"id"`
	BusinessID    string       `db:"business_id"`
	Phone         string       `db:"phone"`
	Name          string       `db:"name"`
	Reason        string       `db:"reason"`
	PreferredTime sql.NullTime `db:"preferred_time"`
	Status        string       `db:"status"`
	Result        string       `db:"result"`
	RequestedAt   time.Time    `db:"requested_at"`
	ProcessedAt   sql.NullTime `db:"processed_at"`
}

func (r callbackRecord) toDomain() domain.CallbackRequest {
	return domain.CallbackRequest{
		ID:            r.ID,
		BusinessID:    r.BusinessID,
		Phone:         r.Phone,
		Name:          r.Name,
		Reason:        r.Reason,
		PreferredTime: nullTime(r.PreferredTime),
		Status:        domain.CallbackStatus(r.Status),
		Result:        r.Result,
		RequestedAt:   r.RequestedAt,
		ProcessedAt:   nullTime(r.ProcessedAt),
	}
}
