package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// DNCRepository stores Do-Not-Call entries per business.
type DNCRepository struct {
	db *sqlx.DB
}

func NewDNCRepository(db *sqlx.DB) *DNCRepository {
	return &DNCRepository{db: db}
}

func (r *DNCRepository) IsBlocked(ctx context.Context, businessID, phone string) (bool, error) {
	var blocked bool
	if err := r.db.GetContext(ctx, &blocked, `SELECT EXISTS (SELECT 1 FROM dnc_numbers WHERE business_id = $1 AND phone = $2)`, businessID, phone); err != nil {
		return false, fmt.Errorf("dnc repo: lookup: %w", err)
	}
	return blocked, nil
}

func (r *DNCRepository) Add(ctx context.Context, businessID, phone, reason string) error {
	if _, err := r.db.ExecContext(ctx, `INSERT INTO dnc_numbers (business_id, phone, reason, added_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (business_id, phone) DO UPDATE SET reason = EXCLUDED.reason`,
		businessID, phone, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("dnc repo: add: %w", err)
	}
	return nil
}

func (r *DNCRepository) Remove(ctx context.Context, businessID, phone string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM dnc_numbers WHERE business_id = $1 AND phone = $2`, businessID, phone); err != nil {
		return fmt.Errorf("dnc repo: remove: %w", err)
	}
	return nil
}
