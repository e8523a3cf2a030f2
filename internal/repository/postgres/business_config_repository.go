package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/call-dispatch-engine/internal/domain"
)

// BusinessConfigRepository persists per-business inbound and outbound
// configuration. Opening hours are stored one row per slot in business_hours.
type BusinessConfigRepository struct {
	db *sqlx.DB
}

// NewBusinessConfigRepository creates a new repository.
func NewBusinessConfigRepository(db *sqlx.DB) *BusinessConfigRepository {
	return &BusinessConfigRepository{db: db}
}

type businessConfigRecord struct {
	BusinessID string `db:"business_id"`
	Name       string `db:"name"`
	Timezone   string `db:"timezone"`
	Routing    []byte `db:"routing"`
	Voice      []byte `db:"voice"`
	Outbound   []byte `db:"outbound"`
}

// SaveBusiness replaces the stored configuration, hours and rules of a business.
func (r *BusinessConfigRepository) SaveBusiness(ctx context.Context, business domain.Business) error {
	for _, rule := range business.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("business config: %w", err)
		}
	}

	routing, err := json.Marshal(business.Inbound.Routing)
	if err != nil {
		return fmt.Errorf("business config: marshal routing: %w", err)
	}
	voice, err := json.Marshal(business.Inbound.Voice)
	if err != nil {
		return fmt.Errorf("business config: marshal voice: %w", err)
	}
	outbound, err := json.Marshal(business.Outbound)
	if err != nil {
		return fmt.Errorf("business config: marshal outbound: %w", err)
	}

	return withTx(ctx, r.db, "business config: save", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO business_configs (business_id, name, timezone, routing, voice, outbound, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (business_id) DO UPDATE SET
				name = EXCLUDED.name, timezone = EXCLUDED.timezone, routing = EXCLUDED.routing,
				voice = EXCLUDED.voice, outbound = EXCLUDED.outbound, updated_at = EXCLUDED.updated_at`,
			business.ID, business.Name, business.Inbound.BusinessHours.Timezone, routing, voice, outbound, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("business config: upsert: %w", err)
		}

		if err := replaceHours(ctx, tx, business.ID, business.Inbound.BusinessHours.Schedule); err != nil {
			return err
		}
		return replaceRules(ctx, tx, business.ID, business.Rules)
	})
}

func replaceHours(ctx context.Context, tx *sqlx.Tx, businessID string, schedule domain.WeeklySchedule) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM business_hours WHERE business_id = $1`, businessID); err != nil {
		return fmt.Errorf("business hours: delete existing: %w", err)
	}
	if schedule.Empty() {
		return nil
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO business_hours (business_id, day_of_week, start_minute, end_minute) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("business hours: prepare insert: %w", err)
	}
	defer stmt.Close()

	for day := time.Sunday; day <= time.Saturday; day++ {
		for _, slot := range schedule.Slots(day) {
			start, end, err := slotMinutes(slot)
			if err != nil {
				return fmt.Errorf("business hours: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, businessID, int(day), start, end); err != nil {
				return fmt.Errorf("business hours: insert: %w", err)
			}
		}
	}
	return nil
}

func replaceRules(ctx context.Context, tx *sqlx.Tx, businessID string, rules []domain.RoutingRule) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM routing_rules WHERE business_id = $1`, businessID); err != nil {
		return fmt.Errorf("routing rules: delete existing: %w", err)
	}
	for _, rule := range rules {
		condition, err := json.Marshal(rule.Condition)
		if err != nil {
			return fmt.Errorf("routing rules: marshal condition: %w", err)
		}
		action, err := json.Marshal(rule.Action)
		if err != nil {
			return fmt.Errorf("routing rules: marshal action: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO routing_rules (id, business_id, name, priority, active, condition, action)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rule.ID, businessID, rule.Name, rule.Priority, rule.Active, condition, action,
		); err != nil {
			return fmt.Errorf("routing rules: insert: %w", err)
		}
	}
	return nil
}

// InboundConfig assembles the inbound configuration, or the default when the
// business has none stored.
func (r *BusinessConfigRepository) InboundConfig(ctx context.Context, businessID string) (domain.InboundConfig, error) {
	cfg := domain.DefaultInboundConfig()

	record, err := r.record(ctx, businessID)
	if err != nil || record == nil {
		return cfg, err
	}

	cfg.BusinessHours.Timezone = record.Timezone
	if err := json.Unmarshal(record.Routing, &cfg.Routing); err != nil {
		return cfg, fmt.Errorf("business config: decode routing: %w", err)
	}
	if err := json.Unmarshal(record.Voice, &cfg.Voice); err != nil {
		return cfg, fmt.Errorf("business config: decode voice: %w", err)
	}

	schedule, err := r.hours(ctx, businessID)
	if err != nil {
		return cfg, err
	}
	cfg.BusinessHours.Schedule = schedule
	return cfg, nil
}

// OutboundConfig returns the stored outbound policy or the default.
func (r *BusinessConfigRepository) OutboundConfig(ctx context.Context, businessID string) (domain.OutboundConfig, error) {
	cfg := domain.DefaultOutboundConfig()

	record, err := r.record(ctx, businessID)
	if err != nil || record == nil {
		return cfg, err
	}
	if err := json.Unmarshal(record.Outbound, &cfg); err != nil {
		return cfg, fmt.Errorf("business config: decode outbound: %w", err)
	}
	return cfg, nil
}

// RoutingRules lists the rules of a business in storage order.
func (r *BusinessConfigRepository) RoutingRules(ctx context.Context, businessID string) ([]domain.RoutingRule, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT id, name, priority, active, condition, action
		FROM routing_rules WHERE business_id = $1 ORDER BY priority DESC, id ASC`, businessID)
	if err != nil {
		return nil, fmt.Errorf("routing rules: query: %w", err)
	}
	defer rows.Close()

	var rules []domain.RoutingRule
	for rows.Next() {
		var row struct {
			ID        string `db:"id"`
			Name      string `db:"name"`
			Priority  int    `db:"priority"`
			Active    bool   `db:"active"`
			Condition []byte `db:"condition"`
			Action    []byte `db:"action"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("routing rules: scan: %w", err)
		}
		rule := domain.RoutingRule{ID: row.ID, Name: row.Name, Priority: row.Priority, Active: row.Active}
		if err := json.Unmarshal(row.Condition, &rule.Condition); err != nil {
			return nil, fmt.Errorf("routing rules: decode condition: %w", err)
		}
		if err := json.Unmarshal(row.Action, &rule.Action); err != nil {
			return nil, fmt.Errorf("routing rules: decode action: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("routing rules: rows err: %w", err)
	}
	return rules, nil
}

func (r *BusinessConfigRepository) record(ctx context.Context, businessID string) (*businessConfigRecord, error) {
	var record businessConfigRecord
	err := r.db.GetContext(ctx, &record, `SELECT business_id, name, timezone, routing, voice, outbound
		FROM business_configs WHERE business_id = $1`, businessID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("business config: get: %w", err)
	}
	return &record, nil
}

func (r *BusinessConfigRepository) hours(ctx context.Context, businessID string) (domain.WeeklySchedule, error) {
	var schedule domain.WeeklySchedule

	rows, err := r.db.QueryxContext(ctx, `SELECT day_of_week, start_minute, end_minute FROM business_hours WHERE business_id = $1 ORDER BY day_of_week, start_minute`, businessID)
	if err != nil {
		return schedule, fmt.Errorf("business hours: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row struct {
			Day      int `db:"day_of_week"`
			StartMin int `db:"start_minute"`
			EndMin   int `db:"end_minute"`
		}
		if err := rows.StructScan(&row); err != nil {
			return schedule, fmt.Errorf("business hours: scan: %w", err)
		}
		day := time.Weekday(row.Day)
		slot := domain.TimeSlot{Start: minuteToClock(row.StartMin), End: minuteToClock(row.EndMin)}
		schedule.SetSlots(day, append(schedule.Slots(day), slot))
	}
	if err := rows.Err(); err != nil {
		return schedule, fmt.Errorf("business hours: rows err: %w", err)
	}
	return schedule, nil
}

func slotMinutes(slot domain.TimeSlot) (int, int, error) {
	start, err := time.Parse("15:04", slot.Start)
	if err != nil {
		return 0, 0, fmt.Errorf("parse start %q: %w", slot.Start, err)
	}
	end, err := time.Parse("15:04", slot.End)
	if err != nil {
		return 0, 0, fmt.Errorf("parse end %q: %w", slot.End, err)
	}
	return start.Hour()*60 + start.Minute(), end.Hour()*60 + end.Minute(), nil
}

func minuteToClock(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}
