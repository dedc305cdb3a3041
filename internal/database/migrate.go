package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/propertygo/viewing/internal/model"
)

// schema is written in the subset of SQL shared by PostgreSQL and SQLite.
// Timestamps are always written in UTC.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS appointment_statuses (
		id          TEXT PRIMARY KEY,
		code        VARCHAR(50) NOT NULL UNIQUE,
		name        VARCHAR(100) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		sort_order  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id                  TEXT PRIMARY KEY,
		name                TEXT NOT NULL DEFAULT '',
		referral_code       VARCHAR(20) UNIQUE,
		referred_by_user_id TEXT,
		created_at          TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		agent_id      TEXT,
		project_id    TEXT NOT NULL,
		referrer_id   TEXT,
		status_id     TEXT NOT NULL REFERENCES appointment_statuses (id),
		scheduled_at  TIMESTAMP NOT NULL,
		qr_token      VARCHAR(100) UNIQUE,
		scanned_at    TIMESTAMP,
		scanned_by_id TEXT,
		notes         TEXT,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL,
		-- set once the visit reward evaluation has finished
		reward_evaluated_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_status_scheduled ON appointments (status_id, scheduled_at)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_user ON appointments (user_id, scheduled_at)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_reward_pending ON appointments (status_id, scanned_at) WHERE reward_evaluated_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS referral_rewards (
		id            TEXT PRIMARY KEY,
		referrer_id   TEXT NOT NULL,
		referee_id    TEXT NOT NULL,
		status        VARCHAR(50) NOT NULL,
		trigger_event VARCHAR(50) NOT NULL,
		reward_type   VARCHAR(50) NOT NULL,
		amount        NUMERIC(10,2),
		created_at    TIMESTAMP NOT NULL
	)`,
	// First-visit rule: one ON_VISIT reward per referee, ever.
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_referral_rewards_visit ON referral_rewards (referee_id) WHERE trigger_event = 'ON_VISIT'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_referral_rewards_registration ON referral_rewards (referee_id) WHERE trigger_event = 'ON_REGISTRATION'`,
	`CREATE INDEX IF NOT EXISTS idx_referral_rewards_velocity ON referral_rewards (referrer_id, trigger_event, created_at)`,
	`CREATE TABLE IF NOT EXISTS redemptions (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		reward_item  VARCHAR(100) NOT NULL,
		status       VARCHAR(50) NOT NULL,
		code         VARCHAR(100) NOT NULL UNIQUE,
		amount       NUMERIC(10,2) NOT NULL DEFAULT 0,
		created_at   TIMESTAMP NOT NULL,
		updated_at   TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_redemptions_user ON redemptions (user_id)`,
	`CREATE TABLE IF NOT EXISTS rate_limit_windows (
		bucket_key TEXT PRIMARY KEY,
		hits       INTEGER NOT NULL,
		expires_at TIMESTAMP NOT NULL
	)`,
}

var statusSeed = []model.AppointmentStatus{
	{Code: model.StatusPending, Name: "Pending", Description: "User requested appointment", SortOrder: 1},
	{Code: model.StatusConfirmed, Name: "Confirmed", Description: "Agent confirmed appointment", SortOrder: 2},
	{Code: model.StatusCompleted, Name: "Completed", Description: "Visitor checked in on site", SortOrder: 3},
	{Code: model.StatusNoShow, Name: "No Show", Description: "Visitor did not arrive within the window", SortOrder: 4},
	{Code: model.StatusCancelled, Name: "Cancelled", Description: "Appointment was cancelled", SortOrder: 5},
	{Code: model.StatusRejected, Name: "Rejected", Description: "Agent rejected the request", SortOrder: 6},
}

// Migrate creates tables and indexes if they do not exist
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// SeedStatuses inserts the appointment status reference rows that are missing
func SeedStatuses(ctx context.Context, db *sqlx.DB) error {
	query := db.Rebind(`
		INSERT INTO appointment_statuses (id, code, name, description, sort_order)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (code) DO NOTHING
	`)

	for _, s := range statusSeed {
		if _, err := db.ExecContext(ctx, query, uuid.NewString(), s.Code, s.Name, s.Description, s.SortOrder); err != nil {
			return fmt.Errorf("failed to seed status %s: %w", s.Code, err)
		}
	}
	return nil
}

// Setup runs migrations and seeds reference data
func Setup(ctx context.Context, db *sqlx.DB) error {
	if err := Migrate(ctx, db); err != nil {
		return err
	}
	return SeedStatuses(ctx, db)
}
