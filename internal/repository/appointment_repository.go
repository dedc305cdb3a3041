package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/propertygo/viewing/internal/model"
)

const selectAppointment = `
	SELECT a.id, a.user_id, a.agent_id, a.project_id, a.referrer_id, a.status_id,
	       s.code AS status_code, a.scheduled_at, a.qr_token, a.scanned_at,
	       a.scanned_by_id, a.notes, a.created_at, a.updated_at, a.reward_evaluated_at
	FROM appointments a
	JOIN appointment_statuses s ON s.id = a.status_id
`

// AppointmentRepository handles appointment data operations
type AppointmentRepository struct{}

// NewAppointmentRepository creates a new appointment repository
func NewAppointmentRepository() *AppointmentRepository {
	return &AppointmentRepository{}
}

// Create inserts a new appointment. ID is generated when empty.
func (r *AppointmentRepository) Create(ctx context.Context, db DBExecutor, a *model.Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}

	query := db.Rebind(`
		INSERT INTO appointments (id, user_id, agent_id, project_id, referrer_id, status_id,
		                          scheduled_at, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := db.ExecContext(ctx, query,
		a.ID, a.VisitorID, a.AgentID, a.ListingID, a.ReferrerID, a.StatusID,
		a.ScheduledAt, a.Notes, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}

	return nil
}

// GetByID retrieves an appointment by ID
func (r *AppointmentRepository) GetByID(ctx context.Context, db DBExecutor, id string) (*model.Appointment, error) {
	return r.getOne(ctx, db, selectAppointment+` WHERE a.id = ?`, id)
}

// GetByCredential retrieves the appointment holding a check-in credential
func (r *AppointmentRepository) GetByCredential(ctx context.Context, db DBExecutor, token string) (*model.Appointment, error) {
	return r.getOne(ctx, db, selectAppointment+` WHERE a.qr_token = ?`, token)
}

func (r *AppointmentRepository) getOne(ctx context.Context, db DBExecutor, query string, arg string) (*model.Appointment, error) {
	var appointment model.Appointment
	err := db.GetContext(ctx, &appointment, db.Rebind(query), arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}

	return &appointment, nil
}

// ListByVisitor returns a visitor's appointments, latest slot first
func (r *AppointmentRepository) ListByVisitor(ctx context.Context, db DBExecutor, visitorID string) ([]model.Appointment, error) {
	query := db.Rebind(selectAppointment + `
		WHERE a.user_id = ?
		ORDER BY a.scheduled_at DESC
	`)

	appointments := []model.Appointment{}
	if err := db.SelectContext(ctx, &appointments, query, visitorID); err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}

	return appointments, nil
}

// ConfirmWithCredential moves a pending appointment to confirmed and stores its
// credential in one guarded write. Returns ErrConflict when the appointment is
// no longer pending and ErrDuplicate when the token is already in use.
func (r *AppointmentRepository) ConfirmWithCredential(ctx context.Context, db DBExecutor, id, pendingID, confirmedID, token string, at time.Time) error {
	query := db.Rebind(`
		UPDATE appointments
		SET status_id = ?, qr_token = ?, updated_at = ?
		WHERE id = ? AND status_id = ? AND qr_token IS NULL
	`)

	result, err := db.ExecContext(ctx, query, confirmedID, token, at, id, pendingID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to confirm appointment: %w", err)
	}

	return expectOneRow(result)
}

// Transition moves an appointment to toID if its current status is one of fromIDs
func (r *AppointmentRepository) Transition(ctx context.Context, db DBExecutor, id string, fromIDs []string, toID string, at time.Time) error {
	query, args, err := sqlx.In(`
		UPDATE appointments
		SET status_id = ?, updated_at = ?
		WHERE id = ? AND status_id IN (?)
	`, toID, at, id, fromIDs)
	if err != nil {
		return fmt.Errorf("failed to build transition query: %w", err)
	}

	result, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to transition appointment: %w", err)
	}

	return expectOneRow(result)
}

// MarkCheckedIn completes a confirmed appointment and stamps the scan.
// Only the first of several concurrent callers gets a nil error.
func (r *AppointmentRepository) MarkCheckedIn(ctx context.Context, db DBExecutor, id, confirmedID, completedID string, at time.Time, checkerID string) error {
	query := db.Rebind(`
		UPDATE appointments
		SET status_id = ?, scanned_at = ?, scanned_by_id = ?, updated_at = ?
		WHERE id = ? AND status_id = ? AND scanned_at IS NULL
	`)

	result, err := db.ExecContext(ctx, query, completedID, at, checkerID, at, id, confirmedID)
	if err != nil {
		return fmt.Errorf("failed to mark appointment checked in: %w", err)
	}

	return expectOneRow(result)
}

// MarkRewardEvaluated records that the visit reward of a completed appointment
// was evaluated. Returns ErrConflict when it was already recorded.
func (r *AppointmentRepository) MarkRewardEvaluated(ctx context.Context, db DBExecutor, id string, at time.Time) error {
	query := db.Rebind(`
		UPDATE appointments
		SET reward_evaluated_at = ?
		WHERE id = ? AND reward_evaluated_at IS NULL
	`)

	result, err := db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark reward evaluated: %w", err)
	}

	return expectOneRow(result)
}

// ListRewardPending returns completed appointments checked in before the given
// time whose reward evaluation never finished, oldest first
func (r *AppointmentRepository) ListRewardPending(ctx context.Context, db DBExecutor, completedID string, before time.Time, limit int) ([]model.Appointment, error) {
	query := db.Rebind(selectAppointment + `
		WHERE a.status_id = ? AND a.reward_evaluated_at IS NULL AND a.scanned_at < ?
		ORDER BY a.scanned_at
		LIMIT ?
	`)

	appointments := []model.Appointment{}
	if err := db.SelectContext(ctx, &appointments, query, completedID, before, limit); err != nil {
		return nil, fmt.Errorf("failed to list reward pending appointments: %w", err)
	}

	return appointments, nil
}

// MarkNoShows moves every confirmed appointment scheduled before cutoff to no-show
// and returns how many rows changed
func (r *AppointmentRepository) MarkNoShows(ctx context.Context, db DBExecutor, confirmedID, noShowID string, cutoff, at time.Time) (int64, error) {
	query := db.Rebind(`
		UPDATE appointments
		SET status_id = ?, updated_at = ?
		WHERE status_id = ? AND scheduled_at < ?
	`)

	result, err := db.ExecContext(ctx, query, noShowID, at, confirmedID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark no-shows: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
