package model

import (
	"time"
)

// Status codes of the appointment_statuses reference table
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCompleted = "COMPLETED"
	StatusNoShow    = "NO_SHOW"
	StatusCancelled = "CANCELLED"
	StatusRejected  = "REJECTED"
)

// AllStatuses lists every status code in display order
var AllStatuses = []string{
	StatusPending,
	StatusConfirmed,
	StatusCompleted,
	StatusNoShow,
	StatusCancelled,
	StatusRejected,
}

// AppointmentStatus is a row of the status catalog
type AppointmentStatus struct {
	ID          string `db:"id" json:"id"`
	Code        string `db:"code" json:"code"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	SortOrder   int    `db:"sort_order" json:"sort_order"`
}

// Appointment represents a property viewing in the database
type Appointment struct {
	ID          string     `db:"id" json:"id"`
	VisitorID   string     `db:"user_id" json:"visitor_id"`
	ListingID   string     `db:"project_id" json:"listing_id"`
	AgentID     *string    `db:"agent_id" json:"agent_id,omitempty"`
	ReferrerID  *string    `db:"referrer_id" json:"referrer_id,omitempty"`
	StatusID    string     `db:"status_id" json:"-"`
	StatusCode  string     `db:"status_code" json:"status"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduled_at"`
	QRToken     *string    `db:"qr_token" json:"-"` // set once on confirmation
	ScannedAt   *time.Time `db:"scanned_at" json:"scanned_at,omitempty"`
	ScannedByID *string    `db:"scanned_by_id" json:"scanned_by_id,omitempty"`
	Notes       *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	// RewardEvaluatedAt stays nil on a completed visit until its reward
	// evaluation has run to an outcome
	RewardEvaluatedAt *time.Time `db:"reward_evaluated_at" json:"reward_evaluated_at,omitempty"`
}

// IsTerminal reports whether no further transition is possible from the appointment's status
func (a *Appointment) IsTerminal() bool {
	switch a.StatusCode {
	case StatusCompleted, StatusNoShow, StatusCancelled, StatusRejected:
		return true
	}
	return false
}
