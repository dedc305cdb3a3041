package lifecycle

import (
	"time"

	"github.com/propertygo/viewing/internal/apperr"
)

// Policy holds the timing and transition rules of the appointment state machine
type Policy struct {
	VisitDuration        time.Duration
	GracePeriod          time.Duration
	AllowCancelConfirmed bool
	CredentialAttempts   int
}

// Window returns the inclusive check-in window of a visit scheduled at
// scheduledAt: from one grace period before the slot until one grace period
// after the assumed end of the visit.
func (p Policy) Window(scheduledAt time.Time) (opens, closes time.Time) {
	return scheduledAt.Add(-p.GracePeriod), scheduledAt.Add(p.VisitDuration + p.GracePeriod)
}

// CheckWindow returns a TimeWindow error when now falls outside the check-in
// window of scheduledAt
func (p Policy) CheckWindow(scheduledAt, now time.Time) error {
	opens, closes := p.Window(scheduledAt)
	if now.Before(opens) {
		return apperr.New(apperr.TimeWindow, "too early: check-in opens at %s", opens.UTC().Format(time.RFC3339))
	}
	if now.After(closes) {
		return apperr.New(apperr.TimeWindow, "appointment expired: check-in closed at %s", closes.UTC().Format(time.RFC3339))
	}
	return nil
}

// NoShowCutoff returns the scheduled time before which a confirmed
// appointment can no longer be checked in
func (p Policy) NoShowCutoff(now time.Time) time.Time {
	return now.Add(-(p.VisitDuration + p.GracePeriod))
}
