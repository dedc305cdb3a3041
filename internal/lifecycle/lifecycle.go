// Package lifecycle implements the appointment state machine: booking,
// confirmation with a check-in credential, check-in, cancellation, rejection
// and the no-show sweep.
package lifecycle

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/propertygo/viewing/internal/apperr"
	"github.com/propertygo/viewing/internal/catalog"
	"github.com/propertygo/viewing/internal/credential"
	"github.com/propertygo/viewing/internal/metrics"
	"github.com/propertygo/viewing/internal/model"
	"github.com/propertygo/viewing/internal/referral"
	"github.com/propertygo/viewing/internal/repository"
	"github.com/propertygo/viewing/internal/reward"
)

// CheckedIn is the status reported by a successful check-in
const CheckedIn = "completed"

// ReferralVerifier checks referral codes entered at booking
type ReferralVerifier interface {
	VerifyCode(ctx context.Context, rateKey, code, callerID string) (*referral.Referrer, error)
}

// VisitEvaluator issues rewards for a completed visit
type VisitEvaluator interface {
	EvaluateVisit(ctx context.Context, refereeID string, explicitReferrerID *string) (*reward.Outcome, error)
}

// BookRequest describes a new viewing
type BookRequest struct {
	VisitorID    string
	ListingID    string
	AgentID      *string
	ScheduledAt  time.Time
	ReferralCode string
	Notes        *string
	// RateKey identifies the caller for referral code throttling
	RateKey string
}

// Confirmation is the result of confirming an appointment
type Confirmation struct {
	Appointment *model.Appointment
	Token       string
}

// CheckInResult is the result of a successful check-in. The appointment is
// completed even when the reward evaluation failed.
type CheckInResult struct {
	Status        string
	Appointment   *model.Appointment
	RewardStatus  string
	RewardMessage string
	Reward        *reward.Outcome
}

// Lifecycle drives appointments through their status graph
type Lifecycle struct {
	db           *sqlx.DB
	statuses     *catalog.StatusCatalog
	appointments *repository.AppointmentRepository
	referrals    ReferralVerifier
	rewards      VisitEvaluator
	policy       Policy
	now          func() time.Time
	log          zerolog.Logger
}

// Option configures a Lifecycle
type Option func(*Lifecycle)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		l.now = now
	}
}

// New creates a Lifecycle
func New(db *sqlx.DB, statuses *catalog.StatusCatalog, referrals ReferralVerifier, rewards VisitEvaluator, policy Policy, log zerolog.Logger, opts ...Option) *Lifecycle {
	if policy.CredentialAttempts < 1 {
		policy.CredentialAttempts = 1
	}
	l := &Lifecycle{
		db:           db,
		statuses:     statuses,
		appointments: repository.NewAppointmentRepository(),
		referrals:    referrals,
		rewards:      rewards,
		policy:       policy,
		now:          time.Now,
		log:          log.With().Str("component", "lifecycle").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the timing rules in effect
func (l *Lifecycle) Policy() Policy {
	return l.policy
}

// Book creates a PENDING appointment. A referral code, when given, must
// belong to someone other than the visitor.
func (l *Lifecycle) Book(ctx context.Context, req BookRequest) (*model.Appointment, error) {
	req.VisitorID = strings.TrimSpace(req.VisitorID)
	req.ListingID = strings.TrimSpace(req.ListingID)
	if req.VisitorID == "" {
		return nil, apperr.New(apperr.Validation, "visitor is required")
	}
	if req.ListingID == "" {
		return nil, apperr.New(apperr.Validation, "listing is required")
	}
	if req.ScheduledAt.IsZero() {
		return nil, apperr.New(apperr.Validation, "scheduled time is required")
	}

	now := l.now().UTC()
	if !req.ScheduledAt.After(now) {
		return nil, apperr.New(apperr.Validation, "scheduled time must be in the future")
	}

	pendingID, err := l.statuses.CodeToID(ctx, model.StatusPending)
	if err != nil {
		return nil, err
	}

	var referrerID *string
	if strings.TrimSpace(req.ReferralCode) != "" {
		referrer, err := l.referrals.VerifyCode(ctx, req.RateKey, req.ReferralCode, req.VisitorID)
		if err != nil {
			return nil, err
		}
		referrerID = &referrer.ID
	}

	appointment := &model.Appointment{
		VisitorID:   req.VisitorID,
		ListingID:   req.ListingID,
		AgentID:     req.AgentID,
		ReferrerID:  referrerID,
		StatusID:    pendingID,
		StatusCode:  model.StatusPending,
		ScheduledAt: req.ScheduledAt.UTC(),
		Notes:       req.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.appointments.Create(ctx, l.db, appointment); err != nil {
		return nil, apperr.Wrap(apperr.System, err, "failed to create appointment")
	}

	l.logTransition(appointment.ID, "", model.StatusPending)
	return appointment, nil
}

// Confirm moves a PENDING appointment to CONFIRMED and mints its check-in
// credential. The credential is never replaced once set.
func (l *Lifecycle) Confirm(ctx context.Context, appointmentID string) (*Confirmation, error) {
	ids, err := l.statuses.IDsFor(ctx, model.StatusPending, model.StatusConfirmed)
	if err != nil {
		return nil, err
	}

	appointment, err := l.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appointment.StatusCode != model.StatusPending {
		return nil, notPending(appointment.StatusCode)
	}

	now := l.now().UTC()
	for attempt := 1; attempt <= l.policy.CredentialAttempts; attempt++ {
		token, err := credential.Mint()
		if err != nil {
			return nil, apperr.Wrap(apperr.System, err, "failed to mint credential")
		}

		err = l.appointments.ConfirmWithCredential(ctx, l.db, appointment.ID,
			ids[model.StatusPending], ids[model.StatusConfirmed], token, now)
		switch {
		case err == nil:
			appointment.StatusID = ids[model.StatusConfirmed]
			appointment.StatusCode = model.StatusConfirmed
			appointment.QRToken = &token
			appointment.UpdatedAt = now
			l.logTransition(appointment.ID, model.StatusPending, model.StatusConfirmed)
			return &Confirmation{Appointment: appointment, Token: token}, nil
		case errors.Is(err, repository.ErrDuplicate):
			l.log.Warn().Str("appointment_id", appointment.ID).Int("attempt", attempt).Msg("credential collision, retrying")
		case errors.Is(err, repository.ErrConflict):
			current, getErr := l.Get(ctx, appointment.ID)
			if getErr != nil {
				return nil, getErr
			}
			return nil, notPending(current.StatusCode)
		default:
			return nil, apperr.Wrap(apperr.System, err, "failed to confirm appointment")
		}
	}

	return nil, apperr.New(apperr.System, "could not allocate a unique credential")
}

// Reject moves a PENDING appointment to REJECTED
func (l *Lifecycle) Reject(ctx context.Context, appointmentID string) (*model.Appointment, error) {
	return l.transition(ctx, appointmentID, []string{model.StatusPending}, model.StatusRejected)
}

// Cancel moves an appointment to CANCELLED. Confirmed appointments can be
// cancelled only when the policy allows it.
func (l *Lifecycle) Cancel(ctx context.Context, appointmentID string) (*model.Appointment, error) {
	from := []string{model.StatusPending}
	if l.policy.AllowCancelConfirmed {
		from = append(from, model.StatusConfirmed)
	}
	return l.transition(ctx, appointmentID, from, model.StatusCancelled)
}

func (l *Lifecycle) transition(ctx context.Context, appointmentID string, from []string, to string) (*model.Appointment, error) {
	ids, err := l.statuses.IDsFor(ctx, append([]string{to}, from...)...)
	if err != nil {
		return nil, err
	}

	appointment, err := l.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appointment.IsTerminal() {
		return nil, apperr.New(apperr.State, "appointment already closed (status %s)", appointment.StatusCode)
	}
	if !slices.Contains(from, appointment.StatusCode) {
		return nil, apperr.New(apperr.State, "cannot move appointment from %s to %s", appointment.StatusCode, to)
	}

	fromIDs := make([]string, 0, len(from))
	for _, code := range from {
		fromIDs = append(fromIDs, ids[code])
	}

	now := l.now().UTC()
	err = l.appointments.Transition(ctx, l.db, appointment.ID, fromIDs, ids[to], now)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.New(apperr.State, "appointment status changed, cannot move it to %s", to)
		}
		return nil, apperr.Wrap(apperr.System, err, "failed to update appointment")
	}

	l.logTransition(appointment.ID, appointment.StatusCode, to)
	appointment.StatusID = ids[to]
	appointment.StatusCode = to
	appointment.UpdatedAt = now
	return appointment, nil
}

// CheckIn redeems a credential. The appointment must be CONFIRMED and the
// scan must fall inside its check-in window. Of several concurrent scans of
// the same credential only one succeeds. Reward evaluation runs after the
// check-in is durable and its failure only degrades the reported reward status.
func (l *Lifecycle) CheckIn(ctx context.Context, token, checkerID string) (result *CheckInResult, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = strings.ToLower(string(apperr.KindOf(err)))
		}
		metrics.RecordCheckInDuration(status, time.Since(start).Seconds())
	}()

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.New(apperr.NotFound, "invalid credential")
	}

	ids, err := l.statuses.IDsFor(ctx, model.StatusConfirmed, model.StatusCompleted)
	if err != nil {
		return nil, err
	}

	appointment, err := l.appointments.GetByCredential(ctx, l.db, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "invalid credential")
		}
		return nil, apperr.Wrap(apperr.System, err, "failed to look up credential")
	}
	if appointment.StatusCode != model.StatusConfirmed {
		return nil, apperr.New(apperr.State, "appointment already processed (status %s)", appointment.StatusCode)
	}

	now := l.now().UTC()
	if err := l.policy.CheckWindow(appointment.ScheduledAt, now); err != nil {
		return nil, err
	}

	err = l.appointments.MarkCheckedIn(ctx, l.db, appointment.ID, ids[model.StatusConfirmed], ids[model.StatusCompleted], now, checkerID)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.New(apperr.State, "appointment already processed")
		}
		return nil, apperr.Wrap(apperr.System, err, "failed to complete appointment")
	}

	l.logTransition(appointment.ID, model.StatusConfirmed, model.StatusCompleted)
	appointment.StatusID = ids[model.StatusCompleted]
	appointment.StatusCode = model.StatusCompleted
	appointment.ScannedAt = &now
	appointment.ScannedByID = &checkerID
	appointment.UpdatedAt = now

	result = &CheckInResult{Status: CheckedIn, Appointment: appointment}

	outcome, rewardErr := l.evaluateReward(ctx, appointment)
	if rewardErr != nil {
		result.RewardStatus = reward.OutcomeFailed
		result.RewardMessage = apperr.MessageOf(rewardErr)
		return result, nil
	}

	result.Reward = outcome
	result.RewardStatus = outcome.Status
	result.RewardMessage = outcome.Message
	return result, nil
}

// evaluateReward runs the visit reward evaluation for a completed appointment
// and records that it finished. A system failure leaves the appointment
// pending for RetryRewards; any other error is final.
func (l *Lifecycle) evaluateReward(ctx context.Context, appointment *model.Appointment) (*reward.Outcome, error) {
	outcome, err := l.rewards.EvaluateVisit(ctx, appointment.VisitorID, appointment.ReferrerID)
	if err != nil {
		l.log.Error().
			Err(err).
			Str("appointment_id", appointment.ID).
			Str("error_kind", string(apperr.KindOf(err))).
			Msg("reward evaluation failed after check-in")
		metrics.RecordReward(reward.OutcomeFailed)
		if apperr.KindOf(err) != apperr.System {
			l.markRewardEvaluated(ctx, appointment)
		}
		return nil, err
	}

	l.markRewardEvaluated(ctx, appointment)
	return outcome, nil
}

func (l *Lifecycle) markRewardEvaluated(ctx context.Context, appointment *model.Appointment) {
	now := l.now().UTC()
	err := l.appointments.MarkRewardEvaluated(ctx, l.db, appointment.ID, now)
	switch {
	case err == nil:
		appointment.RewardEvaluatedAt = &now
	case errors.Is(err, repository.ErrConflict):
		// a retry got there first
	default:
		// a later retry evaluates to ALREADY_VISITED and marks it
		l.log.Warn().Err(err).Str("appointment_id", appointment.ID).Msg("failed to record reward evaluation")
	}
}

// RetryRewards re-runs the reward evaluation of completed appointments whose
// evaluation failed, up to limit of them, and returns how many now have an
// outcome. Check-ins newer than settle are left to their own request.
func (l *Lifecycle) RetryRewards(ctx context.Context, settle time.Duration, limit int) (int, error) {
	completedID, err := l.statuses.CodeToID(ctx, model.StatusCompleted)
	if err != nil {
		return 0, err
	}

	pending, err := l.appointments.ListRewardPending(ctx, l.db, completedID, l.now().UTC().Add(-settle), limit)
	if err != nil {
		return 0, apperr.Wrap(apperr.System, err, "failed to list pending rewards")
	}

	done := 0
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		outcome, err := l.evaluateReward(ctx, &pending[i])
		if err != nil {
			continue
		}
		done++
		l.log.Info().
			Str("appointment_id", pending[i].ID).
			Str("reward_status", outcome.Status).
			Msg("reward evaluation retried")
	}
	return done, nil
}

// Get returns an appointment by id
func (l *Lifecycle) Get(ctx context.Context, appointmentID string) (*model.Appointment, error) {
	appointment, err := l.appointments.GetByID(ctx, l.db, appointmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "appointment not found")
		}
		return nil, apperr.Wrap(apperr.System, err, "failed to load appointment")
	}
	return appointment, nil
}

// ListForVisitor returns a visitor's appointments, latest slot first
func (l *Lifecycle) ListForVisitor(ctx context.Context, visitorID string) ([]model.Appointment, error) {
	appointments, err := l.appointments.ListByVisitor(ctx, l.db, visitorID)
	if err != nil {
		return nil, apperr.Wrap(apperr.System, err, "failed to list appointments")
	}
	return appointments, nil
}

func (l *Lifecycle) logTransition(appointmentID, from, to string) {
	metrics.RecordTransition(to)
	l.log.Info().
		Str("appointment_id", appointmentID).
		Str("from", from).
		Str("to", to).
		Msg("appointment status changed")
}

func notPending(status string) error {
	return apperr.New(apperr.State, "appointment is not pending (status %s)", status)
}
