// Package referral resolves who gets credited for a visit and manages
// referral codes.
package referral

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/propertygo/viewing/internal/apperr"
	"github.com/propertygo/viewing/internal/metrics"
	"github.com/propertygo/viewing/internal/ratelimit"
	"github.com/propertygo/viewing/internal/repository"
)

// Referrer is the owner of a verified referral code
type Referrer struct {
	ID   string
	Name string
}

// Attributor resolves effective referrers and verifies referral codes
type Attributor struct {
	db      repository.DBExecutor
	users   *repository.UserRepository
	limiter ratelimit.Limiter
	log     zerolog.Logger
}

// NewAttributor creates an attributor. Code verification goes through limiter.
func NewAttributor(db repository.DBExecutor, limiter ratelimit.Limiter, log zerolog.Logger) *Attributor {
	return &Attributor{
		db:      db,
		users:   repository.NewUserRepository(),
		limiter: limiter,
		log:     log.With().Str("component", "referral").Logger(),
	}
}

// ResolveReferrer returns the referrer credited for a visit by refereeID: the
// explicit per-appointment referrer when given, otherwise the referee's
// account-level referrer. An empty result means the visit is unattributed.
func (a *Attributor) ResolveReferrer(ctx context.Context, q repository.DBExecutor, refereeID string, explicitReferrerID *string) (string, error) {
	referrerID := ""
	if explicitReferrerID != nil {
		referrerID = strings.TrimSpace(*explicitReferrerID)
	}

	if referrerID == "" {
		user, err := a.users.GetUser(ctx, q, refereeID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			// Visitor has no account row here, so no account-level referrer either
		case err != nil:
			return "", apperr.Wrap(apperr.System, err, "failed to load referee")
		case user.ReferredByUserID != nil:
			referrerID = *user.ReferredByUserID
		}
	}

	if referrerID == "" {
		return "", nil
	}
	if referrerID == refereeID {
		return "", apperr.New(apperr.SelfReferral, "self-referral is not allowed")
	}
	return referrerID, nil
}

// VerifyCode checks a referral code on behalf of callerID. rateKey identifies
// the caller for throttling (usually the network address). callerID may be
// empty for anonymous callers, in which case the self-referral check is skipped.
func (a *Attributor) VerifyCode(ctx context.Context, rateKey, code, callerID string) (*Referrer, error) {
	allowed, err := a.limiter.Allow(ctx, rateKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.System, err, "failed to check rate limit")
	}
	if !allowed {
		metrics.RecordRateLimited()
		a.log.Warn().Str("rate_key", rateKey).Msg("referral code verification throttled")
		return nil, apperr.New(apperr.RateLimit, "too many requests, please try again later")
	}

	code = NormalizeCode(code)
	if code == "" {
		return nil, apperr.New(apperr.Validation, "invalid referral code")
	}

	owner, err := a.users.FindByReferralCode(ctx, a.db, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.Validation, "invalid referral code")
		}
		return nil, apperr.Wrap(apperr.System, err, "failed to look up referral code")
	}

	if callerID != "" && owner.ID == callerID {
		return nil, apperr.New(apperr.SelfReferral, "you cannot use your own referral code")
	}

	return &Referrer{ID: owner.ID, Name: owner.Name}, nil
}

// NormalizeCode trims and upper-cases a user-entered code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
