package referral

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/propertygo/viewing/internal/apperr"
	"github.com/propertygo/viewing/internal/model"
	"github.com/propertygo/viewing/internal/repository"
)

// ProgramConfig holds referral code and signup reward settings
type ProgramConfig struct {
	CodeLength   int
	CodeAttempts int
	RewardKind   string
}

// Stats summarizes a user's referral activity
type Stats struct {
	ReferralCode   string `json:"referral_code"`
	ReferralsCount int    `json:"referrals_count"`
	RewardsCount   int    `json:"rewards_count"`
	// TotalEarned sums the amounts of eligible rewards
	TotalEarned decimal.Decimal `json:"total_earned"`
}

// Program manages users' referral codes and account-level referrals
type Program struct {
	db      *sqlx.DB
	users   *repository.UserRepository
	rewards *repository.RewardRepository
	cfg     ProgramConfig
	now     func() time.Time
	log     zerolog.Logger
}

// NewProgram creates a referral program
func NewProgram(db *sqlx.DB, cfg ProgramConfig, now func() time.Time, log zerolog.Logger) *Program {
	if now == nil {
		now = time.Now
	}
	if cfg.CodeAttempts < 1 {
		cfg.CodeAttempts = 1
	}
	return &Program{
		db:      db,
		users:   repository.NewUserRepository(),
		rewards: repository.NewRewardRepository(),
		cfg:     cfg,
		now:     now,
		log:     log.With().Str("component", "referral-program").Logger(),
	}
}

// EnsureReferralCode returns the user's referral code, allocating one if the
// user has none. Collisions with existing codes are retried.
func (p *Program) EnsureReferralCode(ctx context.Context, userID string) (string, error) {
	user, err := p.users.GetUser(ctx, p.db, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", apperr.New(apperr.NotFound, "user not found")
		}
		return "", apperr.Wrap(apperr.System, err, "failed to load user")
	}
	if user.ReferralCode != nil {
		return *user.ReferralCode, nil
	}

	for attempt := 1; attempt <= p.cfg.CodeAttempts; attempt++ {
		code, err := GenerateCode(p.cfg.CodeLength)
		if err != nil {
			return "", apperr.Wrap(apperr.System, err, "failed to generate referral code")
		}

		err = p.users.SetReferralCode(ctx, p.db, userID, code)
		switch {
		case err == nil:
			p.log.Info().Str("user_id", userID).Msg("referral code assigned")
			return code, nil
		case errors.Is(err, repository.ErrDuplicate):
			p.log.Debug().Int("attempt", attempt).Msg("referral code collision, retrying")
		case errors.Is(err, repository.ErrConflict):
			// Assigned concurrently by another request
			return p.assignedCode(ctx, userID)
		default:
			return "", apperr.Wrap(apperr.System, err, "failed to store referral code")
		}
	}

	return "", apperr.New(apperr.System, "could not allocate a unique referral code")
}

// assignedCode reloads a code another request stored for userID
func (p *Program) assignedCode(ctx context.Context, userID string) (string, error) {
	user, err := p.users.GetUser(ctx, p.db, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", apperr.New(apperr.NotFound, "user not found")
		}
		return "", apperr.Wrap(apperr.System, err, "failed to reload referral code")
	}
	if user.ReferralCode == nil {
		return "", apperr.New(apperr.System, "referral code of user %s changed concurrently but is still empty", userID)
	}
	return *user.ReferralCode, nil
}

// ApplySignupReferral links a new account to the owner of code and records a
// pending registration reward for the owner
func (p *Program) ApplySignupReferral(ctx context.Context, userID, code string) error {
	owner, err := p.users.FindByReferralCode(ctx, p.db, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.Validation, "invalid referral code")
		}
		return apperr.Wrap(apperr.System, err, "failed to look up referral code")
	}
	if owner.ID == userID {
		return apperr.New(apperr.SelfReferral, "self-referral is not allowed")
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.System, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := p.users.GetUser(ctx, tx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.NotFound, "user not found")
		}
		return apperr.Wrap(apperr.System, err, "failed to load user")
	}

	if err := p.users.SetReferredBy(ctx, tx, userID, owner.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperr.New(apperr.Validation, "account already has a referrer")
		}
		return apperr.Wrap(apperr.System, err, "failed to link referrer")
	}

	_, err = p.rewards.InsertReward(ctx, tx, &model.ReferralReward{
		ReferrerID:   owner.ID,
		RefereeID:    userID,
		Status:       model.RewardPending,
		TriggerEvent: model.TriggerOnRegistration,
		RewardType:   p.cfg.RewardKind,
		CreatedAt:    p.now().UTC(),
	})
	if err != nil {
		return apperr.Wrap(apperr.System, err, "failed to record registration reward")
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.System, err, "failed to commit transaction")
	}

	p.log.Info().Str("user_id", userID).Str("referrer_id", owner.ID).Msg("signup referral applied")
	return nil
}

// Stats returns the user's code, how many accounts they referred and how many
// of their rewards are eligible
func (p *Program) Stats(ctx context.Context, userID string) (*Stats, error) {
	code, err := p.EnsureReferralCode(ctx, userID)
	if err != nil {
		return nil, err
	}

	referrals, err := p.users.CountReferredUsers(ctx, p.db, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.System, err, "failed to count referrals")
	}

	rewards, err := p.rewards.CountRewardsByStatus(ctx, p.db, userID, model.RewardEligible)
	if err != nil {
		return nil, apperr.Wrap(apperr.System, err, "failed to count rewards")
	}

	history, err := p.rewards.ListRewardsByReferrer(ctx, p.db, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.System, err, "failed to load rewards")
	}
	total := decimal.Zero
	for _, r := range history {
		if r.Status == model.RewardEligible && r.Amount.Valid {
			total = total.Add(r.Amount.Decimal)
		}
	}

	return &Stats{ReferralCode: code, ReferralsCount: referrals, RewardsCount: rewards, TotalEarned: total}, nil
}

// History returns rewards credited to the referrer, newest first
func (p *Program) History(ctx context.Context, referrerID string) ([]model.ReferralReward, error) {
	rewards, err := p.rewards.ListRewardsByReferrer(ctx, p.db, referrerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.System, err, "failed to load referral history")
	}
	return rewards, nil
}
