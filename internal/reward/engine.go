// Package reward credits referrers when a referred visitor checks in.
package reward

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/propertygo/viewing/internal/apperr"
	"github.com/propertygo/viewing/internal/metrics"
	"github.com/propertygo/viewing/internal/model"
	"github.com/propertygo/viewing/internal/referral"
	"github.com/propertygo/viewing/internal/repository"
)

// Outcome statuses of a visit evaluation
const (
	OutcomeEligible       = model.RewardEligible
	OutcomeManualReview   = model.RewardManualReview
	OutcomeAlreadyVisited = "ALREADY_VISITED"
	OutcomeNoReferrer     = "NO_REFERRER"
	OutcomeFailed         = "FAILED"
)

const voucherPrefix = "VOUCHER-"

// ReferrerResolver picks the referrer credited for a visit
type ReferrerResolver interface {
	ResolveReferrer(ctx context.Context, q repository.DBExecutor, refereeID string, explicitReferrerID *string) (string, error)
}

// Config holds reward issuance settings
type Config struct {
	VoucherItem  string
	RewardKind   string
	CodeLength   int
	CodeAttempts int
	// RewardAmount is credited to the referrer; zero records no amount
	RewardAmount decimal.Decimal
	// VoucherValue is the face value of the referee's voucher
	VoucherValue decimal.Decimal
}

// Outcome describes what a visit evaluation did
type Outcome struct {
	Status      string `json:"status"`
	ReferrerID  string `json:"referrer_id,omitempty"`
	RewardID    string `json:"reward_id,omitempty"`
	VoucherCode string `json:"voucher_code,omitempty"`
	Message     string `json:"message"`
}

// Engine evaluates completed visits and writes reward ledger entries
type Engine struct {
	db       *sqlx.DB
	resolver ReferrerResolver
	guard    *VelocityGuard
	rewards  *repository.RewardRepository
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger
}

// NewEngine creates a reward engine
func NewEngine(db *sqlx.DB, resolver ReferrerResolver, guard *VelocityGuard, cfg Config, now func() time.Time, log zerolog.Logger) *Engine {
	if now == nil {
		now = time.Now
	}
	if cfg.CodeAttempts < 1 {
		cfg.CodeAttempts = 1
	}
	return &Engine{
		db:       db,
		resolver: resolver,
		guard:    guard,
		rewards:  repository.NewRewardRepository(),
		cfg:      cfg,
		now:      now,
		log:      log.With().Str("component", "reward").Logger(),
	}
}

// EvaluateVisit credits the referrer of refereeID for a completed visit. The
// visit reward and the referee's voucher are written in one transaction, and
// a referee is credited at most once no matter how often this is called.
func (e *Engine) EvaluateVisit(ctx context.Context, refereeID string, explicitReferrerID *string) (*Outcome, error) {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.System, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	visited, err := e.rewards.HasVisitReward(ctx, tx, refereeID)
	if err != nil {
		return nil, apperr.Wrap(apperr.System, err, "failed to check visit reward")
	}
	if visited {
		return alreadyVisited(), nil
	}

	referrerID, err := e.resolver.ResolveReferrer(ctx, tx, refereeID, explicitReferrerID)
	if err != nil {
		return nil, err
	}
	if referrerID == "" {
		metrics.RecordReward(OutcomeNoReferrer)
		return &Outcome{Status: OutcomeNoReferrer, Message: "Visit verified. No referrer linked."}, nil
	}

	// Concurrent visits of one referrer's referees must see each other's
	// rewards in the velocity count
	if err := e.rewards.LockReferrer(ctx, tx, referrerID); err != nil {
		return nil, apperr.Wrap(apperr.System, err, "failed to lock referrer")
	}

	now := e.now().UTC()
	status, recent, err := e.guard.Assess(ctx, tx, referrerID, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.System, err, "failed to assess referrer velocity")
	}

	reward := &model.ReferralReward{
		ReferrerID:   referrerID,
		RefereeID:    refereeID,
		Status:       status,
		TriggerEvent: model.TriggerOnVisit,
		RewardType:   e.cfg.RewardKind,
		CreatedAt:    now,
	}
	if !e.cfg.RewardAmount.IsZero() {
		reward.Amount = decimal.NewNullDecimal(e.cfg.RewardAmount.Round(2))
	}
	inserted, err := e.rewards.InsertReward(ctx, tx, reward)
	if err != nil {
		return nil, apperr.Wrap(apperr.System, err, "failed to record visit reward")
	}
	if !inserted {
		// A concurrent evaluation for the same referee won the unique index
		return alreadyVisited(), nil
	}

	voucher, err := e.issueVoucher(ctx, tx, refereeID, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.System, err, "failed to commit transaction")
	}

	metrics.RecordReward(status)
	event := e.log.Info()
	if status == model.RewardManualReview {
		event = e.log.Warn()
	}
	event.
		Str("referrer_id", referrerID).
		Str("referee_id", refereeID).
		Str("status", status).
		Int("recent_rewards", recent).
		Msg("visit reward issued")

	message := "Visit verified. Reward issued to referrer."
	if status == model.RewardManualReview {
		message = "Visit verified. Referrer reward held for manual review."
	}

	return &Outcome{
		Status:      status,
		ReferrerID:  referrerID,
		RewardID:    reward.ID,
		VoucherCode: voucher.Code,
		Message:     message,
	}, nil
}

func (e *Engine) issueVoucher(ctx context.Context, tx *sqlx.Tx, userID string, now time.Time) (*model.Redemption, error) {
	for attempt := 1; attempt <= e.cfg.CodeAttempts; attempt++ {
		code, err := referral.GenerateCode(e.cfg.CodeLength)
		if err != nil {
			return nil, apperr.Wrap(apperr.System, err, "failed to generate voucher code")
		}

		voucher := &model.Redemption{
			UserID:     userID,
			RewardItem: e.cfg.VoucherItem,
			Status:     model.RedemptionUnlocked,
			Code:       voucherPrefix + code,
			Amount:     e.cfg.VoucherValue.Round(2),
			CreatedAt:  now,
		}
		inserted, err := e.rewards.InsertRedemption(ctx, tx, voucher)
		if err != nil {
			return nil, apperr.Wrap(apperr.System, err, "failed to record voucher")
		}
		if inserted {
			return voucher, nil
		}
		e.log.Debug().Int("attempt", attempt).Msg("voucher code collision, retrying")
	}

	return nil, apperr.New(apperr.System, "could not allocate a unique voucher code")
}

func alreadyVisited() *Outcome {
	metrics.RecordReward(OutcomeAlreadyVisited)
	return &Outcome{Status: OutcomeAlreadyVisited, Message: "Already visited"}
}
