package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reward statuses
const (
	RewardPending      = "PENDING"
	RewardEligible     = "ELIGIBLE"
	RewardManualReview = "MANUAL_REVIEW"
	RewardRedeemed     = "REDEEMED"
)

// Events that create a referral reward
const (
	TriggerOnRegistration = "ON_REGISTRATION"
	TriggerOnVisit        = "ON_VISIT"
)

// Redemption statuses
const (
	RedemptionUnlocked = "UNLOCKED"
	RedemptionRedeemed = "REDEEMED"
)

// ReferralReward is an append-only ledger row crediting a referrer
type ReferralReward struct {
	ID           string              `db:"id" json:"id"`
	ReferrerID   string              `db:"referrer_id" json:"referrer_id"`
	RefereeID    string              `db:"referee_id" json:"referee_id"`
	Status       string              `db:"status" json:"status"`
	TriggerEvent string              `db:"trigger_event" json:"trigger_event"`
	RewardType   string              `db:"reward_type" json:"reward_type"`
	Amount       decimal.NullDecimal `db:"amount" json:"amount"` // null when the reward carries no value
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
}

// Redemption is a perk unlocked for a user
type Redemption struct {
	ID          string          `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"user_id"`
	RewardItem  string          `db:"reward_item" json:"reward_item"`
	Status      string          `db:"status" json:"status"`
	Code        string          `db:"code" json:"code"`
	Amount      decimal.Decimal `db:"amount" json:"amount"` // zero for non-cash perks
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}
