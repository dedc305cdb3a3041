package model

import (
	"time"
)

// User carries the account fields the referral engine reads and writes.
// The row itself belongs to the identity service.
type User struct {
	ID               string    `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	ReferralCode     *string   `db:"referral_code" json:"referral_code,omitempty"`
	ReferredByUserID *string   `db:"referred_by_user_id" json:"referred_by_user_id,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
