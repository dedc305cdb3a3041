package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/propertygo/viewing/internal/model"
)

// RewardRepository is the append-only ledger of referral rewards and redemptions
type RewardRepository struct{}

// NewRewardRepository creates a new reward repository
func NewRewardRepository() *RewardRepository {
	return &RewardRepository{}
}

// HasVisitReward reports whether the referee already generated an ON_VISIT reward
func (r *RewardRepository) HasVisitReward(ctx context.Context, db DBExecutor, refereeID string) (bool, error) {
	query := db.Rebind(`
		SELECT COUNT(*)
		FROM referral_rewards
		WHERE referee_id = ? AND trigger_event = ?
	`)

	var count int
	if err := db.GetContext(ctx, &count, query, refereeID, model.TriggerOnVisit); err != nil {
		return false, fmt.Errorf("failed to check visit reward: %w", err)
	}

	return count > 0, nil
}

// LockReferrer serializes visit rewards of one referrer until the surrounding
// transaction ends. SQLite already serializes writers on its single connection.
func (r *RewardRepository) LockReferrer(ctx context.Context, db DBExecutor, referrerID string) error {
	if db.DriverName() != "postgres" {
		return nil
	}
	if _, err := db.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, referrerID); err != nil {
		return fmt.Errorf("failed to lock referrer: %w", err)
	}
	return nil
}

// CountVisitRewardsSince counts a referrer's ON_VISIT rewards created after since
func (r *RewardRepository) CountVisitRewardsSince(ctx context.Context, db DBExecutor, referrerID string, since time.Time) (int, error) {
	query := db.Rebind(`
		SELECT COUNT(*)
		FROM referral_rewards
		WHERE referrer_id = ? AND trigger_event = ? AND created_at > ?
	`)

	var count int
	if err := db.GetContext(ctx, &count, query, referrerID, model.TriggerOnVisit, since); err != nil {
		return 0, fmt.Errorf("failed to count visit rewards: %w", err)
	}

	return count, nil
}

// InsertReward appends a reward. It returns false without error when a unique
// index (one reward per referee and trigger) already holds a matching row.
func (r *RewardRepository) InsertReward(ctx context.Context, db DBExecutor, reward *model.ReferralReward) (bool, error) {
	if reward.ID == "" {
		reward.ID = uuid.NewString()
	}

	query := db.Rebind(`
		INSERT INTO referral_rewards (id, referrer_id, referee_id, status, trigger_event,
		                              reward_type, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)

	result, err := db.ExecContext(ctx, query,
		reward.ID, reward.ReferrerID, reward.RefereeID, reward.Status, reward.TriggerEvent,
		reward.RewardType, reward.Amount, reward.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert reward: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// InsertRedemption appends a redemption. It returns false without error when the
// redemption code is already taken.
func (r *RewardRepository) InsertRedemption(ctx context.Context, db DBExecutor, redemption *model.Redemption) (bool, error) {
	if redemption.ID == "" {
		redemption.ID = uuid.NewString()
	}
	if redemption.UpdatedAt.IsZero() {
		redemption.UpdatedAt = redemption.CreatedAt
	}

	query := db.Rebind(`
		INSERT INTO redemptions (id, user_id, reward_item, status, code, amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)

	result, err := db.ExecContext(ctx, query,
		redemption.ID, redemption.UserID, redemption.RewardItem, redemption.Status,
		redemption.Code, redemption.Amount, redemption.CreatedAt, redemption.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert redemption: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// ListRewardsByReferrer returns a referrer's rewards, newest first
func (r *RewardRepository) ListRewardsByReferrer(ctx context.Context, db DBExecutor, referrerID string) ([]model.ReferralReward, error) {
	query := db.Rebind(`
		SELECT id, referrer_id, referee_id, status, trigger_event, reward_type, amount, created_at
		FROM referral_rewards
		WHERE referrer_id = ?
		ORDER BY created_at DESC
	`)

	rewards := []model.ReferralReward{}
	if err := db.SelectContext(ctx, &rewards, query, referrerID); err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}

	return rewards, nil
}

// ListRewardsByReferee returns every reward that names the user as referee
func (r *RewardRepository) ListRewardsByReferee(ctx context.Context, db DBExecutor, refereeID string) ([]model.ReferralReward, error) {
	query := db.Rebind(`
		SELECT id, referrer_id, referee_id, status, trigger_event, reward_type, amount, created_at
		FROM referral_rewards
		WHERE referee_id = ?
		ORDER BY created_at ASC
	`)

	rewards := []model.ReferralReward{}
	if err := db.SelectContext(ctx, &rewards, query, refereeID); err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}

	return rewards, nil
}

// CountRewardsByStatus counts a referrer's rewards in the given status
func (r *RewardRepository) CountRewardsByStatus(ctx context.Context, db DBExecutor, referrerID, status string) (int, error) {
	query := db.Rebind(`
		SELECT COUNT(*)
		FROM referral_rewards
		WHERE referrer_id = ? AND status = ?
	`)

	var count int
	if err := db.GetContext(ctx, &count, query, referrerID, status); err != nil {
		return 0, fmt.Errorf("failed to count rewards: %w", err)
	}

	return count, nil
}

// ListRedemptionsByUser returns a user's redemptions, oldest first
func (r *RewardRepository) ListRedemptionsByUser(ctx context.Context, db DBExecutor, userID string) ([]model.Redemption, error) {
	query := db.Rebind(`
		SELECT id, user_id, reward_item, status, code, amount, created_at, updated_at
		FROM redemptions
		WHERE user_id = ?
		ORDER BY created_at ASC
	`)

	redemptions := []model.Redemption{}
	if err := db.SelectContext(ctx, &redemptions, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list redemptions: %w", err)
	}

	return redemptions, nil
}
