package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/propertygo/viewing/internal/model"
)

// UserRepository reads and updates the referral fields of user accounts
type UserRepository struct{}

// NewUserRepository creates a new user repository
func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

// Create inserts a user row
func (r *UserRepository) Create(ctx context.Context, db DBExecutor, u *model.User) error {
	query := db.Rebind(`
		INSERT INTO users (id, name, referral_code, referred_by_user_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)

	if _, err := db.ExecContext(ctx, query, u.ID, u.Name, u.ReferralCode, u.ReferredByUserID, u.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, db DBExecutor, id string) (*model.User, error) {
	return r.getOne(ctx, db, `WHERE id = ?`, id)
}

// FindByReferralCode retrieves the owner of a referral code
func (r *UserRepository) FindByReferralCode(ctx context.Context, db DBExecutor, code string) (*model.User, error) {
	return r.getOne(ctx, db, `WHERE referral_code = ?`, code)
}

func (r *UserRepository) getOne(ctx context.Context, db DBExecutor, where string, arg string) (*model.User, error) {
	query := db.Rebind(`
		SELECT id, name, referral_code, referred_by_user_id, created_at
		FROM users
	` + where)

	var user model.User
	if err := db.GetContext(ctx, &user, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// SetReferralCode assigns a code to a user that has none. Returns ErrDuplicate
// when another user owns the code and ErrConflict when the user already has one.
func (r *UserRepository) SetReferralCode(ctx context.Context, db DBExecutor, userID, code string) error {
	query := db.Rebind(`
		UPDATE users
		SET referral_code = ?
		WHERE id = ? AND referral_code IS NULL
	`)

	result, err := db.ExecContext(ctx, query, code, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to set referral code: %w", err)
	}

	return expectOneRow(result)
}

// SetReferredBy records the account-level referrer once
func (r *UserRepository) SetReferredBy(ctx context.Context, db DBExecutor, userID, referrerID string) error {
	query := db.Rebind(`
		UPDATE users
		SET referred_by_user_id = ?
		WHERE id = ? AND referred_by_user_id IS NULL
	`)

	result, err := db.ExecContext(ctx, query, referrerID, userID)
	if err != nil {
		return fmt.Errorf("failed to set referrer: %w", err)
	}

	return expectOneRow(result)
}

// CountReferredUsers counts accounts that signed up with the referrer's code
func (r *UserRepository) CountReferredUsers(ctx context.Context, db DBExecutor, referrerID string) (int, error) {
	query := db.Rebind(`SELECT COUNT(*) FROM users WHERE referred_by_user_id = ?`)

	var count int
	if err := db.GetContext(ctx, &count, query, referrerID); err != nil {
		return 0, fmt.Errorf("failed to count referred users: %w", err)
	}

	return count, nil
}
