package repository

import (
	"context"
	"fmt"
	"time"
)

// RateLimitRepository stores fixed-window counters shared by all service instances
type RateLimitRepository struct{}

// NewRateLimitRepository creates a new rate limit repository
func NewRateLimitRepository() *RateLimitRepository {
	return &RateLimitRepository{}
}

// Hit counts one request for key and returns the count in the current window.
// An expired window is restarted at 1 in the same statement.
func (r *RateLimitRepository) Hit(ctx context.Context, db DBExecutor, key string, now time.Time, window time.Duration) (int, error) {
	query := db.Rebind(`
		INSERT INTO rate_limit_windows (bucket_key, hits, expires_at)
		VALUES (?, 1, ?)
		ON CONFLICT (bucket_key) DO UPDATE SET
			hits = CASE WHEN rate_limit_windows.expires_at <= ? THEN 1
			            ELSE rate_limit_windows.hits + 1 END,
			expires_at = CASE WHEN rate_limit_windows.expires_at <= ? THEN excluded.expires_at
			                  ELSE rate_limit_windows.expires_at END
		RETURNING hits
	`)

	var hits int
	if err := db.GetContext(ctx, &hits, query, key, now.Add(window), now, now); err != nil {
		return 0, fmt.Errorf("failed to count request: %w", err)
	}

	return hits, nil
}

// DeleteExpired removes windows that ended before now
func (r *RateLimitRepository) DeleteExpired(ctx context.Context, db DBExecutor, now time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM rate_limit_windows WHERE expires_at <= ?`), now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired windows: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
