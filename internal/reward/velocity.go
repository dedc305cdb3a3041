package reward

import (
	"context"
	"fmt"
	"time"

	"github.com/propertygo/viewing/internal/model"
	"github.com/propertygo/viewing/internal/repository"
)

// VelocityGuard flags referrers whose visit rewards arrive faster than the
// configured threshold
type VelocityGuard struct {
	rewards   *repository.RewardRepository
	window    time.Duration
	threshold int
}

// NewVelocityGuard creates a guard counting rewards over a trailing window
func NewVelocityGuard(window time.Duration, threshold int) *VelocityGuard {
	return &VelocityGuard{
		rewards:   repository.NewRewardRepository(),
		window:    window,
		threshold: threshold,
	}
}

// Assess returns the status a new visit reward for referrerID should get, and
// the number of visit rewards already credited within the window
func (g *VelocityGuard) Assess(ctx context.Context, q repository.DBExecutor, referrerID string, now time.Time) (string, int, error) {
	count, err := g.rewards.CountVisitRewardsSince(ctx, q, referrerID, now.Add(-g.window).UTC())
	if err != nil {
		return "", 0, fmt.Errorf("failed to assess velocity: %w", err)
	}

	if count >= g.threshold {
		return model.RewardManualReview, count, nil
	}
	return model.RewardEligible, count, nil
}
