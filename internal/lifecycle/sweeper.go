package lifecycle

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/propertygo/viewing/internal/apperr"
	"github.com/propertygo/viewing/internal/catalog"
	"github.com/propertygo/viewing/internal/metrics"
	"github.com/propertygo/viewing/internal/model"
	"github.com/propertygo/viewing/internal/repository"
)

// Reward retry batch defaults
const (
	DefaultRewardSettle = time.Minute
	DefaultRewardBatch  = 100
)

// RewardRetrier re-runs failed visit reward evaluations
type RewardRetrier interface {
	RetryRewards(ctx context.Context, settle time.Duration, limit int) (int, error)
}

// Sweeper expires confirmed appointments whose check-in window has closed
// and, when configured, retries failed reward evaluations on each tick
type Sweeper struct {
	db           *sqlx.DB
	statuses     *catalog.StatusCatalog
	appointments *repository.AppointmentRepository
	policy       Policy
	rewards      RewardRetrier
	settle       time.Duration
	batch        int
	now          func() time.Time
	log          zerolog.Logger
}

// SweeperOption configures a Sweeper
type SweeperOption func(*Sweeper)

// WithRewardRetry makes every Run tick retry up to batch failed reward
// evaluations of check-ins older than settle
func WithRewardRetry(r RewardRetrier, settle time.Duration, batch int) SweeperOption {
	return func(s *Sweeper) {
		s.rewards = r
		s.settle = settle
		s.batch = batch
	}
}

// NewSweeper creates a no-show sweeper
func NewSweeper(db *sqlx.DB, statuses *catalog.StatusCatalog, policy Policy, now func() time.Time, log zerolog.Logger, opts ...SweeperOption) *Sweeper {
	if now == nil {
		now = time.Now
	}
	s := &Sweeper{
		db:           db,
		statuses:     statuses,
		appointments: repository.NewAppointmentRepository(),
		policy:       policy,
		now:          now,
		log:          log.With().Str("component", "sweeper").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.batch < 1 {
		s.batch = DefaultRewardBatch
	}
	return s
}

// ProcessNoShows moves every CONFIRMED appointment past its check-in window to
// NO_SHOW in one guarded update and returns how many changed. Running it again
// without new expiries returns zero.
func (s *Sweeper) ProcessNoShows(ctx context.Context) (int64, error) {
	ids, err := s.statuses.IDsFor(ctx, model.StatusConfirmed, model.StatusNoShow)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	cutoff := s.policy.NoShowCutoff(now)

	count, err := s.appointments.MarkNoShows(ctx, s.db, ids[model.StatusConfirmed], ids[model.StatusNoShow], cutoff, now)
	if err != nil {
		return 0, apperr.Wrap(apperr.System, err, "failed to process no-shows")
	}

	if count > 0 {
		metrics.RecordNoShows(count)
		s.log.Info().
			Int64("count", count).
			Time("cutoff", cutoff).
			Str("from", model.StatusConfirmed).
			Str("to", model.StatusNoShow).
			Msg("no-show sweep completed")
	}
	return count, nil
}

// RetryRewards retries one batch of failed reward evaluations. It is a no-op
// without WithRewardRetry.
func (s *Sweeper) RetryRewards(ctx context.Context) (int, error) {
	if s.rewards == nil {
		return 0, nil
	}
	done, err := s.rewards.RetryRewards(ctx, s.settle, s.batch)
	if err != nil {
		return done, err
	}
	if done > 0 {
		s.log.Info().Int("count", done).Msg("reward retry completed")
	}
	return done, nil
}

// Run sweeps every interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", interval).Msg("no-show sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("no-show sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.ProcessNoShows(ctx); err != nil {
				s.log.Error().Err(err).Msg("no-show sweep failed")
			}
			if _, err := s.RetryRewards(ctx); err != nil {
				s.log.Error().Err(err).Msg("reward retry failed")
			}
		}
	}
}
