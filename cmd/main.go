package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/propertygo/viewing/internal/auth"
	"github.com/propertygo/viewing/internal/catalog"
	"github.com/propertygo/viewing/internal/config"
	"github.com/propertygo/viewing/internal/database"
	"github.com/propertygo/viewing/internal/lifecycle"
	"github.com/propertygo/viewing/internal/logging"
	"github.com/propertygo/viewing/internal/ratelimit"
	"github.com/propertygo/viewing/internal/referral"
	"github.com/propertygo/viewing/internal/reward"
	"github.com/propertygo/viewing/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration from .env and environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}

	log := logging.New(cfg.App)
	log.Info().Str("environment", cfg.App.Environment).Msg("Starting viewing service")

	// Initialize database connection and schema
	db, err := database.NewDB(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}()

	if err := database.Setup(ctx, db.Conn); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare database schema")
	}

	statuses := catalog.NewStatusCatalog(db.Conn)
	if err := statuses.Reload(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load appointment statuses")
	}

	// Wire the engines
	limiter, sweepLimiter := newLimiter(cfg, db)
	attributor := referral.NewAttributor(db.Conn, limiter, log)
	program := referral.NewProgram(db.Conn, referral.ProgramConfig{
		CodeLength:   cfg.Referral.CodeLength,
		CodeAttempts: cfg.Referral.CodeAttempts,
		RewardKind:   cfg.Referral.RewardKind,
	}, time.Now, log)
	engine := reward.NewEngine(db.Conn, attributor,
		reward.NewVelocityGuard(cfg.Referral.VelocityWindow, cfg.Referral.VelocityThreshold),
		reward.Config{
			VoucherItem:  cfg.Referral.VoucherItem,
			RewardKind:   cfg.Referral.RewardKind,
			CodeLength:   cfg.Referral.CodeLength,
			CodeAttempts: cfg.Referral.CodeAttempts,
			RewardAmount: cfg.Referral.RewardAmount,
			VoucherValue: cfg.Referral.VoucherValue,
		}, time.Now, log)

	policy := lifecycle.Policy{
		VisitDuration:        cfg.Lifecycle.VisitDuration,
		GracePeriod:          cfg.Lifecycle.GracePeriod,
		AllowCancelConfirmed: cfg.Lifecycle.AllowCancelConfirmed,
		CredentialAttempts:   cfg.Lifecycle.CredentialAttempts,
	}
	appointments := lifecycle.New(db.Conn, statuses, attributor, engine, policy, log)
	sweeper := lifecycle.NewSweeper(db.Conn, statuses, policy, time.Now, log,
		lifecycle.WithRewardRetry(appointments, lifecycle.DefaultRewardSettle, lifecycle.DefaultRewardBatch))
	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.CronSecret, time.Now)

	if cfg.Auth.CronSecret == "" {
		log.Warn().Msg("AUTH_CRON_SECRET is not set, cron endpoint is open")
	}
	if cfg.Auth.JWTSecret == config.DevJWTSecret {
		log.Warn().Msg("AUTH_JWT_SECRET is not set, using the development signing key")
	}

	// Create HTTP mux
	mux := http.NewServeMux()

	// Register connect services
	mux.Handle(service.NewAppointmentServiceHandler(service.NewAppointmentServer(appointments, sweeper, authenticator, log)))
	mux.Handle(service.NewReferralServiceHandler(service.NewReferralServer(attributor, program, authenticator, log)))

	// Scheduler, health and metrics endpoints
	hostname, _ := os.Hostname()
	mux.Handle(service.CronPath, service.NewCronHandler(sweeper, authenticator, log))
	mux.Handle("/health", service.NewHealthHandler(hostname))
	mux.Handle("/health/db", service.NewDBHealthHandler(db.Conn, db.Driver))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(mux, &http2.Server{
			MaxConcurrentStreams: 1000,
		}),
	}

	// Background jobs stop with ctx
	if cfg.Sweeper.Enabled {
		go sweeper.Run(ctx, cfg.Sweeper.Interval)
	}
	go runEvery(ctx, cfg.Referral.RateWindow, func() {
		if err := sweepLimiter(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to sweep rate limit windows")
		}
	})

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting viewing service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}

// newLimiter builds the referral code limiter for the configured backend and
// returns it with a function that drops expired windows
func newLimiter(cfg *config.Config, db *database.DB) (ratelimit.Limiter, func(context.Context) error) {
	if cfg.Referral.RateBackend == "database" {
		l := ratelimit.NewSQLFixedWindow(db.Conn, cfg.Referral.RateMax, cfg.Referral.RateWindow, time.Now)
		return l, func(ctx context.Context) error {
			_, err := l.Sweep(ctx)
			return err
		}
	}

	l := ratelimit.NewFixedWindow(cfg.Referral.RateMax, cfg.Referral.RateWindow, time.Now)
	return l, func(context.Context) error {
		l.Sweep()
		return nil
	}
}

func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
