package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/propertygo/viewing/internal/auth"
	"github.com/propertygo/viewing/internal/config"
	"github.com/propertygo/viewing/internal/service"
)

// LoadResult gathers aggregated metrics for the run.
// LatencySum and P95Latency are in nanoseconds.
type LoadResult struct {
	TotalRequests int64
	SuccessCount  int64
	RejectedCount int64
	ErrorCount    int64
	LatencySum    int64
	P95Latency    int64
}

const (
	fixedAppointments = 200
	fixedScansPerCred = 5
	fixedRPSTarget    = 300
	fixedWorkers      = 20
	defaultTimeout    = 30 * time.Second
	defaultTarget     = "http://localhost:8080"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	ctx := context.Background()

	// Tokens are signed with the server's secret
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret, time.Hour, "", time.Now)

	target := os.Getenv("LOAD_TARGET")
	if target == "" {
		target = defaultTarget
	}

	// ─── HTTP Client & Transport ─────────────────────────────────
	transport := &http.Transport{
		MaxIdleConns:        fixedWorkers * 4,
		MaxIdleConnsPerHost: fixedWorkers * 4,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   defaultTimeout,
	}
	client := service.NewAppointmentServiceClient(httpClient, target)

	agentToken, err := authenticator.IssueToken("load-agent", auth.RoleAgent)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to issue agent token")
	}

	log.Info().
		Str("target", target).
		Int("appointments", fixedAppointments).
		Int("scans_per_credential", fixedScansPerCred).
		Int("rps", fixedRPSTarget).
		Msg("starting check-in load test")

	limiter := rate.NewLimiter(rate.Limit(fixedRPSTarget), max(fixedRPSTarget/fixedWorkers, 1))

	// ─── Book and confirm ───────────────────────────────────────
	credentials, err := prepareCredentials(ctx, client, authenticator, agentToken, limiter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare appointments")
	}
	log.Info().Int("credentials", len(credentials)).Msg("appointments confirmed")

	// ─── Concurrent duplicate check-ins ─────────────────────────
	var result LoadResult
	wins := make([]int64, len(credentials))
	latencyChan := make(chan time.Duration, 4096)
	p95Done := make(chan struct{})
	go func() {
		trackP95(latencyChan, &result)
		close(p95Done)
	}()

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < fixedWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				var scans sync.WaitGroup
				for s := 0; s < fixedScansPerCred; s++ {
					if err := limiter.Wait(ctx); err != nil {
						return
					}
					scans.Add(1)
					go func() {
						defer scans.Done()
						if doCheckIn(client, agentToken, credentials[idx], &result, latencyChan) {
							atomic.AddInt64(&wins[idx], 1)
						}
					}()
				}
				scans.Wait()
			}
		}()
	}

	start := time.Now()
	for idx := range credentials {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()
	close(latencyChan)
	<-p95Done
	totalDur := time.Since(start)

	// ─── Report ─────────────────────────────────────────────────
	var avgLatency time.Duration
	if result.SuccessCount > 0 {
		avgLatency = time.Duration(result.LatencySum / result.SuccessCount)
	}
	log.Info().
		Dur("duration", totalDur).
		Int64("total", result.TotalRequests).
		Int64("success", result.SuccessCount).
		Int64("already_processed", result.RejectedCount).
		Int64("errors", result.ErrorCount).
		Float64("rps", float64(result.TotalRequests)/totalDur.Seconds()).
		Dur("avg_latency", avgLatency).
		Dur("p95_latency", time.Duration(result.P95Latency)).
		Msg("check-in load test finished")

	// ─── Data Consistency Check ─────────────────────────────────
	if err := verifyExactlyOnce(wins); err != nil {
		log.Error().Err(err).Msg("consistency check failed")
		os.Exit(1)
	}
	log.Info().Msg("every credential was checked in exactly once")
}

// prepareCredentials books and confirms appointments for distinct visitors
// and returns their credentials
func prepareCredentials(ctx context.Context, client *service.AppointmentServiceClient, authenticator *auth.Authenticator, agentToken string, limiter *rate.Limiter) ([]string, error) {
	credentials := make([]string, 0, fixedAppointments)
	scheduledAt := time.Now().UTC().Add(30 * time.Minute)

	for i := 0; i < fixedAppointments; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		visitorToken, err := authenticator.IssueToken(fmt.Sprintf("load-visitor-%d", i), auth.RoleCustomer)
		if err != nil {
			return nil, fmt.Errorf("issue visitor token: %w", err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		book := connect.NewRequest(&service.BookAppointmentRequest{
			ListingID:   "load-listing",
			ScheduledAt: scheduledAt,
		})
		book.Header().Set("Authorization", "Bearer "+visitorToken)
		booked, err := client.BookAppointment(reqCtx, book)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("book appointment %d: %w", i, err)
		}

		confirm := connect.NewRequest(&service.ConfirmAppointmentRequest{AppointmentID: booked.Msg.AppointmentID})
		confirm.Header().Set("Authorization", "Bearer "+agentToken)
		confirmed, err := client.ConfirmAppointment(reqCtx, confirm)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("confirm appointment %d: %w", i, err)
		}

		credentials = append(credentials, confirmed.Msg.CredentialToken)
	}

	return credentials, nil
}

// doCheckIn performs a single CheckIn RPC, collects metrics and reports
// whether this call won the check-in
func doCheckIn(client *service.AppointmentServiceClient, agentToken, credential string, result *LoadResult, latencyChan chan<- time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req := connect.NewRequest(&service.CheckInRequest{CredentialToken: credential})
	req.Header().Set("Authorization", "Bearer "+agentToken)

	start := time.Now()
	atomic.AddInt64(&result.TotalRequests, 1)

	_, err := client.CheckIn(ctx, req)
	latency := time.Since(start)

	switch {
	case err == nil:
		atomic.AddInt64(&result.SuccessCount, 1)
		atomic.AddInt64(&result.LatencySum, latency.Nanoseconds())
		select {
		case latencyChan <- latency:
		default:
		}
		return true
	case connect.CodeOf(err) == connect.CodeFailedPrecondition:
		atomic.AddInt64(&result.RejectedCount, 1)
	default:
		atomic.AddInt64(&result.ErrorCount, 1)
	}
	return false
}

// trackP95 maintains a best-effort rolling P95 latency estimate
func trackP95(latencies <-chan time.Duration, result *LoadResult) {
	const size = 1000
	buf := make([]int64, 0, size)

	for lat := range latencies {
		if len(buf) < size {
			buf = append(buf, lat.Nanoseconds())
		} else if idx := time.Now().UnixNano() % int64(size); idx < int64(size/10) {
			buf[idx] = lat.Nanoseconds()
		}

		if len(buf) >= 100 && len(buf)%100 == 0 {
			sorted := slices.Clone(buf)
			slices.Sort(sorted)
			p95Index := min(int(float64(len(sorted))*0.95), len(sorted)-1)
			atomic.StoreInt64(&result.P95Latency, sorted[p95Index])
		}
	}
}

// verifyExactlyOnce checks that each credential had exactly one winning scan
func verifyExactlyOnce(wins []int64) error {
	var missing, duplicated int
	for _, w := range wins {
		switch {
		case w == 0:
			missing++
		case w > 1:
			duplicated++
		}
	}
	if missing > 0 || duplicated > 0 {
		return fmt.Errorf("%d credentials never checked in, %d checked in more than once", missing, duplicated)
	}
	return nil
}
