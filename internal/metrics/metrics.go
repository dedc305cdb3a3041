package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckInDuration tracks the latency of credential check-ins
	CheckInDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "viewing_checkin_duration_seconds",
			Help: "Duration of check-in requests in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
				10.0,  // 10s
			},
		},
		[]string{"status"}, // success or the error kind
	)

	// AppointmentTransitions counts committed status changes by target status
	AppointmentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewing_appointment_transitions_total",
			Help: "Appointment status transitions by target status",
		},
		[]string{"to"},
	)

	// RewardsIssued counts visit reward evaluations by outcome
	RewardsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewing_rewards_issued_total",
			Help: "Visit reward evaluations by outcome",
		},
		[]string{"status"},
	)

	// NoShowsSwept counts appointments expired by the sweeper
	NoShowsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewing_noshow_swept_total",
			Help: "Confirmed appointments moved to NO_SHOW by the sweeper",
		},
	)

	// ReferralRateLimited counts referral code checks rejected by the limiter
	ReferralRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewing_referral_rate_limited_total",
			Help: "Referral code verifications rejected by the rate limiter",
		},
	)
)

// RecordCheckInDuration records the duration of a check-in request
func RecordCheckInDuration(status string, duration float64) {
	CheckInDuration.WithLabelValues(status).Observe(duration)
}

// RecordTransition records a committed status change
func RecordTransition(to string) {
	AppointmentTransitions.WithLabelValues(to).Inc()
}

// RecordReward records a reward evaluation outcome
func RecordReward(status string) {
	RewardsIssued.WithLabelValues(status).Inc()
}

// RecordNoShows records appointments expired by one sweep
func RecordNoShows(count int64) {
	NoShowsSwept.Add(float64(count))
}

// RecordRateLimited records a throttled referral verification
func RecordRateLimited() {
	ReferralRateLimited.Inc()
}
