package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(AppointmentTransitions.WithLabelValues("COMPLETED"))
	RecordTransition("COMPLETED")
	if got := testutil.ToFloat64(AppointmentTransitions.WithLabelValues("COMPLETED")); got != before+1 {
		t.Errorf("expected %v transitions, got %v", before+1, got)
	}

	swept := testutil.ToFloat64(NoShowsSwept)
	RecordNoShows(3)
	if got := testutil.ToFloat64(NoShowsSwept); got != swept+3 {
		t.Errorf("expected %v swept, got %v", swept+3, got)
	}

	limited := testutil.ToFloat64(ReferralRateLimited)
	RecordRateLimited()
	if got := testutil.ToFloat64(ReferralRateLimited); got != limited+1 {
		t.Errorf("expected %v throttled, got %v", limited+1, got)
	}

	RecordCheckInDuration("success", 0.02)
	if n := testutil.CollectAndCount(CheckInDuration); n < 1 {
		t.Errorf("expected check-in histogram series, got %d", n)
	}
}
