package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"

	"github.com/propertygo/viewing/internal/apperr"
	"github.com/propertygo/viewing/internal/auth"
	"github.com/propertygo/viewing/internal/catalog"
	"github.com/propertygo/viewing/internal/database"
	"github.com/propertygo/viewing/internal/lifecycle"
	"github.com/propertygo/viewing/internal/model"
	"github.com/propertygo/viewing/internal/ratelimit"
	"github.com/propertygo/viewing/internal/referral"
	"github.com/propertygo/viewing/internal/repository"
	"github.com/propertygo/viewing/internal/reward"
)

var slot = time.Date(2025, 7, 1, 14, 0, 0, 0, time.UTC)

func clock() time.Time { return slot.Add(-time.Hour) }

type testServer struct {
	server       *httptest.Server
	auth         *auth.Authenticator
	appointments *AppointmentServiceClient
	referrals    *ReferralServiceClient
}

func newTestServer(t *testing.T, rateMax int) *testServer {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if err := database.Setup(ctx, db.Conn); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	users := repository.NewUserRepository()
	for _, u := range []struct{ id, code string }{{"xavier", "XAVIER01"}, {"rita", ""}} {
		user := &model.User{ID: u.id, Name: u.id, CreatedAt: clock()}
		if u.code != "" {
			code := u.code
			user.ReferralCode = &code
		}
		if err := users.Create(ctx, db.Conn, user); err != nil {
			t.Fatalf("failed to create user: %v", err)
		}
	}

	log := zerolog.Nop()
	policy := lifecycle.Policy{VisitDuration: time.Hour, GracePeriod: 2 * time.Hour, AllowCancelConfirmed: true, CredentialAttempts: 5}
	statuses := catalog.NewStatusCatalog(db.Conn)
	attributor := referral.NewAttributor(db.Conn, ratelimit.NewFixedWindow(rateMax, time.Minute, clock), log)
	program := referral.NewProgram(db.Conn, referral.ProgramConfig{CodeLength: 8, CodeAttempts: 5, RewardKind: "POINTS"}, clock, log)
	engine := reward.NewEngine(db.Conn, attributor, reward.NewVelocityGuard(24*time.Hour, 5),
		reward.Config{VoucherItem: "Door Gift Voucher", RewardKind: "POINTS", CodeLength: 8, CodeAttempts: 5}, clock, log)
	l := lifecycle.New(db.Conn, statuses, attributor, engine, policy, log, lifecycle.WithClock(clock))
	sweeper := lifecycle.NewSweeper(db.Conn, statuses, policy, clock, log,
		lifecycle.WithRewardRetry(l, lifecycle.DefaultRewardSettle, lifecycle.DefaultRewardBatch))
	authenticator := auth.NewAuthenticator("test-secret", time.Hour, "cron-secret", clock)

	mux := http.NewServeMux()
	mux.Handle(NewAppointmentServiceHandler(NewAppointmentServer(l, sweeper, authenticator, log)))
	mux.Handle(NewReferralServiceHandler(NewReferralServer(attributor, program, authenticator, log)))
	mux.Handle(CronPath, NewCronHandler(sweeper, authenticator, log))
	mux.Handle("/health/db", NewDBHealthHandler(db.Conn, db.Driver))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testServer{
		server:       server,
		auth:         authenticator,
		appointments: NewAppointmentServiceClient(server.Client(), server.URL),
		referrals:    NewReferralServiceClient(server.Client(), server.URL),
	}
}

func authorized[T any](t *testing.T, ts *testServer, userID, role string, msg *T) *connect.Request[T] {
	t.Helper()
	token, err := ts.auth.IssueToken(userID, role)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	req := connect.NewRequest(msg)
	req.Header().Set("Authorization", "Bearer "+token)
	return req
}

func expectCode(t *testing.T, err error, code connect.Code, kind apperr.Kind) {
	t.Helper()
	if connect.CodeOf(err) != code {
		t.Fatalf("expected code %s, got %v", code, err)
	}
	if kind != "" && KindFromError(err) != kind {
		t.Errorf("expected kind %s, got %s", kind, KindFromError(err))
	}
}

func TestAppointmentFlow(t *testing.T) {
	ts := newTestServer(t, 10)
	ctx := context.Background()

	booked, err := ts.appointments.BookAppointment(ctx, authorized(t, ts, "rita", auth.RoleCustomer, &BookAppointmentRequest{
		ListingID:    "listing-1",
		ScheduledAt:  slot,
		ReferralCode: "xavier01",
	}))
	if err != nil {
		t.Fatalf("book failed: %v", err)
	}
	if booked.Msg.Appointment.StatusCode != model.StatusPending {
		t.Errorf("expected PENDING, got %s", booked.Msg.Appointment.StatusCode)
	}
	id := booked.Msg.AppointmentID

	_, err = ts.appointments.ConfirmAppointment(ctx, authorized(t, ts, "rita", auth.RoleCustomer, &ConfirmAppointmentRequest{AppointmentID: id}))
	expectCode(t, err, connect.CodePermissionDenied, "")

	confirmed, err := ts.appointments.ConfirmAppointment(ctx, authorized(t, ts, "agent-1", auth.RoleAgent, &ConfirmAppointmentRequest{
		AppointmentID: id,
		QRSize:        128,
	}))
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if len(confirmed.Msg.CredentialToken) != 32 {
		t.Errorf("unexpected token %q", confirmed.Msg.CredentialToken)
	}
	if len(confirmed.Msg.QRCodePNG) < 8 || string(confirmed.Msg.QRCodePNG[1:4]) != "PNG" {
		t.Error("expected a PNG rendering of the credential")
	}
	if !confirmed.Msg.CheckInOpensAt.Equal(slot.Add(-2*time.Hour)) || !confirmed.Msg.CheckInClosesAt.Equal(slot.Add(3*time.Hour)) {
		t.Errorf("unexpected check-in window %v to %v", confirmed.Msg.CheckInOpensAt, confirmed.Msg.CheckInClosesAt)
	}

	checkIn := &CheckInRequest{CredentialToken: confirmed.Msg.CredentialToken}
	result, err := ts.appointments.CheckIn(ctx, authorized(t, ts, "agent-1", auth.RoleAgent, checkIn))
	if err != nil {
		t.Fatalf("check-in failed: %v", err)
	}
	if result.Msg.Status != lifecycle.CheckedIn || result.Msg.RewardStatus != reward.OutcomeEligible {
		t.Errorf("unexpected check-in result %+v", result.Msg)
	}
	if result.Msg.VoucherCode == "" {
		t.Error("expected a voucher code")
	}

	_, err = ts.appointments.CheckIn(ctx, authorized(t, ts, "agent-1", auth.RoleAgent, checkIn))
	expectCode(t, err, connect.CodeFailedPrecondition, apperr.State)

	_, err = ts.appointments.CheckIn(ctx, authorized(t, ts, "agent-1", auth.RoleAgent, &CheckInRequest{CredentialToken: "unknown"}))
	expectCode(t, err, connect.CodeNotFound, apperr.NotFound)

	list, err := ts.appointments.ListAppointments(ctx, authorized(t, ts, "rita", auth.RoleCustomer, &ListAppointmentsRequest{}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list.Msg.Appointments) != 1 || list.Msg.Appointments[0].StatusCode != model.StatusCompleted {
		t.Errorf("unexpected appointments %+v", list.Msg.Appointments)
	}

	history, err := ts.referrals.GetReferralHistory(ctx, authorized(t, ts, "xavier", auth.RoleCustomer, &GetReferralHistoryRequest{}))
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history.Msg.Rewards) != 1 || history.Msg.Rewards[0].RefereeID != "rita" {
		t.Errorf("unexpected history %+v", history.Msg.Rewards)
	}
}

func TestAppointmentService_Authorization(t *testing.T) {
	ts := newTestServer(t, 10)
	ctx := context.Background()

	_, err := ts.appointments.BookAppointment(ctx, connect.NewRequest(&BookAppointmentRequest{ListingID: "l", ScheduledAt: slot}))
	expectCode(t, err, connect.CodeUnauthenticated, "")

	_, err = ts.appointments.ListAppointments(ctx, authorized(t, ts, "rita", auth.RoleCustomer, &ListAppointmentsRequest{VisitorID: "xavier"}))
	expectCode(t, err, connect.CodePermissionDenied, "")

	_, err = ts.appointments.ProcessNoShows(ctx, authorized(t, ts, "agent-1", auth.RoleAgent, &ProcessNoShowsRequest{}))
	expectCode(t, err, connect.CodePermissionDenied, "")

	booked, err := ts.appointments.BookAppointment(ctx, authorized(t, ts, "rita", auth.RoleCustomer, &BookAppointmentRequest{ListingID: "l", ScheduledAt: slot}))
	if err != nil {
		t.Fatalf("book failed: %v", err)
	}
	_, err = ts.appointments.CancelAppointment(ctx, authorized(t, ts, "xavier", auth.RoleCustomer, &AppointmentRequest{AppointmentID: booked.Msg.AppointmentID}))
	expectCode(t, err, connect.CodeNotFound, apperr.NotFound)

	cancelled, err := ts.appointments.CancelAppointment(ctx, authorized(t, ts, "rita", auth.RoleCustomer, &AppointmentRequest{AppointmentID: booked.Msg.AppointmentID}))
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Msg.Appointment.StatusCode != model.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Msg.Appointment.StatusCode)
	}

	_, err = ts.appointments.RejectAppointment(ctx, authorized(t, ts, "agent-1", auth.RoleAgent, &AppointmentRequest{AppointmentID: booked.Msg.AppointmentID}))
	expectCode(t, err, connect.CodeFailedPrecondition, apperr.State)
}

func TestAppointmentService_ErrorMapping(t *testing.T) {
	ts := newTestServer(t, 10)
	ctx := context.Background()

	_, err := ts.appointments.BookAppointment(ctx, authorized(t, ts, "rita", auth.RoleCustomer, &BookAppointmentRequest{
		ListingID:    "l",
		ScheduledAt:  slot,
		ReferralCode: "NOPE0000",
	}))
	expectCode(t, err, connect.CodeInvalidArgument, apperr.Validation)

	_, err = ts.appointments.BookAppointment(ctx, authorized(t, ts, "xavier", auth.RoleCustomer, &BookAppointmentRequest{
		ListingID:    "l",
		ScheduledAt:  slot,
		ReferralCode: "XAVIER01",
	}))
	expectCode(t, err, connect.CodePermissionDenied, apperr.SelfReferral)
}

func TestVerifyReferralCode(t *testing.T) {
	ts := newTestServer(t, 3)
	ctx := context.Background()

	verify := func(code, forwardedFor string, req *connect.Request[VerifyReferralCodeRequest]) *VerifyReferralCodeResponse {
		t.Helper()
		if req == nil {
			req = connect.NewRequest(&VerifyReferralCodeRequest{Code: code})
		}
		req.Header().Set("X-Forwarded-For", forwardedFor)
		res, err := ts.referrals.VerifyReferralCode(ctx, req)
		if err != nil {
			t.Fatalf("verify failed: %v", err)
		}
		return res.Msg
	}

	if res := verify("xavier01", "203.0.113.1", nil); !res.Valid || res.ReferrerID != "xavier" {
		t.Errorf("expected valid code, got %+v", res)
	}
	if res := verify("NOPE", "203.0.113.1", nil); res.Valid || res.ErrorKind != string(apperr.Validation) {
		t.Errorf("expected invalid code, got %+v", res)
	}
	self := authorized(t, ts, "xavier", auth.RoleCustomer, &VerifyReferralCodeRequest{Code: "XAVIER01"})
	if res := verify("", "203.0.113.1", self); res.Valid || res.ErrorKind != string(apperr.SelfReferral) {
		t.Errorf("expected self-referral, got %+v", res)
	}
	if res := verify("XAVIER01", "203.0.113.1, 10.0.0.1", nil); res.Valid || res.ErrorKind != string(apperr.RateLimit) {
		t.Errorf("expected rate limit, got %+v", res)
	}
	if res := verify("XAVIER01", "203.0.113.2", nil); !res.Valid {
		t.Errorf("expected other caller to pass, got %+v", res)
	}
}

func TestReferralService_SignupAndStats(t *testing.T) {
	ts := newTestServer(t, 10)
	ctx := context.Background()

	applied, err := ts.referrals.ApplySignupReferral(ctx, authorized(t, ts, "rita", auth.RoleCustomer, &ApplySignupReferralRequest{Code: "XAVIER01"}))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !applied.Msg.Applied {
		t.Errorf("expected referral to be applied")
	}

	_, err = ts.referrals.ApplySignupReferral(ctx, authorized(t, ts, "rita", auth.RoleCustomer, &ApplySignupReferralRequest{Code: "XAVIER01"}))
	expectCode(t, err, connect.CodeInvalidArgument, apperr.Validation)

	stats, err := ts.referrals.GetReferralStats(ctx, authorized(t, ts, "xavier", auth.RoleCustomer, &GetReferralStatsRequest{}))
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Msg.ReferralCode != "XAVIER01" || stats.Msg.ReferralsCount != 1 || stats.Msg.RewardsCount != 0 || stats.Msg.TotalEarned != "0.00" {
		t.Errorf("unexpected stats %+v", stats.Msg)
	}

	ritaStats, err := ts.referrals.GetReferralStats(ctx, authorized(t, ts, "rita", auth.RoleCustomer, &GetReferralStatsRequest{}))
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if len(ritaStats.Msg.ReferralCode) != 8 {
		t.Errorf("expected a generated code, got %q", ritaStats.Msg.ReferralCode)
	}
}

func TestCronHandler(t *testing.T) {
	ts := newTestServer(t, 10)

	get := func(header string) (int, map[string]any) {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, ts.server.URL+CronPath, nil)
		if err != nil {
			t.Fatalf("failed to build request: %v", err)
		}
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		res, err := ts.server.Client().Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer res.Body.Close()
		var body map[string]any
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		return res.StatusCode, body
	}

	if status, _ := get(""); status != http.StatusUnauthorized {
		t.Errorf("expected 401 without secret, got %d", status)
	}
	status, body := get("Bearer cron-secret")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["success"] != true || body["count"] != float64(0) || body["rewards_retried"] != float64(0) {
		t.Errorf("unexpected body %v", body)
	}
}

func TestRateKey(t *testing.T) {
	tests := []struct {
		name      string
		forwarded string
		peer      string
		want      string
	}{
		{name: "first forwarded hop", forwarded: "198.51.100.7, 10.0.0.2", peer: "10.0.0.2:5000", want: "198.51.100.7"},
		{name: "peer host", peer: "192.0.2.10:41234", want: "192.0.2.10"},
		{name: "peer without port", peer: "192.0.2.10", want: "192.0.2.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.forwarded != "" {
				header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := rateKey(header, tt.peer); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestToConnectError_HidesSystemDetail(t *testing.T) {
	err := toConnectError(zerolog.Nop(), CheckInProcedure, apperr.Wrap(apperr.System, errors.New("pq: connection refused"), "failed"))
	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect error, got %T", err)
	}
	if connectErr.Code() != connect.CodeInternal || connectErr.Message() != "internal error" {
		t.Errorf("unexpected error %v", connectErr)
	}
}
