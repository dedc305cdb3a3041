package referral

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/propertygo/viewing/internal/apperr"
	"github.com/propertygo/viewing/internal/database"
	"github.com/propertygo/viewing/internal/model"
	"github.com/propertygo/viewing/internal/ratelimit"
	"github.com/propertygo/viewing/internal/repository"
)

var now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Setup(context.Background(), db.Conn); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}
	return db.Conn
}

func strPtr(s string) *string { return &s }

func createUser(t *testing.T, db *sqlx.DB, id, code, referredBy string) {
	t.Helper()
	u := &model.User{ID: id, Name: strings.ToUpper(id[:1]) + id[1:], CreatedAt: now}
	if code != "" {
		u.ReferralCode = strPtr(code)
	}
	if referredBy != "" {
		u.ReferredByUserID = strPtr(referredBy)
	}
	if err := repository.NewUserRepository().Create(context.Background(), db, u); err != nil {
		t.Fatalf("failed to create user %s: %v", id, err)
	}
}

func newAttributor(db *sqlx.DB, max int) *Attributor {
	return NewAttributor(db, ratelimit.NewFixedWindow(max, time.Minute, clock), zerolog.Nop())
}

func TestGenerateCode(t *testing.T) {
	for _, length := range []int{4, 8, 12} {
		code, err := GenerateCode(length)
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if len(code) != length {
			t.Errorf("expected length %d, got %d", length, len(code))
		}
		for _, c := range code {
			if !strings.ContainsRune(CodeAlphabet, c) {
				t.Errorf("unexpected character %q in %s", c, code)
			}
		}
	}
}

func TestResolveReferrer(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "alice", "ALICE001", "")
	createUser(t, db, "bob", "", "alice")
	createUser(t, db, "carol", "", "")
	createUser(t, db, "dave", "", "dave")

	a := newAttributor(db, 10)
	ctx := context.Background()

	tests := []struct {
		name     string
		referee  string
		explicit *string
		want     string
		wantKind apperr.Kind
	}{
		{name: "explicit wins over account referrer", referee: "bob", explicit: strPtr("carol"), want: "carol"},
		{name: "falls back to account referrer", referee: "bob", want: "alice"},
		{name: "blank explicit falls back", referee: "bob", explicit: strPtr("  "), want: "alice"},
		{name: "unattributed", referee: "carol", want: ""},
		{name: "unknown referee is unattributed", referee: "nobody", want: ""},
		{name: "explicit self-referral", referee: "carol", explicit: strPtr("carol"), wantKind: apperr.SelfReferral},
		{name: "account self-referral", referee: "dave", wantKind: apperr.SelfReferral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.ResolveReferrer(ctx, db, tt.referee, tt.explicit)
			if tt.wantKind != "" {
				if !apperr.Is(err, tt.wantKind) {
					t.Fatalf("expected %s error, got %v", tt.wantKind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected referrer %q, got %q", tt.want, got)
			}
		})
	}
}

func TestVerifyCode(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "alice", "ALICE001", "")
	createUser(t, db, "bob", "", "")

	a := newAttributor(db, 100)
	ctx := context.Background()

	ref, err := a.VerifyCode(ctx, "10.0.0.1", " alice001 ", "bob")
	if err != nil {
		t.Fatalf("expected valid code, got %v", err)
	}
	if ref.ID != "alice" || ref.Name != "Alice" {
		t.Errorf("unexpected referrer %+v", ref)
	}

	if _, err := a.VerifyCode(ctx, "10.0.0.1", "NOPE0000", "bob"); !apperr.Is(err, apperr.Validation) {
		t.Errorf("expected VALIDATION for unknown code, got %v", err)
	}
	if _, err := a.VerifyCode(ctx, "10.0.0.1", "", "bob"); !apperr.Is(err, apperr.Validation) {
		t.Errorf("expected VALIDATION for empty code, got %v", err)
	}
	if _, err := a.VerifyCode(ctx, "10.0.0.1", "ALICE001", "alice"); !apperr.Is(err, apperr.SelfReferral) {
		t.Errorf("expected SELF_REFERRAL, got %v", err)
	}
	if _, err := a.VerifyCode(ctx, "10.0.0.1", "ALICE001", ""); err != nil {
		t.Errorf("expected anonymous caller to verify, got %v", err)
	}
}

func TestVerifyCode_RateLimited(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "alice", "ALICE001", "")

	a := newAttributor(db, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := a.VerifyCode(ctx, "10.0.0.9", "WRONG", "bob"); !apperr.Is(err, apperr.Validation) {
			t.Fatalf("expected VALIDATION within quota, got %v", err)
		}
	}
	if _, err := a.VerifyCode(ctx, "10.0.0.9", "ALICE001", "bob"); !apperr.Is(err, apperr.RateLimit) {
		t.Fatalf("expected RATE_LIMIT once quota is used, got %v", err)
	}
	if _, err := a.VerifyCode(ctx, "10.0.0.10", "ALICE001", "bob"); err != nil {
		t.Fatalf("expected other caller to pass, got %v", err)
	}
}

func newProgram(db *sqlx.DB) *Program {
	return NewProgram(db, ProgramConfig{CodeLength: 8, CodeAttempts: 5, RewardKind: "POINTS"}, clock, zerolog.Nop())
}

func TestEnsureReferralCode(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "alice", "", "")
	createUser(t, db, "bob", "BOB00001", "")
	p := newProgram(db)
	ctx := context.Background()

	code, err := p.EnsureReferralCode(ctx, "alice")
	if err != nil {
		t.Fatalf("failed to ensure code: %v", err)
	}
	if len(code) != 8 {
		t.Errorf("expected 8 character code, got %q", code)
	}
	again, err := p.EnsureReferralCode(ctx, "alice")
	if err != nil || again != code {
		t.Errorf("expected stable code %q, got %q err=%v", code, again, err)
	}

	existing, err := p.EnsureReferralCode(ctx, "bob")
	if err != nil || existing != "BOB00001" {
		t.Errorf("expected existing code to be kept, got %q err=%v", existing, err)
	}

	if _, err := p.EnsureReferralCode(ctx, "nobody"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestAssignedCode(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "alice", "", "")
	createUser(t, db, "bob", "BOB00001", "")
	p := newProgram(db)
	ctx := context.Background()

	if code, err := p.assignedCode(ctx, "bob"); err != nil || code != "BOB00001" {
		t.Errorf("expected BOB00001, got %q err=%v", code, err)
	}

	_, err := p.assignedCode(ctx, "alice")
	if !apperr.Is(err, apperr.System) {
		t.Fatalf("expected SYSTEM for a conflict without a code, got %v", err)
	}
	if strings.Contains(err.Error(), "<nil>") || errors.Unwrap(err) != nil {
		t.Errorf("expected an error without a missing cause, got %q", err.Error())
	}

	if _, err := p.assignedCode(ctx, "nobody"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestApplySignupReferral(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "alice", "ALICE001", "")
	createUser(t, db, "bob", "", "")
	createUser(t, db, "carol", "", "")
	p := newProgram(db)
	ctx := context.Background()

	if err := p.ApplySignupReferral(ctx, "bob", "alice001"); err != nil {
		t.Fatalf("failed to apply referral: %v", err)
	}

	user, err := repository.NewUserRepository().GetUser(ctx, db, "bob")
	if err != nil {
		t.Fatalf("failed to load bob: %v", err)
	}
	if user.ReferredByUserID == nil || *user.ReferredByUserID != "alice" {
		t.Errorf("expected bob to be referred by alice, got %v", user.ReferredByUserID)
	}

	history, err := p.History(ctx, "alice")
	if err != nil {
		t.Fatalf("failed to load history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 reward, got %d", len(history))
	}
	if history[0].TriggerEvent != model.TriggerOnRegistration || history[0].Status != model.RewardPending {
		t.Errorf("unexpected registration reward %+v", history[0])
	}

	if err := p.ApplySignupReferral(ctx, "bob", "ALICE001"); !apperr.Is(err, apperr.Validation) {
		t.Errorf("expected VALIDATION when referrer already set, got %v", err)
	}
	if err := p.ApplySignupReferral(ctx, "alice", "ALICE001"); !apperr.Is(err, apperr.SelfReferral) {
		t.Errorf("expected SELF_REFERRAL, got %v", err)
	}
	if err := p.ApplySignupReferral(ctx, "carol", "MISSING1"); !apperr.Is(err, apperr.Validation) {
		t.Errorf("expected VALIDATION for unknown code, got %v", err)
	}
	if err := p.ApplySignupReferral(ctx, "nobody", "ALICE001"); !apperr.Is(err, apperr.NotFound) {
		t.Errorf("expected NOT_FOUND for unknown user, got %v", err)
	}
}

func TestStats(t *testing.T) {
	db := newTestDB(t)
	createUser(t, db, "alice", "ALICE001", "")
	createUser(t, db, "bob", "", "alice")
	createUser(t, db, "carol", "", "alice")
	ctx := context.Background()

	rewards := repository.NewRewardRepository()
	for i, status := range []string{model.RewardEligible, model.RewardManualReview} {
		_, err := rewards.InsertReward(ctx, db, &model.ReferralReward{
			ReferrerID:   "alice",
			RefereeID:    []string{"bob", "carol"}[i],
			Status:       status,
			TriggerEvent: model.TriggerOnVisit,
			RewardType:   "CASH",
			Amount:       decimal.NewNullDecimal(decimal.RequireFromString([]string{"10.00", "99.00"}[i])),
			CreatedAt:    now,
		})
		if err != nil {
			t.Fatalf("failed to insert reward: %v", err)
		}
	}

	stats, err := newProgram(db).Stats(ctx, "alice")
	if err != nil {
		t.Fatalf("failed to load stats: %v", err)
	}
	if stats.ReferralCode != "ALICE001" || stats.ReferralsCount != 2 || stats.RewardsCount != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	// Rewards held for review do not count towards earnings
	if !stats.TotalEarned.Equal(decimal.RequireFromString("10")) {
		t.Errorf("expected total earned 10.00, got %s", stats.TotalEarned)
	}
}
