package auth

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var issuedAt = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func headerWith(value string) http.Header {
	h := http.Header{}
	if value != "" {
		h.Set("Authorization", value)
	}
	return h
}

func TestAuthenticate(t *testing.T) {
	now := issuedAt
	a := NewAuthenticator("secret", time.Hour, "", func() time.Time { return now })

	token, err := a.IssueToken("agent-7", RoleAgent)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	identity, err := a.Authenticate(headerWith("Bearer " + token))
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if identity.UserID != "agent-7" || identity.Role != RoleAgent {
		t.Errorf("unexpected identity %+v", identity)
	}

	now = issuedAt.Add(2 * time.Hour)
	if _, err := a.Authenticate(headerWith("Bearer " + token)); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected expired token to be rejected, got %v", err)
	}
}

func TestAuthenticate_Rejections(t *testing.T) {
	clock := func() time.Time { return issuedAt }
	a := NewAuthenticator("secret", time.Hour, "", clock)

	forged, err := NewAuthenticator("other-secret", time.Hour, "", clock).IssueToken("u1", RoleAdmin)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "garbage", header: "Bearer not-a-token"},
		{name: "wrong key", header: "Bearer " + forged},
		{name: "unsigned", header: "Bearer " + none},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Authenticate(headerWith(tt.header)); !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("expected ErrUnauthenticated, got %v", err)
			}
		})
	}
}

func TestRequire(t *testing.T) {
	a := NewAuthenticator("secret", time.Hour, "", func() time.Time { return issuedAt })
	token, err := a.IssueToken("u1", "")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	header := headerWith("Bearer " + token)

	identity, err := a.Require(header)
	if err != nil {
		t.Fatalf("expected any role to pass, got %v", err)
	}
	if identity.Role != RoleCustomer {
		t.Errorf("expected missing role to default to customer, got %s", identity.Role)
	}
	if _, err := a.Require(header, RoleAgent, RoleAdmin); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestCronAuthorized(t *testing.T) {
	open := NewAuthenticator("secret", time.Hour, "", nil)
	if !open.CronAuthorized(headerWith("")) {
		t.Error("expected open cron endpoint without a secret")
	}

	locked := NewAuthenticator("secret", time.Hour, "cron-secret", nil)
	if locked.CronAuthorized(headerWith("")) {
		t.Error("expected missing header to be rejected")
	}
	if locked.CronAuthorized(headerWith("Bearer wrong")) {
		t.Error("expected wrong secret to be rejected")
	}
	if !locked.CronAuthorized(headerWith("Bearer cron-secret")) {
		t.Error("expected matching secret to pass")
	}
}
